package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"timetablecal/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "timetablecal",
	Short: "timetablecal - turn a timetable image into Google Calendar events",
	Long: `timetablecal reads an image of a university course timetable, extracts
the schedule text with OCR, resolves the course sections it finds, and
creates weekly-recurring events in a Google Calendar for the semester.

Run "timetablecal serve" for the HTTP upload service, or use the scan and
sync commands to process local image files directly.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("timetablecal executed")

		fmt.Println("Welcome to timetablecal!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
