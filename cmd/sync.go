package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"timetablecal/internal/calendar"
	"timetablecal/internal/config"
	"timetablecal/internal/logger"
	"timetablecal/internal/timetable"
)

var syncCmd = &cobra.Command{
	Use:   "sync [image-file]",
	Short: "Scan a timetable image and create the calendar events",
	Long: `Run the full pipeline on a local image: OCR, section resolution, and
creation of one weekly-recurring Google Calendar event per section.

Requires a stored Google authorization. Run the server's /auth/google flow
once to obtain it; the token is refreshed automatically afterwards.`,
	Example: `  # Scan and schedule in one step
  timetablecal sync timetable.png

  # Write to a specific calendar
  CALENDAR_ID=abc123@group.calendar.google.com timetablecal sync timetable.png`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	syncCmd.Flags().Bool("dry-run", false, "Parse and print sections without writing any events")
}

func runSync(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sync")

	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Bool("dry_run", dryRun).
		Msg("Starting timetable sync")

	if err := validateImageFile(imagePath, log); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	sections, _, err := scanImage(ctx, cfg, imagePath, log)
	if err != nil {
		return err
	}

	deduped := timetable.Dedupe(sections)
	log.Info().
		Int("sections", len(deduped)).
		Msg("Sections resolved")

	if dryRun {
		for _, s := range deduped {
			fmt.Printf("%s  %s-%s  %s\n", s.Title(), s.Begin, s.End, s.Location)
		}
		fmt.Printf("Dry run: %d events would be created.\n", len(deduped))
		return nil
	}

	oauthCfg, err := calendar.OAuthConfigFromFile(cfg.OAuthClientFile, cfg.OAuthRedirectURL)
	if err != nil {
		return fmt.Errorf("Google OAuth client not configured (%s): %w", cfg.OAuthClientFile, err)
	}

	ts, err := calendar.NewPersistingTokenSource(ctx, oauthCfg, cfg.OAuthTokenFile)
	if err != nil {
		return fmt.Errorf("not authorized; complete the /auth/google flow first: %w", err)
	}

	writer, err := calendar.NewGoogleWriter(ctx, ts, cfg.CalendarID, cfg.Location(), cfg.TermEndDate())
	if err != nil {
		return fmt.Errorf("failed to create calendar client: %w", err)
	}

	created, err := writer.CreateEvents(ctx, deduped)
	if err != nil {
		return fmt.Errorf("calendar write failed after %d events: %w", created, err)
	}

	fmt.Printf("Created %d recurring events in calendar %s.\n", created, cfg.CalendarID)
	return nil
}
