package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"timetablecal/internal/config"
	"timetablecal/internal/logger"
	"timetablecal/internal/ocr"
	"timetablecal/internal/timetable"
)

var scanCmd = &cobra.Command{
	Use:   "scan [image-file]",
	Short: "Extract course sections from a timetable image",
	Long: `Run OCR on a timetable image and resolve the course sections it
contains, without touching any calendar.

The OCR engine is selected with OCR_ENGINE (tesseract, vision, documentai).
The local tesseract engine is the default and requires the Tesseract
library and trained data on the host; the cloud engines need Google Cloud
credentials in the environment.`,
	Example: `  # Print sections from a screenshot
  timetablecal scan timetable.png

  # Output as JSON
  timetablecal scan timetable.png --json

  # Include the raw OCR text
  timetablecal scan timetable.png --raw`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("json", false, "Output sections as JSON")
	scanCmd.Flags().Bool("raw", false, "Also print the raw OCR text")
	scanCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")

	jsonOutput, _ := cmd.Flags().GetBool("json")
	rawOutput, _ := cmd.Flags().GetBool("raw")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Bool("json", jsonOutput).
		Int("timeout", timeoutSecs).
		Msg("Starting timetable scan")

	if err := validateImageFile(imagePath, log); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	sections, text, err := scanImage(ctx, cfg, imagePath, log)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(sections, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if rawOutput {
		fmt.Println("=== OCR text ===")
		fmt.Println(text)
		fmt.Println("=== Sections ===")
	}
	for _, s := range sections {
		days := "ARR"
		if !s.DaysArranged {
			days = ""
			for _, d := range s.Days {
				days += timetable.DayCode(d)
			}
		}
		fmt.Printf("%-6s %-10s %-35s %-5s %s-%s  %s\n",
			s.CRN, s.Code, s.Name, days, s.Begin, s.End, s.Location)
	}
	return nil
}

// scanImage runs OCR + parsing for the CLI commands.
func scanImage(ctx context.Context, cfg *config.Config, imagePath string, log zerolog.Logger) ([]timetable.Section, string, error) {
	ocrSvc, err := ocr.NewService(ctx, cfg.OCREngine, splitLanguages(cfg.OCRLanguages))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create OCR service: %w", err)
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close image file")
		}
	}()

	startTime := time.Now()
	result, err := ocrSvc.ProcessImageWithMetadata(ctx, file)
	if err != nil {
		return nil, "", handleOCRError(err, log)
	}

	log.Info().
		Str("engine", result.Engine).
		Float32("confidence", result.Confidence).
		Dur("duration", time.Since(startTime)).
		Int("text_length", len(result.Text)).
		Msg("OCR completed")

	registry := timetable.NewClient(cfg.TimetableURL, cfg.TermYear)
	var fallback timetable.ModelParser
	if p := timetable.NewOpenAIParser(cfg.OpenAIAPIKey); p != nil {
		fallback = p
	}

	sections, err := timetable.NewResolver(registry, fallback).Parse(ctx, result.Text)
	if err != nil {
		log.Error().Err(err).Msg("Timetable parsing failed")
		return nil, result.Text, fmt.Errorf("no course sections found; raw OCR text:\n%s", result.Text)
	}
	return sections, result.Text, nil
}

// validateImageFile checks the file exists, is regular and non-empty, and
// does not exceed the OCR size limit.
func validateImageFile(imagePath string, log zerolog.Logger) error {
	fileInfo, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", imagePath).
				Msg("Image file not found")
			return fmt.Errorf("image file not found: %s", imagePath)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied accessing image file: %s", imagePath)
		}
		return fmt.Errorf("error accessing image file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		return fmt.Errorf("path is not a regular file: %s", imagePath)
	}
	if fileInfo.Size() == 0 {
		return fmt.Errorf("image file is empty: %s", imagePath)
	}
	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		log.Error().
			Str("file", imagePath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxImageSizeBytes).
			Msg("Image file exceeds maximum size limit")
		return fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (10MB)",
			fileInfo.Size(), int64(ocr.MaxImageSizeBytes))
	}
	return nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout or a smaller image")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large (maximum 10MB). Try scaling it down")
	case errors.Is(err, ocr.ErrUnsupportedImage):
		return fmt.Errorf("unsupported or corrupted image. PNG, JPEG and TIFF are accepted")
	case errors.Is(err, ocr.ErrEmptyText):
		return fmt.Errorf("no readable text found in the image. Try a clearer screenshot")
	case errors.Is(err, ocr.ErrEngineUnavailable):
		return fmt.Errorf("OCR engine unavailable. For the tesseract engine, install the Tesseract library and trained data")
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS, or use OCR_ENGINE=tesseract")
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}
