package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"timetablecal/internal/calendar"
	"timetablecal/internal/config"
	"timetablecal/internal/logger"
	"timetablecal/internal/ocr"
	"timetablecal/internal/server"
	"timetablecal/internal/timetable"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the timetable upload HTTP server",
	Long: `Start the HTTP server that accepts timetable image uploads, extracts
course sections, and creates recurring Google Calendar events.

Endpoints:
  POST /upload                 parse an uploaded timetable image
  POST /events                 create calendar events for parsed sections
  POST /sync                   upload and create events in one request
  GET  /auth/google            start the Google consent flow
  GET  /auth/google/callback   complete the consent flow
  GET  /healthz                health check`,
	Example: `  # Serve on the configured LISTEN_ADDR (default :8000)
  timetablecal serve

  # Serve on a different address
  timetablecal serve --listen :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "Listen address (overrides LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	addr := cfg.ListenAddr
	if flagAddr, _ := cmd.Flags().GetString("listen"); flagAddr != "" {
		addr = flagAddr
	}

	ctx := context.Background()

	ocrSvc, err := ocr.NewService(ctx, cfg.OCREngine, splitLanguages(cfg.OCRLanguages))
	if err != nil {
		return fmt.Errorf("failed to create OCR service: %w", err)
	}

	registry := timetable.NewClient(cfg.TimetableURL, cfg.TermYear)
	var fallback timetable.ModelParser
	if p := timetable.NewOpenAIParser(cfg.OpenAIAPIKey); p != nil {
		fallback = p
		log.Info().Msg("Model-backed fallback parser enabled")
	}
	resolver := timetable.NewResolver(registry, fallback)

	oauthCfg, err := calendar.OAuthConfigFromFile(cfg.OAuthClientFile, cfg.OAuthRedirectURL)
	if err != nil {
		// Uploads still work without calendar access; event creation will
		// report ErrNotAuthorized until credentials are provided.
		log.Warn().
			Err(err).
			Str("file", cfg.OAuthClientFile).
			Msg("Google OAuth client not configured, calendar writes disabled")
		oauthCfg = nil
	}

	newWriter := func(ctx context.Context) (calendar.Writer, error) {
		if oauthCfg == nil {
			return nil, calendar.WrapWriteError("newWriter", calendar.ErrNotAuthorized, "no OAuth client configured")
		}
		ts, err := calendar.NewPersistingTokenSource(ctx, oauthCfg, cfg.OAuthTokenFile)
		if err != nil {
			return nil, err
		}
		return calendar.NewGoogleWriter(ctx, ts, cfg.CalendarID, cfg.Location(), cfg.TermEndDate())
	}

	srv := server.New(ocrSvc, resolver, newWriter, oauthCfg, cfg.OAuthTokenFile)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().
		Str("addr", addr).
		Str("ocr_engine", cfg.OCREngine).
		Str("timezone", cfg.Timezone).
		Str("term_end", cfg.TermEnd).
		Msg("Starting HTTP server")
	return srv.Listen(addr)
}

func splitLanguages(s string) []string {
	parts := strings.Split(s, ",")
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			langs = append(langs, trimmed)
		}
	}
	return langs
}
