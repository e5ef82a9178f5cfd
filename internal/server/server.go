// Package server exposes the HTTP surface: timetable image upload, event
// creation, the Google consent flow, and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"timetablecal/internal/calendar"
	"timetablecal/internal/logger"
	"timetablecal/internal/ocr"
	"timetablecal/internal/timetable"
)

// SectionParser resolves OCR text into sections.
type SectionParser interface {
	Parse(ctx context.Context, text string) ([]timetable.Section, error)
}

// WriterFactory builds a calendar writer per request, so the consent flow
// can run after the server has started.
type WriterFactory func(ctx context.Context) (calendar.Writer, error)

// Server wires the pipeline behind fiber routes.
type Server struct {
	app       *fiber.App
	ocr       ocr.Service
	parser    SectionParser
	newWriter WriterFactory
	oauthCfg  *oauth2.Config
	tokenFile string
	log       zerolog.Logger
}

// New assembles the routes. oauthCfg may be nil when the consent flow is
// handled out of band (e.g. in tests).
func New(ocrSvc ocr.Service, parser SectionParser, newWriter WriterFactory, oauthCfg *oauth2.Config, tokenFile string) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			BodyLimit:             ocr.MaxImageSizeBytes + 1024*1024,
			DisableStartupMessage: true,
		}),
		ocr:       ocrSvc,
		parser:    parser,
		newWriter: newWriter,
		oauthCfg:  oauthCfg,
		tokenFile: tokenFile,
		log:       logger.WithComponent("server"),
	}

	s.app.Use(s.requestID)

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/auth/google", s.handleGoogleLogin)
	s.app.Get("/auth/google/callback", s.handleGoogleCallback)
	s.app.Post("/upload", s.handleUpload)
	s.app.Post("/events", s.handleCreateEvents)
	s.app.Post("/sync", s.handleSync)

	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("HTTP server listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) requestID(c *fiber.Ctx) error {
	id := uuid.NewString()
	c.Locals("request_id", id)
	c.Set("X-Request-Id", id)
	return c.Next()
}

func (s *Server) requestLog(c *fiber.Ctx) zerolog.Logger {
	id, _ := c.Locals("request_id").(string)
	return logger.WithRequestID(id)
}

type errorResponse struct {
	Error   string `json:"error"`
	RawText string `json:"raw_text,omitempty"`
}

type uploadResponse struct {
	Sections []timetable.Section `json:"sections"`
}

type eventsRequest struct {
	Sections []timetable.Section `json:"sections"`
}

type eventsResponse struct {
	EventsCreated int    `json:"events_created"`
	Message       string `json:"message"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleGoogleLogin starts the consent flow.
func (s *Server) handleGoogleLogin(c *fiber.Ctx) error {
	if s.oauthCfg == nil {
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(errorResponse{Error: "OAuth is not configured"})
	}
	url := s.oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return c.Redirect(url)
}

// handleGoogleCallback exchanges the consent code and persists the token.
func (s *Server) handleGoogleCallback(c *fiber.Ctx) error {
	log := s.requestLog(c)

	if s.oauthCfg == nil {
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(errorResponse{Error: "OAuth is not configured"})
	}

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(errorResponse{Error: "no code in query parameters"})
	}

	token, err := s.oauthCfg.Exchange(c.UserContext(), code)
	if err != nil {
		log.Error().Err(err).Msg("Failed to exchange OAuth code")
		return c.Status(fiber.StatusBadGateway).
			JSON(errorResponse{Error: "failed to exchange authorization code"})
	}

	if err := calendar.SaveToken(s.tokenFile, token); err != nil {
		log.Error().Err(err).Msg("Failed to persist OAuth token")
		return c.Status(fiber.StatusInternalServerError).
			JSON(errorResponse{Error: "failed to store authorization"})
	}

	log.Info().Msg("Google Calendar authorization stored")
	return c.JSON(fiber.Map{"status": "authorized"})
}

// handleUpload runs OCR and parsing and returns the sections found.
func (s *Server) handleUpload(c *fiber.Ctx) error {
	sections, status, errResp := s.parseUpload(c)
	if errResp != nil {
		return c.Status(status).JSON(*errResp)
	}
	return c.JSON(uploadResponse{Sections: sections})
}

// handleCreateEvents writes previously parsed sections to the calendar.
func (s *Server) handleCreateEvents(c *fiber.Ctx) error {
	log := s.requestLog(c)

	var req eventsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorResponse{Error: "request body is not a valid section list"})
	}
	if len(req.Sections) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorResponse{Error: "no sections to schedule"})
	}

	return s.writeSections(c, log, req.Sections)
}

// handleSync runs the whole pipeline in one request.
func (s *Server) handleSync(c *fiber.Ctx) error {
	log := s.requestLog(c)

	sections, status, errResp := s.parseUpload(c)
	if errResp != nil {
		return c.Status(status).JSON(*errResp)
	}
	return s.writeSections(c, log, sections)
}

// parseUpload handles the multipart image and returns parsed sections, or an
// error response with its HTTP status.
func (s *Server) parseUpload(c *fiber.Ctx) ([]timetable.Section, int, *errorResponse) {
	log := s.requestLog(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, fiber.StatusUnprocessableEntity,
			&errorResponse{Error: "multipart field \"file\" is required"}
	}
	if !strings.HasPrefix(fileHeader.Header.Get("Content-Type"), "image/") {
		return nil, fiber.StatusUnprocessableEntity,
			&errorResponse{Error: "file provided is not an image"}
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded file")
		return nil, fiber.StatusInternalServerError,
			&errorResponse{Error: "failed to read uploaded file"}
	}
	defer file.Close()

	text, err := s.ocr.ProcessImage(c.UserContext(), file)
	if err != nil {
		log.Error().Err(err).Msg("OCR failed")
		return nil, ocrStatus(err), &errorResponse{Error: err.Error()}
	}

	sections, err := s.parser.Parse(c.UserContext(), text)
	if err != nil {
		log.Warn().Err(err).Msg("Timetable parsing failed")
		// Hand the raw text back so the caller can see what OCR produced.
		return nil, fiber.StatusUnprocessableEntity, &errorResponse{
			Error:   "could not parse any course sections; try a clearer image",
			RawText: text,
		}
	}

	log.Info().Int("sections", len(sections)).Msg("Upload parsed")
	return sections, 0, nil
}

func (s *Server) writeSections(c *fiber.Ctx, log zerolog.Logger, sections []timetable.Section) error {
	deduped := timetable.Dedupe(sections)
	if len(deduped) < len(sections) {
		log.Info().
			Int("before", len(sections)).
			Int("after", len(deduped)).
			Msg("Collapsed duplicate sections in batch")
	}

	writer, err := s.newWriter(c.UserContext())
	if err != nil {
		log.Error().Err(err).Msg("Calendar writer unavailable")
		return c.Status(calendarStatus(err)).JSON(errorResponse{Error: err.Error()})
	}

	created, err := writer.CreateEvents(c.UserContext(), deduped)
	if err != nil {
		log.Error().Err(err).Int("created", created).Msg("Calendar write failed")
		return c.Status(calendarStatus(err)).JSON(errorResponse{Error: err.Error()})
	}

	return c.JSON(eventsResponse{
		EventsCreated: created,
		Message:       messageFor(created),
	})
}

func messageFor(created int) string {
	if created == 1 {
		return "Created 1 recurring event in Google Calendar."
	}
	return fmt.Sprintf("Created %d recurring events in Google Calendar.", created)
}

// ocrStatus maps OCR failures onto HTTP statuses: caller errors are 422,
// a missing engine is 503, everything else 500.
func ocrStatus(err error) int {
	switch {
	case errors.Is(err, ocr.ErrImageTooLarge),
		errors.Is(err, ocr.ErrUnsupportedImage),
		errors.Is(err, ocr.ErrEmptyText):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ocr.ErrEngineUnavailable),
		errors.Is(err, ocr.ErrMissingCredentials):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func calendarStatus(err error) int {
	switch {
	case errors.Is(err, calendar.ErrNotAuthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, calendar.ErrArrangedSection),
		errors.Is(err, calendar.ErrInvalidSection):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusBadGateway
	}
}
