package config

import (
	"fmt"
	"os"
	"time"

	"timetablecal/internal/logger"
)

// Config carries all runtime settings, loaded from the environment.
type Config struct {
	// HTTP server
	ListenAddr       string
	OAuthRedirectURL string

	// Semester settings
	Timezone  string
	TermYear  string
	TermStart string
	TermEnd   string

	// Google Calendar
	CalendarID      string
	OAuthClientFile string
	OAuthTokenFile  string

	// OCR
	OCREngine    string
	OCRLanguages string

	// Timetable registry
	TimetableURL string

	// OpenAI (optional fallback parser)
	OpenAIAPIKey string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8000"),
		OAuthRedirectURL: getEnv("OAUTH_REDIRECT_URL", "http://localhost:8000/auth/google/callback"),
		Timezone:         getEnv("TIMEZONE", "America/New_York"),
		TermYear:         getEnv("TERM_YEAR", "202509"),
		TermStart:        getEnv("TERM_START", "2025-08-25"),
		TermEnd:          getEnv("TERM_END", "2025-12-14"),
		CalendarID:       getEnv("CALENDAR_ID", "primary"),
		OAuthClientFile:  getEnv("GOOGLE_OAUTH_CLIENT_FILE", "credentials.json"),
		OAuthTokenFile:   getEnv("GOOGLE_OAUTH_TOKEN_FILE", "token.json"),
		OCREngine:        getEnv("OCR_ENGINE", "tesseract"),
		OCRLanguages:     getEnv("OCR_LANGUAGES", "eng"),
		TimetableURL:     getEnv("TIMETABLE_URL", "https://banweb.banner.vt.edu/ssb/prod/HZSKVTSC.P_ProcRequest"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:    getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:        getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", c.Timezone, err)
	}
	if _, err := time.Parse("2006-01-02", c.TermStart); err != nil {
		return fmt.Errorf("TERM_START must be YYYY-MM-DD: %w", err)
	}
	if _, err := time.Parse("2006-01-02", c.TermEnd); err != nil {
		return fmt.Errorf("TERM_END must be YYYY-MM-DD: %w", err)
	}
	switch c.OCREngine {
	case "tesseract", "vision", "documentai":
	default:
		return fmt.Errorf("OCR_ENGINE must be one of tesseract, vision, documentai (got %q)", c.OCREngine)
	}
	return nil
}

// Location returns the configured display timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TermStartDate returns the parsed term start date in the configured timezone.
func (c *Config) TermStartDate() time.Time {
	t, _ := time.Parse("2006-01-02", c.TermStart)
	loc := c.Location()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// TermEndDate returns the parsed term end date, end of day, in the configured
// timezone. Recurrences run until this instant.
func (c *Config) TermEndDate() time.Time {
	t, _ := time.Parse("2006-01-02", c.TermEnd)
	loc := c.Location()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc)
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
