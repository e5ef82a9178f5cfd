package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"timetablecal/internal/logger"
	"timetablecal/internal/timetable"
)

// Writer creates recurring calendar events for parsed sections.
type Writer interface {
	// CreateEvents inserts one recurring event per section, in order.
	// It returns the number of events created; on the first API failure the
	// count covers the events created before it. Arranged sections are
	// skipped, not failed.
	CreateEvents(ctx context.Context, sections []timetable.Section) (int, error)
}

// GoogleWriter implements Writer against the Google Calendar API.
type GoogleWriter struct {
	svc        *calendarapi.Service
	calendarID string
	opts       EventOptions
	log        zerolog.Logger
}

// NewGoogleWriter builds the API client from an OAuth token source.
func NewGoogleWriter(ctx context.Context, ts oauth2.TokenSource, calendarID string, loc *time.Location, termEnd time.Time) (*GoogleWriter, error) {
	svc, err := calendarapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, WrapWriteError("NewGoogleWriter", err, "creating calendar service")
	}
	return &GoogleWriter{
		svc:        svc,
		calendarID: calendarID,
		opts:       EventOptions{Location: loc, TermEnd: termEnd},
		log:        logger.WithComponent("calendar"),
	}, nil
}

// CreateEvents inserts one weekly-recurring event per section.
func (w *GoogleWriter) CreateEvents(ctx context.Context, sections []timetable.Section) (int, error) {
	const op = "CreateEvents"

	created := 0
	for _, section := range sections {
		if section.DaysArranged {
			w.log.Info().
				Str("crn", section.CRN).
				Str("code", section.Code).
				Msg("Skipping section with arranged meeting times")
			continue
		}

		event, err := BuildEvent(section, w.opts)
		if err != nil {
			return created, err
		}

		inserted, err := w.svc.Events.Insert(w.calendarID, event).Context(ctx).Do()
		if err != nil {
			return created, WrapWriteError(op, ErrWriteFailed,
				fmt.Sprintf("inserting event for %s: %v", section.Title(), err))
		}

		created++
		w.log.Info().
			Str("event_id", inserted.Id).
			Str("summary", event.Summary).
			Strs("recurrence", event.Recurrence).
			Msg("Created recurring event")
	}

	w.log.Info().
		Int("created", created).
		Int("requested", len(sections)).
		Msg("Calendar write completed")
	return created, nil
}
