// Package calendar writes parsed timetable sections into Google Calendar as
// weekly-recurring events bounded to the semester.
package calendar

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"
	calendarapi "google.golang.org/api/calendar/v3"

	"timetablecal/internal/timetable"
)

// reminderMinutes is the popup reminder attached to every class event.
const reminderMinutes = 15

// EventOptions fixes the semester window and display timezone for event
// construction.
type EventOptions struct {
	// Location is the timezone class times are interpreted in.
	Location *time.Location

	// TermEnd bounds the weekly recurrence (inclusive, end of day).
	TermEnd time.Time

	// Now anchors the first occurrence; zero means time.Now().
	Now time.Time
}

// rruleWeekdays maps time.Weekday onto RRULE BYDAY values.
var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// BuildEvent derives the single recurring calendar event for a section:
// first occurrence on the next upcoming meeting day, weekly recurrence on
// all meeting days until the end of the term.
func BuildEvent(section timetable.Section, opts EventOptions) (*calendarapi.Event, error) {
	const op = "BuildEvent"

	if section.DaysArranged || len(section.Days) == 0 {
		return nil, WrapWriteError(op, ErrArrangedSection, section.CRN)
	}
	if !section.Begin.Before(section.End) {
		return nil, WrapWriteError(op, ErrInvalidSection, "end time is not after begin time")
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(loc)

	firstDay := nextMeetingDate(now, section.Days)
	start := time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(),
		section.Begin.Hour, section.Begin.Minute, 0, 0, loc)
	end := time.Date(firstDay.Year(), firstDay.Month(), firstDay.Day(),
		section.End.Hour, section.End.Minute, 0, 0, loc)

	rule, err := weeklyRule(section.Days, opts.TermEnd)
	if err != nil {
		return nil, WrapWriteError(op, err, "building recurrence rule")
	}

	return &calendarapi.Event{
		Summary:  section.Title(),
		Location: section.Location,
		Start: &calendarapi.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		End: &calendarapi.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		Recurrence: []string{rule},
		Reminders: &calendarapi.EventReminders{
			UseDefault: false,
			Overrides: []*calendarapi.EventReminder{
				{Method: "popup", Minutes: reminderMinutes},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}, nil
}

// nextMeetingDate returns today or the nearest future date falling on one of
// the meeting days.
func nextMeetingDate(now time.Time, days []time.Weekday) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	best := 7
	for _, day := range days {
		ahead := (int(day) - int(today.Weekday()) + 7) % 7
		if ahead < best {
			best = ahead
		}
	}
	return today.AddDate(0, 0, best)
}

// weeklyRule renders the RRULE line: weekly on the meeting days, until the
// term end instant in UTC.
func weeklyRule(days []time.Weekday, termEnd time.Time) (string, error) {
	byDay := make([]rrule.Weekday, 0, len(days))
	for _, day := range days {
		byDay = append(byDay, rruleWeekdays[day])
	}
	// Stable BYDAY order regardless of input order.
	sort.Slice(byDay, func(i, j int) bool { return byDay[i].Day() < byDay[j].Day() })

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: byDay,
		Until:     termEnd.UTC(),
	})
	if err != nil {
		return "", err
	}
	return "RRULE:" + rule.String(), nil
}
