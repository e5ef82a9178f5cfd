// Package timetable turns OCR text from a timetable image into structured
// course sections. The primary path extracts CRNs (five-digit course request
// numbers) and resolves them against the university timetable service; when
// no CRNs are present an optional model-backed parser reads the raw text.
package timetable

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day without a date.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// String renders the clock in 24-hour HH:MM form.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Before reports whether c is earlier in the day than other.
func (c Clock) Before(other Clock) bool {
	if c.Hour != other.Hour {
		return c.Hour < other.Hour
	}
	return c.Minute < other.Minute
}

// Section is one class-meeting record resolved from timetable text.
// A section maps to exactly one recurring calendar event.
type Section struct {
	// CRN is the five-digit course request number identifying the section.
	CRN string `json:"crn"`

	// Code is the course code, e.g. "CS-2114".
	Code string `json:"code"`

	// Name is the course title, e.g. "Softw Des & Data Structures".
	Name string `json:"name"`

	// Days are the weekdays the section meets. Empty when DaysArranged.
	Days []time.Weekday `json:"days"`

	// DaysArranged marks sections whose meeting times are arranged with the
	// instructor ("ARR" in the registry). No recurrence can be derived.
	DaysArranged bool `json:"days_arranged"`

	Begin    Clock  `json:"begin"`
	End      Clock  `json:"end"`
	Location string `json:"location"`

	// TermYear is the registry term identifier, e.g. "202509".
	TermYear string `json:"term_year"`
}

// Title is the event summary for the section.
func (s Section) Title() string {
	if s.Name == "" {
		return s.Code
	}
	return s.Code + " " + s.Name
}

// dayCodes maps registry single-letter day codes to weekdays.
var dayCodes = map[byte]time.Weekday{
	'M': time.Monday,
	'T': time.Tuesday,
	'W': time.Wednesday,
	'R': time.Thursday,
	'F': time.Friday,
	'S': time.Saturday,
	'U': time.Sunday,
}

// DayCode returns the registry letter for a weekday.
func DayCode(d time.Weekday) string {
	for code, day := range dayCodes {
		if day == d {
			return string(code)
		}
	}
	return "?"
}

// dedupeKey identifies a section by what ends up on the calendar.
func (s Section) dedupeKey() string {
	days := make([]byte, 0, len(s.Days))
	for _, d := range s.Days {
		days = append(days, DayCode(d)[0])
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", s.Title(), string(days), s.Begin, s.End, s.Location)
}

// Dedupe collapses sections that would produce identical calendar events,
// preserving first-seen order. Sections from repeated CRN rows or duplicate
// model output are merged; re-submissions across requests are not tracked.
func Dedupe(sections []Section) []Section {
	seen := make(map[string]bool, len(sections))
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		key := s.dedupeKey()
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}
