package timetable

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"timetablecal/internal/logger"
)

var crnPattern = regexp.MustCompile(`\b(\d{5})\b`)

// ExtractCRNs pulls five-digit CRNs out of OCR text, de-duplicated in order
// of first appearance.
func ExtractCRNs(text string) []string {
	matches := crnPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	crns := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			crns = append(crns, m)
		}
	}
	return crns
}

// ParseDays converts a registry day string like "MWF" or "TR" into weekdays.
// "ARR" (and "TBA") mark arranged sections.
func ParseDays(s string) (days []time.Weekday, arranged bool, err error) {
	const op = "ParseDays"

	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if cleaned == "" {
		return nil, false, WrapParseError(op, ErrNoSections, "empty day string")
	}
	if strings.Contains(cleaned, "ARR") || strings.Contains(cleaned, "TBA") {
		return nil, true, nil
	}

	seen := make(map[time.Weekday]bool)
	for i := 0; i < len(cleaned); i++ {
		day, ok := dayCodes[cleaned[i]]
		if !ok {
			return nil, false, WrapParseError(op, ErrNoSections, "unknown day code "+string(cleaned[i]))
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days, false, nil
}

// clockFormats are the time layouts the registry and OCR text produce.
var clockFormats = []string{"3:04PM", "15:04"}

// ParseClock parses strings like "9:05AM", "9:05 AM" or "14:30".
func ParseClock(s string) (Clock, error) {
	const op = "ParseClock"

	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, format := range clockFormats {
		if t, err := time.Parse(format, cleaned); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return Clock{}, WrapParseError(op, ErrNoSections, "unparseable time "+s)
}

// Lookup resolves a single CRN into a Section.
type Lookup interface {
	LookupCRN(ctx context.Context, crn string) (*Section, error)
}

// ModelParser extracts sections from free-form timetable text. Implemented
// by the OpenAI-backed parser; nil disables the fallback.
type ModelParser interface {
	ParseTimetable(ctx context.Context, text string) ([]Section, error)
}

// Resolver turns raw OCR text into sections: CRN extraction and registry
// lookup first, model-backed fallback second.
type Resolver struct {
	lookup   Lookup
	fallback ModelParser
	log      zerolog.Logger
}

// NewResolver wires the registry lookup and an optional fallback parser.
func NewResolver(lookup Lookup, fallback ModelParser) *Resolver {
	return &Resolver{
		lookup:   lookup,
		fallback: fallback,
		log:      logger.WithComponent("timetable"),
	}
}

// Parse resolves all sections present in the OCR text. CRNs the registry
// does not know are skipped; the overall parse fails only when nothing
// resolves at all, so garbage input never yields partial garbage sections.
func (r *Resolver) Parse(ctx context.Context, text string) ([]Section, error) {
	const op = "Parse"

	crns := ExtractCRNs(text)
	r.log.Debug().
		Int("crn_count", len(crns)).
		Int("text_length", len(text)).
		Msg("Extracted CRNs from OCR text")

	sections := make([]Section, 0, len(crns))
	for _, crn := range crns {
		select {
		case <-ctx.Done():
			return nil, WrapParseError(op, ctx.Err(), "")
		default:
		}

		section, err := r.lookup.LookupCRN(ctx, crn)
		if err != nil {
			r.log.Warn().
				Err(err).
				Str("crn", crn).
				Msg("CRN lookup failed, skipping")
			continue
		}
		sections = append(sections, *section)
	}

	if len(sections) == 0 && r.fallback != nil {
		r.log.Info().Msg("No CRNs resolved, trying model-backed parser")
		fallbackSections, err := r.fallback.ParseTimetable(ctx, text)
		if err != nil {
			r.log.Warn().Err(err).Msg("Model-backed parsing failed")
		} else {
			sections = fallbackSections
		}
	}

	if len(sections) == 0 {
		return nil, WrapParseError(op, ErrNoSections, "")
	}

	r.log.Info().
		Int("sections", len(sections)).
		Msg("Timetable parsing completed")
	return sections, nil
}
