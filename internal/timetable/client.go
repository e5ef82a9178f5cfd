package timetable

import (
	"context"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"timetablecal/internal/logger"
)

// Row layout of the registry's section table.
const (
	colCRN = iota
	colCourse
	colTitle
	colType
	colModality
	colCredits
	colCapacity
	colInstructor
	colDays
	colBegin
	colEnd
	colLocation
	minColumns = colLocation + 1
)

// Client looks up CRNs against the university timetable service. Each lookup
// is one form POST whose response contains the section table.
type Client struct {
	baseURL  string
	termYear string
	log      zerolog.Logger
}

// NewClient creates a registry client for the given term.
func NewClient(baseURL, termYear string) *Client {
	return &Client{
		baseURL:  baseURL,
		termYear: termYear,
		log:      logger.WithComponent("timetable-registry"),
	}
}

// LookupCRN fetches the section row for a CRN. Returns ErrSectionNotFound
// when the registry page has no matching row.
func (c *Client) LookupCRN(ctx context.Context, crn string) (*Section, error) {
	const op = "LookupCRN"

	select {
	case <-ctx.Done():
		return nil, WrapParseError(op, ctx.Err(), "")
	default:
	}

	collector := colly.NewCollector()

	var section *Section
	var rowErr error
	collector.OnHTML("table.dataentrytable tr", func(e *colly.HTMLElement) {
		if section != nil {
			return
		}
		cells := e.ChildTexts("td")
		if len(cells) < minColumns || strings.TrimSpace(cells[colCRN]) != crn {
			return
		}
		s, err := c.sectionFromRow(cells, crn)
		if err != nil {
			rowErr = err
			return
		}
		section = s
	})

	var requestErr error
	collector.OnError(func(_ *colly.Response, err error) {
		requestErr = err
	})

	if err := collector.Post(c.baseURL, c.formData(crn)); err != nil {
		return nil, WrapParseError(op, ErrRegistryUnavailable, err.Error())
	}
	collector.Wait()

	if requestErr != nil {
		return nil, WrapParseError(op, ErrRegistryUnavailable, requestErr.Error())
	}
	if rowErr != nil {
		return nil, rowErr
	}
	if section == nil {
		return nil, WrapParseError(op, ErrSectionNotFound, "crn "+crn)
	}

	c.log.Debug().
		Str("crn", crn).
		Str("code", section.Code).
		Msg("Resolved section from registry")
	return section, nil
}

// formData is the section-search form the registry expects.
func (c *Client) formData(crn string) map[string]string {
	return map[string]string{
		"CAMPUS":      "0",
		"TERMYEAR":    c.termYear,
		"CORE_CODE":   "AR%",
		"subj_code":   "%",
		"SCHDTYPE":    "%",
		"CRSE_NUMBER": "",
		"crn":         crn,
		"open_only":   "",
		"sess_code":   "%",
		"BTN_PRESSED": "FIND class sections",
	}
}

func (c *Client) sectionFromRow(cells []string, crn string) (*Section, error) {
	const op = "sectionFromRow"

	section := &Section{
		CRN:      crn,
		Code:     strings.TrimSpace(cells[colCourse]),
		Name:     strings.TrimSpace(cells[colTitle]),
		Location: strings.TrimSpace(cells[colLocation]),
		TermYear: c.termYear,
	}

	days, arranged, err := ParseDays(cells[colDays])
	if err != nil {
		return nil, WrapParseError(op, err, "crn "+crn)
	}
	if arranged {
		section.DaysArranged = true
		return section, nil
	}
	section.Days = days

	if section.Begin, err = ParseClock(cells[colBegin]); err != nil {
		return nil, WrapParseError(op, err, "crn "+crn)
	}
	if section.End, err = ParseClock(cells[colEnd]); err != nil {
		return nil, WrapParseError(op, err, "crn "+crn)
	}
	return section, nil
}
