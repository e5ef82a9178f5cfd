package timetable

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"timetablecal/internal/logger"
)

// OpenAIParser extracts sections from free-form timetable text with a chat
// completion. Used as a fallback when the text carries no resolvable CRNs,
// e.g. timetables exported without registration numbers.
type OpenAIParser struct {
	client *openai.Client
	log    zerolog.Logger
}

// NewOpenAIParser creates the fallback parser. Returns nil when no API key
// is configured, which disables the fallback.
func NewOpenAIParser(apiKey string) *OpenAIParser {
	if apiKey == "" {
		return nil
	}
	return &OpenAIParser{
		client: openai.NewClient(apiKey),
		log:    logger.WithComponent("timetable-openai"),
	}
}

// llmSection is the JSON shape the model is asked to produce.
type llmSection struct {
	CourseCode string `json:"course_code"`
	Name       string `json:"name"`
	CRN        string `json:"crn"`
	Days       string `json:"days"`
	Begin      string `json:"begin"`
	End        string `json:"end"`
	Location   string `json:"location"`
}

// ParseTimetable asks the model for a JSON rendering of the schedule and
// converts it through the same day/clock parsing as the registry path.
func (p *OpenAIParser) ParseTimetable(ctx context.Context, text string) ([]Section, error) {
	const op = "ParseTimetable"

	prompt := fmt.Sprintf(`The following text was extracted from a university course timetable image with OCR.
Extract every class meeting as a JSON array. Use this exact shape per entry:

[
  {
    "course_code": "CS-2114",
    "name": "Softw Des & Data Structures",
    "crn": "83488",
    "days": "MWF",
    "begin": "9:05AM",
    "end": "9:55AM",
    "location": "MCB 113"
  }
]

Day letters: M=Monday, T=Tuesday, W=Wednesday, R=Thursday, F=Friday, S=Saturday, U=Sunday.
Use "ARR" for days when the meeting time is arranged. Leave unknown fields empty.
Answer with the JSON array only, no prose.

OCR TEXT:
%s`, text)

	p.log.Debug().
		Int("text_length", len(text)).
		Msg("Sending timetable extraction request to OpenAI")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, WrapParseError(op, err, "OpenAI request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, WrapParseError(op, ErrNoSections, "no response choices from OpenAI")
	}

	cleaned := stripMarkdownFences(resp.Choices[0].Message.Content)

	var rows []llmSection
	if err := json.Unmarshal([]byte(cleaned), &rows); err != nil {
		p.log.Warn().
			Err(err).
			Str("response", cleaned).
			Msg("Failed to parse OpenAI response as JSON")
		return nil, WrapParseError(op, ErrNoSections, "model response was not valid JSON")
	}

	sections := make([]Section, 0, len(rows))
	for _, row := range rows {
		section, err := p.convertRow(row)
		if err != nil {
			p.log.Warn().
				Err(err).
				Str("course_code", row.CourseCode).
				Msg("Skipping unparseable model row")
			continue
		}
		sections = append(sections, *section)
	}

	if len(sections) == 0 {
		return nil, WrapParseError(op, ErrNoSections, "")
	}

	p.log.Info().
		Int("sections", len(sections)).
		Msg("Model-backed timetable parsing completed")
	return sections, nil
}

func (p *OpenAIParser) convertRow(row llmSection) (*Section, error) {
	const op = "convertRow"

	if row.CourseCode == "" {
		return nil, WrapParseError(op, ErrNoSections, "row without course code")
	}

	section := &Section{
		CRN:      row.CRN,
		Code:     strings.TrimSpace(row.CourseCode),
		Name:     strings.TrimSpace(row.Name),
		Location: strings.TrimSpace(row.Location),
	}

	days, arranged, err := ParseDays(row.Days)
	if err != nil {
		return nil, err
	}
	if arranged {
		section.DaysArranged = true
		return section, nil
	}
	section.Days = days

	if section.Begin, err = ParseClock(row.Begin); err != nil {
		return nil, err
	}
	if section.End, err = ParseClock(row.End); err != nil {
		return nil, err
	}
	return section, nil
}

// stripMarkdownFences removes the ```json fences models like to wrap JSON in.
func stripMarkdownFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}
