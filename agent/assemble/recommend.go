package assemble

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/recmonkey/scout/agent/contract"
)

const (
	recommendationsHeader = "### RECOMMENDATIONS"
	alternativesHeader    = "### STRATEGIC ALTERNATIVES"
)

var recommendationSchema = mustSchema(`{
	"type": "object",
	"required": ["report"],
	"properties": {
		"report": {"type": "string", "minLength": 1}
	}
}`)

type reportPayload struct {
	Report string `json:"report"`
}

type recommendationAssembler struct{}

func (a *recommendationAssembler) Kind() contractx.AnswerKind {
	return contractx.AnswerRecommendationSet
}

// Validate checks the payload shape and that the report carries at
// least one product under the RECOMMENDATIONS block, so a block-less
// report gets a correction turn instead of an empty answer.
func (a *recommendationAssembler) Validate(payload json.RawMessage) error {
	if err := validateAgainst(recommendationSchema, payload); err != nil {
		return err
	}
	var out reportPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrMalformedTerminalAnswer, err)
	}
	if len(parseProductBlock(out.Report, recommendationsHeader)) == 0 {
		return fmt.Errorf("%w: report has no product bullets under %q", contractx.ErrMalformedTerminalAnswer, recommendationsHeader)
	}
	return nil
}

func (a *recommendationAssembler) Assemble(payload json.RawMessage, _ []contractx.ToolResult) (*contractx.TerminalAnswer, error) {
	var out reportPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrMalformedTerminalAnswer, err)
	}
	set := contractx.RecommendationSet{
		Report:       out.Report,
		TopPicks:     parseProductBlock(out.Report, recommendationsHeader),
		Alternatives: parseProductBlock(out.Report, alternativesHeader),
	}
	if len(set.TopPicks) == 0 {
		return nil, fmt.Errorf("%w: report has no product bullets under %q", contractx.ErrMalformedTerminalAnswer, recommendationsHeader)
	}
	return &contractx.TerminalAnswer{
		Kind:            contractx.AnswerRecommendationSet,
		Recommendations: &set,
	}, nil
}

// Degrade lists the sources found so far instead of inventing a
// ranking.
func (a *recommendationAssembler) Degrade(results []contractx.ToolResult) (*contractx.TerminalAnswer, bool) {
	items := searchItems(results)
	if len(items) == 0 {
		return nil, false
	}

	var sb strings.Builder
	sb.WriteString("The run ended before a full recommendation report could be written. ")
	sb.WriteString("Candidates found so far:\n\n")
	picks := make([]string, 0, len(items))
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s (%s)\n", it.Name, it.URL)
		picks = append(picks, it.Name)
	}

	return &contractx.TerminalAnswer{
		Kind:     contractx.AnswerRecommendationSet,
		Degraded: true,
		Recommendations: &contractx.RecommendationSet{
			Report:   sb.String(),
			TopPicks: picks,
		},
	}, true
}

// parseProductBlock returns the "- " bullet lines under header. The
// block ends at the next heading or at the first non-bullet line after
// bullets began.
func parseProductBlock(report, header string) []string {
	idx := strings.Index(report, header)
	if idx < 0 {
		return nil
	}
	var names []string
	for _, raw := range strings.Split(report[idx+len(header):], "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			return names
		case strings.HasPrefix(line, "- "):
			if name := strings.TrimSpace(strings.TrimPrefix(line, "- ")); name != "" {
				names = append(names, name)
			}
		default:
			if len(names) > 0 {
				return names
			}
		}
	}
	return names
}
