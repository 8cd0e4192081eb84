package assemble

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// degradedDigestRunes bounds the excerpt taken from each parsed page in
// a degraded research answer.
const degradedDigestRunes = 400

var researchSchema = mustSchema(`{
	"type": "object",
	"required": ["product", "report"],
	"properties": {
		"product": {"type": "string", "minLength": 1},
		"report": {"type": "string", "minLength": 1},
		"sources": {"type": "array", "items": {"type": "string", "minLength": 1}}
	}
}`)

type researchAssembler struct{}

func (a *researchAssembler) Kind() contractx.AnswerKind { return contractx.AnswerResearchReport }

func (a *researchAssembler) Validate(payload json.RawMessage) error {
	return validateAgainst(researchSchema, payload)
}

func (a *researchAssembler) Assemble(payload json.RawMessage, _ []contractx.ToolResult) (*contractx.TerminalAnswer, error) {
	var out contractx.ResearchReport
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrMalformedTerminalAnswer, err)
	}
	return &contractx.TerminalAnswer{
		Kind:     contractx.AnswerResearchReport,
		Research: &out,
	}, nil
}

// Degrade digests the pages read so far: excerpts, no synthesis.
func (a *researchAssembler) Degrade(results []contractx.ToolResult) (*contractx.TerminalAnswer, bool) {
	pages := parsedPages(results)
	if len(pages) == 0 {
		return nil, false
	}

	var sb strings.Builder
	sb.WriteString("The run ended before a full report could be written. Digest of sources read so far:\n")
	sources := make([]string, 0, len(pages))
	for _, p := range pages {
		excerpt := p.Content
		if runes := []rune(excerpt); len(runes) > degradedDigestRunes {
			excerpt = string(runes[:degradedDigestRunes]) + "…"
		}
		fmt.Fprintf(&sb, "\n## %s\n%s\n", p.URL, excerpt)
		sources = append(sources, p.URL)
	}

	return &contractx.TerminalAnswer{
		Kind:     contractx.AnswerResearchReport,
		Degraded: true,
		Research: &contractx.ResearchReport{
			Report:  sb.String(),
			Sources: sources,
		},
	}, true
}
