package assemble

import (
	"encoding/json"
	"fmt"

	contractx "github.com/recmonkey/scout/agent/contract"
)

var quickSchema = mustSchema(`{
	"type": "object",
	"required": ["verdict", "rationale"],
	"properties": {
		"verdict": {"type": "string", "minLength": 1},
		"rationale": {"type": "string", "minLength": 1},
		"sources": {"type": "array", "items": {"type": "string", "minLength": 1}}
	}
}`)

type quickAssembler struct{}

func (a *quickAssembler) Kind() contractx.AnswerKind { return contractx.AnswerQuickDecision }

func (a *quickAssembler) Validate(payload json.RawMessage) error {
	return validateAgainst(quickSchema, payload)
}

func (a *quickAssembler) Assemble(payload json.RawMessage, _ []contractx.ToolResult) (*contractx.TerminalAnswer, error) {
	var out contractx.QuickDecision
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrMalformedTerminalAnswer, err)
	}
	return &contractx.TerminalAnswer{
		Kind:  contractx.AnswerQuickDecision,
		Quick: &out,
	}, nil
}

// Degrade never produces a quick decision: a verdict synthesized from
// raw tool output would carry the authority of one the model reasoned
// out.
func (a *quickAssembler) Degrade(_ []contractx.ToolResult) (*contractx.TerminalAnswer, bool) {
	return nil, false
}
