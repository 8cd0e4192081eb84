// Package assemble turns the model's terminal payloads into validated
// TerminalAnswers, one assembler per outcome kind. Assemblers are pure:
// payload and accumulated tool results in, answer out.
package assemble

import (
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/recmonkey/scout/agent/contract"
	toolx "github.com/recmonkey/scout/agent/tool"
	"github.com/xeipuuv/gojsonschema"
)

// Registry resolves the assembler for a mode. The set is closed; a new
// outcome kind means a new assembler here.
type Registry struct {
	byMode map[contractx.Mode]contractx.Assembler
}

func NewRegistry() *Registry {
	return &Registry{byMode: map[contractx.Mode]contractx.Assembler{
		contractx.ModeQuickDecision:    &quickAssembler{},
		contractx.ModeRecommendation:   &recommendationAssembler{},
		contractx.ModeProductDiscovery: &discoveryAssembler{},
		contractx.ModeResearch:         &researchAssembler{},
	}}
}

func (r *Registry) ForMode(mode contractx.Mode) (contractx.Assembler, error) {
	a, ok := r.byMode[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no assembler for mode %q", contractx.ErrValidation, mode)
	}
	return a, nil
}

func mustSchema(doc string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("assemble: invalid payload schema: %v", err))
	}
	return s
}

// validateAgainst runs a payload through its kind's JSON Schema. Errors
// wrap ErrMalformedTerminalAnswer so one correction turn can relay the
// violations back to the model.
func validateAgainst(s *gojsonschema.Schema, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: terminal payload is empty", contractx.ErrMalformedTerminalAnswer)
	}
	check, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrMalformedTerminalAnswer, err)
	}
	if !check.Valid() {
		parts := make([]string, 0, len(check.Errors()))
		for _, e := range check.Errors() {
			parts = append(parts, e.String())
		}
		return fmt.Errorf("%w: %s", contractx.ErrMalformedTerminalAnswer, strings.Join(parts, "; "))
	}
	return nil
}

// searchItems collects every item from successful search results, in
// dispatch order. Undecodable payloads are skipped, not fatal.
func searchItems(results []contractx.ToolResult) []toolx.SearchItem {
	var items []toolx.SearchItem
	for _, r := range results {
		if r.Tool != contractx.ToolSearch || !r.OK {
			continue
		}
		var payload toolx.SearchPayload
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			continue
		}
		items = append(items, payload.Items...)
	}
	return items
}

// parsedPages collects the successfully fetched pages from parse
// results.
func parsedPages(results []contractx.ToolResult) []toolx.ParsedPage {
	var pages []toolx.ParsedPage
	for _, r := range results {
		if r.Tool != contractx.ToolParse || !r.OK {
			continue
		}
		var payload toolx.ParsePayload
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			continue
		}
		for _, p := range payload.Pages {
			if p.Error == "" && strings.TrimSpace(p.Content) != "" {
				pages = append(pages, p)
			}
		}
	}
	return pages
}
