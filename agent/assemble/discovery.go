package assemble

import (
	"encoding/json"
	"fmt"

	contractx "github.com/recmonkey/scout/agent/contract"
	toolx "github.com/recmonkey/scout/agent/tool"
)

// degradedItemCap bounds a degraded discovery answer; raw search output
// past this adds noise, not options.
const degradedItemCap = 6

var discoverySchema = mustSchema(`{
	"type": "object",
	"required": ["summary", "items"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"url": {"type": "string"},
					"price": {"type": "number"},
					"source": {"type": "string"}
				}
			}
		}
	}
}`)

type discoveryAssembler struct{}

func (a *discoveryAssembler) Kind() contractx.AnswerKind { return contractx.AnswerDiscoveryResult }

func (a *discoveryAssembler) Validate(payload json.RawMessage) error {
	return validateAgainst(discoverySchema, payload)
}

// Assemble cross-checks every item id against the run's search results:
// the model may pick and describe, but it may not invent purchase
// options. Fields the model omitted are backfilled from the matching
// search item.
func (a *discoveryAssembler) Assemble(payload json.RawMessage, results []contractx.ToolResult) (*contractx.TerminalAnswer, error) {
	var out contractx.DiscoveryResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrMalformedTerminalAnswer, err)
	}

	known := make(map[string]toolx.SearchItem)
	for _, it := range searchItems(results) {
		known[it.ID] = it
	}
	for i, item := range out.Items {
		src, ok := known[item.ID]
		if !ok {
			return nil, fmt.Errorf("%w: item id %q does not appear in any search result", contractx.ErrUnresolvedReference, item.ID)
		}
		if item.URL == "" {
			out.Items[i].URL = src.URL
		}
		if item.Price == 0 {
			out.Items[i].Price = src.Price
		}
		if item.Source == "" {
			out.Items[i].Source = src.Source
		}
	}

	return &contractx.TerminalAnswer{
		Kind:      contractx.AnswerDiscoveryResult,
		Discovery: &out,
	}, nil
}

// Degrade promotes accumulated search items directly, deduplicated by
// id in dispatch order.
func (a *discoveryAssembler) Degrade(results []contractx.ToolResult) (*contractx.TerminalAnswer, bool) {
	found := searchItems(results)
	if len(found) == 0 {
		return nil, false
	}

	seen := make(map[string]struct{}, len(found))
	items := make([]contractx.DiscoveryItem, 0, degradedItemCap)
	for _, it := range found {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, contractx.DiscoveryItem{
			ID:     it.ID,
			Name:   it.Name,
			URL:    it.URL,
			Price:  it.Price,
			Source: it.Source,
		})
		if len(items) == degradedItemCap {
			break
		}
	}

	return &contractx.TerminalAnswer{
		Kind:     contractx.AnswerDiscoveryResult,
		Degraded: true,
		Discovery: &contractx.DiscoveryResult{
			Summary: "Partial results: the run ended before these options could be narrowed down or compared.",
			Items:   items,
		},
	}, true
}
