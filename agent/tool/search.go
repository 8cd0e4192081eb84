package tool

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/recmonkey/scout/pkg/serper"
)

const (
	defaultSearchResults = 6
	maxSearchResults     = 10
)

// SearchItem is one purchase candidate. IDs are derived from the result
// URL so a terminal payload that references an item can be checked
// against the search results that produced it.
type SearchItem struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Source  string  `json:"source,omitempty"`
}

// SearchPayload is the search adapter's result payload.
type SearchPayload struct {
	Query string       `json:"query"`
	Items []SearchItem `json:"items"`
}

// ItemID derives the deterministic id for a result URL.
func ItemID(url string) string {
	sum := sha1.Sum([]byte(url))
	return "prod-" + hex.EncodeToString(sum[:])[:8]
}

type searchArgs struct {
	Query      string  `json:"query"`
	MaxPrice   float64 `json:"maxPrice"`
	MaxResults int     `json:"maxResults"`
}

type searchAdapter struct {
	api serperAPI
}

func newSearchAdapter(api serperAPI) *searchAdapter {
	return &searchAdapter{api: api}
}

func (a *searchAdapter) Name() contractx.ToolName { return contractx.ToolSearch }

func (a *searchAdapter) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolSearch),
		Desc: "Search the web for products or information. With maxPrice set, searches shopping listings and filters by price; otherwise returns organic web results.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Search query",
				Required: true,
			},
			"maxPrice": {
				Type: schema.Number,
				Desc: "Upper price bound in USD; only shopping listings at or under this price are returned",
			},
			"maxResults": {
				Type: schema.Integer,
				Desc: "Maximum number of results (1-10, default 6)",
			},
		}),
	}
}

func (a *searchAdapter) ArgsSchema() string {
	return `{
		"type": "object",
		"additionalProperties": false,
		"required": ["query"],
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"maxPrice": {"type": "number", "minimum": 0},
			"maxResults": {"type": "integer", "minimum": 1, "maximum": 10}
		}
	}`
}

func (a *searchAdapter) Invoke(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	var in searchArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, fmt.Errorf("decode search args: %w", err)
	}
	limit := in.MaxResults
	if limit <= 0 {
		limit = defaultSearchResults
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	var items []SearchItem
	if in.MaxPrice > 0 {
		offers, err := a.api.Shopping(ctx, in.Query)
		if err != nil {
			return nil, fmt.Errorf("shopping search %q: %w", in.Query, err)
		}
		items = curateOffers(offers, in.MaxPrice, limit)
	} else {
		organic, err := a.api.Search(ctx, in.Query, limit)
		if err != nil {
			return nil, fmt.Errorf("web search %q: %w", in.Query, err)
		}
		items = curateOrganic(organic, limit)
	}

	return json.Marshal(SearchPayload{Query: in.Query, Items: items})
}

// curateOffers keeps priced listings at or under the bound, in listing
// order. Listings whose display price carried no parseable amount are
// dropped rather than slipped past the bound.
func curateOffers(offers []serper.Offer, maxPrice float64, limit int) []SearchItem {
	items := make([]SearchItem, 0, limit)
	for _, o := range offers {
		if o.PriceUSD <= 0 || o.PriceUSD > maxPrice {
			continue
		}
		link := strings.TrimSpace(o.Link)
		if link == "" {
			continue
		}
		items = append(items, SearchItem{
			ID:     ItemID(link),
			Name:   o.Title,
			URL:    link,
			Price:  o.PriceUSD,
			Source: o.Source,
		})
		if len(items) == limit {
			break
		}
	}
	return items
}

func curateOrganic(organic []serper.Organic, limit int) []SearchItem {
	items := make([]SearchItem, 0, limit)
	for _, o := range organic {
		link := strings.TrimSpace(o.Link)
		if link == "" {
			continue
		}
		items = append(items, SearchItem{
			ID:      ItemID(link),
			Name:    o.Title,
			URL:     link,
			Snippet: o.Snippet,
		})
		if len(items) == limit {
			break
		}
	}
	return items
}
