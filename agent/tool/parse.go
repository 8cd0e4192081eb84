package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/sourcegraph/conc/iter"
)

// maxPageRunes bounds each reduced page so one verbose article cannot
// crowd the rest of the conversation out of the prompt budget.
const maxPageRunes = 8000

var (
	mdImagePattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkPattern  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// ParsedPage is one fetched page. Per-URL failures land in Error so a
// single dead link does not void the batch.
type ParsedPage struct {
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ParsePayload is the parse adapter's result payload.
type ParsePayload struct {
	Pages []ParsedPage `json:"pages"`
}

type parseArgs struct {
	URLs []string `json:"urls"`
}

type parseAdapter struct {
	api serperAPI
}

func newParseAdapter(api serperAPI) *parseAdapter {
	return &parseAdapter{api: api}
}

func (a *parseAdapter) Name() contractx.ToolName { return contractx.ToolParse }

func (a *parseAdapter) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: string(contractx.ToolParse),
		Desc: "Fetch up to 5 web pages and return their readable content. Batch related pages into one call.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"urls": {
				Type:     schema.Array,
				Desc:     "Absolute URLs of the pages to read (1-5)",
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: true,
			},
		}),
	}
}

func (a *parseAdapter) ArgsSchema() string {
	return `{
		"type": "object",
		"additionalProperties": false,
		"required": ["urls"],
		"properties": {
			"urls": {
				"type": "array",
				"minItems": 1,
				"maxItems": 5,
				"items": {"type": "string", "format": "uri", "minLength": 1}
			}
		}
	}`
}

func (a *parseAdapter) Invoke(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	var in parseArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, fmt.Errorf("decode parse args: %w", err)
	}

	pages := iter.Map(in.URLs, func(u *string) ParsedPage {
		return a.fetchOne(ctx, *u)
	})
	return json.Marshal(ParsePayload{Pages: pages})
}

func (a *parseAdapter) fetchOne(ctx context.Context, pageURL string) ParsedPage {
	page, err := a.api.Scrape(ctx, pageURL)
	if err != nil {
		return ParsedPage{URL: pageURL, Error: err.Error()}
	}
	return ParsedPage{URL: pageURL, Content: reduceContent(page.Markdown, page.Text)}
}

// reduceContent strips markdown images and link targets, collapses
// blank-line runs, and clips to maxPageRunes.
func reduceContent(markdown, text string) string {
	content := markdown
	if strings.TrimSpace(content) == "" {
		content = text
	}
	content = mdImagePattern.ReplaceAllString(content, "")
	content = mdLinkPattern.ReplaceAllString(content, "$1")
	content = blankRuns.ReplaceAllString(content, "\n\n")
	content = strings.TrimSpace(content)

	runes := []rune(content)
	if len(runes) > maxPageRunes {
		content = string(runes[:maxPageRunes]) + "\n[content truncated]"
	}
	return content
}
