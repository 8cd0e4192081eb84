// Package tool implements the closed adapter set the model can call
// during an orchestration run — search, parse, enrich, locate — and the
// Gateway that validates, times, and fans out tool calls.
package tool

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/recmonkey/scout/pkg/geoip"
	"github.com/recmonkey/scout/pkg/serper"
)

// Adapter is one stateless tool. Info declares the tool to the model;
// ArgsSchema is the JSON Schema the gateway checks arguments against
// before Invoke sees them. Adapters never touch conversation state.
type Adapter interface {
	Name() contractx.ToolName
	Info() *schema.ToolInfo
	ArgsSchema() string
	Invoke(ctx context.Context, args map[string]any) (json.RawMessage, error)
}

// serperAPI is the slice of pkg/serper the adapters consume.
type serperAPI interface {
	Search(ctx context.Context, query string, num int) ([]serper.Organic, error)
	Shopping(ctx context.Context, query string) ([]serper.Offer, error)
	Images(ctx context.Context, query string, num int) ([]serper.Image, error)
	Scrape(ctx context.Context, pageURL string) (*serper.Page, error)
}

// geoAPI is the slice of pkg/geoip the locate adapter consumes.
type geoAPI interface {
	Lookup(ctx context.Context, callerIP string) (*geoip.Location, error)
}

// decodeArgs round-trips a validated argument map into the adapter's
// typed argument struct.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
