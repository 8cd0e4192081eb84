package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
)

type callerIPKey struct{}

// WithCallerIP stashes the requesting client's IP for the locate
// adapter. The orchestrator sets it from the run request; the model
// never supplies an address.
func WithCallerIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, callerIPKey{}, ip)
}

// CallerIP returns the stashed client IP, empty when none was set.
func CallerIP(ctx context.Context) string {
	ip, _ := ctx.Value(callerIPKey{}).(string)
	return ip
}

// LocatePayload is the locate adapter's result payload.
type LocatePayload struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	ZipCode  string `json:"zipCode,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type locateAdapter struct {
	api geoAPI
}

func newLocateAdapter(api geoAPI) *locateAdapter {
	return &locateAdapter{api: api}
}

func (a *locateAdapter) Name() contractx.ToolName { return contractx.ToolLocate }

func (a *locateAdapter) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        string(contractx.ToolLocate),
		Desc:        "Resolve the user's approximate location (city, region, country, currency) for availability and pricing context. Takes no arguments.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

func (a *locateAdapter) ArgsSchema() string {
	return `{
		"type": "object",
		"additionalProperties": false,
		"properties": {}
	}`
}

func (a *locateAdapter) Invoke(ctx context.Context, _ map[string]any) (json.RawMessage, error) {
	loc, err := a.api.Lookup(ctx, CallerIP(ctx))
	if err != nil {
		return nil, fmt.Errorf("locate caller: %w", err)
	}
	return json.Marshal(LocatePayload{
		Country:  loc.Country,
		Region:   loc.Region,
		District: loc.District,
		City:     loc.City,
		ZipCode:  loc.ZipCode,
		Currency: loc.Currency,
	})
}
