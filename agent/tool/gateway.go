package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/recmonkey/scout/pkg/geoip"
	"github.com/recmonkey/scout/pkg/serper"
	"github.com/sourcegraph/conc/iter"
	"github.com/xeipuuv/gojsonschema"
)

const defaultCallTimeout = 20 * time.Second

type entry struct {
	adapter Adapter
	schema  *gojsonschema.Schema
}

// Gateway validates tool-call arguments, fans the calls out in
// parallel, and hands back one ToolResult per request in request order.
// Failures become failed results, never missing ones.
type Gateway struct {
	order   []contractx.ToolName
	entries map[contractx.ToolName]entry
	timeout time.Duration
}

var _ contractx.ToolGateway = (*Gateway)(nil)

type Option func(*Gateway)

// WithCallTimeout bounds each individual tool call.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGateway wires the full adapter set over the Serper and geoip
// clients.
func NewGateway(search *serper.Client, geo *geoip.Client, opts ...Option) (*Gateway, error) {
	return newGateway([]Adapter{
		newSearchAdapter(search),
		newParseAdapter(search),
		newEnrichAdapter(search),
		newLocateAdapter(geo),
	}, opts...)
}

func newGateway(adapters []Adapter, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		entries: make(map[contractx.ToolName]entry, len(adapters)),
		timeout: defaultCallTimeout,
	}
	for _, a := range adapters {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(a.ArgsSchema()))
		if err != nil {
			return nil, fmt.Errorf("compile args schema for tool=%s: %w", a.Name(), err)
		}
		if _, dup := g.entries[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate adapter for tool=%s", a.Name())
		}
		g.entries[a.Name()] = entry{adapter: a, schema: compiled}
		g.order = append(g.order, a.Name())
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Infos lists the adapter declarations bound to the turn models.
func (g *Gateway) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(g.order))
	for _, name := range g.order {
		infos = append(infos, g.entries[name].adapter.Info())
	}
	return infos
}

// Dispatch runs all requested calls in parallel. Results hold the
// request order and carry the originating call ids; a canceled context
// returns an error and no results at all.
func (g *Gateway) Dispatch(ctx context.Context, reqs []contractx.ToolCallRequest) ([]contractx.ToolResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	results := iter.Map(reqs, func(req *contractx.ToolCallRequest) contractx.ToolResult {
		return g.dispatchOne(ctx, *req)
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tool dispatch canceled: %w", err)
	}
	return results, nil
}

func (g *Gateway) dispatchOne(ctx context.Context, req contractx.ToolCallRequest) contractx.ToolResult {
	e, ok := g.entries[req.Tool]
	if !ok {
		return failResult(req, contractx.FailInvalidArguments,
			fmt.Sprintf("unknown tool %q; available tools: %s", req.Tool, g.toolList()))
	}

	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	check, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return failResult(req, contractx.FailInvalidArguments,
			fmt.Sprintf("%v: %v", contractx.ErrInvalidToolArguments, err))
	}
	if !check.Valid() {
		return failResult(req, contractx.FailInvalidArguments,
			fmt.Sprintf("%v: %s", contractx.ErrInvalidToolArguments, violationSummary(check)))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload, err := e.adapter.Invoke(callCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return failResult(req, contractx.FailTimeout,
				fmt.Sprintf("%v: %s exceeded %s", contractx.ErrToolTimeout, req.Tool, g.timeout))
		}
		return failResult(req, contractx.FailUpstream,
			fmt.Sprintf("%v: %v", contractx.ErrToolFailure, err))
	}

	return contractx.ToolResult{
		CallID:  req.ID,
		Tool:    req.Tool,
		OK:      true,
		Payload: json.RawMessage(payload),
	}
}

func (g *Gateway) toolList() string {
	names := make([]string, 0, len(g.order))
	for _, n := range g.order {
		names = append(names, string(n))
	}
	return strings.Join(names, ", ")
}

func failResult(req contractx.ToolCallRequest, reason contractx.FailReason, detail string) contractx.ToolResult {
	return contractx.ToolResult{
		CallID: req.ID,
		Tool:   req.Tool,
		Reason: reason,
		Error:  detail,
	}
}

func violationSummary(result *gojsonschema.Result) string {
	parts := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}
