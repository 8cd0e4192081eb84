package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
)

type fakeAdapter struct {
	name    contractx.ToolName
	argsDoc string
	invoke  func(ctx context.Context, args map[string]any) (json.RawMessage, error)
	calls   atomic.Int32
}

func (f *fakeAdapter) Name() contractx.ToolName { return f.name }

func (f *fakeAdapter) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        string(f.name),
		Desc:        "fake",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

func (f *fakeAdapter) ArgsSchema() string {
	if f.argsDoc != "" {
		return f.argsDoc
	}
	return `{"type":"object"}`
}

func (f *fakeAdapter) Invoke(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.invoke != nil {
		return f.invoke(ctx, args)
	}
	return json.RawMessage(`{}`), nil
}

func echoAdapter(name contractx.ToolName, delay time.Duration) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		invoke: func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
			return json.Marshal(map[string]any{"tool": string(name)})
		},
	}
}

func TestGatewayDispatchPairsAndOrders(t *testing.T) {
	t.Parallel()

	// The slow adapter finishes last; its result must still come first.
	gw, err := newGateway([]Adapter{
		echoAdapter(contractx.ToolSearch, 30*time.Millisecond),
		echoAdapter(contractx.ToolLocate, 0),
	})
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	results, err := gw.Dispatch(context.Background(), []contractx.ToolCallRequest{
		{ID: "call_a", Tool: contractx.ToolSearch, Args: map[string]any{}},
		{ID: "call_b", Tool: contractx.ToolLocate, Args: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].CallID != "call_a" || results[0].Tool != contractx.ToolSearch {
		t.Fatalf("result 0 not paired with request 0: %#v", results[0])
	}
	if results[1].CallID != "call_b" || results[1].Tool != contractx.ToolLocate {
		t.Fatalf("result 1 not paired with request 1: %#v", results[1])
	}
	for _, r := range results {
		if !r.OK {
			t.Fatalf("expected OK result, got %#v", r)
		}
	}
}

func TestGatewayDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	gw, err := newGateway([]Adapter{echoAdapter(contractx.ToolSearch, 0)})
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	results, err := gw.Dispatch(context.Background(), []contractx.ToolCallRequest{
		{ID: "call_a", Tool: contractx.ToolName("teleport"), Args: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].OK {
		t.Fatal("expected failed result for unknown tool")
	}
	if results[0].Reason != contractx.FailInvalidArguments {
		t.Fatalf("unexpected reason: %s", results[0].Reason)
	}
	if results[0].CallID != "call_a" {
		t.Fatalf("failed result lost its call id: %#v", results[0])
	}
}

func TestGatewayDispatchRejectsInvalidArgsBeforeInvoke(t *testing.T) {
	t.Parallel()

	strict := &fakeAdapter{
		name: contractx.ToolSearch,
		argsDoc: `{
			"type": "object",
			"additionalProperties": false,
			"required": ["query"],
			"properties": {"query": {"type": "string", "minLength": 1}}
		}`,
	}
	gw, err := newGateway([]Adapter{strict})
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	results, err := gw.Dispatch(context.Background(), []contractx.ToolCallRequest{
		{ID: "call_a", Tool: contractx.ToolSearch, Args: map[string]any{"maxPrice": 100}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results[0].OK || results[0].Reason != contractx.FailInvalidArguments {
		t.Fatalf("expected invalid-arguments failure, got %#v", results[0])
	}
	if strict.calls.Load() != 0 {
		t.Fatal("adapter was invoked despite failing validation")
	}
	if !strings.Contains(results[0].Error, "query") {
		t.Fatalf("violation detail missing from error: %s", results[0].Error)
	}
}

func TestGatewayDispatchTimeoutDegradesSingleCall(t *testing.T) {
	t.Parallel()

	gw, err := newGateway([]Adapter{
		echoAdapter(contractx.ToolSearch, time.Second),
		echoAdapter(contractx.ToolLocate, 0),
	}, WithCallTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	results, err := gw.Dispatch(context.Background(), []contractx.ToolCallRequest{
		{ID: "call_a", Tool: contractx.ToolSearch, Args: map[string]any{}},
		{ID: "call_b", Tool: contractx.ToolLocate, Args: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results[0].OK || results[0].Reason != contractx.FailTimeout {
		t.Fatalf("expected timeout failure for slow call, got %#v", results[0])
	}
	if !results[1].OK {
		t.Fatalf("fast call should have succeeded, got %#v", results[1])
	}
}

func TestGatewayDispatchUpstreamFailure(t *testing.T) {
	t.Parallel()

	broken := &fakeAdapter{
		name: contractx.ToolParse,
		invoke: func(ctx context.Context, args map[string]any) (json.RawMessage, error) {
			return nil, errors.New("scrape endpoint returned 500")
		},
	}
	gw, err := newGateway([]Adapter{broken})
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	results, err := gw.Dispatch(context.Background(), []contractx.ToolCallRequest{
		{ID: "call_a", Tool: contractx.ToolParse, Args: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results[0].OK || results[0].Reason != contractx.FailUpstream {
		t.Fatalf("expected upstream failure, got %#v", results[0])
	}
}

func TestGatewayDispatchCanceledContext(t *testing.T) {
	t.Parallel()

	gw, err := newGateway([]Adapter{
		echoAdapter(contractx.ToolSearch, time.Second),
	}, WithCallTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	results, err := gw.Dispatch(ctx, []contractx.ToolCallRequest{
		{ID: "call_a", Tool: contractx.ToolSearch, Args: map[string]any{}},
	})
	if err == nil {
		t.Fatal("expected error from canceled dispatch")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if results != nil {
		t.Fatalf("canceled dispatch must not return partial results, got %#v", results)
	}
}

func TestGatewayDispatchEmpty(t *testing.T) {
	t.Parallel()

	gw, err := newGateway([]Adapter{echoAdapter(contractx.ToolSearch, 0)})
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	results, err := gw.Dispatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %#v", results)
	}
}

func TestGatewayInfosKeepAdapterOrder(t *testing.T) {
	t.Parallel()

	gw, err := newGateway([]Adapter{
		echoAdapter(contractx.ToolSearch, 0),
		echoAdapter(contractx.ToolParse, 0),
		echoAdapter(contractx.ToolEnrich, 0),
		echoAdapter(contractx.ToolLocate, 0),
	})
	if err != nil {
		t.Fatalf("newGateway() error = %v", err)
	}

	infos := gw.Infos()
	want := []string{"search", "parse", "enrich", "locate"}
	if len(infos) != len(want) {
		t.Fatalf("expected %d infos, got %d", len(want), len(infos))
	}
	for i, info := range infos {
		if info.Name != want[i] {
			t.Fatalf("info %d = %s, want %s", i, info.Name, want[i])
		}
	}
}
