package llm

import (
	"context"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func newTestRunner(t *testing.T, fake *fakeToolCallingModel, mode contractx.Mode) *Runner {
	t.Helper()
	runner, err := newRunner(context.Background(), map[contractx.Mode]einomodel.ToolCallingChatModel{
		mode: fake,
	}, nil)
	if err != nil {
		t.Fatalf("newRunner() error = %v", err)
	}
	return runner
}

func TestRunnerTurnReturnsToolCalls(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{
						ID:   "call_1",
						Type: "function",
						Function: schema.FunctionCall{
							Name:      "search",
							Arguments: `{"query":"trail running shoes","maxResults":6}`,
						},
					},
				},
			},
		},
	}
	runner := newTestRunner(t, fake, contractx.ModeProductDiscovery)

	msg, err := runner.Turn(context.Background(), contractx.ModeProductDiscovery, []*schema.Message{
		schema.SystemMessage("system"),
		schema.UserMessage("find trail running shoes"),
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("unexpected tool name: %s", msg.ToolCalls[0].Function.Name)
	}
}

func TestRunnerTurnReturnsTerminalContent(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			{
				Role:    schema.Assistant,
				Content: `{"verdict":"buy","rationale":"well reviewed","sources":["https://example.com"]}`,
			},
		},
	}
	runner := newTestRunner(t, fake, contractx.ModeQuickDecision)

	msg, err := runner.Turn(context.Background(), contractx.ModeQuickDecision, []*schema.Message{
		schema.SystemMessage("system"),
		schema.UserMessage("should I buy the anker 737?"),
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if len(msg.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %d", len(msg.ToolCalls))
	}
	if msg.Content == "" {
		t.Fatal("expected terminal content")
	}
}

func TestRunnerTurnUnknownMode(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, &fakeToolCallingModel{}, contractx.ModeQuickDecision)

	_, err := runner.Turn(context.Background(), contractx.ModeResearch, []*schema.Message{
		schema.UserMessage("hello"),
	})
	if err == nil {
		t.Fatal("expected error but got nil")
	}
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRunnerTurnRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, &fakeToolCallingModel{}, contractx.ModeQuickDecision)

	_, err := runner.Turn(context.Background(), contractx.ModeQuickDecision, nil)
	if err == nil {
		t.Fatal("expected error but got nil")
	}
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestRunnerTurnWrapsModelError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{err: errors.New("upstream 500")}
	runner := newTestRunner(t, fake, contractx.ModeResearch)

	_, err := runner.Turn(context.Background(), contractx.ModeResearch, []*schema.Message{
		schema.UserMessage("deep dive on the sony wh-1000xm5"),
	})
	if err == nil {
		t.Fatal("expected error but got nil")
	}
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestToolRequestsMapsCalls(t *testing.T) {
	t.Parallel()

	msg := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{
				ID:   "call_1",
				Type: "function",
				Function: schema.FunctionCall{
					Name:      "search",
					Arguments: `{"query":"espresso machines under 300","maxPrice":300}`,
				},
			},
			{
				ID:   "call_2",
				Type: "function",
				Function: schema.FunctionCall{
					Name:      "locate",
					Arguments: `{}`,
				},
			},
		},
	}

	reqs, err := ToolRequests(msg)
	if err != nil {
		t.Fatalf("ToolRequests() error = %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].ID != "call_1" || reqs[0].Tool != contractx.ToolSearch {
		t.Fatalf("unexpected first request: %#v", reqs[0])
	}
	if reqs[0].Args["query"] != "espresso machines under 300" {
		t.Fatalf("unexpected args: %#v", reqs[0].Args)
	}
	if reqs[1].ID != "call_2" || reqs[1].Tool != contractx.ToolLocate {
		t.Fatalf("unexpected second request: %#v", reqs[1])
	}
}

func TestToolRequestsNoCalls(t *testing.T) {
	t.Parallel()

	reqs, err := ToolRequests(&schema.Message{Role: schema.Assistant, Content: "{}"})
	if err != nil {
		t.Fatalf("ToolRequests() error = %v", err)
	}
	if reqs != nil {
		t.Fatalf("expected nil requests, got %#v", reqs)
	}

	reqs, err = ToolRequests(nil)
	if err != nil {
		t.Fatalf("ToolRequests(nil) error = %v", err)
	}
	if reqs != nil {
		t.Fatalf("expected nil requests for nil message, got %#v", reqs)
	}
}

func TestToolRequestsRejectsMalformedCalls(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		calls []schema.ToolCall
	}{
		{
			name: "missing tool name",
			calls: []schema.ToolCall{
				{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "  ", Arguments: `{}`}},
			},
		},
		{
			name: "missing call id",
			calls: []schema.ToolCall{
				{Type: "function", Function: schema.FunctionCall{Name: "search", Arguments: `{"query":"x"}`}},
			},
		},
		{
			name: "duplicate call id",
			calls: []schema.ToolCall{
				{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "search", Arguments: `{"query":"x"}`}},
				{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "locate", Arguments: `{}`}},
			},
		},
		{
			name: "arguments are not json",
			calls: []schema.ToolCall{
				{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "search", Arguments: `"query=x`}},
			},
		},
		{
			name: "arguments are not an object",
			calls: []schema.ToolCall{
				{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "search", Arguments: `["x"]`}},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ToolRequests(&schema.Message{Role: schema.Assistant, ToolCalls: tc.calls})
			if err == nil {
				t.Fatal("expected error but got nil")
			}
			if !errors.Is(err, contractx.ErrInvalidToolArguments) {
				t.Fatalf("expected ErrInvalidToolArguments, got %v", err)
			}
		})
	}
}

func TestToolRequestsAllowsEmptyArguments(t *testing.T) {
	t.Parallel()

	msg := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call_1", Type: "function", Function: schema.FunctionCall{Name: "locate"}},
		},
	}

	reqs, err := ToolRequests(msg)
	if err != nil {
		t.Fatalf("ToolRequests() error = %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Args == nil || len(reqs[0].Args) != 0 {
		t.Fatalf("expected empty args map, got %#v", reqs[0].Args)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{APIKey: "sk-test", Model: "openai/gpt-4o-mini"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if err := (Config{Model: "openai/gpt-4o-mini"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing api key, got %v", err)
	}
	if err := (Config{APIKey: "sk-test"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing model, got %v", err)
	}
}

func TestConfigGatewayForOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{
		APIKey:               "sk-test",
		Model:                "openai/gpt-4o-mini",
		Temperature:          0.4,
		ResearchModel:        "anthropic/claude-sonnet-4",
		ResearchTemperature:  0.1,
		RecommendTemperature: -1,
	}

	research := cfg.GatewayFor(contractx.ModeResearch)
	if research.Model != "anthropic/claude-sonnet-4" {
		t.Fatalf("unexpected research model: %s", research.Model)
	}
	if research.Temperature != 0.1 {
		t.Fatalf("unexpected research temperature: %v", research.Temperature)
	}

	recommend := cfg.GatewayFor(contractx.ModeRecommendation)
	if recommend.Model != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected recommend model: %s", recommend.Model)
	}
	if recommend.Temperature != 0.4 {
		t.Fatalf("unexpected recommend temperature: %v", recommend.Temperature)
	}
}

func TestConfigRouterGateway(t *testing.T) {
	t.Parallel()

	cfg := Config{
		APIKey:            "sk-test",
		Model:             "openai/gpt-4o-mini",
		RouterModel:       "google/gemini-2.5-flash",
		RouterTemperature: 0,
	}

	gw := cfg.RouterGateway()
	if gw.Model != "google/gemini-2.5-flash" {
		t.Fatalf("unexpected router model: %s", gw.Model)
	}
	if gw.Temperature != 0 {
		t.Fatalf("unexpected router temperature: %v", gw.Temperature)
	}
}
