package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
)

func TestBuildMapsRoles(t *testing.T) {
	t.Parallel()

	b := NewBuilder(LoadPromptSet())
	msgs := []contractx.Message{
		{Role: contractx.RoleUser, Content: "find me a mechanical keyboard under $100"},
		{Role: contractx.RoleAssistant, ToolCalls: []contractx.ToolCallRequest{
			{ID: "call-1", Tool: contractx.ToolSearch, Args: map[string]any{"query": "mechanical keyboard", "maxPrice": 100}},
		}},
		{Role: contractx.RoleToolResult, CallID: "call-1", Content: `{"items":[]}`},
	}

	out, err := b.Build(contractx.ModeProductDiscovery, msgs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("Build() returned %d messages, want 4", len(out))
	}
	if out[0].Role != schema.System || out[0].Content == "" {
		t.Fatalf("first message = %+v, want non-empty system prompt", out[0])
	}
	if out[1].Role != schema.User {
		t.Fatalf("second message role = %s, want user", out[1].Role)
	}
	if out[2].Role != schema.Assistant || len(out[2].ToolCalls) != 1 {
		t.Fatalf("third message = %+v, want assistant with one tool call", out[2])
	}
	if got := out[2].ToolCalls[0].Function.Name; got != "search" {
		t.Fatalf("tool call name = %q, want %q", got, "search")
	}
	if out[3].Role != schema.Tool || out[3].ToolCallID != "call-1" {
		t.Fatalf("fourth message = %+v, want tool result for call-1", out[3])
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()

	b := NewBuilder(LoadPromptSet())
	msgs := []contractx.Message{
		{Role: contractx.RoleUser, Content: "should I buy the Anker 737?"},
	}

	first, err := b.Build(contractx.ModeQuickDecision, msgs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := b.Build(contractx.ModeQuickDecision, msgs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("builds differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content || first[i].Role != second[i].Role {
			t.Fatalf("build differs at index %d", i)
		}
	}
}

func TestBuildDropsOldestFirst(t *testing.T) {
	t.Parallel()

	b := NewBuilder(LoadPromptSet(), WithRuneBudget(4000))
	filler := strings.Repeat("x", 1500)
	msgs := []contractx.Message{
		{Role: contractx.RoleUser, Content: "OLDEST " + filler},
		{Role: contractx.RoleAssistant, Content: "MIDDLE " + filler},
		{Role: contractx.RoleUser, Content: "latest question"},
	}

	out, err := b.Build(contractx.ModeResearch, msgs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	joined := joinContents(out)
	if strings.Contains(joined, "OLDEST") {
		t.Fatal("oldest message survived truncation")
	}
	if !strings.Contains(joined, "latest question") {
		t.Fatal("latest user query was dropped")
	}
}

func TestBuildNeverDropsLatestUserQueryOrToolRound(t *testing.T) {
	t.Parallel()

	// Budget far below the protected content size: everything droppable
	// must go, the protected tail must stay.
	b := NewBuilder(LoadPromptSet(), WithRuneBudget(1))
	msgs := []contractx.Message{
		{Role: contractx.RoleUser, Content: "ancient query " + strings.Repeat("a", 500)},
		{Role: contractx.RoleAssistant, Content: "old reply " + strings.Repeat("b", 500)},
		{Role: contractx.RoleUser, Content: "current question"},
		{Role: contractx.RoleAssistant, ToolCalls: []contractx.ToolCallRequest{
			{ID: "call-9", Tool: contractx.ToolSearch, Args: map[string]any{"query": "q"}},
		}},
		{Role: contractx.RoleToolResult, CallID: "call-9", Content: `{"items":[{"id":"prod-1"}]}`},
	}

	out, err := b.Build(contractx.ModeProductDiscovery, msgs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var hasQuery, hasCall, hasResult bool
	for _, m := range out {
		if m.Role == schema.User && strings.Contains(m.Content, "current question") {
			hasQuery = true
		}
		if m.Role == schema.Assistant && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "call-9" {
			hasCall = true
		}
		if m.Role == schema.Tool && m.ToolCallID == "call-9" {
			hasResult = true
		}
		if strings.Contains(m.Content, "ancient query") || strings.Contains(m.Content, "old reply") {
			t.Fatalf("droppable message survived: %q", m.Content)
		}
	}
	if !hasQuery || !hasCall || !hasResult {
		t.Fatalf("protected tail lost: query=%v call=%v result=%v", hasQuery, hasCall, hasResult)
	}
}

func TestBuildRejectsEmptyConversation(t *testing.T) {
	t.Parallel()

	b := NewBuilder(LoadPromptSet())
	if _, err := b.Build(contractx.ModeQuickDecision, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Build() error = %v, want ErrValidation", err)
	}
}

func TestLoadPromptSetIsComplete(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	for _, mode := range []contractx.Mode{
		contractx.ModeQuickDecision,
		contractx.ModeRecommendation,
		contractx.ModeProductDiscovery,
		contractx.ModeResearch,
	} {
		sys, err := set.System(mode)
		if err != nil {
			t.Fatalf("System(%s) error = %v", mode, err)
		}
		if sys == "" {
			t.Fatalf("System(%s) returned empty prompt", mode)
		}
	}
	if set.RenderCorrection("boom") == set.Correction {
		t.Fatal("RenderCorrection() did not substitute the error detail")
	}
}

func joinContents(msgs []*schema.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
