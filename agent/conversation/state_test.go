package conversation

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

func TestStateAppendIndexesResults(t *testing.T) {
	t.Parallel()

	st := New("conv-1", "user-1", contractx.ModeProductDiscovery, time.Now())
	st.Append(contractx.Message{Role: contractx.RoleUser, Content: "find running shoes"})
	st.Append(contractx.Message{
		Role: contractx.RoleAssistant,
		ToolCalls: []contractx.ToolCallRequest{
			{ID: "call-1", Tool: contractx.ToolSearch, Args: map[string]any{"query": "running shoes"}},
		},
	})

	pending := st.PendingCalls()
	if len(pending) != 1 || pending[0].ID != "call-1" {
		t.Fatalf("PendingCalls() = %#v, want one pending call-1", pending)
	}

	st.Append(ResultMessage(contractx.ToolResult{
		CallID:  "call-1",
		Tool:    contractx.ToolSearch,
		OK:      true,
		Payload: []byte(`{"items":[]}`),
	}))

	if got := st.PendingCalls(); len(got) != 0 {
		t.Fatalf("PendingCalls() after result = %#v, want none", got)
	}
	res, ok := st.Results["call-1"]
	if !ok || !res.OK {
		t.Fatalf("Results[call-1] = %#v, want indexed success", res)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestStateAppendIsMonotonic(t *testing.T) {
	t.Parallel()

	st := New("conv-2", "user-1", contractx.ModeQuickDecision, time.Now())
	prev := 0
	for i := 0; i < 10; i++ {
		st.Append(contractx.Message{Role: contractx.RoleUser, Content: "q"})
		if len(st.Messages) <= prev {
			t.Fatalf("message count shrank: %d -> %d", prev, len(st.Messages))
		}
		prev = len(st.Messages)
	}
}

func TestStateValidateRejectsOrphanResult(t *testing.T) {
	t.Parallel()

	st := New("conv-3", "user-1", contractx.ModeResearch, time.Now())
	st.Messages = append(st.Messages, contractx.Message{
		Role:   contractx.RoleToolResult,
		CallID: "never-issued",
	})

	if err := st.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}

func TestStateResultListFollowsMessageOrder(t *testing.T) {
	t.Parallel()

	st := New("conv-4", "user-1", contractx.ModeRecommendation, time.Now())
	st.Append(contractx.Message{
		Role: contractx.RoleAssistant,
		ToolCalls: []contractx.ToolCallRequest{
			{ID: "a", Tool: contractx.ToolSearch},
			{ID: "b", Tool: contractx.ToolParse},
		},
	})
	st.Append(ResultMessage(contractx.ToolResult{CallID: "a", Tool: contractx.ToolSearch, OK: true, Payload: []byte(`1`)}))
	st.Append(ResultMessage(contractx.ToolResult{CallID: "b", Tool: contractx.ToolParse, OK: false, Reason: contractx.FailTimeout, Error: "deadline"}))

	list := st.ResultList()
	if len(list) != 2 {
		t.Fatalf("ResultList() len = %d, want 2", len(list))
	}
	if list[0].CallID != "a" || list[1].CallID != "b" {
		t.Fatalf("ResultList() order = %s,%s, want a,b", list[0].CallID, list[1].CallID)
	}
	if list[1].Reason != contractx.FailTimeout {
		t.Fatalf("failure reason = %s, want %s", list[1].Reason, contractx.FailTimeout)
	}
}

func TestStateCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	st := New("conv-5", "user-1", contractx.ModeQuickDecision, time.Now())
	st.Append(contractx.Message{Role: contractx.RoleUser, Content: "original"})

	clone := st.Clone()
	clone.Append(contractx.Message{Role: contractx.RoleUser, Content: "extra"})

	if len(st.Messages) != 1 {
		t.Fatalf("original mutated through clone: %d messages", len(st.Messages))
	}
}
