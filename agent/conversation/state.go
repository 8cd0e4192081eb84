package conversation

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// State is the per-conversation source of truth: an ordered message
// sequence plus an index from tool-call id to its result. It is owned
// by exactly one orchestration run at a time (see Locker); all
// mutation is appending.
type State struct {
	ID     string         `json:"id"`
	UserID string         `json:"user_id"`
	Mode   contractx.Mode `json:"mode"`
	Title  string         `json:"title,omitempty"`

	Messages []contractx.Message             `json:"messages,omitempty"`
	Results  map[string]contractx.ToolResult `json:"results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(id, userID string, mode contractx.Mode, now time.Time) *State {
	return &State{
		ID:        id,
		UserID:    userID,
		Mode:      mode,
		Results:   make(map[string]contractx.ToolResult, 8),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *State) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// EnsureResults makes sure the result index is initialized.
func (s *State) EnsureResults() {
	if s.Results == nil {
		s.Results = make(map[string]contractx.ToolResult, 8)
	}
}

// Append adds messages in order and indexes any tool results they
// carry. Appending is the only mutation the state supports.
func (s *State) Append(msgs ...contractx.Message) {
	s.EnsureResults()
	for _, m := range msgs {
		s.Messages = append(s.Messages, m)
		if m.Role == contractx.RoleToolResult && m.CallID != "" && m.Result != nil {
			if _, ok := s.Results[m.CallID]; !ok {
				s.Results[m.CallID] = *m.Result
			}
		}
	}
}

// ResultMessage wraps a tool result as an appendable message.
func ResultMessage(res contractx.ToolResult) contractx.Message {
	return contractx.Message{
		Role:    contractx.RoleToolResult,
		Content: res.Feedback(),
		CallID:  res.CallID,
		Result:  &res,
	}
}

// PendingCalls returns the tool calls of the latest assistant message
// that have not yet received a result.
func (s *State) PendingCalls() []contractx.ToolCallRequest {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role != contractx.RoleAssistant {
			continue
		}
		if len(m.ToolCalls) == 0 {
			return nil
		}
		var pending []contractx.ToolCallRequest
		for _, call := range m.ToolCalls {
			if _, ok := s.Results[call.ID]; !ok {
				pending = append(pending, call)
			}
		}
		return pending
	}
	return nil
}

// ResultList returns accumulated tool results in the order their
// result messages were appended.
func (s *State) ResultList() []contractx.ToolResult {
	if len(s.Results) == 0 {
		return nil
	}
	out := make([]contractx.ToolResult, 0, len(s.Results))
	for _, m := range s.Messages {
		if m.Role != contractx.RoleToolResult || m.CallID == "" {
			continue
		}
		if res, ok := s.Results[m.CallID]; ok {
			out = append(out, res)
		}
	}
	return out
}

// LastUserQuery returns the most recent user message content.
func (s *State) LastUserQuery() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == contractx.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Validate checks the request/result pairing invariants: every
// tool_result message refers to a call some assistant message issued,
// and every indexed result has its message.
func (s *State) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: conversation id is empty", contractx.ErrValidation)
	}
	issued := make(map[string]struct{})
	for _, m := range s.Messages {
		switch m.Role {
		case contractx.RoleAssistant:
			for _, call := range m.ToolCalls {
				if call.ID == "" {
					return fmt.Errorf("%w: assistant tool call without id", contractx.ErrValidation)
				}
				issued[call.ID] = struct{}{}
			}
		case contractx.RoleToolResult:
			if m.CallID == "" {
				return fmt.Errorf("%w: tool result without call id", contractx.ErrValidation)
			}
			if _, ok := issued[m.CallID]; !ok {
				return fmt.Errorf("%w: tool result for unknown call id %s", contractx.ErrValidation, m.CallID)
			}
		}
	}
	for id := range s.Results {
		if _, ok := issued[id]; !ok {
			return fmt.Errorf("%w: indexed result for unknown call id %s", contractx.ErrValidation, id)
		}
	}
	return nil
}

// Clone returns a deep copy, so stores can hand out states without
// aliasing their internal buffers.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]contractx.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Results = make(map[string]contractx.ToolResult, len(s.Results))
	for k, v := range s.Results {
		out.Results[k] = v
	}
	return &out
}
