package contract

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/schema"
)

// TurnRunner executes one LLM turn: prompt in, assistant message out.
// The reply either carries tool calls or a terminal JSON payload.
type TurnRunner interface {
	Turn(ctx context.Context, mode Mode, prompt []*schema.Message) (*schema.Message, error)
}

// ToolGateway dispatches one turn's tool calls. Results come back in
// the same order the requests were issued, one result per request.
type ToolGateway interface {
	Dispatch(ctx context.Context, reqs []ToolCallRequest) ([]ToolResult, error)
}

// Assembler turns a schema-valid terminal payload into a typed answer,
// cross-checking referenced entities against accumulated tool results.
// Validate checks the raw payload against the kind's JSON schema so the
// orchestrator can re-prompt before assembly. Degrade synthesizes a
// partial answer after exhaustion, when the accumulated results allow
// one.
type Assembler interface {
	Kind() AnswerKind
	Validate(payload json.RawMessage) error
	Assemble(payload json.RawMessage, results []ToolResult) (*TerminalAnswer, error)
	Degrade(results []ToolResult) (*TerminalAnswer, bool)
}

// EventSink receives one structured audit event per orchestration turn.
type EventSink interface {
	Emit(ctx context.Context, ev TurnEvent)
}
