package contract

import "errors"

// Tool-level failures are absorbed into the conversation flow and
// re-offered to the model; only failures that prevent producing any
// valid terminal answer propagate to the caller.
var (
	ErrInvalidToolArguments    = errors.New("invalid tool arguments")
	ErrToolTimeout             = errors.New("tool call timed out")
	ErrToolFailure             = errors.New("tool call failed")
	ErrMalformedTerminalAnswer = errors.New("terminal answer violates mode schema")
	ErrUnresolvedReference     = errors.New("terminal answer references data no tool produced")
	ErrOrchestrationExhausted  = errors.New("orchestration turn limit reached")
	ErrOrchestrationTimeout    = errors.New("orchestration deadline exceeded")
	ErrConversationLocked      = errors.New("conversation is owned by another run")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotOwner             = errors.New("conversation belongs to another user")
	ErrShareNotFound        = errors.New("share record not found")
	ErrQueryRejected        = errors.New("query rejected as out of scope")

	ErrModelInvoke = errors.New("model invoke failed")
	ErrValidation  = errors.New("validation failed")
)
