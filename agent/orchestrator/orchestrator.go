// Package orchestrator runs the bounded tool-calling loop that answers
// one product query: model turn, tool dispatch, result write-back,
// repeated until a terminal answer validates or the turn cap hits.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/recmonkey/scout/agent/conversation"
	llmx "github.com/recmonkey/scout/agent/llm"
	promptx "github.com/recmonkey/scout/agent/prompt"
	toolx "github.com/recmonkey/scout/agent/tool"
)

const maxTitleRunes = 80

// Config bounds one orchestration run. The default run timeout covers
// the turn cap at worst case: six turns of a 45s model call plus a 20s
// tool dispatch.
type Config struct {
	MaxTurns   int           `split_words:"true" default:"6"`
	RunTimeout time.Duration `split_words:"true" default:"390s"`
}

// AssemblerRegistry resolves the assembler for a mode.
type AssemblerRegistry interface {
	ForMode(mode contractx.Mode) (contractx.Assembler, error)
}

// Deps collects the orchestrator's collaborators. Sink may be nil.
type Deps struct {
	Store      conversation.Store
	Locker     *conversation.Locker
	Builder    *promptx.Builder
	Prompts    promptx.PromptSet
	Runner     contractx.TurnRunner
	Gateway    contractx.ToolGateway
	Assemblers AssemblerRegistry
	Sink       contractx.EventSink
}

type Orchestrator struct {
	store      conversation.Store
	locker     *conversation.Locker
	builder    *promptx.Builder
	prompts    promptx.PromptSet
	runner     contractx.TurnRunner
	gateway    contractx.ToolGateway
	assemblers AssemblerRegistry
	sink       contractx.EventSink

	maxTurns   int
	runTimeout time.Duration

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if deps.Locker == nil {
		return nil, errors.New("conversation locker is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("prompt builder is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("turn runner is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("tool gateway is required")
	}
	if deps.Assemblers == nil {
		return nil, errors.New("assembler registry is required")
	}
	sink := deps.Sink
	if sink == nil {
		sink = noopSink{}
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 6
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 390 * time.Second
	}

	return &Orchestrator{
		store:      deps.Store,
		locker:     deps.Locker,
		builder:    deps.Builder,
		prompts:    deps.Prompts,
		runner:     deps.Runner,
		gateway:    deps.Gateway,
		assemblers: deps.Assemblers,
		sink:       sink,
		maxTurns:   maxTurns,
		runTimeout: runTimeout,
		now:        time.Now,
	}, nil
}

// phase names the loop states for audit events.
type phase string

const (
	phaseAwaitingLLM phase = "awaiting_llm"
	phaseDispatching phase = "dispatching_tools"
	phaseTerminal    phase = "terminal"
	phaseFailed      phase = "failed"
)

// Run executes one orchestration run and returns the terminal answer.
// The conversation is exclusively owned for the duration; concurrent
// runs on the same conversation fail with ErrConversationLocked.
func (o *Orchestrator) Run(ctx context.Context, req contractx.RunRequest) (*contractx.TerminalAnswer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	asm, err := o.assemblers.ForMode(req.Mode)
	if err != nil {
		return nil, err
	}

	if err := o.locker.Acquire(req.ConversationID); err != nil {
		return nil, fmt.Errorf("%w: conversation %s", err, req.ConversationID)
	}
	defer o.locker.Release(req.ConversationID)

	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()
	if strings.TrimSpace(req.ClientIP) != "" {
		ctx = toolx.WithCallerIP(ctx, req.ClientIP)
	}

	st, err := o.loadOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.appendUserTurn(ctx, st, req); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	correctionUsed := false

	for turn := 1; turn <= o.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, o.deadlineErr(ctx, err)
		}
		started := o.now()
		state := phaseAwaitingLLM

		built, err := o.builder.Build(req.Mode, st.Messages)
		if err != nil {
			return nil, err
		}

		reply, err := o.runner.Turn(ctx, req.Mode, built)
		if err != nil {
			o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, phaseFailed, "model_error", o.now().Sub(started)))
			return nil, o.deadlineErr(ctx, err)
		}

		calls, err := llmx.ToolRequests(reply)
		if err != nil {
			// The whole tool round is unusable; the broken assistant
			// message is not persisted, the violation is.
			if appendErr := o.persist(ctx, st, correctionMessage(o.prompts, err)); appendErr != nil {
				return nil, appendErr
			}
			o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, phaseAwaitingLLM, "tool_calls_rejected", o.now().Sub(started)))
			continue
		}

		if len(calls) > 0 {
			state = phaseDispatching
			assistant := contractx.Message{Role: contractx.RoleAssistant, Content: reply.Content, ToolCalls: calls}
			if err := o.persist(ctx, st, assistant); err != nil {
				return nil, err
			}

			results, err := o.gateway.Dispatch(ctx, calls)
			if err != nil {
				o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, phaseFailed, "dispatch_canceled", o.now().Sub(started)))
				return nil, o.deadlineErr(ctx, err)
			}
			resultMsgs := make([]contractx.Message, 0, len(results))
			for _, res := range results {
				resultMsgs = append(resultMsgs, conversation.ResultMessage(res))
			}
			if err := o.persist(ctx, st, resultMsgs...); err != nil {
				return nil, err
			}
			o.emit(ctx, turnEvent(runID, st, req.Mode, turn, results, state, "tools_dispatched", o.now().Sub(started)))
			continue
		}

		// No tool calls: the reply is a terminal candidate.
		state = phaseTerminal
		payload := terminalPayload(reply.Content)
		if err := asm.Validate(payload); err != nil {
			if correctionUsed {
				o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, phaseFailed, "terminal_rejected_twice", o.now().Sub(started)))
				return nil, err
			}
			correctionUsed = true
			assistant := contractx.Message{Role: contractx.RoleAssistant, Content: reply.Content}
			if appendErr := o.persist(ctx, st, assistant, correctionMessage(o.prompts, err)); appendErr != nil {
				return nil, appendErr
			}
			o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, phaseAwaitingLLM, "terminal_rejected", o.now().Sub(started)))
			continue
		}

		answer, err := asm.Assemble(payload, st.ResultList())
		if err != nil {
			o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, phaseFailed, "assembly_failed", o.now().Sub(started)))
			return nil, err
		}
		if err := o.persist(ctx, st, contractx.Message{Role: contractx.RoleAssistant, Content: reply.Content}); err != nil {
			return nil, err
		}
		o.emit(ctx, turnEvent(runID, st, req.Mode, turn, nil, state, "terminal", o.now().Sub(started)))
		return answer, nil
	}

	// Turn cap reached. A degradable result set still yields an answer;
	// otherwise the run failed outright.
	if answer, ok := asm.Degrade(st.ResultList()); ok {
		o.emit(ctx, turnEvent(runID, st, req.Mode, o.maxTurns, nil, phaseTerminal, "degraded", 0))
		return answer, nil
	}
	o.emit(ctx, turnEvent(runID, st, req.Mode, o.maxTurns, nil, phaseFailed, "exhausted", 0))
	return nil, fmt.Errorf("%w: no terminal answer after %d turns", contractx.ErrOrchestrationExhausted, o.maxTurns)
}

// loadOrCreate fetches the conversation or creates it on first use.
// Existing conversations must belong to the caller and keep their mode.
func (o *Orchestrator) loadOrCreate(ctx context.Context, req contractx.RunRequest) (*conversation.State, error) {
	st, err := o.store.Load(ctx, req.ConversationID)
	if errors.Is(err, contractx.ErrConversationNotFound) {
		st = conversation.New(req.ConversationID, req.UserID, req.Mode, o.now())
		st.Title = deriveTitle(req.Query)
		if err := o.store.Create(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if st.UserID != req.UserID {
		return nil, fmt.Errorf("%w: conversation %s", contractx.ErrNotOwner, req.ConversationID)
	}
	if st.Mode != req.Mode {
		return nil, fmt.Errorf("%w: conversation %s is a %s conversation, not %s",
			contractx.ErrValidation, req.ConversationID, st.Mode, req.Mode)
	}
	return st, nil
}

// appendUserTurn persists the caller context (first run only) and the
// query itself.
func (o *Orchestrator) appendUserTurn(ctx context.Context, st *conversation.State, req contractx.RunRequest) error {
	var msgs []contractx.Message
	if len(st.Messages) == 0 && strings.TrimSpace(req.LocalTime) != "" {
		msgs = append(msgs, contractx.Message{
			Role:    contractx.RoleUser,
			Content: fmt.Sprintf("Context: the user's local time is %s.", strings.TrimSpace(req.LocalTime)),
		})
	}
	msgs = append(msgs, contractx.Message{Role: contractx.RoleUser, Content: req.Query})
	return o.persist(ctx, st, msgs...)
}

// persist appends to the in-memory state and the store in one step so
// the two can not drift within a run.
func (o *Orchestrator) persist(ctx context.Context, st *conversation.State, msgs ...contractx.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	st.Append(msgs...)
	st.Touch(o.now())
	return o.store.Append(ctx, st.ID, msgs)
}

func (o *Orchestrator) emit(ctx context.Context, ev contractx.TurnEvent) {
	o.sink.Emit(ctx, ev)
}

// deadlineErr maps a run that died with an expired deadline onto
// ErrOrchestrationTimeout; other causes pass through.
func (o *Orchestrator) deadlineErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", contractx.ErrOrchestrationTimeout, err)
	}
	return err
}

func correctionMessage(prompts promptx.PromptSet, cause error) contractx.Message {
	return contractx.Message{
		Role:    contractx.RoleUser,
		Content: prompts.RenderCorrection(cause.Error()),
	}
}

func turnEvent(runID string, st *conversation.State, mode contractx.Mode, turn int, results []contractx.ToolResult, state phase, outcome string, elapsed time.Duration) contractx.TurnEvent {
	ev := contractx.TurnEvent{
		RunID:          runID,
		ConversationID: st.ID,
		Mode:           mode,
		Turn:           turn,
		Terminal:       state == phaseTerminal,
		Outcome:        outcome,
		Elapsed:        elapsed,
	}
	for _, res := range results {
		ev.ToolCalls = append(ev.ToolCalls, contractx.ToolCallAudit{
			CallID: res.CallID,
			Tool:   res.Tool,
			OK:     res.OK,
			Reason: res.Reason,
		})
	}
	return ev
}

// terminalPayload trims the reply and unwraps a fenced code block when
// the model added one around its JSON.
func terminalPayload(content string) json.RawMessage {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return json.RawMessage(s)
}

func deriveTitle(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	if title == "" {
		return "Untitled Conversation"
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return title
}

type noopSink struct{}

func (noopSink) Emit(context.Context, contractx.TurnEvent) {}
