package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
)

// Runner executes one orchestration turn per mode: the prompt built by
// agent/prompt goes in, the assistant's reply comes out carrying either
// tool calls or the mode's terminal payload.
type Runner struct {
	turns map[contractx.Mode]compose.Runnable[[]*schema.Message, *schema.Message]
}

var _ contractx.TurnRunner = (*Runner)(nil)

var allModes = []contractx.Mode{
	contractx.ModeQuickDecision,
	contractx.ModeRecommendation,
	contractx.ModeProductDiscovery,
	contractx.ModeResearch,
}

// NewRunner builds one tool-bound chat model per mode from the gateway
// config and compiles its turn graph.
func NewRunner(ctx context.Context, cfg Config, tools []*schema.ToolInfo) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	models := make(map[contractx.Mode]einomodel.ToolCallingChatModel, len(allModes))
	for _, mode := range allModes {
		gw := cfg.GatewayFor(mode)
		chatModel, err := gw.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, mode, err)
		}
		models[mode] = chatModel
	}
	return newRunner(ctx, models, tools)
}

func newRunner(
	ctx context.Context,
	models map[contractx.Mode]einomodel.ToolCallingChatModel,
	tools []*schema.ToolInfo,
) (*Runner, error) {
	turns := make(map[contractx.Mode]compose.Runnable[[]*schema.Message, *schema.Message], len(models))
	for mode, chatModel := range models {
		toolModel, err := chatModel.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for mode=%s: %v", contractx.ErrModelInvoke, mode, err)
		}
		runner, err := compileTurnGraph(ctx, toolModel, fmt.Sprintf("scout.%s.turn_graph", mode))
		if err != nil {
			return nil, err
		}
		turns[mode] = runner
	}
	return &Runner{turns: turns}, nil
}

// Turn runs one model call for the mode.
func (r *Runner) Turn(ctx context.Context, mode contractx.Mode, prompt []*schema.Message) (*schema.Message, error) {
	runner, ok := r.turns[mode]
	if !ok {
		return nil, fmt.Errorf("%w: no turn graph for mode %q", contractx.ErrValidation, mode)
	}
	msg, err := runner.Invoke(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s turn: %v", contractx.ErrModelInvoke, mode, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: %s turn returned no message", contractx.ErrModelInvoke, mode)
	}
	return msg, nil
}

func compileTurnGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	graphName string,
) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()

	if err := graph.AddLambdaNode("guard",
		compose.InvokableLambda(func(ctx context.Context, msgs []*schema.Message) ([]*schema.Message, error) {
			if len(msgs) == 0 {
				return nil, fmt.Errorf("%w: turn prompt is empty", contractx.ErrValidation)
			}
			return msgs, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add turn guard node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add turn model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "guard"); err != nil {
		return nil, fmt.Errorf("add turn edge start->guard: %w", err)
	}
	if err := graph.AddEdge("guard", "model"); err != nil {
		return nil, fmt.Errorf("add turn edge guard->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add turn edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph %s: %w", graphName, err)
	}
	return runner, nil
}

// ToolRequests extracts the tool calls from an assistant reply. A call
// whose arguments are not a JSON object, or whose id is missing or
// duplicated, poisons the whole turn: the orchestrator feeds the error
// back as a correction and retries on the next turn.
func ToolRequests(msg *schema.Message) ([]contractx.ToolCallRequest, error) {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return nil, nil
	}
	reqs := make([]contractx.ToolCallRequest, 0, len(msg.ToolCalls))
	seen := make(map[string]struct{}, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call %q has no tool name", contractx.ErrInvalidToolArguments, call.ID)
		}
		id := strings.TrimSpace(call.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: tool call for %s has no call id", contractx.ErrInvalidToolArguments, name)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate tool call id %q", contractx.ErrInvalidToolArguments, id)
		}
		seen[id] = struct{}{}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: arguments for tool=%s are not a JSON object: %v", contractx.ErrInvalidToolArguments, name, err)
			}
		}

		reqs = append(reqs, contractx.ToolCallRequest{
			ID:   id,
			Tool: contractx.ToolName(name),
			Args: args,
		})
	}
	return reqs, nil
}
