package llm

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/sourcegraph/conc/pool"
)

// Route labels returned by the intake classifier.
const (
	RouteDiscovery = "PRODUCT_DISCOVERY"
	RouteQuick     = "QUICK_DECISION"
	RouteReject    = "REJECT"
)

// RouterPrompts carries the system prompts for the intake flow, loaded
// from agent/prompt by the caller.
type RouterPrompts struct {
	Route       string
	Budget      string
	Diagnostics string
	QuickPrep   string
}

func (p RouterPrompts) validate() error {
	if strings.TrimSpace(p.Route) == "" || strings.TrimSpace(p.Budget) == "" ||
		strings.TrimSpace(p.Diagnostics) == "" || strings.TrimSpace(p.QuickPrep) == "" {
		return fmt.Errorf("%w: router prompts are incomplete", contractx.ErrValidation)
	}
	return nil
}

type routeOutput struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

type budgetOutput struct {
	Question     string               `json:"question"`
	QuestionType string               `json:"questionType"`
	Price        contractx.PriceRange `json:"price"`
}

type diagnosticsOutput struct {
	Questions []contractx.MCQ `json:"questions"`
}

type quickPrepOutput struct {
	NeedLocation bool            `json:"needLocation"`
	Questions    []contractx.MCQ `json:"questions"`
}

// Router classifies fresh queries and generates the pre-run
// questionnaires through short structured model calls.
type Router struct {
	prompts     RouterPrompts
	route       compose.Runnable[map[string]any, routeOutput]
	budget      compose.Runnable[map[string]any, budgetOutput]
	diagnostics compose.Runnable[map[string]any, diagnosticsOutput]
	quickPrep   compose.Runnable[map[string]any, quickPrepOutput]
}

// NewRouter builds the intake model from the router-tier gateway config
// and compiles one structured graph per call shape.
func NewRouter(ctx context.Context, cfg Config, prompts RouterPrompts) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gw := cfg.RouterGateway()
	chatModel, err := gw.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create router model: %v", contractx.ErrModelInvoke, err)
	}
	return newRouter(ctx, chatModel, prompts)
}

func newRouter(ctx context.Context, chatModel einomodel.BaseChatModel, prompts RouterPrompts) (*Router, error) {
	if err := prompts.validate(); err != nil {
		return nil, err
	}

	route, err := compileStructuredGraph[routeOutput](ctx, chatModel, "scout.router.route_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile route graph: %v", contractx.ErrModelInvoke, err)
	}
	budget, err := compileStructuredGraph[budgetOutput](ctx, chatModel, "scout.router.budget_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile budget graph: %v", contractx.ErrModelInvoke, err)
	}
	diagnostics, err := compileStructuredGraph[diagnosticsOutput](ctx, chatModel, "scout.router.diagnostics_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile diagnostics graph: %v", contractx.ErrModelInvoke, err)
	}
	quickPrep, err := compileStructuredGraph[quickPrepOutput](ctx, chatModel, "scout.router.quick_prep_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile quick prep graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Router{
		prompts:     prompts,
		route:       route,
		budget:      budget,
		diagnostics: diagnostics,
		quickPrep:   quickPrep,
	}, nil
}

// Route classifies one fresh query. Rejection comes back as
// ErrQueryRejected carrying the model's user-facing reason.
func (r *Router) Route(ctx context.Context, query string) (contractx.Mode, error) {
	out, err := r.route.Invoke(ctx, r.input(r.prompts.Route, query))
	if err != nil {
		return "", fmt.Errorf("%w: route query: %v", contractx.ErrModelInvoke, err)
	}

	switch strings.ToUpper(strings.TrimSpace(out.Route)) {
	case RouteDiscovery:
		return contractx.ModeProductDiscovery, nil
	case RouteQuick:
		return contractx.ModeQuickDecision, nil
	case RouteReject:
		reason := strings.TrimSpace(out.Reason)
		if reason == "" {
			reason = "the query is not a physical-product purchase question"
		}
		return "", fmt.Errorf("%w: %s", contractx.ErrQueryRejected, reason)
	}
	return "", fmt.Errorf("%w: unrecognized route %q", contractx.ErrModelInvoke, out.Route)
}

// DiscoveryQuestionnaire generates the budget question and the
// diagnostic questions in parallel.
func (r *Router) DiscoveryQuestionnaire(ctx context.Context, query string) (*contractx.MCQ, []contractx.MCQ, error) {
	var (
		budget      *contractx.MCQ
		diagnostics []contractx.MCQ
	)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		out, err := r.budget.Invoke(ctx, r.input(r.prompts.Budget, query))
		if err != nil {
			return fmt.Errorf("%w: budget question: %v", contractx.ErrModelInvoke, err)
		}
		q := contractx.MCQ{
			Question: strings.TrimSpace(out.Question),
			Type:     contractx.QuestionPrice,
			Price:    &contractx.PriceRange{Min: out.Price.Min, Max: out.Price.Max},
		}
		if q.Question == "" {
			return fmt.Errorf("%w: budget question is empty", contractx.ErrModelInvoke)
		}
		budget = &q
		return nil
	})
	p.Go(func(ctx context.Context) error {
		out, err := r.diagnostics.Invoke(ctx, r.input(r.prompts.Diagnostics, query))
		if err != nil {
			return fmt.Errorf("%w: diagnostic questions: %v", contractx.ErrModelInvoke, err)
		}
		if len(out.Questions) == 0 {
			return fmt.Errorf("%w: no diagnostic questions generated", contractx.ErrModelInvoke)
		}
		diagnostics = out.Questions
		return nil
	})
	if err := p.Wait(); err != nil {
		return nil, nil, err
	}
	return budget, diagnostics, nil
}

// QuickPrep generates the optional clarifying questions and the
// location flag for a quick-decision query.
func (r *Router) QuickPrep(ctx context.Context, query string) ([]contractx.MCQ, bool, error) {
	out, err := r.quickPrep.Invoke(ctx, r.input(r.prompts.QuickPrep, query))
	if err != nil {
		return nil, false, fmt.Errorf("%w: quick prep: %v", contractx.ErrModelInvoke, err)
	}
	return out.Questions, out.NeedLocation, nil
}

func (r *Router) input(system, query string) map[string]any {
	return map[string]any{
		"system": system,
		"input":  query,
	}
}

// compileStructuredGraph wires prompt -> model -> JSON parser for an
// output type. The system prompt rides in as a template variable so its
// braces never hit the formatter.
func compileStructuredGraph[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	graphName string,
) (compose.Runnable[map[string]any, T], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, T]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add structured prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add structured model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add structured parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add structured edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add structured edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add structured edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add structured edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile structured graph: %w", err)
	}
	return runner, nil
}
