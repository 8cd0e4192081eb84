package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects one of the four research flows and fixes the terminal
// answer kind the orchestrator must converge on.
type Mode string

const (
	ModeQuickDecision    Mode = "quick_decision"
	ModeRecommendation   Mode = "recommendation"
	ModeProductDiscovery Mode = "product_discovery"
	ModeResearch         Mode = "research"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeQuickDecision, ModeRecommendation, ModeProductDiscovery, ModeResearch:
		return true
	}
	return false
}

func (m Mode) AnswerKind() AnswerKind {
	switch m {
	case ModeQuickDecision:
		return AnswerQuickDecision
	case ModeRecommendation:
		return AnswerRecommendationSet
	case ModeProductDiscovery:
		return AnswerDiscoveryResult
	case ModeResearch:
		return AnswerResearchReport
	}
	return ""
}

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolName is the closed adapter set. Adding a tool means adding a
// constant, its adapter, and its schemas in agent/tool.
type ToolName string

const (
	ToolSearch ToolName = "search"
	ToolParse  ToolName = "parse"
	ToolEnrich ToolName = "enrich"
	ToolLocate ToolName = "locate"
)

func (t ToolName) Valid() bool {
	switch t {
	case ToolSearch, ToolParse, ToolEnrich, ToolLocate:
		return true
	}
	return false
}

// FailReason tags a failed ToolResult so the next LLM turn can decide
// whether to retry, substitute, or proceed without the data.
type FailReason string

const (
	FailInvalidArguments FailReason = "invalid_tool_arguments"
	FailTimeout          FailReason = "tool_timeout"
	FailUpstream         FailReason = "tool_failure"
)

// Message is one entry in a conversation: a user query, an assistant
// reply (optionally carrying pending tool calls), or a tool result.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	// CallID links a tool_result message back to its request; Result
	// keeps the full typed result so failure tags survive persistence.
	CallID string      `json:"call_id,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

type ToolCallRequest struct {
	ID   string         `json:"id"`
	Tool ToolName       `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	CallID  string          `json:"call_id"`
	Tool    ToolName        `json:"tool"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  FailReason      `json:"reason,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Feedback renders the result as the content of a tool_result message.
// Failures are phrased so the model can recover without the data.
func (r ToolResult) Feedback() string {
	if r.OK {
		return string(r.Payload)
	}
	return fmt.Sprintf(`{"error":%q,"reason":%q}`, r.Error, r.Reason)
}

type AnswerKind string

const (
	AnswerQuickDecision     AnswerKind = "quick_decision"
	AnswerRecommendationSet AnswerKind = "recommendation_set"
	AnswerDiscoveryResult   AnswerKind = "product_discovery_result"
	AnswerResearchReport    AnswerKind = "research_result"
)

// TerminalAnswer is the structured final output of an orchestration run.
// Exactly one payload field matching Kind is set. Degraded marks a
// partial answer synthesized from accumulated tool results after the
// turn cap was reached.
type TerminalAnswer struct {
	Kind            AnswerKind         `json:"kind"`
	Degraded        bool               `json:"degraded,omitempty"`
	Quick           *QuickDecision     `json:"quick_decision,omitempty"`
	Recommendations *RecommendationSet `json:"recommendation_set,omitempty"`
	Discovery       *DiscoveryResult   `json:"product_discovery_result,omitempty"`
	Research        *ResearchReport    `json:"research_result,omitempty"`
}

func (a *TerminalAnswer) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: terminal answer is nil", ErrValidation)
	}
	set := 0
	if a.Quick != nil {
		set++
		if a.Kind != AnswerQuickDecision {
			return fmt.Errorf("%w: quick_decision payload under kind=%s", ErrValidation, a.Kind)
		}
	}
	if a.Recommendations != nil {
		set++
		if a.Kind != AnswerRecommendationSet {
			return fmt.Errorf("%w: recommendation_set payload under kind=%s", ErrValidation, a.Kind)
		}
	}
	if a.Discovery != nil {
		set++
		if a.Kind != AnswerDiscoveryResult {
			return fmt.Errorf("%w: product_discovery_result payload under kind=%s", ErrValidation, a.Kind)
		}
	}
	if a.Research != nil {
		set++
		if a.Kind != AnswerResearchReport {
			return fmt.Errorf("%w: research_result payload under kind=%s", ErrValidation, a.Kind)
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: terminal answer must carry exactly one payload, got %d", ErrValidation, set)
	}
	return nil
}

// QuickDecision is a single decisive verdict with its data-backed
// rationale.
type QuickDecision struct {
	Verdict   string   `json:"verdict"`
	Rationale string   `json:"rationale"`
	Sources   []string `json:"sources,omitempty"`
}

// RecommendationSet is the full recommendation report plus the
// machine-readable product lists extracted from it.
type RecommendationSet struct {
	Report       string   `json:"report"`
	TopPicks     []string `json:"top_picks"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// DiscoveryResult lists concrete purchase options found by search.
type DiscoveryResult struct {
	Summary string          `json:"summary"`
	Items   []DiscoveryItem `json:"items"`
}

type DiscoveryItem struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	URL    string  `json:"url,omitempty"`
	Price  float64 `json:"price,omitempty"`
	Source string  `json:"source,omitempty"`
}

// ResearchReport is a deep-dive synthesis for one product.
type ResearchReport struct {
	Product string   `json:"product"`
	Report  string   `json:"report"`
	Sources []string `json:"sources,omitempty"`
}

// ShareRecord is an immutable, publicly resolvable snapshot of a
// terminal answer. Write-once: no update or delete.
type ShareRecord struct {
	ID             string         `json:"share_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Answer         TerminalAnswer `json:"answer"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RunRequest is the orchestrator entrypoint payload.
type RunRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Query          string `json:"query"`
	Mode           Mode   `json:"mode"`
	// Optional caller context, used by quick-decision runs.
	ClientIP  string `json:"client_ip,omitempty"`
	LocalTime string `json:"local_time,omitempty"`
}

func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrValidation, r.Mode)
	}
	return nil
}

// TurnEvent is the per-turn audit record handed to the EventSink as
// data; formatting is the sink's concern.
type TurnEvent struct {
	RunID          string          `json:"run_id"`
	ConversationID string          `json:"conversation_id"`
	Mode           Mode            `json:"mode"`
	Turn           int             `json:"turn"`
	ToolCalls      []ToolCallAudit `json:"tool_calls,omitempty"`
	Terminal       bool            `json:"terminal"`
	Outcome        string          `json:"outcome,omitempty"`
	Elapsed        time.Duration   `json:"elapsed"`
}

type ToolCallAudit struct {
	CallID string     `json:"call_id"`
	Tool   ToolName   `json:"tool"`
	OK     bool       `json:"ok"`
	Reason FailReason `json:"reason,omitempty"`
}

// QuestionType classifies questionnaire questions.
type QuestionType string

const (
	QuestionPrice  QuestionType = "price"
	QuestionSingle QuestionType = "single"
	QuestionMulti  QuestionType = "multi"
)

// PriceRange is a budget bracket; zero values mean "unbounded".
type PriceRange struct {
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`
}

// MCQ is one questionnaire question shown before a discovery or
// quick-decision run. Price questions carry a suggested range instead
// of options.
type MCQ struct {
	Question    string       `json:"question"`
	Type        QuestionType `json:"questionType"`
	Description string       `json:"description,omitempty"`
	Price       *PriceRange  `json:"price,omitempty"`
	Options     []MCQOption  `json:"options,omitempty"`
}

// MCQOption is a selectable choice. IsOther signals the UI to render a
// free-text field; it is never added as a literal option label.
type MCQOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	IsOther     bool   `json:"isOther,omitempty"`
}

// UserAnswer pairs a questionnaire question with the user's selection.
type UserAnswer struct {
	Question string       `json:"question"`
	Type     QuestionType `json:"questionType"`
	IsOther  bool         `json:"isOther,omitempty"`
	Answers  []string     `json:"answers,omitempty"`
	Price    *PriceRange  `json:"price,omitempty"`
}

// RoutePlan is the outcome of routing one fresh query: the flow to
// start plus the questionnaire the client shows before running it.
type RoutePlan struct {
	Route               Mode   `json:"route"`
	ConversationID      string `json:"conversationId"`
	BudgetQuestion      *MCQ   `json:"budgetQuestion,omitempty"`
	DiagnosticQuestions []MCQ  `json:"diagnosticQuestions,omitempty"`
	QuickQuestions      []MCQ  `json:"quickQuestions,omitempty"`
	NeedLocation        bool   `json:"needLocation,omitempty"`
}
