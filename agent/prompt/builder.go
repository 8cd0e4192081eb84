package prompt

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/recmonkey/scout/agent/contract"
)

// DefaultRuneBudget bounds the serialized prompt size before old
// messages are dropped.
const DefaultRuneBudget = 24000

// Builder turns conversation messages into the model prompt for a
// mode. Build is deterministic: the same state and mode always produce
// the same message sequence.
type Builder struct {
	set    PromptSet
	budget int
}

type Option func(*Builder)

// WithRuneBudget overrides the prompt rune budget.
func WithRuneBudget(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.budget = n
		}
	}
}

func NewBuilder(set PromptSet, opts ...Option) *Builder {
	b := &Builder{set: set, budget: DefaultRuneBudget}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build prepends the mode's system template and serializes the ordered
// conversation under the rune budget. Over budget, the oldest segments
// go first; the latest user query and the latest tool round (assistant
// calls plus their results) survive regardless.
func (b *Builder) Build(mode contractx.Mode, msgs []contractx.Message) ([]*schema.Message, error) {
	system, err := b.set.System(mode)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: cannot build a prompt from an empty conversation", contractx.ErrValidation)
	}

	segs := segment(msgs)
	markProtected(segs)

	total := utf8.RuneCountInString(system)
	for _, s := range segs {
		total += s.runes
	}
	for total > b.budget {
		dropped := false
		for i, s := range segs {
			if s == nil || s.protected {
				continue
			}
			total -= s.runes
			segs[i] = nil
			dropped = true
			break
		}
		if !dropped {
			break // only protected segments left
		}
	}

	out := make([]*schema.Message, 0, len(msgs)+1)
	out = append(out, schema.SystemMessage(system))
	for _, s := range segs {
		if s == nil {
			continue
		}
		for _, m := range s.msgs {
			sm, err := toSchema(m)
			if err != nil {
				return nil, err
			}
			out = append(out, sm)
		}
	}
	return out, nil
}

// seg is a drop unit: one standalone message, or one tool round
// (assistant call message plus its contiguous results). Rounds drop as
// a unit so the prompt never carries results without their calls.
type seg struct {
	msgs      []contractx.Message
	runes     int
	round     bool
	hasUser   bool
	protected bool
}

func segment(msgs []contractx.Message) []*seg {
	var segs []*seg
	for _, m := range msgs {
		if m.Role == contractx.RoleToolResult && len(segs) > 0 && segs[len(segs)-1].round {
			cur := segs[len(segs)-1]
			cur.msgs = append(cur.msgs, m)
			cur.runes += messageCost(m)
			continue
		}
		segs = append(segs, &seg{
			msgs:    []contractx.Message{m},
			runes:   messageCost(m),
			round:   m.Role == contractx.RoleAssistant && len(m.ToolCalls) > 0,
			hasUser: m.Role == contractx.RoleUser,
		})
	}
	return segs
}

func markProtected(segs []*seg) {
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].hasUser {
			segs[i].protected = true
			break
		}
	}
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i].round {
			segs[i].protected = true
			break
		}
	}
}

func messageCost(m contractx.Message) int {
	n := utf8.RuneCountInString(m.Content)
	for _, call := range m.ToolCalls {
		n += utf8.RuneCountInString(string(call.Tool))
		if args, err := json.Marshal(call.Args); err == nil {
			n += utf8.RuneCountInString(string(args))
		}
	}
	return n
}

func toSchema(m contractx.Message) (*schema.Message, error) {
	switch m.Role {
	case contractx.RoleUser:
		return schema.UserMessage(m.Content), nil
	case contractx.RoleAssistant:
		out := &schema.Message{Role: schema.Assistant, Content: m.Content}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal args for call=%s: %v", contractx.ErrValidation, call.ID, err)
			}
			out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      string(call.Tool),
					Arguments: string(args),
				},
			})
		}
		return out, nil
	case contractx.RoleToolResult:
		return schema.ToolMessage(m.Content, m.CallID), nil
	}
	return nil, fmt.Errorf("%w: message role %q has no model mapping", contractx.ErrValidation, m.Role)
}
