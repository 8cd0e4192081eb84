package orchestrator

import (
	"context"

	contractx "github.com/recmonkey/scout/agent/contract"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZerologSink writes one structured log line per turn event.
type ZerologSink struct{}

var _ contractx.EventSink = ZerologSink{}

func (ZerologSink) Emit(_ context.Context, ev contractx.TurnEvent) {
	calls := zerolog.Arr()
	for _, c := range ev.ToolCalls {
		entry := zerolog.Dict().
			Str("call_id", c.CallID).
			Str("tool", string(c.Tool)).
			Bool("ok", c.OK)
		if c.Reason != "" {
			entry = entry.Str("reason", string(c.Reason))
		}
		calls = calls.Dict(entry)
	}

	log.Info().
		Str("run_id", ev.RunID).
		Str("conversation_id", ev.ConversationID).
		Str("mode", string(ev.Mode)).
		Int("turn", ev.Turn).
		Bool("terminal", ev.Terminal).
		Str("outcome", ev.Outcome).
		Dur("elapsed", ev.Elapsed).
		Array("tool_calls", calls).
		Msg("orchestration turn")
}
