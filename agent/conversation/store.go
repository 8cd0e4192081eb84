package conversation

import (
	"context"
	"sync"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// Store is the persistence contract used by the orchestrator and the
// history endpoints. Load returns ErrConversationNotFound for unknown
// or deleted conversations; the orchestrator creates the state on the
// first query for a new identifier.
type Store interface {
	Load(ctx context.Context, conversationID string) (*State, error)
	Create(ctx context.Context, st *State) error
	Append(ctx context.Context, conversationID string, msgs []contractx.Message) error

	List(ctx context.Context, userID string, limit int, cursor string) ([]Summary, string, error)
	Rename(ctx context.Context, userID, conversationID, title string) error
	Delete(ctx context.Context, userID, conversationID string) error
}

// Summary is one history list entry.
type Summary struct {
	ConversationID string         `json:"conversation_id"`
	Title          string         `json:"title"`
	Mode           contractx.Mode `json:"mode"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Locker grants exclusive per-conversation ownership to one
// orchestration run at a time. Acquire fails immediately rather than
// queueing; contention is surfaced to the caller as retryable.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

func (l *Locker) Acquire(conversationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[conversationID]; busy {
		return contractx.ErrConversationLocked
	}
	l.held[conversationID] = struct{}{}
	return nil
}

func (l *Locker) Release(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, conversationID)
}
