package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// MemoryStore keeps conversations in process memory. It backs tests
// and single-instance local runs; production uses PostgresStore.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]*State
	deleted map[string]bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[string]*State),
		deleted: make(map[string]bool),
	}
}

func (s *MemoryStore) Load(ctx context.Context, conversationID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[conversationID]
	if !ok || s.deleted[conversationID] {
		return nil, contractx.ErrConversationNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, st *State) error {
	if st == nil {
		return fmt.Errorf("%w: state is nil", contractx.ErrValidation)
	}
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[st.ID]; exists {
		return fmt.Errorf("%w: conversation %s already exists", contractx.ErrValidation, st.ID)
	}
	s.states[st.ID] = st.Clone()
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, conversationID string, msgs []contractx.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[conversationID]
	if !ok || s.deleted[conversationID] {
		return contractx.ErrConversationNotFound
	}
	st.Append(msgs...)
	st.Touch(time.Now())
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, limit int, cursor string) ([]Summary, string, error) {
	if limit <= 0 || limit > 50 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	var all []Summary
	for id, st := range s.states {
		if st.UserID != userID || s.deleted[id] {
			continue
		}
		all = append(all, Summary{
			ConversationID: id,
			Title:          st.Title,
			Mode:           st.Mode,
			UpdatedAt:      st.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ConversationID > all[j].ConversationID
	})

	start := 0
	if cursor != "" {
		for i, item := range all {
			if item.ConversationID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, "", nil
	}

	end := start + limit
	next := ""
	if end < len(all) {
		next = all[end-1].ConversationID
	} else {
		end = len(all)
	}
	return all[start:end], next, nil
}

func (s *MemoryStore) Rename(ctx context.Context, userID, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.owned(userID, conversationID)
	if err != nil {
		return err
	}
	st.Title = strings.TrimSpace(title)
	st.Touch(time.Now())
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(userID, conversationID); err != nil {
		return err
	}
	s.deleted[conversationID] = true
	return nil
}

func (s *MemoryStore) owned(userID, conversationID string) (*State, error) {
	st, ok := s.states[conversationID]
	if !ok || s.deleted[conversationID] {
		return nil, contractx.ErrConversationNotFound
	}
	if st.UserID != userID {
		return nil, contractx.ErrNotOwner
	}
	return st, nil
}
