// Package share issues durable, publicly resolvable references to
// terminal answers. Records are write-once: there is no update or
// delete, and a share id stays valid for the life of the store.
package share

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

// tokenBytes of entropy encode to a 22-character URL-safe share id.
const tokenBytes = 16

// Record is the stored form of a share: the answer is kept serialized
// so a decode returns exactly what was encoded.
type Record struct {
	ID             string
	ConversationID string
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// Store persists share records. Put must refuse an id that already
// exists; Get returns contract.ErrShareNotFound for unknown ids.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, shareID string) (*Record, error)
}

// Service encodes terminal answers into share records and resolves
// them back.
type Service struct {
	store Store
	now   func() time.Time
	newID func() (string, error)
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("share: store is required")
	}
	return &Service{store: store, now: time.Now, newID: newShareID}, nil
}

// Encode snapshots answer into a new immutable record and returns its
// share id.
func (s *Service) Encode(ctx context.Context, conversationID string, answer *contractx.TerminalAnswer) (string, error) {
	if err := answer.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("encode share payload: %w", err)
	}
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("mint share id: %w", err)
	}
	rec := Record{
		ID:             id,
		ConversationID: conversationID,
		Payload:        payload,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store share %s: %w", id, err)
	}
	return id, nil
}

// Decode resolves a share id back to the answer it was minted from.
func (s *Service) Decode(ctx context.Context, shareID string) (*contractx.TerminalAnswer, error) {
	if strings.TrimSpace(shareID) == "" {
		return nil, fmt.Errorf("%w: share id is empty", contractx.ErrValidation)
	}
	rec, err := s.store.Get(ctx, shareID)
	if err != nil {
		return nil, err
	}
	var answer contractx.TerminalAnswer
	if err := json.Unmarshal(rec.Payload, &answer); err != nil {
		return nil, fmt.Errorf("decode share %s: %w", shareID, err)
	}
	return &answer, nil
}

func newShareID() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
