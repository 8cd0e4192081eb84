package share

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	contractx "github.com/recmonkey/scout/agent/contract"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func discoveryAnswer() *contractx.TerminalAnswer {
	return &contractx.TerminalAnswer{
		Kind: contractx.AnswerDiscoveryResult,
		Discovery: &contractx.DiscoveryResult{
			Summary: "Two desks fit the budget.",
			Items: []contractx.DiscoveryItem{
				{ID: "prod-1a2b3c4d", Name: "Desk A", URL: "https://shop.example/a", Price: 249, Source: "ShopA"},
				{ID: "prod-5e6f7a8b", Name: "Desk B", URL: "https://shop.example/b", Price: 289, Source: "ShopB"},
			},
		},
	}
}

func TestShareRoundtrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	want := discoveryAnswer()

	id, err := svc.Encode(context.Background(), "conv-1", want)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(id) != 22 {
		t.Fatalf("share id length = %d, want 22: %q", len(id), id)
	}
	if strings.ContainsAny(id, "+/=") {
		t.Fatalf("share id is not URL-safe: %q", id)
	}

	got, err := svc.Decode(context.Background(), id)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode() = %#v, want %#v", got, want)
	}
}

func TestShareDecodeUnknownID(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, err := svc.Decode(context.Background(), "does-not-exist-anywhere")
	if !errors.Is(err, contractx.ErrShareNotFound) {
		t.Fatalf("expected ErrShareNotFound, got %v", err)
	}
}

func TestShareDecodeEmptyID(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	_, err := svc.Decode(context.Background(), "  ")
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestShareEncodeRejectsInvalidAnswer(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	cases := map[string]*contractx.TerminalAnswer{
		"nil answer": nil,
		"no payload": {Kind: contractx.AnswerQuickDecision},
		"mismatched kind": {
			Kind:  contractx.AnswerResearchReport,
			Quick: &contractx.QuickDecision{Verdict: "buy", Rationale: "ok"},
		},
	}
	for name, answer := range cases {
		answer := answer
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Encode(context.Background(), "conv-1", answer); !errors.Is(err, contractx.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestShareIDsAreUnique(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	answer := discoveryAnswer()
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		id, err := svc.Encode(context.Background(), "conv-1", answer)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate share id minted: %q", id)
		}
		seen[id] = true
	}
}

func TestMemoryStoreIsWriteOnce(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	rec := Record{ID: "abc", Payload: []byte(`{}`), CreatedAt: time.Now().UTC()}
	if err := store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(context.Background(), rec); err == nil {
		t.Fatal("second Put() with the same id must fail")
	}
}

func TestShareRecordIsolatedFromCallerMutation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	answer := discoveryAnswer()
	id, err := svc.Encode(context.Background(), "conv-1", answer)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	answer.Discovery.Items[0].Name = "mutated after encode"

	got, err := svc.Decode(context.Background(), id)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Discovery.Items[0].Name != "Desk A" {
		t.Fatalf("stored answer changed after caller mutation: %q", got.Discovery.Items[0].Name)
	}
}
