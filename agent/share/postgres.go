package share

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/recmonkey/scout/agent/contract"
)

type shareRow struct {
	bun.BaseModel `bun:"table:share_records,alias:s"`

	ID             string          `bun:"id,pk"`
	ConversationID string          `bun:"conversation_id,nullzero"`
	Payload        json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
}

// PostgresStore persists share records. The primary key enforces the
// write-once contract; there are no update or delete paths.
type PostgresStore struct {
	db *bun.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the backing table when missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*shareRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create share_records table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	row := shareRow{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		Payload:        rec.Payload,
		CreatedAt:      rec.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert share %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, shareID string) (*Record, error) {
	var row shareRow
	err := s.db.NewSelect().
		Model(&row).
		Where("s.id = ?", shareID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contractx.ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load share %s: %w", shareID, err)
	}
	return &Record{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Payload:        row.Payload,
		CreatedAt:      row.CreatedAt,
	}, nil
}
