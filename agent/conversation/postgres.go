package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/recmonkey/scout/agent/contract"
)

const defaultListLimit = 20

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	Mode      string    `bun:"mode,notnull"`
	Title     string    `bun:"title,nullzero"`
	Deleted   bool      `bun:"deleted,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:conversation_messages,alias:m"`

	ID             int64           `bun:"id,pk,autoincrement"`
	ConversationID string          `bun:"conversation_id,notnull"`
	Seq            int             `bun:"seq,notnull"`
	Payload        json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
}

// PostgresStore persists conversations and their append-only message
// sequences.
type PostgresStore struct {
	db *bun.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the backing tables when missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	models := []any{(*conversationRow)(nil), (*messageRow)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	_, err := s.db.NewCreateIndex().
		Model((*messageRow)(nil)).
		Index("idx_conversation_messages_conv_seq").
		Column("conversation_id", "seq").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create message index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, conversationID string) (*State, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversation id is empty", contractx.ErrValidation)
	}

	var conv conversationRow
	err := s.db.NewSelect().
		Model(&conv).
		Where("c.id = ?", conversationID).
		Where("c.deleted = FALSE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contractx.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	var rows []messageRow
	if err := s.db.NewSelect().
		Model(&rows).
		Where("m.conversation_id = ?", conversationID).
		Order("m.seq ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", conversationID, err)
	}

	st := New(conv.ID, conv.UserID, contractx.Mode(conv.Mode), conv.CreatedAt)
	st.Title = conv.Title
	st.CreatedAt = conv.CreatedAt
	st.UpdatedAt = conv.UpdatedAt
	for _, row := range rows {
		var msg contractx.Message
		if err := json.Unmarshal(row.Payload, &msg); err != nil {
			return nil, fmt.Errorf("decode message seq=%d for %s: %w", row.Seq, conversationID, err)
		}
		st.Append(msg)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation state loaded from store: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Create(ctx context.Context, st *State) error {
	if st == nil {
		return fmt.Errorf("%w: state is nil", contractx.ErrValidation)
	}
	if err := st.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	conv := conversationRow{
		ID:        st.ID,
		UserID:    st.UserID,
		Mode:      string(st.Mode),
		Title:     st.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&conv).Exec(ctx); err != nil {
			return fmt.Errorf("insert conversation %s: %w", st.ID, err)
		}
		return insertMessages(ctx, tx, st.ID, 0, st.Messages, now)
	})
}

func (s *PostgresStore) Append(ctx context.Context, conversationID string, msgs []contractx.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		next, err := nextSeq(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if err := insertMessages(ctx, tx, conversationID, next, msgs, now); err != nil {
			return err
		}
		res, err := tx.NewUpdate().
			Model((*conversationRow)(nil)).
			Set("updated_at = ?", now).
			Where("id = ?", conversationID).
			Where("deleted = FALSE").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("touch conversation %s: %w", conversationID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return contractx.ErrConversationNotFound
		}
		return nil
	})
}

func (s *PostgresStore) List(ctx context.Context, userID string, limit int, cursor string) ([]Summary, string, error) {
	if limit <= 0 || limit > 50 {
		limit = defaultListLimit
	}

	q := s.db.NewSelect().
		Model((*conversationRow)(nil)).
		Column("id", "title", "mode", "updated_at").
		Where("user_id = ?", userID).
		Where("deleted = FALSE").
		Order("updated_at DESC", "id DESC").
		Limit(limit + 1)

	if cursor != "" {
		var anchor conversationRow
		err := s.db.NewSelect().
			Model(&anchor).
			Where("c.id = ?", cursor).
			Where("c.user_id = ?", userID).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("resolve history cursor: %w", err)
		}
		if err == nil {
			q = q.Where("(updated_at, id) < (?, ?)", anchor.UpdatedAt, anchor.ID)
		}
	}

	var rows []conversationRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, "", fmt.Errorf("list history for user %s: %w", userID, err)
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = rows[len(rows)-1].ID
	}

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, Summary{
			ConversationID: row.ID,
			Title:          row.Title,
			Mode:           contractx.Mode(row.Mode),
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return out, next, nil
}

func (s *PostgresStore) Rename(ctx context.Context, userID, conversationID, title string) error {
	return s.ownedUpdate(ctx, userID, conversationID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("title = ?", title).Set("updated_at = ?", time.Now().UTC())
	})
}

// Delete soft-deletes; message rows stay (retention is external).
func (s *PostgresStore) Delete(ctx context.Context, userID, conversationID string) error {
	return s.ownedUpdate(ctx, userID, conversationID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("deleted = TRUE").Set("updated_at = ?", time.Now().UTC())
	})
}

// ownedUpdate applies an update only when the conversation exists and
// belongs to userID, distinguishing not-found from not-owner.
func (s *PostgresStore) ownedUpdate(ctx context.Context, userID, conversationID string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	var conv conversationRow
	err := s.db.NewSelect().
		Model(&conv).
		Where("c.id = ?", conversationID).
		Where("c.deleted = FALSE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if conv.UserID != userID {
		return contractx.ErrNotOwner
	}

	q := s.db.NewUpdate().
		Model((*conversationRow)(nil)).
		Where("id = ?", conversationID)
	if _, err := apply(q).Exec(ctx); err != nil {
		return fmt.Errorf("update conversation %s: %w", conversationID, err)
	}
	return nil
}

func nextSeq(ctx context.Context, tx bun.Tx, conversationID string) (int, error) {
	var max sql.NullInt64
	err := tx.NewSelect().
		Model((*messageRow)(nil)).
		ColumnExpr("MAX(seq)").
		Where("conversation_id = ?", conversationID).
		Scan(ctx, &max)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("next seq for %s: %w", conversationID, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

func insertMessages(ctx context.Context, tx bun.Tx, conversationID string, from int, msgs []contractx.Message, now time.Time) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]messageRow, 0, len(msgs))
	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		rows = append(rows, messageRow{
			ConversationID: conversationID,
			Seq:            from + i,
			Payload:        payload,
			CreatedAt:      now,
		})
	}
	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert %d messages for %s: %w", len(rows), conversationID, err)
	}
	return nil
}
