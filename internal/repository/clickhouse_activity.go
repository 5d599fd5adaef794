package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// ActivityQuery filters the audit read model. Empty fields match everything.
type ActivityQuery struct {
	CustomerID string
	Action     model.Action
	Actor      string
	Limit      int
	Offset     int
}

// ActivityReader lists activity from ClickHouse, newest first.
type ActivityReader interface {
	ListActivity(ctx context.Context, q ActivityQuery) ([]model.ActivityLog, error)
}

// ActivityWriter appends a batch of activity rows.
type ActivityWriter interface {
	InsertActivity(ctx context.Context, logs []model.ActivityLog) error
}

// CHActivityRepository is the ClickHouse audit table. Rows are keyed by event
// ID in a ReplacingMergeTree, so redelivered events collapse on merge.
type CHActivityRepository struct {
	ch *sqlx.DB
}

var (
	_ ActivityReader = (*CHActivityRepository)(nil)
	_ ActivityWriter = (*CHActivityRepository)(nil)
)

func NewCHActivityRepository(ch *sqlx.DB) *CHActivityRepository {
	return &CHActivityRepository{ch: ch}
}

func (r *CHActivityRepository) ListActivity(ctx context.Context, q ActivityQuery) ([]model.ActivityLog, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	query := `
		SELECT id, created_at, action, customer_id, details, actor, backend
		FROM crm.activity_log FINAL
		WHERE 1 = 1
	`
	args := make([]any, 0, 5)

	if q.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, q.CustomerID)
	}
	if q.Action != "" {
		query += " AND action = ?"
		args = append(args, q.Action.String())
	}
	if q.Actor != "" {
		query += " AND actor = ?"
		args = append(args, q.Actor)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows := make([]model.ActivityLog, 0)
	if err := r.ch.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list activity: %v", ErrBackendUnavailable, err)
	}
	return rows, nil
}

// InsertActivity sends the batch as one ClickHouse block.
func (r *CHActivityRepository) InsertActivity(ctx context.Context, logs []model.ActivityLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crm.activity_log (id, created_at, action, customer_id, details, actor, backend)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range logs {
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.Timestamp.UTC(), l.Action.String(), l.CustomerID, l.Detail, l.Actor, l.Backend,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
