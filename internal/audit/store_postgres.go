package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	platformtx "dbis/pkg/platform/tx"
)

// PostgresStore persists audit events in PostgreSQL. shipped_at doubles as
// the outbox cursor: NULL rows are waiting for the Kafka worker.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// writer returns the ambient transaction when one is in flight so Append can
// join a caller's unit of work.
func (s *PostgresStore) writer(ctx context.Context) execer {
	if dbTx, ok := platformtx.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (occurred_at, identity_id, user_id, action, detail, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.writer(ctx).ExecContext(ctx, query,
		event.Timestamp,
		event.IdentityID,
		event.UserID,
		event.Action,
		event.Detail,
		event.TxHash,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByIdentity(ctx context.Context, identityID string) ([]Event, error) {
	query := `
		SELECT occurred_at, identity_id, user_id, action, detail, tx_hash
		FROM audit_events
		WHERE identity_id = $1
		ORDER BY occurred_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.Timestamp, &event.IdentityID, &event.UserID, &event.Action, &event.Detail, &event.TxHash); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) NextUnshipped(ctx context.Context, limit int) ([]StoredEvent, error) {
	query := `
		SELECT seq, occurred_at, identity_id, user_id, action, detail, tx_hash
		FROM audit_events
		WHERE shipped_at IS NULL
		ORDER BY seq ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unshipped audit events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var stored StoredEvent
		if err := rows.Scan(
			&stored.Seq,
			&stored.Event.Timestamp,
			&stored.Event.IdentityID,
			&stored.Event.UserID,
			&stored.Event.Action,
			&stored.Event.Detail,
			&stored.Event.TxHash,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unshipped audit events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkShipped(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE audit_events SET shipped_at = NOW() WHERE seq = ANY($1::bigint[])`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark audit events shipped: %w", err)
	}
	return nil
}
