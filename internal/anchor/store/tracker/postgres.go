package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"dbis/internal/anchor/models"
	"dbis/internal/ledger"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
	platformtx "dbis/pkg/platform/tx"
)

// PostgresStore persists ledger transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tracker.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `hash, identity_id, kind, status, block_number, raw, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// writer returns the ambient transaction when one is in flight so Record can
// participate in a caller's unit of work.
func (s *PostgresStore) writer(ctx context.Context) execer {
	if dbTx, ok := platformtx.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *PostgresStore) Record(ctx context.Context, tx *models.LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.writer(ctx).ExecContext(ctx, query,
		tx.Hash,
		uuid.UUID(tx.IdentityID),
		string(tx.Kind),
		string(tx.Status),
		nullUint(tx.BlockNumber),
		tx.Raw,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("record ledger transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*models.LedgerTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM ledger_transactions WHERE hash = $1`
	return scanTransaction(s.db.QueryRowContext(ctx, query, hash))
}

// Finalize serializes outcome application through SELECT ... FOR UPDATE, the
// same discipline the identity store uses for anchoring transitions.
func (s *PostgresStore) Finalize(ctx context.Context, hash string, fn func(*models.LedgerTransaction) error) (*models.LedgerTransaction, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tracker transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	query := `SELECT ` + txColumns + ` FROM ledger_transactions WHERE hash = $1 FOR UPDATE`
	tx, err := scanTransaction(dbTx.QueryRowContext(ctx, query, hash))
	if err != nil {
		return nil, err
	}

	if err := fn(tx); err != nil {
		return nil, err
	}

	update := `
		UPDATE ledger_transactions
		SET status = $2, block_number = $3, updated_at = $4
		WHERE hash = $1
	`
	if _, err := dbTx.ExecContext(ctx, update,
		tx.Hash,
		string(tx.Status),
		nullUint(tx.BlockNumber),
		tx.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("finalize ledger transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tracker transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) LatestFor(ctx context.Context, identityID id.IdentityID, kind string) (*models.LedgerTransaction, error) {
	query := `
		SELECT ` + txColumns + `
		FROM ledger_transactions
		WHERE identity_id = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTransaction(s.db.QueryRowContext(ctx, query, uuid.UUID(identityID), kind))
}

func (s *PostgresStore) ListFor(ctx context.Context, identityID id.IdentityID, limit, offset int) ([]*models.LedgerTransaction, error) {
	if offset < 0 {
		offset = 0
	}
	// LIMIT NULL is Postgres for "no limit".
	var limitArg sql.NullInt64
	if limit > 0 {
		limitArg = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	query := `
		SELECT ` + txColumns + `
		FROM ledger_transactions
		WHERE identity_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(identityID), limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.LedgerTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger transactions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.LedgerTransaction, error) {
	var (
		tx          models.LedgerTransaction
		identityID  uuid.UUID
		kind        string
		status      string
		blockNumber sql.NullInt64
	)
	err := row.Scan(
		&tx.Hash,
		&identityID,
		&kind,
		&status,
		&blockNumber,
		&tx.Raw,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan ledger transaction: %w", err)
	}
	tx.IdentityID = id.IdentityID(identityID)
	tx.Kind = ledger.Kind(kind)
	tx.Status = ledger.Status(status)
	if blockNumber.Valid {
		n := uint64(blockNumber.Int64)
		tx.BlockNumber = &n
	}
	return &tx, nil
}

func nullUint(value *uint64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value), Valid: true}
}
