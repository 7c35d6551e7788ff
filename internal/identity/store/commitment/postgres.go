package commitment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
	"dbis/pkg/platform/tx"
)

// PostgresStore persists commitments in PostgreSQL. A partial unique index on
// (identity_id, commitment_type) WHERE active backs the single-active
// invariant at the schema level.
type PostgresStore struct {
	db     *sql.DB
	runner *tx.Runner
}

// NewPostgres constructs a PostgreSQL-backed commitment store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: tx.NewRunner(db)}
}

// Activate deactivates the prior active commitment of the same type and
// inserts the new one as a single unit of work.
func (s *PostgresStore) Activate(ctx context.Context, commitment *models.Commitment) error {
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		dbTx, _ := tx.From(ctx)

		deactivate := `
			UPDATE commitments
			SET active = FALSE
			WHERE identity_id = $1 AND commitment_type = $2 AND active
		`
		if _, err := dbTx.ExecContext(ctx, deactivate,
			uuid.UUID(commitment.IdentityID),
			string(commitment.Type),
		); err != nil {
			return fmt.Errorf("deactivate prior commitment: %w", err)
		}

		insert := `
			INSERT INTO commitments (id, identity_id, commitment_type, digest, active, tx_hash, created_at)
			VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		`
		if _, err := dbTx.ExecContext(ctx, insert,
			uuid.UUID(commitment.ID),
			uuid.UUID(commitment.IdentityID),
			string(commitment.Type),
			commitment.Digest,
			commitment.TxHash,
			commitment.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert commitment: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("activate commitment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveFor(ctx context.Context, identityID id.IdentityID, kind models.CommitmentType) (*models.Commitment, error) {
	query := `
		SELECT id, identity_id, commitment_type, digest, active, tx_hash, created_at
		FROM commitments
		WHERE identity_id = $1 AND commitment_type = $2 AND active
	`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(identityID), string(kind))
	return scanCommitment(row)
}

func (s *PostgresStore) ListFor(ctx context.Context, identityID id.IdentityID) ([]*models.Commitment, error) {
	query := `
		SELECT id, identity_id, commitment_type, digest, active, tx_hash, created_at
		FROM commitments
		WHERE identity_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []*models.Commitment
	for rows.Next() {
		commitment, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, commitment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// writer returns the ambient transaction when the caller runs a unit of work.
func (s *PostgresStore) writer(ctx context.Context) execer {
	if dbTx, ok := tx.From(ctx); ok {
		return dbTx
	}
	return s.db
}

func (s *PostgresStore) BindTxHash(ctx context.Context, commitmentID id.CommitmentID, txHash string) error {
	res, err := s.writer(ctx).ExecContext(ctx,
		`UPDATE commitments SET tx_hash = $2 WHERE id = $1`,
		uuid.UUID(commitmentID), txHash,
	)
	if err != nil {
		return fmt.Errorf("bind commitment tx hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind commitment tx hash: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row rowScanner) (*models.Commitment, error) {
	var (
		commitment   models.Commitment
		commitmentID uuid.UUID
		identityID   uuid.UUID
		kind         string
	)
	err := row.Scan(
		&commitmentID,
		&identityID,
		&kind,
		&commitment.Digest,
		&commitment.Active,
		&commitment.TxHash,
		&commitment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan commitment: %w", err)
	}
	commitment.ID = id.CommitmentID(commitmentID)
	commitment.IdentityID = id.IdentityID(identityID)
	commitment.Type = models.CommitmentType(kind)
	return &commitment, nil
}
