package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
	platformtx "dbis/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists identities in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `id, user_id, ledger_address, verification_status, anchoring_status, anchor_deadline, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		uuid.UUID(identity.UserID),
		identity.LedgerAddress,
		string(identity.VerificationStatus),
		string(identity.AnchoringStatus),
		nullTime(identity.AnchorDeadline),
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return scanIdentity(s.db.QueryRowContext(ctx, query, uuid.UUID(identityID)))
}

func (s *PostgresStore) FindByUserID(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE user_id = $1`
	return scanIdentity(s.db.QueryRowContext(ctx, query, uuid.UUID(userID)))
}

func (s *PostgresStore) Update(ctx context.Context, identity *models.Identity) error {
	return update(ctx, s.db, identity)
}

// Execute serializes the read-check-write through SELECT ... FOR UPDATE so a
// racing transition observes the committed result of the one before it. When
// the context carries an ambient transaction the write joins it and the
// outermost unit of work owns commit and rollback.
func (s *PostgresStore) Execute(ctx context.Context, identityID id.IdentityID, fn func(*models.Identity) error) (*models.Identity, error) {
	if ambient, ok := platformtx.From(ctx); ok {
		return executeIn(ctx, ambient, identityID, fn)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin identity transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	identity, err := executeIn(ctx, tx, identityID, fn)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity transaction: %w", err)
	}
	return identity, nil
}

func executeIn(ctx context.Context, tx *sql.Tx, identityID id.IdentityID, fn func(*models.Identity) error) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1 FOR UPDATE`
	identity, err := scanIdentity(tx.QueryRowContext(ctx, query, uuid.UUID(identityID)))
	if err != nil {
		return nil, err
	}

	if err := fn(identity); err != nil {
		return nil, err
	}
	if err := update(ctx, tx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *PostgresStore) ListSubmittedDue(ctx context.Context, now time.Time, limit int) ([]*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE anchoring_status = $1 AND anchor_deadline <= $2
		ORDER BY anchor_deadline ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(models.AnchoringSubmitted), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due identities: %w", err)
	}
	defer rows.Close()

	var due []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due identities: %w", err)
	}
	return due, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func update(ctx context.Context, db execer, identity *models.Identity) error {
	query := `
		UPDATE identities
		SET verification_status = $2,
		    anchoring_status = $3,
		    anchor_deadline = $4,
		    updated_at = $5
		WHERE id = $1
	`
	res, err := db.ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		string(identity.VerificationStatus),
		string(identity.AnchoringStatus),
		nullTime(identity.AnchorDeadline),
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		identity       models.Identity
		identityID     uuid.UUID
		userID         uuid.UUID
		verification   string
		anchoring      string
		anchorDeadline sql.NullTime
	)
	err := row.Scan(
		&identityID,
		&userID,
		&identity.LedgerAddress,
		&verification,
		&anchoring,
		&anchorDeadline,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.ID = id.IdentityID(identityID)
	identity.UserID = id.UserID(userID)
	identity.VerificationStatus = models.VerificationStatus(verification)
	identity.AnchoringStatus = models.AnchoringStatus(anchoring)
	if anchorDeadline.Valid {
		deadline := anchorDeadline.Time
		identity.AnchorDeadline = &deadline
	}
	return &identity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
