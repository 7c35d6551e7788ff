package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
)

// PostgresStore persists professional records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, record *models.ProfessionalRecord) error {
	query := `
		INSERT INTO professional_records (id, identity_id, record_type, institution, title, start_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.IdentityID),
		record.RecordType,
		record.Institution,
		record.Title,
		record.StartDate,
		record.EndDate,
		record.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create professional record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]*models.ProfessionalRecord, error) {
	query := `
		SELECT id, identity_id, record_type, institution, title, start_date, end_date, created_at
		FROM professional_records
		WHERE identity_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("list professional records: %w", err)
	}
	defer rows.Close()

	var out []*models.ProfessionalRecord
	for rows.Next() {
		var (
			record   models.ProfessionalRecord
			recordID uuid.UUID
			owner    uuid.UUID
		)
		if err := rows.Scan(
			&recordID,
			&owner,
			&record.RecordType,
			&record.Institution,
			&record.Title,
			&record.StartDate,
			&record.EndDate,
			&record.CreatedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, sentinel.ErrNotFound
			}
			return nil, fmt.Errorf("scan professional record: %w", err)
		}
		record.ID = id.RecordID(recordID)
		record.IdentityID = id.IdentityID(owner)
		out = append(out, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list professional records: %w", err)
	}
	return out, nil
}
