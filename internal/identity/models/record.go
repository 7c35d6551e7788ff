package models

import (
	"strings"
	"time"

	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
)

// ProfessionalRecord is one credential entry for an identity. Records are
// immutable once created; the record digest is re-derivable from these fields
// alone, which is what lets the reconciler detect tampering.
type ProfessionalRecord struct {
	ID          id.RecordID   `json:"id"`
	IdentityID  id.IdentityID `json:"identity_id"`
	RecordType  string        `json:"record_type"`
	Institution string        `json:"institution"`
	Title       string        `json:"title"`
	StartDate   string        `json:"start_date"`
	// EndDate is empty for an ongoing engagement; digest derivation
	// substitutes the "current" sentinel.
	EndDate   string    `json:"end_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const dateLayout = "2006-01-02"

// NewProfessionalRecord validates and constructs a record.
func NewProfessionalRecord(identityID id.IdentityID, recordType, institution, title, startDate, endDate string, now time.Time) (*ProfessionalRecord, error) {
	recordType = strings.TrimSpace(recordType)
	institution = strings.TrimSpace(institution)
	title = strings.TrimSpace(title)

	if recordType == "" || institution == "" || title == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "record type, institution and title are required")
	}
	if _, err := time.Parse(dateLayout, startDate); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "start date must be YYYY-MM-DD")
	}
	if endDate != "" {
		if _, err := time.Parse(dateLayout, endDate); err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "end date must be YYYY-MM-DD or empty")
		}
	}

	return &ProfessionalRecord{
		ID:          id.NewRecordID(),
		IdentityID:  identityID,
		RecordType:  recordType,
		Institution: institution,
		Title:       title,
		StartDate:   startDate,
		EndDate:     endDate,
		CreatedAt:   now,
	}, nil
}
