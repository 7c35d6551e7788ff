// Package commitment derives the canonical digests anchored to the ledger.
//
// Everything here is pure and deterministic: the same logical input always
// yields the same digest, across processes and releases. The reconciler
// depends on this to re-derive digests and detect tampering, so the canonical
// serialization below is part of the persisted contract — do not change it
// without versioning the domain prefix.
package commitment

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"dbis/internal/identity/models"
	dErrors "dbis/pkg/domain-errors"
)

// Domain prefixes keep biometric and professional digests from colliding even
// for identical payload bytes.
const (
	biometricDomain    = "dbis.biometric.v1"
	professionalDomain = "dbis.professional.v1"

	// fieldSep and recordSep cannot appear in validated record fields after
	// escaping, so the serialization is injective.
	fieldSep  = "\x1f"
	recordSep = "\x1e"

	// openEndedSentinel stands in for an absent end date so optional fields
	// never make serialization ambiguous.
	openEndedSentinel = "current"
)

// BiometricDigest derives the 256-bit commitment for an opaque biometric
// descriptor. The descriptor's internal structure is owned by the capture
// module; this function only requires it to be non-empty.
func BiometricDigest(descriptor []byte) (string, error) {
	if len(descriptor) == 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "biometric descriptor cannot be empty")
	}
	payload := append([]byte(biometricDomain+fieldSep), descriptor...)
	return crypto.Keccak256Hash(payload).Hex(), nil
}

// ProfessionalDigest derives the 256-bit commitment summarizing a set of
// professional records.
//
// Canonical form: each record serializes to
// id␟type␟institution␟title␟start␟end (end = "current" when open-ended);
// the serialized records are sorted lexicographically and joined with the
// record separator, so insertion order never affects the digest. Zero records
// is not an error: it yields the defined empty-set digest.
func ProfessionalDigest(records []models.ProfessionalRecord) (string, error) {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		line, err := canonicalRecord(r)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)

	payload := professionalDomain + recordSep + strings.Join(lines, recordSep)
	return crypto.Keccak256Hash([]byte(payload)).Hex(), nil
}

func canonicalRecord(r models.ProfessionalRecord) (string, error) {
	if r.ID.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "professional record is missing its id")
	}
	if r.RecordType == "" || r.Institution == "" || r.Title == "" || r.StartDate == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "professional record is missing required fields")
	}
	end := r.EndDate
	if end == "" {
		end = openEndedSentinel
	}
	fields := []string{
		r.ID.String(),
		escape(r.RecordType),
		escape(r.Institution),
		escape(r.Title),
		r.StartDate,
		end,
	}
	return strings.Join(fields, fieldSep), nil
}

// escape strips the separator bytes from free-text fields. They are control
// characters with no legitimate use in names or titles.
func escape(s string) string {
	s = strings.ReplaceAll(s, fieldSep, "")
	return strings.ReplaceAll(s, recordSep, "")
}
