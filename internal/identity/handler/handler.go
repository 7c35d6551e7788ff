// Package handler exposes the identity surface: registration, admin review,
// biometric commitment and professional records.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dbis/internal/identity/models"
	identitysvc "dbis/internal/identity/service"
	"dbis/internal/platform/middleware"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/httputil"
)

// Service defines the identity operations the handler needs.
type Service interface {
	Register(ctx context.Context, userID id.UserID, ledgerAddress string) (*models.Identity, error)
	Get(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	GetByUser(ctx context.Context, userID id.UserID) (*models.Identity, error)
	Review(ctx context.Context, identityID id.IdentityID, outcome models.VerificationStatus) (*models.Identity, error)
	RegisterBiometric(ctx context.Context, identityID id.IdentityID, descriptor []byte) (*models.Commitment, error)
	GetBiometricStatus(ctx context.Context, identityID id.IdentityID) (*identitysvc.BiometricStatus, error)
	AddRecord(ctx context.Context, identityID id.IdentityID, recordType, institution, title, startDate, endDate string) (*models.ProfessionalRecord, error)
	ListRecords(ctx context.Context, identityID id.IdentityID) ([]*models.ProfessionalRecord, error)
}

// Handler handles identity endpoints.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New creates an identity Handler.
func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register mounts the identity routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/identity", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/register", h.handleRegister)
		r.Get("/me", h.handleMe)
		r.Post("/register-biometric", h.handleRegisterBiometric)
		r.Get("/biometric-status", h.handleBiometricStatus)
		r.Post("/records", h.handleAddRecord)
		r.Get("/records", h.handleListRecords)
	})

	r.Route("/api/admin/identities", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.RequireRole("admin", h.logger))
		r.Post("/{identityID}/review", h.handleReview)
	})
}

type registerRequest struct {
	LedgerAddress string `json:"ledger_address"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	identity, err := h.service.Register(r.Context(), userID, req.LedgerAddress)
	if err != nil {
		h.logger.WarnContext(r.Context(), "identity registration failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, identity)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

type registerBiometricRequest struct {
	// Descriptor is the base64-encoded biometric feature vector. It is hashed
	// and discarded; the raw bytes are never stored.
	Descriptor string `json:"descriptor"`
}

func (h *Handler) handleRegisterBiometric(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req registerBiometricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	descriptor, err := base64.StdEncoding.DecodeString(req.Descriptor)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "descriptor must be base64"))
		return
	}

	commitment, err := h.service.RegisterBiometric(r.Context(), identity.ID, descriptor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"commitment_id": commitment.ID.String(),
		"digest":        commitment.Digest,
	})
}

func (h *Handler) handleBiometricStatus(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status, err := h.service.GetBiometricStatus(r.Context(), identity.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

type addRecordRequest struct {
	RecordType  string `json:"record_type"`
	Institution string `json:"institution"`
	Title       string `json:"title"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
}

func (h *Handler) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req addRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	record, err := h.service.AddRecord(r.Context(), identity.ID, req.RecordType, req.Institution, req.Title, req.StartDate, req.EndDate)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.ListRecords(r.Context(), identity.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

type reviewRequest struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	identity, err := h.service.Review(r.Context(), identityID, models.VerificationStatus(req.Outcome))
	if err != nil {
		h.logger.WarnContext(r.Context(), "identity review failed", "identity_id", identityID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

// callerIdentity resolves the authenticated user's identity.
func (h *Handler) callerIdentity(r *http.Request) (*models.Identity, error) {
	userID, err := callerID(r)
	if err != nil {
		return nil, err
	}
	return h.service.GetByUser(r.Context(), userID)
}

func callerID(r *http.Request) (id.UserID, error) {
	raw := middleware.GetUserID(r.Context())
	if raw == "" {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "missing authentication context")
	}
	userID, err := id.ParseUserID(raw)
	if err != nil {
		return id.UserID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid authentication context")
	}
	return userID, nil
}
