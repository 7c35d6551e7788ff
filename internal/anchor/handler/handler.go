// Package handler exposes the ledger surface: anchoring submission, status,
// record anchoring, transaction history and reconciliation.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	anchormodels "dbis/internal/anchor/models"
	anchorsvc "dbis/internal/anchor/service"
	"dbis/internal/identity/models"
	"dbis/internal/ledger"
	"dbis/internal/platform/middleware"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/httputil"
)

// Service defines the anchoring operations the handler needs.
type Service interface {
	RequestAnchor(ctx context.Context, identityID id.IdentityID) (*anchorsvc.Receipt, error)
	Status(ctx context.Context, identityID id.IdentityID) (*anchorsvc.Receipt, error)
	AnchorProfessionalRecords(ctx context.Context, identityID id.IdentityID) (*anchorsvc.Receipt, error)
	Transactions(ctx context.Context, identityID id.IdentityID, page, pageSize int) ([]*anchormodels.LedgerTransaction, error)
	Reconcile(ctx context.Context, identityID id.IdentityID) (*anchorsvc.ReconcileReport, error)
}

// StateView serves cached ledger state. Status queries answer from it without
// calling the ledger; a miss simply omits the ledger view.
type StateView interface {
	Peek(ctx context.Context, address common.Address) (ledger.IdentityState, bool)
}

// IdentityResolver maps the authenticated user to their identity.
type IdentityResolver interface {
	GetByUser(ctx context.Context, userID id.UserID) (*models.Identity, error)
}

// Handler handles ledger endpoints.
type Handler struct {
	service      Service
	identities   IdentityResolver
	state        StateView
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

// New creates a ledger Handler. state serves the ledger-view portion of the
// status endpoint from cache; pass nil to omit the ledger view.
func New(service Service, identities IdentityResolver, state StateView, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		service:      service,
		identities:   identities,
		state:        state,
		logger:       logger,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the ledger routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/blockchain", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/register-identity", h.handleRegisterIdentity)
		r.Get("/identity-status", h.handleIdentityStatus)
		r.Post("/anchor-records", h.handleAnchorRecords)
		r.Get("/transactions", h.handleTransactions)
	})

	r.Route("/api/admin/anchoring", func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.RequireRole("admin", h.logger))
		r.Post("/{identityID}/reconcile", h.handleReconcile)
	})
}

func (h *Handler) handleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	receipt, err := h.service.RequestAnchor(r.Context(), identity.ID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "anchor request failed", "identity_id", identity.ID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if receipt.AlreadyAnchored {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, receipt)
}

type statusResponse struct {
	*anchorsvc.Receipt
	Ledger *ledgerView `json:"ledger,omitempty"`
}

type ledgerView struct {
	Registered  bool   `json:"registered"`
	Verified    bool   `json:"verified"`
	RecordCount uint64 `json:"record_count"`
}

func (h *Handler) handleIdentityStatus(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	receipt, err := h.service.Status(r.Context(), identity.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := statusResponse{Receipt: receipt}
	// The ledger view comes from cache only; a status query never waits on
	// the ledger. A cache miss omits the view and the next query finds it.
	if h.state != nil {
		if state, ok := h.state.Peek(r.Context(), identity.Address()); ok {
			resp.Ledger = &ledgerView{
				Registered:  state.Registered,
				Verified:    state.Verified,
				RecordCount: state.RecordCount,
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAnchorRecords(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	receipt, err := h.service.AnchorProfessionalRecords(r.Context(), identity.ID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "record anchoring failed", "identity_id", identity.ID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, receipt)
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	identity, err := h.callerIdentity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 0)

	txs, err := h.service.Transactions(r.Context(), identity.ID, page, pageSize)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"page":         page,
	})
}

// queryInt parses a positive integer query parameter, falling back on absent
// or malformed values.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.Reconcile(r.Context(), identityID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reconciliation failed", "identity_id", identityID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) callerIdentity(r *http.Request) (*models.Identity, error) {
	raw := middleware.GetUserID(r.Context())
	if raw == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing authentication context")
	}
	userID, err := id.ParseUserID(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid authentication context")
	}
	return h.identities.GetByUser(r.Context(), userID)
}
