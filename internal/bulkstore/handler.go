package bulkstore

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/platform/httpx"
	"github.com/pharmacore/pharmacore/internal/rbac"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// Handler wires HTTP endpoints for the bulk store module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs bulk store handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers bulk store routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/medications/{medicationID}/batches", h.listBatches)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.Principal.CanManageStock))
		r.Post("/receipts", h.receive)
		r.Post("/issues", h.issue)
	})
}

type receiveRequest struct {
	MedicationID int64  `json:"medication_id" validate:"required,gt=0"`
	BatchNumber  string `json:"batch_number" validate:"required"`
	ExpiryDate   string `json:"expiry_date" validate:"required"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost     string `json:"unit_cost" validate:"required"`
	MarkupPct    string `json:"markup_percentage"`
	Ref          string `json:"ref"`
}

type issueRequest struct {
	ActiveStoreID int64  `json:"active_store_id" validate:"required,gt=0"`
	MedicationID  int64  `json:"medication_id" validate:"required,gt=0"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	Ref           string `json:"ref"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
		return
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit_cost")
		return
	}
	var markup *decimal.Decimal
	if req.MarkupPct != "" {
		parsed, err := decimal.NewFromString(req.MarkupPct)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid markup_percentage")
			return
		}
		markup = &parsed
	}

	principal, _ := shared.PrincipalFromContext(r.Context())
	batch, err := h.service.Receive(r.Context(), ReceiveInput{
		MedicationID: req.MedicationID,
		BatchNumber:  req.BatchNumber,
		ExpiryDate:   expiry,
		Quantity:     req.Quantity,
		UnitCost:     unitCost,
		MarkupPct:    markup,
		Ref:          req.Ref,
		ActorID:      principal.ID,
	})
	if err != nil {
		h.logger.Error("bulk receive", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	principal, _ := shared.PrincipalFromContext(r.Context())
	lines, err := h.service.IssueToActiveStore(r.Context(), IssueInput{
		ActiveStoreID: req.ActiveStoreID,
		MedicationID:  req.MedicationID,
		Quantity:      req.Quantity,
		Ref:           req.Ref,
		ActorID:       principal.ID,
	})
	if err != nil {
		h.logger.Error("bulk issue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	medicationID, err := strconv.ParseInt(chi.URLParam(r, "medicationID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid medication id")
		return
	}
	batches, err := h.service.Batches(r.Context(), medicationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}
