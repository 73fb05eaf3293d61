package dispensary

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pharmacore/pharmacore/internal/platform/httpx"
	"github.com/pharmacore/pharmacore/internal/rbac"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// Handler wires HTTP endpoints for dispensary transfers and shelf stock.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs dispensary handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers dispensary routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{dispensaryID}/inventory", h.listInventory)
	r.Get("/transfers", h.listTransfers)
	r.Get("/transfers/{id}", h.getTransfer)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.Principal.CanManageStock))
		r.Post("/transfers", h.requestTransfer)
		r.Post("/transfers/{id}/approve", h.approve)
		r.Post("/transfers/{id}/dispatch", h.dispatch)
		r.Post("/transfers/{id}/complete", h.complete)
		r.Post("/transfers/{id}/cancel", h.cancel)
	})
}

type transferRequest struct {
	DispensaryID int64  `json:"dispensary_id" validate:"required,gt=0"`
	MedicationID int64  `json:"medication_id" validate:"required,gt=0"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	Note         string `json:"note"`
}

type transferActionRequest struct {
	Note string `json:"note"`
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	dispensaryID, err := strconv.ParseInt(chi.URLParam(r, "dispensaryID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dispensary id")
		return
	}
	list, err := h.service.ShelfInventory(r.Context(), dispensaryID)
	if err != nil {
		h.logger.Error("list dispensary inventory", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"inventory": list})
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dispensaryID, _ := strconv.ParseInt(q.Get("dispensary_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := TransferFilter{
		DispensaryID: dispensaryID,
		Status:       TransferStatus(q.Get("status")),
		Page:         page,
		PerPage:      perPage,
	}
	list, pagination, err := h.service.Transfers(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": list, "pagination": pagination})
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	t, err := h.service.Transfer(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) requestTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	t, err := h.service.Request(r.Context(), RequestInput{
		DispensaryID: req.DispensaryID,
		MedicationID: req.MedicationID,
		Quantity:     req.Quantity,
		Note:         req.Note,
		ActorID:      principal.ID,
	})
	if err != nil {
		h.logger.Error("request transfer", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(id int64, actorID int64, note string) (Transfer, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	var req transferActionRequest
	_ = httpx.DecodeJSON(r, &req)
	principal, _ := shared.PrincipalFromContext(r.Context())
	t, err := fn(id, principal.ID, req.Note)
	if err != nil {
		h.logger.Error("transfer transition", slog.Int64("transfer_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64, note string) (Transfer, error) {
		return h.service.Approve(r.Context(), id, actorID, note)
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64, _ string) (Transfer, error) {
		return h.service.Dispatch(r.Context(), id, actorID)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64, _ string) (Transfer, error) {
		return h.service.Complete(r.Context(), id, actorID)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64, note string) (Transfer, error) {
		return h.service.Cancel(r.Context(), id, actorID, note)
	})
}
