package cart

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

// Handler wires HTTP endpoints for prescription carts.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs cart handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers cart routes. Cart edits are open to admins and to
// doctors working their own prescriptions; billing transitions to
// pharmacists and admins.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
	r.Get("/{id}/price", h.price)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.Principal.CanEditCart))
		r.Post("/", h.create)
		r.Post("/{id}/items", h.addItem)
		r.Delete("/{id}/items/{itemID}", h.removeItem)
		r.Post("/{id}/dispensary", h.setDispensary)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleAdmin, shared.RolePharmacist))
		r.Post("/{id}/invoice", h.invoice)
		r.Post("/{id}/pay", h.markPaid)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type createCartRequest struct {
	PrescriptionID int64  `json:"prescription_id" validate:"required,gt=0"`
	DispensaryID   *int64 `json:"dispensary_id"`
}

type addItemRequest struct {
	MedicationID int64 `json:"medication_id" validate:"required,gt=0"`
	Quantity     int64 `json:"quantity" validate:"required,gt=0"`
}

type setDispensaryRequest struct {
	DispensaryID int64 `json:"dispensary_id" validate:"required,gt=0"`
}

func cartID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := cartID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) price(w http.ResponseWriter, r *http.Request) {
	id, ok := cartID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	breakdown, err := h.service.Price(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createCartRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	c, err := h.service.Create(r.Context(), req.PrescriptionID, req.DispensaryID, principal)
	if err != nil {
		h.logger.Error("create cart", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, ok := cartID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	item, err := h.service.AddItem(r.Context(), id, req.MedicationID, req.Quantity, principal)
	if err != nil {
		h.logger.Error("add cart item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := cartID(r)
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if !ok || err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid path parameters")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.RemoveItem(r.Context(), id, itemID, principal); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (h *Handler) setDispensary(w http.ResponseWriter, r *http.Request) {
	id, ok := cartID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	var req setDispensaryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.SetDispensary(r.Context(), id, req.DispensaryID, principal); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(id, actorID int64) (Cart, error)) {
	id, ok := cartID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	c, err := fn(id, principal.ID)
	if err != nil {
		h.logger.Error("cart transition", slog.Int64("cart_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) invoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64) (Cart, error) {
		return h.service.Invoice(r.Context(), id, actorID)
	})
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64) (Cart, error) {
		return h.service.MarkPaid(r.Context(), id, actorID)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64) (Cart, error) {
		return h.service.Cancel(r.Context(), id, actorID)
	})
}
