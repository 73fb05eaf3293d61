package dispense

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

// Handler wires HTTP endpoints for dispensing.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs dispense handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers dispense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/carts/{cartID}/events", h.listEvents)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.Principal.CanManageStock))
		r.Post("/carts/{cartID}", h.dispense)
	})
}

type dispenseLineRequest struct {
	CartItemID int64 `json:"cart_item_id" validate:"required,gt=0"`
	Quantity   int64 `json:"quantity" validate:"required,gt=0"`
}

type dispenseRequest struct {
	Lines []dispenseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) dispense(w http.ResponseWriter, r *http.Request) {
	cartID, err := strconv.ParseInt(chi.URLParam(r, "cartID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	var req dispenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, Line{CartItemID: l.CartItemID, Quantity: l.Quantity})
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	result, err := h.service.Dispense(r.Context(), Input{CartID: cartID, Lines: lines, ActorID: principal.ID})
	if err != nil {
		h.logger.Error("dispense", slog.Int64("cart_id", cartID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	cartID, err := strconv.ParseInt(chi.URLParam(r, "cartID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cart id")
		return
	}
	events, err := h.service.Events(r.Context(), cartID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}
