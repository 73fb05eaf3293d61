package activestore

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/pharmacore/pharmacore/internal/platform/httpx"
)

// Handler wires read endpoints for active store inventory.
type Handler struct {
	logger  *slog.Logger
	service *Service
	flight  singleflight.Group
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers active store routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{storeID}/inventory", h.listInventory)
	r.Get("/{storeID}/medications/{medicationID}/available", h.available)
	r.Get("/{storeID}/medications/{medicationID}/batches", h.listBatches)
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid store id")
		return
	}
	// Whole-store listings are the hot read during transfer planning;
	// identical concurrent requests share one query.
	resultCh := h.flight.DoChan("inventory:"+strconv.FormatInt(storeID, 10), func() (any, error) {
		return h.service.StoreInventory(context.WithoutCancel(r.Context()), storeID)
	})
	select {
	case <-r.Context().Done():
		httpx.RespondError(w, r.Context().Err())
		return
	case res := <-resultCh:
		if res.Err != nil {
			h.logger.Error("list active store inventory", slog.Any("error", res.Err))
			httpx.RespondError(w, res.Err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"inventory": res.Val.([]Inventory)})
	}
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	storeID, err1 := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	medicationID, err2 := strconv.ParseInt(chi.URLParam(r, "medicationID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid path parameters")
		return
	}
	qty, err := h.service.Available(r.Context(), storeID, medicationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"available": qty})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	storeID, err1 := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	medicationID, err2 := strconv.ParseInt(chi.URLParam(r, "medicationID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid path parameters")
		return
	}
	batches, err := h.service.Batches(r.Context(), storeID, medicationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}
