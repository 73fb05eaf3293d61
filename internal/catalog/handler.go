package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/pharmacore/internal/platform/httpx"
	"github.com/pharmacore/pharmacore/internal/rbac"
	"github.com/pharmacore/pharmacore/internal/shared"
)

// Handler wires HTTP endpoints for the catalog module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/medications", h.listMedications)
	r.Get("/medications/{id}", h.getMedication)
	r.Get("/dispensaries", h.listDispensaries)
	r.Get("/dispensaries/{id}", h.getDispensary)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleAdmin))
		r.Post("/medications", h.createMedication)
		r.Put("/medications/{id}", h.updateMedication)
		r.Post("/dispensaries", h.createDispensary)
	})
}

type medicationRequest struct {
	Name             string `json:"name" validate:"required"`
	GenericName      string `json:"generic_name"`
	Strength         string `json:"strength" validate:"required"`
	DosageForm       string `json:"dosage_form" validate:"required"`
	Unit             string `json:"unit" validate:"required"`
	DefaultUnitPrice string `json:"default_unit_price" validate:"required"`
}

type dispensaryRequest struct {
	Name      string `json:"name" validate:"required"`
	Location  string `json:"location"`
	Active    *bool  `json:"active"`
	ManagerID *int64 `json:"manager_id"`
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	filter := ListFilter{NamePrefix: q.Get("q"), Page: page, PerPage: perPage}
	meds, pagination, err := h.service.Search(r.Context(), filter)
	if err != nil {
		h.logger.Error("list medications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"medications": meds, "pagination": pagination})
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid medication id")
		return
	}
	med, err := h.service.Medication(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, med)
}

func (h *Handler) createMedication(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.DefaultUnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid default_unit_price")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	med, err := h.service.CreateMedication(r.Context(), Medication{
		Name:             req.Name,
		GenericName:      req.GenericName,
		Strength:         req.Strength,
		DosageForm:       req.DosageForm,
		Unit:             req.Unit,
		DefaultUnitPrice: price,
	}, principal.ID)
	if err != nil {
		h.logger.Error("create medication", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, med)
}

func (h *Handler) updateMedication(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid medication id")
		return
	}
	var req medicationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	price, err := decimal.NewFromString(req.DefaultUnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid default_unit_price")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	med := Medication{ID: id, GenericName: req.GenericName, Unit: req.Unit, DefaultUnitPrice: price}
	if err := h.service.UpdateMedication(r.Context(), med, principal.ID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) listDispensaries(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := h.service.Dispensaries(r.Context(), activeOnly)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dispensaries": list})
}

func (h *Handler) getDispensary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid dispensary id")
		return
	}
	d, err := h.service.Dispensary(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) createDispensary(w http.ResponseWriter, r *http.Request) {
	var req dispensaryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	d, err := h.service.CreateDispensary(r.Context(), Dispensary{
		Name:      req.Name,
		Location:  req.Location,
		Active:    active,
		ManagerID: req.ManagerID,
	}, principal.ID)
	if err != nil {
		h.logger.Error("create dispensary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}
