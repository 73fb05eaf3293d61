package prescription

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

// Handler wires HTTP endpoints for prescriptions.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs prescription handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers prescription routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
	r.Get("/patients/{patientID}", h.forPatient)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleAdmin, shared.RoleDoctor))
		r.Post("/", h.intake)
		r.Post("/{id}/authorization", h.attachAuthorization)
	})
}

type intakeItemRequest struct {
	MedicationID       int64  `json:"medication_id" validate:"required,gt=0"`
	Dosage             string `json:"dosage"`
	PrescribedQuantity int64  `json:"prescribed_quantity" validate:"required,gt=0"`
}

type intakeRequest struct {
	PatientID             int64               `json:"patient_id" validate:"required,gt=0"`
	PatientType           string              `json:"patient_type" validate:"required,oneof=regular nhia"`
	AuthorizationCode     string              `json:"authorization_code"`
	RequiresAuthorization bool                `json:"requires_authorization"`
	Items                 []intakeItemRequest `json:"items" validate:"required,min=1,dive"`
}

type authorizationRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid prescription id")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) forPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := strconv.ParseInt(chi.URLParam(r, "patientID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid patient id")
		return
	}
	list, err := h.service.ForPatient(r.Context(), patientID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"prescriptions": list})
}

func (h *Handler) intake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]IntakeItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, IntakeItem{
			MedicationID:       it.MedicationID,
			Dosage:             it.Dosage,
			PrescribedQuantity: it.PrescribedQuantity,
		})
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	p, err := h.service.Intake(r.Context(), IntakeInput{
		PatientID:             req.PatientID,
		PatientType:           PatientType(req.PatientType),
		AuthorizationCode:     req.AuthorizationCode,
		RequiresAuthorization: req.RequiresAuthorization,
		PrescribedBy:          principal.ID,
		Items:                 items,
	})
	if err != nil {
		h.logger.Error("prescription intake", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) attachAuthorization(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid prescription id")
		return
	}
	var req authorizationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.AttachAuthorization(r.Context(), id, req.Code, principal.ID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}
