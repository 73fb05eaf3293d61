package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/platform/httpx"
)

// BillingEmitter stores invoice intents in an outbox table for the billing
// system to collect. It implements the cart module's billing port.
type BillingEmitter struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	printer *message.Printer
}

// NewBillingEmitter constructs the emitter.
func NewBillingEmitter(pool *pgxpool.Pool, logger *slog.Logger) *BillingEmitter {
	return &BillingEmitter{
		pool:    pool,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// EmitInvoice appends the intent to billing_outbox and logs a summary with
// grouped amounts (1,234.50) for the billing desk.
func (e *BillingEmitter) EmitInvoice(ctx context.Context, intent cart.InvoiceIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	_, err = e.pool.Exec(ctx, `INSERT INTO billing_outbox (cart_id, prescription_id, payload, created_at)
VALUES ($1, $2, $3, NOW())`, intent.CartID, intent.PrescriptionID, payload)
	if err != nil {
		return err
	}
	patient, _ := intent.PatientPortion.Float64()
	insurer, _ := intent.InsurerPortion.Float64()
	e.logger.Info("invoice emitted",
		slog.Int64("cart_id", intent.CartID),
		slog.Int64("prescription_id", intent.PrescriptionID),
		slog.String("patient_portion", e.printer.Sprintf("%.2f", patient)),
		slog.String("insurer_portion", e.printer.Sprintf("%.2f", insurer)),
	)
	return nil
}

// CartPayments is the slice of the cart service the webhook needs.
type CartPayments interface {
	MarkPaid(ctx context.Context, cartID, actorID int64) (cart.Cart, error)
}

// BillingWebhook receives payment_recorded callbacks from the billing
// system. Callers authenticate with a bearer token checked against a
// bcrypt hash; the raw token never touches configuration.
type BillingWebhook struct {
	logger    *slog.Logger
	carts     CartPayments
	tokenHash []byte
}

// NewBillingWebhook constructs the webhook handler.
func NewBillingWebhook(logger *slog.Logger, carts CartPayments, tokenHash string) *BillingWebhook {
	return &BillingWebhook{logger: logger, carts: carts, tokenHash: []byte(tokenHash)}
}

type paymentRecordedRequest struct {
	CartID int64 `json:"cart_id"`
}

// ServeHTTP handles POST payment_recorded callbacks.
func (h *BillingWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid webhook token")
		return
	}
	var req paymentRecordedRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.CartID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cart_id required")
		return
	}
	// Actor 0 marks a system-originated transition.
	c, err := h.carts.MarkPaid(r.Context(), req.CartID, 0)
	if err != nil {
		h.logger.Error("payment webhook", slog.Int64("cart_id", req.CartID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cart_id": c.ID, "status": c.Status})
}

func (h *BillingWebhook) authorized(r *http.Request) bool {
	if len(h.tokenHash) == 0 {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(h.tokenHash, []byte(token)) == nil
}
