package integration

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pharmacore/pharmacore/internal/cart"
	"github.com/pharmacore/pharmacore/internal/shared"
)

func TestDeskOfficeValidateAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/authorizations/validate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"valid": true}`))
	}))
	defer srv.Close()

	desk := NewDeskOffice(srv.URL, time.Second)
	valid, err := desk.ValidateAuthorization(context.Background(), "AUTH-1", 200, decimal.RequireFromString("810.00"))
	require.NoError(t, err)
	require.True(t, valid)
}

func TestDeskOfficeRejectsExpiredAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"valid": true, "expires_at": "2020-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	desk := NewDeskOffice(srv.URL, time.Second)
	valid, err := desk.ValidateAuthorization(context.Background(), "AUTH-1", 200, decimal.Zero)
	require.NoError(t, err)
	require.False(t, valid)
}

type stubCartPayments struct {
	paid []int64
	err  error
}

func (s *stubCartPayments) MarkPaid(ctx context.Context, cartID, actorID int64) (cart.Cart, error) {
	if s.err != nil {
		return cart.Cart{}, s.err
	}
	s.paid = append(s.paid, cartID)
	return cart.Cart{ID: cartID, Status: cart.StatusPaid}, nil
}

func webhookFixture(t *testing.T, token string) (*BillingWebhook, *stubCartPayments) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	carts := &stubCartPayments{}
	return NewBillingWebhook(slog.New(slog.DiscardHandler), carts, string(hash)), carts
}

func TestBillingWebhookMarksCartPaid(t *testing.T) {
	hook, carts := webhookFixture(t, "hook-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/payment-recorded", strings.NewReader(`{"cart_id": 5}`))
	req.Header.Set("Authorization", "Bearer hook-secret")
	rec := httptest.NewRecorder()
	hook.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{5}, carts.paid)
}

func TestBillingWebhookRejectsBadToken(t *testing.T) {
	hook, carts := webhookFixture(t, "hook-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/payment-recorded", strings.NewReader(`{"cart_id": 5}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	hook.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, carts.paid)
}

func TestBillingWebhookKeepsAuthorizationGate(t *testing.T) {
	hook, carts := webhookFixture(t, "hook-secret")
	carts.err = shared.ErrAuthorizationRequired

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/payment-recorded", strings.NewReader(`{"cart_id": 5}`))
	req.Header.Set("Authorization", "Bearer hook-secret")
	rec := httptest.NewRecorder()
	hook.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}
