package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pharmacore/pharmacore/internal/shared"
)

func TestPrincipalRejectsMissingActor(t *testing.T) {
	mw := Middleware{}
	handler := mw.Principal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAnyAllowsMatchingRole(t *testing.T) {
	mw := Middleware{}
	var reached bool
	handler := mw.Principal(mw.RequireAny(shared.RolePharmacist, shared.RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			require.True(t, ok)
			require.Equal(t, int64(7), principal.ID)
			reached = true
		})))

	req := httptest.NewRequest(http.MethodPost, "/dispense", nil)
	req.Header.Set("X-Actor-ID", "7")
	req.Header.Set("X-Actor-Role", "pharmacist")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.True(t, reached)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequirePredicateDeniesPharmacistCartEdit(t *testing.T) {
	mw := Middleware{}
	handler := mw.Principal(mw.Require(shared.Principal.CanEditCart)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodPost, "/carts", nil)
	req.Header.Set("X-Actor-ID", "7")
	req.Header.Set("X-Actor-Role", "pharmacist")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	req.Header.Set("X-Actor-Role", "doctor")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAnyDeniesOtherRole(t *testing.T) {
	mw := Middleware{}
	handler := mw.Principal(mw.RequireAny(shared.RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be reached")
		})))

	req := httptest.NewRequest(http.MethodPost, "/transfers", nil)
	req.Header.Set("X-Actor-ID", "9")
	req.Header.Set("X-Actor-Role", "nurse")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
