package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"comandapos/internal/domain"
	"comandapos/internal/store/memory"
)

func seedTenantBAdmin(t *testing.T, mem *memory.Store) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("otherpass"), bcrypt.MinCost)
	require.NoError(t, err)
	mem.UpsertUser(domain.UserAccount{
		ID:          "user-tenant-b",
		TenantID:    "tenant-b",
		Username:    "otheradmin",
		Password:    string(hash),
		Role:        domain.RoleAdmin,
		Permissions: domain.DefaultPermissions(domain.RoleAdmin),
		Active:      true,
	})
}

// Orders must be invisible across tenants: a foreign order id and a missing
// one both come back 404.
func TestCrossTenantOrderAccessIs404(t *testing.T) {
	handler, mem := newTestAPI(t)
	seedTenantBAdmin(t, mem)

	token := loginAs(t, handler, "cashier", "cashier123")
	productID := firstProductID(t, handler, token)
	rec, order := createOrder(t, handler, token, productID, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	otherToken := loginAs(t, handler, "otheradmin", "otherpass")

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/"+order.ID, otherToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/definitely-missing", otherToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Idempotency keys are scoped per tenant and user; the same client key from
// another account must not replay someone else's response.
func TestIdempotencyKeysDoNotLeakAcrossUsers(t *testing.T) {
	handler, _ := newTestAPI(t)

	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	managerToken := loginAs(t, handler, "manager", "manager123")
	productID := firstProductID(t, handler, cashierToken)

	headers := map[string]string{"Idempotency-Key": "shared-key"}

	first, cashierOrder := createOrder(t, handler, cashierToken, productID, headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second, managerOrder := createOrder(t, handler, managerToken, productID, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get("Idempotent-Replay"))
	assert.NotEqual(t, cashierOrder.ID, managerOrder.ID)
}

func TestTokenSignedWithWrongSecretRejected(t *testing.T) {
	handler, mem := newTestAPI(t)

	forged := NewAuthManager("wrong-secret", time.Hour, mem)
	user, err := mem.GetUserByUsername(context.Background(), "cashier")
	require.NoError(t, err)
	token, err := forged.sign(user, domain.DefaultPermissions(user.Role), time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	handler, mem := newTestAPI(t)

	auth := NewAuthManager("test-secret-key", time.Hour, mem)
	user, err := mem.GetUserByUsername(context.Background(), "cashier")
	require.NoError(t, err)
	token, err := auth.sign(user, domain.DefaultPermissions(user.Role), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditLogsRequireCapability(t *testing.T) {
	handler, _ := newTestAPI(t)

	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", cashierToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	managerToken := loginAs(t, handler, "manager", "manager123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", managerToken, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
