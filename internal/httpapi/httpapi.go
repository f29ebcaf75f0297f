package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"comandapos/internal/domain"
	"comandapos/internal/idempotency"
	"comandapos/internal/service"
	"comandapos/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	guard         *idempotency.Guard
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, guard *idempotency.Guard, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		guard:         guard,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientIP(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.ResourceOrders, domain.ActionRead))
	mux.HandleFunc("/api/v1/orders", a.requireAuthFunc(a.handleOrders))
	mux.HandleFunc("/api/v1/orders/transfer", a.requireAuth(a.handleTransfer, domain.ResourceOrders, domain.ActionTransfer))
	mux.HandleFunc("/api/v1/orders/", a.requireAuthFunc(a.handleOrderActions))
	mux.HandleFunc("/api/v1/items/", a.requireAuthFunc(a.handleItemActions))

	mux.HandleFunc("/api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, domain.ResourceShifts, domain.ActionCreate))
	mux.HandleFunc("/api/v1/shifts/close", a.requireAuth(a.handleShiftClose, domain.ResourceShifts, domain.ActionClose))
	mux.HandleFunc("/api/v1/shifts/active", a.requireAuth(a.handleShiftActive, domain.ResourceShifts, domain.ActionRead))
	mux.HandleFunc("/api/v1/shifts/", a.requireAuth(a.handleShiftReport, domain.ResourceShifts, domain.ActionRead))

	mux.HandleFunc("/api/v1/stock", a.requireAuth(a.handleStock, domain.ResourceStock, domain.ActionRead))
	mux.HandleFunc("/api/v1/stock/low", a.requireAuth(a.handleLowStock, domain.ResourceStock, domain.ActionRead))
	mux.HandleFunc("/api/v1/stock/movements", a.requireAuth(a.handleStockMovements, domain.ResourceStock, domain.ActionRead))
	mux.HandleFunc("/api/v1/stock/", a.requireAuth(a.handleStockAdjust, domain.ResourceStock, domain.ActionAdjust))

	mux.HandleFunc("/api/v1/suppliers", a.requireAuth(a.handleSuppliers, domain.ResourcePurchases, domain.ActionRead))
	mux.HandleFunc("/api/v1/purchase-orders", a.requireAuth(a.handlePurchaseOrders, domain.ResourcePurchases, domain.ActionRead))
	mux.HandleFunc("/api/v1/purchase-orders/", a.requireAuth(a.handlePurchaseOrderActions, domain.ResourcePurchases, domain.ActionCreate))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.ResourceAudit, domain.ActionRead))

	return a.withMiddleware(mux)
}

// requireAuth authenticates the bearer token and checks a single capability
// before calling the handler.
func (a *API) requireAuth(next http.HandlerFunc, resource, action string) http.HandlerFunc {
	return a.requireAuthFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := domain.ActorFromContext(r.Context())
		if !domain.Authorize(actor, resource, action) {
			writeError(w, http.StatusForbidden, errors.New("forbidden"))
			return
		}
		next(w, r)
	})
}

// requireAuthFunc authenticates only; the handler does its own per-method
// capability checks.
func (a *API) requireAuthFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(domain.WithActor(r.Context(), actor)))
	}
}

func (a *API) authorize(w http.ResponseWriter, r *http.Request, resource, action string) (domain.Actor, bool) {
	actor, _ := domain.ActorFromContext(r.Context())
	if !domain.Authorize(actor, resource, action) {
		writeError(w, http.StatusForbidden, errors.New("forbidden"))
		return actor, false
	}
	return actor, true
}

func auditFrom(r *http.Request, actor domain.Actor) domain.AuditContext {
	return domain.AuditContext{
		UserID:    actor.UserID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())
	products, err := a.service.ListProducts(r.Context(), actor.TenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionRead)
		if !ok {
			return
		}
		orders, err := a.service.ListOpenOrders(r.Context(), actor.TenantID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
	case http.MethodPost:
		actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionCreate)
		if !ok {
			return
		}

		var req domain.CreateOrderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.TenantID = actor.TenantID
		req.ServerID = actor.UserID
		req.Audit = auditFrom(r, actor)

		a.dedupe(w, r, actor, func() (int, []byte) {
			order, err := a.service.CreateOrder(r.Context(), req)
			if err != nil {
				return marshalServiceError(err)
			}
			return marshalJSON(http.StatusCreated, map[string]any{"order": order})
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())

	var req domain.TransferItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actor.TenantID
	req.Audit = auditFrom(r, actor)

	resp, err := a.service.TransferItems(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOrderActions routes /api/v1/orders/{id} and its sub-actions.
func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/orders/"), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	orderID := tail
	action := ""
	if idx := strings.IndexByte(tail, '/'); idx > 0 {
		orderID = tail[:idx]
		action = strings.Trim(tail[idx+1:], "/")
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionRead)
		if !ok {
			return
		}
		order, err := a.service.GetOrder(r.Context(), actor.TenantID, orderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case "items":
		a.handleAddItems(w, r, orderID)
	case "payments":
		a.handleAddPayments(w, r, orderID)
	case "close":
		a.handleOrderTerminate(w, r, orderID, true)
	case "cancel":
		a.handleOrderTerminate(w, r, orderID, false)
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown order action"))
	}
}

func (a *API) handleAddItems(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionCreate)
	if !ok {
		return
	}

	var req domain.AddItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actor.TenantID
	req.OrderID = orderID
	req.UserID = actor.UserID
	req.Audit = auditFrom(r, actor)

	order, err := a.service.AddItemsToOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleAddPayments(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.ResourcePayments, domain.ActionCreate)
	if !ok {
		return
	}

	var req domain.AddPaymentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actor.TenantID
	req.OrderID = orderID
	req.UserID = actor.UserID
	req.Audit = auditFrom(r, actor)

	a.dedupe(w, r, actor, func() (int, []byte) {
		resp, err := a.service.AddPayments(r.Context(), req)
		if err != nil {
			return marshalServiceError(err)
		}
		return marshalJSON(http.StatusOK, resp)
	})
}

func (a *API) handleOrderTerminate(w http.ResponseWriter, r *http.Request, orderID string, close bool) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionClose)
	if !ok {
		return
	}

	var order *domain.Order
	var err error
	if close {
		order, err = a.service.CloseOrder(r.Context(), actor.TenantID, orderID, auditFrom(r, actor))
	} else {
		order, err = a.service.CancelOrder(r.Context(), actor.TenantID, orderID, auditFrom(r, actor))
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// handleItemActions routes /api/v1/items/{id}/status and /api/v1/items/{id}/void.
func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/items/"), "/")
	idx := strings.IndexByte(tail, '/')
	if idx <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("item action required"))
		return
	}
	itemID := tail[:idx]
	action := strings.Trim(tail[idx+1:], "/")

	switch action {
	case "status":
		actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionCreate)
		if !ok {
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.UpdateItemStatus(r.Context(), actor.TenantID, itemID, req.Status)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	case "void":
		actor, ok := a.authorize(w, r, domain.ResourceOrders, domain.ActionVoid)
		if !ok {
			return
		}
		var req domain.VoidItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.TenantID = actor.TenantID
		req.ItemID = itemID
		req.Audit = auditFrom(r, actor)

		order, err := a.service.VoidItem(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown item action"))
	}
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())

	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actor.TenantID
	req.UserID = actor.UserID

	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shift": shift})
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())

	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actor.TenantID
	req.UserID = actor.UserID
	req.ShiftID = strings.TrimSpace(r.URL.Query().Get("shift_id"))
	if req.ShiftID == "" {
		// Without an explicit id, close the caller's open shift.
		shift, err := a.service.ActiveShift(r.Context(), actor.TenantID, actor.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		req.ShiftID = shift.ID
	}

	resp, err := a.service.CloseShift(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())
	shift, err := a.service.ActiveShift(r.Context(), actor.TenantID, actor.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": shift})
}

// handleShiftReport serves /api/v1/shifts/{id}/report.
func (a *API) handleShiftReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/shifts/"), "/")
	shiftID := strings.Trim(strings.TrimSuffix(tail, "/report"), "/")
	if shiftID == "" || !strings.HasSuffix(tail, "/report") {
		writeError(w, http.StatusBadRequest, errors.New("shift report path required"))
		return
	}

	actor, _ := domain.ActorFromContext(r.Context())
	report, err := a.service.ShiftReport(r.Context(), actor.TenantID, shiftID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())
	ingredients, err := a.service.ListIngredients(r.Context(), actor.TenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingredients": ingredients})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())
	entries, err := a.service.LowStockReport(r.Context(), actor.TenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"low_stock": entries})
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())
	ingredientID := strings.TrimSpace(r.URL.Query().Get("ingredient_id"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	movements, err := a.service.ListStockMovements(r.Context(), actor.TenantID, ingredientID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

// handleStockAdjust serves POST /api/v1/stock/{id}/adjust.
func (a *API) handleStockAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/stock/"), "/")
	ingredientID := strings.Trim(strings.TrimSuffix(tail, "/adjust"), "/")
	if ingredientID == "" || !strings.HasSuffix(tail, "/adjust") {
		writeError(w, http.StatusBadRequest, errors.New("stock adjust path required"))
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())

	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actor.TenantID
	req.IngredientID = ingredientID
	req.Audit = auditFrom(r, actor)

	ingredient, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingredient": ingredient})
}

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	actor, _ := domain.ActorFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		suppliers, err := a.service.ListSuppliers(r.Context(), actor.TenantID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
	case http.MethodPost:
		if _, ok := a.authorize(w, r, domain.ResourcePurchases, domain.ActionCreate); !ok {
			return
		}
		var req domain.SupplierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.TenantID = actor.TenantID
		supplier, err := a.service.CreateSupplier(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := domain.ActorFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		orders, err := a.service.ListPurchaseOrders(r.Context(), actor.TenantID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"purchase_orders": orders})
	case http.MethodPost:
		if _, ok := a.authorize(w, r, domain.ResourcePurchases, domain.ActionCreate); !ok {
			return
		}
		var req domain.PurchaseOrderCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.TenantID = actor.TenantID
		po, err := a.service.CreatePurchaseOrder(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"purchase_order": po})
	default:
		writeMethodNotAllowed(w)
	}
}

// handlePurchaseOrderActions serves POST /api/v1/purchase-orders/{id}/receive.
func (a *API) handlePurchaseOrderActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/purchase-orders/"), "/")
	purchaseOrderID := strings.Trim(strings.TrimSuffix(tail, "/receive"), "/")
	if purchaseOrderID == "" || !strings.HasSuffix(tail, "/receive") {
		writeError(w, http.StatusBadRequest, errors.New("purchase order action path required"))
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())

	po, err := a.service.ReceivePurchaseOrder(r.Context(), actor.TenantID, purchaseOrderID, auditFrom(r, actor))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, _ := domain.ActorFromContext(r.Context())
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), actor.TenantID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// dedupe replays an identical earlier response when the client sends an
// Idempotency-Key it has used before. Requests without the header run
// normally.
func (a *API) dedupe(w http.ResponseWriter, r *http.Request, actor domain.Actor, fn func() (int, []byte)) {
	clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if clientKey == "" || a.guard == nil {
		status, body := fn()
		writeRaw(w, status, body)
		return
	}

	key := idempotency.Key(actor.TenantID, actor.UserID, clientKey)
	status, body, replayed := a.guard.Execute(r.Context(), key, fn)
	if replayed {
		w.Header().Set("Idempotent-Replay", "true")
	}
	writeRaw(w, status, body)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusForError maps the store sentinels onto HTTP statuses. Retryable
// failures surface as 503 so clients know to resubmit.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrRetryable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func marshalServiceError(err error) (int, []byte) {
	status := statusForError(err)
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	body, _ := json.Marshal(map[string]any{"error": msg})
	return status, body
}

func marshalJSON(status int, payload any) (int, []byte) {
	body, err := json.Marshal(payload)
	if err != nil {
		return marshalServiceError(err)
	}
	return status, body
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so internals (SQL errors, file
	// paths) never leak to clients. 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
