package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"comandapos/internal/domain"
	"comandapos/internal/store"
)

// Store is a mutex-guarded in-memory Repository used by tests and dev mode.
// Semantics match the postgres implementation; what happens in a transaction
// there happens here under one lock.
type Store struct {
	mu             sync.RWMutex
	users          map[string]domain.UserAccount // by username
	products       map[string]domain.Product
	modifiers      map[string]domain.ModifierOption
	recipes        map[string][]domain.RecipeItem // by product id
	ingredients    map[string]domain.Ingredient
	orders         map[string]domain.Order
	itemIndex      map[string]string // item id -> order id
	sequences      map[string]int    // tenant|business date -> last value
	shifts         map[string]domain.CashShift
	movements      []domain.StockMovement
	suppliers      map[string]domain.Supplier
	purchaseOrders map[string]domain.PurchaseOrder
	audits         []domain.AuditLog
	now            func() time.Time
}

func New() *Store {
	return &Store{
		users:          map[string]domain.UserAccount{},
		products:       map[string]domain.Product{},
		modifiers:      map[string]domain.ModifierOption{},
		recipes:        map[string][]domain.RecipeItem{},
		ingredients:    map[string]domain.Ingredient{},
		orders:         map[string]domain.Order{},
		itemIndex:      map[string]string{},
		sequences:      map[string]int{},
		shifts:         map[string]domain.CashShift{},
		suppliers:      map[string]domain.Supplier{},
		purchaseOrders: map[string]domain.PurchaseOrder{},
		now:            time.Now,
	}
}

// NewSeeded returns a store preloaded with a demo tenant: one user per role,
// a small menu with recipes and modifiers, and ingredient stock.
func NewSeeded(tenantID string) *Store {
	s := New()
	s.seedUsers(tenantID)
	s.seedCatalog(tenantID)
	return s
}

// seedUsers builds the initial accounts for dev/demo mode. Passwords come
// from SEED_<ROLE>_PASSWORD environment variables; hardcoded dev defaults
// are used otherwise with a warning. Postgres deployments never hit this.
func (s *Store) seedUsers(tenantID string) {
	for _, u := range []struct {
		username string
		role     string
	}{
		{"admin", domain.RoleAdmin},
		{"manager", domain.RoleManager},
		{"cashier", domain.RoleCashier},
		{"waiter", domain.RoleWaiter},
	} {
		envKey := "SEED_" + strings.ToUpper(u.username) + "_PASSWORD"
		password := envOr(envKey, u.username+"123")
		if os.Getenv(envKey) == "" {
			log.Printf("[memory-store] WARNING: using default dev password for %s. Set %s to override.", u.username, envKey)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		s.users[u.username] = domain.UserAccount{
			ID:          uuid.NewString(),
			TenantID:    tenantID,
			Username:    u.username,
			Password:    string(hash),
			Role:        u.role,
			Permissions: domain.DefaultPermissions(u.role),
			Active:      true,
			CreatedAt:   s.now().UTC(),
		}
	}
}

func (s *Store) seedCatalog(tenantID string) {
	cheese := domain.Ingredient{ID: uuid.NewString(), TenantID: tenantID, Name: "mozzarella", Unit: "kg", Stock: decimal.NewFromInt(20), MinStock: decimal.NewFromInt(5), CostCents: 80000}
	flour := domain.Ingredient{ID: uuid.NewString(), TenantID: tenantID, Name: "flour", Unit: "kg", Stock: decimal.NewFromInt(50), MinStock: decimal.NewFromInt(10), CostCents: 12000}
	beef := domain.Ingredient{ID: uuid.NewString(), TenantID: tenantID, Name: "ground beef", Unit: "kg", Stock: decimal.NewFromInt(15), MinStock: decimal.NewFromInt(4), CostCents: 150000}
	for _, ing := range []domain.Ingredient{cheese, flour, beef} {
		s.ingredients[ing.ID] = ing
	}

	pizza := domain.Product{ID: uuid.NewString(), TenantID: tenantID, Name: "pizza muzzarella", Category: "kitchen", PriceCents: 120000, Active: true}
	empanada := domain.Product{ID: uuid.NewString(), TenantID: tenantID, Name: "empanada de carne", Category: "kitchen", PriceCents: 25000, Active: true}
	flan := domain.Product{ID: uuid.NewString(), TenantID: tenantID, Name: "flan casero", Category: "dessert", PriceCents: 45000, Active: true}
	for _, p := range []domain.Product{pizza, empanada, flan} {
		s.products[p.ID] = p
	}

	s.recipes[pizza.ID] = []domain.RecipeItem{
		{ProductID: pizza.ID, IngredientID: flour.ID, Qty: decimal.RequireFromString("0.3")},
		{ProductID: pizza.ID, IngredientID: cheese.ID, Qty: decimal.RequireFromString("0.25")},
	}
	s.recipes[empanada.ID] = []domain.RecipeItem{
		{ProductID: empanada.ID, IngredientID: flour.ID, Qty: decimal.RequireFromString("0.05")},
		{ProductID: empanada.ID, IngredientID: beef.ID, Qty: decimal.RequireFromString("0.08")},
	}

	extraCheese := domain.ModifierOption{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ProductID:    pizza.ID,
		Name:         "extra cheese",
		PriceCents:   15000,
		IngredientID: cheese.ID,
		ConsumeQty:   decimal.RequireFromString("0.1"),
	}
	s.modifiers[extraCheese.ID] = extraCheese
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetNow overrides the clock; tests use it to pin business dates.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// --- auth ---

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok || !user.Active {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	clone := user
	return &clone, nil
}

// UpsertUser is a seed/test helper.
func (s *Store) UpsertUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
}

// --- catalog ---

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Product
	for _, p := range s.products {
		if p.TenantID == tenantID && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProducts(_ context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.TenantID == tenantID {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) GetModifiers(_ context.Context, tenantID string, ids []string) (map[string]domain.ModifierOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.ModifierOption, len(ids))
	for _, id := range ids {
		if m, ok := s.modifiers[id]; ok && m.TenantID == tenantID {
			out[id] = m
		}
	}
	return out, nil
}

func (s *Store) GetRecipes(_ context.Context, tenantID string, productIDs []string) (map[string][]domain.RecipeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.RecipeItem, len(productIDs))
	for _, pid := range productIDs {
		product, ok := s.products[pid]
		if !ok || product.TenantID != tenantID {
			continue
		}
		out[pid] = append([]domain.RecipeItem(nil), s.recipes[pid]...)
	}
	return out, nil
}

// UpsertProduct is a seed/test helper.
func (s *Store) UpsertProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// UpsertIngredient is a seed/test helper.
func (s *Store) UpsertIngredient(ing domain.Ingredient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingredients[ing.ID] = ing
}

// UpsertModifier is a seed/test helper.
func (s *Store) UpsertModifier(m domain.ModifierOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modifiers[m.ID] = m
}

// UpsertRecipe replaces a product's recipe. Seed/test helper.
func (s *Store) UpsertRecipe(productID string, recipe []domain.RecipeItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[productID] = recipe
}

// --- orders ---

func sequenceKey(tenantID string, businessDate time.Time) string {
	return tenantID + "|" + businessDate.Format("2006-01-02")
}

func (s *Store) CreateOrder(_ context.Context, draft store.OrderDraft) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDeltasLocked(draft.Items); err != nil {
		return nil, err
	}
	if len(draft.Payments) > 0 {
		if err := checkTolerance(draft.TotalCents, 0, draft.Payments, draft.TolerancePct); err != nil {
			return nil, err
		}
	}

	now := s.now()
	key := sequenceKey(draft.TenantID, draft.BusinessDate)
	s.sequences[key]++

	order := domain.Order{
		ID:            draft.ID,
		TenantID:      draft.TenantID,
		OrderNumber:   s.sequences[key],
		BusinessDate:  draft.BusinessDate,
		Channel:       draft.Channel,
		Status:        domain.OrderStatusOpen,
		TableID:       draft.TableID,
		ClientID:      draft.ClientID,
		ServerID:      draft.ServerID,
		DiscountCents: draft.DiscountCents,
		TotalCents:    draft.TotalCents,
		CreatedAt:     now,
	}

	for _, item := range draft.Items {
		order.Items = append(order.Items, s.applyItemLocked(order.ID, order.TenantID, item, now))
	}
	for _, p := range draft.Payments {
		p.OrderID = order.ID
		p.CreatedAt = now
		order.Payments = append(order.Payments, p)
	}

	order.Status = settleStatus(order, draft.CloseOrder)
	s.orders[order.ID] = order
	clone := cloneOrder(order)
	return &clone, nil
}

// checkDeltasLocked verifies every ingredient a draft touches before any
// state changes, so a bad draft never leaves partial movements behind.
// Caller holds the write lock.
func (s *Store) checkDeltasLocked(items []store.ItemDraft) error {
	for _, item := range items {
		for _, delta := range item.StockDeltas {
			if _, ok := s.ingredients[delta.IngredientID]; !ok {
				return fmt.Errorf("%w: ingredient %s", store.ErrNotFound, delta.IngredientID)
			}
		}
	}
	return nil
}

// applyItemLocked inserts one item and its stock movements. Caller holds the
// write lock and has already validated the ingredient ids.
func (s *Store) applyItemLocked(orderID, tenantID string, draft store.ItemDraft, now time.Time) domain.OrderItem {
	item := domain.OrderItem{
		ID:                   draft.ID,
		OrderID:              orderID,
		ProductID:            draft.ProductID,
		Name:                 draft.Name,
		Quantity:             draft.Quantity,
		UnitPriceCents:       draft.UnitPriceCents,
		Notes:                draft.Notes,
		Status:               domain.ItemStatusPending,
		Modifiers:            draft.Modifiers,
		RemovedIngredientIDs: draft.RemovedIngredientIDs,
		CreatedAt:            now,
	}
	s.itemIndex[item.ID] = orderID
	for _, delta := range draft.StockDeltas {
		ing := s.ingredients[delta.IngredientID]
		ing.Stock = ing.Stock.Add(delta.Qty)
		s.ingredients[delta.IngredientID] = ing
		s.movements = append(s.movements, domain.StockMovement{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			IngredientID: delta.IngredientID,
			Type:         domain.MovementSale,
			Delta:        delta.Qty,
			OrderItemID:  item.ID,
			CreatedAt:    now,
		})
	}
	return item
}

func (s *Store) GetOrder(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) ListOpenOrders(_ context.Context, tenantID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.TenantID != tenantID {
			continue
		}
		if o.Status == domain.OrderStatusOpen || o.Status == domain.OrderStatusPartiallyPaid {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddItems(_ context.Context, tenantID, orderID string, items []store.ItemDraft) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
	}
	if err := s.checkDeltasLocked(items); err != nil {
		return nil, err
	}

	now := s.now()
	for _, item := range items {
		order.Items = append(order.Items, s.applyItemLocked(order.ID, order.TenantID, item, now))
	}
	order.TotalCents = recomputeTotal(order)
	order.Status = settleStatus(order, false)
	s.orders[order.ID] = order
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) AddPayments(_ context.Context, tenantID, orderID string, payments []domain.Payment, closeOrder bool, tolerancePct float64) (*domain.AddPaymentsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusClosed {
		return nil, fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
	}
	if order.FullyPaid() {
		return nil, fmt.Errorf("%w: order already fully paid", store.ErrConflict)
	}
	if err := checkTolerance(order.TotalCents, order.PaidCents(), payments, tolerancePct); err != nil {
		return nil, err
	}

	now := s.now()
	added := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		p.OrderID = order.ID
		p.CreatedAt = now
		order.Payments = append(order.Payments, p)
		added = append(added, p)
	}
	order.Status = settleStatus(order, closeOrder)
	s.orders[order.ID] = order
	return &domain.AddPaymentsResponse{Order: cloneOrder(order), PaymentsAdded: added}, nil
}

func (s *Store) CancelOrder(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
	}
	if order.FullyPaid() {
		return nil, fmt.Errorf("%w: fully paid order cannot be cancelled", store.ErrConflict)
	}

	order.Status = domain.OrderStatusCancelled
	s.orders[order.ID] = order
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) CloseOrder(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
	}
	if !order.FullyPaid() {
		return nil, fmt.Errorf("%w: order not fully paid", store.ErrConflict)
	}

	order.Status = domain.OrderStatusClosed
	s.orders[order.ID] = order
	clone := cloneOrder(order)
	return &clone, nil
}

var itemStatusRank = map[string]int{
	domain.ItemStatusPending: 0,
	domain.ItemStatusCooking: 1,
	domain.ItemStatusReady:   2,
	domain.ItemStatusServed:  3,
}

func (s *Store) UpdateItemStatus(_ context.Context, tenantID, itemID, status string) (*domain.Order, *domain.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID, ok := s.itemIndex[itemID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	order := s.orders[orderID]
	if order.TenantID != tenantID {
		return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}

	newRank, ok := itemStatusRank[status]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown item status %q", store.ErrValidation, status)
	}

	for i := range order.Items {
		if order.Items[i].ID != itemID {
			continue
		}
		current := order.Items[i].Status
		if current == domain.ItemStatusVoid {
			return nil, nil, fmt.Errorf("%w: item is void", store.ErrConflict)
		}
		if newRank != itemStatusRank[current]+1 {
			return nil, nil, fmt.Errorf("%w: cannot move item from %s to %s", store.ErrConflict, current, status)
		}
		order.Items[i].Status = status
		s.orders[order.ID] = order
		orderClone := cloneOrder(order)
		itemClone := orderClone.Items[i]
		return &orderClone, &itemClone, nil
	}
	return nil, nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
}

func (s *Store) VoidItem(_ context.Context, tenantID, itemID, reason, notes string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID, ok := s.itemIndex[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	order := s.orders[orderID]
	if order.TenantID != tenantID {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
	}

	idx := -1
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
	}
	if order.Items[idx].Status == domain.ItemStatusVoid {
		return nil, fmt.Errorf("%w: item already void", store.ErrConflict)
	}

	// Replay the recorded sale movements inverted. The recipe may have
	// changed since the sale; the ledger is the truth.
	now := s.now()
	recorded := append([]domain.StockMovement(nil), s.movements...)
	for _, m := range recorded {
		if m.OrderItemID != itemID || m.Type != domain.MovementSale {
			continue
		}
		ing := s.ingredients[m.IngredientID]
		ing.Stock = ing.Stock.Sub(m.Delta)
		s.ingredients[m.IngredientID] = ing
		s.movements = append(s.movements, domain.StockMovement{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			IngredientID: m.IngredientID,
			Type:         domain.MovementVoid,
			Delta:        m.Delta.Neg(),
			OrderItemID:  itemID,
			Note:         reason,
			CreatedAt:    now,
		})
	}

	order.Items[idx].Status = domain.ItemStatusVoid
	order.Items[idx].VoidReason = reason
	order.Items[idx].VoidNotes = notes
	order.TotalCents = recomputeTotal(order)
	order.Status = settleStatus(order, false)
	s.orders[order.ID] = order
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) TransferItems(_ context.Context, tenantID, fromOrderID, toOrderID string, itemIDs []string) (*domain.TransferItemsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fromOrderID == toOrderID {
		return nil, fmt.Errorf("%w: source and destination are the same order", store.ErrValidation)
	}
	from, ok := s.orders[fromOrderID]
	if !ok || from.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, fromOrderID)
	}
	to, ok := s.orders[toOrderID]
	if !ok || to.TenantID != tenantID {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, toOrderID)
	}
	for _, o := range []domain.Order{from, to} {
		if o.Status != domain.OrderStatusOpen && o.Status != domain.OrderStatusPartiallyPaid {
			return nil, fmt.Errorf("%w: order %s is %s", store.ErrConflict, o.ID, o.Status)
		}
	}

	want := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
	}
	var moved []domain.OrderItem
	var kept []domain.OrderItem
	for _, item := range from.Items {
		if !want[item.ID] {
			kept = append(kept, item)
			continue
		}
		if item.Status == domain.ItemStatusServed || item.Status == domain.ItemStatusVoid {
			return nil, fmt.Errorf("%w: item %s is %s and cannot move", store.ErrConflict, item.ID, item.Status)
		}
		delete(want, item.ID)
		item.OrderID = to.ID
		moved = append(moved, item)
	}
	if len(want) > 0 {
		return nil, fmt.Errorf("%w: item not on source order", store.ErrNotFound)
	}

	from.Items = kept
	to.Items = append(to.Items, moved...)
	for _, item := range moved {
		s.itemIndex[item.ID] = to.ID
	}
	from.TotalCents = recomputeTotal(from)
	to.TotalCents = recomputeTotal(to)
	from.Status = settleStatus(from, false)
	to.Status = settleStatus(to, false)
	s.orders[from.ID] = from
	s.orders[to.ID] = to
	return &domain.TransferItemsResponse{FromOrder: cloneOrder(from), ToOrder: cloneOrder(to)}, nil
}

// --- cash shifts ---

func (s *Store) OpenShift(_ context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shifts {
		if existing.TenantID == shift.TenantID && existing.UserID == shift.UserID && existing.Status == domain.ShiftStatusOpen {
			return nil, fmt.Errorf("%w: shift already open for user", store.ErrConflict)
		}
	}
	shift.Status = domain.ShiftStatusOpen
	shift.OpenedAt = s.now()
	s.shifts[shift.ID] = shift
	clone := shift
	return &clone, nil
}

func (s *Store) GetActiveShift(_ context.Context, tenantID, userID string) (*domain.CashShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shift := range s.shifts {
		if shift.TenantID == tenantID && shift.UserID == userID && shift.Status == domain.ShiftStatusOpen {
			clone := shift
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: no open shift", store.ErrNotFound)
}

func (s *Store) CloseShift(_ context.Context, tenantID, userID, shiftID string, countedCashCents int64) (*domain.CashShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[shiftID]
	if !ok || shift.TenantID != tenantID || shift.UserID != userID {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: shift already closed", store.ErrConflict)
	}

	expected := shift.OpeningFloatCents + s.shiftCashLocked(shiftID)
	now := s.now()
	shift.Status = domain.ShiftStatusClosed
	shift.CountedCashCents = countedCashCents
	shift.ExpectedCashCents = expected
	shift.DifferenceCents = countedCashCents - expected
	shift.ClosedAt = &now
	s.shifts[shiftID] = shift
	clone := shift
	return &clone, nil
}

func (s *Store) shiftCashLocked(shiftID string) int64 {
	var total int64
	for _, order := range s.orders {
		for _, p := range order.Payments {
			if p.ShiftID == shiftID && p.NormalizedMethod == domain.MethodCash {
				total += p.AmountCents
			}
		}
	}
	return total
}

func (s *Store) ShiftReport(_ context.Context, tenantID, shiftID string) (*domain.ShiftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[shiftID]
	if !ok || shift.TenantID != tenantID {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
	}

	byMethod := map[string]*domain.ShiftMethodTotal{}
	ordersSeen := map[string]bool{}
	var cash int64
	for _, order := range s.orders {
		for _, p := range order.Payments {
			if p.ShiftID != shiftID {
				continue
			}
			ordersSeen[order.ID] = true
			entry, ok := byMethod[p.NormalizedMethod]
			if !ok {
				entry = &domain.ShiftMethodTotal{Method: p.NormalizedMethod}
				byMethod[p.NormalizedMethod] = entry
			}
			entry.Payments++
			entry.AmountCents += p.AmountCents
			if p.NormalizedMethod == domain.MethodCash {
				cash += p.AmountCents
			}
		}
	}

	report := domain.ShiftReport{
		Shift:             shift,
		Orders:            int64(len(ordersSeen)),
		ExpectedCashCents: shift.OpeningFloatCents + cash,
	}
	for _, entry := range byMethod {
		report.ByMethod = append(report.ByMethod, *entry)
	}
	sort.Slice(report.ByMethod, func(i, j int) bool { return report.ByMethod[i].Method < report.ByMethod[j].Method })
	return &report, nil
}

// --- stock ---

func (s *Store) ListIngredients(_ context.Context, tenantID string) ([]domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Ingredient
	for _, ing := range s.ingredients {
		if ing.TenantID == tenantID {
			out = append(out, ing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) AdjustStock(_ context.Context, movement domain.StockMovement) (*domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, ok := s.ingredients[movement.IngredientID]
	if !ok || ing.TenantID != movement.TenantID {
		return nil, fmt.Errorf("%w: ingredient %s", store.ErrNotFound, movement.IngredientID)
	}
	ing.Stock = ing.Stock.Add(movement.Delta)
	s.ingredients[movement.IngredientID] = ing

	movement.ID = uuid.NewString()
	movement.CreatedAt = s.now()
	s.movements = append(s.movements, movement)
	clone := ing
	return &clone, nil
}

func (s *Store) ListStockMovements(_ context.Context, tenantID, ingredientID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StockMovement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.TenantID != tenantID {
			continue
		}
		if ingredientID != "" && m.IngredientID != ingredientID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- purchasing ---

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	supplier.CreatedAt = s.now()
	s.suppliers[supplier.ID] = supplier
	clone := supplier
	return &clone, nil
}

func (s *Store) ListSuppliers(_ context.Context, tenantID string) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Supplier
	for _, sup := range s.suppliers {
		if sup.TenantID == tenantID {
			out = append(out, sup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier, ok := s.suppliers[po.SupplierID]
	if !ok || supplier.TenantID != po.TenantID {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
	}
	po.Status = domain.PurchaseOrderStatusDraft
	po.CreatedAt = s.now()
	s.purchaseOrders[po.ID] = po
	clone := po
	return &clone, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, tenantID, purchaseOrderID, receivedBy string) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.purchaseOrders[purchaseOrderID]
	if !ok || po.TenantID != tenantID {
		return nil, fmt.Errorf("%w: purchase order %s", store.ErrNotFound, purchaseOrderID)
	}
	if po.Status != domain.PurchaseOrderStatusDraft {
		return nil, fmt.Errorf("%w: purchase order already received", store.ErrConflict)
	}

	now := s.now()
	for _, item := range po.Items {
		ing, ok := s.ingredients[item.IngredientID]
		if !ok || ing.TenantID != tenantID {
			return nil, fmt.Errorf("%w: ingredient %s", store.ErrNotFound, item.IngredientID)
		}
		ing.Stock = ing.Stock.Add(item.Qty)
		s.ingredients[item.IngredientID] = ing
		s.movements = append(s.movements, domain.StockMovement{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			IngredientID: item.IngredientID,
			Type:         domain.MovementPurchase,
			Delta:        item.Qty,
			RefID:        po.ID,
			CreatedAt:    now,
		})
	}
	po.Status = domain.PurchaseOrderStatusReceived
	po.ReceivedAt = &now
	po.ReceivedBy = receivedBy
	s.purchaseOrders[po.ID] = po
	clone := po
	return &clone, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, tenantID string) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PurchaseOrder
	for _, po := range s.purchaseOrders {
		if po.TenantID == tenantID {
			out = append(out, po)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- audit ---

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now()
	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditLog
	for i := len(s.audits) - 1; i >= 0; i-- {
		if s.audits[i].TenantID != tenantID {
			continue
		}
		out = append(out, s.audits[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- helpers ---

func recomputeTotal(order domain.Order) int64 {
	var total int64
	for _, item := range order.Items {
		total += item.LineTotalCents()
	}
	total -= order.DiscountCents
	if total < 0 {
		total = 0
	}
	return total
}

// settleStatus derives the financial status from payments. Closed and
// cancelled are terminal; callers guard those before getting here.
func settleStatus(order domain.Order, closeOrder bool) string {
	paid := order.PaidCents()
	switch {
	case paid == 0 && order.TotalCents > 0:
		return domain.OrderStatusOpen
	case paid < order.TotalCents:
		return domain.OrderStatusPartiallyPaid
	case closeOrder:
		return domain.OrderStatusClosed
	default:
		return domain.OrderStatusPaid
	}
}

// checkTolerance rejects a payment batch whose running total would exceed
// the order total by more than the configured percentage.
func checkTolerance(totalCents, alreadyPaidCents int64, payments []domain.Payment, tolerancePct float64) error {
	var incoming int64
	for _, p := range payments {
		incoming += p.AmountCents
	}
	limit := int64(float64(totalCents) * (1 + tolerancePct/100))
	if alreadyPaidCents+incoming > limit {
		return fmt.Errorf("%w: payment exceeds order total beyond tolerance", store.ErrValidation)
	}
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = append([]domain.OrderItem(nil), order.Items...)
	for i := range clone.Items {
		clone.Items[i].Modifiers = append([]domain.AppliedModifier(nil), order.Items[i].Modifiers...)
		clone.Items[i].RemovedIngredientIDs = append([]string(nil), order.Items[i].RemovedIngredientIDs...)
	}
	clone.Payments = append([]domain.Payment(nil), order.Payments...)
	return clone
}
