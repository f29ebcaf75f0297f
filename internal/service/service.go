package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"comandapos/internal/domain"
	"comandapos/internal/events"
	"comandapos/internal/store"
)

// Config carries the business tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	BusinessDayCutoffHour int
	OverpayTolerancePct   float64
	MaxPaymentsPerCall    int
}

func (c Config) withDefaults() Config {
	if c.BusinessDayCutoffHour < 0 || c.BusinessDayCutoffHour > 23 {
		c.BusinessDayCutoffHour = domain.DefaultCutoffHour
	}
	if c.OverpayTolerancePct <= 0 {
		c.OverpayTolerancePct = 10
	}
	if c.MaxPaymentsPerCall < 1 {
		c.MaxPaymentsPerCall = 10
	}
	return c
}

type Service struct {
	repo    store.Repository
	tickets events.TicketPublisher
	cfg     Config
	now     func() time.Time
}

func New(repo store.Repository, tickets events.TicketPublisher, cfg Config) *Service {
	if tickets == nil {
		tickets = events.NoopPublisher{}
	}
	return &Service{
		repo:    repo,
		tickets: tickets,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// SetNow overrides the clock for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// --- orders ---

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if req.TenantID == "" || req.ServerID == "" {
		return nil, fmt.Errorf("%w: missing tenant or server", store.ErrValidation)
	}
	if !domain.ValidChannel(req.Channel) {
		return nil, fmt.Errorf("%w: unknown channel %q", store.ErrValidation, req.Channel)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order needs at least one item", store.ErrValidation)
	}

	items, subtotal, err := s.buildItems(ctx, req.TenantID, req.Items)
	if err != nil {
		return nil, err
	}

	discount, err := resolveDiscount(req.Discount, subtotal)
	if err != nil {
		return nil, err
	}
	total := subtotal - discount

	payments, err := s.buildPayments(ctx, req.TenantID, req.ServerID, req.Payments)
	if err != nil {
		return nil, err
	}

	draft := store.OrderDraft{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		BusinessDate:  domain.BusinessDate(s.now(), s.cfg.BusinessDayCutoffHour),
		Channel:       req.Channel,
		TableID:       req.TableID,
		ClientID:      req.ClientID,
		ServerID:      req.ServerID,
		DiscountCents: discount,
		TotalCents:    total,
		Items:         items,
		Payments:      payments,
		CloseOrder:    req.CloseOrder,
		TolerancePct:  s.cfg.OverpayTolerancePct,
	}

	order, err := s.repo.CreateOrder(ctx, draft)
	if err != nil {
		return nil, err
	}

	s.publishOrderTickets(ctx, *order, order.Items)
	s.logAudit(ctx, req.TenantID, req.Audit, "order.create", "order", order.ID,
		fmt.Sprintf("number=%d total=%d items=%d", order.OrderNumber, order.TotalCents, len(order.Items)))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, tenantID, orderID)
}

func (s *Service) ListOpenOrders(ctx context.Context, tenantID string) ([]domain.Order, error) {
	return s.repo.ListOpenOrders(ctx, tenantID)
}

func (s *Service) AddItemsToOrder(ctx context.Context, req domain.AddItemsRequest) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: nothing to add", store.ErrValidation)
	}
	items, _, err := s.buildItems(ctx, req.TenantID, req.Items)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.AddItems(ctx, req.TenantID, req.OrderID, items)
	if err != nil {
		return nil, err
	}

	added := make(map[string]bool, len(items))
	for _, item := range items {
		added[item.ID] = true
	}
	var newItems []domain.OrderItem
	for _, item := range order.Items {
		if added[item.ID] {
			newItems = append(newItems, item)
		}
	}
	s.publishOrderTickets(ctx, *order, newItems)
	s.logAudit(ctx, req.TenantID, req.Audit, "order.add_items", "order", order.ID,
		fmt.Sprintf("items=%d total=%d", len(items), order.TotalCents))
	return order, nil
}

func (s *Service) AddPayments(ctx context.Context, req domain.AddPaymentsRequest) (*domain.AddPaymentsResponse, error) {
	// A missing or foreign order must read not found regardless of the
	// payload, so existence is resolved before any input validation.
	if _, err := s.repo.GetOrder(ctx, req.TenantID, req.OrderID); err != nil {
		return nil, err
	}
	if len(req.Payments) == 0 || len(req.Payments) > s.cfg.MaxPaymentsPerCall {
		return nil, fmt.Errorf("%w: payment batch must hold 1..%d entries", store.ErrValidation, s.cfg.MaxPaymentsPerCall)
	}

	payments, err := s.buildPayments(ctx, req.TenantID, req.UserID, req.Payments)
	if err != nil {
		return nil, err
	}

	resp, err := s.repo.AddPayments(ctx, req.TenantID, req.OrderID, payments, req.CloseOrder, s.cfg.OverpayTolerancePct)
	if err != nil {
		return nil, err
	}

	var amount int64
	for _, p := range resp.PaymentsAdded {
		amount += p.AmountCents
	}
	s.logAudit(ctx, req.TenantID, req.Audit, "payment.add", "order", req.OrderID,
		fmt.Sprintf("payments=%d amount=%d status=%s", len(resp.PaymentsAdded), amount, resp.Order.Status))
	return resp, nil
}

func (s *Service) CancelOrder(ctx context.Context, tenantID, orderID string, audit domain.AuditContext) (*domain.Order, error) {
	order, err := s.repo.CancelOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, tenantID, audit, "order.cancel", "order", orderID, "")
	return order, nil
}

func (s *Service) CloseOrder(ctx context.Context, tenantID, orderID string, audit domain.AuditContext) (*domain.Order, error) {
	order, err := s.repo.CloseOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, tenantID, audit, "order.close", "order", orderID, "")
	return order, nil
}

func (s *Service) UpdateItemStatus(ctx context.Context, tenantID, itemID, status string) (*domain.Order, error) {
	order, item, err := s.repo.UpdateItemStatus(ctx, tenantID, itemID, status)
	if err != nil {
		return nil, err
	}
	s.publishTicket(ctx, *order, *item, item.Status)
	return order, nil
}

func (s *Service) VoidItem(ctx context.Context, req domain.VoidItemRequest) (*domain.Order, error) {
	if !domain.ValidVoidReason(req.Reason) {
		return nil, fmt.Errorf("%w: unknown void reason %q", store.ErrValidation, req.Reason)
	}

	order, err := s.repo.VoidItem(ctx, req.TenantID, req.ItemID, req.Reason, req.Notes)
	if err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		if item.ID == req.ItemID {
			s.publishTicket(ctx, *order, item, domain.ItemStatusVoid)
			break
		}
	}
	s.logAudit(ctx, req.TenantID, req.Audit, "order.void_item", "order_item", req.ItemID,
		fmt.Sprintf("reason=%s order=%s total=%d", req.Reason, order.ID, order.TotalCents))
	return order, nil
}

func (s *Service) TransferItems(ctx context.Context, req domain.TransferItemsRequest) (*domain.TransferItemsResponse, error) {
	if len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: nothing to transfer", store.ErrValidation)
	}
	resp, err := s.repo.TransferItems(ctx, req.TenantID, req.FromOrderID, req.ToOrderID, req.ItemIDs)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, req.TenantID, req.Audit, "order.transfer_items", "order", req.FromOrderID,
		fmt.Sprintf("to=%s items=%d", req.ToOrderID, len(req.ItemIDs)))
	return resp, nil
}

// buildItems resolves the tenant catalog, snapshots prices and computes the
// signed stock deltas for every input line.
func (s *Service) buildItems(ctx context.Context, tenantID string, inputs []domain.OrderItemInput) ([]store.ItemDraft, int64, error) {
	productIDs := make([]string, 0, len(inputs))
	var modifierIDs []string
	for _, in := range inputs {
		if in.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
		if in.ProductID == "" {
			return nil, 0, fmt.Errorf("%w: missing product id", store.ErrValidation)
		}
		productIDs = append(productIDs, in.ProductID)
		modifierIDs = append(modifierIDs, in.ModifierIDs...)
	}

	products, err := s.repo.GetProducts(ctx, tenantID, productIDs)
	if err != nil {
		return nil, 0, err
	}
	modifiers := map[string]domain.ModifierOption{}
	if len(modifierIDs) > 0 {
		modifiers, err = s.repo.GetModifiers(ctx, tenantID, modifierIDs)
		if err != nil {
			return nil, 0, err
		}
	}
	recipes, err := s.repo.GetRecipes(ctx, tenantID, productIDs)
	if err != nil {
		return nil, 0, err
	}

	var subtotal int64
	drafts := make([]store.ItemDraft, 0, len(inputs))
	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok || !product.Active {
			return nil, 0, fmt.Errorf("%w: product %s unavailable", store.ErrValidation, in.ProductID)
		}

		draft := store.ItemDraft{
			ID:                   uuid.NewString(),
			ProductID:            product.ID,
			Name:                 product.Name,
			Quantity:             in.Quantity,
			UnitPriceCents:       product.PriceCents,
			Notes:                strings.TrimSpace(in.Notes),
			RemovedIngredientIDs: in.RemovedIngredientIDs,
		}

		removed := make(map[string]bool, len(in.RemovedIngredientIDs))
		for _, id := range in.RemovedIngredientIDs {
			removed[id] = true
		}
		qty := decimal.NewFromInt(int64(in.Quantity))

		// Base recipe consumption, minus removed ingredients.
		consumption := map[string]decimal.Decimal{}
		for _, recipe := range recipes[in.ProductID] {
			if removed[recipe.IngredientID] {
				continue
			}
			consumption[recipe.IngredientID] = consumption[recipe.IngredientID].Add(recipe.Qty.Mul(qty))
		}

		lineTotal := product.PriceCents * int64(in.Quantity)
		for _, modifierID := range in.ModifierIDs {
			mod, ok := modifiers[modifierID]
			if !ok || mod.ProductID != in.ProductID {
				return nil, 0, fmt.Errorf("%w: modifier %s unavailable for product", store.ErrValidation, modifierID)
			}
			draft.Modifiers = append(draft.Modifiers, domain.AppliedModifier{
				ModifierID: mod.ID,
				Name:       mod.Name,
				PriceCents: mod.PriceCents,
			})
			lineTotal += mod.PriceCents * int64(in.Quantity)
			if mod.IngredientID != "" && !mod.ConsumeQty.IsZero() {
				consumption[mod.IngredientID] = consumption[mod.IngredientID].Add(mod.ConsumeQty.Mul(qty))
			}
		}

		for ingredientID, consumed := range consumption {
			if consumed.IsZero() {
				continue
			}
			draft.StockDeltas = append(draft.StockDeltas, store.StockDelta{
				IngredientID: ingredientID,
				Qty:          consumed.Neg(),
			})
		}

		subtotal += lineTotal
		drafts = append(drafts, draft)
	}
	return drafts, subtotal, nil
}

// buildPayments validates amounts, normalizes method codes and attributes
// cash payments to the caller's open shift. The shift id is never taken from
// the client.
func (s *Service) buildPayments(ctx context.Context, tenantID, userID string, inputs []domain.PaymentInput) ([]domain.Payment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if len(inputs) > s.cfg.MaxPaymentsPerCall {
		return nil, fmt.Errorf("%w: payment batch must hold 1..%d entries", store.ErrValidation, s.cfg.MaxPaymentsPerCall)
	}

	var cashShiftID string
	payments := make([]domain.Payment, 0, len(inputs))
	for _, in := range inputs {
		if in.AmountCents < 1 {
			return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
		}
		method := strings.TrimSpace(in.Method)
		if method == "" {
			return nil, fmt.Errorf("%w: missing payment method", store.ErrValidation)
		}
		normalized := domain.NormalizeMethod(method)

		p := domain.Payment{
			ID:               uuid.NewString(),
			TenantID:         tenantID,
			Method:           method,
			NormalizedMethod: normalized,
			AmountCents:      in.AmountCents,
		}
		if normalized == domain.MethodCash {
			if cashShiftID == "" {
				shift, err := s.repo.GetActiveShift(ctx, tenantID, userID)
				if err != nil {
					return nil, fmt.Errorf("%w: cash payment requires an open shift", store.ErrConflict)
				}
				cashShiftID = shift.ID
			}
			p.ShiftID = cashShiftID
		}
		payments = append(payments, p)
	}
	return payments, nil
}

func resolveDiscount(in domain.DiscountInput, subtotalCents int64) (int64, error) {
	if in.AmountCents < 0 || in.Percent < 0 {
		return 0, fmt.Errorf("%w: negative discount", store.ErrValidation)
	}
	if in.AmountCents > 0 && in.Percent > 0 {
		return 0, fmt.Errorf("%w: discount is either an amount or a percentage", store.ErrValidation)
	}
	discount := in.AmountCents
	if in.Percent > 0 {
		if in.Percent > 100 {
			return 0, fmt.Errorf("%w: discount percent above 100", store.ErrValidation)
		}
		discount = int64(float64(subtotalCents) * in.Percent / 100)
	}
	if discount > subtotalCents {
		return 0, fmt.Errorf("%w: discount exceeds subtotal", store.ErrValidation)
	}
	return discount, nil
}

// --- cash shifts ---

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (*domain.CashShift, error) {
	if req.OpeningFloatCents < 0 {
		return nil, fmt.Errorf("%w: negative opening float", store.ErrValidation)
	}
	shift := domain.CashShift{
		ID:                uuid.NewString(),
		TenantID:          req.TenantID,
		UserID:            req.UserID,
		BusinessDate:      domain.BusinessDate(s.now(), s.cfg.BusinessDayCutoffHour),
		OpeningFloatCents: req.OpeningFloatCents,
	}
	return s.repo.OpenShift(ctx, shift)
}

func (s *Service) ActiveShift(ctx context.Context, tenantID, userID string) (*domain.CashShift, error) {
	return s.repo.GetActiveShift(ctx, tenantID, userID)
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (*domain.ShiftCloseResponse, error) {
	if req.CountedCashCents < 0 {
		return nil, fmt.Errorf("%w: negative counted cash", store.ErrValidation)
	}
	shift, err := s.repo.CloseShift(ctx, req.TenantID, req.UserID, req.ShiftID, req.CountedCashCents)
	if err != nil {
		return nil, err
	}
	// The difference is recorded verbatim; disputes belong to the shift
	// report, not to this call.
	return &domain.ShiftCloseResponse{
		Shift:             *shift,
		ExpectedCashCents: shift.ExpectedCashCents,
		DifferenceCents:   shift.DifferenceCents,
	}, nil
}

func (s *Service) ShiftReport(ctx context.Context, tenantID, shiftID string) (*domain.ShiftReport, error) {
	return s.repo.ShiftReport(ctx, tenantID, shiftID)
}

// --- stock ---

func (s *Service) ListIngredients(ctx context.Context, tenantID string) ([]domain.Ingredient, error) {
	return s.repo.ListIngredients(ctx, tenantID)
}

// LowStockReport flags ingredients at or below their minimum. Negative stock
// is allowed and reported as its own signal.
func (s *Service) LowStockReport(ctx context.Context, tenantID string) ([]domain.LowStockEntry, error) {
	ingredients, err := s.repo.ListIngredients(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []domain.LowStockEntry
	for _, ing := range ingredients {
		if ing.Stock.GreaterThan(ing.MinStock) {
			continue
		}
		out = append(out, domain.LowStockEntry{
			Ingredient: ing,
			Negative:   ing.Stock.IsNegative(),
		})
	}
	return out, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (*domain.Ingredient, error) {
	if req.Delta.IsZero() {
		return nil, fmt.Errorf("%w: zero adjustment", store.ErrValidation)
	}
	if strings.TrimSpace(req.Note) == "" {
		return nil, fmt.Errorf("%w: adjustment requires a note", store.ErrValidation)
	}
	ing, err := s.repo.AdjustStock(ctx, domain.StockMovement{
		TenantID:     req.TenantID,
		IngredientID: req.IngredientID,
		Type:         domain.MovementAdjustment,
		Delta:        req.Delta,
		Note:         strings.TrimSpace(req.Note),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, req.TenantID, req.Audit, "stock.adjust", "ingredient", req.IngredientID,
		fmt.Sprintf("delta=%s note=%s", req.Delta, req.Note))
	return ing, nil
}

func (s *Service) ListStockMovements(ctx context.Context, tenantID, ingredientID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, tenantID, ingredientID, limit)
}

// --- catalog ---

func (s *Service) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, tenantID)
}

// --- purchasing ---

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (*domain.Supplier, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: supplier needs a name", store.ErrValidation)
	}
	return s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:       uuid.NewString(),
		TenantID: req.TenantID,
		Name:     name,
		Phone:    strings.TrimSpace(req.Phone),
	})
}

func (s *Service) ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx, tenantID)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (*domain.PurchaseOrder, error) {
	if req.SupplierID == "" {
		return nil, fmt.Errorf("%w: missing supplier", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: purchase order needs items", store.ErrValidation)
	}
	for _, item := range req.Items {
		if !item.Qty.IsPositive() {
			return nil, fmt.Errorf("%w: purchase quantity must be positive", store.ErrValidation)
		}
	}
	return s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		SupplierID: req.SupplierID,
		Items:      req.Items,
	})
}

func (s *Service) ReceivePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID string, audit domain.AuditContext) (*domain.PurchaseOrder, error) {
	po, err := s.repo.ReceivePurchaseOrder(ctx, tenantID, purchaseOrderID, audit.UserID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, tenantID, audit, "purchase.receive", "purchase_order", purchaseOrderID, "")
	return po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, tenantID string) ([]domain.PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, tenantID)
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, tenantID, limit)
}

// logAudit records a financial mutation. It warns and moves on when the
// write fails; audit must never break the operation it describes.
func (s *Service) logAudit(ctx context.Context, tenantID string, audit domain.AuditContext, action, entityType, entityID, detail string) {
	role := ""
	if actor, ok := domain.ActorFromContext(ctx); ok {
		role = actor.Role
		if audit.UserID == "" {
			audit.UserID = actor.UserID
		}
	}
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		TenantID:   tenantID,
		ActorID:    audit.UserID,
		ActorRole:  role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		IPAddress:  audit.IPAddress,
		UserAgent:  audit.UserAgent,
	})
	if err != nil {
		log.Printf("[audit] failed to record %s on %s %s: %v", action, entityType, entityID, err)
	}
}

// --- kitchen tickets ---

func (s *Service) publishOrderTickets(ctx context.Context, order domain.Order, items []domain.OrderItem) {
	for _, item := range items {
		s.publishTicket(ctx, order, item, item.Status)
	}
}

func (s *Service) publishTicket(ctx context.Context, order domain.Order, item domain.OrderItem, status string) {
	ticket := domain.KitchenTicket{
		TenantID:    order.TenantID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TableID:     order.TableID,
		ItemID:      item.ID,
		ProductName: item.Name,
		Quantity:    item.Quantity,
		Status:      status,
		Notes:       item.Notes,
		At:          s.now().UTC(),
	}
	if err := s.tickets.PublishTicket(ctx, ticket); err != nil {
		log.Printf("[service] kitchen ticket publish failed for order %s: %v", order.ID, err)
	}
}
