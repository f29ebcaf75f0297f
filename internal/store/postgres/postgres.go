package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"comandapos/internal/domain"
	"comandapos/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const txRetryAttempts = 3

// withRetry re-runs fn on serialization failures, deadlocks and lock
// timeouts. After the attempts are exhausted the caller gets ErrRetryable
// and may resubmit.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < txRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}
	return fmt.Errorf("%w: %v", store.ErrRetryable, err)
}

// --- auth ---

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var permissions []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, username, password_hash, role, permissions, active, created_at
		FROM users
		WHERE username = $1 AND active = true
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.ID, &user.TenantID, &user.Username, &user.Password, &user.Role, &permissions, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
		}
		return nil, err
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &user.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions for %s: %w", username, err)
		}
	}
	if user.Permissions == nil {
		user.Permissions = domain.DefaultPermissions(user.Role)
	}
	return &user, nil
}

// --- catalog ---

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, category, price_cents, active
		FROM products
		WHERE tenant_id = $1 AND active = true
		ORDER BY category, name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Category, &p.PriceCents, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, category, price_cents, active
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Category, &p.PriceCents, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) GetModifiers(ctx context.Context, tenantID string, ids []string) (map[string]domain.ModifierOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, product_id, name, price_cents, COALESCE(ingredient_id, ''), consume_qty
		FROM modifier_options
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.ModifierOption, len(ids))
	for rows.Next() {
		var m domain.ModifierOption
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ProductID, &m.Name, &m.PriceCents, &m.IngredientID, &m.ConsumeQty); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (s *Store) GetRecipes(ctx context.Context, tenantID string, productIDs []string) (map[string][]domain.RecipeItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.product_id, r.ingredient_id, r.qty
		FROM recipes r
		JOIN products p ON p.id = r.product_id
		WHERE p.tenant_id = $1 AND r.product_id = ANY($2)
	`, tenantID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.RecipeItem, len(productIDs))
	for rows.Next() {
		var item domain.RecipeItem
		if err := rows.Scan(&item.ProductID, &item.IngredientID, &item.Qty); err != nil {
			return nil, err
		}
		out[item.ProductID] = append(out[item.ProductID], item)
	}
	return out, rows.Err()
}

// --- orders ---

func (s *Store) CreateOrder(ctx context.Context, draft store.OrderDraft) (*domain.Order, error) {
	var created *domain.Order
	err := withRetry(func() error {
		var err error
		created, err = s.createOrderOnce(ctx, draft)
		return err
	})
	return created, err
}

func (s *Store) createOrderOnce(ctx context.Context, draft store.OrderDraft) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Atomic upsert-increment: first order of the (tenant, business date)
	// pair creates the row at 1, everyone else bumps it. The row stays
	// locked until commit, which is what makes the numbers gapless.
	var orderNumber int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO order_sequences (tenant_id, business_date, current_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, business_date)
		DO UPDATE SET current_value = order_sequences.current_value + 1
		RETURNING current_value
	`, draft.TenantID, draft.BusinessDate).Scan(&orderNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, tenant_id, order_number, business_date, channel, status,
			table_id, client_id, server_id, discount_cents, total_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, draft.ID, draft.TenantID, orderNumber, draft.BusinessDate, draft.Channel, domain.OrderStatusOpen,
		nullIfEmpty(draft.TableID), nullIfEmpty(draft.ClientID), draft.ServerID,
		draft.DiscountCents, draft.TotalCents, now)
	if err != nil {
		return nil, err
	}

	for _, item := range draft.Items {
		if err := insertItemTx(ctx, tx, draft.TenantID, draft.ID, item, now); err != nil {
			return nil, err
		}
	}

	var paid int64
	if len(draft.Payments) > 0 {
		if err := checkTolerance(draft.TotalCents, 0, draft.Payments, draft.TolerancePct); err != nil {
			return nil, err
		}
		for _, p := range draft.Payments {
			if err := insertPaymentTx(ctx, tx, draft.ID, p, now); err != nil {
				return nil, err
			}
			paid += p.AmountCents
		}
	}

	status := settleStatus(draft.TotalCents, paid, draft.CloseOrder)
	if status != domain.OrderStatusOpen {
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, draft.ID, status); err != nil {
			return nil, err
		}
	}

	order, err := loadOrderTx(ctx, tx, draft.TenantID, draft.ID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func insertItemTx(ctx context.Context, tx *sql.Tx, tenantID, orderID string, item store.ItemDraft, now time.Time) error {
	modifiers, err := json.Marshal(item.Modifiers)
	if err != nil {
		return err
	}
	removed, err := json.Marshal(item.RemovedIngredientIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_items (
			id, order_id, product_id, name, quantity, unit_price_cents,
			notes, status, modifiers, removed_ingredient_ids, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, item.ID, orderID, item.ProductID, item.Name, item.Quantity, item.UnitPriceCents,
		nullIfEmpty(item.Notes), domain.ItemStatusPending, modifiers, removed, now)
	if err != nil {
		return err
	}

	for _, delta := range item.StockDeltas {
		if err := applyMovementTx(ctx, tx, domain.StockMovement{
			TenantID:     tenantID,
			IngredientID: delta.IngredientID,
			Type:         domain.MovementSale,
			Delta:        delta.Qty,
			OrderItemID:  item.ID,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// applyMovementTx appends a ledger row and moves the ingredient balance by
// the movement's signed delta.
func applyMovementTx(ctx context.Context, tx *sql.Tx, m domain.StockMovement) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE ingredients
		SET stock = stock + $1
		WHERE id = $2 AND tenant_id = $3
	`, m.Delta, m.IngredientID, m.TenantID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: ingredient %s", store.ErrNotFound, m.IngredientID)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, tenant_id, ingredient_id, type, delta, order_item_id, ref_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.TenantID, m.IngredientID, m.Type, m.Delta,
		nullIfEmpty(m.OrderItemID), nullIfEmpty(m.RefID), nullIfEmpty(m.Note), m.CreatedAt)
	return err
}

func insertPaymentTx(ctx context.Context, tx *sql.Tx, orderID string, p domain.Payment, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, tenant_id, method, normalized_method, amount_cents, shift_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ID, orderID, p.TenantID, p.Method, p.NormalizedMethod, p.AmountCents, nullIfEmpty(p.ShiftID), now)
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadOrderTx(ctx context.Context, q queryer, tenantID, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, tenant_id, order_number, business_date, channel, status,
		       COALESCE(table_id, ''), COALESCE(client_id, ''), server_id,
		       discount_cents, total_cents, created_at
		FROM orders
		WHERE id = $1 AND tenant_id = $2`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	var order domain.Order
	err := q.QueryRowContext(ctx, query, orderID, tenantID).Scan(
		&order.ID, &order.TenantID, &order.OrderNumber, &order.BusinessDate, &order.Channel, &order.Status,
		&order.TableID, &order.ClientID, &order.ServerID, &order.DiscountCents, &order.TotalCents, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}

	items, err := loadItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	payments, err := loadPayments(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	order.Payments = payments
	return &order, nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, quantity, unit_price_cents,
		       COALESCE(notes, ''), status, modifiers, removed_ingredient_ids,
		       COALESCE(void_reason, ''), COALESCE(void_notes, ''), created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		var modifiers, removed []byte
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Quantity,
			&item.UnitPriceCents, &item.Notes, &item.Status, &modifiers, &removed,
			&item.VoidReason, &item.VoidNotes, &item.CreatedAt); err != nil {
			return nil, err
		}
		if len(modifiers) > 0 {
			if err := json.Unmarshal(modifiers, &item.Modifiers); err != nil {
				return nil, err
			}
		}
		if len(removed) > 0 {
			if err := json.Unmarshal(removed, &item.RemovedIngredientIDs); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadPayments(ctx context.Context, q queryer, orderID string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, tenant_id, method, normalized_method, amount_cents, COALESCE(shift_id, ''), created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.TenantID, &p.Method, &p.NormalizedMethod,
			&p.AmountCents, &p.ShiftID, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return loadOrderTx(ctx, s.db, tenantID, orderID, false)
}

func (s *Store) ListOpenOrders(ctx context.Context, tenantID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE tenant_id = $1 AND status IN ($2, $3)
		ORDER BY created_at
	`, tenantID, domain.OrderStatusOpen, domain.OrderStatusPartiallyPaid)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		order, err := loadOrderTx(ctx, s.db, tenantID, id, false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (s *Store) AddItems(ctx context.Context, tenantID, orderID string, items []store.ItemDraft) (*domain.Order, error) {
	var updated *domain.Order
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		order, err := loadOrderTx(ctx, tx, tenantID, orderID, true)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
		}

		now := time.Now().UTC()
		for _, item := range items {
			if err := insertItemTx(ctx, tx, tenantID, orderID, item, now); err != nil {
				return err
			}
		}
		if err := recomputeOrderTx(ctx, tx, tenantID, orderID, false); err != nil {
			return err
		}
		updated, err = loadOrderTx(ctx, tx, tenantID, orderID, false)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return updated, err
}

// recomputeOrderTx rewrites total_cents from the surviving items and derives
// the financial status from the payment sum. Terminal statuses are left
// alone by the callers' guards.
func recomputeOrderTx(ctx context.Context, tx *sql.Tx, tenantID, orderID string, closeOrder bool) error {
	order, err := loadOrderTx(ctx, tx, tenantID, orderID, false)
	if err != nil {
		return err
	}
	var total int64
	for _, item := range order.Items {
		total += item.LineTotalCents()
	}
	total -= order.DiscountCents
	if total < 0 {
		total = 0
	}
	status := settleStatus(total, order.PaidCents(), closeOrder)
	_, err = tx.ExecContext(ctx, `UPDATE orders SET total_cents = $2, status = $3 WHERE id = $1`, orderID, total, status)
	return err
}

func (s *Store) AddPayments(ctx context.Context, tenantID, orderID string, payments []domain.Payment, closeOrder bool, tolerancePct float64) (*domain.AddPaymentsResponse, error) {
	var resp *domain.AddPaymentsResponse
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		order, err := loadOrderTx(ctx, tx, tenantID, orderID, true)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusClosed {
			return fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
		}
		if order.FullyPaid() {
			return fmt.Errorf("%w: order already fully paid", store.ErrConflict)
		}
		if err := checkTolerance(order.TotalCents, order.PaidCents(), payments, tolerancePct); err != nil {
			return err
		}

		now := time.Now().UTC()
		added := make([]domain.Payment, 0, len(payments))
		for _, p := range payments {
			if err := insertPaymentTx(ctx, tx, orderID, p, now); err != nil {
				return err
			}
			p.OrderID = orderID
			p.CreatedAt = now
			added = append(added, p)
		}

		paid := order.PaidCents()
		for _, p := range added {
			paid += p.AmountCents
		}
		status := settleStatus(order.TotalCents, paid, closeOrder)
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, status); err != nil {
			return err
		}

		updated, err := loadOrderTx(ctx, tx, tenantID, orderID, false)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		resp = &domain.AddPaymentsResponse{Order: *updated, PaymentsAdded: added}
		return nil
	})
	return resp, err
}

func (s *Store) CancelOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return s.terminateOrder(ctx, tenantID, orderID, domain.OrderStatusCancelled)
}

func (s *Store) CloseOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return s.terminateOrder(ctx, tenantID, orderID, domain.OrderStatusClosed)
}

func (s *Store) terminateOrder(ctx context.Context, tenantID, orderID, target string) (*domain.Order, error) {
	var updated *domain.Order
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		order, err := loadOrderTx(ctx, tx, tenantID, orderID, true)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
		}
		if target == domain.OrderStatusCancelled && order.FullyPaid() {
			return fmt.Errorf("%w: fully paid order cannot be cancelled", store.ErrConflict)
		}
		if target == domain.OrderStatusClosed && !order.FullyPaid() {
			return fmt.Errorf("%w: order not fully paid", store.ErrConflict)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, target); err != nil {
			return err
		}
		updated, err = loadOrderTx(ctx, tx, tenantID, orderID, false)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return updated, err
}

var itemStatusRank = map[string]int{
	domain.ItemStatusPending: 0,
	domain.ItemStatusCooking: 1,
	domain.ItemStatusReady:   2,
	domain.ItemStatusServed:  3,
}

func (s *Store) UpdateItemStatus(ctx context.Context, tenantID, itemID, status string) (*domain.Order, *domain.OrderItem, error) {
	newRank, ok := itemStatusRank[status]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown item status %q", store.ErrValidation, status)
	}

	var order *domain.Order
	var updated *domain.OrderItem
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		orderID, err := orderIDForItemTx(ctx, tx, tenantID, itemID)
		if err != nil {
			return err
		}
		loaded, err := loadOrderTx(ctx, tx, tenantID, orderID, true)
		if err != nil {
			return err
		}

		var current string
		for _, item := range loaded.Items {
			if item.ID == itemID {
				current = item.Status
				break
			}
		}
		if current == domain.ItemStatusVoid {
			return fmt.Errorf("%w: item is void", store.ErrConflict)
		}
		if newRank != itemStatusRank[current]+1 {
			return fmt.Errorf("%w: cannot move item from %s to %s", store.ErrConflict, current, status)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE order_items SET status = $2 WHERE id = $1`, itemID, status); err != nil {
			return err
		}
		order, err = loadOrderTx(ctx, tx, tenantID, orderID, false)
		if err != nil {
			return err
		}
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				updated = &order.Items[i]
				break
			}
		}
		return tx.Commit()
	})
	return order, updated, err
}

func orderIDForItemTx(ctx context.Context, tx *sql.Tx, tenantID, itemID string) (string, error) {
	var orderID string
	err := tx.QueryRowContext(ctx, `
		SELECT o.id
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.id = $1 AND o.tenant_id = $2
	`, itemID, tenantID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		return "", err
	}
	return orderID, nil
}

func (s *Store) VoidItem(ctx context.Context, tenantID, itemID, reason, notes string) (*domain.Order, error) {
	var updated *domain.Order
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		orderID, err := orderIDForItemTx(ctx, tx, tenantID, itemID)
		if err != nil {
			return err
		}
		order, err := loadOrderTx(ctx, tx, tenantID, orderID, true)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusClosed || order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is %s", store.ErrConflict, order.Status)
		}
		for _, item := range order.Items {
			if item.ID == itemID && item.Status == domain.ItemStatusVoid {
				return fmt.Errorf("%w: item already void", store.ErrConflict)
			}
		}

		// Reverse exactly what the sale recorded. The current recipe is
		// irrelevant: it may have changed since this item was rung up.
		saleRows, err := tx.QueryContext(ctx, `
			SELECT ingredient_id, delta
			FROM stock_movements
			WHERE order_item_id = $1 AND tenant_id = $2 AND type = $3
		`, itemID, tenantID, domain.MovementSale)
		if err != nil {
			return err
		}
		type recorded struct {
			ingredientID string
			delta        decimal.Decimal
		}
		var sales []recorded
		for saleRows.Next() {
			var r recorded
			if err := saleRows.Scan(&r.ingredientID, &r.delta); err != nil {
				_ = saleRows.Close()
				return err
			}
			sales = append(sales, r)
		}
		if err := saleRows.Err(); err != nil {
			_ = saleRows.Close()
			return err
		}
		_ = saleRows.Close()

		now := time.Now().UTC()
		for _, sale := range sales {
			if err := applyMovementTx(ctx, tx, domain.StockMovement{
				TenantID:     tenantID,
				IngredientID: sale.ingredientID,
				Type:         domain.MovementVoid,
				Delta:        sale.delta.Neg(),
				OrderItemID:  itemID,
				Note:         reason,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET status = $2, void_reason = $3, void_notes = $4
			WHERE id = $1
		`, itemID, domain.ItemStatusVoid, reason, nullIfEmpty(notes))
		if err != nil {
			return err
		}
		if err := recomputeOrderTx(ctx, tx, tenantID, orderID, false); err != nil {
			return err
		}
		updated, err = loadOrderTx(ctx, tx, tenantID, orderID, false)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return updated, err
}

func (s *Store) TransferItems(ctx context.Context, tenantID, fromOrderID, toOrderID string, itemIDs []string) (*domain.TransferItemsResponse, error) {
	if fromOrderID == toOrderID {
		return nil, fmt.Errorf("%w: source and destination are the same order", store.ErrValidation)
	}

	var resp *domain.TransferItemsResponse
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		// Lock both orders in a stable order to keep concurrent transfers
		// from deadlocking.
		first, second := fromOrderID, toOrderID
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			order, err := loadOrderTx(ctx, tx, tenantID, id, true)
			if err != nil {
				return err
			}
			if order.Status != domain.OrderStatusOpen && order.Status != domain.OrderStatusPartiallyPaid {
				return fmt.Errorf("%w: order %s is %s", store.ErrConflict, order.ID, order.Status)
			}
		}

		for _, itemID := range itemIDs {
			var currentOrder, status string
			err := tx.QueryRowContext(ctx, `
				SELECT i.order_id, i.status
				FROM order_items i
				JOIN orders o ON o.id = i.order_id
				WHERE i.id = $1 AND o.tenant_id = $2
			`, itemID, tenantID).Scan(&currentOrder, &status)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
				}
				return err
			}
			if currentOrder != fromOrderID {
				return fmt.Errorf("%w: item not on source order", store.ErrNotFound)
			}
			if status == domain.ItemStatusServed || status == domain.ItemStatusVoid {
				return fmt.Errorf("%w: item %s is %s and cannot move", store.ErrConflict, itemID, status)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE order_items SET order_id = $2 WHERE id = $1`, itemID, toOrderID); err != nil {
				return err
			}
		}

		if err := recomputeOrderTx(ctx, tx, tenantID, fromOrderID, false); err != nil {
			return err
		}
		if err := recomputeOrderTx(ctx, tx, tenantID, toOrderID, false); err != nil {
			return err
		}

		from, err := loadOrderTx(ctx, tx, tenantID, fromOrderID, false)
		if err != nil {
			return err
		}
		to, err := loadOrderTx(ctx, tx, tenantID, toOrderID, false)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		resp = &domain.TransferItemsResponse{FromOrder: *from, ToOrder: *to}
		return nil
	})
	return resp, err
}

// --- cash shifts ---

func (s *Store) OpenShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	shift.Status = domain.ShiftStatusOpen
	shift.OpenedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_shifts (id, tenant_id, user_id, business_date, status, opening_float_cents, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, shift.ID, shift.TenantID, shift.UserID, shift.BusinessDate, shift.Status, shift.OpeningFloatCents, shift.OpenedAt)
	if err != nil {
		// A partial unique index on (tenant_id, user_id) WHERE status =
		// 'open' enforces the one-open-shift rule.
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: shift already open for user", store.ErrConflict)
		}
		return nil, err
	}
	created := shift
	return &created, nil
}

func (s *Store) GetActiveShift(ctx context.Context, tenantID, userID string) (*domain.CashShift, error) {
	var shift domain.CashShift
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, business_date, status, opening_float_cents,
		       counted_cash_cents, expected_cash_cents, difference_cents, opened_at, closed_at
		FROM cash_shifts
		WHERE tenant_id = $1 AND user_id = $2 AND status = $3
	`, tenantID, userID, domain.ShiftStatusOpen).Scan(
		&shift.ID, &shift.TenantID, &shift.UserID, &shift.BusinessDate, &shift.Status,
		&shift.OpeningFloatCents, &shift.CountedCashCents, &shift.ExpectedCashCents,
		&shift.DifferenceCents, &shift.OpenedAt, &shift.ClosedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no open shift", store.ErrNotFound)
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) CloseShift(ctx context.Context, tenantID, userID, shiftID string, countedCashCents int64) (*domain.CashShift, error) {
	var closed *domain.CashShift
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var shift domain.CashShift
		err = tx.QueryRowContext(ctx, `
			SELECT id, tenant_id, user_id, business_date, status, opening_float_cents, opened_at
			FROM cash_shifts
			WHERE id = $1 AND tenant_id = $2 AND user_id = $3
			FOR UPDATE
		`, shiftID, tenantID, userID).Scan(
			&shift.ID, &shift.TenantID, &shift.UserID, &shift.BusinessDate,
			&shift.Status, &shift.OpeningFloatCents, &shift.OpenedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
			}
			return err
		}
		if shift.Status != domain.ShiftStatusOpen {
			return fmt.Errorf("%w: shift already closed", store.ErrConflict)
		}

		var cash int64
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount_cents), 0)
			FROM payments
			WHERE shift_id = $1 AND normalized_method = $2
		`, shiftID, domain.MethodCash).Scan(&cash)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		expected := shift.OpeningFloatCents + cash
		shift.Status = domain.ShiftStatusClosed
		shift.CountedCashCents = countedCashCents
		shift.ExpectedCashCents = expected
		shift.DifferenceCents = countedCashCents - expected
		shift.ClosedAt = &now

		_, err = tx.ExecContext(ctx, `
			UPDATE cash_shifts
			SET status = $2, counted_cash_cents = $3, expected_cash_cents = $4, difference_cents = $5, closed_at = $6
			WHERE id = $1
		`, shiftID, shift.Status, shift.CountedCashCents, shift.ExpectedCashCents, shift.DifferenceCents, now)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		closed = &shift
		return nil
	})
	return closed, err
}

func (s *Store) ShiftReport(ctx context.Context, tenantID, shiftID string) (*domain.ShiftReport, error) {
	var shift domain.CashShift
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, business_date, status, opening_float_cents,
		       counted_cash_cents, expected_cash_cents, difference_cents, opened_at, closed_at
		FROM cash_shifts
		WHERE id = $1 AND tenant_id = $2
	`, shiftID, tenantID).Scan(
		&shift.ID, &shift.TenantID, &shift.UserID, &shift.BusinessDate, &shift.Status,
		&shift.OpeningFloatCents, &shift.CountedCashCents, &shift.ExpectedCashCents,
		&shift.DifferenceCents, &shift.OpenedAt, &shift.ClosedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
		}
		return nil, err
	}

	report := domain.ShiftReport{Shift: shift}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT order_id)
		FROM payments
		WHERE shift_id = $1
	`, shiftID).Scan(&report.Orders)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_method, COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM payments
		WHERE shift_id = $1
		GROUP BY normalized_method
		ORDER BY normalized_method
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cash int64
	for rows.Next() {
		var entry domain.ShiftMethodTotal
		if err := rows.Scan(&entry.Method, &entry.Payments, &entry.AmountCents); err != nil {
			return nil, err
		}
		if entry.Method == domain.MethodCash {
			cash = entry.AmountCents
		}
		report.ByMethod = append(report.ByMethod, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	report.ExpectedCashCents = shift.OpeningFloatCents + cash
	return &report, nil
}

// --- stock ---

func (s *Store) ListIngredients(ctx context.Context, tenantID string) ([]domain.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, unit, stock, min_stock, cost_cents
		FROM ingredients
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ingredient
	for rows.Next() {
		var ing domain.Ingredient
		if err := rows.Scan(&ing.ID, &ing.TenantID, &ing.Name, &ing.Unit, &ing.Stock, &ing.MinStock, &ing.CostCents); err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.Ingredient, error) {
	var updated *domain.Ingredient
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		movement.CreatedAt = time.Now().UTC()
		if err := applyMovementTx(ctx, tx, movement); err != nil {
			return err
		}

		var ing domain.Ingredient
		err = tx.QueryRowContext(ctx, `
			SELECT id, tenant_id, name, unit, stock, min_stock, cost_cents
			FROM ingredients
			WHERE id = $1 AND tenant_id = $2
		`, movement.IngredientID, movement.TenantID).Scan(
			&ing.ID, &ing.TenantID, &ing.Name, &ing.Unit, &ing.Stock, &ing.MinStock, &ing.CostCents)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		updated = &ing
		return nil
	})
	return updated, err
}

func (s *Store) ListStockMovements(ctx context.Context, tenantID, ingredientID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, ingredient_id, type, delta,
		       COALESCE(order_item_id, ''), COALESCE(ref_id, ''), COALESCE(note, ''), created_at
		FROM stock_movements
		WHERE tenant_id = $1 AND ($2 = '' OR ingredient_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, ingredientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.IngredientID, &m.Type, &m.Delta,
			&m.OrderItemID, &m.RefID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- purchasing ---

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, tenant_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.TenantID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, COALESCE(phone, ''), created_at
		FROM suppliers
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Supplier
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.TenantID, &sup.Name, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var supplierTenant string
	err = tx.QueryRowContext(ctx, `SELECT tenant_id FROM suppliers WHERE id = $1`, po.SupplierID).Scan(&supplierTenant)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
		}
		return nil, err
	}
	if supplierTenant != po.TenantID {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, po.SupplierID)
	}

	po.Status = domain.PurchaseOrderStatusDraft
	po.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, tenant_id, supplier_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, po.ID, po.TenantID, po.SupplierID, po.Status, po.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, item := range po.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, ingredient_id, qty, cost_cents)
			VALUES ($1,$2,$3,$4)
		`, po.ID, item.IngredientID, item.Qty, item.CostCents)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := po
	return &created, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID, receivedBy string) (*domain.PurchaseOrder, error) {
	var received *domain.PurchaseOrder
	err := withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var po domain.PurchaseOrder
		err = tx.QueryRowContext(ctx, `
			SELECT id, tenant_id, supplier_id, status, created_at
			FROM purchase_orders
			WHERE id = $1 AND tenant_id = $2
			FOR UPDATE
		`, purchaseOrderID, tenantID).Scan(&po.ID, &po.TenantID, &po.SupplierID, &po.Status, &po.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: purchase order %s", store.ErrNotFound, purchaseOrderID)
			}
			return err
		}
		if po.Status != domain.PurchaseOrderStatusDraft {
			return fmt.Errorf("%w: purchase order already received", store.ErrConflict)
		}

		itemRows, err := tx.QueryContext(ctx, `
			SELECT ingredient_id, qty, cost_cents
			FROM purchase_order_items
			WHERE purchase_order_id = $1
		`, purchaseOrderID)
		if err != nil {
			return err
		}
		for itemRows.Next() {
			var item domain.PurchaseOrderItem
			if err := itemRows.Scan(&item.IngredientID, &item.Qty, &item.CostCents); err != nil {
				_ = itemRows.Close()
				return err
			}
			po.Items = append(po.Items, item)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return err
		}
		_ = itemRows.Close()

		now := time.Now().UTC()
		for _, item := range po.Items {
			if err := applyMovementTx(ctx, tx, domain.StockMovement{
				TenantID:     tenantID,
				IngredientID: item.IngredientID,
				Type:         domain.MovementPurchase,
				Delta:        item.Qty,
				RefID:        po.ID,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		po.Status = domain.PurchaseOrderStatusReceived
		po.ReceivedAt = &now
		po.ReceivedBy = receivedBy
		_, err = tx.ExecContext(ctx, `
			UPDATE purchase_orders
			SET status = $2, received_at = $3, received_by = $4
			WHERE id = $1
		`, po.ID, po.Status, now, receivedBy)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		received = &po
		return nil
	})
	return received, err
}

func (s *Store) ListPurchaseOrders(ctx context.Context, tenantID string) ([]domain.PurchaseOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, supplier_id, status, created_at, received_at, COALESCE(received_by, '')
		FROM purchase_orders
		WHERE tenant_id = $1
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PurchaseOrder
	for rows.Next() {
		var po domain.PurchaseOrder
		if err := rows.Scan(&po.ID, &po.TenantID, &po.SupplierID, &po.Status, &po.CreatedAt, &po.ReceivedAt, &po.ReceivedBy); err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		itemRows, err := s.db.QueryContext(ctx, `
			SELECT ingredient_id, qty, cost_cents
			FROM purchase_order_items
			WHERE purchase_order_id = $1
		`, out[i].ID)
		if err != nil {
			return nil, err
		}
		for itemRows.Next() {
			var item domain.PurchaseOrderItem
			if err := itemRows.Scan(&item.IngredientID, &item.Qty, &item.CostCents); err != nil {
				_ = itemRows.Close()
				return nil, err
			}
			out[i].Items = append(out[i].Items, item)
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		_ = itemRows.Close()
	}
	return out, nil
}

// --- audit ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, detail, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.TenantID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_id, actor_role, action, entity_type, entity_id, detail,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorID, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// --- helpers ---

func settleStatus(totalCents, paidCents int64, closeOrder bool) string {
	switch {
	case paidCents == 0 && totalCents > 0:
		return domain.OrderStatusOpen
	case paidCents < totalCents:
		return domain.OrderStatusPartiallyPaid
	case closeOrder:
		return domain.OrderStatusClosed
	default:
		return domain.OrderStatusPaid
	}
}

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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
