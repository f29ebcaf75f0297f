package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"comandapos/internal/domain"
	"comandapos/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("COMANDAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set COMANDAPOS_TEST_DATABASE_URL to run postgres integration tests")
	}
	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTenant(t *testing.T, s *Store, tenantID string) (productID, ingredientID string) {
	t.Helper()
	ctx := context.Background()
	productID = uuid.NewString()
	ingredientID = uuid.NewString()

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE tenant_id = $1)`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_sequences WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM recipes WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ingredients WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE tenant_id = $1`, tenantID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, category, price_cents, active)
		VALUES ($1, $2, 'pizza muzzarella', 'kitchen', 120000, true)
	`, productID, tenantID); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (id, tenant_id, name, unit, stock, min_stock, cost_cents)
		VALUES ($1, $2, 'mozzarella', 'kg', 10, 2, 80000)
	`, ingredientID, tenantID); err != nil {
		t.Fatalf("seed ingredient: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (product_id, ingredient_id, qty)
		VALUES ($1, $2, 0.25)
	`, productID, ingredientID); err != nil {
		t.Fatalf("seed recipe: %v", err)
	}
	return productID, ingredientID
}

func testDraft(tenantID, productID, ingredientID string) store.OrderDraft {
	return store.OrderDraft{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		BusinessDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Channel:      domain.ChannelDineIn,
		ServerID:     "it-user",
		TotalCents:   120000,
		Items: []store.ItemDraft{
			{
				ID:             uuid.NewString(),
				ProductID:      productID,
				Name:           "pizza muzzarella",
				Quantity:       1,
				UnitPriceCents: 120000,
				StockDeltas: []store.StockDelta{
					{IngredientID: ingredientID, Qty: decimal.RequireFromString("-0.25")},
				},
			},
		},
	}
}

func TestConcurrentOrderNumbersAreGapless(t *testing.T) {
	s := openTestStore(t)
	tenantID := fmt.Sprintf("it-seq-%d", time.Now().UnixNano())
	productID, ingredientID := seedTenant(t, s, tenantID)

	const workers = 20
	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := s.CreateOrder(context.Background(), testDraft(tenantID, productID, ingredientID))
			if err != nil {
				t.Errorf("create order: %v", err)
				return
			}
			numbers <- order.OrderNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	count := 0
	for n := range numbers {
		if seen[n] {
			t.Fatalf("duplicate order number %d", n)
		}
		seen[n] = true
		count++
	}
	if count != workers {
		t.Fatalf("got %d orders, want %d", count, workers)
	}
	for n := 1; n <= workers; n++ {
		if !seen[n] {
			t.Fatalf("missing order number %d", n)
		}
	}
}

func TestVoidItemRestoresRecordedStock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenantID := fmt.Sprintf("it-void-%d", time.Now().UnixNano())
	productID, ingredientID := seedTenant(t, s, tenantID)

	order, err := s.CreateOrder(ctx, testDraft(tenantID, productID, ingredientID))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// A recipe change after the sale must not affect the reversal.
	if _, err := s.db.ExecContext(ctx, `UPDATE recipes SET qty = 0.5 WHERE product_id = $1`, productID); err != nil {
		t.Fatalf("update recipe: %v", err)
	}

	if _, err := s.VoidItem(ctx, tenantID, order.Items[0].ID, domain.VoidReasonKitchenError, "dropped"); err != nil {
		t.Fatalf("void item: %v", err)
	}

	var stock decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT stock FROM ingredients WHERE id = $1`, ingredientID).Scan(&stock); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	if !stock.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stock after void = %s, want 10", stock)
	}

	movements, err := s.ListStockMovements(ctx, tenantID, ingredientID, 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("got %d movements, want sale + void", len(movements))
	}
	if movements[0].Type != domain.MovementVoid || !movements[0].Delta.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("void movement = %s %s, want void +0.25", movements[0].Type, movements[0].Delta)
	}
}

func TestOpenShiftUniquePerUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tenantID := fmt.Sprintf("it-shift-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_shifts WHERE tenant_id = $1`, tenantID)
	})

	shift := domain.CashShift{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		UserID:            "it-user",
		BusinessDate:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		OpeningFloatCents: 10000,
	}
	if _, err := s.OpenShift(ctx, shift); err != nil {
		t.Fatalf("open shift: %v", err)
	}
	shift.ID = uuid.NewString()
	if _, err := s.OpenShift(ctx, shift); err == nil {
		t.Fatal("second open shift should conflict")
	}
}
