package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"comandapos/internal/domain"
	"comandapos/internal/store"
)

func testDate() time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

func draftFor(tenantID string) store.OrderDraft {
	return store.OrderDraft{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		BusinessDate: testDate(),
		Channel:      domain.ChannelDineIn,
		ServerID:     "user-1",
		TotalCents:   2500,
		Items: []store.ItemDraft{
			{
				ID:             uuid.NewString(),
				ProductID:      "prod-1",
				Name:           "empanada",
				Quantity:       1,
				UnitPriceCents: 2500,
			},
		},
	}
}

func TestConcurrentOrderNumbersAreGapless(t *testing.T) {
	s := New()
	const workers = 50

	var wg sync.WaitGroup
	results := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := s.CreateOrder(context.Background(), draftFor("tenant-a"))
			if err != nil {
				t.Errorf("create order: %v", err)
				return
			}
			results <- order.OrderNumber
		}()
	}
	wg.Wait()
	close(results)

	var numbers []int
	for n := range results {
		numbers = append(numbers, n)
	}
	if len(numbers) != workers {
		t.Fatalf("got %d orders, want %d", len(numbers), workers)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		if n != i+1 {
			t.Fatalf("order numbers not gapless: %v", numbers)
		}
	}
}

func TestOrderNumbersScopedPerTenantAndDate(t *testing.T) {
	s := New()
	ctx := context.Background()

	a1, _ := s.CreateOrder(ctx, draftFor("tenant-a"))
	a2, _ := s.CreateOrder(ctx, draftFor("tenant-a"))
	b1, _ := s.CreateOrder(ctx, draftFor("tenant-b"))
	if a1.OrderNumber != 1 || a2.OrderNumber != 2 {
		t.Fatalf("tenant-a numbers = %d, %d; want 1, 2", a1.OrderNumber, a2.OrderNumber)
	}
	if b1.OrderNumber != 1 {
		t.Fatalf("tenant-b first number = %d, want 1", b1.OrderNumber)
	}

	nextDay := draftFor("tenant-a")
	nextDay.BusinessDate = testDate().AddDate(0, 0, 1)
	d1, _ := s.CreateOrder(ctx, nextDay)
	if d1.OrderNumber != 1 {
		t.Fatalf("new business date must restart at 1, got %d", d1.OrderNumber)
	}
}

func TestCrossTenantAccessIsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	order, err := s.CreateOrder(ctx, draftFor("tenant-a"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := s.GetOrder(ctx, "tenant-b", order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-tenant read: got %v, want ErrNotFound", err)
	}
	if _, err := s.VoidItem(ctx, "tenant-b", order.Items[0].ID, domain.VoidReasonMistake, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-tenant void: got %v, want ErrNotFound", err)
	}
	missing, err := s.GetOrder(ctx, "tenant-b", "no-such-order")
	if !errors.Is(err, store.ErrNotFound) || missing != nil {
		t.Fatalf("missing order: got %v, want ErrNotFound", err)
	}
}

func TestUnknownIngredientRejectsWholeDraft(t *testing.T) {
	s := New()
	ctx := context.Background()

	draft := draftFor("tenant-a")
	draft.Items[0].StockDeltas = []store.StockDelta{
		{IngredientID: "ing-ghost", Qty: decimal.NewFromInt(-2)},
	}
	if _, err := s.CreateOrder(ctx, draft); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown ingredient: got %v, want ErrNotFound", err)
	}

	// Nothing may stick: the next valid order still takes number 1 and the
	// ledger stays empty.
	order, err := s.CreateOrder(ctx, draftFor("tenant-a"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.OrderNumber != 1 {
		t.Fatalf("sequence advanced on a rejected draft: number = %d", order.OrderNumber)
	}
	movements, err := s.ListStockMovements(ctx, "tenant-a", "", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("rejected draft wrote %d movements", len(movements))
	}

	ghostItem := store.ItemDraft{
		ID:             uuid.NewString(),
		ProductID:      "prod-1",
		Name:           "empanada",
		Quantity:       1,
		UnitPriceCents: 2500,
		StockDeltas:    []store.StockDelta{{IngredientID: "ing-ghost", Qty: decimal.NewFromInt(-1)}},
	}
	if _, err := s.AddItems(ctx, "tenant-a", order.ID, []store.ItemDraft{ghostItem}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("add items with unknown ingredient: got %v, want ErrNotFound", err)
	}
	after, err := s.GetOrder(ctx, "tenant-a", order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(after.Items) != 1 {
		t.Fatalf("rejected add mutated the order: %d items", len(after.Items))
	}
}

func TestVoidReplaysRecordedMovements(t *testing.T) {
	s := New()
	ctx := context.Background()

	cheese := domain.Ingredient{ID: "ing-cheese", TenantID: "tenant-a", Name: "cheese", Unit: "kg", Stock: decimal.NewFromInt(10)}
	s.UpsertIngredient(cheese)

	draft := draftFor("tenant-a")
	draft.Items[0].StockDeltas = []store.StockDelta{
		{IngredientID: "ing-cheese", Qty: decimal.NewFromInt(-2)},
	}
	order, err := s.CreateOrder(ctx, draft)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	ings, _ := s.ListIngredients(ctx, "tenant-a")
	if !ings[0].Stock.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("stock after sale = %s, want 8", ings[0].Stock)
	}

	if _, err := s.VoidItem(ctx, "tenant-a", order.Items[0].ID, domain.VoidReasonKitchenError, "dropped"); err != nil {
		t.Fatalf("void item: %v", err)
	}
	ings, _ = s.ListIngredients(ctx, "tenant-a")
	if !ings[0].Stock.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stock after void = %s, want 10", ings[0].Stock)
	}

	movements, _ := s.ListStockMovements(ctx, "tenant-a", "ing-cheese", 0)
	if len(movements) != 2 {
		t.Fatalf("got %d movements, want sale + void", len(movements))
	}
	if movements[0].Type != domain.MovementVoid || !movements[0].Delta.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("void movement = %s %s, want void +2", movements[0].Type, movements[0].Delta)
	}
}

func TestOpenShiftConflictsWhenAlreadyOpen(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := domain.CashShift{ID: uuid.NewString(), TenantID: "tenant-a", UserID: "user-1", BusinessDate: testDate(), OpeningFloatCents: 10000}
	if _, err := s.OpenShift(ctx, first); err != nil {
		t.Fatalf("open shift: %v", err)
	}
	second := domain.CashShift{ID: uuid.NewString(), TenantID: "tenant-a", UserID: "user-1", BusinessDate: testDate()}
	if _, err := s.OpenShift(ctx, second); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second open: got %v, want ErrConflict", err)
	}
	other := domain.CashShift{ID: uuid.NewString(), TenantID: "tenant-a", UserID: "user-2", BusinessDate: testDate()}
	if _, err := s.OpenShift(ctx, other); err != nil {
		t.Fatalf("other user open: %v", err)
	}
}

func TestReceivePurchaseOrderAddsStockOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.UpsertIngredient(domain.Ingredient{ID: "ing-flour", TenantID: "tenant-a", Name: "flour", Unit: "kg", Stock: decimal.NewFromInt(5)})
	sup, err := s.CreateSupplier(ctx, domain.Supplier{ID: uuid.NewString(), TenantID: "tenant-a", Name: "molino"})
	if err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	po, err := s.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         uuid.NewString(),
		TenantID:   "tenant-a",
		SupplierID: sup.ID,
		Items:      []domain.PurchaseOrderItem{{IngredientID: "ing-flour", Qty: decimal.NewFromInt(25)}},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	received, err := s.ReceivePurchaseOrder(ctx, "tenant-a", po.ID, "user-1")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.Status != domain.PurchaseOrderStatusReceived {
		t.Fatalf("status = %s, want received", received.Status)
	}
	ings, _ := s.ListIngredients(ctx, "tenant-a")
	if !ings[0].Stock.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("stock after receive = %s, want 30", ings[0].Stock)
	}

	if _, err := s.ReceivePurchaseOrder(ctx, "tenant-a", po.ID, "user-1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double receive: got %v, want ErrConflict", err)
	}
}
