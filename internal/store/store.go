package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"comandapos/internal/domain"
)

// Sentinel errors. Implementations wrap these with fmt.Errorf("%w: detail")
// and callers test with errors.Is. The httpapi layer maps them to status
// codes; anything else is a 500.
var (
	// ErrNotFound covers both missing rows and rows belonging to another
	// tenant, so cross-tenant probes cannot learn whether an id exists.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state-machine violations and uniqueness races.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrRetryable is returned after serialization/lock retries are
	// exhausted; the client may safely resubmit.
	ErrRetryable = errors.New("transient conflict, retry")
	// ErrForbidden marks an authenticated caller without the capability.
	ErrForbidden = errors.New("forbidden")
)

// StockDelta is one ledger entry to apply when persisting an item: the
// ingredient and the signed quantity change (negative for consumption).
type StockDelta struct {
	IngredientID string
	Qty          decimal.Decimal
}

// ItemDraft is a fully priced order item ready to persist. The service layer
// resolves catalog prices and recipes; the store applies everything in one
// transaction.
type ItemDraft struct {
	ID                   string
	ProductID            string
	Name                 string
	Quantity             int
	UnitPriceCents       int64
	Notes                string
	Modifiers            []domain.AppliedModifier
	RemovedIngredientIDs []string
	StockDeltas          []StockDelta
}

// OrderDraft is a fully priced order ready to persist. The store allocates
// the per-(tenant, business date) order number inside the same transaction
// that writes the rows.
type OrderDraft struct {
	ID            string
	TenantID      string
	BusinessDate  time.Time
	Channel       string
	TableID       string
	ClientID      string
	ServerID      string
	DiscountCents int64
	TotalCents    int64
	Items         []ItemDraft
	Payments      []domain.Payment
	CloseOrder    bool
	TolerancePct  float64
}

// Repository is the persistence boundary. Postgres is the production
// implementation; the in-memory one backs tests and dev mode.
type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)

	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
	GetProducts(ctx context.Context, tenantID string, ids []string) (map[string]domain.Product, error)
	GetModifiers(ctx context.Context, tenantID string, ids []string) (map[string]domain.ModifierOption, error)
	GetRecipes(ctx context.Context, tenantID string, productIDs []string) (map[string][]domain.RecipeItem, error)

	CreateOrder(ctx context.Context, draft OrderDraft) (*domain.Order, error)
	GetOrder(ctx context.Context, tenantID string, orderID string) (*domain.Order, error)
	ListOpenOrders(ctx context.Context, tenantID string) ([]domain.Order, error)
	AddItems(ctx context.Context, tenantID string, orderID string, items []ItemDraft) (*domain.Order, error)
	AddPayments(ctx context.Context, tenantID string, orderID string, payments []domain.Payment, closeOrder bool, tolerancePct float64) (*domain.AddPaymentsResponse, error)
	CancelOrder(ctx context.Context, tenantID string, orderID string) (*domain.Order, error)
	CloseOrder(ctx context.Context, tenantID string, orderID string) (*domain.Order, error)
	UpdateItemStatus(ctx context.Context, tenantID string, itemID string, status string) (*domain.Order, *domain.OrderItem, error)
	VoidItem(ctx context.Context, tenantID string, itemID string, reason string, notes string) (*domain.Order, error)
	TransferItems(ctx context.Context, tenantID string, fromOrderID string, toOrderID string, itemIDs []string) (*domain.TransferItemsResponse, error)

	OpenShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error)
	GetActiveShift(ctx context.Context, tenantID string, userID string) (*domain.CashShift, error)
	CloseShift(ctx context.Context, tenantID string, userID string, shiftID string, countedCashCents int64) (*domain.CashShift, error)
	ShiftReport(ctx context.Context, tenantID string, shiftID string) (*domain.ShiftReport, error)

	ListIngredients(ctx context.Context, tenantID string) ([]domain.Ingredient, error)
	AdjustStock(ctx context.Context, movement domain.StockMovement) (*domain.Ingredient, error)
	ListStockMovements(ctx context.Context, tenantID string, ingredientID string, limit int) ([]domain.StockMovement, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, tenantID string) ([]domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, tenantID string, purchaseOrderID string, receivedBy string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, tenantID string) ([]domain.PurchaseOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]domain.AuditLog, error)

	Ping(ctx context.Context) error
	Close() error
}
