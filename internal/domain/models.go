package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order channels.
const (
	ChannelDineIn   = "dine_in"
	ChannelTakeaway = "takeaway"
	ChannelDelivery = "delivery"
	ChannelOnline   = "online"
)

// Financial order statuses. Kitchen progress lives on the items, not here.
const (
	OrderStatusOpen          = "open"
	OrderStatusPartiallyPaid = "partially_paid"
	OrderStatusPaid          = "paid"
	OrderStatusClosed        = "closed"
	OrderStatusCancelled     = "cancelled"
)

// Kitchen item statuses.
const (
	ItemStatusPending = "pending"
	ItemStatusCooking = "cooking"
	ItemStatusReady   = "ready"
	ItemStatusServed  = "served"
	ItemStatusVoid    = "void"
)

// Void reason codes. Voiding requires one of these; free text goes in notes.
const (
	VoidReasonMistake      = "mistake"
	VoidReasonCustomerMind = "customer_changed_mind"
	VoidReasonKitchenError = "kitchen_error"
	VoidReasonComplaint    = "complaint"
	VoidReasonOther        = "other"
)

// Stock movement types. The ledger is append-only; reversals are new rows.
const (
	MovementSale       = "sale"
	MovementVoid       = "void"
	MovementPurchase   = "purchase"
	MovementAdjustment = "adjustment"
)

// Canonical payment method buckets. Raw method codes are tenant-defined
// free-form strings and are normalized into one of these for reporting.
const (
	MethodCash     = "cash"
	MethodCard     = "card"
	MethodTransfer = "transfer"
	MethodWallet   = "wallet"
	MethodOther    = "other"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	PurchaseOrderStatusDraft    = "draft"
	PurchaseOrderStatusReceived = "received"
)

type Product struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

type Ingredient struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Stock     decimal.Decimal `json:"stock"`
	MinStock  decimal.Decimal `json:"min_stock"`
	CostCents int64           `json:"cost_cents"`
}

// RecipeItem binds a product to one ingredient it consumes per unit sold.
type RecipeItem struct {
	ProductID    string          `json:"product_id"`
	IngredientID string          `json:"ingredient_id"`
	Qty          decimal.Decimal `json:"qty"`
}

// ModifierOption is a per-product customization ("extra cheese"). It may be
// linked to an ingredient it consumes when applied.
type ModifierOption struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	PriceCents   int64           `json:"price_cents"`
	IngredientID string          `json:"ingredient_id,omitempty"`
	ConsumeQty   decimal.Decimal `json:"consume_qty"`
}

// AppliedModifier is the immutable price snapshot stored on an order item.
type AppliedModifier struct {
	ModifierID string `json:"modifier_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type OrderItem struct {
	ID                   string            `json:"id"`
	OrderID              string            `json:"order_id"`
	ProductID            string            `json:"product_id"`
	Name                 string            `json:"name"`
	Quantity             int               `json:"quantity"`
	UnitPriceCents       int64             `json:"unit_price_cents"`
	Notes                string            `json:"notes,omitempty"`
	Status               string            `json:"status"`
	Modifiers            []AppliedModifier `json:"modifiers,omitempty"`
	RemovedIngredientIDs []string          `json:"removed_ingredient_ids,omitempty"`
	VoidReason           string            `json:"void_reason,omitempty"`
	VoidNotes            string            `json:"void_notes,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

// LineTotalCents is quantity times the snapshotted unit price plus modifier
// snapshots. Void items contribute nothing.
func (i OrderItem) LineTotalCents() int64 {
	if i.Status == ItemStatusVoid {
		return 0
	}
	total := i.UnitPriceCents * int64(i.Quantity)
	for _, mod := range i.Modifiers {
		total += mod.PriceCents * int64(i.Quantity)
	}
	return total
}

type Payment struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	TenantID         string    `json:"tenant_id"`
	Method           string    `json:"method"`
	NormalizedMethod string    `json:"normalized_method"`
	AmountCents      int64     `json:"amount_cents"`
	ShiftID          string    `json:"shift_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type Order struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	OrderNumber   int         `json:"order_number"`
	BusinessDate  time.Time   `json:"business_date"`
	Channel       string      `json:"channel"`
	Status        string      `json:"status"`
	TableID       string      `json:"table_id,omitempty"`
	ClientID      string      `json:"client_id,omitempty"`
	ServerID      string      `json:"server_id"`
	DiscountCents int64       `json:"discount_cents"`
	TotalCents    int64       `json:"total_cents"`
	CreatedAt     time.Time   `json:"created_at"`
	Items         []OrderItem `json:"items"`
	Payments      []Payment   `json:"payments"`
}

// PaidCents sums the order's payments. Payments are never deleted, so this is
// also the amount that reconciles against shifts.
func (o Order) PaidCents() int64 {
	var total int64
	for _, p := range o.Payments {
		total += p.AmountCents
	}
	return total
}

// FullyPaid reports whether nothing is outstanding. A fully discounted
// zero-total order carries no balance and counts as paid.
func (o Order) FullyPaid() bool {
	return o.PaidCents() >= o.TotalCents
}

type CashShift struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	UserID            string     `json:"user_id"`
	BusinessDate      time.Time  `json:"business_date"`
	Status            string     `json:"status"`
	OpeningFloatCents int64      `json:"opening_float_cents"`
	CountedCashCents  int64      `json:"counted_cash_cents"`
	ExpectedCashCents int64      `json:"expected_cash_cents"`
	DifferenceCents   int64      `json:"difference_cents"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

type StockMovement struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	IngredientID string          `json:"ingredient_id"`
	Type         string          `json:"type"`
	Delta        decimal.Decimal `json:"delta"`
	OrderItemID  string          `json:"order_item_id,omitempty"`
	RefID        string          `json:"ref_id,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Supplier struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PurchaseOrderItem struct {
	IngredientID string          `json:"ingredient_id"`
	Qty          decimal.Decimal `json:"qty"`
	CostCents    int64           `json:"cost_cents"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	TenantID   string              `json:"tenant_id"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ReceivedBy string              `json:"received_by,omitempty"`
	Items      []PurchaseOrderItem `json:"items"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditContext travels with financial mutations so audit rows can record who
// acted and from where.
type AuditContext struct {
	UserID    string `json:"user_id"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// UserAccount holds auth credentials. Password is the bcrypt hash.
type UserAccount struct {
	ID          string
	TenantID    string
	Username    string
	Password    string
	Role        string
	Permissions CapabilityMap
	Active      bool
	CreatedAt   time.Time
}

// --- request / response shapes ---

type OrderItemInput struct {
	ProductID            string   `json:"product_id"`
	Quantity             int      `json:"quantity"`
	Notes                string   `json:"notes,omitempty"`
	ModifierIDs          []string `json:"modifier_ids,omitempty"`
	RemovedIngredientIDs []string `json:"removed_ingredient_ids,omitempty"`
}

type PaymentInput struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

// DiscountInput is either a flat amount or a percentage of the subtotal,
// never both.
type DiscountInput struct {
	AmountCents  int64   `json:"amount_cents,omitempty"`
	Percent      float64 `json:"percent,omitempty"`
	AuthorizedBy string  `json:"authorized_by,omitempty"`
}

type CreateOrderRequest struct {
	TenantID   string           `json:"-"`
	ServerID   string           `json:"-"`
	Channel    string           `json:"channel"`
	TableID    string           `json:"table_id,omitempty"`
	ClientID   string           `json:"client_id,omitempty"`
	Items      []OrderItemInput `json:"items"`
	Payments   []PaymentInput   `json:"payments,omitempty"`
	Discount   DiscountInput    `json:"discount"`
	CloseOrder bool             `json:"close_order"`
	Audit      AuditContext     `json:"-"`
}

type AddItemsRequest struct {
	TenantID string           `json:"-"`
	OrderID  string           `json:"-"`
	UserID   string           `json:"-"`
	Items    []OrderItemInput `json:"items"`
	Audit    AuditContext     `json:"-"`
}

type AddPaymentsRequest struct {
	TenantID   string         `json:"-"`
	OrderID    string         `json:"-"`
	UserID     string         `json:"-"`
	Payments   []PaymentInput `json:"payments"`
	CloseOrder bool           `json:"close_order"`
	Audit      AuditContext   `json:"-"`
}

type AddPaymentsResponse struct {
	Order         Order     `json:"order"`
	PaymentsAdded []Payment `json:"payments_added"`
}

type VoidItemRequest struct {
	TenantID string       `json:"-"`
	ItemID   string       `json:"-"`
	Reason   string       `json:"reason"`
	Notes    string       `json:"notes,omitempty"`
	Audit    AuditContext `json:"-"`
}

type TransferItemsRequest struct {
	TenantID    string       `json:"-"`
	ItemIDs     []string     `json:"item_ids"`
	FromOrderID string       `json:"from_order_id"`
	ToOrderID   string       `json:"to_order_id"`
	Audit       AuditContext `json:"-"`
}

type TransferItemsResponse struct {
	FromOrder Order `json:"from_order"`
	ToOrder   Order `json:"to_order"`
}

type ShiftOpenRequest struct {
	TenantID          string `json:"-"`
	UserID            string `json:"-"`
	OpeningFloatCents int64  `json:"opening_float_cents"`
}

type ShiftCloseRequest struct {
	TenantID         string `json:"-"`
	UserID           string `json:"-"`
	ShiftID          string `json:"-"`
	CountedCashCents int64  `json:"counted_cash_cents"`
}

type ShiftCloseResponse struct {
	Shift             CashShift `json:"shift"`
	ExpectedCashCents int64     `json:"expected_cash_cents"`
	DifferenceCents   int64     `json:"difference_cents"`
}

type ShiftMethodTotal struct {
	Method      string `json:"method"`
	Payments    int64  `json:"payments"`
	AmountCents int64  `json:"amount_cents"`
}

type ShiftReport struct {
	Shift             CashShift          `json:"shift"`
	Orders            int64              `json:"orders"`
	ExpectedCashCents int64              `json:"expected_cash_cents"`
	ByMethod          []ShiftMethodTotal `json:"by_method"`
}

type StockAdjustRequest struct {
	TenantID     string          `json:"-"`
	IngredientID string          `json:"-"`
	Delta        decimal.Decimal `json:"delta"`
	Note         string          `json:"note"`
	Audit        AuditContext    `json:"-"`
}

type LowStockEntry struct {
	Ingredient Ingredient `json:"ingredient"`
	Negative   bool       `json:"negative"`
}

type PurchaseOrderCreateRequest struct {
	TenantID   string              `json:"-"`
	SupplierID string              `json:"supplier_id"`
	Items      []PurchaseOrderItem `json:"items"`
}

type SupplierCreateRequest struct {
	TenantID string `json:"-"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   string `json:"expires_at"`
}

// KitchenTicket is the event published to the kitchen display stream when an
// order is created or an item changes kitchen status.
type KitchenTicket struct {
	TenantID    string    `json:"tenant_id"`
	OrderID     string    `json:"order_id"`
	OrderNumber int       `json:"order_number"`
	TableID     string    `json:"table_id,omitempty"`
	ItemID      string    `json:"item_id,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	At          time.Time `json:"at"`
}

// ValidVoidReason reports whether the code is in the closed reason set.
func ValidVoidReason(reason string) bool {
	switch reason {
	case VoidReasonMistake, VoidReasonCustomerMind, VoidReasonKitchenError, VoidReasonComplaint, VoidReasonOther:
		return true
	default:
		return false
	}
}

func ValidChannel(channel string) bool {
	switch channel {
	case ChannelDineIn, ChannelTakeaway, ChannelDelivery, ChannelOnline:
		return true
	default:
		return false
	}
}

// methodAliases maps tenant-defined payment method codes onto canonical
// buckets. Unknown codes fall into "other" rather than being rejected.
var methodAliases = map[string]string{
	"cash":          MethodCash,
	"efectivo":      MethodCash,
	"contado":       MethodCash,
	"card":          MethodCard,
	"tarjeta":       MethodCard,
	"debito":        MethodCard,
	"credito":       MethodCard,
	"debit":         MethodCard,
	"credit":        MethodCard,
	"transfer":      MethodTransfer,
	"transferencia": MethodTransfer,
	"wallet":        MethodWallet,
	"billetera":     MethodWallet,
	"qr":            MethodWallet,
}

// NormalizeMethod lowercases a raw payment method code and maps it onto its
// canonical reporting bucket.
func NormalizeMethod(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := methodAliases[key]; ok {
		return canonical
	}
	return MethodOther
}
