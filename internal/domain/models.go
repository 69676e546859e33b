package domain

import "time"

type Item struct {
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	PriceCents        int64     `json:"price_cents"`
	QtyOnHand         int       `json:"qty_on_hand"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ItemCreateRequest struct {
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	PriceCents        int64  `json:"price_cents"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	InitialStock      int    `json:"initial_stock"`
}

type ItemUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	PriceCents        *int64  `json:"price_cents,omitempty"`
	LowStockThreshold *int    `json:"low_stock_threshold,omitempty"`
	Active            *bool   `json:"active,omitempty"`
}

// StockMovement is an append-only signed adjustment to an item's
// quantity-on-hand. Positive deltas restock, negative deltas consume.
// OrderID is empty for goods received outside any order.
type StockMovement struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	QtyDelta  int       `json:"qty_delta"`
	OrderID   string    `json:"order_id,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID         string      `json:"id"`
	TableNo    string      `json:"table_no,omitempty"`
	ServedBy   string      `json:"served_by,omitempty"`
	Status     string      `json:"status"`
	TotalCents int64       `json:"total_cents"`
	Lines      []OrderLine `json:"lines"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// OrderLine captures the unit price at the moment the line was written;
// later catalog price changes never alter it.
type OrderLine struct {
	OrderID        string `json:"order_id"`
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type Invoice struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	SubtotalCents  int64     `json:"subtotal_cents"`
	TaxRatePercent float64   `json:"tax_rate_percent"`
	TaxCents       int64     `json:"tax_cents"`
	TotalCents     int64     `json:"total_cents"`
	IssuedAt       time.Time `json:"issued_at"`
}

type LineInput struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type OrderCreateRequest struct {
	TableNo  string      `json:"table_no,omitempty"`
	ServedBy string      `json:"served_by,omitempty"`
	Lines    []LineInput `json:"lines"`
}

type OrderReplaceLinesRequest struct {
	Lines []LineInput `json:"lines"`
}

type OrderCancelRequest struct {
	ManagerPIN string `json:"manager_pin"`
	Reason     string `json:"reason"`
}

type StockReceiveRequest struct {
	SKU  string `json:"sku"`
	Qty  int    `json:"qty"`
	Note string `json:"note,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type DailySalesReport struct {
	Date            string `json:"date"`
	OrdersFinalized int64  `json:"orders_finalized"`
	SubtotalCents   int64  `json:"subtotal_cents"`
	TaxCents        int64  `json:"tax_cents"`
	TotalCents      int64  `json:"total_cents"`
}

const (
	OrderStatusOpen      = "open"
	OrderStatusFinalized = "finalized"
	OrderStatusCancelled = "cancelled"
)

const (
	MovementSourceOrder   = "order"
	MovementSourceCancel  = "cancel"
	MovementSourceReceive = "receive"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleServer  = "server"
)
