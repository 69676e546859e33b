package store

import (
	"context"
	"errors"
	"time"

	"bartab/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid order state")
	ErrEmptyOrder        = errors.New("order must keep at least one line")
	ErrForbidden         = errors.New("forbidden")
)

// Repository is the persistence boundary. Operations that touch both the
// stock ledger and an order (create, replace lines, finalize, cancel) run
// as a single transaction inside the implementation: they either commit
// every effect or none.
type Repository interface {
	ListItems(ctx context.Context, includeInactive bool) ([]domain.Item, error)
	GetItemBySKU(ctx context.Context, sku string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item, initialStock int) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	ListLowStockItems(ctx context.Context) ([]domain.Item, error)

	ReceiveStock(ctx context.Context, sku string, qty int, at time.Time) (*domain.StockMovement, error)
	ListMovements(ctx context.Context, sku string, limit int) ([]domain.StockMovement, error)

	CreateOrder(ctx context.Context, order domain.Order, lines []domain.LineInput) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error)
	ReplaceOrderLines(ctx context.Context, orderID string, lines []domain.LineInput, at time.Time) (*domain.Order, error)
	FinalizeOrder(ctx context.Context, orderID string, taxRatePercent float64, at time.Time) (*domain.Invoice, error)
	CancelOrder(ctx context.Context, orderID string, at time.Time) (*domain.Order, error)

	GetInvoiceByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error)

	GetDailySalesReport(ctx context.Context, from time.Time, to time.Time) (domain.DailySalesReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
