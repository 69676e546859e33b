package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bartab/backend/internal/domain"
	"bartab/backend/internal/reconcile"
	"bartab/backend/internal/store"
	"bartab/backend/internal/xid"
)

// Store is the in-memory Repository used for dev mode and tests. The
// single mutex is the transaction boundary: a mutation either finishes
// fully under the lock or returns before touching anything.
type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	movements       []domain.StockMovement
	ordersByID      map[string]*domain.Order
	invoicesByOrder map[string]domain.Invoice
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_*_PASSWORD environment variables; unset ones
// fall back to dev defaults with a warning. Production runs use PostgreSQL
// (DATABASE_URL set) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	serverPwd := envOr("SEED_SERVER_PASSWORD", "server123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" || os.Getenv("SEED_SERVER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and SEED_SERVER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
		{"server", serverPwd, domain.RoleServer},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	items := []domain.Item{
		{SKU: "SKU-BIR-01", Name: "Bir Pilsner 500ml", PriceCents: 45000, LowStockThreshold: 12, Active: true},
		{SKU: "SKU-BIR-02", Name: "Bir Hitam 330ml", PriceCents: 52000, LowStockThreshold: 6, Active: true},
		{SKU: "SKU-TEH-01", Name: "Es Teh Manis", PriceCents: 12000, LowStockThreshold: 20, Active: true},
		{SKU: "SKU-KOPI-01", Name: "Kopi Tubruk", PriceCents: 15000, LowStockThreshold: 20, Active: true},
		{SKU: "SKU-NASI-01", Name: "Nasi Goreng Spesial", PriceCents: 38000, LowStockThreshold: 10, Active: true},
		{SKU: "SKU-SATE-01", Name: "Sate Ayam 10 Tusuk", PriceCents: 42000, LowStockThreshold: 10, Active: true},
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Jawa", PriceCents: 35000, LowStockThreshold: 10, Active: true},
		{SKU: "SKU-KERUPUK-01", Name: "Kerupuk Udang", PriceCents: 8000, LowStockThreshold: 30, Active: true},
		{SKU: "SKU-SODA-01", Name: "Soda Gembira", PriceCents: 18000, LowStockThreshold: 15, Active: true},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", PriceCents: 8000, LowStockThreshold: 40, Active: true},
	}

	s := &Store{
		items:           make(map[string]domain.Item, len(items)),
		ordersByID:      map[string]*domain.Order{},
		invoicesByOrder: map[string]domain.Invoice{},
		usersByUsername: seedUsers(),
	}
	for _, it := range items {
		it.QtyOnHand = 40
		it.CreatedAt = now
		it.UpdatedAt = now
		s.items[it.SKU] = it
		s.movements = append(s.movements, domain.StockMovement{
			ID:        xid.New("mov"),
			SKU:       it.SKU,
			QtyDelta:  40,
			Source:    domain.MovementSourceReceive,
			CreatedAt: now,
		})
	}
	return s
}

func (s *Store) ListItems(_ context.Context, includeInactive bool) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		if !includeInactive && !it.Active {
			continue
		}
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b domain.Item) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return out, nil
}

func (s *Store) GetItemBySKU(_ context.Context, sku string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[sku]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, sku)
	}
	return &it, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item, initialStock int) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.SKU]; exists {
		return nil, fmt.Errorf("item %s already exists", item.SKU)
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.QtyOnHand = 0
	if initialStock > 0 {
		item.QtyOnHand = initialStock
		s.movements = append(s.movements, domain.StockMovement{
			ID:        xid.New("mov"),
			SKU:       item.SKU,
			QtyDelta:  initialStock,
			Source:    domain.MovementSourceReceive,
			CreatedAt: now,
		})
	}
	s.items[item.SKU] = item
	return &item, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.SKU]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, item.SKU)
	}
	existing.Name = item.Name
	existing.PriceCents = item.PriceCents
	existing.LowStockThreshold = item.LowStockThreshold
	existing.Active = item.Active
	existing.UpdatedAt = time.Now().UTC()
	s.items[item.SKU] = existing
	return &existing, nil
}

func (s *Store) ListLowStockItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Item
	for _, it := range s.items {
		if it.Active && it.QtyOnHand <= it.LowStockThreshold {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b domain.Item) int {
		return strings.Compare(a.SKU, b.SKU)
	})
	return out, nil
}

func (s *Store) ReceiveStock(_ context.Context, sku string, qty int, at time.Time) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[sku]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, sku)
	}
	mov := domain.StockMovement{
		ID:        xid.New("mov"),
		SKU:       sku,
		QtyDelta:  qty,
		Source:    domain.MovementSourceReceive,
		CreatedAt: at,
	}
	it.QtyOnHand += qty
	it.UpdatedAt = at
	s.items[sku] = it
	s.movements = append(s.movements, mov)
	return &mov, nil
}

func (s *Store) ListMovements(_ context.Context, sku string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.StockMovement
	for i := len(s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if sku != "" && s.movements[i].SKU != sku {
			continue
		}
		out = append(out, s.movements[i])
	}
	return out, nil
}

// snapshotFor copies every item an old or new line references so the
// reconcile plan works against a stable view.
func (s *Store) snapshotFor(oldLines []domain.OrderLine, newLines []domain.LineInput) map[string]domain.Item {
	snap := map[string]domain.Item{}
	for _, l := range oldLines {
		if it, ok := s.items[l.SKU]; ok {
			snap[l.SKU] = it
		}
	}
	for _, l := range newLines {
		if it, ok := s.items[l.SKU]; ok {
			snap[l.SKU] = it
		}
	}
	return snap
}

// applyPlan writes a reconcile plan: movements appended, item quantities
// set to the plan's resulting stock. Caller holds the write lock and has
// already validated the order.
func (s *Store) applyPlan(plan *reconcile.Plan, orderID string, source string, at time.Time) {
	for _, m := range plan.Restocks {
		s.movements = append(s.movements, domain.StockMovement{
			ID:        xid.New("mov"),
			SKU:       m.SKU,
			QtyDelta:  m.QtyDelta,
			OrderID:   orderID,
			Source:    source,
			CreatedAt: at,
		})
	}
	for _, m := range plan.Consumes {
		s.movements = append(s.movements, domain.StockMovement{
			ID:        xid.New("mov"),
			SKU:       m.SKU,
			QtyDelta:  m.QtyDelta,
			OrderID:   orderID,
			Source:    source,
			CreatedAt: at,
		})
	}
	for sku, qty := range plan.Stock {
		it := s.items[sku]
		it.QtyOnHand = qty
		it.UpdatedAt = at
		s.items[sku] = it
	}
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order, lines []domain.LineInput) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := reconcile.Replace(order.ID, nil, lines, s.snapshotFor(nil, lines))
	if err != nil {
		return nil, err
	}

	now := order.CreatedAt
	s.applyPlan(plan, order.ID, domain.MovementSourceOrder, now)
	order.Status = domain.OrderStatusOpen
	order.Lines = plan.Lines
	order.TotalCents = plan.TotalCents
	order.UpdatedAt = now
	s.ordersByID[order.ID] = &order

	snapshot := cloneOrder(&order)
	return &snapshot, nil
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ord, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	snapshot := cloneOrder(ord)
	return &snapshot, nil
}

func (s *Store) ListOrders(_ context.Context, status string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Order
	for _, ord := range s.ordersByID {
		if status != "" && ord.Status != status {
			continue
		}
		out = append(out, cloneOrder(ord))
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReplaceOrderLines(_ context.Context, orderID string, lines []domain.LineInput, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if ord.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, ord.Status)
	}

	plan, err := reconcile.Replace(orderID, ord.Lines, lines, s.snapshotFor(ord.Lines, lines))
	if err != nil {
		return nil, err
	}

	s.applyPlan(plan, orderID, domain.MovementSourceOrder, at)
	ord.Lines = plan.Lines
	ord.TotalCents = plan.TotalCents
	ord.UpdatedAt = at

	snapshot := cloneOrder(ord)
	return &snapshot, nil
}

func (s *Store) FinalizeOrder(_ context.Context, orderID string, taxRatePercent float64, at time.Time) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if inv, exists := s.invoicesByOrder[orderID]; exists {
		return &inv, nil
	}
	if ord.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, ord.Status)
	}

	subtotal := ord.TotalCents
	tax, total := reconcile.InvoiceTotals(subtotal, taxRatePercent)
	inv := domain.Invoice{
		ID:             xid.New("inv"),
		OrderID:        orderID,
		SubtotalCents:  subtotal,
		TaxRatePercent: taxRatePercent,
		TaxCents:       tax,
		TotalCents:     total,
		IssuedAt:       at,
	}
	s.invoicesByOrder[orderID] = inv
	ord.Status = domain.OrderStatusFinalized
	ord.UpdatedAt = at
	return &inv, nil
}

func (s *Store) CancelOrder(_ context.Context, orderID string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if ord.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, ord.Status)
	}

	for _, l := range ord.Lines {
		it := s.items[l.SKU]
		it.QtyOnHand += l.Qty
		it.UpdatedAt = at
		s.items[l.SKU] = it
		s.movements = append(s.movements, domain.StockMovement{
			ID:        xid.New("mov"),
			SKU:       l.SKU,
			QtyDelta:  l.Qty,
			OrderID:   orderID,
			Source:    domain.MovementSourceCancel,
			CreatedAt: at,
		})
	}

	snapshot := cloneOrder(ord)
	snapshot.Status = domain.OrderStatusCancelled
	snapshot.UpdatedAt = at
	delete(s.ordersByID, orderID)
	return &snapshot, nil
}

func (s *Store) GetInvoiceByOrderID(_ context.Context, orderID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: invoice for order %s", store.ErrNotFound, orderID)
	}
	return &inv, nil
}

func (s *Store) ListInvoices(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Invoice
	for _, inv := range s.invoicesByOrder {
		if inv.IssuedAt.Before(from) || !inv.IssuedAt.Before(to) {
			continue
		}
		out = append(out, inv)
	}
	slices.SortFunc(out, func(a, b domain.Invoice) int {
		return b.IssuedAt.Compare(a.IssuedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetDailySalesReport(_ context.Context, from time.Time, to time.Time) (domain.DailySalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailySalesReport{Date: from.Format("2006-01-02")}
	for _, inv := range s.invoicesByOrder {
		if inv.IssuedAt.Before(from) || !inv.IssuedAt.Before(to) {
			continue
		}
		report.OrdersFinalized++
		report.SubtotalCents += inv.SubtotalCents
		report.TaxCents += inv.TaxCents
		report.TotalCents += inv.TotalCents
	}
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditLog
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("user %s already exists", user.Username)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func cloneOrder(ord *domain.Order) domain.Order {
	out := *ord
	out.Lines = slices.Clone(ord.Lines)
	return out
}
