package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"bartab/backend/internal/authz"
	"bartab/backend/internal/cache"
	"bartab/backend/internal/domain"
	"bartab/backend/internal/store"
	"bartab/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	reports        cache.ReportCache
	taxRatePercent float64
	reportTTL      time.Duration
}

// New wires the service. taxRatePercent is injected configuration: it is
// read once per finalization and captured into the invoice, never
// re-resolved for historical invoices.
func New(repo store.Repository, reports cache.ReportCache, taxRatePercent float64, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if taxRatePercent < 0 {
		taxRatePercent = 0
	}
	if reportTTL < time.Second {
		reportTTL = time.Minute
	}

	return &Service{
		repo:           repo,
		reports:        reports,
		taxRatePercent: taxRatePercent,
		reportTTL:      reportTTL,
	}
}

// authorize resolves the acting user and checks the capability table.
// Every mutation path goes through here; a denial is store.ErrForbidden.
func (s *Service) authorize(ctx context.Context, action string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no actor", store.ErrForbidden)
	}
	if !authz.Allowed(actor.Role, action) {
		return actor, fmt.Errorf("%w: role %s may not %s", store.ErrForbidden, actor.Role, action)
	}
	return actor, nil
}

func (s *Service) ListItems(ctx context.Context, includeInactive bool) ([]domain.Item, error) {
	if includeInactive {
		if _, err := s.authorize(ctx, authz.ActionCatalogManage); err != nil {
			return nil, err
		}
	}
	return s.repo.ListItems(ctx, includeInactive)
}

func (s *Service) GetItem(ctx context.Context, sku string) (domain.Item, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Item{}, fmt.Errorf("%w: item", store.ErrNotFound)
	}
	item, err := s.repo.GetItemBySKU(ctx, sku)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if _, err := s.authorize(ctx, authz.ActionCatalogManage); err != nil {
		return domain.Item{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return domain.Item{}, fmt.Errorf("sku and name are required")
	}
	if req.PriceCents < 1 {
		return domain.Item{}, fmt.Errorf("price must be positive")
	}
	if req.InitialStock < 0 || req.LowStockThreshold < 0 {
		return domain.Item{}, fmt.Errorf("stock values must not be negative")
	}

	item := domain.Item{
		SKU:               req.SKU,
		Name:              req.Name,
		PriceCents:        req.PriceCents,
		LowStockThreshold: req.LowStockThreshold,
		Active:            true,
	}
	created, err := s.repo.CreateItem(ctx, item, req.InitialStock)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_create", "item", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, sku string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if _, err := s.authorize(ctx, authz.ActionCatalogManage); err != nil {
		return domain.Item{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Item{}, fmt.Errorf("%w: item", store.ErrNotFound)
	}

	existing, err := s.repo.GetItemBySKU(ctx, sku)
	if err != nil {
		return domain.Item{}, err
	}

	item := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("name must not be empty")
		}
		item.Name = name
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Item{}, fmt.Errorf("price must be positive")
		}
		item.PriceCents = *req.PriceCents
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Item{}, fmt.Errorf("low stock threshold must not be negative")
		}
		item.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	updated, err := s.repo.UpdateItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "item_update", "item", updated.SKU, fmt.Sprintf("name=%s,price=%d,active=%t", updated.Name, updated.PriceCents, updated.Active))
	return *updated, nil
}

func (s *Service) LowStockItems(ctx context.Context) ([]domain.Item, error) {
	if _, err := s.authorize(ctx, authz.ActionReportView); err != nil {
		return nil, err
	}
	return s.repo.ListLowStockItems(ctx)
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (domain.StockMovement, error) {
	if _, err := s.authorize(ctx, authz.ActionStockReceive); err != nil {
		return domain.StockMovement{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.SKU == "" {
		return domain.StockMovement{}, fmt.Errorf("%w: item", store.ErrNotFound)
	}
	if req.Qty < 1 {
		return domain.StockMovement{}, fmt.Errorf("receive qty must be positive")
	}

	mov, err := s.repo.ReceiveStock(ctx, req.SKU, req.Qty, time.Now().UTC())
	if err != nil {
		return domain.StockMovement{}, err
	}

	s.logAudit(ctx, "stock_receive", "item", req.SKU, fmt.Sprintf("qty=%d,note=%s", req.Qty, strings.TrimSpace(req.Note)))
	return *mov, nil
}

func (s *Service) ListMovements(ctx context.Context, sku string, limit int) ([]domain.StockMovement, error) {
	if _, err := s.authorize(ctx, authz.ActionReportView); err != nil {
		return nil, err
	}
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, sku, limit)
}

func normalizeLines(lines []domain.LineInput) []domain.LineInput {
	out := make([]domain.LineInput, 0, len(lines))
	for _, l := range lines {
		l.SKU = strings.ToUpper(strings.TrimSpace(l.SKU))
		out = append(out, l)
	}
	return out
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, err := s.authorize(ctx, authz.ActionOrderCreate)
	if err != nil {
		return domain.Order{}, err
	}

	servedBy := strings.TrimSpace(req.ServedBy)
	if servedBy == "" {
		servedBy = actor.Username
	}
	order := domain.Order{
		ID:        xid.New("ord"),
		TableNo:   strings.TrimSpace(req.TableNo),
		ServedBy:  servedBy,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateOrder(ctx, order, normalizeLines(req.Lines))
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("table=%s,lines=%d,total=%d", created.TableNo, len(created.Lines), created.TotalCents))
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if _, err := s.authorize(ctx, authz.ActionOrderRead); err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrderByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if _, err := s.authorize(ctx, authz.ActionOrderRead); err != nil {
		return nil, err
	}

	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", domain.OrderStatusOpen, domain.OrderStatusFinalized:
	default:
		return nil, fmt.Errorf("unknown order status %q", status)
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListOrders(ctx, status, limit)
}

// ReplaceOrderLines swaps the order's full line set for the requested one.
// The store runs the reconciliation transactionally; this layer only
// authorizes, normalizes and audits.
func (s *Service) ReplaceOrderLines(ctx context.Context, orderID string, req domain.OrderReplaceLinesRequest) (domain.Order, error) {
	if _, err := s.authorize(ctx, authz.ActionOrderEdit); err != nil {
		return domain.Order{}, err
	}

	orderID = strings.TrimSpace(orderID)
	updated, err := s.repo.ReplaceOrderLines(ctx, orderID, normalizeLines(req.Lines), time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_edit", "order", updated.ID, fmt.Sprintf("lines=%d,total=%d", len(updated.Lines), updated.TotalCents))
	return *updated, nil
}

// FinalizeOrder transitions the order to its finalized state and issues
// the invoice, idempotently: a repeat call returns the existing invoice.
func (s *Service) FinalizeOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	if _, err := s.authorize(ctx, authz.ActionOrderFinalize); err != nil {
		return domain.Invoice{}, err
	}

	orderID = strings.TrimSpace(orderID)
	inv, err := s.repo.FinalizeOrder(ctx, orderID, s.taxRatePercent, time.Now().UTC())
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "order_finalize", "order", orderID, fmt.Sprintf("invoice=%s,total=%d", inv.ID, inv.TotalCents))
	return *inv, nil
}

// CancelOrder restocks every line and removes the order. The movements
// and the audit entry are what remains of a cancelled order.
func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string) (domain.Order, error) {
	if _, err := s.authorize(ctx, authz.ActionOrderCancel); err != nil {
		return domain.Order{}, err
	}

	orderID = strings.TrimSpace(orderID)
	cancelled, err := s.repo.CancelOrder(ctx, orderID, time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, "order_cancel", "order", orderID, fmt.Sprintf("reason=%s,lines=%d,total=%d", strings.TrimSpace(reason), len(cancelled.Lines), cancelled.TotalCents))
	return *cancelled, nil
}

func (s *Service) GetInvoiceByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	if _, err := s.authorize(ctx, authz.ActionOrderRead); err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.repo.GetInvoiceByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, date string, limit int) ([]domain.Invoice, error) {
	if _, err := s.authorize(ctx, authz.ActionReportView); err != nil {
		return nil, err
	}
	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListInvoices(ctx, from, to, limit)
}

// DailySales aggregates one day's finalized orders, with a cache in
// front. Cache failures degrade to the store read and are only logged.
func (s *Service) DailySales(ctx context.Context, date string) (domain.DailySalesReport, error) {
	if _, err := s.authorize(ctx, authz.ActionReportView); err != nil {
		return domain.DailySalesReport{}, err
	}

	from, to, err := dayRange(date)
	if err != nil {
		return domain.DailySalesReport{}, err
	}

	key := fmt.Sprintf("report:daily:%s", from.Format("2006-01-02"))
	if cached, ok, err := s.reports.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: report cache read failed key=%s: %v", key, err)
	} else if ok {
		return *cached, nil
	}

	report, err := s.repo.GetDailySalesReport(ctx, from, to)
	if err != nil {
		return domain.DailySalesReport{}, err
	}

	if err := s.reports.Set(ctx, key, &report, s.reportTTL); err != nil {
		log.Printf("[service] WARN: report cache write failed key=%s: %v", key, err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, authz.ActionAuditView); err != nil {
		return nil, err
	}
	from, to, err := dayRange(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func dayRange(date string) (time.Time, time.Time, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
		}
		day = parsed.UTC()
	}
	return day, day.Add(24 * time.Hour), nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
