package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bartab/backend/internal/domain"
	"bartab/backend/internal/reconcile"
	"bartab/backend/internal/store"
	"bartab/backend/internal/xid"
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

func (s *Store) ListItems(ctx context.Context, includeInactive bool) ([]domain.Item, error) {
	query := `
		SELECT sku, name, price_cents, qty_on_hand, low_stock_threshold, active, created_at, updated_at
		FROM items
		WHERE active = true
		ORDER BY sku
	`
	if includeInactive {
		query = `
			SELECT sku, name, price_cents, qty_on_hand, low_stock_threshold, active, created_at, updated_at
			FROM items
			ORDER BY sku
		`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.SKU, &it.Name, &it.PriceCents, &it.QtyOnHand, &it.LowStockThreshold, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetItemBySKU(ctx context.Context, sku string) (*domain.Item, error) {
	var it domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, price_cents, qty_on_hand, low_stock_threshold, active, created_at, updated_at
		FROM items
		WHERE sku = $1
	`, sku).Scan(&it.SKU, &it.Name, &it.PriceCents, &it.QtyOnHand, &it.LowStockThreshold, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, sku)
		}
		return nil, err
	}
	return &it, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item, initialStock int) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item.QtyOnHand = 0
	if initialStock > 0 {
		item.QtyOnHand = initialStock
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO items (sku, name, price_cents, qty_on_hand, low_stock_threshold, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,true,now(),now())
		RETURNING created_at, updated_at
	`, item.SKU, item.Name, item.PriceCents, item.QtyOnHand, item.LowStockThreshold).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("item %s already exists", item.SKU)
		}
		return nil, err
	}

	if initialStock > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, sku, qty_delta, order_id, source, created_at)
			VALUES ($1,$2,$3,NULL,$4,now())
		`, xid.New("mov"), item.SKU, initialStock, domain.MovementSourceReceive)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	item.Active = true
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, price_cents = $3, low_stock_threshold = $4, active = $5, updated_at = now()
		WHERE sku = $1
		RETURNING qty_on_hand, created_at, updated_at
	`, item.SKU, item.Name, item.PriceCents, item.LowStockThreshold, item.Active).Scan(&item.QtyOnHand, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, item.SKU)
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListLowStockItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, price_cents, qty_on_hand, low_stock_threshold, active, created_at, updated_at
		FROM items
		WHERE active = true AND qty_on_hand <= low_stock_threshold
		ORDER BY sku
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 16)
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.SKU, &it.Name, &it.PriceCents, &it.QtyOnHand, &it.LowStockThreshold, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) ReceiveStock(ctx context.Context, sku string, qty int, at time.Time) (*domain.StockMovement, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET qty_on_hand = qty_on_hand + $2, updated_at = $3
		WHERE sku = $1
	`, sku, qty, at)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, sku)
	}

	mov := domain.StockMovement{
		ID:        xid.New("mov"),
		SKU:       sku,
		QtyDelta:  qty,
		Source:    domain.MovementSourceReceive,
		CreatedAt: at,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, sku, qty_delta, order_id, source, created_at)
		VALUES ($1,$2,$3,NULL,$4,$5)
	`, mov.ID, mov.SKU, mov.QtyDelta, mov.Source, mov.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &mov, nil
}

func (s *Store) ListMovements(ctx context.Context, sku string, limit int) ([]domain.StockMovement, error) {
	query := `
		SELECT id, sku, qty_delta, COALESCE(order_id,''), source, created_at
		FROM stock_movements
		WHERE ($1 = '' OR sku = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, sku, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.SKU, &m.QtyDelta, &m.OrderID, &m.Source, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return movements, nil
}

// lockItems reads every referenced item under FOR UPDATE so concurrent
// reconciliations of the same items serialize on the row locks.
func lockItems(ctx context.Context, tx *sql.Tx, skus []string) (map[string]domain.Item, error) {
	if len(skus) == 0 {
		return map[string]domain.Item{}, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sku, name, price_cents, qty_on_hand, low_stock_threshold, active
		FROM items
		WHERE sku = ANY($1)
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, err
	}

	items := make(map[string]domain.Item, len(skus))
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.SKU, &it.Name, &it.PriceCents, &it.QtyOnHand, &it.LowStockThreshold, &it.Active); err != nil {
			_ = rows.Close()
			return nil, err
		}
		items[it.SKU] = it
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	return items, nil
}

// applyPlan writes a reconcile plan inside the caller's transaction:
// movement rows appended, item quantities set to the plan's result.
func applyPlan(ctx context.Context, tx *sql.Tx, plan *reconcile.Plan, orderID string, source string, at time.Time) error {
	movements := make([]reconcile.Movement, 0, len(plan.Restocks)+len(plan.Consumes))
	movements = append(movements, plan.Restocks...)
	movements = append(movements, plan.Consumes...)
	for _, m := range movements {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, sku, qty_delta, order_id, source, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, xid.New("mov"), m.SKU, m.QtyDelta, orderID, source, at)
		if err != nil {
			return err
		}
	}
	for sku, qty := range plan.Stock {
		_, err := tx.ExecContext(ctx, `
			UPDATE items
			SET qty_on_hand = $2, updated_at = $3
			WHERE sku = $1
		`, sku, qty, at)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertLines(ctx context.Context, tx *sql.Tx, lines []domain.OrderLine) error {
	for _, l := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, sku, qty, unit_price_cents, line_total_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, l.OrderID, l.SKU, l.Qty, l.UnitPriceCents, l.LineTotalCents)
		if err != nil {
			return err
		}
	}
	return nil
}

func uniqueSKUs(oldLines []domain.OrderLine, newLines []domain.LineInput) []string {
	seen := make(map[string]bool, len(oldLines)+len(newLines))
	skus := make([]string, 0, len(oldLines)+len(newLines))
	for _, l := range oldLines {
		if !seen[l.SKU] {
			seen[l.SKU] = true
			skus = append(skus, l.SKU)
		}
	}
	for _, l := range newLines {
		if !seen[l.SKU] {
			seen[l.SKU] = true
			skus = append(skus, l.SKU)
		}
	}
	return skus
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, lines []domain.LineInput) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	items, err := lockItems(ctx, tx, uniqueSKUs(nil, lines))
	if err != nil {
		return nil, err
	}

	plan, err := reconcile.Replace(order.ID, nil, lines, items)
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatusOpen
	order.TotalCents = plan.TotalCents
	order.UpdatedAt = order.CreatedAt
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, table_no, served_by, status, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.TableNo, order.ServedBy, order.Status, order.TotalCents, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := insertLines(ctx, tx, plan.Lines); err != nil {
		return nil, err
	}
	if err := applyPlan(ctx, tx, plan, order.ID, domain.MovementSourceOrder, order.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	order.Lines = plan.Lines
	return &order, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var ord domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(table_no,''), COALESCE(served_by,''), status, total_cents, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&ord.ID, &ord.TableNo, &ord.ServedBy, &ord.Status, &ord.TotalCents, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	ord.CreatedAt = ord.CreatedAt.UTC()
	ord.UpdatedAt = ord.UpdatedAt.UTC()

	lines, err := s.loadLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ord.Lines = lines
	return &ord, nil
}

func (s *Store) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, sku, qty, unit_price_cents, line_total_cents
		FROM order_lines
		WHERE order_id = $1
		ORDER BY sku
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderID, &l.SKU, &l.Qty, &l.UnitPriceCents, &l.LineTotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(table_no,''), COALESCE(served_by,''), status, total_cents, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var ord domain.Order
		if err := rows.Scan(&ord.ID, &ord.TableNo, &ord.ServedBy, &ord.Status, &ord.TotalCents, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
			return nil, err
		}
		ord.CreatedAt = ord.CreatedAt.UTC()
		ord.UpdatedAt = ord.UpdatedAt.UTC()
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := s.loadLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

// lockOrder reads the order header under FOR UPDATE so concurrent status
// transitions and line edits on the same order serialize.
func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Order, error) {
	var ord domain.Order
	err := tx.QueryRowContext(ctx, `
		SELECT id, COALESCE(table_no,''), COALESCE(served_by,''), status, total_cents, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&ord.ID, &ord.TableNo, &ord.ServedBy, &ord.Status, &ord.TotalCents, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	return &ord, nil
}

func lockedLines(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT order_id, sku, qty, unit_price_cents, line_total_cents
		FROM order_lines
		WHERE order_id = $1
		ORDER BY sku
	`, orderID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderID, &l.SKU, &l.Qty, &l.UnitPriceCents, &l.LineTotalCents); err != nil {
			_ = rows.Close()
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	return lines, nil
}

func (s *Store) ReplaceOrderLines(ctx context.Context, orderID string, lines []domain.LineInput, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ord, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, ord.Status)
	}

	oldLines, err := lockedLines(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := lockItems(ctx, tx, uniqueSKUs(oldLines, lines))
	if err != nil {
		return nil, err
	}

	plan, err := reconcile.Replace(orderID, oldLines, lines, items)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return nil, err
	}
	if err := insertLines(ctx, tx, plan.Lines); err != nil {
		return nil, err
	}
	if err := applyPlan(ctx, tx, plan, orderID, domain.MovementSourceOrder, at); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET total_cents = $2, updated_at = $3 WHERE id = $1
	`, orderID, plan.TotalCents, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ord.Lines = plan.Lines
	ord.TotalCents = plan.TotalCents
	ord.UpdatedAt = at
	return ord, nil
}

func (s *Store) FinalizeOrder(ctx context.Context, orderID string, taxRatePercent float64, at time.Time) (*domain.Invoice, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ord, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if inv, err := scanInvoice(tx.QueryRowContext(ctx, `
		SELECT id, order_id, subtotal_cents, tax_rate_percent, tax_cents, total_cents, issued_at
		FROM invoices
		WHERE order_id = $1
	`, orderID)); err == nil {
		return inv, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if ord.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, ord.Status)
	}

	subtotal := ord.TotalCents
	taxCents, totalCents := reconcile.InvoiceTotals(subtotal, taxRatePercent)
	inv := domain.Invoice{
		ID:             xid.New("inv"),
		OrderID:        orderID,
		SubtotalCents:  subtotal,
		TaxRatePercent: taxRatePercent,
		TaxCents:       taxCents,
		TotalCents:     totalCents,
		IssuedAt:       at,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, order_id, subtotal_cents, tax_rate_percent, tax_cents, total_cents, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, inv.ID, inv.OrderID, inv.SubtotalCents, inv.TaxRatePercent, inv.TaxCents, inv.TotalCents, inv.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race to a concurrent finalize; the winner's invoice
			// is the invoice.
			return s.GetInvoiceByOrderID(ctx, orderID)
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, orderID, domain.OrderStatusFinalized, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return s.GetInvoiceByOrderID(ctx, orderID)
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) CancelOrder(ctx context.Context, orderID string, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ord, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, ord.Status)
	}

	lines, err := lockedLines(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := lockItems(ctx, tx, uniqueSKUs(lines, nil)); err != nil {
		return nil, err
	}

	for _, l := range lines {
		_, err := tx.ExecContext(ctx, `
			UPDATE items
			SET qty_on_hand = qty_on_hand + $2, updated_at = $3
			WHERE sku = $1
		`, l.SKU, l.Qty, at)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, sku, qty_delta, order_id, source, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, xid.New("mov"), l.SKU, l.Qty, orderID, domain.MovementSourceCancel, at)
		if err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ord.Lines = lines
	ord.Status = domain.OrderStatusCancelled
	ord.UpdatedAt = at
	return ord, nil
}

func scanInvoice(row *sql.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(&inv.ID, &inv.OrderID, &inv.SubtotalCents, &inv.TaxRatePercent, &inv.TaxCents, &inv.TotalCents, &inv.IssuedAt)
	if err != nil {
		return nil, err
	}
	inv.IssuedAt = inv.IssuedAt.UTC()
	return &inv, nil
}

func (s *Store) GetInvoiceByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT id, order_id, subtotal_cents, tax_rate_percent, tax_cents, total_cents, issued_at
		FROM invoices
		WHERE order_id = $1
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice for order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, subtotal_cents, tax_rate_percent, tax_cents, total_cents, issued_at
		FROM invoices
		WHERE issued_at >= $1 AND issued_at < $2
		ORDER BY issued_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.OrderID, &inv.SubtotalCents, &inv.TaxRatePercent, &inv.TaxCents, &inv.TotalCents, &inv.IssuedAt); err != nil {
			return nil, err
		}
		inv.IssuedAt = inv.IssuedAt.UTC()
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return invoices, nil
}

func (s *Store) GetDailySalesReport(ctx context.Context, from time.Time, to time.Time) (domain.DailySalesReport, error) {
	report := domain.DailySalesReport{Date: from.UTC().Format("2006-01-02")}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(subtotal_cents),0), COALESCE(SUM(tax_cents),0), COALESCE(SUM(total_cents),0)
		FROM invoices
		WHERE issued_at >= $1 AND issued_at < $2
	`, from, to).Scan(&report.OrdersFinalized, &report.SubtotalCents, &report.TaxCents, &report.TotalCents)
	if err != nil {
		return domain.DailySalesReport{}, err
	}
	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (username) DO NOTHING
	`, user.Username, user.Password, user.Role, user.Active)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
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
