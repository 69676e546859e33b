package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bartab/backend/internal/cache"
	"bartab/backend/internal/domain"
	"bartab/backend/internal/store"
	"bartab/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopReportCache{}, 10, time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func serverCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "budi", Role: domain.RoleServer})
}

// movementSum adds up every signed movement for the given SKU.
func movementSum(t *testing.T, svc *Service, sku string) int {
	t.Helper()
	movements, err := svc.ListMovements(adminCtx(), sku, 500)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	sum := 0
	for _, m := range movements {
		sum += m.QtyDelta
	}
	return sum
}

func itemQty(t *testing.T, svc *Service, sku string) int {
	t.Helper()
	item, err := svc.GetItem(context.Background(), sku)
	if err != nil {
		t.Fatalf("get item %s failed: %v", sku, err)
	}
	return item.QtyOnHand
}

func TestCreateOrderConsumesStockAndCapturesPrice(t *testing.T) {
	svc := newTestService()

	before := itemQty(t, svc, "SKU-TEH-01")
	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		TableNo: "T-04",
		Lines:   []domain.LineInput{{SKU: "sku-teh-01", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if order.Status != domain.OrderStatusOpen {
		t.Fatalf("expected open order, got %s", order.Status)
	}
	if order.ServedBy != "budi" {
		t.Fatalf("expected served_by to default to actor, got %s", order.ServedBy)
	}
	if len(order.Lines) != 1 || order.Lines[0].Qty != 3 {
		t.Fatalf("unexpected lines %+v", order.Lines)
	}
	if order.Lines[0].UnitPriceCents != 12000 || order.TotalCents != 36000 {
		t.Fatalf("expected captured price 12000 and total 36000, got %d/%d", order.Lines[0].UnitPriceCents, order.TotalCents)
	}
	if got := itemQty(t, svc, "SKU-TEH-01"); got != before-3 {
		t.Fatalf("expected stock %d, got %d", before-3, got)
	}
}

func TestReplaceLinesRecordsRestockAndConsume(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	updated, err := svc.ReplaceOrderLines(serverCtx(), order.ID, domain.OrderReplaceLinesRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("replace lines failed: %v", err)
	}
	if updated.TotalCents != 12000 {
		t.Fatalf("expected total 12000 after edit, got %d", updated.TotalCents)
	}
	if got := itemQty(t, svc, "SKU-TEH-01"); got != 39 {
		t.Fatalf("expected stock 39 after net -1, got %d", got)
	}

	movements, err := svc.ListMovements(adminCtx(), "SKU-TEH-01", 500)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	var restocks, consumes int
	for _, m := range movements {
		if m.OrderID != order.ID {
			continue
		}
		if m.QtyDelta > 0 {
			restocks++
		} else {
			consumes++
		}
	}
	// Initial create: one consume. Edit: one restock plus one consume.
	if restocks != 1 || consumes != 2 {
		t.Fatalf("expected 1 restock and 2 consumes for the order, got %d/%d", restocks, consumes)
	}
}

func TestQtyOnHandEqualsMovementSum(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-NASI-01", Qty: 2}, {SKU: "SKU-BIR-01", Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ReplaceOrderLines(serverCtx(), order.ID, domain.OrderReplaceLinesRequest{
		Lines: []domain.LineInput{{SKU: "SKU-NASI-01", Qty: 1}, {SKU: "SKU-SATE-01", Qty: 2}},
	}); err != nil {
		t.Fatalf("replace lines failed: %v", err)
	}
	if _, err := svc.ReceiveStock(adminCtx(), domain.StockReceiveRequest{SKU: "SKU-BIR-01", Qty: 12}); err != nil {
		t.Fatalf("receive stock failed: %v", err)
	}

	for _, sku := range []string{"SKU-NASI-01", "SKU-BIR-01", "SKU-SATE-01"} {
		if qty, sum := itemQty(t, svc, sku), movementSum(t, svc, sku); qty != sum {
			t.Fatalf("item %s: qty-on-hand %d != movement sum %d", sku, qty, sum)
		}
	}
}

func TestInsufficientStockNamesItem(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateItem(adminCtx(), domain.ItemCreateRequest{
		SKU: "SKU-ANGGUR-01", Name: "Anggur Merah", PriceCents: 90000, InitialStock: 2,
	}); err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	_, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-ANGGUR-01", Qty: 5}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "SKU-ANGGUR-01") {
		t.Fatalf("expected error to name the item, got %q", err.Error())
	}
	if got := itemQty(t, svc, "SKU-ANGGUR-01"); got != 2 {
		t.Fatalf("expected stock unchanged at 2, got %d", got)
	}
}

func TestFailedReconciliationLeavesOrderAndStockUntouched(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 2}, {SKU: "SKU-SODA-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	tehBefore := itemQty(t, svc, "SKU-TEH-01")
	sodaBefore := itemQty(t, svc, "SKU-SODA-01")
	movementsBefore, _ := svc.ListMovements(adminCtx(), "", 500)

	// First line is satisfiable, second is not; the whole edit must roll back.
	_, err = svc.ReplaceOrderLines(serverCtx(), order.ID, domain.OrderReplaceLinesRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 5}, {SKU: "SKU-SODA-01", Qty: 9999}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after, err := svc.GetOrder(serverCtx(), order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if after.TotalCents != order.TotalCents || len(after.Lines) != 2 {
		t.Fatalf("expected order untouched, got total=%d lines=%d", after.TotalCents, len(after.Lines))
	}
	if itemQty(t, svc, "SKU-TEH-01") != tehBefore || itemQty(t, svc, "SKU-SODA-01") != sodaBefore {
		t.Fatalf("expected stock untouched after failed edit")
	}
	movementsAfter, _ := svc.ListMovements(adminCtx(), "", 500)
	if len(movementsAfter) != len(movementsBefore) {
		t.Fatalf("expected no movements from failed edit, got %d new", len(movementsAfter)-len(movementsBefore))
	}
}

func TestReplaceToEmptyLineSetRejected(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	movementsBefore, _ := svc.ListMovements(adminCtx(), "", 500)

	_, err = svc.ReplaceOrderLines(serverCtx(), order.ID, domain.OrderReplaceLinesRequest{})
	if !errors.Is(err, store.ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}

	movementsAfter, _ := svc.ListMovements(adminCtx(), "", 500)
	if len(movementsAfter) != len(movementsBefore) {
		t.Fatalf("expected no movements from rejected empty edit")
	}
}

func TestCreateOrderRequiresAtLeastOneLine(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{})
	if !errors.Is(err, store.ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
}

func TestFinalizeIssuesInvoiceOnce(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-NASI-01", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	first, err := svc.FinalizeOrder(cashierCtx(), order.ID)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if first.SubtotalCents != 76000 {
		t.Fatalf("expected subtotal 76000, got %d", first.SubtotalCents)
	}
	if first.TaxRatePercent != 10 || first.TaxCents != 7600 || first.TotalCents != 83600 {
		t.Fatalf("unexpected invoice math %+v", first)
	}

	second, err := svc.FinalizeOrder(cashierCtx(), order.ID)
	if err != nil {
		t.Fatalf("repeat finalize failed: %v", err)
	}
	if second.ID != first.ID || second.TotalCents != first.TotalCents || !second.IssuedAt.Equal(first.IssuedAt) {
		t.Fatalf("expected identical invoice on repeat finalize, got %+v vs %+v", first, second)
	}

	got, err := svc.GetOrder(serverCtx(), order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Status != domain.OrderStatusFinalized {
		t.Fatalf("expected finalized status, got %s", got.Status)
	}
}

func TestMutationsRejectedAfterFinalize(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-KOPI-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.FinalizeOrder(cashierCtx(), order.ID); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	_, err = svc.ReplaceOrderLines(serverCtx(), order.ID, domain.OrderReplaceLinesRequest{
		Lines: []domain.LineInput{{SKU: "SKU-KOPI-01", Qty: 2}},
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for edit after finalize, got %v", err)
	}

	_, err = svc.CancelOrder(adminCtx(), order.ID, "late cancel")
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for cancel after finalize, got %v", err)
	}
}

func TestCancelRestocksAndRemovesOrder(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-BIR-01", Qty: 2}, {SKU: "SKU-KERUPUK-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if itemQty(t, svc, "SKU-BIR-01") != 38 || itemQty(t, svc, "SKU-KERUPUK-01") != 39 {
		t.Fatalf("unexpected stock after create")
	}

	cancelled, err := svc.CancelOrder(adminCtx(), order.ID, "guest walked out")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled snapshot, got %s", cancelled.Status)
	}

	if itemQty(t, svc, "SKU-BIR-01") != 40 || itemQty(t, svc, "SKU-KERUPUK-01") != 40 {
		t.Fatalf("expected full restock after cancel")
	}

	movements, _ := svc.ListMovements(adminCtx(), "", 500)
	var cancelMovs int
	for _, m := range movements {
		if m.OrderID == order.ID && m.Source == domain.MovementSourceCancel {
			if m.QtyDelta <= 0 {
				t.Fatalf("cancel movement must be positive, got %d", m.QtyDelta)
			}
			cancelMovs++
		}
	}
	if cancelMovs != 2 {
		t.Fatalf("expected 2 cancel restock movements, got %d", cancelMovs)
	}

	if _, err := svc.GetOrder(serverCtx(), order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected order to be gone, got %v", err)
	}
}

func TestCapabilityTableEnforced(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.FinalizeOrder(serverCtx(), order.ID); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected server finalize to be forbidden, got %v", err)
	}
	if _, err := svc.CancelOrder(cashierCtx(), order.ID, "no"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier cancel to be forbidden, got %v", err)
	}
	if _, err := svc.CreateItem(serverCtx(), domain.ItemCreateRequest{SKU: "SKU-X", Name: "X", PriceCents: 100}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected server item create to be forbidden, got %v", err)
	}
	if _, err := svc.ReceiveStock(cashierCtx(), domain.StockReceiveRequest{SKU: "SKU-TEH-01", Qty: 1}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier stock receive to be forbidden, got %v", err)
	}
	if _, err := svc.ListAuditLogs(cashierCtx(), "", 10); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier audit view to be forbidden, got %v", err)
	}
	if _, err := svc.CreateOrder(context.Background(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 1}},
	}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected actor-less call to be forbidden, got %v", err)
	}
}

func TestLinePriceSurvivesCatalogChange(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-SATE-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	newPrice := int64(50000)
	if _, err := svc.UpdateItem(adminCtx(), "SKU-SATE-01", domain.ItemUpdateRequest{PriceCents: &newPrice}); err != nil {
		t.Fatalf("update item failed: %v", err)
	}

	got, err := svc.GetOrder(serverCtx(), order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Lines[0].UnitPriceCents != 42000 || got.TotalCents != 42000 {
		t.Fatalf("expected captured price 42000 to survive catalog change, got %d", got.Lines[0].UnitPriceCents)
	}

	inv, err := svc.FinalizeOrder(cashierCtx(), order.ID)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if inv.SubtotalCents != 42000 {
		t.Fatalf("expected invoice frozen at captured price, got %d", inv.SubtotalCents)
	}

	// A fresh order picks up the new catalog price.
	fresh, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-SATE-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create fresh order failed: %v", err)
	}
	if fresh.TotalCents != 50000 {
		t.Fatalf("expected fresh order at new price 50000, got %d", fresh.TotalCents)
	}
}

func TestDailySalesAggregatesInvoices(t *testing.T) {
	svc := newTestService()

	for _, lines := range [][]domain.LineInput{
		{{SKU: "SKU-NASI-01", Qty: 1}},
		{{SKU: "SKU-KOPI-01", Qty: 2}},
	} {
		order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{Lines: lines})
		if err != nil {
			t.Fatalf("create order failed: %v", err)
		}
		if _, err := svc.FinalizeOrder(cashierCtx(), order.ID); err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
	}

	report, err := svc.DailySales(cashierCtx(), "")
	if err != nil {
		t.Fatalf("daily sales failed: %v", err)
	}
	if report.OrdersFinalized != 2 {
		t.Fatalf("expected 2 finalized orders, got %d", report.OrdersFinalized)
	}
	wantSubtotal := int64(38000 + 30000)
	if report.SubtotalCents != wantSubtotal {
		t.Fatalf("expected subtotal %d, got %d", wantSubtotal, report.SubtotalCents)
	}
	if report.TotalCents != report.SubtotalCents+report.TaxCents {
		t.Fatalf("report total %d does not equal subtotal+tax", report.TotalCents)
	}
}

func TestReceiveStockAppendsMovement(t *testing.T) {
	svc := newTestService()

	mov, err := svc.ReceiveStock(adminCtx(), domain.StockReceiveRequest{SKU: "sku-bir-02", Qty: 6, Note: "weekly delivery"})
	if err != nil {
		t.Fatalf("receive stock failed: %v", err)
	}
	if mov.QtyDelta != 6 || mov.Source != domain.MovementSourceReceive || mov.OrderID != "" {
		t.Fatalf("unexpected movement %+v", mov)
	}
	if got := itemQty(t, svc, "SKU-BIR-02"); got != 46 {
		t.Fatalf("expected stock 46, got %d", got)
	}

	if _, err := svc.ReceiveStock(adminCtx(), domain.StockReceiveRequest{SKU: "SKU-BIR-02", Qty: 0}); err == nil {
		t.Fatalf("expected zero qty receive to be rejected")
	}
}

func TestLowStockListing(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CreateItem(adminCtx(), domain.ItemCreateRequest{
		SKU: "SKU-JERUK-01", Name: "Jus Jeruk", PriceCents: 20000, LowStockThreshold: 10, InitialStock: 5,
	}); err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	items, err := svc.LowStockItems(adminCtx())
	if err != nil {
		t.Fatalf("low stock listing failed: %v", err)
	}
	found := false
	for _, it := range items {
		if it.SKU == "SKU-JERUK-01" {
			found = true
		}
		if it.QtyOnHand > it.LowStockThreshold {
			t.Fatalf("item %s is not low on stock (%d > %d)", it.SKU, it.QtyOnHand, it.LowStockThreshold)
		}
	}
	if !found {
		t.Fatalf("expected SKU-JERUK-01 in low stock listing")
	}
}

func TestMutationsAreAudited(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.FinalizeOrder(cashierCtx(), order.ID); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 100)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		if entry.EntityID == order.ID {
			actions[entry.Action] = true
		}
	}
	if !actions["order_create"] || !actions["order_finalize"] {
		t.Fatalf("expected order_create and order_finalize audit entries, got %v", actions)
	}
}

func TestGetInvoiceByOrder(t *testing.T) {
	svc := newTestService()

	order, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-AIR-01", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.GetInvoiceByOrder(serverCtx(), order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no invoice before finalize, got %v", err)
	}

	issued, err := svc.FinalizeOrder(cashierCtx(), order.ID)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	got, err := svc.GetInvoiceByOrder(serverCtx(), order.ID)
	if err != nil {
		t.Fatalf("get invoice failed: %v", err)
	}
	if got.ID != issued.ID {
		t.Fatalf("expected invoice %s, got %s", issued.ID, got.ID)
	}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	svc := newTestService()

	first, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-TEH-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	second, err := svc.CreateOrder(serverCtx(), domain.OrderCreateRequest{
		Lines: []domain.LineInput{{SKU: "SKU-KOPI-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.FinalizeOrder(cashierCtx(), second.ID); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	open, err := svc.ListOrders(serverCtx(), domain.OrderStatusOpen, 50)
	if err != nil {
		t.Fatalf("list open orders failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != first.ID {
		t.Fatalf("expected only the open order, got %+v", open)
	}

	if _, err := svc.ListOrders(serverCtx(), "voided", 50); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
}
