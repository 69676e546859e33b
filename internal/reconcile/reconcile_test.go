package reconcile

import (
	"errors"
	"strings"
	"testing"

	"bartab/backend/internal/domain"
	"bartab/backend/internal/store"
)

func testItems() map[string]domain.Item {
	return map[string]domain.Item{
		"SKU-A": {SKU: "SKU-A", Name: "Item A", PriceCents: 1000, QtyOnHand: 10, Active: true},
		"SKU-B": {SKU: "SKU-B", Name: "Item B", PriceCents: 2500, QtyOnHand: 2, Active: true},
		"SKU-C": {SKU: "SKU-C", Name: "Item C", PriceCents: 500, QtyOnHand: 0, Active: false},
	}
}

func TestReplaceFromEmptyConsumesAndPrices(t *testing.T) {
	plan, err := Replace("ord-1", nil, []domain.LineInput{{SKU: "SKU-A", Qty: 3}}, testItems())
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	if len(plan.Restocks) != 0 {
		t.Fatalf("expected no restocks, got %d", len(plan.Restocks))
	}
	if len(plan.Consumes) != 1 || plan.Consumes[0].QtyDelta != -3 {
		t.Fatalf("expected one -3 consume, got %+v", plan.Consumes)
	}
	if len(plan.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(plan.Lines))
	}
	line := plan.Lines[0]
	if line.UnitPriceCents != 1000 || line.LineTotalCents != 3000 {
		t.Fatalf("expected captured price 1000 and line total 3000, got %d/%d", line.UnitPriceCents, line.LineTotalCents)
	}
	if plan.TotalCents != 3000 {
		t.Fatalf("expected total 3000, got %d", plan.TotalCents)
	}
	if plan.Stock["SKU-A"] != 7 {
		t.Fatalf("expected resulting stock 7, got %d", plan.Stock["SKU-A"])
	}
}

func TestReplaceRestocksOldLinesBeforeAvailabilityCheck(t *testing.T) {
	oldLines := []domain.OrderLine{
		{OrderID: "ord-1", SKU: "SKU-B", Qty: 2, UnitPriceCents: 2500, LineTotalCents: 5000},
	}
	// SKU-B has 0 free on hand in this snapshot; the old reservation must
	// count as available again.
	items := testItems()
	b := items["SKU-B"]
	b.QtyOnHand = 0
	items["SKU-B"] = b

	plan, err := Replace("ord-1", oldLines, []domain.LineInput{{SKU: "SKU-B", Qty: 1}}, items)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if len(plan.Restocks) != 1 || plan.Restocks[0].QtyDelta != 2 {
		t.Fatalf("expected +2 restock, got %+v", plan.Restocks)
	}
	if len(plan.Consumes) != 1 || plan.Consumes[0].QtyDelta != -1 {
		t.Fatalf("expected -1 consume, got %+v", plan.Consumes)
	}
	if plan.Stock["SKU-B"] != 1 {
		t.Fatalf("expected net stock 1, got %d", plan.Stock["SKU-B"])
	}
}

func TestReplaceQuantityShiftWithoutNetHeadroom(t *testing.T) {
	// Swap the whole reservation from A to B and back: legal even though
	// neither item has free headroom for both sets simultaneously.
	items := map[string]domain.Item{
		"SKU-A": {SKU: "SKU-A", PriceCents: 1000, QtyOnHand: 0, Active: true},
		"SKU-B": {SKU: "SKU-B", PriceCents: 2000, QtyOnHand: 3, Active: true},
	}
	oldLines := []domain.OrderLine{
		{OrderID: "ord-1", SKU: "SKU-A", Qty: 3, UnitPriceCents: 1000, LineTotalCents: 3000},
	}

	plan, err := Replace("ord-1", oldLines, []domain.LineInput{{SKU: "SKU-A", Qty: 1}, {SKU: "SKU-B", Qty: 3}}, items)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if plan.Stock["SKU-A"] != 2 || plan.Stock["SKU-B"] != 0 {
		t.Fatalf("unexpected resulting stock %+v", plan.Stock)
	}
	if plan.TotalCents != 1000+6000 {
		t.Fatalf("expected total 7000, got %d", plan.TotalCents)
	}
}

func TestReplaceInsufficientStockNamesItem(t *testing.T) {
	_, err := Replace("ord-1", nil, []domain.LineInput{{SKU: "SKU-B", Qty: 5}}, testItems())
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "SKU-B") {
		t.Fatalf("expected error to name SKU-B, got %q", err.Error())
	}
}

func TestReplaceEmptyLineSetRejected(t *testing.T) {
	_, err := Replace("ord-1", nil, nil, testItems())
	if !errors.Is(err, store.ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
}

func TestReplaceUnknownAndInactiveItemsRejected(t *testing.T) {
	if _, err := Replace("ord-1", nil, []domain.LineInput{{SKU: "SKU-X", Qty: 1}}, testItems()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
	if _, err := Replace("ord-1", nil, []domain.LineInput{{SKU: "SKU-C", Qty: 1}}, testItems()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive item, got %v", err)
	}
}

func TestReplaceRejectsNonPositiveQty(t *testing.T) {
	if _, err := Replace("ord-1", nil, []domain.LineInput{{SKU: "SKU-A", Qty: 0}}, testItems()); err == nil {
		t.Fatalf("expected zero qty to be rejected")
	}
	if _, err := Replace("ord-1", nil, []domain.LineInput{{SKU: "SKU-A", Qty: -2}}, testItems()); err == nil {
		t.Fatalf("expected negative qty to be rejected")
	}
}

func TestReplaceMergesDuplicateSKUs(t *testing.T) {
	plan, err := Replace("ord-1", nil, []domain.LineInput{
		{SKU: "SKU-A", Qty: 2},
		{SKU: "SKU-A", Qty: 3},
	}, testItems())
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if len(plan.Lines) != 1 || plan.Lines[0].Qty != 5 {
		t.Fatalf("expected one merged line qty=5, got %+v", plan.Lines)
	}
}

func TestInvoiceTotalsRoundsHalfUp(t *testing.T) {
	tax, total := InvoiceTotals(10000, 10)
	if tax != 1000 || total != 11000 {
		t.Fatalf("expected 1000/11000, got %d/%d", tax, total)
	}

	// 333 * 10% = 33.3, rounds to 33.
	tax, total = InvoiceTotals(333, 10)
	if tax != 33 || total != 366 {
		t.Fatalf("expected 33/366, got %d/%d", tax, total)
	}

	// 335 * 10% = 33.5, rounds to 34.
	tax, total = InvoiceTotals(335, 10)
	if tax != 34 || total != 369 {
		t.Fatalf("expected 34/369, got %d/%d", tax, total)
	}

	tax, total = InvoiceTotals(5000, 0)
	if tax != 0 || total != 5000 {
		t.Fatalf("expected zero tax at 0%%, got %d/%d", tax, total)
	}
}
