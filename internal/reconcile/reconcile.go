// Package reconcile computes the effect of replacing an order's line set
// against a snapshot of the stock ledger and the catalog. It is pure:
// callers load the snapshot, ask for a Plan, and apply it inside their own
// transaction. A Plan is all-or-nothing by construction; if this package
// returns an error, nothing may be written.
package reconcile

import (
	"fmt"
	"math"

	"bartab/backend/internal/domain"
	"bartab/backend/internal/store"
)

// Movement is a pending signed stock adjustment. Positive restocks,
// negative consumes.
type Movement struct {
	SKU      string
	QtyDelta int
}

// Plan is the full effect of one line replacement. Restocks return the old
// reservation, Consumes take the new one, Lines carry freshly captured
// prices, Stock holds the resulting quantity-on-hand for every touched SKU.
type Plan struct {
	Restocks   []Movement
	Consumes   []Movement
	Lines      []domain.OrderLine
	TotalCents int64
	Stock      map[string]int
}

// Replace diffs oldLines against the desired newLines. Availability for the
// new set is checked against the ledger after the old lines' restock, so
// shifting quantity between items is legal without net headroom. Duplicate
// SKUs in newLines are merged by summing quantities.
//
// Failure modes: store.ErrEmptyOrder when newLines is empty,
// store.ErrNotFound for unknown or inactive items, and
// store.ErrInsufficientStock naming the item that cannot be covered.
func Replace(orderID string, oldLines []domain.OrderLine, newLines []domain.LineInput, items map[string]domain.Item) (*Plan, error) {
	if len(newLines) == 0 {
		return nil, store.ErrEmptyOrder
	}

	merged := make(map[string]int, len(newLines))
	skuOrder := make([]string, 0, len(newLines))
	for _, in := range newLines {
		if in.SKU == "" {
			return nil, fmt.Errorf("line item sku is required")
		}
		if in.Qty <= 0 {
			return nil, fmt.Errorf("line qty for %s must be positive", in.SKU)
		}
		if _, seen := merged[in.SKU]; !seen {
			skuOrder = append(skuOrder, in.SKU)
		}
		merged[in.SKU] += in.Qty
	}

	plan := &Plan{Stock: make(map[string]int, len(items))}

	available := make(map[string]int, len(items))
	for _, old := range oldLines {
		item, ok := items[old.SKU]
		if !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, old.SKU)
		}
		if _, seen := available[old.SKU]; !seen {
			available[old.SKU] = item.QtyOnHand
		}
		available[old.SKU] += old.Qty
		plan.Restocks = append(plan.Restocks, Movement{SKU: old.SKU, QtyDelta: old.Qty})
	}

	for _, sku := range skuOrder {
		item, ok := items[sku]
		if !ok || !item.Active {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, sku)
		}
		if _, seen := available[sku]; !seen {
			available[sku] = item.QtyOnHand
		}

		qty := merged[sku]
		if qty > available[sku] {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, sku)
		}
		available[sku] -= qty

		line := domain.OrderLine{
			OrderID:        orderID,
			SKU:            sku,
			Qty:            qty,
			UnitPriceCents: item.PriceCents,
			LineTotalCents: int64(qty) * item.PriceCents,
		}
		plan.Lines = append(plan.Lines, line)
		plan.TotalCents += line.LineTotalCents
		plan.Consumes = append(plan.Consumes, Movement{SKU: sku, QtyDelta: -qty})
	}

	for sku, qty := range available {
		plan.Stock[sku] = qty
	}
	return plan, nil
}

// InvoiceTotals computes the tax and grand total for a finalized order's
// subtotal. The rate is the percentage captured into the invoice.
func InvoiceTotals(subtotalCents int64, taxRatePercent float64) (taxCents, totalCents int64) {
	taxCents = int64(math.Round(float64(subtotalCents) * taxRatePercent / 100))
	return taxCents, subtotalCents + taxCents
}
