// Package pricing computes a check's billable total from its lines, their
// option modifiers and all active adjustments. The calculation is pure:
// given the same snapshot it always produces the same bill, and it writes
// nothing.
package pricing

import (
	"fmt"

	"pos-ledger/internal/ledger"
	"pos-ledger/internal/models"
)

// Calculate prices one check snapshot. The adjustment ordering is a fixed
// tie-break that customer-facing totals depend on: line-scoped before
// check-scoped, fixed amounts before percentages within each scope, and
// every percentage computed against its own base (the line's own price for
// LINE scope, the post-line-adjustment subtotal for CHECK scope), never the
// running total.
func Calculate(snap *models.BillSnapshot) (*models.Bill, error) {
	bill := &models.Bill{
		CheckID:     snap.Check.ID,
		Adjustments: []models.AdjustmentView{},
	}

	lineBase := make(map[string]int64, len(snap.Lines))
	for _, lw := range snap.Lines {
		if !lw.Line.Active() {
			continue
		}
		base := lw.Base()
		lineBase[lw.Line.ID] = base
		bill.Subtotal += base
	}

	var lineAmount, linePercent, checkAmount, checkPercent int64

	// Pass 1: line-scoped fixed amounts.
	for _, adj := range snap.Adjustments {
		if !adj.ValidScope() {
			return nil, fmt.Errorf("adjustment %s: scope must reference exactly one of check/line: %w",
				adj.ID, ledger.ErrIntegrity)
		}
		if adj.Scope == models.ScopeLine && adj.ValueType == models.ValueAmount {
			if _, ok := lineBase[adj.LineID]; !ok {
				continue // canceled line, adjustment no longer qualifies
			}
			applied := adj.Value
			lineAmount += applied
			bill.Adjustments = append(bill.Adjustments, view(adj, applied))
		}
	}

	// Pass 2: line-scoped percentages, each against its own line's price.
	for _, adj := range snap.Adjustments {
		if adj.Scope == models.ScopeLine && adj.ValueType == models.ValuePercent {
			base, ok := lineBase[adj.LineID]
			if !ok {
				continue
			}
			applied := roundPercent(base, adj.Value)
			linePercent += applied
			bill.Adjustments = append(bill.Adjustments, view(adj, applied))
		}
	}

	// Pass 3: check-scoped fixed amounts.
	for _, adj := range snap.Adjustments {
		if adj.Scope == models.ScopeCheck && adj.ValueType == models.ValueAmount {
			applied := adj.Value
			checkAmount += applied
			bill.Adjustments = append(bill.Adjustments, view(adj, applied))
		}
	}

	// Pass 4: check-scoped percentages against the post-line-adjustment
	// subtotal.
	checkPercentBase := bill.Subtotal - lineAmount - linePercent
	if checkPercentBase < 0 {
		checkPercentBase = 0
	}
	for _, adj := range snap.Adjustments {
		if adj.Scope == models.ScopeCheck && adj.ValueType == models.ValuePercent {
			applied := roundPercent(checkPercentBase, adj.Value)
			checkPercent += applied
			bill.Adjustments = append(bill.Adjustments, view(adj, applied))
		}
	}

	total := bill.Subtotal - lineAmount - linePercent - checkAmount - checkPercent
	if total < 0 {
		total = 0
	}
	bill.Total = total
	bill.Paid = snap.PaidTotal
	bill.Outstanding = total - snap.PaidTotal
	if bill.Outstanding < 0 {
		bill.Outstanding = 0
	}
	return bill, nil
}

// roundPercent applies an integer percentage to a base amount, rounding
// half-up to the smallest currency unit.
func roundPercent(base, percent int64) int64 {
	return (base*percent + 50) / 100
}

func view(adj models.Adjustment, applied int64) models.AdjustmentView {
	return models.AdjustmentView{
		ID:        adj.ID,
		Scope:     adj.Scope,
		Kind:      adj.Kind,
		ValueType: adj.ValueType,
		Value:     adj.Value,
		Label:     adj.Label,
		Applied:   applied,
	}
}
