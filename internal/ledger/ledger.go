// Package ledger implements the perpetual moving weighted-average cost
// formula used by every kardex entry. The functions here are pure; callers
// (the store implementations) are responsible for reading the previous
// balance and appending the new entry under the same lock.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
)

// UnitCostBasis derives the unit cost of an incoming movement. The
// tax-exclusive subtotal divided by quantity is preferred when both are
// positive; otherwise the caller-supplied unit price stands.
func UnitCostBasis(subtotal, quantity, unitPrice decimal.Decimal) decimal.Decimal {
	if subtotal.IsPositive() && quantity.IsPositive() {
		return subtotal.Div(quantity)
	}
	return unitPrice
}

// EntryBalance applies an incoming movement of quantity units at unitCost to
// the previous balance.
func EntryBalance(last domain.LedgerBalance, quantity, unitCost decimal.Decimal) domain.LedgerBalance {
	newQuantity := last.Quantity.Add(quantity)
	newValue := last.Value.Add(quantity.Mul(unitCost))
	return domain.LedgerBalance{
		Quantity: newQuantity,
		UnitCost: averageCost(newValue, newQuantity),
		Value:    newValue,
	}
}

// ExitBalance applies an outgoing movement of quantity units to the previous
// balance. The exit is valued at the current weighted-average cost, never at
// a sale price; the returned cost is the unit cost the exit was booked at.
// The quantity balance is allowed to go negative: overselling is the
// caller's policy decision, checked against HasEnoughStock beforehand when
// it must be prevented.
func ExitBalance(last domain.LedgerBalance, quantity decimal.Decimal) (domain.LedgerBalance, decimal.Decimal) {
	exitCost := last.UnitCost
	newQuantity := last.Quantity.Sub(quantity)
	newValue := last.Value.Sub(quantity.Mul(exitCost))
	balance := domain.LedgerBalance{
		Quantity: newQuantity,
		UnitCost: averageCost(newValue, newQuantity),
		Value:    newValue,
	}
	return balance, exitCost
}

// averageCost is value/quantity with an explicit convention for the
// undefined case: when the balance returns to zero the average cost resets
// to zero rather than carrying the previous average forward.
func averageCost(value, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return value.Div(quantity)
}

// ZeroBalance is the balance of a key that has no entries yet.
func ZeroBalance() domain.LedgerBalance {
	return domain.LedgerBalance{
		Quantity: decimal.Zero,
		UnitCost: decimal.Zero,
		Value:    decimal.Zero,
	}
}
