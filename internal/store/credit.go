package store

import (
	"slices"

	"openinvoice/backend/internal/creditnote"
	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/money"
)

// ApplyCredit re-checks each credit line against the invoice's current
// outstanding amounts and decrements them in place. Lines are applied in
// order, so a later line sees the document bound left by earlier ones. The
// invoice must be a private copy; it is partially modified on error.
func ApplyCredit(inv *domain.Invoice, lines []domain.CreditNoteLine) (money.Money, error) {
	if inv.Status == domain.InvoiceStatusVoid || len(lines) == 0 {
		return money.Money{}, ErrInvalidRequest
	}

	total := money.Zero(inv.Currency)
	for _, line := range lines {
		if line.Amount.IsNegative() || !line.Amount.SameCurrency(total) {
			return money.Money{}, ErrInvalidRequest
		}
		idx := slices.IndexFunc(inv.Lines, func(l domain.InvoiceLine) bool { return l.ID == line.InvoiceLineID })
		if idx < 0 {
			return money.Money{}, ErrNotFound
		}
		target := &inv.Lines[idx]
		bounds := creditnote.ComputeBounds(target.Creditable(), creditnote.CreditableDocument{
			ID:                inv.ID,
			OutstandingAmount: inv.OutstandingAmount,
		})
		if line.Amount.GreaterThan(bounds.MaxCreditable) {
			return money.Money{}, ErrConflict
		}
		if line.Quantity != nil {
			if *line.Quantity < 1 {
				return money.Money{}, ErrInvalidRequest
			}
			if *line.Quantity > target.OutstandingQuantity {
				return money.Money{}, ErrConflict
			}
			target.OutstandingQuantity -= *line.Quantity
		}
		target.OutstandingAmount = target.OutstandingAmount.Sub(line.Amount)
		inv.OutstandingAmount = inv.OutstandingAmount.Sub(line.Amount)
		total = total.Add(line.Amount)
	}
	if inv.OutstandingAmount.IsZero() {
		inv.Status = domain.InvoiceStatusCredited
	}
	return total, nil
}
