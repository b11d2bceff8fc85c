// Package creditnote computes how much of an invoice line may be credited and
// pre-validates proposed credits before they are submitted.
package creditnote

import "openinvoice/backend/internal/money"

// CreditableLine is a read-only snapshot of one original document line.
type CreditableLine struct {
	ID                  string      `json:"id"`
	Description         string      `json:"description,omitempty"`
	OutstandingAmount   money.Money `json:"outstanding_amount"`
	TotalTaxAmount      money.Money `json:"total_tax_amount"`
	TotalDiscountAmount money.Money `json:"total_discount_amount"`
	OutstandingQuantity int64       `json:"outstanding_quantity"`
	UnitAmount          money.Money `json:"unit_amount"`
}

// CreditableDocument is the parent document being credited against.
type CreditableDocument struct {
	ID                string      `json:"id"`
	OutstandingAmount money.Money `json:"outstanding_amount"`
}

// Bounds keeps each limiting value so callers can explain which one binds.
type Bounds struct {
	MaxCreditable money.Money `json:"max_creditable"`
	LineBound     money.Money `json:"line_bound"`
	DocumentBound money.Money `json:"document_bound"`
}

// LineBound backs tax out of the outstanding amount and adds the discount
// back in. This mirrors how the billing backend reports line outstanding
// amounts today and should be revisited if that reporting changes upstream.
func LineBound(line CreditableLine) money.Money {
	return line.OutstandingAmount.
		Sub(line.TotalTaxAmount).
		Add(line.TotalDiscountAmount)
}

func ComputeBounds(line CreditableLine, document CreditableDocument) Bounds {
	lineBound := LineBound(line)
	return Bounds{
		MaxCreditable: lineBound.Min(document.OutstandingAmount),
		LineBound:     lineBound,
		DocumentBound: document.OutstandingAmount,
	}
}

// ComputeMaxCreditable returns the inclusive upper bound for a credit on line.
func ComputeMaxCreditable(line CreditableLine, document CreditableDocument) money.Money {
	return ComputeBounds(line, document).MaxCreditable
}
