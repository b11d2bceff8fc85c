package creditnote

import (
	"fmt"
	"strconv"
	"strings"

	"openinvoice/backend/internal/money"
)

type Code string

const (
	CodeNegativeAmount             Code = "negative_amount"
	CodeInvalidQuantity            Code = "invalid_quantity"
	CodeAmountExceedsLimit         Code = "amount_exceeds_limit"
	CodeComputedAmountExceedsLimit Code = "computed_amount_exceeds_limit"
	CodeQuantityExceedsOutstanding Code = "quantity_exceeds_outstanding"
	CodeMissingRequest             Code = "missing_request"
)

const (
	FieldAmount   = "amount"
	FieldQuantity = "quantity"
	FieldRequest  = "request"
)

// Issue is one field-scoped validation failure. Bound violations carry the
// limiting values.
type Issue struct {
	Code                Code         `json:"code"`
	Field               string       `json:"field"`
	Message             string       `json:"message"`
	Bounds              *Bounds      `json:"bounds,omitempty"`
	ImpliedAmount       *money.Money `json:"implied_amount,omitempty"`
	OutstandingQuantity *int64       `json:"outstanding_quantity,omitempty"`
}

type Result struct {
	Issues []Issue `json:"issues"`
}

func (r Result) OK() bool { return len(r.Issues) == 0 }

func (r *Result) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// CreditRequest is either ByAmount or ByQuantity.
type CreditRequest interface {
	creditRequest()
}

type ByAmount struct {
	Amount money.Money
}

type ByQuantity struct {
	Quantity int64
}

func (ByAmount) creditRequest()   {}
func (ByQuantity) creditRequest() {}

// ValidateCreditRequest checks request against the line and its bounds.
// Expected failures come back as issues, never as errors.
func ValidateCreditRequest(request CreditRequest, line CreditableLine, bounds Bounds) Result {
	var result Result

	switch req := request.(type) {
	case ByAmount:
		if req.Amount.IsNegative() {
			result.add(Issue{
				Code:    CodeNegativeAmount,
				Field:   FieldAmount,
				Message: "amount must not be negative",
			})
			return result
		}
		if req.Amount.GreaterThan(bounds.MaxCreditable) {
			b := bounds
			result.add(Issue{
				Code:    CodeAmountExceedsLimit,
				Field:   FieldAmount,
				Message: fmt.Sprintf("amount %s exceeds the creditable maximum of %s", req.Amount, describeBounds(bounds)),
				Bounds:  &b,
			})
		}
	case ByQuantity:
		if req.Quantity < 0 {
			result.add(invalidQuantity())
			return result
		}
		if req.Quantity > line.OutstandingQuantity {
			outstanding := line.OutstandingQuantity
			result.add(Issue{
				Code:                CodeQuantityExceedsOutstanding,
				Field:               FieldQuantity,
				Message:             fmt.Sprintf("quantity %d exceeds the outstanding quantity of %d", req.Quantity, outstanding),
				OutstandingQuantity: &outstanding,
			})
		}
		implied := line.UnitAmount.Mul(req.Quantity)
		if implied.GreaterThan(bounds.MaxCreditable) {
			b := bounds
			result.add(Issue{
				Code:          CodeComputedAmountExceedsLimit,
				Field:         FieldQuantity,
				Message:       fmt.Sprintf("quantity %d credits %s which exceeds the creditable maximum of %s", req.Quantity, implied, describeBounds(bounds)),
				Bounds:        &b,
				ImpliedAmount: &implied,
			})
		}
	default:
		result.add(Issue{
			Code:    CodeMissingRequest,
			Field:   FieldRequest,
			Message: "either amount or quantity must be provided",
		})
	}

	return result
}

// ResolveAmount is the amount a valid request credits.
func ResolveAmount(request CreditRequest, line CreditableLine) money.Money {
	switch req := request.(type) {
	case ByAmount:
		return req.Amount
	case ByQuantity:
		return line.UnitAmount.Mul(req.Quantity)
	default:
		return money.Zero(line.UnitAmount.Currency())
	}
}

// ParseQuantity converts raw form input into a quantity. Anything that is not
// a non-negative whole number yields an InvalidQuantity issue.
func ParseQuantity(raw string) (int64, *Issue) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		issue := invalidQuantity()
		return 0, &issue
	}
	qty, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || qty < 0 {
		issue := invalidQuantity()
		return 0, &issue
	}
	return qty, nil
}

func invalidQuantity() Issue {
	return Issue{
		Code:    CodeInvalidQuantity,
		Field:   FieldQuantity,
		Message: "quantity must be a non-negative whole number",
	}
}

func describeBounds(b Bounds) string {
	return fmt.Sprintf("%s (line limit %s, document outstanding %s)", b.MaxCreditable, b.LineBound, b.DocumentBound)
}
