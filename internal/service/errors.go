package service

import (
	"errors"
	"fmt"

	"openinvoice/backend/internal/creditnote"
	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/numbering"
	"openinvoice/backend/internal/pricing"
)

var ErrForbidden = errors.New("admin role required")

const (
	CodeUnknownCurrency    = "unknown_currency"
	CodeInvalidModel       = "invalid_model"
	CodeInvalidAmount      = "invalid_amount"
	CodeNegativeAmount     = "negative_amount"
	CodeRequired           = "required"
	CodeInvalidSchedule    = "invalid_schedule"
	CodeTiersNotAllowed    = "tiers_not_allowed"
	CodeCannotRemove       = "cannot_remove"
	CodeIndexOutOfRange    = "index_out_of_range"
	CodeLastTierBoundary   = "last_tier_boundary"
	CodeMissingBoundary    = "missing_boundary"
	CodeBoundaryBelowStart = "boundary_below_start"
	CodeNotTiered          = "not_tiered"
	CodeBoundaryOverflow   = "boundary_overflow"
	CodeInvalidTemplate    = "invalid_template"
	CodeInvalidDocType     = "invalid_document_type"
)

// Issue is a validation failure reported back to the caller. Credit issues
// carry the line they belong to and, for bound violations, the limits.
type Issue struct {
	LineID              string             `json:"line_id,omitempty"`
	Index               *int               `json:"index,omitempty"`
	Code                string             `json:"code"`
	Field               string             `json:"field"`
	Message             string             `json:"message"`
	Bounds              *creditnote.Bounds `json:"bounds,omitempty"`
	ImpliedAmount       *money.Money       `json:"implied_amount,omitempty"`
	OutstandingQuantity *int64             `json:"outstanding_quantity,omitempty"`
}

type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	if len(e.Issues) == 1 {
		return "validation failed: " + e.Issues[0].Message
	}
	return fmt.Sprintf("validation failed: %s (and %d more)", e.Issues[0].Message, len(e.Issues)-1)
}

func creditIssue(lineID string, index int, issue creditnote.Issue) Issue {
	idx := index
	return Issue{
		LineID:              lineID,
		Index:               &idx,
		Code:                string(issue.Code),
		Field:               issue.Field,
		Message:             issue.Message,
		Bounds:              issue.Bounds,
		ImpliedAmount:       issue.ImpliedAmount,
		OutstandingQuantity: issue.OutstandingQuantity,
	}
}

func fieldIssues(issues []domain.FieldIssue) []Issue {
	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		out = append(out, Issue{Code: issue.Code, Field: issue.Field, Message: issue.Message})
	}
	return out
}

// tierIssue translates a tier-builder precondition error into an issue.
func tierIssue(err error) domain.FieldIssue {
	code := CodeInvalidSchedule
	switch {
	case errors.Is(err, pricing.ErrCannotRemove):
		code = CodeCannotRemove
	case errors.Is(err, pricing.ErrIndexOutOfRange):
		code = CodeIndexOutOfRange
	case errors.Is(err, pricing.ErrLastTierBoundary):
		code = CodeLastTierBoundary
	case errors.Is(err, pricing.ErrMissingBoundary):
		code = CodeMissingBoundary
	case errors.Is(err, pricing.ErrBoundaryBelowStart):
		code = CodeBoundaryBelowStart
	case errors.Is(err, pricing.ErrNotTiered):
		code = CodeNotTiered
	case errors.Is(err, pricing.ErrBoundaryOverflow):
		code = CodeBoundaryOverflow
	}
	return domain.FieldIssue{Code: code, Field: "tiers", Message: err.Error()}
}

func templateIssue(err error) domain.FieldIssue {
	field := "template"
	if errors.Is(err, numbering.ErrInvalidSequence) {
		field = "next_sequence"
	}
	return domain.FieldIssue{Code: CodeInvalidTemplate, Field: field, Message: err.Error()}
}
