package service

import (
	"context"
	"fmt"
	"strings"

	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/events"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/pricing"
	"openinvoice/backend/internal/store"
	"openinvoice/backend/internal/xid"
)

// EditTiers applies one tier-builder operation to a working schedule and
// returns the result. A refused operation leaves the schedule unchanged and
// reports why in Issues.
func (s *Service) EditTiers(ctx context.Context, req domain.TierEditRequest) (domain.TierEditResponse, error) {
	currency := req.Currency.Normalize()
	if _, err := money.Default().Lookup(currency); err != nil {
		return s.rejectTierEdit(req.Op, domain.TierEditResponse{
			Schedule: req.Schedule,
			Currency: currency,
			Issues: []domain.FieldIssue{{
				Code: CodeUnknownCurrency, Field: "currency", Message: err.Error(),
			}},
		}), nil
	}

	schedule := pricing.OnCurrencyChange(req.Schedule, currency)
	flat := money.Zero(currency)
	if raw := strings.TrimSpace(req.FlatAmount.String()); raw != "" {
		parsed, err := money.Parse(currency, raw)
		if err != nil {
			return s.rejectTierEdit(req.Op, domain.TierEditResponse{
				Schedule: schedule,
				Currency: currency,
				Issues: []domain.FieldIssue{{
					Code: CodeInvalidAmount, Field: "flat_amount", Message: err.Error(),
				}},
			}), nil
		}
		flat = parsed.Sanitize()
	}

	resp := domain.TierEditResponse{
		Schedule:   schedule,
		FlatAmount: flat,
		Currency:   currency,
		Issues:     []domain.FieldIssue{},
	}

	op := strings.ToLower(strings.TrimSpace(req.Op))
	if editNeedsValidSchedule(op, req.Model, schedule) {
		if err := pricing.Validate(schedule); err != nil {
			resp.Issues = append(resp.Issues, tierIssue(err))
			return s.rejectTierEdit(req.Op, resp), nil
		}
	}

	var (
		next pricing.Schedule
		err  error
	)
	switch op {
	case domain.TierOpModel:
		if !req.Model.Valid() {
			resp.Issues = append(resp.Issues, domain.FieldIssue{
				Code: CodeInvalidModel, Field: "model", Message: fmt.Sprintf("unknown pricing model %q", req.Model),
			})
			return s.rejectTierEdit(req.Op, resp), nil
		}
		resp.Schedule, resp.FlatAmount = pricing.OnModelChange(req.Model, schedule, flat, money.Zero(currency))
		s.metrics.TierEdits.WithLabelValues(domain.TierOpModel, "ok").Inc()
		return resp, nil
	case domain.TierOpBoundary:
		next, err = pricing.OnTierBoundaryChange(schedule, req.Index, req.ToValue)
	case domain.TierOpCreate:
		next, err = pricing.OnTierCreate(schedule)
	case domain.TierOpRemove:
		next, err = pricing.OnTierRemove(schedule, req.Index)
	case domain.TierOpCurrency:
		target := req.NewCurrency.Normalize()
		if _, lookupErr := money.Default().Lookup(target); lookupErr != nil {
			resp.Issues = append(resp.Issues, domain.FieldIssue{
				Code: CodeUnknownCurrency, Field: "new_currency", Message: lookupErr.Error(),
			})
			return s.rejectTierEdit(req.Op, resp), nil
		}
		resp.Schedule = pricing.OnCurrencyChange(schedule, target)
		resp.FlatAmount = flat.In(target)
		resp.Currency = target
		s.metrics.TierEdits.WithLabelValues(domain.TierOpCurrency, "ok").Inc()
		return resp, nil
	default:
		return domain.TierEditResponse{}, fmt.Errorf("%w: unknown tier operation %q", store.ErrInvalidRequest, req.Op)
	}

	if err != nil {
		resp.Issues = append(resp.Issues, tierIssue(err))
		return s.rejectTierEdit(req.Op, resp), nil
	}
	resp.Schedule = next
	s.metrics.TierEdits.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

// editNeedsValidSchedule reports whether op works on the submitted tiers.
// Seeding a tiered model from an empty schedule and switching to flat do not.
func editNeedsValidSchedule(op string, model pricing.Model, schedule pricing.Schedule) bool {
	switch op {
	case domain.TierOpBoundary, domain.TierOpCreate, domain.TierOpRemove, domain.TierOpCurrency:
		return true
	case domain.TierOpModel:
		return model.Tiered() && len(schedule) > 0
	default:
		return false
	}
}

func (s *Service) rejectTierEdit(op string, resp domain.TierEditResponse) domain.TierEditResponse {
	if resp.Issues == nil {
		resp.Issues = []domain.FieldIssue{}
	}
	label := strings.ToLower(strings.TrimSpace(op))
	switch label {
	case domain.TierOpModel, domain.TierOpBoundary, domain.TierOpCreate, domain.TierOpRemove, domain.TierOpCurrency:
	default:
		label = "unknown"
	}
	s.metrics.TierEdits.WithLabelValues(label, "rejected").Inc()
	return resp
}

func (s *Service) CreatePrice(ctx context.Context, input domain.PriceInput) (domain.Price, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Price{}, err
	}

	price, issues := buildPrice(input)
	if len(issues) > 0 {
		return domain.Price{}, &ValidationError{Issues: fieldIssues(issues)}
	}
	now := s.now()
	price.ID = xid.New("price")
	price.CreatedAt = now
	price.UpdatedAt = now

	created, err := s.repo.CreatePrice(ctx, price)
	if err != nil {
		return domain.Price{}, err
	}

	s.publish(ctx, events.PriceSaved, created)
	s.logAudit(ctx, "price_create", "price", created.ID, fmt.Sprintf("product=%s,model=%s,tiers=%d", created.ProductID, created.Model, len(created.Tiers)))
	return *created, nil
}

func (s *Service) UpdatePrice(ctx context.Context, id string, input domain.PriceInput) (domain.Price, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Price{}, err
	}

	existing, err := s.repo.GetPrice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Price{}, err
	}
	price, issues := buildPrice(input)
	if len(issues) > 0 {
		return domain.Price{}, &ValidationError{Issues: fieldIssues(issues)}
	}
	price.ID = existing.ID
	price.CreatedAt = existing.CreatedAt
	price.UpdatedAt = s.now()

	updated, err := s.repo.UpdatePrice(ctx, price)
	if err != nil {
		return domain.Price{}, err
	}

	s.publish(ctx, events.PriceSaved, updated)
	s.logAudit(ctx, "price_update", "price", updated.ID, fmt.Sprintf("product=%s,model=%s,tiers=%d", updated.ProductID, updated.Model, len(updated.Tiers)))
	return *updated, nil
}

func (s *Service) GetPrice(ctx context.Context, id string) (domain.Price, error) {
	price, err := s.repo.GetPrice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Price{}, err
	}
	return *price, nil
}

func (s *Service) ListPrices(ctx context.Context, productID string) ([]domain.Price, error) {
	return s.repo.ListPrices(ctx, strings.TrimSpace(productID))
}

// buildPrice normalizes input into a price and collects every problem found.
func buildPrice(input domain.PriceInput) (domain.Price, []domain.FieldIssue) {
	var issues []domain.FieldIssue
	price := domain.Price{
		ProductID: strings.TrimSpace(input.ProductID),
		Nickname:  strings.TrimSpace(input.Nickname),
		Model:     pricing.Model(strings.ToLower(strings.TrimSpace(string(input.Model)))),
		Currency:  input.Currency.Normalize(),
		Active:    true,
	}
	if input.Active != nil {
		price.Active = *input.Active
	}

	if price.ProductID == "" {
		issues = append(issues, domain.FieldIssue{Code: CodeRequired, Field: "product_id", Message: "product_id is required"})
	}
	if _, err := money.Default().Lookup(price.Currency); err != nil {
		issues = append(issues, domain.FieldIssue{Code: CodeUnknownCurrency, Field: "currency", Message: err.Error()})
		return price, issues
	}
	if !price.Model.Valid() {
		issues = append(issues, domain.FieldIssue{Code: CodeInvalidModel, Field: "model", Message: fmt.Sprintf("unknown pricing model %q", input.Model)})
		return price, issues
	}

	price.FlatAmount = money.Zero(price.Currency)
	if raw := strings.TrimSpace(input.FlatAmount.String()); raw != "" {
		flat, err := money.Parse(price.Currency, raw)
		switch {
		case err != nil:
			issues = append(issues, domain.FieldIssue{Code: CodeInvalidAmount, Field: "flat_amount", Message: err.Error()})
		case flat.IsNegative():
			issues = append(issues, domain.FieldIssue{Code: CodeNegativeAmount, Field: "flat_amount", Message: "flat_amount must not be negative"})
		default:
			price.FlatAmount = flat.Sanitize()
		}
	}

	if !price.Model.Tiered() {
		if len(input.Tiers) > 0 {
			issues = append(issues, domain.FieldIssue{Code: CodeTiersNotAllowed, Field: "tiers", Message: "flat prices cannot carry tiers"})
		}
		return price, issues
	}

	tiers := pricing.OnCurrencyChange(input.Tiers, price.Currency)
	if err := pricing.Validate(tiers); err != nil {
		issues = append(issues, tierIssue(err))
	}
	for i, tier := range tiers {
		if tier.UnitAmount.IsNegative() {
			issues = append(issues, domain.FieldIssue{
				Code:    CodeNegativeAmount,
				Field:   fmt.Sprintf("tiers[%d].unit_amount", i),
				Message: "unit amount must not be negative",
			})
		}
	}
	price.Tiers = tiers
	return price, issues
}
