package service

import (
	"context"
	"fmt"
	"strings"

	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/numbering"
	"openinvoice/backend/internal/xid"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 50
)

// PreviewNumbering renders upcoming document numbers for a draft template.
func (s *Service) PreviewNumbering(_ context.Context, req domain.NumberingPreviewRequest) domain.NumberingPreviewResponse {
	resp := domain.NumberingPreviewResponse{
		Template: strings.TrimSpace(req.Template),
		Numbers:  []string{},
		Issues:   []domain.FieldIssue{},
	}

	count := req.Count
	if count < 1 {
		count = defaultPreviewCount
	}
	if count > maxPreviewCount {
		count = maxPreviewCount
	}
	at := s.now()
	if req.At != nil {
		at = req.At.UTC()
	}
	next := req.NextSequence
	if next == 0 {
		next = 1
	}

	numbers, err := numbering.Preview(resp.Template, next, at, count)
	if err != nil {
		resp.Issues = append(resp.Issues, templateIssue(err))
		return resp
	}
	resp.Numbers = numbers
	return resp
}

func (s *Service) CreateNumberingSystem(ctx context.Context, req domain.NumberingSystemCreateRequest) (domain.NumberingSystem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.NumberingSystem{}, err
	}

	system := domain.NumberingSystem{
		Name:         strings.TrimSpace(req.Name),
		DocumentType: strings.ToLower(strings.TrimSpace(req.DocumentType)),
		Template:     strings.TrimSpace(req.Template),
		NextSequence: req.NextSequence,
	}
	if system.NextSequence == 0 {
		system.NextSequence = 1
	}

	var issues []domain.FieldIssue
	if system.Name == "" {
		issues = append(issues, domain.FieldIssue{Code: CodeRequired, Field: "name", Message: "name is required"})
	}
	switch system.DocumentType {
	case domain.DocumentTypeInvoice, domain.DocumentTypeQuote, domain.DocumentTypeCreditNote:
	default:
		issues = append(issues, domain.FieldIssue{
			Code:    CodeInvalidDocType,
			Field:   "document_type",
			Message: fmt.Sprintf("unknown document type %q", req.DocumentType),
		})
	}
	if _, err := numbering.Preview(system.Template, system.NextSequence, s.now(), 1); err != nil {
		issues = append(issues, templateIssue(err))
	}
	if len(issues) > 0 {
		return domain.NumberingSystem{}, &ValidationError{Issues: fieldIssues(issues)}
	}

	system.ID = xid.New("num")
	system.CreatedAt = s.now()
	created, err := s.repo.CreateNumberingSystem(ctx, system)
	if err != nil {
		return domain.NumberingSystem{}, err
	}

	s.logAudit(ctx, "numbering_create", "numbering_system", created.ID, fmt.Sprintf("name=%s,template=%s", created.Name, created.Template))
	return *created, nil
}

// GetNumberingSystem returns a stored system with the number it will assign
// next, rendered for the current date.
func (s *Service) GetNumberingSystem(ctx context.Context, id string) (domain.NumberingSystemResponse, error) {
	system, err := s.repo.GetNumberingSystem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.NumberingSystemResponse{}, err
	}
	tpl, err := numbering.Parse(system.Template)
	if err != nil {
		return domain.NumberingSystemResponse{}, fmt.Errorf("stored template %q: %w", system.Template, err)
	}
	return domain.NumberingSystemResponse{
		NumberingSystem: *system,
		NextNumber:      tpl.Render(system.NextSequence, s.now()),
	}, nil
}

func (s *Service) ListNumberingSystems(ctx context.Context) ([]domain.NumberingSystem, error) {
	return s.repo.ListNumberingSystems(ctx)
}
