package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"openinvoice/backend/internal/cache"
	"openinvoice/backend/internal/creditnote"
	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/events"
	"openinvoice/backend/internal/metrics"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/store"
	"openinvoice/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Snapshots   cache.SnapshotCache
	SnapshotTTL time.Duration
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
}

type Service struct {
	repo        store.Repository
	snapshots   cache.SnapshotCache
	snapshotTTL time.Duration
	publisher   events.Publisher
	metrics     *metrics.Metrics
	log         *logrus.Entry
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Snapshots == nil {
		opts.Snapshots = cache.NoopSnapshotCache{}
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 30 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = events.LogPublisher{Logger: logger}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Service{
		repo:        repo,
		snapshots:   opts.Snapshots,
		snapshotTTL: opts.SnapshotTTL,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		log:         logger.WithField("component", "service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListInvoices(ctx context.Context, status string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListInvoices(ctx, status, limit)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

// CreditableSnapshot returns the creditable view of an invoice, served from
// the snapshot cache when possible.
func (s *Service) CreditableSnapshot(ctx context.Context, invoiceID string) (domain.CreditableInvoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.CreditableInvoice{}, store.ErrInvalidRequest
	}

	cached, ok, err := s.snapshots.Get(ctx, invoiceID)
	switch {
	case err != nil:
		s.metrics.SnapshotCacheLookup.WithLabelValues("error").Inc()
		s.log.WithError(err).WithField("invoice_id", invoiceID).Warn("snapshot cache read failed")
	case ok:
		s.metrics.SnapshotCacheLookup.WithLabelValues("hit").Inc()
		return *cached, nil
	default:
		s.metrics.SnapshotCacheLookup.WithLabelValues("miss").Inc()
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.CreditableInvoice{}, err
	}
	snapshot := inv.Creditable(s.now())
	if err := s.snapshots.Set(ctx, invoiceID, &snapshot, s.snapshotTTL); err != nil {
		s.log.WithError(err).WithField("invoice_id", invoiceID).Warn("snapshot cache write failed")
	}
	return snapshot, nil
}

// PreviewCreditLine computes the bounds for one line and validates the
// proposed credit against them. Validation failures are part of the response.
func (s *Service) PreviewCreditLine(ctx context.Context, invoiceID string, input domain.CreditLineInput) (domain.CreditLinePreviewResponse, error) {
	snapshot, err := s.CreditableSnapshot(ctx, invoiceID)
	if err != nil {
		return domain.CreditLinePreviewResponse{}, err
	}
	line, ok := snapshot.Line(strings.TrimSpace(input.LineID))
	if !ok {
		return domain.CreditLinePreviewResponse{}, fmt.Errorf("invoice line %q: %w", input.LineID, store.ErrNotFound)
	}

	bounds := creditnote.ComputeBounds(line, snapshot.Document)
	resp := domain.CreditLinePreviewResponse{
		InvoiceID: snapshot.Document.ID,
		LineID:    line.ID,
		Bounds:    bounds,
		Issues:    []creditnote.Issue{},
	}

	request, issue, err := creditRequestFromInput(input, snapshot.Currency)
	if err != nil {
		return domain.CreditLinePreviewResponse{}, err
	}
	if issue != nil {
		resp.Issues = append(resp.Issues, *issue)
		s.countValidation(resp.Issues)
		return resp, nil
	}

	result := creditnote.ValidateCreditRequest(request, line, bounds)
	s.countValidation(result.Issues)
	if !result.OK() {
		resp.Issues = result.Issues
		return resp, nil
	}
	amount := creditnote.ResolveAmount(request, line)
	resp.CreditAmount = &amount
	resp.Valid = true
	return resp, nil
}

// IssueCreditNote validates every line against a fresh read of the invoice
// and persists the note. Lines are checked in order and each accepted line
// shrinks the bounds seen by the lines after it.
func (s *Service) IssueCreditNote(ctx context.Context, invoiceID string, req domain.CreditNoteCreateRequest) (domain.CreditNote, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CreditNote{}, ErrForbidden
	}
	if len(req.Lines) == 0 {
		return domain.CreditNote{}, fmt.Errorf("%w: at least one line is required", store.ErrInvalidRequest)
	}

	inv, err := s.repo.GetInvoice(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		return domain.CreditNote{}, err
	}
	if inv.Status == domain.InvoiceStatusVoid {
		return domain.CreditNote{}, fmt.Errorf("%w: void invoice cannot be credited", store.ErrInvalidRequest)
	}

	snapshot := inv.Creditable(s.now())
	document := snapshot.Document
	working := make(map[string]creditnote.CreditableLine, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		working[line.ID] = line
	}

	var issues []Issue
	noteLines := make([]domain.CreditNoteLine, 0, len(req.Lines))
	for i, input := range req.Lines {
		lineID := strings.TrimSpace(input.LineID)
		line, ok := working[lineID]
		if !ok {
			return domain.CreditNote{}, fmt.Errorf("invoice line %q: %w", input.LineID, store.ErrNotFound)
		}

		request, issue, err := creditRequestFromInput(input, snapshot.Currency)
		if err != nil {
			return domain.CreditNote{}, err
		}
		if issue != nil {
			s.countValidation([]creditnote.Issue{*issue})
			issues = append(issues, creditIssue(lineID, i, *issue))
			continue
		}

		bounds := creditnote.ComputeBounds(line, document)
		result := creditnote.ValidateCreditRequest(request, line, bounds)
		s.countValidation(result.Issues)
		if !result.OK() {
			for _, issue := range result.Issues {
				issues = append(issues, creditIssue(lineID, i, issue))
			}
			continue
		}

		amount := creditnote.ResolveAmount(request, line)
		if amount.IsZero() {
			continue
		}
		noteLine := domain.CreditNoteLine{InvoiceLineID: lineID, Amount: amount}
		if byQty, ok := request.(creditnote.ByQuantity); ok {
			qty := byQty.Quantity
			noteLine.Quantity = &qty
			line.OutstandingQuantity -= qty
		}
		line.OutstandingAmount = line.OutstandingAmount.Sub(amount)
		working[lineID] = line
		document.OutstandingAmount = document.OutstandingAmount.Sub(amount)
		noteLines = append(noteLines, noteLine)
	}
	if len(issues) > 0 {
		return domain.CreditNote{}, &ValidationError{Issues: issues}
	}
	if len(noteLines) == 0 {
		return domain.CreditNote{}, fmt.Errorf("%w: credit note total is zero", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateCreditNote(ctx, domain.CreditNote{
		ID:        xid.New("cn"),
		InvoiceID: inv.ID,
		Currency:  inv.Currency,
		Reason:    strings.TrimSpace(req.Reason),
		Status:    domain.CreditNoteStatusIssued,
		CreatedBy: actor.Username,
		CreatedAt: s.now(),
		Lines:     noteLines,
	})
	if err != nil {
		return domain.CreditNote{}, err
	}

	if err := s.snapshots.Invalidate(ctx, inv.ID); err != nil {
		s.log.WithError(err).WithField("invoice_id", inv.ID).Warn("snapshot cache invalidate failed")
	}
	s.metrics.CreditNotesIssued.Inc()
	s.publish(ctx, events.CreditNoteIssued, created)
	s.logAudit(ctx, "credit_note_issue", "invoice", inv.ID, fmt.Sprintf("credit_note=%s,total=%s,lines=%d", created.ID, created.TotalAmount.Format(), len(created.Lines)))

	return *created, nil
}

func (s *Service) ListCreditNotes(ctx context.Context, invoiceID string, limit int) ([]domain.CreditNote, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListCreditNotes(ctx, strings.TrimSpace(invoiceID), limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		to = s.now().Add(time.Second)
		from = to.Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRequest
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// creditRequestFromInput builds the tagged credit request from raw form
// input. Malformed quantities become issues; a request naming both or
// neither mode is rejected outright.
func creditRequestFromInput(input domain.CreditLineInput, currency money.Currency) (creditnote.CreditRequest, *creditnote.Issue, error) {
	hasAmount := input.Amount != nil && strings.TrimSpace(input.Amount.String()) != ""
	hasQuantity := input.Quantity != nil && strings.TrimSpace(input.Quantity.String()) != ""

	switch {
	case hasAmount && hasQuantity:
		return nil, nil, fmt.Errorf("%w: provide either amount or quantity, not both", store.ErrInvalidRequest)
	case hasAmount:
		amount, err := money.Parse(currency, input.Amount.String())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", store.ErrInvalidRequest, err)
		}
		return creditnote.ByAmount{Amount: amount.Sanitize()}, nil, nil
	case hasQuantity:
		qty, issue := creditnote.ParseQuantity(input.Quantity.String())
		if issue != nil {
			return nil, issue, nil
		}
		return creditnote.ByQuantity{Quantity: qty}, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: amount or quantity is required", store.ErrInvalidRequest)
	}
}

func (s *Service) countValidation(issues []creditnote.Issue) {
	if len(issues) == 0 {
		s.metrics.CreditValidations.WithLabelValues("ok").Inc()
		return
	}
	for _, issue := range issues {
		s.metrics.CreditValidations.WithLabelValues(string(issue.Code)).Inc()
	}
}

func (s *Service) publish(ctx context.Context, routingKey string, payload any) {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, routingKey, payload); err != nil {
		s.log.WithError(err).WithField("routing_key", routingKey).Warn("failed to publish event")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
