package cache

import (
	"context"
	"time"

	"openinvoice/backend/internal/domain"
)

// SnapshotCache holds creditable invoice snapshots keyed by invoice ID.
type SnapshotCache interface {
	Get(ctx context.Context, invoiceID string) (*domain.CreditableInvoice, bool, error)
	Set(ctx context.Context, invoiceID string, value *domain.CreditableInvoice, ttl time.Duration) error
	Invalidate(ctx context.Context, invoiceID string) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) (*domain.CreditableInvoice, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ *domain.CreditableInvoice, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func snapshotKey(invoiceID string) string {
	return "openinvoice:creditable:" + invoiceID
}
