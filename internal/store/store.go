package store

import (
	"context"
	"errors"
	"time"

	"openinvoice/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConflict reports that persisted outstanding amounts changed and no
	// longer cover a credit.
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ListInvoices(ctx context.Context, status string, limit int) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	CreateCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error)
	ListCreditNotes(ctx context.Context, invoiceID string, limit int) ([]domain.CreditNote, error)
	CreatePrice(ctx context.Context, price domain.Price) (*domain.Price, error)
	UpdatePrice(ctx context.Context, price domain.Price) (*domain.Price, error)
	GetPrice(ctx context.Context, id string) (*domain.Price, error)
	ListPrices(ctx context.Context, productID string) ([]domain.Price, error)
	CreateNumberingSystem(ctx context.Context, system domain.NumberingSystem) (*domain.NumberingSystem, error)
	ListNumberingSystems(ctx context.Context) ([]domain.NumberingSystem, error)
	GetNumberingSystem(ctx context.Context, id string) (*domain.NumberingSystem, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
