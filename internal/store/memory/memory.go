package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/numbering"
	"openinvoice/backend/internal/pricing"
	"openinvoice/backend/internal/store"
	"openinvoice/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	invoicesByID    map[string]domain.Invoice
	creditNotesByID map[string]domain.CreditNote
	pricesByID      map[string]domain.Price
	numberingByID   map[string]domain.NumberingSystem
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_MEMBER_PASSWORD.
// If unset, dev defaults are used with a warning. These credentials are never
// used in production (the server uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	memberPwd := envOr("SEED_MEMBER_PASSWORD", "member123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MEMBER_PASSWORD") == "" {
		logrus.WithField("component", "memory-store").Warn("using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_MEMBER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"member", memberPwd, domain.RoleMember},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithField("component", "memory-store").Fatalf("failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seedLine(invoiceID string, id string, desc string, currency money.Currency, qty int64, unit string, tax string, discount string) domain.InvoiceLine {
	unitAmount := money.MustParse(currency, unit)
	taxAmount := money.MustParse(currency, tax)
	discountAmount := money.MustParse(currency, discount)
	total := unitAmount.Mul(qty).Add(taxAmount).Sub(discountAmount)
	return domain.InvoiceLine{
		ID:                  id,
		InvoiceID:           invoiceID,
		Description:         desc,
		Quantity:            qty,
		UnitAmount:          unitAmount,
		TotalTaxAmount:      taxAmount,
		TotalDiscountAmount: discountAmount,
		TotalAmount:         total,
		OutstandingAmount:   total,
		OutstandingQuantity: qty,
	}
}

func seedInvoice(id string, number string, customer string, currency money.Currency, paid string, lines ...domain.InvoiceLine) domain.Invoice {
	total := money.Zero(currency)
	for _, line := range lines {
		total = total.Add(line.TotalAmount)
	}
	return domain.Invoice{
		ID:                id,
		Number:            number,
		CustomerID:        "cus_" + strings.ToLower(strings.ReplaceAll(customer, " ", "_")),
		CustomerName:      customer,
		Currency:          currency,
		Status:            domain.InvoiceStatusOpen,
		TotalAmount:       total,
		OutstandingAmount: total.Sub(money.MustParse(currency, paid)),
		IssuedAt:          time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
		Lines:             lines,
	}
}

func seedPrices(now time.Time) []domain.Price {
	bounded := func(v int64) *int64 { return &v }
	eur := money.Currency("EUR")
	return []domain.Price{
		{
			ID:         "price_hosting_flat",
			ProductID:  "prod_hosting",
			Nickname:   "Hosting monthly",
			Model:      pricing.ModelFlat,
			Currency:   eur,
			FlatAmount: money.MustParse(eur, "50.00"),
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			ID:         "price_api_volume",
			ProductID:  "prod_api_calls",
			Nickname:   "API calls",
			Model:      pricing.ModelVolume,
			Currency:   eur,
			FlatAmount: money.Zero(eur),
			Tiers: pricing.Schedule{
				{FromValue: 0, ToValue: bounded(1000), UnitAmount: money.MustParse(eur, "0.05")},
				{FromValue: 1001, ToValue: bounded(10000), UnitAmount: money.MustParse(eur, "0.03")},
				{FromValue: 10001, UnitAmount: money.MustParse(eur, "0.01")},
			},
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	eur := money.Currency("EUR")
	jpy := money.Currency("JPY")

	invoices := []domain.Invoice{
		seedInvoice("inv_demo_consulting", "INV-2026-0001", "Acme Studio", eur, "0.00",
			seedLine("inv_demo_consulting", "line_consulting", "Consulting hours", eur, 10, "20.00", "38.00", "10.00"),
			seedLine("inv_demo_consulting", "line_hosting", "Hosting", eur, 1, "50.00", "10.50", "0.00"),
		),
		seedInvoice("inv_demo_partial", "INV-2026-0002", "Northwind", eur, "60.00",
			seedLine("inv_demo_partial", "line_workshop", "Workshop seats", eur, 4, "25.00", "0.00", "0.00"),
		),
		seedInvoice("inv_demo_yen", "INV-2026-0003", "Sakura KK", jpy, "0",
			seedLine("inv_demo_yen", "line_licence", "Licence", jpy, 3, "1500", "450", "0"),
		),
	}

	invoiceMap := make(map[string]domain.Invoice, len(invoices))
	for _, inv := range invoices {
		invoiceMap[inv.ID] = inv
	}
	priceMap := map[string]domain.Price{}
	for _, p := range seedPrices(now) {
		priceMap[p.ID] = p
	}

	return &Store{
		invoicesByID:    invoiceMap,
		creditNotesByID: make(map[string]domain.CreditNote),
		pricesByID:      priceMap,
		numberingByID: map[string]domain.NumberingSystem{
			"num_invoices": {
				ID:           "num_invoices",
				Name:         "Invoices",
				DocumentType: domain.DocumentTypeInvoice,
				Template:     "INV-{YYYY}-{SEQ:4}",
				NextSequence: 4,
				CreatedAt:    now,
			},
		},
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListInvoices(_ context.Context, status string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToLower(strings.TrimSpace(status))
	result := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if status != "" && inv.Status != status {
			continue
		}
		summary := inv
		summary.Lines = nil
		result = append(result, summary)
	}
	slices.SortFunc(result, func(a, b domain.Invoice) int {
		return cmpString(b.Number, a.Number)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(inv)
	return &dup, nil
}

// CreateCreditNote re-checks every line against the current outstanding
// amounts and decrements them in one critical section.
func (s *Store) CreateCreditNote(_ context.Context, note domain.CreditNote) (*domain.CreditNote, error) {
	if strings.TrimSpace(note.InvoiceID) == "" || len(note.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.invoicesByID[note.InvoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv := cloneInvoice(stored)
	total, err := store.ApplyCredit(&inv, note.Lines)
	if err != nil {
		return nil, err
	}

	if note.ID == "" {
		note.ID = xid.New("cn")
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.Status == "" {
		note.Status = domain.CreditNoteStatusIssued
	}
	note.Currency = inv.Currency
	note.TotalAmount = total

	s.invoicesByID[inv.ID] = inv
	s.creditNotesByID[note.ID] = cloneCreditNote(note)
	created := cloneCreditNote(note)
	return &created, nil
}

func (s *Store) ListCreditNotes(_ context.Context, invoiceID string, limit int) ([]domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CreditNote, 0, 16)
	for _, note := range s.creditNotesByID {
		if invoiceID != "" && note.InvoiceID != invoiceID {
			continue
		}
		result = append(result, cloneCreditNote(note))
	}
	slices.SortFunc(result, func(a, b domain.CreditNote) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreatePrice(_ context.Context, price domain.Price) (*domain.Price, error) {
	if strings.TrimSpace(price.ProductID) == "" || !price.Model.Valid() {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if price.ID == "" {
		price.ID = xid.New("price")
	}
	if _, exists := s.pricesByID[price.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if price.CreatedAt.IsZero() {
		price.CreatedAt = now
	}
	price.UpdatedAt = price.CreatedAt
	s.pricesByID[price.ID] = clonePrice(price)
	created := clonePrice(price)
	return &created, nil
}

func (s *Store) UpdatePrice(_ context.Context, price domain.Price) (*domain.Price, error) {
	if strings.TrimSpace(price.ProductID) == "" || !price.Model.Valid() {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pricesByID[price.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	price.CreatedAt = existing.CreatedAt
	price.UpdatedAt = time.Now().UTC()
	s.pricesByID[price.ID] = clonePrice(price)
	updated := clonePrice(price)
	return &updated, nil
}

func (s *Store) GetPrice(_ context.Context, id string) (*domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.pricesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := clonePrice(price)
	return &dup, nil
}

func (s *Store) ListPrices(_ context.Context, productID string) ([]domain.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Price, 0, len(s.pricesByID))
	for _, price := range s.pricesByID {
		if productID != "" && price.ProductID != productID {
			continue
		}
		result = append(result, clonePrice(price))
	}
	slices.SortFunc(result, func(a, b domain.Price) int {
		if a.ProductID == b.ProductID {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) CreateNumberingSystem(_ context.Context, system domain.NumberingSystem) (*domain.NumberingSystem, error) {
	system.Name = strings.TrimSpace(system.Name)
	if system.Name == "" || system.NextSequence < 1 {
		return nil, store.ErrInvalidRequest
	}
	if _, err := numbering.Parse(system.Template); err != nil {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.numberingByID {
		if strings.EqualFold(existing.Name, system.Name) {
			return nil, store.ErrConflict
		}
	}
	if system.ID == "" {
		system.ID = xid.New("num")
	}
	if system.CreatedAt.IsZero() {
		system.CreatedAt = time.Now().UTC()
	}
	s.numberingByID[system.ID] = system
	created := system
	return &created, nil
}

func (s *Store) ListNumberingSystems(_ context.Context) ([]domain.NumberingSystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.NumberingSystem, 0, len(s.numberingByID))
	for _, system := range s.numberingByID {
		result = append(result, system)
	}
	slices.SortFunc(result, func(a, b domain.NumberingSystem) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetNumberingSystem(_ context.Context, id string) (*domain.NumberingSystem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	system, ok := s.numberingByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &system, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	lines := make([]domain.InvoiceLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}

func cloneCreditNote(src domain.CreditNote) domain.CreditNote {
	dup := src
	lines := make([]domain.CreditNoteLine, len(src.Lines))
	for i, line := range src.Lines {
		lines[i] = line
		if line.Quantity != nil {
			qty := *line.Quantity
			lines[i].Quantity = &qty
		}
	}
	dup.Lines = lines
	return dup
}

func clonePrice(src domain.Price) domain.Price {
	dup := src
	dup.Tiers = src.Tiers.Clone()
	return dup
}
