package domain

import (
	"encoding/json"
	"time"

	"openinvoice/backend/internal/creditnote"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/pricing"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type MemberCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type MemberUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	InvoiceStatusOpen     = "open"
	InvoiceStatusPaid     = "paid"
	InvoiceStatusVoid     = "void"
	InvoiceStatusCredited = "credited"
)

type Invoice struct {
	ID                string         `json:"id"`
	Number            string         `json:"number"`
	CustomerID        string         `json:"customer_id"`
	CustomerName      string         `json:"customer_name"`
	Currency          money.Currency `json:"currency"`
	Status            string         `json:"status"`
	TotalAmount       money.Money    `json:"total_amount"`
	OutstandingAmount money.Money    `json:"outstanding_amount"`
	IssuedAt          time.Time      `json:"issued_at"`
	Lines             []InvoiceLine  `json:"lines,omitempty"`
}

type InvoiceLine struct {
	ID                  string      `json:"id"`
	InvoiceID           string      `json:"invoice_id"`
	Description         string      `json:"description"`
	Quantity            int64       `json:"quantity"`
	UnitAmount          money.Money `json:"unit_amount"`
	TotalTaxAmount      money.Money `json:"total_tax_amount"`
	TotalDiscountAmount money.Money `json:"total_discount_amount"`
	TotalAmount         money.Money `json:"total_amount"`
	OutstandingAmount   money.Money `json:"outstanding_amount"`
	OutstandingQuantity int64       `json:"outstanding_quantity"`
}

// CreditableInvoice is the snapshot a credit-note form works against.
type CreditableInvoice struct {
	Document  creditnote.CreditableDocument `json:"document"`
	Currency  money.Currency                `json:"currency"`
	Status    string                        `json:"status"`
	Lines     []creditnote.CreditableLine   `json:"lines"`
	FetchedAt time.Time                     `json:"fetched_at"`
}

// CreditLineInput carries raw form input. Exactly one of Amount or Quantity
// must be set.
type CreditLineInput struct {
	LineID   string       `json:"line_id"`
	Amount   *json.Number `json:"amount,omitempty"`
	Quantity *json.Number `json:"quantity,omitempty"`
}

type CreditLinePreviewRequest struct {
	CreditLineInput
}

type CreditLinePreviewResponse struct {
	InvoiceID    string             `json:"invoice_id"`
	LineID       string             `json:"line_id"`
	Bounds       creditnote.Bounds  `json:"bounds"`
	CreditAmount *money.Money       `json:"credit_amount,omitempty"`
	Valid        bool               `json:"valid"`
	Issues       []creditnote.Issue `json:"issues"`
}

type CreditNoteCreateRequest struct {
	Reason string            `json:"reason"`
	Lines  []CreditLineInput `json:"lines"`
}

const CreditNoteStatusIssued = "issued"

type CreditNote struct {
	ID          string           `json:"id"`
	InvoiceID   string           `json:"invoice_id"`
	Currency    money.Currency   `json:"currency"`
	Reason      string           `json:"reason"`
	Status      string           `json:"status"`
	TotalAmount money.Money      `json:"total_amount"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	Lines       []CreditNoteLine `json:"lines"`
}

type CreditNoteLine struct {
	InvoiceLineID string      `json:"invoice_line_id"`
	Quantity      *int64      `json:"quantity,omitempty"`
	Amount        money.Money `json:"amount"`
}

type CreditNoteResponse struct {
	CreditNote CreditNote `json:"credit_note"`
}

type CreditNoteListResponse struct {
	CreditNotes []CreditNote `json:"credit_notes"`
}

// FieldIssue is a field-scoped problem with a price or tier edit.
type FieldIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Price struct {
	ID         string           `json:"id"`
	ProductID  string           `json:"product_id"`
	Nickname   string           `json:"nickname,omitempty"`
	Model      pricing.Model    `json:"model"`
	Currency   money.Currency   `json:"currency"`
	FlatAmount money.Money      `json:"flat_amount"`
	Tiers      pricing.Schedule `json:"tiers,omitempty"`
	Active     bool             `json:"active"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type PriceInput struct {
	ProductID  string           `json:"product_id"`
	Nickname   string           `json:"nickname"`
	Model      pricing.Model    `json:"model"`
	Currency   money.Currency   `json:"currency"`
	FlatAmount json.Number      `json:"flat_amount"`
	Tiers      pricing.Schedule `json:"tiers"`
	Active     *bool            `json:"active,omitempty"`
}

type PriceResponse struct {
	Price Price `json:"price"`
}

type PriceListResponse struct {
	Prices []Price `json:"prices"`
}

const (
	TierOpModel    = "model"
	TierOpBoundary = "boundary"
	TierOpCreate   = "create"
	TierOpRemove   = "remove"
	TierOpCurrency = "currency"
)

type TierEditRequest struct {
	Op          string           `json:"op"`
	Model       pricing.Model    `json:"model,omitempty"`
	Currency    money.Currency   `json:"currency"`
	NewCurrency money.Currency   `json:"new_currency,omitempty"`
	FlatAmount  json.Number      `json:"flat_amount,omitempty"`
	Schedule    pricing.Schedule `json:"schedule"`
	Index       int              `json:"index"`
	ToValue     *int64           `json:"to_value,omitempty"`
}

type TierEditResponse struct {
	Schedule   pricing.Schedule `json:"schedule"`
	FlatAmount money.Money      `json:"flat_amount"`
	Currency   money.Currency   `json:"currency"`
	Issues     []FieldIssue     `json:"issues"`
}

const (
	DocumentTypeInvoice    = "invoice"
	DocumentTypeQuote      = "quote"
	DocumentTypeCreditNote = "credit_note"
)

type NumberingSystem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DocumentType string    `json:"document_type"`
	Template     string    `json:"template"`
	NextSequence int64     `json:"next_sequence"`
	CreatedAt    time.Time `json:"created_at"`
}

type NumberingSystemResponse struct {
	NumberingSystem NumberingSystem `json:"numbering_system"`
	NextNumber      string          `json:"next_number"`
}

type NumberingSystemCreateRequest struct {
	Name         string `json:"name"`
	DocumentType string `json:"document_type"`
	Template     string `json:"template"`
	NextSequence int64  `json:"next_sequence"`
}

type NumberingPreviewRequest struct {
	Template     string     `json:"template"`
	NextSequence int64      `json:"next_sequence"`
	Count        int        `json:"count"`
	At           *time.Time `json:"at,omitempty"`
}

type NumberingPreviewResponse struct {
	Template string       `json:"template"`
	Numbers  []string     `json:"numbers"`
	Issues   []FieldIssue `json:"issues"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Creditable projects an invoice line onto the fields the bound calculator
// reads.
func (l InvoiceLine) Creditable() creditnote.CreditableLine {
	return creditnote.CreditableLine{
		ID:                  l.ID,
		Description:         l.Description,
		OutstandingAmount:   l.OutstandingAmount,
		TotalTaxAmount:      l.TotalTaxAmount,
		TotalDiscountAmount: l.TotalDiscountAmount,
		OutstandingQuantity: l.OutstandingQuantity,
		UnitAmount:          l.UnitAmount,
	}
}

func (inv Invoice) Creditable(fetchedAt time.Time) CreditableInvoice {
	lines := make([]creditnote.CreditableLine, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		lines = append(lines, line.Creditable())
	}
	return CreditableInvoice{
		Document: creditnote.CreditableDocument{
			ID:                inv.ID,
			OutstandingAmount: inv.OutstandingAmount,
		},
		Currency:  inv.Currency,
		Status:    inv.Status,
		Lines:     lines,
		FetchedAt: fetchedAt,
	}
}

func (c CreditableInvoice) Line(id string) (creditnote.CreditableLine, bool) {
	for _, line := range c.Lines {
		if line.ID == id {
			return line, true
		}
	}
	return creditnote.CreditableLine{}, false
}
