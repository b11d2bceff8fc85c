package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/store"
)

func TestCreateCreditNoteDecrementsOutstanding(t *testing.T) {
	databaseURL := os.Getenv("OPENINVOICE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OPENINVOICE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	stamp := time.Now().UnixNano()
	invoiceID := fmt.Sprintf("inv-it-%d", stamp)
	lineID := fmt.Sprintf("line-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credit_note_lines WHERE invoice_line_id = $1`, lineID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM credit_notes WHERE invoice_id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, number, customer_id, customer_name, currency, status, total_amount, outstanding_amount, issued_at)
		VALUES ($1, $2, 'cus_it', 'Integration Customer', 'EUR', 'open', 100.00, 40.00, now())
	`, invoiceID, "IT-"+invoiceID); err != nil {
		t.Fatalf("insert invoice: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_lines (
			id, invoice_id, position, description, quantity, unit_amount,
			total_tax_amount, total_discount_amount, total_amount, outstanding_amount, outstanding_quantity
		)
		VALUES ($1, $2, 0, 'Workshop seats', 4, 25.00, 0, 0, 100.00, 100.00, 4)
	`, lineID, invoiceID); err != nil {
		t.Fatalf("insert invoice line: %v", err)
	}

	qty := int64(1)
	note, err := s.CreateCreditNote(ctx, domain.CreditNote{
		InvoiceID: invoiceID,
		Reason:    "integration test credit",
		CreatedBy: "admin",
		Lines: []domain.CreditNoteLine{
			{InvoiceLineID: lineID, Quantity: &qty, Amount: money.MustParse("EUR", "25.00")},
		},
	})
	if err != nil {
		t.Fatalf("create credit note: %v", err)
	}
	if note.TotalAmount.String() != "25.00" {
		t.Fatalf("expected total 25.00, got %s", note.TotalAmount)
	}

	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if inv.OutstandingAmount.String() != "15.00" {
		t.Fatalf("expected outstanding 15.00, got %s", inv.OutstandingAmount)
	}
	if len(inv.Lines) != 1 || inv.Lines[0].OutstandingQuantity != 3 {
		t.Fatalf("expected outstanding qty 3, got %+v", inv.Lines)
	}

	_, err = s.CreateCreditNote(ctx, domain.CreditNote{
		InvoiceID: invoiceID,
		CreatedBy: "admin",
		Lines: []domain.CreditNoteLine{
			{InvoiceLineID: lineID, Amount: money.MustParse("EUR", "15.01")},
		},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for over-credit, got %v", err)
	}

	notes, err := s.ListCreditNotes(ctx, invoiceID, 10)
	if err != nil {
		t.Fatalf("list credit notes: %v", err)
	}
	if len(notes) != 1 || len(notes[0].Lines) != 1 || *notes[0].Lines[0].Quantity != 1 {
		t.Fatalf("unexpected credit notes: %+v", notes)
	}
}
