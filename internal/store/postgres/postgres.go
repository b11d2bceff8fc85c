package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"openinvoice/backend/internal/domain"
	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/pricing"
	"openinvoice/backend/internal/store"
	"openinvoice/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// EnsureSchema creates missing tables and indexes. It is safe to run on every
// start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListInvoices(ctx context.Context, status string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 100
	}
	status = strings.ToLower(strings.TrimSpace(status))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, customer_id, customer_name, currency, status,
			total_amount::text, outstanding_amount::text, issued_at
		FROM invoices
		WHERE ($1 = '' OR status = $1)
		ORDER BY number DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := loadInvoice(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateCreditNote locks the invoice and its lines, re-checks the credit
// against the locked outstanding amounts and writes the decrements together
// with the note.
func (s *Store) CreateCreditNote(ctx context.Context, note domain.CreditNote) (*domain.CreditNote, error) {
	if strings.TrimSpace(note.InvoiceID) == "" || len(note.Lines) == 0 {
		return nil, store.ErrInvalidRequest
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	inv, err := loadInvoice(ctx, pgTx, note.InvoiceID, true)
	if err != nil {
		return nil, err
	}
	before := make(map[string]domain.InvoiceLine, len(inv.Lines))
	for _, line := range inv.Lines {
		before[line.ID] = line
	}

	total, err := store.ApplyCredit(inv, note.Lines)
	if err != nil {
		return nil, err
	}
	note.Currency = inv.Currency
	note.TotalAmount = total

	for _, line := range inv.Lines {
		prev := before[line.ID]
		if prev.OutstandingAmount.Equal(line.OutstandingAmount) && prev.OutstandingQuantity == line.OutstandingQuantity {
			continue
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE invoice_lines
			SET outstanding_amount = $2, outstanding_quantity = $3
			WHERE id = $1
		`, line.ID, line.OutstandingAmount.Amount(), line.OutstandingQuantity); err != nil {
			return nil, mapTxError(err)
		}
	}

	if _, err := pgTx.ExecContext(ctx, `
		UPDATE invoices
		SET outstanding_amount = $2, status = $3
		WHERE id = $1
	`, inv.ID, inv.OutstandingAmount.Amount(), inv.Status); err != nil {
		return nil, mapTxError(err)
	}

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO credit_notes (id, invoice_id, currency, reason, status, total_amount, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, note.ID, note.InvoiceID, string(note.Currency), note.Reason, note.Status, note.TotalAmount.Amount(), note.CreatedBy, note.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapTxError(err)
	}

	for i, line := range note.Lines {
		var qty any
		if line.Quantity != nil {
			qty = *line.Quantity
		}
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO credit_note_lines (credit_note_id, position, invoice_line_id, quantity, amount)
			VALUES ($1,$2,$3,$4,$5)
		`, note.ID, i, line.InvoiceLineID, qty, line.Amount.Amount()); err != nil {
			return nil, mapTxError(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	return &note, nil
}

func (s *Store) ListCreditNotes(ctx context.Context, invoiceID string, limit int) ([]domain.CreditNote, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, currency, reason, status, total_amount::text, created_by, created_at
		FROM credit_notes
		WHERE ($1 = '' OR invoice_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, invoiceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CreditNote, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var note domain.CreditNote
		var currency, total string
		if err := rows.Scan(&note.ID, &note.InvoiceID, &currency, &note.Reason, &note.Status, &total, &note.CreatedBy, &note.CreatedAt); err != nil {
			return nil, err
		}
		note.Currency = money.Currency(currency).Normalize()
		if note.TotalAmount, err = money.Parse(note.Currency, total); err != nil {
			return nil, err
		}
		note.CreatedAt = note.CreatedAt.UTC()
		result = append(result, note)
		ids = append(ids, note.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT credit_note_id, invoice_line_id, quantity, amount::text
		FROM credit_note_lines
		WHERE credit_note_id = ANY($1)
		ORDER BY credit_note_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	currencies := make(map[string]money.Currency, len(result))
	for _, note := range result {
		currencies[note.ID] = note.Currency
	}
	lineMap := make(map[string][]domain.CreditNoteLine, len(ids))
	for lineRows.Next() {
		var noteID, amount string
		var line domain.CreditNoteLine
		var qty sql.NullInt64
		if err := lineRows.Scan(&noteID, &line.InvoiceLineID, &qty, &amount); err != nil {
			return nil, err
		}
		if qty.Valid {
			q := qty.Int64
			line.Quantity = &q
		}
		if line.Amount, err = money.Parse(currencies[noteID], amount); err != nil {
			return nil, err
		}
		lineMap[noteID] = append(lineMap[noteID], line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		result[i].Lines = lineMap[result[i].ID]
	}
	return result, nil
}

func (s *Store) CreatePrice(ctx context.Context, price domain.Price) (*domain.Price, error) {
	if strings.TrimSpace(price.ProductID) == "" || !price.Model.Valid() {
		return nil, store.ErrInvalidRequest
	}
	if price.ID == "" {
		price.ID = xid.New("price")
	}
	if price.CreatedAt.IsZero() {
		price.CreatedAt = time.Now().UTC()
	}
	price.UpdatedAt = price.CreatedAt

	tiers, err := marshalTiers(price.Tiers)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prices (id, product_id, nickname, model, currency, flat_amount, tiers, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, price.ID, price.ProductID, price.Nickname, string(price.Model), string(price.Currency), price.FlatAmount.Amount(), tiers, price.Active, price.CreatedAt, price.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &price, nil
}

func (s *Store) UpdatePrice(ctx context.Context, price domain.Price) (*domain.Price, error) {
	if strings.TrimSpace(price.ProductID) == "" || !price.Model.Valid() {
		return nil, store.ErrInvalidRequest
	}
	tiers, err := marshalTiers(price.Tiers)
	if err != nil {
		return nil, err
	}

	price.UpdatedAt = time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		UPDATE prices
		SET product_id = $2, nickname = $3, model = $4, currency = $5,
			flat_amount = $6, tiers = $7, active = $8, updated_at = $9
		WHERE id = $1
		RETURNING created_at
	`, price.ID, price.ProductID, price.Nickname, string(price.Model), string(price.Currency), price.FlatAmount.Amount(), tiers, price.Active, price.UpdatedAt).Scan(&price.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	price.CreatedAt = price.CreatedAt.UTC()
	return &price, nil
}

func (s *Store) GetPrice(ctx context.Context, id string) (*domain.Price, error) {
	rows, err := s.db.QueryContext(ctx, priceSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	price, err := scanPrice(rows)
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func (s *Store) ListPrices(ctx context.Context, productID string) ([]domain.Price, error) {
	rows, err := s.db.QueryContext(ctx, priceSelect+`
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY product_id, id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make([]domain.Price, 0, 32)
	for rows.Next() {
		price, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return prices, nil
}

func (s *Store) CreateNumberingSystem(ctx context.Context, system domain.NumberingSystem) (*domain.NumberingSystem, error) {
	system.Name = strings.TrimSpace(system.Name)
	if system.Name == "" || system.NextSequence < 1 || strings.TrimSpace(system.Template) == "" {
		return nil, store.ErrInvalidRequest
	}
	if system.ID == "" {
		system.ID = xid.New("num")
	}
	if system.CreatedAt.IsZero() {
		system.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO numbering_systems (id, name, document_type, template, next_sequence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, system.ID, system.Name, system.DocumentType, system.Template, system.NextSequence, system.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &system, nil
}

func (s *Store) ListNumberingSystems(ctx context.Context) ([]domain.NumberingSystem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, document_type, template, next_sequence, created_at
		FROM numbering_systems
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	systems := make([]domain.NumberingSystem, 0, 8)
	for rows.Next() {
		var system domain.NumberingSystem
		if err := rows.Scan(&system.ID, &system.Name, &system.DocumentType, &system.Template, &system.NextSequence, &system.CreatedAt); err != nil {
			return nil, err
		}
		system.CreatedAt = system.CreatedAt.UTC()
		systems = append(systems, system)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return systems, nil
}

func (s *Store) GetNumberingSystem(ctx context.Context, id string) (*domain.NumberingSystem, error) {
	var system domain.NumberingSystem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, document_type, template, next_sequence, created_at
		FROM numbering_systems
		WHERE id = $1
	`, id).Scan(&system.ID, &system.Name, &system.DocumentType, &system.Template, &system.NextSequence, &system.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	system.CreatedAt = system.CreatedAt.UTC()
	return &system, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var inv domain.Invoice
	var currency, total, outstanding string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &currency, &inv.Status, &total, &outstanding, &inv.IssuedAt); err != nil {
		return domain.Invoice{}, err
	}
	inv.Currency = money.Currency(currency).Normalize()
	inv.IssuedAt = inv.IssuedAt.UTC()
	var err error
	if inv.TotalAmount, err = money.Parse(inv.Currency, total); err != nil {
		return domain.Invoice{}, err
	}
	if inv.OutstandingAmount, err = money.Parse(inv.Currency, outstanding); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// loadInvoice reads an invoice with its lines. With lock set the rows are
// selected FOR UPDATE and q must be a transaction.
func loadInvoice(ctx context.Context, q queryer, id string, lock bool) (*domain.Invoice, error) {
	suffix := ""
	if lock {
		suffix = " FOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, number, customer_id, customer_name, currency, status,
			total_amount::text, outstanding_amount::text, issued_at
		FROM invoices
		WHERE id = $1`+suffix, id)
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		err := rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	inv, err := scanInvoice(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	lineRows, err := q.QueryContext(ctx, `
		SELECT id, description, quantity, unit_amount::text, total_tax_amount::text,
			total_discount_amount::text, total_amount::text, outstanding_amount::text, outstanding_quantity
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position, id`+suffix, id)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		line := domain.InvoiceLine{InvoiceID: inv.ID}
		var unit, tax, discount, total, outstanding string
		if err := lineRows.Scan(&line.ID, &line.Description, &line.Quantity, &unit, &tax, &discount, &total, &outstanding, &line.OutstandingQuantity); err != nil {
			return nil, err
		}
		for _, field := range []struct {
			dst *money.Money
			raw string
		}{
			{&line.UnitAmount, unit},
			{&line.TotalTaxAmount, tax},
			{&line.TotalDiscountAmount, discount},
			{&line.TotalAmount, total},
			{&line.OutstandingAmount, outstanding},
		} {
			parsed, err := money.Parse(inv.Currency, field.raw)
			if err != nil {
				return nil, err
			}
			*field.dst = parsed
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

const priceSelect = `
		SELECT id, product_id, nickname, model, currency, flat_amount::text, tiers, active, created_at, updated_at
		FROM prices`

func scanPrice(row rowScanner) (domain.Price, error) {
	var price domain.Price
	var model, currency, flat string
	var tiers []byte
	if err := row.Scan(&price.ID, &price.ProductID, &price.Nickname, &model, &currency, &flat, &tiers, &price.Active, &price.CreatedAt, &price.UpdatedAt); err != nil {
		return domain.Price{}, err
	}
	price.Model = pricing.Model(model)
	price.Currency = money.Currency(currency).Normalize()
	price.CreatedAt = price.CreatedAt.UTC()
	price.UpdatedAt = price.UpdatedAt.UTC()

	var err error
	if price.FlatAmount, err = money.Parse(price.Currency, flat); err != nil {
		return domain.Price{}, err
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &price.Tiers); err != nil {
			return domain.Price{}, fmt.Errorf("decode tiers for price %s: %w", price.ID, err)
		}
	}
	if len(price.Tiers) == 0 {
		price.Tiers = nil
	}
	return price, nil
}

func marshalTiers(tiers pricing.Schedule) (string, error) {
	if len(tiers) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(tiers)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// mapTxError reports serialization failures from concurrent credits as
// conflicts.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return store.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
