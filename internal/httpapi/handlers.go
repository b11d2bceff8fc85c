package httpapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"openinvoice/backend/internal/domain"
)

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	invoices, err := a.service.ListInvoices(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (a *API) handleCreditable(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.service.CreditableSnapshot(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creditable": snapshot})
}

func (a *API) handleCreditPreview(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditLinePreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.PreviewCreditLine(r.Context(), chi.URLParam(r, "invoiceID"), req.CreditLineInput)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCreditNotes(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	notes, err := a.service.ListCreditNotes(r.Context(), chi.URLParam(r, "invoiceID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CreditNoteListResponse{CreditNotes: notes})
}

func (a *API) handleIssueCreditNote(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditNoteCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	note, err := a.service.IssueCreditNote(r.Context(), chi.URLParam(r, "invoiceID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.CreditNoteResponse{CreditNote: note})
}

func (a *API) handleExportCreditNotes(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 500, 5000)

	notes, err := a.service.ListCreditNotes(r.Context(), r.URL.Query().Get("invoice_id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body, err := creditNotesToCSV(notes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="credit-notes-%s.csv"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) handleTierEdit(w http.ResponseWriter, r *http.Request) {
	var req domain.TierEditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.EditTiers(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := a.service.ListPrices(r.Context(), r.URL.Query().Get("product_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PriceListResponse{Prices: prices})
}

func (a *API) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := a.service.GetPrice(r.Context(), chi.URLParam(r, "priceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PriceResponse{Price: price})
}

func (a *API) handleCreatePrice(w http.ResponseWriter, r *http.Request) {
	var req domain.PriceInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	price, err := a.service.CreatePrice(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.PriceResponse{Price: price})
}

func (a *API) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req domain.PriceInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	price, err := a.service.UpdatePrice(r.Context(), chi.URLParam(r, "priceID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PriceResponse{Price: price})
}

func (a *API) handleNumberingPreview(w http.ResponseWriter, r *http.Request) {
	var req domain.NumberingPreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.PreviewNumbering(r.Context(), req))
}

func (a *API) handleGetNumberingSystem(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetNumberingSystem(r.Context(), chi.URLParam(r, "systemID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListNumberingSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := a.service.ListNumberingSystems(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"numbering_systems": systems})
}

func (a *API) handleCreateNumberingSystem(w http.ResponseWriter, r *http.Request) {
	var req domain.NumberingSystemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	system, err := a.service.CreateNumberingSystem(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"numbering_system": system})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"members": a.auth.ListMembers(r.Context())})
}

func (a *API) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req domain.MemberCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	member, err := a.auth.CreateMember(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"member": member})
}

// creditNotesToCSV writes one row per credit note line.
func creditNotesToCSV(notes []domain.CreditNote) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{
		"credit_note_id", "invoice_id", "created_at", "created_by", "reason",
		"invoice_line_id", "quantity", "amount", "currency",
	}); err != nil {
		return nil, err
	}
	for _, note := range notes {
		for _, line := range note.Lines {
			qty := ""
			if line.Quantity != nil {
				qty = strconv.FormatInt(*line.Quantity, 10)
			}
			if err := writer.Write([]string{
				note.ID,
				note.InvoiceID,
				note.CreatedAt.UTC().Format(time.RFC3339),
				note.CreatedBy,
				note.Reason,
				line.InvoiceLineID,
				qty,
				line.Amount.String(),
				string(note.Currency),
			}); err != nil {
				return nil, err
			}
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}
