package http

import (
	"errors"
	"net/http"

	"shopledger/internal/domain"
	"shopledger/internal/service"
)

// ListInvoices filters by ?status= or searches with ?q= and ?field=.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		items []domain.Invoice
		err   error
	)
	switch {
	case query.Get("q") != "":
		items, err = h.svc.SearchInvoices(r.Context(), query.Get("q"), query.Get("field"))
	case query.Get("status") != "":
		items, err = h.svc.InvoicesByStatus(r.Context(), query.Get("status"))
	default:
		items, err = h.svc.ListInvoices(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) NextInvoiceNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.svc.NextInvoiceNumber(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice_number": number})
}

func (h *Handler) InvoiceOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"statuses":        domain.Statuses,
		"payment_methods": domain.PaymentMethods,
	})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.GetInvoice(r.Context(), pathParam(r, "number"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	original, err := h.svc.ResolveOriginalInvoice(r.Context(), *inv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv, "original": original})
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req service.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.CreateSale(r.Context(), req)
	if err != nil {
		var shortfall *service.ShortfallError
		if errors.As(err, &shortfall) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      err.Error(),
				"shortfalls": shortfall.Shortfalls,
			})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// EditInvoice applies a partial update. ?adjust_stock=true moves the item
// quantity difference in or out of stock.
func (h *Handler) EditInvoice(w http.ResponseWriter, r *http.Request) {
	adjust, err := parseOptionalBool(r.URL.Query().Get("adjust_stock"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var patch domain.InvoicePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.EditInvoice(r.Context(), pathParam(r, "number"), patch, adjust)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	restore, err := parseOptionalBool(r.URL.Query().Get("restore_stock"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := h.svc.DeleteInvoice(r.Context(), pathParam(r, "number"), restore)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	number := pathParam(r, "number")
	if err := h.svc.UpdateInvoiceStatus(r.Context(), number, req.Status); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice_number": number, "status": req.Status})
}

func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ReturnsFor(r.Context(), pathParam(r, "number"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type returnRequest struct {
	Items   []domain.LineItem `json:"items"`
	Restock bool              `json:"restock"`
}

func (h *Handler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ret, err := h.svc.CreateReturn(r.Context(), pathParam(r, "number"), req.Items, req.Restock)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

type duplicateRequest struct {
	CustomerName string            `json:"customer_name"`
	Items        []domain.LineItem `json:"items"`
	Date         string            `json:"date"`
}

func (h *Handler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	match, err := h.svc.CheckDuplicate(r.Context(), req.CustomerName, req.Items, req.Date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicate": match != nil, "invoice": match})
}

func (h *Handler) InvoiceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.InvoiceSummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) DailySales(w http.ResponseWriter, r *http.Request) {
	days, err := parseOptionalInt(r.URL.Query().Get("days"), 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.DailySales(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}
