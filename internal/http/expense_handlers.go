package http

import (
	"net/http"

	"shopledger/internal/domain"
)

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	unallocated, err := parseOptionalBool(r.URL.Query().Get("unallocated"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var items []domain.Expense
	if unallocated {
		items, err = h.svc.UnallocatedExpenses(r.Context())
	} else {
		items, err = h.svc.ListExpenses(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) AddExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.Expense
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.svc.AddExpense(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.svc.GetExpense(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	related, err := h.svc.ResolveRelatedProduct(r.Context(), *expense)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expense": expense, "product": related})
}

func (h *Handler) PatchExpense(w http.ResponseWriter, r *http.Request) {
	var patch domain.ExpensePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.UpdateExpense(r.Context(), pathParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.DeleteExpense(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

// DeleteMatchingExpense removes the first expense whose fields equal the
// body's, for rows that predate expense ids.
func (h *Handler) DeleteMatchingExpense(w http.ResponseWriter, r *http.Request) {
	var req domain.Expense
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := h.svc.DeleteExpenseByFields(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

type allocateRequest struct {
	ProductID string `json:"product_id"`
}

func (h *Handler) AllocateExpense(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.AllocateExpense(r.Context(), pathParam(r, "id"), req.ProductID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) ExpenseSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.ExpenseSummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ExpensesByCategory(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.ExpensesByCategory(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) ListCategories(w http.ResponseWriter, _ *http.Request) {
	items := h.svc.Categories()
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (h *Handler) AddCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changed, err := h.svc.AddCategory(req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "items": h.svc.Categories()})
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	changed, err := h.svc.DeleteCategory(name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !changed {
		writeError(w, http.StatusNotFound, "category not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true, "items": h.svc.Categories()})
}
