package http

import (
	"net/http"
	"strings"

	"shopledger/internal/domain"
)

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search"))); search != "" {
		filtered := make([]domain.Product, 0, len(items))
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Name), search) || strings.Contains(strings.ToLower(item.ID), search) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.svc.GetProduct(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) LookupProduct(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	product, err := h.svc.FindProduct(r.Context(), query.Get("name"), query.Get("size"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) PatchProductByNameSize(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductPatch
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := r.URL.Query()
	updated, err := h.svc.UpdateProductByNameSize(r.Context(), query.Get("name"), query.Get("size"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteProductByNameSize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	removed, err := h.svc.DeleteProductByNameSize(r.Context(), query.Get("name"), query.Get("size"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *Handler) NextProductID(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.NextProductID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id})
}

// SaveProduct adds a product or updates the one with the same id, or the
// same name and size.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.Product
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.svc.SaveProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) PatchProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductPatch
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.UpdateProduct(r.Context(), pathParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.DeleteProduct(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

func (h *Handler) ProductNames(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.ProductNames(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": names, "count": len(names)})
}

func (h *Handler) ProductSizes(w http.ResponseWriter, r *http.Request) {
	sizes, err := h.svc.SizesFor(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sizes, "count": len(sizes)})
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	qty, err := parseOptionalInt(query.Get("qty"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, stock, err := h.svc.CheckAvailability(r.Context(), query.Get("name"), query.Get("size"), qty)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": ok, "stock": stock, "requested": qty})
}

func (h *Handler) ProductAllocatedCost(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	cost, err := h.svc.ProductAllocatedCost(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "allocated_cost": cost})
}

func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.InventorySummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseOptionalInt(r.URL.Query().Get("threshold"), h.svc.LowStockThreshold())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.LowStock(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items), "threshold": threshold})
}

func (h *Handler) AgingProducts(w http.ResponseWriter, r *http.Request) {
	days, err := parseOptionalInt(r.URL.Query().Get("days"), 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.AgingProducts(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) ProfitBySKU(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ProfitBySKU(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) TopProfitable(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.TopProfitable(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) ImportInventory(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportInventory(r.Context(), header.Filename, file)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_name":   header.Filename,
		"total_rows":  result.Rows,
		"product_ids": result.ProductIDs,
	})
}
