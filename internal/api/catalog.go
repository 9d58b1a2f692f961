package api

import (
	"net/http"
	"strings"

	"pharmaledger/m/domain"
)

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog.ListCategories(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

type categoryRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.svc.Catalog.CreateCategory(r.Context(), domain.Category{Name: req.Name, Code: req.Code, Description: req.Description})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) listDosageForms(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog.ListDosageForms(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

type dosageFormRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createDosageForm(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	var req dosageFormRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := h.svc.Catalog.CreateDosageForm(r.Context(), domain.DosageForm{Name: req.Name})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, f)
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Catalog.ListSuppliers(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

type supplierRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	var req supplierRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.svc.Catalog.CreateSupplier(r.Context(), domain.Supplier{
		Name:    req.Name,
		Contact: req.Contact,
		Phone:   req.Phone,
		Email:   req.Email,
		Address: req.Address,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

// Products

type productRequest struct {
	Name           string  `json:"name"`
	Barcode        *string `json:"barcode"`
	Description    string  `json:"description"`
	CategoryID     *int64  `json:"category_id"`
	DosageFormID   *int64  `json:"dosage_form_id"`
	SupplierID     *int64  `json:"supplier_id"`
	StockThreshold *int64  `json:"stock_threshold"`
}

func (req productRequest) apply(p *domain.Product) {
	p.Name = req.Name
	p.Barcode = req.Barcode
	p.Description = req.Description
	p.CategoryID = req.CategoryID
	p.DosageFormID = req.DosageFormID
	p.SupplierID = req.SupplierID
	if req.StockThreshold != nil {
		p.StockThreshold = *req.StockThreshold
	}
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	items, err := h.svc.Catalog.SearchProducts(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p domain.Product
	req.apply(&p)
	created, err := h.svc.Catalog.CreateProduct(r.Context(), p, req.StockThreshold)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	p, err := h.svc.Catalog.GetProduct(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// updateProduct replaces the product's fields; an omitted threshold keeps
// the stored one.
func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.svc.Catalog.GetProduct(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	req.apply(&p)
	updated, err := h.svc.Catalog.UpdateProduct(r.Context(), p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.svc.Catalog.DeleteProduct(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Customers

type customerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

func (req customerRequest) customer() domain.Customer {
	return domain.Customer{Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address}
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	includeAnonymous := r.URL.Query().Get("include_anonymous") == "true"
	items, err := h.svc.Catalog.ListCustomers(r.Context(), includeAnonymous)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.svc.Catalog.CreateCustomer(r.Context(), req.customer())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	c, err := h.svc.Catalog.GetCustomer(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := req.customer()
	c.ID = id
	updated, err := h.svc.Catalog.UpdateCustomer(r.Context(), c)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) customerCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	credit, err := h.svc.Catalog.CustomerCredit(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, credit)
}
