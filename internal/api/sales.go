package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/repository"
	"pharmaledger/m/internal/service"
)

type saleLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type paymentRequest struct {
	Amount      decimal.Decimal      `json:"amount"`
	Method      domain.PaymentMethod `json:"method"`
	PaymentDate string               `json:"payment_date"`
	Reference   string               `json:"reference"`
}

func (req paymentRequest) input(field string) (service.PaymentInput, error) {
	date, err := parseDate(field, req.PaymentDate)
	if err != nil {
		return service.PaymentInput{}, err
	}
	return service.PaymentInput{Amount: req.Amount, Method: req.Method, PaymentDate: date, Reference: req.Reference}, nil
}

type saleRequest struct {
	CustomerID    *int64              `json:"customer_id"`
	SaleDate      string              `json:"sale_date"`
	TaxAmount     decimal.Decimal     `json:"tax_amount"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	Notes         string              `json:"notes"`
	Items         []saleLineRequest   `json:"items"`
	Payments      []paymentRequest    `json:"payments"`
}

func (req saleRequest) toService() (service.SaleRequest, error) {
	v := &ledger.ValidationError{}
	saleDate, err := parseDate("sale_date", req.SaleDate)
	if err != nil {
		v.Add("sale_date", "must be in YYYY-MM-DD format")
	}
	out := service.SaleRequest{
		CustomerID:    req.CustomerID,
		SaleDate:      saleDate,
		TaxAmount:     req.TaxAmount,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		Notes:         req.Notes,
		Items:         make([]service.SaleLine, 0, len(req.Items)),
		Payments:      make([]service.PaymentInput, 0, len(req.Payments)),
	}
	for _, item := range req.Items {
		out.Items = append(out.Items, service.SaleLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	for i, p := range req.Payments {
		field := fmt.Sprintf("payments.%d.payment_date", i)
		in, err := p.input(field)
		if err != nil {
			v.Add(field, "must be in YYYY-MM-DD format")
			continue
		}
		out.Payments = append(out.Payments, in)
	}
	return out, v.Err()
}

func (h *Handler) decodeSale(w http.ResponseWriter, r *http.Request) (service.SaleRequest, bool) {
	var req saleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return service.SaleRequest{}, false
	}
	out, err := req.toService()
	if err != nil {
		respondErr(w, r, err)
		return service.SaleRequest{}, false
	}
	return out, true
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   repository.SaleFilter
		err error
	)
	if f.From, err = parseDate("from", q.Get("from")); err != nil {
		respondErr(w, r, err)
		return
	}
	if f.To, err = parseDate("to", q.Get("to")); err != nil {
		respondErr(w, r, err)
		return
	}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondErr(w, r, ledger.Invalid("customer_id", "must be a positive integer"))
			return
		}
		f.CustomerID = &id
	}
	f.Status = domain.SaleStatus(q.Get("status"))
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		respondErr(w, r, err)
		return
	}
	sales, err := h.svc.Sales.ListSales(r.Context(), f)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sales)
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSale(w, r)
	if !ok {
		return
	}
	sale, err := h.svc.Sales.CreateSale(r.Context(), userID(r), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.GetSale(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) updateSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	req, ok := h.decodeSale(w, r)
	if !ok {
		return
	}
	sale, err := h.svc.Sales.UpdateSale(r.Context(), id, req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.svc.Sales.DeleteSale(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addSaleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req saleLineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.Sales.AddItem(r.Context(), id, service.SaleLine{ProductID: req.ProductID, Quantity: req.Quantity})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *Handler) changeSaleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.Sales.ChangeItemQuantity(r.Context(), id, itemID, req.Quantity)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) removeSaleItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.RemoveItem(r.Context(), id, itemID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.input("payment_date")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.RecordPayment(r.Context(), id, in)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sale)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	paymentID, err := pathID(r, "paymentID")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sale, err := h.svc.Sales.DeletePayment(r.Context(), id, paymentID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

type discountRequest struct {
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
}

func (h *Handler) setDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req discountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.Sales.SetDiscount(r.Context(), id, req.DiscountType, req.DiscountValue)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

type taxRequest struct {
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

func (h *Handler) setTax(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req taxRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.Sales.SetTax(r.Context(), id, req.TaxAmount)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

type saleCustomerRequest struct {
	CustomerID *int64 `json:"customer_id"`
}

func (h *Handler) changeCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req saleCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sale, err := h.svc.Sales.ChangeCustomer(r.Context(), id, req.CustomerID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sale)
}

// Invoices

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	invoices, err := h.svc.Invoices.List(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, invoices)
}

// generateInvoice returns the sale's latest invoice or issues one.
// ?force=true always issues a new invoice.
func (h *Handler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	inv, err := h.svc.Invoices.Generate(r.Context(), id, force)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, inv)
}
