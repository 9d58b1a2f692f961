package api

import (
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/service"
)

func (h *Handler) productStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	info, err := h.svc.Inventory.StockInfo(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

type allocationRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

func (h *Handler) validateAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	preview, err := h.svc.Inventory.ValidateAllocation(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// Purchase orders

type purchaseOrderRequest struct {
	SupplierID int64  `json:"supplier_id"`
	OrderDate  string `json:"order_date"`
	Notes      string `json:"notes"`
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Inventory.ListPurchaseOrders(r.Context(), domain.POStatus(r.URL.Query().Get("status")))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	var req purchaseOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	orderDate, err := parseDate("order_date", req.OrderDate)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	po, err := h.svc.Inventory.CreatePurchaseOrder(r.Context(), req.SupplierID, orderDate, req.Notes)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, po)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	po, err := h.svc.Inventory.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, po)
}

type lotRequest struct {
	ProductID      int64           `json:"product_id"`
	BatchNumber    string          `json:"batch_number"`
	Quantity       int64           `json:"quantity"`
	ExpirationDate string          `json:"expiration_date"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
}

type receiveRequest struct {
	Lots []lotRequest `json:"lots"`
}

func (req receiveRequest) lots() ([]service.LotInput, error) {
	v := &ledger.ValidationError{}
	out := make([]service.LotInput, 0, len(req.Lots))
	for i, l := range req.Lots {
		in := service.LotInput{
			ProductID:     l.ProductID,
			BatchNumber:   l.BatchNumber,
			Quantity:      l.Quantity,
			PurchasePrice: l.PurchasePrice,
			SalePrice:     l.SalePrice,
		}
		field := fmt.Sprintf("lots.%d.expiration_date", i)
		exp, err := parseDate(field, l.ExpirationDate)
		switch {
		case err != nil:
			v.Add(field, "must be in YYYY-MM-DD format")
		case exp != nil:
			in.ExpirationDate = *exp
		}
		out = append(out, in)
	}
	return out, v.Err()
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req receiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	lots, err := req.lots()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	po, err := h.svc.Inventory.ReceivePurchaseOrder(r.Context(), id, lots)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, po)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	po, err := h.svc.Inventory.CancelPurchaseOrder(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, po)
}

// Lots

func (h *Handler) expiringLots(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	lots, err := h.svc.Inventory.ExpiringLots(r.Context(), days)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lots)
}

func (h *Handler) lotMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	movements, err := h.svc.Inventory.LotMovements(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, movements)
}

type movementRequest struct {
	Delta        int64               `json:"delta"`
	MovementType domain.MovementType `json:"movement_type"`
	Source       string              `json:"source"`
	Comment      string              `json:"comment"`
}

func (h *Handler) createLotMovement(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req movementRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svc.Inventory.ApplyLotMovement(r.Context(), id, req.Delta, req.MovementType, req.Source, req.Comment)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

type countRequest struct {
	CountedQuantity int64  `json:"counted_quantity"`
	Comment         string `json:"comment"`
}

type countResponse struct {
	Changed  bool                  `json:"changed"`
	Movement *domain.StockMovement `json:"movement,omitempty"`
}

func (h *Handler) countLot(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req countRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svc.Inventory.CountLot(r.Context(), id, req.CountedQuantity, req.Comment)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, countResponse{Changed: m != nil, Movement: m})
}

type writeOffRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) writeOffLot(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req writeOffRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	m, err := h.svc.Inventory.WriteOffExpired(r.Context(), id, req.Comment)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

type lotActiveRequest struct {
	IsActive bool `json:"is_active"`
}

func (h *Handler) setLotActive(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockManagers...) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req lotActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	lot, err := h.svc.Inventory.SetLotActive(r.Context(), id, req.IsActive)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lot)
}
