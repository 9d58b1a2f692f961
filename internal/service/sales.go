package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/money"
	"pharmaledger/m/internal/repository"
	"pharmaledger/m/pkg/logger"
)

// Sales owns sales, their lines and their payments.
type Sales struct {
	*Core
}

func NewSales(core *Core) *Sales {
	return &Sales{Core: core}
}

type SaleLine struct {
	ProductID int64
	Quantity  int64
}

type PaymentInput struct {
	Amount      decimal.Decimal
	Method      domain.PaymentMethod
	PaymentDate *time.Time
	Reference   string
}

// SaleRequest is the full content of a sale as submitted at the counter.
type SaleRequest struct {
	CustomerID    *int64
	SaleDate      *time.Time
	TaxAmount     decimal.Decimal
	DiscountType  domain.DiscountType
	DiscountValue decimal.Decimal
	Notes         string
	Items         []SaleLine
	Payments      []PaymentInput
}

func (r *SaleRequest) normalize() {
	if r.DiscountType == "" {
		r.DiscountType = domain.DiscountAmount
	}
}

func (r SaleRequest) validate() error {
	v := &ledger.ValidationError{}
	if r.CustomerID != nil && *r.CustomerID <= 0 {
		v.Add("customer_id", "must be a positive id")
	}
	if len(r.Items) == 0 {
		v.Add("items", "at least one item is required")
	}
	seen := make(map[int64]int, len(r.Items))
	for i, line := range r.Items {
		validateLine(v, fmt.Sprintf("items.%d.", i), line)
		if prev, dup := seen[line.ProductID]; dup && line.ProductID > 0 {
			v.Add(fmt.Sprintf("items.%d.product_id", i), fmt.Sprintf("duplicates items.%d; combine the quantities", prev))
			continue
		}
		seen[line.ProductID] = i
	}
	if r.TaxAmount.IsNegative() {
		v.Add("tax_amount", "must not be negative")
	}
	merge(v, "", ledger.ValidateDiscountInput(r.DiscountType, r.DiscountValue))
	for i, p := range r.Payments {
		validatePayment(v, fmt.Sprintf("payments.%d.", i), p)
	}
	return v.Err()
}

func validateLine(v *ledger.ValidationError, prefix string, line SaleLine) {
	if line.ProductID <= 0 {
		v.Add(prefix+"product_id", "is required")
	}
	if line.Quantity <= 0 {
		v.Add(prefix+"quantity", "must be greater than zero")
	}
}

func validatePayment(v *ledger.ValidationError, prefix string, p PaymentInput) {
	if p.Amount.LessThan(money.Cent) {
		v.Add(prefix+"amount", "must be at least 0.01")
	}
	if !p.Method.Valid() {
		v.Add(prefix+"method", "must be one of cash, card, mobile_money, bank_transfer, other")
	}
}

// merge copies the fields of a validation error into v.
func merge(v *ledger.ValidationError, prefix string, err error) {
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		for field, msg := range ve.Fields {
			v.Add(prefix+field, msg)
		}
	}
}

// lineError places an error raised while building line i on the field
// that caused it.
func lineError(i int, err error) error {
	prefix := fmt.Sprintf("items.%d", i)
	switch {
	case errors.Is(err, ledger.ErrInsufficientStock):
		return ledger.AtField(prefix+".quantity", err)
	case errors.Is(err, ledger.ErrNotFound):
		return ledger.AtField(prefix+".product_id", err)
	default:
		return ledger.AtField(prefix, err)
	}
}

func saleSource(saleID int64) string {
	return fmt.Sprintf("Sale #%d", saleID)
}

// createItem allocates a new line FEFO and draws it from the lots.
func (s *Sales) createItem(ctx context.Context, tx *sqlx.Tx, st *txState, sale domain.Sale, line SaleLine) (domain.SaleItem, error) {
	product, err := repository.GetProduct(ctx, tx, line.ProductID)
	if err != nil {
		return domain.SaleItem{}, err
	}
	lots, err := repository.ListLotsByProduct(ctx, tx, line.ProductID, true)
	if err != nil {
		return domain.SaleItem{}, err
	}
	alloc, err := ledger.Allocate(product.ID, lots, line.Quantity, s.today())
	if err != nil {
		return domain.SaleItem{}, err
	}

	item := domain.SaleItem{
		SaleID:      sale.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    alloc.Quantity,
		UnitPrice:   alloc.UnitPrice,
		LineTotal:   alloc.LineTotal,
	}
	if err := repository.InsertSaleItem(ctx, tx, &item); err != nil {
		return domain.SaleItem{}, err
	}
	if err := s.drawAllocation(ctx, tx, st, sale.SaleDate, &item, alloc); err != nil {
		return domain.SaleItem{}, err
	}
	return item, nil
}

// modifyItem restores the current draws of a line then allocates the new
// quantity from scratch.
func (s *Sales) modifyItem(ctx context.Context, tx *sqlx.Tx, st *txState, sale domain.Sale, item *domain.SaleItem, quantity int64) error {
	if err := s.reverseItem(ctx, tx, st, sale.SaleDate, *item); err != nil {
		return err
	}
	lots, err := repository.ListLotsByProduct(ctx, tx, item.ProductID, true)
	if err != nil {
		return err
	}
	alloc, err := ledger.Allocate(item.ProductID, lots, quantity, s.today())
	if err != nil {
		return err
	}
	item.Quantity = alloc.Quantity
	item.UnitPrice = alloc.UnitPrice
	item.LineTotal = alloc.LineTotal
	item.Lots = nil
	if err := repository.UpdateSaleItemPricing(ctx, tx, item); err != nil {
		return err
	}
	return s.drawAllocation(ctx, tx, st, sale.SaleDate, item, alloc)
}

// drawAllocation records the draws of a line and takes them out of the
// lots, stamping the movements with the sale's date.
func (s *Sales) drawAllocation(ctx context.Context, tx *sqlx.Tx, st *txState, saleDate time.Time, item *domain.SaleItem, alloc ledger.Allocation) error {
	for _, d := range alloc.Draws {
		lot := d.Lot
		sil := domain.SaleItemLot{
			SaleItemID:  item.ID,
			LotID:       lot.ID,
			BatchNumber: lot.BatchNumber,
			Quantity:    d.Quantity,
			UnitPrice:   d.UnitPrice,
		}
		if err := repository.InsertSaleItemLot(ctx, tx, &sil); err != nil {
			return fmt.Errorf("record draw from lot %d: %w", lot.ID, err)
		}
		_, err := applyLotMovement(ctx, tx, st, &lot, MovementInput{
			Delta:      -d.Quantity,
			Type:       domain.MovementOut,
			Source:     saleSource(item.SaleID),
			Comment:    fmt.Sprintf("Sale item #%d: %s", item.ID, item.ProductName),
			Date:       saleDate,
			ApplyToLot: true,
		})
		if err != nil {
			return err
		}
		item.Lots = append(item.Lots, sil)
	}
	return nil
}

// reverseItem returns every unit drawn by a line to its lot and forgets
// the draws. The line itself is left for the caller. The lots are locked
// through the same product query the allocator uses, so reversals and new
// draws on a product always take row locks in the same order.
func (s *Sales) reverseItem(ctx context.Context, tx *sqlx.Tx, st *txState, saleDate time.Time, item domain.SaleItem) error {
	draws, err := repository.ListSaleItemLots(ctx, tx, item.ID)
	if err != nil {
		return err
	}
	if len(draws) == 0 {
		return nil
	}
	lots, err := repository.ListLotsByProduct(ctx, tx, item.ProductID, true)
	if err != nil {
		return err
	}
	byID := make(map[int64]*domain.Lot, len(lots))
	for i := range lots {
		byID[lots[i].ID] = &lots[i]
	}
	sort.Slice(draws, func(i, j int) bool { return draws[i].LotID < draws[j].LotID })
	for _, d := range draws {
		lot, ok := byID[d.LotID]
		if !ok {
			return fmt.Errorf("sale item %d: %w", item.ID, &ledger.NotFoundError{Entity: "lot", ID: d.LotID})
		}
		_, err = applyLotMovement(ctx, tx, st, lot, MovementInput{
			Delta:      d.Quantity,
			Type:       domain.MovementIn,
			Source:     saleSource(item.SaleID) + " (reversal)",
			Comment:    fmt.Sprintf("Reversal of sale item #%d: %s", item.ID, item.ProductName),
			Date:       saleDate,
			ApplyToLot: true,
		})
		if err != nil {
			return err
		}
	}
	return repository.DeleteSaleItemLots(ctx, tx, item.ID)
}

// lockStock locks every lot of the given products up front, in ascending
// product id and then FEFO order. Commands touching several products call
// it before drawing or restoring anything so that two of them never wait
// on each other's rows in opposite orders.
func lockStock(ctx context.Context, tx *sqlx.Tx, productIDs ...int64) error {
	for _, id := range stockLockOrder(productIDs) {
		if _, err := repository.ListLotsByProduct(ctx, tx, id, true); err != nil {
			return err
		}
	}
	return nil
}

// stockLockOrder sorts and dedupes product ids.
func stockLockOrder(productIDs []int64) []int64 {
	ids := append([]int64(nil), productIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

func lineProducts(lines []SaleLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

func itemProducts(items []domain.SaleItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

func (s *Sales) checkCustomer(ctx context.Context, tx *sqlx.Tx, id *int64) error {
	if id == nil {
		return nil
	}
	_, err := repository.GetCustomer(ctx, tx, *id, false)
	return ledger.AtField("customer_id", err)
}

func (s *Sales) addLines(ctx context.Context, tx *sqlx.Tx, st *txState, sale domain.Sale, lines []SaleLine) error {
	for i, line := range lines {
		if _, err := s.createItem(ctx, tx, st, sale, line); err != nil {
			return lineError(i, err)
		}
	}
	return nil
}

func (s *Sales) addPayments(ctx context.Context, tx *sqlx.Tx, saleID int64, payments []PaymentInput) error {
	for _, in := range payments {
		if _, err := s.insertPayment(ctx, tx, saleID, in); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sales) insertPayment(ctx context.Context, tx *sqlx.Tx, saleID int64, in PaymentInput) (domain.Payment, error) {
	p := domain.Payment{
		SaleID:      saleID,
		Amount:      money.Round(in.Amount),
		Method:      in.Method,
		PaymentDate: s.today(),
		Reference:   in.Reference,
	}
	if in.PaymentDate != nil {
		p.PaymentDate = domain.DateOf(*in.PaymentDate)
	}
	if err := repository.InsertPayment(ctx, tx, &p); err != nil {
		return domain.Payment{}, fmt.Errorf("record payment: %w", err)
	}
	return p, nil
}

// settle is the tail of every sale command.
func settle(ctx context.Context, tx *sqlx.Tx, saleID int64, customerIDs ...*int64) error {
	if _, err := recomputeTotals(ctx, tx, saleID); err != nil {
		return err
	}
	return recomputeCustomerCredit(ctx, tx, customerIDs...)
}

func (s *Sales) applyHeader(sale *domain.Sale, req SaleRequest) {
	sale.CustomerID = req.CustomerID
	if req.SaleDate != nil {
		sale.SaleDate = domain.DateOf(*req.SaleDate)
	}
	sale.TaxAmount = money.Round(req.TaxAmount)
	sale.DiscountType = req.DiscountType
	sale.DiscountValue = money.Round(req.DiscountValue)
	sale.Notes = req.Notes
}

// CreateSale records a sale with its lines and payments and draws the
// stock FEFO.
func (s *Sales) CreateSale(ctx context.Context, userID int64, req SaleRequest) (domain.Sale, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{UserID: userID, SaleDate: s.today(), Status: domain.SaleDraft}
	s.applyHeader(&sale, req)
	err := s.run(ctx, "create_sale", func(tx *sqlx.Tx, st *txState) error {
		if _, err := repository.GetUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := s.checkCustomer(ctx, tx, sale.CustomerID); err != nil {
			return err
		}
		if err := repository.InsertSale(ctx, tx, &sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		if err := lockStock(ctx, tx, lineProducts(req.Items)...); err != nil {
			return err
		}
		if err := s.addLines(ctx, tx, st, sale, req.Items); err != nil {
			return err
		}
		if err := s.addPayments(ctx, tx, sale.ID, req.Payments); err != nil {
			return err
		}
		return settle(ctx, tx, sale.ID, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	logger.Log.Info().Int64("sale_id", sale.ID).Int64("user_id", userID).Int("items", len(req.Items)).Msg("sale created")
	return s.GetSale(ctx, sale.ID)
}

// UpdateSale replaces the whole content of a sale. Every line is reversed
// and rebuilt, and the payments are replaced.
func (s *Sales) UpdateSale(ctx context.Context, saleID int64, req SaleRequest) (domain.Sale, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return domain.Sale{}, err
	}

	err := s.run(ctx, "update_sale", func(tx *sqlx.Tx, st *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		previousCustomer := sale.CustomerID
		if err := s.checkCustomer(ctx, tx, req.CustomerID); err != nil {
			return err
		}

		items, err := repository.ListSaleItems(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if err := lockStock(ctx, tx, append(itemProducts(items), lineProducts(req.Items)...)...); err != nil {
			return err
		}
		for _, it := range items {
			if err := s.reverseItem(ctx, tx, st, sale.SaleDate, it); err != nil {
				return err
			}
			if err := repository.DeleteSaleItem(ctx, tx, it.ID); err != nil {
				return err
			}
		}
		if err := repository.DeletePaymentsBySale(ctx, tx, saleID); err != nil {
			return err
		}

		s.applyHeader(&sale, req)
		if err := repository.UpdateSaleHeader(ctx, tx, &sale); err != nil {
			return err
		}
		if err := s.addLines(ctx, tx, st, sale, req.Items); err != nil {
			return err
		}
		if err := s.addPayments(ctx, tx, saleID, req.Payments); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, previousCustomer, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	logger.Log.Info().Int64("sale_id", saleID).Msg("sale updated")
	return s.GetSale(ctx, saleID)
}

// DeleteSale restores all drawn stock and removes the sale with its lines,
// payments and invoices.
func (s *Sales) DeleteSale(ctx context.Context, saleID int64) error {
	err := s.run(ctx, "delete_sale", func(tx *sqlx.Tx, st *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		items, err := repository.ListSaleItems(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if err := lockStock(ctx, tx, itemProducts(items)...); err != nil {
			return err
		}
		for _, it := range items {
			if err := s.reverseItem(ctx, tx, st, sale.SaleDate, it); err != nil {
				return err
			}
		}
		if err := repository.DeleteSale(ctx, tx, saleID); err != nil {
			return err
		}
		return recomputeCustomerCredit(ctx, tx, sale.CustomerID)
	})
	if err != nil {
		return err
	}
	logger.Log.Info().Int64("sale_id", saleID).Msg("sale deleted")
	return nil
}

func (s *Sales) AddItem(ctx context.Context, saleID int64, line SaleLine) (domain.Sale, error) {
	v := &ledger.ValidationError{}
	validateLine(v, "", line)
	if err := v.Err(); err != nil {
		return domain.Sale{}, err
	}

	err := s.run(ctx, "add_item", func(tx *sqlx.Tx, st *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		items, err := repository.ListSaleItems(ctx, tx, saleID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.ProductID == line.ProductID {
				return ledger.Conflictf("product %d is already on sale %d; change its quantity instead", line.ProductID, saleID)
			}
		}
		if _, err := s.createItem(ctx, tx, st, sale, line); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return ledger.AtField("product_id", err)
			}
			return err
		}
		return settle(ctx, tx, saleID, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Sales) ChangeItemQuantity(ctx context.Context, saleID, itemID, quantity int64) (domain.Sale, error) {
	if quantity <= 0 {
		return domain.Sale{}, ledger.Invalid("quantity", "must be greater than zero")
	}

	err := s.run(ctx, "change_item_quantity", func(tx *sqlx.Tx, st *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		item, err := repository.GetSaleItem(ctx, tx, saleID, itemID)
		if err != nil {
			return err
		}
		if err := s.modifyItem(ctx, tx, st, sale, &item, quantity); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Sales) RemoveItem(ctx context.Context, saleID, itemID int64) (domain.Sale, error) {
	err := s.run(ctx, "remove_item", func(tx *sqlx.Tx, st *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		item, err := repository.GetSaleItem(ctx, tx, saleID, itemID)
		if err != nil {
			return err
		}
		if err := s.reverseItem(ctx, tx, st, sale.SaleDate, item); err != nil {
			return err
		}
		if err := repository.DeleteSaleItem(ctx, tx, item.ID); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Sales) RecordPayment(ctx context.Context, saleID int64, in PaymentInput) (domain.Sale, error) {
	v := &ledger.ValidationError{}
	validatePayment(v, "", in)
	if err := v.Err(); err != nil {
		return domain.Sale{}, err
	}

	err := s.run(ctx, "record_payment", func(tx *sqlx.Tx, _ *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		if _, err := s.insertPayment(ctx, tx, saleID, in); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	logger.Log.Info().Int64("sale_id", saleID).Str("amount", money.Format(in.Amount)).Str("method", string(in.Method)).Msg("payment recorded")
	return s.GetSale(ctx, saleID)
}

func (s *Sales) DeletePayment(ctx context.Context, saleID, paymentID int64) (domain.Sale, error) {
	err := s.run(ctx, "delete_payment", func(tx *sqlx.Tx, _ *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		if _, err := repository.GetPayment(ctx, tx, saleID, paymentID); err != nil {
			return err
		}
		if err := repository.DeletePayment(ctx, tx, paymentID); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, sale.CustomerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

// SetDiscount changes the discount of a sale. Lines keep their lots.
func (s *Sales) SetDiscount(ctx context.Context, saleID int64, typ domain.DiscountType, value decimal.Decimal) (domain.Sale, error) {
	if err := ledger.ValidateDiscountInput(typ, value); err != nil {
		return domain.Sale{}, err
	}
	err := s.updateHeader(ctx, "set_discount", saleID, func(sale *domain.Sale) {
		sale.DiscountType = typ
		sale.DiscountValue = money.Round(value)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Sales) SetTax(ctx context.Context, saleID int64, tax decimal.Decimal) (domain.Sale, error) {
	if tax.IsNegative() {
		return domain.Sale{}, ledger.Invalid("tax_amount", "must not be negative")
	}
	err := s.updateHeader(ctx, "set_tax", saleID, func(sale *domain.Sale) {
		sale.TaxAmount = money.Round(tax)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

// ChangeCustomer moves a sale to another customer, or to none, and
// refreshes the credit of both.
func (s *Sales) ChangeCustomer(ctx context.Context, saleID int64, customerID *int64) (domain.Sale, error) {
	if customerID != nil && *customerID <= 0 {
		return domain.Sale{}, ledger.Invalid("customer_id", "must be a positive id")
	}
	err := s.run(ctx, "change_customer", func(tx *sqlx.Tx, _ *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		if err := s.checkCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		previous := sale.CustomerID
		sale.CustomerID = customerID
		if err := repository.UpdateSaleHeader(ctx, tx, &sale); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, previous, customerID)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Sales) updateHeader(ctx context.Context, command string, saleID int64, change func(*domain.Sale)) error {
	return s.run(ctx, command, func(tx *sqlx.Tx, _ *txState) error {
		sale, err := repository.GetSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		change(&sale)
		if err := repository.UpdateSaleHeader(ctx, tx, &sale); err != nil {
			return err
		}
		return settle(ctx, tx, saleID, sale.CustomerID)
	})
}

// GetSale loads a sale with its lines, their lots and its payments.
func (s *Sales) GetSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	return loadSale(ctx, s.db, saleID)
}

func loadSale(ctx context.Context, q sqlx.ExtContext, saleID int64) (domain.Sale, error) {
	sale, err := repository.GetSale(ctx, q, saleID, false)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Items, err = repository.ListSaleItems(ctx, q, saleID); err != nil {
		return domain.Sale{}, err
	}
	for i := range sale.Items {
		if sale.Items[i].Lots, err = repository.ListSaleItemLots(ctx, q, sale.Items[i].ID); err != nil {
			return domain.Sale{}, err
		}
	}
	if sale.Payments, err = repository.ListPayments(ctx, q, saleID); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Sales) ListSales(ctx context.Context, f repository.SaleFilter) ([]domain.Sale, error) {
	return repository.ListSales(ctx, s.db, f)
}
