package service

import (
	"context"
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

const defaultExpiryWindowDays = 30

// Inventory owns purchase orders, lots and their movements.
type Inventory struct {
	*Core
}

func NewInventory(core *Core) *Inventory {
	return &Inventory{Core: core}
}

// LotInput is one received batch of a purchase order.
type LotInput struct {
	ProductID      int64
	BatchNumber    string
	Quantity       int64
	ExpirationDate time.Time
	PurchasePrice  decimal.Decimal
	SalePrice      decimal.Decimal
}

func validateLots(lots []LotInput) error {
	v := &ledger.ValidationError{}
	if len(lots) == 0 {
		v.Add("lots", "at least one lot is required")
	}
	for i, l := range lots {
		key := func(field string) string { return fmt.Sprintf("lots.%d.%s", i, field) }
		if l.ProductID <= 0 {
			v.Add(key("product_id"), "is required")
		}
		if l.BatchNumber == "" {
			v.Add(key("batch_number"), "is required")
		}
		if l.Quantity <= 0 {
			v.Add(key("quantity"), "must be greater than zero")
		}
		if l.ExpirationDate.IsZero() {
			v.Add(key("expiration_date"), "is required")
		}
		if l.PurchasePrice.IsNegative() {
			v.Add(key("purchase_price"), "must not be negative")
		}
		if !l.SalePrice.IsPositive() {
			v.Add(key("sale_price"), "must be greater than zero")
		}
	}
	return v.Err()
}

func (s *Inventory) CreatePurchaseOrder(ctx context.Context, supplierID int64, orderDate *time.Time, notes string) (domain.PurchaseOrder, error) {
	if supplierID <= 0 {
		return domain.PurchaseOrder{}, ledger.Invalid("supplier_id", "is required")
	}
	po := domain.PurchaseOrder{SupplierID: supplierID, Status: domain.PODraft, OrderDate: s.today(), Notes: notes}
	if orderDate != nil {
		po.OrderDate = domain.DateOf(*orderDate)
	}
	err := s.run(ctx, "create_purchase_order", func(tx *sqlx.Tx, _ *txState) error {
		if _, err := repository.GetSupplier(ctx, tx, supplierID); err != nil {
			return ledger.AtField("supplier_id", err)
		}
		return repository.InsertPurchaseOrder(ctx, tx, &po)
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return po, nil
}

func (s *Inventory) GetPurchaseOrder(ctx context.Context, id int64) (domain.PurchaseOrder, error) {
	po, err := repository.GetPurchaseOrder(ctx, s.db, id, false)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	po.Lots, err = repository.ListLotsByPurchaseOrder(ctx, s.db, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return po, nil
}

func (s *Inventory) ListPurchaseOrders(ctx context.Context, status domain.POStatus) ([]domain.PurchaseOrder, error) {
	return repository.ListPurchaseOrders(ctx, s.db, status)
}

// ReceivePurchaseOrder creates one lot per received batch, records an
// incoming movement for each and marks the order received.
func (s *Inventory) ReceivePurchaseOrder(ctx context.Context, poID int64, lots []LotInput) (domain.PurchaseOrder, error) {
	if err := validateLots(lots); err != nil {
		return domain.PurchaseOrder{}, err
	}

	today := s.today()
	err := s.run(ctx, "receive_purchase_order", func(tx *sqlx.Tx, st *txState) error {
		po, err := repository.GetPurchaseOrder(ctx, tx, poID, true)
		if err != nil {
			return err
		}
		if po.Status != domain.PODraft {
			return ledger.Conflictf("purchase order %d is %s", po.ID, po.Status)
		}

		for i, in := range lots {
			if _, err := repository.GetProduct(ctx, tx, in.ProductID); err != nil {
				return ledger.AtField(fmt.Sprintf("lots.%d.product_id", i), err)
			}
			lot := domain.Lot{
				ProductID:       in.ProductID,
				PurchaseOrderID: po.ID,
				BatchNumber:     in.BatchNumber,
				Quantity:        in.Quantity,
				ExpirationDate:  in.ExpirationDate,
				PurchasePrice:   money.Round(in.PurchasePrice),
				SalePrice:       money.Round(in.SalePrice),
				IsActive:        true,
			}
			if err := repository.InsertLot(ctx, tx, &lot); err != nil {
				return fmt.Errorf("insert lot %q: %w", in.BatchNumber, err)
			}
			_, err := applyLotMovement(ctx, tx, st, &lot, MovementInput{
				Delta:   lot.Quantity,
				Type:    domain.MovementIn,
				Source:  fmt.Sprintf("PO #%d", po.ID),
				Comment: fmt.Sprintf("Receipt of batch %s", lot.BatchNumber),
				Date:    today,
			})
			if err != nil {
				return err
			}
		}
		return repository.SetPurchaseOrderStatus(ctx, tx, po.ID, domain.POReceived, &today)
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	logger.Log.Info().Int64("purchase_order_id", poID).Int("lots", len(lots)).Msg("purchase order received")
	return s.GetPurchaseOrder(ctx, poID)
}

func (s *Inventory) CancelPurchaseOrder(ctx context.Context, poID int64) (domain.PurchaseOrder, error) {
	err := s.run(ctx, "cancel_purchase_order", func(tx *sqlx.Tx, _ *txState) error {
		po, err := repository.GetPurchaseOrder(ctx, tx, poID, true)
		if err != nil {
			return err
		}
		if po.Status != domain.PODraft {
			return ledger.Conflictf("purchase order %d is %s", po.ID, po.Status)
		}
		return repository.SetPurchaseOrderStatus(ctx, tx, po.ID, domain.POCancelled, nil)
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return s.GetPurchaseOrder(ctx, poID)
}

// ApplyLotMovement records a manual movement. delta is signed: positive
// adds stock, negative removes it.
func (s *Inventory) ApplyLotMovement(ctx context.Context, lotID, delta int64, typ domain.MovementType, source, comment string) (domain.StockMovement, error) {
	if err := ledger.CheckDirection(typ, delta); err != nil {
		return domain.StockMovement{}, err
	}
	if source == "" {
		source = "Manual"
	}
	var m domain.StockMovement
	err := s.run(ctx, "apply_lot_movement", func(tx *sqlx.Tx, st *txState) error {
		lot, err := repository.GetLot(ctx, tx, lotID, true)
		if err != nil {
			return err
		}
		m, err = applyLotMovement(ctx, tx, st, &lot, MovementInput{
			Delta: delta, Type: typ, Source: source, Comment: comment, Date: s.today(), ApplyToLot: true,
		})
		return err
	})
	return m, err
}

// CountLot reconciles a lot with a physical count. It returns nil when
// the count matches the ledger.
func (s *Inventory) CountLot(ctx context.Context, lotID, counted int64, comment string) (*domain.StockMovement, error) {
	if counted < 0 {
		return nil, ledger.Invalid("counted_quantity", "must not be negative")
	}
	var out *domain.StockMovement
	err := s.run(ctx, "count_lot", func(tx *sqlx.Tx, st *txState) error {
		lot, err := repository.GetLot(ctx, tx, lotID, true)
		if err != nil {
			return err
		}
		if counted > lot.Quantity {
			return ledger.Invalid("counted_quantity", fmt.Sprintf("must not exceed the received quantity %d", lot.Quantity))
		}
		delta := counted - lot.RemainingQuantity
		if delta == 0 {
			return nil
		}
		if comment == "" {
			comment = fmt.Sprintf("Stock count: %d counted, %d on record", counted, lot.RemainingQuantity)
		}
		m, err := applyLotMovement(ctx, tx, st, &lot, MovementInput{
			Delta: delta, Type: domain.MovementAdjustment, Source: "Stock count", Comment: comment, Date: s.today(), ApplyToLot: true,
		})
		if err != nil {
			return err
		}
		out = &m
		return nil
	})
	return out, err
}

// WriteOffExpired removes the whole remaining quantity of an expired lot.
func (s *Inventory) WriteOffExpired(ctx context.Context, lotID int64, comment string) (domain.StockMovement, error) {
	var m domain.StockMovement
	today := s.today()
	err := s.run(ctx, "write_off_lot", func(tx *sqlx.Tx, st *txState) error {
		lot, err := repository.GetLot(ctx, tx, lotID, true)
		if err != nil {
			return err
		}
		if !lot.IsExpired(today) {
			return ledger.Conflictf("lot %d expires on %s and cannot be written off yet", lot.ID, lot.ExpirationDate.Format("2006-01-02"))
		}
		if lot.RemainingQuantity == 0 {
			return ledger.Conflictf("lot %d has no stock left", lot.ID)
		}
		if comment == "" {
			comment = fmt.Sprintf("Expired batch %s written off", lot.BatchNumber)
		}
		m, err = applyLotMovement(ctx, tx, st, &lot, MovementInput{
			Delta: -lot.RemainingQuantity, Type: domain.MovementOut, Source: "Expiry write-off", Comment: comment, Date: today, ApplyToLot: true,
		})
		return err
	})
	return m, err
}

func (s *Inventory) SetLotActive(ctx context.Context, lotID int64, active bool) (domain.Lot, error) {
	var lot domain.Lot
	err := s.run(ctx, "set_lot_active", func(tx *sqlx.Tx, st *txState) error {
		var err error
		lot, err = repository.GetLot(ctx, tx, lotID, true)
		if err != nil {
			return err
		}
		if err := repository.SetLotActive(ctx, tx, lotID, active); err != nil {
			return err
		}
		lot.IsActive = active
		st.touch(lot.ProductID)
		return nil
	})
	return lot, err
}

func (s *Inventory) LotMovements(ctx context.Context, lotID int64) ([]domain.StockMovement, error) {
	if _, err := repository.GetLot(ctx, s.db, lotID, false); err != nil {
		return nil, err
	}
	return repository.ListMovementsByLot(ctx, s.db, lotID)
}

// ExpiringLots lists lots with stock that expire within days from today,
// including those already expired.
func (s *Inventory) ExpiringLots(ctx context.Context, days int) ([]domain.ExpiringLot, error) {
	if days <= 0 {
		days = defaultExpiryWindowDays
	}
	today := s.today()
	lots, err := repository.ListExpiringLots(ctx, s.db, today.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	for i := range lots {
		lots[i].IsExpired = !domain.DateOf(lots[i].ExpirationDate).After(today)
	}
	return lots, nil
}

// StockInfo returns the sellable and expired breakdown of a product,
// served from the stock cache when possible.
func (s *Inventory) StockInfo(ctx context.Context, productID int64) (domain.StockInfo, error) {
	today := s.today()
	// The generation is read before the lots so that a commit landing in
	// between leaves this result under an already superseded key.
	gen, genErr := s.cache.Generation(ctx, productID)
	if genErr != nil {
		logger.Log.Warn().Err(genErr).Int64("product_id", productID).Msg("stock cache generation read failed")
	} else if info, ok, err := s.cache.Get(ctx, productID, gen, today); err != nil {
		logger.Log.Warn().Err(err).Int64("product_id", productID).Msg("stock cache read failed")
	} else if ok {
		return *info, nil
	}

	product, err := repository.GetProduct(ctx, s.db, productID)
	if err != nil {
		return domain.StockInfo{}, err
	}
	lots, err := repository.ListLotsByProduct(ctx, s.db, productID, false)
	if err != nil {
		return domain.StockInfo{}, err
	}
	info := buildStockInfo(product, lots, today)
	if genErr == nil {
		if err := s.cache.Set(ctx, gen, today, &info); err != nil {
			logger.Log.Warn().Err(err).Int64("product_id", productID).Msg("stock cache write failed")
		}
	}
	return info, nil
}

// StockReport builds the stock breakdown of every product.
func (s *Inventory) StockReport(ctx context.Context) ([]domain.StockInfo, error) {
	products, err := repository.ListProducts(ctx, s.db)
	if err != nil {
		return nil, err
	}
	lots, err := repository.ListAllLots(ctx, s.db)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64][]domain.Lot)
	for _, l := range lots {
		byProduct[l.ProductID] = append(byProduct[l.ProductID], l)
	}
	today := s.today()
	out := make([]domain.StockInfo, 0, len(products))
	for _, p := range products {
		out = append(out, buildStockInfo(p, byProduct[p.ID], today))
	}
	return out, nil
}

func buildStockInfo(p domain.Product, lots []domain.Lot, asOf time.Time) domain.StockInfo {
	info := domain.StockInfo{
		ProductID:      p.ID,
		ProductName:    p.Name,
		SalePrice:      ledger.CurrentSalePrice(lots),
		Sellable:       ledger.Available(lots, asOf),
		Expired:        ledger.Expired(lots, asOf),
		StockThreshold: p.StockThreshold,
		Lots:           make([]domain.LotStock, 0, len(lots)),
	}
	info.BelowThreshold = info.Sellable <= p.StockThreshold
	for _, l := range lots {
		info.Lots = append(info.Lots, domain.LotStock{
			LotID:             l.ID,
			BatchNumber:       l.BatchNumber,
			ExpirationDate:    l.ExpirationDate,
			RemainingQuantity: l.RemainingQuantity,
			SalePrice:         l.SalePrice,
			IsActive:          l.IsActive,
			IsExpired:         l.IsExpired(asOf),
		})
	}
	sort.SliceStable(info.Lots, func(i, j int) bool {
		return info.Lots[i].ExpirationDate.Before(info.Lots[j].ExpirationDate)
	})
	return info
}

// DrawPreview is one lot of a planned allocation.
type DrawPreview struct {
	LotID          int64           `json:"lot_id"`
	BatchNumber    string          `json:"batch_number"`
	ExpirationDate time.Time       `json:"expiration_date"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// AllocationPreview answers whether a quantity could be sold right now.
type AllocationPreview struct {
	Valid     bool            `json:"valid"`
	ProductID int64           `json:"product_id"`
	Requested int64           `json:"requested"`
	Available int64           `json:"available"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	Draws     []DrawPreview   `json:"lots"`
}

// ValidateAllocation plans a FEFO draw without changing anything.
func (s *Inventory) ValidateAllocation(ctx context.Context, productID, quantity int64) (AllocationPreview, error) {
	if productID <= 0 {
		return AllocationPreview{}, ledger.Invalid("product_id", "is required")
	}
	if quantity <= 0 {
		return AllocationPreview{}, ledger.Invalid("quantity", "must be greater than zero")
	}

	today := s.today()
	preview := AllocationPreview{ProductID: productID, Requested: quantity, Draws: []DrawPreview{}}
	err := s.db.ReadTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := repository.GetProduct(ctx, tx, productID); err != nil {
			return err
		}
		lots, err := repository.ListLotsByProduct(ctx, tx, productID, false)
		if err != nil {
			return err
		}
		preview.Available = ledger.Available(lots, today)
		alloc, err := ledger.Allocate(productID, lots, quantity, today)
		if err != nil {
			return err
		}
		preview.Valid = true
		preview.UnitPrice = alloc.UnitPrice
		preview.LineTotal = alloc.LineTotal
		for _, d := range alloc.Draws {
			preview.Draws = append(preview.Draws, DrawPreview{
				LotID:          d.Lot.ID,
				BatchNumber:    d.Lot.BatchNumber,
				ExpirationDate: d.Lot.ExpirationDate,
				Quantity:       d.Quantity,
				UnitPrice:      d.UnitPrice,
			})
		}
		return nil
	})
	if err != nil && !isInsufficient(err) {
		return AllocationPreview{}, err
	}
	return preview, nil
}
