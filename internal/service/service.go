// Package service implements the ledger commands. Every public mutation
// runs in one transaction, performs its change, then explicitly
// recomputes the settlement figures it may have affected.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmaledger/m/domain"
	"pharmaledger/m/internal/cache"
	"pharmaledger/m/internal/database"
	"pharmaledger/m/internal/ledger"
	"pharmaledger/m/internal/metrics"
	"pharmaledger/m/pkg/logger"
)

// Core is shared by every service.
type Core struct {
	db    *database.DB
	cache cache.StockCache
	now   func() time.Time
}

type Option func(*Core)

// WithClock replaces time.Now, which decides "today" for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

func WithStockCache(sc cache.StockCache) Option {
	return func(c *Core) { c.cache = sc }
}

func NewCore(db *database.DB, opts ...Option) *Core {
	c := &Core{db: db, cache: cache.NewNoopStockCache(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Core) today() time.Time {
	return domain.DateOf(c.now())
}

// txState collects what a command touched so that work outside the
// transaction runs only once it has committed.
type txState struct {
	products  map[int64]struct{}
	movements []domain.MovementType
}

func (s *txState) touch(productID int64) {
	if s.products == nil {
		s.products = make(map[int64]struct{})
	}
	s.products[productID] = struct{}{}
}

func (s *txState) moved(t domain.MovementType, productID int64) {
	s.movements = append(s.movements, t)
	s.touch(productID)
}

// run executes fn as the named command inside one transaction.
func (c *Core) run(ctx context.Context, command string, fn func(tx *sqlx.Tx, st *txState) error) error {
	started := time.Now()
	st := &txState{}
	err := c.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		*st = txState{}
		return fn(tx, st)
	})
	metrics.ObserveCommand(command, started, err)
	if err != nil {
		if isInsufficient(err) {
			metrics.InsufficientStock.Inc()
		}
		return err
	}
	c.afterCommit(ctx, st)
	return nil
}

func (c *Core) afterCommit(ctx context.Context, st *txState) {
	for _, t := range st.movements {
		metrics.ObserveMovement(t)
	}
	if len(st.products) == 0 {
		return
	}
	ids := make([]int64, 0, len(st.products))
	for id := range st.products {
		ids = append(ids, id)
	}
	if err := c.cache.Invalidate(ctx, ids...); err != nil {
		logger.Log.Warn().Err(err).Ints64("products", ids).Msg("stock cache invalidation failed")
	}
}

func isInsufficient(err error) bool {
	return errors.Is(err, ledger.ErrInsufficientStock)
}
