package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pharmaledger/m/domain"
)

var (
	SalesCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_sales_commands_total",
		Help: "Sale ledger commands by command and outcome.",
	}, []string{"command", "outcome"})

	StockMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_stock_movements_total",
		Help: "Stock movements written, by movement type.",
	}, []string{"type"})

	InsufficientStock = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmaledger_insufficient_stock_total",
		Help: "Allocations rejected for lack of sellable stock.",
	})

	TxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmaledger_tx_duration_seconds",
		Help:    "Duration of ledger transactions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
)

// ObserveCommand records the outcome and duration of a ledger command.
func ObserveCommand(command string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SalesCommands.WithLabelValues(command, outcome).Inc()
	TxDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}

func ObserveMovement(t domain.MovementType) {
	StockMovements.WithLabelValues(string(t)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
