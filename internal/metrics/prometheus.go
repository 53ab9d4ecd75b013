package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus is an Observer backed by Prometheus collectors.
type Prometheus struct {
	connectionsOpened *prometheus.CounterVec
	connectionsClosed *prometheus.CounterVec
	connectionsOpen   *prometheus.GaugeVec

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	rowsReturned  *prometheus.HistogramVec

	statementsPrepared prometheus.Counter
	statementRuns      *prometheus.CounterVec
	statementDuration  prometheus.Histogram

	transactionsStarted prometheus.Counter
	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec

	poolActive       prometheus.Gauge
	poolIdle         prometheus.Gauge
	poolWaiting      prometheus.Gauge
	checkoutWait     prometheus.Histogram
	checkoutTimeouts prometheus.Counter

	errors       *prometheus.CounterVec
	databaseSize prometheus.Gauge
}

var _ Observer = (*Prometheus)(nil)

// NewPrometheus registers the connpool collectors with reg under namespace.
// Registering twice with the same registry and namespace panics.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if namespace == "" {
		namespace = "connpool"
	}
	f := promauto.With(reg)

	return &Prometheus{
		connectionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of native connections opened",
		}, []string{"engine"}),
		connectionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of native connections closed",
		}, []string{"engine"}),
		connectionsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of native connections currently open",
		}, []string{"engine"}),

		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of statements executed",
		}, []string{"type", "status"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Statement execution latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"type"}),
		rowsReturned: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_rows_returned",
			Help:      "Rows returned per query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"type"}),

		statementsPrepared: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "statement",
			Name:      "prepared_total",
			Help:      "Total number of statements prepared",
		}),
		statementRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "statement",
			Name:      "executions_total",
			Help:      "Total number of prepared statement executions",
		}, []string{"status"}),
		statementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "statement",
			Name:      "duration_seconds",
			Help:      "Prepared statement execution latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),

		transactionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "started_total",
			Help:      "Total number of transactions started",
		}),
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "completed_total",
			Help:      "Total number of transactions completed",
		}, []string{"outcome"}),
		transactionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Transaction lifetime from begin to commit or rollback",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"outcome"}),

		poolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active_connections",
			Help:      "Connections currently checked out",
		}),
		poolIdle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "idle_connections",
			Help:      "Connections waiting in the idle queue",
		}),
		poolWaiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "waiting_checkouts",
			Help:      "Checkouts blocked waiting for a connection",
		}),
		checkoutWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "checkout_wait_seconds",
			Help:      "Time spent waiting for a connection",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
		checkoutTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "checkout_timeouts_total",
			Help:      "Total number of checkouts that timed out",
		}),

		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of database errors by kind",
		}, []string{"kind"}),
		databaseSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_size_bytes",
			Help:      "Database size in bytes as last sampled by pool maintenance",
		}),
	}
}

func (p *Prometheus) ConnectionOpened(engine string) {
	p.connectionsOpened.WithLabelValues(engine).Inc()
	p.connectionsOpen.WithLabelValues(engine).Inc()
}

func (p *Prometheus) ConnectionClosed(engine string) {
	p.connectionsClosed.WithLabelValues(engine).Inc()
	p.connectionsOpen.WithLabelValues(engine).Dec()
}

func (p *Prometheus) QueryExecuted(sql string, elapsed time.Duration, ok bool) {
	typ := ClassifySQL(sql)
	p.queries.WithLabelValues(typ, status(ok)).Inc()
	p.queryDuration.WithLabelValues(typ).Observe(elapsed.Seconds())
}

func (p *Prometheus) RowsReturned(sql string, n int) {
	p.rowsReturned.WithLabelValues(ClassifySQL(sql)).Observe(float64(n))
}

func (p *Prometheus) StatementPrepared() {
	p.statementsPrepared.Inc()
}

func (p *Prometheus) StatementExecuted(elapsed time.Duration, ok bool) {
	p.statementRuns.WithLabelValues(status(ok)).Inc()
	p.statementDuration.Observe(elapsed.Seconds())
}

func (p *Prometheus) TransactionStarted() {
	p.transactionsStarted.Inc()
}

func (p *Prometheus) TransactionCompleted(outcome Outcome, elapsed time.Duration) {
	p.transactions.WithLabelValues(string(outcome)).Inc()
	p.transactionDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (p *Prometheus) PoolUpdated(active, idle, waiting int) {
	p.poolActive.Set(float64(active))
	p.poolIdle.Set(float64(idle))
	p.poolWaiting.Set(float64(waiting))
}

func (p *Prometheus) CheckoutAcquired(wait time.Duration) {
	p.checkoutWait.Observe(wait.Seconds())
}

func (p *Prometheus) CheckoutTimedOut() {
	p.checkoutTimeouts.Inc()
}

func (p *Prometheus) DatabaseError(kind string) {
	p.errors.WithLabelValues(kind).Inc()
}

func (p *Prometheus) DatabaseSizeUpdated(bytes uint64) {
	p.databaseSize.Set(float64(bytes))
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
