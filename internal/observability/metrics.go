package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the wrapper service.
type Metrics struct {
	// --- Factory ---
	WrappersDeployed     prometheus.Counter
	DeployIdempotentHits prometheus.Counter
	DeployRejected       *prometheus.CounterVec

	// --- Vault lifecycle ---
	SharesMinted         *prometheus.CounterVec
	SharesRedeemed       *prometheus.CounterVec
	SlippageRejections   *prometheus.CounterVec
	SettlementsTriggered prometheus.Counter
	VaultShareSupply     *prometheus.GaugeVec

	// --- Event pipeline ---
	EventsEmitted       *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		WrappersDeployed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_wrappers_deployed_total",
			Help: "Wrapper vaults deployed",
		}),

		DeployIdempotentHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_deploy_idempotent_hits_total",
			Help: "Deploy requests that returned an existing wrapper",
		}),

		DeployRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_deploy_rejected_total",
			Help: "Deploy requests rejected (invalid currency or maturity)",
		}, []string{"reason"}),

		SharesMinted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_shares_minted_total",
			Help: "Share mint operations by funding path",
		}, []string{"symbol", "path"}),

		SharesRedeemed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_shares_redeemed_total",
			Help: "Share redemptions by denomination and vault state",
		}, []string{"symbol", "denomination", "state"}),

		SlippageRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_slippage_rejections_total",
			Help: "Trades rejected by the implied rate guard",
		}, []string{"symbol", "side"}),

		SettlementsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_settlements_triggered_total",
			Help: "Lazy post-maturity settlements executed",
		}),

		VaultShareSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wfcash_vault_share_supply",
			Help: "Outstanding wrapper shares per vault (8 dp units)",
		}, []string{"symbol"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_events_emitted_total",
			Help: "Domain events emitted",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_persist_backpressure_total",
			Help: "Times emission blocked on the persist channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wfcash_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "wfcash_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: latencyBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wfcash_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wfcash_persist_last_sequence",
			Help: "Last persisted event sequence",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wfcash_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wfcash_api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),
	}
}
