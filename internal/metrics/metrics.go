package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Engine
	OrdersCreated   prometheus.Counter
	OrdersDeleted   prometheus.Counter
	LinesAdded      prometheus.Counter
	Checkouts       prometheus.Counter
	CheckoutAmount  prometheus.Counter
	CatalogLoads    prometheus.Counter
	CatalogRejected prometheus.Counter
	CatalogProducts prometheus.Gauge
	SessionsClosed  prometheus.Counter
	KeypadEntries   *prometheus.CounterVec
	KeypadRejected  prometheus.Counter
	ScanMisses      prometheus.Counter

	// Sync pipeline
	JobsEnqueued      *prometheus.CounterVec
	JobsPublished     prometheus.Counter
	JobsFailed        prometheus.Counter
	JobsReplayed      prometheus.Counter
	JobsSkipped       prometheus.Counter
	QueueDepth        prometheus.Gauge
	PublishLatencySec prometheus.Histogram
	OutboxAppended    prometheus.Counter
	OutboxErrors      prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_orders_created_total"})
	ordersDeleted := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_orders_deleted_total"})
	linesAdded := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_lines_added_total"})
	checkouts := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_checkouts_total"})
	checkoutAmount := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_checkout_amount_total", Help: "Sum of checked out totals including tax."})
	catalogLoads := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_catalog_loads_total"})
	catalogRejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_catalog_rejected_total"})
	catalogProducts := prometheus.NewGauge(prometheus.GaugeOpts{Name: "spos_catalog_products"})
	sessionsClosed := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_sessions_closed_total"})
	keypadEntries := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "spos_keypad_entries_total"}, []string{"mode"})
	keypadRejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_keypad_rejected_total"})
	scanMisses := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_scan_misses_total"})

	jobsEnqueued := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "spos_jobs_enqueued_total"}, []string{"type"})
	jobsPublished := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_jobs_published_total"})
	jobsFailed := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_jobs_failed_total"})
	jobsReplayed := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_jobs_replayed_total"})
	jobsSkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_jobs_replay_skipped_total"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{Name: "spos_queue_depth"})
	publishLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spos_publish_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	outboxAppended := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_outbox_appended_total"})
	outboxErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "spos_outbox_errors_total"})

	r.MustRegister(ordersCreated, ordersDeleted, linesAdded, checkouts, checkoutAmount, catalogLoads,
		catalogRejected, catalogProducts, sessionsClosed, keypadEntries, keypadRejected, scanMisses,
		jobsEnqueued, jobsPublished, jobsFailed, jobsReplayed, jobsSkipped, queueDepth, publishLatency,
		outboxAppended, outboxErrors)
	return &Registry{
		reg:               r,
		OrdersCreated:     ordersCreated,
		OrdersDeleted:     ordersDeleted,
		LinesAdded:        linesAdded,
		Checkouts:         checkouts,
		CheckoutAmount:    checkoutAmount,
		CatalogLoads:      catalogLoads,
		CatalogRejected:   catalogRejected,
		CatalogProducts:   catalogProducts,
		SessionsClosed:    sessionsClosed,
		KeypadEntries:     keypadEntries,
		KeypadRejected:    keypadRejected,
		ScanMisses:        scanMisses,
		JobsEnqueued:      jobsEnqueued,
		JobsPublished:     jobsPublished,
		JobsFailed:        jobsFailed,
		JobsReplayed:      jobsReplayed,
		JobsSkipped:       jobsSkipped,
		QueueDepth:        queueDepth,
		PublishLatencySec: publishLatency,
		OutboxAppended:    outboxAppended,
		OutboxErrors:      outboxErrors,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
