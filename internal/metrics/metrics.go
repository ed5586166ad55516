package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// QueueSize is the current queue depth per priority tier.
	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "txnengine",
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of queued transactions by priority.",
		}, []string{"queue", "priority"})

	// Submitted counts accepted submissions.
	Submitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnengine",
			Subsystem: "manager",
			Name:      "submitted_total",
			Help:      "Transactions accepted for processing.",
		}, []string{"type", "priority"})

	// Processed counts terminal outcomes per node and status.
	Processed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnengine",
			Subsystem: "processor",
			Name:      "processed_total",
			Help:      "Transactions that reached a terminal status.",
		}, []string{"node", "status"})

	// ProcessingDuration observes wall time per transaction.
	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txnengine",
			Subsystem: "processor",
			Name:      "duration_seconds",
			Help:      "Time spent processing a transaction to a terminal status.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"node", "type"})

	// ActiveTransactions is the in-flight count per node.
	ActiveTransactions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "txnengine",
			Subsystem: "processor",
			Name:      "active",
			Help:      "Transactions currently executing on a node.",
		}, []string{"node"})

	// Retries counts re-executions after a transient failure.
	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnengine",
			Subsystem: "processor",
			Name:      "retries_total",
			Help:      "Transient failures that triggered another attempt.",
		}, []string{"node", "type"})

	// Selections counts balancer decisions by strategy and outcome.
	Selections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txnengine",
			Subsystem: "balancer",
			Name:      "selections_total",
			Help:      "Node selection attempts by strategy and result.",
		}, []string{"strategy", "result"})
)

func init() {
	prometheus.MustRegister(QueueSize)
	prometheus.MustRegister(Submitted)
	prometheus.MustRegister(Processed)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(ActiveTransactions)
	prometheus.MustRegister(Retries)
	prometheus.MustRegister(Selections)
}
