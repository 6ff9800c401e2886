package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	disputeVerifier = "dispute_verifier"

	// Pipeline metrics
	stageProcessedTotal       = "stage_processed_total"
	stageDurationMilliseconds = "stage_duration_milliseconds"

	// Queue metrics
	queueClaimsTotal      = "queue_claims_total"
	queueDeadLettersTotal = "queue_dead_letters_total"

	// Admission metrics
	admissionDecisionsTotal = "admission_decisions_total"

	// Worker metrics
	WorkerStateCount = "worker_state_count"

	// Labels
	stageLabel    = "stage"
	outcomeLabel  = "outcome"
	decisionLabel = "decision"
	windowLabel   = "window"
	stateLabel    = "state"
)

var stageProcessedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: disputeVerifier,
		Name:      stageProcessedTotal,
		Help:      "number of processed stage executions partitioned by stage and outcome",
	},
	[]string{stageLabel, outcomeLabel},
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: disputeVerifier,
		Name:      stageDurationMilliseconds,
		Help:      "time spent executing a pipeline stage",
		Buckets:   []float64{50, 100, 300, 500, 1000, 5000, 15000, 60000},
	},
	[]string{stageLabel},
)

var queueClaimsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: disputeVerifier,
		Name:      queueClaimsTotal,
		Help:      "number of messages claimed from the queue",
	},
	[]string{stageLabel},
)

var queueDeadLettersTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: disputeVerifier,
		Name:      queueDeadLettersTotal,
		Help:      "number of messages moved to the dead letter store",
	},
	[]string{stageLabel},
)

var admissionDecisionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: disputeVerifier,
		Name:      admissionDecisionsTotal,
		Help:      "number of admission decisions partitioned by decision and exceeded window",
	},
	[]string{decisionLabel, windowLabel},
)

var workerStateCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: disputeVerifier,
		Name:      WorkerStateCount,
		Help:      "number of workers in each state",
	},
	[]string{stateLabel},
)

func IncreaseStageProcessedMetric(stage, outcome string) {
	stageProcessedTotalMetric.With(prometheus.Labels{stageLabel: stage, outcomeLabel: outcome}).Inc()
}

func ObserveStageDurationMetric(stage string, d time.Duration) {
	stageDurationMetric.With(prometheus.Labels{stageLabel: stage}).Observe(float64(d.Milliseconds()))
}

func IncreaseQueueClaimsMetric(stage string) {
	queueClaimsTotalMetric.With(prometheus.Labels{stageLabel: stage}).Inc()
}

func IncreaseDeadLettersMetric(stage string) {
	queueDeadLettersTotalMetric.With(prometheus.Labels{stageLabel: stage}).Inc()
}

// IncreaseAdmissionDecisionMetric records one admission decision. window is
// empty for admitted requests and names the first exceeded window otherwise.
func IncreaseAdmissionDecisionMetric(decision, window string) {
	admissionDecisionsTotalMetric.With(prometheus.Labels{decisionLabel: decision, windowLabel: window}).Inc()
}

func UpdateWorkerStateCountMetric(state string, count int) {
	workerStateCountMetric.With(prometheus.Labels{stateLabel: state}).Set(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(stageProcessedTotalMetric)
	prometheus.MustRegister(stageDurationMetric)
	prometheus.MustRegister(queueClaimsTotalMetric)
	prometheus.MustRegister(queueDeadLettersTotalMetric)
	prometheus.MustRegister(admissionDecisionsTotalMetric)
	prometheus.MustRegister(workerStateCountMetric)
}
