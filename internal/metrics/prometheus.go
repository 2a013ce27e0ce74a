package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Admission path metrics
	eventsAdmittedTotal prometheus.Counter
	eventsRejectedTotal *prometheus.CounterVec
	enqueueErrorsTotal  prometheus.Counter
	statsRequestsTotal  *prometheus.CounterVec

	// Worker metrics
	jobsProcessedTotal *prometheus.CounterVec
	jobDuration        prometheus.Histogram
	jobsInFlight       prometheus.Gauge
	dequeueErrorsTotal prometheus.Counter

	// Queue metrics
	queueDepth *prometheus.GaugeVec

	// Reaper metrics
	jobsRequeuedTotal prometheus.Counter

	// Leader lock metrics
	leaderStatus prometheus.Gauge

	// Report metrics
	reportDuration prometheus.Histogram
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initIngestMetrics(reg)
	s.initWorkerMetrics(reg)
	s.initQueueMetrics(reg)
	return s
}

func (s *PrometheusSink) initIngestMetrics(reg prometheus.Registerer) {
	s.eventsAdmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitepulse_ingest_events_admitted_total",
		Help: "Total number of events validated and enqueued.",
	})
	s.eventsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_ingest_events_rejected_total",
		Help: "Total number of events rejected at admission.",
	}, []string{"reason"})
	s.enqueueErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitepulse_ingest_enqueue_errors_total",
		Help: "Total number of queue submission failures at admission.",
	})
	s.statsRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_stats_requests_total",
		Help: "Total number of stats requests by HTTP status.",
	}, []string{"status"})

	s.register(reg, s.eventsAdmittedTotal, "sitepulse_ingest_events_admitted_total")
	s.register(reg, s.eventsRejectedTotal, "sitepulse_ingest_events_rejected_total")
	s.register(reg, s.enqueueErrorsTotal, "sitepulse_ingest_enqueue_errors_total")
	s.register(reg, s.statsRequestsTotal, "sitepulse_stats_requests_total")
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.jobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_worker_jobs_processed_total",
		Help: "Total number of jobs processed by final per-delivery outcome.",
	}, []string{"outcome"})
	s.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitepulse_worker_job_duration_seconds",
		Help:    "Duration of one job delivery (dequeue to ack/fail) in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitepulse_worker_jobs_in_flight",
		Help: "Number of jobs currently being persisted.",
	})
	s.dequeueErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitepulse_worker_dequeue_errors_total",
		Help: "Total number of dequeue failures.",
	})

	s.register(reg, s.jobsProcessedTotal, "sitepulse_worker_jobs_processed_total")
	s.register(reg, s.jobDuration, "sitepulse_worker_job_duration_seconds")
	s.register(reg, s.jobsInFlight, "sitepulse_worker_jobs_in_flight")
	s.register(reg, s.dequeueErrorsTotal, "sitepulse_worker_dequeue_errors_total")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitepulse_queue_depth",
		Help: "Number of jobs per queue state.",
	}, []string{"state"})
	s.jobsRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitepulse_reaper_jobs_requeued_total",
		Help: "Total number of stalled jobs returned to the waiting set.",
	})
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sitepulse_leader_status",
		Help: "1 when this instance holds the reaper leader lock.",
	})
	s.reportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitepulse_report_duration_seconds",
		Help:    "Duration of the aggregation scan in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	s.register(reg, s.queueDepth, "sitepulse_queue_depth")
	s.register(reg, s.jobsRequeuedTotal, "sitepulse_reaper_jobs_requeued_total")
	s.register(reg, s.leaderStatus, "sitepulse_leader_status")
	s.register(reg, s.reportDuration, "sitepulse_report_duration_seconds")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Admission path metrics implementation

func (s *PrometheusSink) EventAdmitted() {
	s.eventsAdmittedTotal.Inc()
}

func (s *PrometheusSink) EventRejected(reason string) {
	s.eventsRejectedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) EnqueueError() {
	s.enqueueErrorsTotal.Inc()
}

func (s *PrometheusSink) ReportServedHTTP(status int) {
	s.statsRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Worker metrics implementation

func (s *PrometheusSink) JobProcessed(outcome string, duration time.Duration) {
	s.jobsProcessedTotal.WithLabelValues(outcome).Inc()
	s.jobDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) DequeueError() {
	s.dequeueErrorsTotal.Inc()
}

// Queue metrics implementation

func (s *PrometheusSink) QueueDepth(state string, depth int64) {
	s.queueDepth.WithLabelValues(state).Set(float64(depth))
}

// Reaper metrics implementation

func (s *PrometheusSink) JobsRequeued(count int) {
	s.jobsRequeuedTotal.Add(float64(count))
}

// Leader lock metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

// Report metrics implementation

func (s *PrometheusSink) ReportServed(duration time.Duration) {
	s.reportDuration.Observe(duration.Seconds())
}
