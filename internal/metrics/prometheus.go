package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

const namespace = "opsdash"

// Prometheus implements core.Metrics using Prometheus client.
type Prometheus struct {
	// Governance metrics
	datasetsTotal     prometheus.Gauge
	archiveCandidates prometheus.Gauge
	candidateSizeMB   prometheus.Gauge
	sweeps            *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	archiveActions    *prometheus.CounterVec

	// Ticket metrics
	ticketsByStatus *prometheus.GaugeVec
	ticketUpdates   *prometheus.CounterVec

	// Assistant metrics
	chatRequests *prometheus.CounterVec
}

// NewPrometheus creates a new Prometheus metrics collector.
// All metrics are registered with the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Prometheus{
		datasetsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "datasets",
			Help:      "Datasets in the last evaluated catalog",
		}),

		archiveCandidates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "archive_candidates",
			Help:      "Archive candidates in the last evaluation",
		}),

		candidateSizeMB: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "archive_candidate_megabytes",
			Help:      "Total size in MB of archive candidates in the last evaluation",
		}),

		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "sweeps_total",
			Help:      "Scheduled or triggered governance sweeps by outcome",
		}, []string{"outcome"}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "governance",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent on one governance sweep",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		archiveActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archiver",
			Name:      "actions_total",
			Help:      "Archive actions by result reason",
		}, []string{"reason"}),

		ticketsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "by_status",
			Help:      "Tickets currently in each status",
		}, []string{"status"}),

		ticketUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "updates_total",
			Help:      "Ticket updates by new status",
		}, []string{"status"}),

		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "requests_total",
			Help:      "Chat requests by outcome",
		}, []string{"outcome"}),
	}
}

// Governance metrics

func (p *Prometheus) SetDatasetsTotal(count int) {
	p.datasetsTotal.Set(float64(count))
}

func (p *Prometheus) SetArchiveCandidates(count int, sizeMB float64) {
	p.archiveCandidates.Set(float64(count))
	p.candidateSizeMB.Set(sizeMB)
}

func (p *Prometheus) ObserveSweep(duration time.Duration, err error) {
	p.sweepDuration.Observe(duration.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.sweeps.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) IncArchiveAction(reason string) {
	p.archiveActions.WithLabelValues(reason).Inc()
}

// Ticket metrics

// SetTicketsByStatus replaces the per-status gauges so that statuses
// no longer present drop out of the series.
func (p *Prometheus) SetTicketsByStatus(counts map[string]int) {
	p.ticketsByStatus.Reset()
	for status, n := range counts {
		p.ticketsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (p *Prometheus) IncTicketUpdates(status string) {
	p.ticketUpdates.WithLabelValues(status).Inc()
}

// Assistant metrics

func (p *Prometheus) IncChatRequests(outcome string) {
	p.chatRequests.WithLabelValues(outcome).Inc()
}

// Ensure Prometheus implements core.Metrics
var _ core.Metrics = (*Prometheus)(nil)
