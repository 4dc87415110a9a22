package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redirect_resolutions_total",
			Help: "Total number of redirect resolutions by outcome (count)",
		},
		[]string{"status"},
	)

	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "redirect_resolution_duration_seconds",
			Help:    "Time spent walking the rule set for one resolution in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	Rules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redirect_rules",
			Help: "Number of redirect rules in the current snapshot by state (count)",
		},
		[]string{"state"},
	)

	ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redirect_imports_total",
			Help: "Total number of rule imports by format and result (count)",
		},
		[]string{"format", "result"},
	)
)

// Register adds every redirect collector to reg. Collectors that are already
// registered on reg are left as they are.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ResolutionsTotal, ResolutionDuration, Rules, ImportsTotal} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveResolution(status string, duration time.Duration) {
	ResolutionsTotal.WithLabelValues(status).Inc()
	ResolutionDuration.Observe(duration.Seconds())
}

func SetRuleCounts(enabled, disabled int) {
	Rules.WithLabelValues("enabled").Set(float64(enabled))
	Rules.WithLabelValues("disabled").Set(float64(disabled))
}

func IncImport(format, result string) {
	ImportsTotal.WithLabelValues(format, result).Inc()
}
