package academy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "attendancedesk",
	Subsystem: "upstream",
	Name:      "request_duration_seconds",
	Help:      "Latency of calls to the academy backend.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "code"})

func init() {
	prometheus.MustRegister(upstreamDuration)
}

func observe(method, code string, start time.Time) {
	upstreamDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
}
