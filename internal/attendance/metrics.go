package attendance

import "github.com/prometheus/client_golang/prometheus"

var (
	probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendancedesk_session_probes_total",
		Help: "Existing-roster probes by result.",
	}, []string{"result"})

	sessionsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendancedesk_sessions_opened_total",
		Help: "Remote open-session calls by result.",
	}, []string{"result"})

	recordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendancedesk_records_dropped_total",
		Help: "Roster records dropped for a malformed QR credential.",
	})

	marksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendancedesk_marks_total",
		Help: "Mark attempts by source and outcome.",
	}, []string{"source", "outcome"})
)

func init() {
	prometheus.MustRegister(probesTotal, sessionsOpened, recordsDropped, marksTotal)
}
