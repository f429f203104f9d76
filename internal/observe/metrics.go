package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graphws_pending_requests",
		Help: "Number of in-flight graph websocket requests",
	})

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphws_frames_total",
			Help: "Total graph websocket frames by direction",
		},
		[]string{"direction"}, // tx|rx
	)

	requestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphws_request_errors_total",
			Help: "Total failed requests by kind",
		},
		[]string{"kind"}, // server|protocol|connection|send
	)

	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphws_connections_total",
			Help: "Total connection lifecycle events",
		},
		[]string{"event"}, // open|close|fatal
	)

	tokenRenewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphws_token_renewals_total",
			Help: "Total credential renewals by result",
		},
		[]string{"result"}, // ok|error
	)
)

func init() {
	prometheus.MustRegister(
		pendingRequests,
		framesTotal,
		requestErrorsTotal,
		connectionsTotal,
		tokenRenewalsTotal,
	)
}

func AddPending(delta float64)      { pendingRequests.Add(delta) }
func IncFrame(direction string)     { framesTotal.WithLabelValues(direction).Inc() }
func IncRequestError(kind string)   { requestErrorsTotal.WithLabelValues(kind).Inc() }
func IncConnection(event string)    { connectionsTotal.WithLabelValues(event).Inc() }
func IncTokenRenewal(result string) { tokenRenewalsTotal.WithLabelValues(result).Inc() }
