package master

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the Master's diagnostics counters/gauges over
// Prometheus, kept from the teacher's own dependency
// (github.com/prometheus/client_golang) and exposed via promhttp.Handler()
// at the cmd/master level rather than through gorilla (see DESIGN.md's
// dropped-dependency note on gorilla/websocket).
type Metrics struct {
	Connections        prometheus.Gauge
	ClustersRegistered prometheus.Counter
	RegistrationFailed prometheus.Counter
	CommandsReceived   *prometheus.CounterVec
}

// NewMetrics constructs and registers the Master's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sustenet_master_connections",
			Help: "Current number of open connections to the Master server.",
		}),
		ClustersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sustenet_master_clusters_registered_total",
			Help: "Total number of clusters that completed registration.",
		}),
		RegistrationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sustenet_master_registration_failures_total",
			Help: "Total number of cluster registration attempts that failed.",
		}),
		CommandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sustenet_master_commands_received_total",
			Help: "Total number of commands received by command name.",
		}, []string{"command"}),
	}
	reg.MustRegister(m.Connections, m.ClustersRegistered, m.RegistrationFailed, m.CommandsReceived)
	return m
}
