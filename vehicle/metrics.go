package vehicle

import "github.com/prometheus/client_golang/prometheus"

var commandTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idconnect",
	Name:      "command_total",
	Help:      "Remote commands by action and result",
}, []string{"action", "value", "result"})

func init() {
	prometheus.MustRegister(commandTotal)
}
