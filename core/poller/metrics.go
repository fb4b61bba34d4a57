package poller

import "github.com/prometheus/client_golang/prometheus"

var fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idconnect",
	Name:      "fetch_total",
	Help:      "Vehicle data fetches by domain and result",
}, []string{"domain", "result"})

func init() {
	prometheus.MustRegister(fetchTotal)
}
