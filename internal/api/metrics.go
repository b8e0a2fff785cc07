package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the default Prometheus registry, where the
// metrics package registers every collector.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
