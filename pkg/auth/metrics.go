package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authBinds = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hubdir_auth_binds_total",
	Help: "Bind attempts handled by the bridge, by outcome",
}, []string{"outcome"})
