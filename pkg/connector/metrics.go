// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "telnet_bridge_commands_total",
	Help: "Bridge commands handled, by command.",
}, []string{"command"})
