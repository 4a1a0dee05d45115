// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telnet_bridge_connect_attempts_total",
		Help: "Connect attempts by result.",
	}, []string{"result"})
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telnet_bridge_connected",
		Help: "1 while the bridge holds a telnet session.",
	})
	chunksRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telnet_bridge_chunks_relayed_total",
		Help: "Remote output chunks forwarded to the chat channel.",
	})
	linesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telnet_bridge_lines_filtered_total",
		Help: "Remote lines dropped because the speaker is ignored.",
	})
	linesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telnet_bridge_lines_sent_total",
		Help: "Chat messages written to the telnet server.",
	})
	listenerFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telnet_bridge_listener_faults_total",
		Help: "Telnet sessions that ended with a read error.",
	})
)
