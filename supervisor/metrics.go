// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iec104harness/harness/eventbus"
	"github.com/iec104harness/harness/session"
)

// Collector is a prometheus.Collector that reads the Supervisor's live
// connection/flow-control state at scrape time rather than polling into
// a periodically-updated gauge.
type Collector struct {
	sup *Supervisor

	connected      *prometheus.Desc
	unackedSent    *prometheus.Desc
	unackedRecvd   *prometheus.Desc
}

// NewCollector returns a Collector over sup. Register it with
// prometheus.MustRegister.
func NewCollector(sup *Supervisor) *Collector {
	return &Collector{
		sup: sup,
		connected: prometheus.NewDesc(
			"iec104harness_connected", "1 if the endpoint's TCP connection is up, else 0.",
			[]string{"side"}, nil),
		unackedSent: prometheus.NewDesc(
			"iec104harness_unacked_sent", "Count of I-frames sent but not yet acknowledged.",
			[]string{"side"}, nil),
		unackedRecvd: prometheus.NewDesc(
			"iec104harness_unacked_received", "Count of I-frames received but not yet acknowledged.",
			[]string{"side"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.connected
	descs <- c.unackedSent
	descs <- c.unackedRecvd
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	snap := c.sup.Status()
	c.emit(metrics, string(eventbus.SideClient), snap.Client.Connected, snap.Client.Session)
	c.emit(metrics, string(eventbus.SideServer), snap.Server.Connected, snap.Server.Session)
}

func (c *Collector) emit(metrics chan<- prometheus.Metric, side string, connected bool, st session.State) {
	connVal := 0.0
	if connected {
		connVal = 1.0
	}
	metrics <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connVal, side)
	metrics <- prometheus.MustNewConstMetric(c.unackedSent, prometheus.GaugeValue, float64(st.UnackedSent), side)
	metrics <- prometheus.MustNewConstMetric(c.unackedRecvd, prometheus.GaugeValue, float64(st.UnackedRecvd), side)
}
