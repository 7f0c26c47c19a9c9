/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PromStats reports the same counters as JSONStats through a
// Prometheus registry on /metrics.
type PromStats struct {
	registry *prometheus.Registry

	rx               prometheus.Counter
	tx               prometheus.Counter
	rxConnectionless prometheus.Counter
	txConnectionless prometheus.Counter
	decodeErrors     prometheus.Counter
	clients          prometheus.Gauge
	rxMessages       *prometheus.CounterVec
}

// NewPromStats returns a PromStats with all collectors registered.
func NewPromStats() *PromStats {
	s := &PromStats{
		registry: prometheus.NewRegistry(),
		rx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "srcds_rx_packets_total",
			Help: "Sequenced packets received",
		}),
		tx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "srcds_tx_packets_total",
			Help: "Sequenced packets sent",
		}),
		rxConnectionless: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "srcds_rx_connectionless_total",
			Help: "Connectionless packets received",
		}),
		txConnectionless: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "srcds_tx_connectionless_total",
			Help: "Connectionless packets sent",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "srcds_decode_errors_total",
			Help: "Datagrams that failed to decode",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "srcds_clients",
			Help: "Clients currently tracked",
		}),
		rxMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "srcds_rx_messages_total",
			Help: "Control messages received by id",
		}, []string{"id"}),
	}
	s.registry.MustRegister(s.rx, s.tx, s.rxConnectionless, s.txConnectionless, s.decodeErrors, s.clients, s.rxMessages)
	return s
}

// Start runs the http server with the /metrics handler
func (s *PromStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("Starting prometheus exporter on %s", addr)
	err := http.ListenAndServe(addr, mux)
	if err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

// Snapshot is a no-op; prometheus scrapes the live values
func (s *PromStats) Snapshot() {}

// Reset is a no-op; prometheus counters are cumulative
func (s *PromStats) Reset() {}

// IncRX adds 1 to the sequenced packets received
func (s *PromStats) IncRX() {
	s.rx.Inc()
}

// IncTX adds 1 to the sequenced packets sent
func (s *PromStats) IncTX() {
	s.tx.Inc()
}

// IncRXConnectionless adds 1 to the connectionless packets received
func (s *PromStats) IncRXConnectionless() {
	s.rxConnectionless.Inc()
}

// IncTXConnectionless adds 1 to the connectionless packets sent
func (s *PromStats) IncTXConnectionless() {
	s.txConnectionless.Inc()
}

// IncRXMessage adds 1 to the counter of the message id
func (s *PromStats) IncRXMessage(id uint8) {
	s.rxMessages.WithLabelValues(strconv.Itoa(int(id))).Inc()
}

// IncDecodeError adds 1 to the decode error counter
func (s *PromStats) IncDecodeError() {
	s.decodeErrors.Inc()
}

// SetClients sets the connected client gauge
func (s *PromStats) SetClients(n int64) {
	s.clients.Set(float64(n))
}
