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
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	report counters

	counters
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{}
}

// Start runs the http server
func (s *JSONStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("Starting http json server on %s", addr)
	err := http.ListenAndServe(addr, mux)
	if err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

// handleRequest is a handler used for all http monitoring requests
func (s *JSONStats) handleRequest(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(s.report.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// Snapshot the values so they can be reported atomically
func (s *JSONStats) Snapshot() {
	s.counters.copy(&s.report)
}

// Reset atomically sets all the counters to 0
func (s *JSONStats) Reset() {
	s.reset()
}

// IncRX atomically adds 1 to the sequenced packets received
func (s *JSONStats) IncRX() {
	atomic.AddInt64(&s.rx, 1)
}

// IncTX atomically adds 1 to the sequenced packets sent
func (s *JSONStats) IncTX() {
	atomic.AddInt64(&s.tx, 1)
}

// IncRXConnectionless atomically adds 1 to the connectionless packets
// received
func (s *JSONStats) IncRXConnectionless() {
	atomic.AddInt64(&s.rxConnectionless, 1)
}

// IncTXConnectionless atomically adds 1 to the connectionless packets
// sent
func (s *JSONStats) IncTXConnectionless() {
	atomic.AddInt64(&s.txConnectionless, 1)
}

// IncRXMessage atomically adds 1 to the counter of the message id
func (s *JSONStats) IncRXMessage(id uint8) {
	atomic.AddInt64(&s.rxMessages[int(id)%messageIDSpace], 1)
}

// IncDecodeError atomically adds 1 to the decode error counter
func (s *JSONStats) IncDecodeError() {
	atomic.AddInt64(&s.decodeErrors, 1)
}

// SetClients atomically sets the connected client gauge
func (s *JSONStats) SetClients(n int64) {
	atomic.StoreInt64(&s.clients, n)
}
