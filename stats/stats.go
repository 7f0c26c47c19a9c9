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

/*
Package stats implements statistics collection and reporting.
It is used by the server to report internal statistics, such as number
of packets and messages received and sent.
*/
package stats

import (
	"fmt"
	"sync/atomic"
)

// messageIDSpace is how many distinct message ids exist (ids are 6
// bits wide).
const messageIDSpace = 64

// Stats is a metric collection interface
type Stats interface {
	// Start starts a stat reporter
	// Use this for passive reporters
	Start(monitoringPort int)

	// Snapshot the values so they can be reported atomically
	Snapshot()

	// Reset atomically sets all the counters to 0
	Reset()

	// IncRX atomically adds 1 to the sequenced packets received
	IncRX()

	// IncTX atomically adds 1 to the sequenced packets sent
	IncTX()

	// IncRXConnectionless atomically adds 1 to the connectionless
	// packets received
	IncRXConnectionless()

	// IncTXConnectionless atomically adds 1 to the connectionless
	// packets sent
	IncTXConnectionless()

	// IncRXMessage atomically adds 1 to the counter of the message id
	IncRXMessage(id uint8)

	// IncDecodeError atomically adds 1 to the decode error counter
	IncDecodeError()

	// SetClients atomically sets the connected client gauge
	SetClients(n int64)
}

// counters hold the actual numbers
type counters struct {
	rx               int64
	tx               int64
	rxConnectionless int64
	txConnectionless int64
	decodeErrors     int64
	clients          int64
	rxMessages       [messageIDSpace]int64
}

func (c *counters) copy(dst *counters) {
	dst.rx = atomic.LoadInt64(&c.rx)
	dst.tx = atomic.LoadInt64(&c.tx)
	dst.rxConnectionless = atomic.LoadInt64(&c.rxConnectionless)
	dst.txConnectionless = atomic.LoadInt64(&c.txConnectionless)
	dst.decodeErrors = atomic.LoadInt64(&c.decodeErrors)
	dst.clients = atomic.LoadInt64(&c.clients)
	for i := range c.rxMessages {
		dst.rxMessages[i] = atomic.LoadInt64(&c.rxMessages[i])
	}
}

func (c *counters) reset() {
	atomic.StoreInt64(&c.rx, 0)
	atomic.StoreInt64(&c.tx, 0)
	atomic.StoreInt64(&c.rxConnectionless, 0)
	atomic.StoreInt64(&c.txConnectionless, 0)
	atomic.StoreInt64(&c.decodeErrors, 0)
	for i := range c.rxMessages {
		atomic.StoreInt64(&c.rxMessages[i], 0)
	}
}

func (c *counters) toMap() map[string]int64 {
	m := map[string]int64{
		"rx.packets":        c.rx,
		"tx.packets":        c.tx,
		"rx.connectionless": c.rxConnectionless,
		"tx.connectionless": c.txConnectionless,
		"decode.errors":     c.decodeErrors,
		"clients":           c.clients,
	}
	for id, v := range c.rxMessages {
		if v != 0 {
			m[fmt.Sprintf("rx.messages.%d", id)] = v
		}
	}
	return m
}
