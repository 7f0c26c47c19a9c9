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

package server

import (
	"fmt"
	"net"

	"github.com/pkg/errors"

	"github.com/sourcelayer/srcds/protocol"
)

// Addr identifies a peer by the full UDP triple. It is comparable, so
// lookups are field-wise over all three pieces.
type Addr struct {
	IP     [4]byte
	Port   uint16
	Family uint16
}

// familyINET marks an IPv4 peer; the only family this server speaks.
const familyINET uint16 = 2

// addrOf derives the table key from a UDP peer address.
func addrOf(a *net.UDPAddr) (Addr, error) {
	ip4 := a.IP.To4()
	if ip4 == nil {
		return Addr{}, errors.Wrapf(protocol.ErrUnsupported, "non-IPv4 peer %s", a)
	}
	key := Addr{Port: uint16(a.Port), Family: familyINET}
	copy(key.IP[:], ip4)
	return key, nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// Client is the per-peer connection state. It is only ever touched by
// the receive loop.
type Client struct {
	Addr *net.UDPAddr

	// ClientChallenge is the nonce the peer chose; we echo it back.
	ClientChallenge int32
	// ServerChallenge is the nonce we chose for this peer.
	ServerChallenge int32

	// Sequences always start at 1
	InboundSequence  int32
	OutboundSequence int32

	SignOnState protocol.SignOnState
	SpawnCount  int32
}

// ClientTable maps peer addresses to client state. It is single-writer
// (the receive loop); removals are deferred until the current datagram
// has been fully dispatched so handlers holding a client stay valid.
type ClientTable struct {
	clients map[Addr]*Client
	doomed  []Addr
}

// NewClientTable returns an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{clients: map[Addr]*Client{}}
}

// Get returns the client for a peer, or nil.
func (t *ClientTable) Get(key Addr) *Client {
	return t.clients[key]
}

// Insert adds a new client for a peer. A peer that already has an
// entry is a protocol error.
func (t *ClientTable) Insert(key Addr, addr *net.UDPAddr) (*Client, error) {
	if _, ok := t.clients[key]; ok {
		return nil, errors.Wrapf(protocol.ErrProtocol, "client %s already exists", key)
	}
	c := &Client{
		Addr:             addr,
		InboundSequence:  1,
		OutboundSequence: 1,
	}
	t.clients[key] = c
	return c, nil
}

// DeferRemove schedules a client's removal for the next Sweep.
func (t *ClientTable) DeferRemove(key Addr) {
	t.doomed = append(t.doomed, key)
}

// Sweep removes every client scheduled with DeferRemove. The server
// calls it after each datagram dispatch returns.
func (t *ClientTable) Sweep() {
	for _, key := range t.doomed {
		delete(t.clients, key)
	}
	t.doomed = t.doomed[:0]
}

// Len returns the number of live clients.
func (t *ClientTable) Len() int {
	return len(t.clients)
}
