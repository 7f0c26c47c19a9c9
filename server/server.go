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
Package server implements the UDP game server: the receive loop, the
per-client table, the fixed-rate tick loop and the connection
handshake.
*/
package server

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sourcelayer/srcds/bitstream"
	"github.com/sourcelayer/srcds/bsp"
	"github.com/sourcelayer/srcds/protocol"
	"github.com/sourcelayer/srcds/stats"
)

// receiveBufferSize bounds a single datagram.
const receiveBufferSize = 2048

// serverChallenge is the nonce handed to every peer.
const serverChallenge = int32(-0x21524111) // 0xDEADBEEF

// serverSteamID fills the steam id field of Challenge replies; any
// value is accepted.
const serverSteamID = uint64(0xDEADCAFEBABEBEEF)

// Server owns the UDP socket, the client table and the tick timer. All
// client state is mutated only from the receive loop.
type Server struct {
	Config *Config
	Stats  stats.Stats
	Map    *bsp.File

	conn    *net.UDPConn
	clients *ClientTable
	tick    int32
}

// Start binds the socket and runs the receive and tick loops until
// either fails.
func (s *Server) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: s.Config.IP, Port: s.Config.Port})
	if err != nil {
		return errors.Wrap(err, "binding UDP socket")
	}
	s.conn = conn
	s.clients = NewClientTable()

	log.Infof("Listening on %s, map %s", conn.LocalAddr(), s.Config.MapName)

	var g errgroup.Group
	g.Go(s.receiveLoop)
	g.Go(s.tickLoop)
	g.Go(s.metricLoop)
	return g.Wait()
}

// metricLoop periodically publishes the counters for the monitoring
// endpoint.
func (s *Server) metricLoop() error {
	interval := s.Config.MetricInterval
	if interval == 0 {
		interval = DefaultMetricInterval
	}
	for {
		<-time.After(interval)
		s.Stats.Snapshot()
		s.Stats.Reset()
	}
}

// receiveLoop reads datagrams and dispatches them one at a time.
// Deferred client removals run between datagrams, so a handler's view
// of the table is stable for the whole dispatch.
func (s *Server) receiveLoop() error {
	buf := make([]byte, receiveBufferSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return errors.Wrap(err, "receiving datagram")
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		log.Debugf("Received %d bytes from %s", n, addr)
		s.tryOrDisconnect(s.receive(data, addr), addr)

		s.clients.Sweep()
		s.Stats.SetClients(int64(s.clients.Len()))
	}
}

// tickLoop fires at the fixed tick rate. If a tick overruns its
// budget the overrun is logged and the next tick fires immediately.
func (s *Server) tickLoop() error {
	timer := time.NewTimer(TickInterval)
	defer timer.Stop()
	for {
		<-timer.C

		begin := time.Now()
		if err := s.tickOnce(); err != nil {
			return errors.Wrap(err, "ticking")
		}
		elapsed := time.Since(begin)

		if over := elapsed - TickInterval; over > 0 {
			log.Warningf("Tick took too long! %s over budget", over)
		}
		next := TickInterval - elapsed
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

// tickOnce advances the simulation by one tick. Nothing is simulated
// yet; this is where game logic will live.
func (s *Server) tickOnce() error {
	s.tick++
	return nil
}

// tryOrDisconnect handles a receive error by disconnecting the peer,
// if it is a known client.
func (s *Server) tryOrDisconnect(err error, from *net.UDPAddr) {
	if err == nil {
		return
	}
	log.Errorf("Error whilst receiving from %s: %v", from, err)
	s.Stats.IncDecodeError()

	key, keyErr := addrOf(from)
	if keyErr != nil {
		return
	}

	reason := "Error in connection caused disconnect"
	if s.Config.ShowErrorsToClients {
		reason = err.Error()
	}

	client := s.clients.Get(key)
	if client == nil {
		// Nothing to tear down, but the peer still learns why it was
		// refused.
		reject := &protocol.ConnectReject{Reason: reason}
		if err := s.sendConnectionless(reject, from); err != nil {
			log.Errorf("Failed to reject %s: %v", from, err)
		}
		return
	}
	if err := s.disconnect(key, client, reason); err != nil {
		log.Errorf("Failed to disconnect %s: %v", from, err)
	}
}

// disconnect sends a ConnectReject and schedules the client's removal
// once the current dispatch returns.
func (s *Server) disconnect(key Addr, client *Client, reason string) error {
	s.clients.DeferRemove(key)

	reject := &protocol.ConnectReject{
		Challenge: client.ClientChallenge,
		Reason:    reason,
	}
	return s.sendConnectionless(reject, client.Addr)
}

func (s *Server) sendConnectionless(p protocol.ConnectionlessPacket, to *net.UDPAddr) error {
	raw, err := protocol.MarshalConnectionless(p)
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(raw, to); err != nil {
		return errors.Wrap(err, "sending connectionless packet")
	}
	s.Stats.IncTXConnectionless()
	return nil
}

func (s *Server) sendPacket(p *protocol.SendingPacket, to *net.UDPAddr) error {
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(raw, to); err != nil {
		return errors.Wrap(err, "sending packet")
	}
	s.Stats.IncTX()
	return nil
}

// receive dispatches one datagram.
func (s *Server) receive(data []byte, from *net.UDPAddr) error {
	if len(data) < 4 {
		return errors.Wrap(protocol.ErrDecode, "not enough bytes for even a connectionless packet header")
	}
	key, err := addrOf(from)
	if err != nil {
		return err
	}

	if int32(binary.LittleEndian.Uint32(data)) == protocol.ConnectionlessHeader {
		s.Stats.IncRXConnectionless()
		return s.receiveConnectionless(data, key, from)
	}
	s.Stats.IncRX()
	return s.receiveSequenced(data, key)
}

func (s *Server) receiveConnectionless(data []byte, key Addr, from *net.UDPAddr) error {
	stream := bitstream.NewReadOnlyStream(data)
	if err := stream.Skip(32); err != nil {
		return err
	}
	id, err := bitstream.ReadUint8(stream, 8)
	if err != nil {
		return err
	}
	log.Debugf("Got connectionless packet %c from %s", id, key)

	switch id {
	case protocol.CIDGetChallenge:
		return s.handleGetChallenge(stream, key, from)
	case protocol.CIDConnect:
		return s.handleConnect(stream, key, from)
	default:
		log.Debugf("Ignoring connectionless packet %c from %s", id, key)
		return nil
	}
}

func (s *Server) handleGetChallenge(stream *bitstream.Stream, key Addr, from *net.UDPAddr) error {
	get := &protocol.GetChallenge{}
	if err := get.Unmarshal(stream); err != nil {
		return err
	}
	log.Infof("Client %s wants a challenge, they have %#x", key, uint32(get.Challenge))

	client, err := s.clients.Insert(key, from)
	if err != nil {
		return err
	}
	client.ClientChallenge = get.Challenge
	client.ServerChallenge = serverChallenge
	client.SignOnState = protocol.SignOnStateChallenge

	challenge := &protocol.Challenge{
		MagicVersion:    protocol.ChallengeMagicVersion,
		Challenge:       client.ServerChallenge,
		ClientChallenge: client.ClientChallenge,
		AuthProtocol:    protocol.AuthProtocolSteam,
		SteamID:         serverSteamID,
		IsSecure:        false,
	}
	return s.sendConnectionless(challenge, from)
}

func (s *Server) handleConnect(stream *bitstream.Stream, key Addr, from *net.UDPAddr) error {
	client := s.clients.Get(key)
	if client == nil {
		return errors.Wrap(protocol.ErrProtocol, "Client tried to connect without asking for a challenge")
	}

	connect := &protocol.Connect{}
	if err := connect.Unmarshal(stream); err != nil {
		return err
	}
	log.Infof("%q is connecting with password %q, %d steam cookie bytes",
		connect.Name, connect.Password, len(connect.SteamCookie))

	client.SignOnState = protocol.SignOnStateConnected

	connection := &protocol.Connection{Challenge: client.ClientChallenge}
	return s.sendConnectionless(connection, from)
}

func (s *Server) receiveSequenced(data []byte, key Addr) error {
	client := s.clients.Get(key)
	if client == nil {
		return errors.Wrap(protocol.ErrProtocol, "sequenced packet from unknown peer")
	}

	packet, err := protocol.ReadPacket(bitstream.NewStream(data))
	if err != nil {
		return err
	}
	log.Debugf("Got packet sequence %d from %s", packet.Sequence, key)
	client.InboundSequence = packet.Sequence

	if normal, ok := packet.Channels[protocol.ChannelNormal]; ok {
		if err := s.processMessages(normal.Data, key, client); err != nil {
			return err
		}
	}
	log.Debugf("We have %d unreliable bytes", len(packet.UnreliableData))
	if len(packet.UnreliableData) > 0 {
		if err := s.processMessages(packet.UnreliableData, key, client); err != nil {
			return err
		}
	}
	return nil
}

// processMessages decodes a message stream until no more bits than a
// message id remain; the tail of a stream is only padding.
func (s *Server) processMessages(data []byte, key Addr, client *Client) error {
	stream := bitstream.NewReadOnlyStream(data)

	for len(data)<<3 > stream.Position()+protocol.MessageIDBits {
		msg, err := protocol.ReadMessage(stream)
		if err != nil {
			return err
		}
		s.Stats.IncRXMessage(msg.ID())

		switch m := msg.(type) {
		case *protocol.Nop:
		case *protocol.Disconnect:
			log.Infof("Client %s disconnected because %q", key, m.Reason)
			s.clients.DeferRemove(key)
		case *protocol.SetConVar:
			log.Infof("Client %s has %d convars for us", key, len(m.ConVars))
			for _, cv := range m.ConVars {
				log.Debugf("%s: %s", cv.Key, cv.Value)
			}
		case *protocol.Tick:
			log.Debugf("Client %s is at tick %d", key, m.Tick)
		case *protocol.ClientInfo:
			log.Infof("Client %s info: friends name %q", key, m.FriendsName)
		case *protocol.RespondConVarValue:
			log.Debugf("Client %s convar %s = %q (response %d)", key, m.Name, m.Value, m.Response)
		case *protocol.SignOnStateMsg:
			if err := s.handleSignOnState(m, client); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) handleSignOnState(m *protocol.SignOnStateMsg, client *Client) error {
	log.Infof("Got sign on state %s, spawn count %d", m.State, m.SpawnCount)
	client.SignOnState = m.State
	client.SpawnCount = m.SpawnCount

	if m.State != protocol.SignOnStateConnected {
		return nil
	}

	log.Infof("Client is connected, let's give them some server info")
	packet := s.buildSignOnReply(client)
	if err := s.sendPacket(packet, client.Addr); err != nil {
		return err
	}
	client.OutboundSequence++
	client.SignOnState = protocol.SignOnStateNew
	return nil
}

// buildSignOnReply assembles the burst that moves a freshly connected
// client towards the New state.
func (s *Server) buildSignOnReply(client *Client) *protocol.SendingPacket {
	cfg := s.Config

	info := &protocol.ServerInfo{
		Protocol:    cfg.Protocol,
		ServerCount: cfg.ServerCount,
		IsHLTV:      false,
		IsDedicated: true,
		MaxClasses:  cfg.MaxClasses,
		MapMD5:      s.Map.MD5(),
		PlayerSlot:  1,
		MaxClients:  cfg.MaxClients,
		// l for Linux; lowercase signals a "new" server
		OperatingSystem: 'l',
		TickInterval:    float32(1.0 / ticksPerSecond),
		GameDir:         cfg.GameDir,
		MapName:         cfg.MapName,
		SkyName:         cfg.SkyName,
		HostName:        cfg.HostName,
		IsReplay:        false,
	}

	packet := &protocol.SendingPacket{
		Sequence:    client.OutboundSequence,
		SequenceAck: client.InboundSequence,
	}
	packet.SetChallenge(client.ServerChallenge)
	packet.AddUnreliableMessage(info)
	packet.AddUnreliableMessage(&protocol.Print{Text: cfg.Greeting})
	packet.AddUnreliableMessage(&protocol.SignOnStateMsg{State: protocol.SignOnStateNew, SpawnCount: 0})
	packet.AddUnreliableMessage(&protocol.CreateStringTable{Name: "downloadables"})
	return packet
}
