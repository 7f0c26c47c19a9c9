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

package protocol

import (
	"fmt"

	"github.com/sourcelayer/srcds/bitstream"
)

// ConnectionlessHeader leads every stateless handshake datagram,
// 0xFFFFFFFF on the wire.
const ConnectionlessHeader int32 = -1

// ChallengeMagicVersion is the magic the engine expects in an S2C
// Challenge.
const ChallengeMagicVersion int32 = 0x5A4F4933

// Connectionless packet type characters.
const (
	CIDGetChallenge  byte = 'q'
	CIDConnect       byte = 'k'
	CIDChallenge     byte = 'A'
	CIDConnection    byte = 'B'
	CIDConnectReject byte = '9'
)

// ConnectionlessPacket is a stateless handshake datagram body. Marshal
// writes the type character and the byte-aligned positional payload;
// the 4-byte header is written by MarshalConnectionless.
type ConnectionlessPacket interface {
	CID() byte
	Marshal(w bitstream.Writer) error
}

// MarshalConnectionless encodes the full datagram: header, type
// character, payload.
func MarshalConnectionless(p ConnectionlessPacket) ([]byte, error) {
	s := bitstream.NewExpandingStream()
	if err := bitstream.WriteInt32(s, ConnectionlessHeader); err != nil {
		return nil, err
	}
	if err := p.Marshal(s); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

func marshalCID(w bitstream.Writer, p ConnectionlessPacket) error {
	return bitstream.WriteUint8(w, p.CID(), 8)
}

// GetChallenge is the C2S opener: the client offers its challenge
// nonce and asks for ours.
type GetChallenge struct {
	Challenge int32
}

// CID returns the type character
func (*GetChallenge) CID() byte { return CIDGetChallenge }

// Marshal writes the packet body
func (p *GetChallenge) Marshal(w bitstream.Writer) error {
	if err := marshalCID(w, p); err != nil {
		return err
	}
	return bitstream.WriteInt32(w, p.Challenge)
}

// Unmarshal reads the payload, the type character having been consumed
// already
func (p *GetChallenge) Unmarshal(r bitstream.Reader) error {
	var err error
	p.Challenge, err = bitstream.ReadInt32(r)
	return err
}

// Challenge is the S2C answer to GetChallenge.
type Challenge struct {
	MagicVersion    int32
	Challenge       int32
	ClientChallenge int32
	AuthProtocol    AuthProtocol
	SteamID         uint64
	IsSecure        bool
}

// CID returns the type character
func (*Challenge) CID() byte { return CIDChallenge }

// Marshal writes the packet body
func (p *Challenge) Marshal(w bitstream.Writer) error {
	if err := marshalCID(w, p); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.MagicVersion); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.Challenge); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.ClientChallenge); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, int32(p.AuthProtocol)); err != nil {
		return err
	}
	// Legacy Steam2 encryption key size, gone from the protocol
	if err := bitstream.WriteUint16(w, 0, 16); err != nil {
		return err
	}
	if err := bitstream.WriteUint64(w, p.SteamID, 64); err != nil {
		return err
	}
	var secure uint8
	if p.IsSecure {
		secure = 1
	}
	return bitstream.WriteUint8(w, secure, 8)
}

// Unmarshal reads the payload, the type character having been consumed
// already
func (p *Challenge) Unmarshal(r bitstream.Reader) error {
	var err error
	if p.MagicVersion, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if p.Challenge, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if p.ClientChallenge, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	auth, err := bitstream.ReadInt32(r)
	if err != nil {
		return err
	}
	p.AuthProtocol = AuthProtocol(auth)
	if _, err = bitstream.ReadUint16(r, 16); err != nil {
		return err
	}
	if p.SteamID, err = bitstream.ReadUint64(r, 64); err != nil {
		return err
	}
	secure, err := bitstream.ReadUint8(r, 8)
	if err != nil {
		return err
	}
	p.IsSecure = secure != 0
	return nil
}

// Connect is the C2S request to enter the server after a challenge
// exchange.
type Connect struct {
	ProtocolVersion int32
	AuthProtocol    AuthProtocol
	ServerChallenge int32
	ClientChallenge int32
	Name            string
	Password        string
	Version         string
	SteamCookie     []byte
}

// CID returns the type character
func (*Connect) CID() byte { return CIDConnect }

// Marshal writes the packet body
func (p *Connect) Marshal(w bitstream.Writer) error {
	if err := marshalCID(w, p); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.ProtocolVersion); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, int32(p.AuthProtocol)); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.ServerChallenge); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.ClientChallenge); err != nil {
		return err
	}
	for _, s := range []string{p.Name, p.Password, p.Version} {
		if err := bitstream.WriteString(w, s); err != nil {
			return err
		}
	}
	if err := bitstream.WriteUint16(w, uint16(len(p.SteamCookie)), 16); err != nil {
		return err
	}
	return bitstream.WriteBytes(w, p.SteamCookie)
}

// Unmarshal reads the payload, the type character having been consumed
// already. Only Steam auth is accepted.
func (p *Connect) Unmarshal(r bitstream.Reader) error {
	var err error
	if p.ProtocolVersion, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	auth, err := bitstream.ReadInt32(r)
	if err != nil {
		return err
	}
	p.AuthProtocol = AuthProtocol(auth)
	if p.AuthProtocol != AuthProtocolSteam {
		return fmt.Errorf("%w: auth protocol %d, only Steam is accepted", ErrUnsupported, auth)
	}
	if p.ServerChallenge, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if p.ClientChallenge, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	for _, dst := range []*string{&p.Name, &p.Password, &p.Version} {
		if *dst, err = bitstream.ReadString(r); err != nil {
			return err
		}
	}
	cookieLen, err := bitstream.ReadUint16(r, 16)
	if err != nil {
		return err
	}
	p.SteamCookie, err = bitstream.ReadBytes(r, int(cookieLen))
	return err
}

// Connection is the S2C acceptance of a Connect.
type Connection struct {
	Challenge int32
}

// CID returns the type character
func (*Connection) CID() byte { return CIDConnection }

// Marshal writes the packet body
func (p *Connection) Marshal(w bitstream.Writer) error {
	if err := marshalCID(w, p); err != nil {
		return err
	}
	return bitstream.WriteInt32(w, p.Challenge)
}

// Unmarshal reads the payload, the type character having been consumed
// already
func (p *Connection) Unmarshal(r bitstream.Reader) error {
	var err error
	p.Challenge, err = bitstream.ReadInt32(r)
	return err
}

// ConnectReject is the S2C refusal of a handshake, with a reason.
type ConnectReject struct {
	Challenge int32
	Reason    string
}

// CID returns the type character
func (*ConnectReject) CID() byte { return CIDConnectReject }

// Marshal writes the packet body
func (p *ConnectReject) Marshal(w bitstream.Writer) error {
	if err := marshalCID(w, p); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, p.Challenge); err != nil {
		return err
	}
	return bitstream.WriteString(w, p.Reason)
}

// Unmarshal reads the payload, the type character having been consumed
// already
func (p *ConnectReject) Unmarshal(r bitstream.Reader) error {
	var err error
	if p.Challenge, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	p.Reason, err = bitstream.ReadString(r)
	return err
}
