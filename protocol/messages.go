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

// MessageIDBits is the width of the message id preceding every control
// message in a packet's data streams.
const MessageIDBits = 6

// Control message ids.
const (
	MsgNop                uint8 = 0
	MsgDisconnect         uint8 = 1
	MsgTick               uint8 = 3
	MsgSetConVar          uint8 = 5
	MsgSignOnState        uint8 = 6
	MsgPrint              uint8 = 7
	MsgInfo               uint8 = 8 // ServerInfo clientbound, ClientInfo serverbound
	MsgCreateStringTable  uint8 = 12
	MsgRespondConVarValue uint8 = 13
	MsgUserMessage        uint8 = 23
	MsgGetConVarValue     uint8 = 31
)

// hasReplay matches the engine build this implementation speaks to:
// ServerInfo and ClientInfo carry a trailing replay bit.
const hasReplay = true

// Message is one control message from the closed catalog. Marshal
// writes the 6-bit id followed by the positional payload.
type Message interface {
	ID() uint8
	Marshal(w bitstream.Writer) error
}

func marshalID(w bitstream.Writer, m Message) error {
	return bitstream.WriteUint8(w, m.ID(), MessageIDBits)
}

// Nop is message 0, ignored by both sides.
type Nop struct{}

// ID returns the message id
func (*Nop) ID() uint8 { return MsgNop }

// Marshal writes the message to the stream
func (m *Nop) Marshal(w bitstream.Writer) error {
	return marshalID(w, m)
}

// Disconnect tells the peer the connection is over, with a reason.
type Disconnect struct {
	Reason string
}

// ID returns the message id
func (*Disconnect) ID() uint8 { return MsgDisconnect }

// Marshal writes the message to the stream
func (m *Disconnect) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	return bitstream.WriteString(w, m.Reason)
}

// Unmarshal reads the payload, the id having been consumed already
func (m *Disconnect) Unmarshal(r bitstream.Reader) error {
	var err error
	m.Reason, err = bitstream.ReadString(r)
	return err
}

// Tick carries the server tick and host frame timings. The timings are
// often shown as floats but travel truncated to u16.
type Tick struct {
	Tick                int32
	HostFrameTime       uint16
	HostFrameTimeStdDev uint16
}

// ID returns the message id
func (*Tick) ID() uint8 { return MsgTick }

// Marshal writes the message to the stream
func (m *Tick) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.Tick); err != nil {
		return err
	}
	if err := bitstream.WriteUint16(w, m.HostFrameTime, 16); err != nil {
		return err
	}
	return bitstream.WriteUint16(w, m.HostFrameTimeStdDev, 16)
}

// Unmarshal reads the payload, the id having been consumed already
func (m *Tick) Unmarshal(r bitstream.Reader) error {
	var err error
	if m.Tick, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if m.HostFrameTime, err = bitstream.ReadUint16(r, 16); err != nil {
		return err
	}
	m.HostFrameTimeStdDev, err = bitstream.ReadUint16(r, 16)
	return err
}

// ConVar is one key/value configuration pair.
type ConVar struct {
	Key   string
	Value string
}

// SetConVar transfers a batch of convars to the peer.
type SetConVar struct {
	ConVars []ConVar
}

// ID returns the message id
func (*SetConVar) ID() uint8 { return MsgSetConVar }

// Marshal writes the message to the stream
func (m *SetConVar) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if len(m.ConVars) > 0xFF {
		return fmt.Errorf("%w: too many convars in SetConVar message", ErrUnsupported)
	}
	if err := bitstream.WriteUint8(w, uint8(len(m.ConVars)), 8); err != nil {
		return err
	}
	for _, cv := range m.ConVars {
		if err := bitstream.WriteString(w, cv.Key); err != nil {
			return err
		}
		if err := bitstream.WriteString(w, cv.Value); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal reads the payload, the id having been consumed already
func (m *SetConVar) Unmarshal(r bitstream.Reader) error {
	count, err := bitstream.ReadUint8(r, 8)
	if err != nil {
		return err
	}
	m.ConVars = make([]ConVar, 0, count)
	for i := 0; i < int(count); i++ {
		var cv ConVar
		if cv.Key, err = bitstream.ReadString(r); err != nil {
			return err
		}
		if cv.Value, err = bitstream.ReadString(r); err != nil {
			return err
		}
		m.ConVars = append(m.ConVars, cv)
	}
	return nil
}

// SignOnStateMsg announces the sender's position in the sign-on
// pipeline.
type SignOnStateMsg struct {
	State      SignOnState
	SpawnCount int32
}

// ID returns the message id
func (*SignOnStateMsg) ID() uint8 { return MsgSignOnState }

// Marshal writes the message to the stream
func (m *SignOnStateMsg) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteUint8(w, uint8(m.State), 8); err != nil {
		return err
	}
	return bitstream.WriteInt32(w, m.SpawnCount)
}

// Unmarshal reads the payload, the id having been consumed already
func (m *SignOnStateMsg) Unmarshal(r bitstream.Reader) error {
	state, err := bitstream.ReadUint8(r, 8)
	if err != nil {
		return err
	}
	m.State = SignOnState(state)
	m.SpawnCount, err = bitstream.ReadInt32(r)
	return err
}

// Print shows text in the client console. The engine expects the text
// to end with a newline; one is appended on write unless NoNewline is
// set.
type Print struct {
	Text      string
	NoNewline bool
}

// ID returns the message id
func (*Print) ID() uint8 { return MsgPrint }

// Marshal writes the message to the stream
func (m *Print) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	text := m.Text
	if !m.NoNewline {
		text += "\n"
	}
	return bitstream.WriteString(w, text)
}

// Unmarshal reads the payload, the id having been consumed already
func (m *Print) Unmarshal(r bitstream.Reader) error {
	var err error
	m.Text, err = bitstream.ReadString(r)
	return err
}

// clientCRCSentinel fills the client.dll CRC field, used long ago
// before signed binaries and VAC.
const clientCRCSentinel int32 = 1337420

// ServerInfo is the clientbound description of the server a client has
// connected to.
type ServerInfo struct {
	Protocol        int16
	ServerCount     int32
	IsHLTV          bool
	IsDedicated     bool
	MaxClasses      uint16
	MapMD5          [16]byte
	PlayerSlot      uint8
	MaxClients      uint8
	TickInterval    float32
	OperatingSystem byte
	GameDir         string
	MapName         string
	SkyName         string
	HostName        string
	IsReplay        bool
}

// ID returns the message id
func (*ServerInfo) ID() uint8 { return MsgInfo }

// Marshal writes the message to the stream
func (m *ServerInfo) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteInt16(w, m.Protocol); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.ServerCount); err != nil {
		return err
	}
	if err := bitstream.WriteBool(w, m.IsHLTV); err != nil {
		return err
	}
	if err := bitstream.WriteBool(w, m.IsDedicated); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, clientCRCSentinel); err != nil {
		return err
	}
	if err := bitstream.WriteUint16(w, m.MaxClasses, 16); err != nil {
		return err
	}
	if err := bitstream.WriteBytes(w, m.MapMD5[:]); err != nil {
		return err
	}
	if err := bitstream.WriteUint8(w, m.PlayerSlot, 8); err != nil {
		return err
	}
	if err := bitstream.WriteUint8(w, m.MaxClients, 8); err != nil {
		return err
	}
	if err := bitstream.WriteFloat32(w, m.TickInterval); err != nil {
		return err
	}
	if err := bitstream.WriteUint8(w, m.OperatingSystem, 8); err != nil {
		return err
	}
	for _, s := range []string{m.GameDir, m.MapName, m.SkyName, m.HostName} {
		if err := bitstream.WriteString(w, s); err != nil {
			return err
		}
	}
	if hasReplay {
		return bitstream.WriteBool(w, m.IsReplay)
	}
	return nil
}

// Unmarshal reads the payload, the id having been consumed already.
// The client.dll CRC field is consumed and dropped.
func (m *ServerInfo) Unmarshal(r bitstream.Reader) error {
	var err error
	if m.Protocol, err = bitstream.ReadInt16(r); err != nil {
		return err
	}
	if m.ServerCount, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if m.IsHLTV, err = bitstream.ReadBool(r); err != nil {
		return err
	}
	if m.IsDedicated, err = bitstream.ReadBool(r); err != nil {
		return err
	}
	if _, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if m.MaxClasses, err = bitstream.ReadUint16(r, 16); err != nil {
		return err
	}
	md5, err := bitstream.ReadBytes(r, len(m.MapMD5))
	if err != nil {
		return err
	}
	copy(m.MapMD5[:], md5)
	if m.PlayerSlot, err = bitstream.ReadUint8(r, 8); err != nil {
		return err
	}
	if m.MaxClients, err = bitstream.ReadUint8(r, 8); err != nil {
		return err
	}
	if m.TickInterval, err = bitstream.ReadFloat32(r); err != nil {
		return err
	}
	if m.OperatingSystem, err = bitstream.ReadUint8(r, 8); err != nil {
		return err
	}
	for _, dst := range []*string{&m.GameDir, &m.MapName, &m.SkyName, &m.HostName} {
		if *dst, err = bitstream.ReadString(r); err != nil {
			return err
		}
	}
	if hasReplay {
		m.IsReplay, err = bitstream.ReadBool(r)
	}
	return err
}

// maxCustomFiles is how many custom-file CRC slots a ClientInfo
// carries.
const maxCustomFiles = 4

// ClientInfo is the serverbound counterpart of ServerInfo, sharing its
// message id.
type ClientInfo struct {
	ServerCount   int32
	SendTableCRC  int32
	IsHLTV        bool
	FriendsID     int32
	FriendsName   string
	CustomFileCRC [maxCustomFiles]*uint32
	IsReplay      bool
}

// ID returns the message id
func (*ClientInfo) ID() uint8 { return MsgInfo }

// Marshal writes the message to the stream
func (m *ClientInfo) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.ServerCount); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.SendTableCRC); err != nil {
		return err
	}
	if err := bitstream.WriteBool(w, m.IsHLTV); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.FriendsID); err != nil {
		return err
	}
	if err := bitstream.WriteString(w, m.FriendsName); err != nil {
		return err
	}
	for _, crc := range m.CustomFileCRC {
		if err := bitstream.WriteBool(w, crc != nil); err != nil {
			return err
		}
		if crc != nil {
			if err := bitstream.WriteUint32(w, *crc, 32); err != nil {
				return err
			}
		}
	}
	if hasReplay {
		return bitstream.WriteBool(w, m.IsReplay)
	}
	return nil
}

// Unmarshal reads the payload, the id having been consumed already
func (m *ClientInfo) Unmarshal(r bitstream.Reader) error {
	var err error
	if m.ServerCount, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if m.SendTableCRC, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if m.IsHLTV, err = bitstream.ReadBool(r); err != nil {
		return err
	}
	if m.FriendsID, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	if m.FriendsName, err = bitstream.ReadString(r); err != nil {
		return err
	}
	for i := range m.CustomFileCRC {
		present, err := bitstream.ReadBool(r)
		if err != nil {
			return err
		}
		if present {
			crc, err := bitstream.ReadUint32(r, 32)
			if err != nil {
				return err
			}
			m.CustomFileCRC[i] = &crc
		}
	}
	if hasReplay {
		m.IsReplay, err = bitstream.ReadBool(r)
	}
	return err
}

// stringTableMaxEntries is fixed for the one table this server
// announces.
const stringTableMaxEntries = 1024

// CreateStringTable announces a string table to the client. Only the
// empty form is emitted; decoding full tables is not supported.
type CreateStringTable struct {
	Name string
}

// ID returns the message id
func (*CreateStringTable) ID() uint8 { return MsgCreateStringTable }

// Marshal writes the message to the stream
func (m *CreateStringTable) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteString(w, m.Name); err != nil {
		return err
	}
	if err := bitstream.WriteUint16(w, stringTableMaxEntries, 16); err != nil {
		return err
	}
	// num entries, log2(max_entries)+1 bits wide
	if err := bitstream.WriteUint32(w, 0, log2(stringTableMaxEntries)+1); err != nil {
		return err
	}
	if err := bitstream.WriteVarint32(w, 0); err != nil {
		return err
	}
	if err := bitstream.WriteBool(w, false); err != nil {
		return err
	}
	return bitstream.WriteBool(w, false)
}

// Unmarshal is not implemented; this server never receives tables.
func (m *CreateStringTable) Unmarshal(r bitstream.Reader) error {
	return fmt.Errorf("%w: decoding CreateStringTable", ErrUnsupported)
}

func log2(v uint32) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// ConVarResponse is the outcome of a GetConVarValue query.
type ConVarResponse uint8

const (
	ConVarSuccess ConVarResponse = iota
	ConVarNotFound
	ConVarNotAConVar
	ConVarCannotQuery
)

// respondConVarValueResponseBits is the width of the response field.
const respondConVarValueResponseBits = 4

// RespondConVarValue answers a GetConVarValue query.
type RespondConVarValue struct {
	Cookie   int32
	Response ConVarResponse
	Name     string
	Value    string
}

// ID returns the message id
func (*RespondConVarValue) ID() uint8 { return MsgRespondConVarValue }

// Marshal writes the message to the stream
func (m *RespondConVarValue) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.Cookie); err != nil {
		return err
	}
	if err := bitstream.WriteUint8(w, uint8(m.Response), respondConVarValueResponseBits); err != nil {
		return err
	}
	if err := bitstream.WriteString(w, m.Name); err != nil {
		return err
	}
	return bitstream.WriteString(w, m.Value)
}

// Unmarshal reads the payload, the id having been consumed already
func (m *RespondConVarValue) Unmarshal(r bitstream.Reader) error {
	var err error
	if m.Cookie, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	response, err := bitstream.ReadUint8(r, respondConVarValueResponseBits)
	if err != nil {
		return err
	}
	m.Response = ConVarResponse(response)
	if m.Name, err = bitstream.ReadString(r); err != nil {
		return err
	}
	m.Value, err = bitstream.ReadString(r)
	return err
}

// GetConVarValue asks the peer for a convar's current value.
type GetConVarValue struct {
	Cookie int32
	Name   string
}

// ID returns the message id
func (*GetConVarValue) ID() uint8 { return MsgGetConVarValue }

// Marshal writes the message to the stream
func (m *GetConVarValue) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	if err := bitstream.WriteInt32(w, m.Cookie); err != nil {
		return err
	}
	return bitstream.WriteString(w, m.Name)
}

// Unmarshal reads the payload, the id having been consumed already
func (m *GetConVarValue) Unmarshal(r bitstream.Reader) error {
	var err error
	if m.Cookie, err = bitstream.ReadInt32(r); err != nil {
		return err
	}
	m.Name, err = bitstream.ReadString(r)
	return err
}

// ReadMessage reads the 6-bit id and decodes the message that follows.
// It decodes the serverbound messages plus Print; any other id decodes
// as unknown.
func ReadMessage(r bitstream.Reader) (Message, error) {
	id, err := bitstream.ReadUint8(r, MessageIDBits)
	if err != nil {
		return nil, err
	}
	var m Message
	switch id {
	case MsgNop:
		return &Nop{}, nil
	case MsgDisconnect:
		m = &Disconnect{}
	case MsgTick:
		m = &Tick{}
	case MsgSetConVar:
		m = &SetConVar{}
	case MsgSignOnState:
		m = &SignOnStateMsg{}
	case MsgPrint:
		m = &Print{}
	case MsgInfo:
		m = &ClientInfo{}
	case MsgRespondConVarValue:
		m = &RespondConVarValue{}
	default:
		return nil, fmt.Errorf("%w: unknown message id %d", ErrDecode, id)
	}
	type unmarshaler interface {
		Unmarshal(bitstream.Reader) error
	}
	if err := m.(unmarshaler).Unmarshal(r); err != nil {
		return nil, err
	}
	return m, nil
}
