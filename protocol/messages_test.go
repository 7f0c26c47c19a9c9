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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcelayer/srcds/bitstream"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	w := bitstream.NewExpandingStream()
	require.NoError(t, m.Marshal(w))
	r := bitstream.NewReadOnlyStream(w.Bytes())
	got, err := ReadMessage(r)
	require.NoError(t, err)
	return got
}

func TestDisconnectRoundTrip(t *testing.T) {
	got := roundTrip(t, &Disconnect{Reason: "bye"})
	assert.Equal(t, &Disconnect{Reason: "bye"}, got)
}

func TestTickRoundTrip(t *testing.T) {
	m := &Tick{Tick: 12345, HostFrameTime: 151, HostFrameTimeStdDev: 12}
	assert.Equal(t, m, roundTrip(t, m))
}

func TestSetConVarRoundTrip(t *testing.T) {
	m := &SetConVar{ConVars: []ConVar{
		{Key: "name", Value: "player"},
		{Key: "rate", Value: "66"},
	}}
	assert.Equal(t, m, roundTrip(t, m))
}

func TestSignOnStateRoundTrip(t *testing.T) {
	m := &SignOnStateMsg{State: SignOnStateConnected, SpawnCount: 7}
	assert.Equal(t, m, roundTrip(t, m))
}

func TestPrintAppendsNewline(t *testing.T) {
	w := bitstream.NewExpandingStream()
	require.NoError(t, (&Print{Text: "hello"}).Marshal(w))
	r := bitstream.NewReadOnlyStream(w.Bytes())
	id, err := bitstream.ReadUint8(r, MessageIDBits)
	require.NoError(t, err)
	require.Equal(t, MsgPrint, id)
	text, err := bitstream.ReadString(r)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", text)
}

func TestPrintNoNewline(t *testing.T) {
	w := bitstream.NewExpandingStream()
	require.NoError(t, (&Print{Text: "raw", NoNewline: true}).Marshal(w))
	r := bitstream.NewReadOnlyStream(w.Bytes())
	_, err := bitstream.ReadUint8(r, MessageIDBits)
	require.NoError(t, err)
	text, err := bitstream.ReadString(r)
	require.NoError(t, err)
	assert.Equal(t, "raw", text)
}

func TestServerInfoRoundTrip(t *testing.T) {
	m := &ServerInfo{
		Protocol:        24,
		ServerCount:     3,
		IsDedicated:     true,
		MaxClasses:      200,
		MapMD5:          [16]byte{0: 0xAA, 15: 0xFF},
		PlayerSlot:      1,
		MaxClients:      16,
		TickInterval:    float32(1.0 / 66.0),
		OperatingSystem: 'l',
		GameDir:         "tf",
		MapName:         "ctf_2fort",
		SkyName:         "sky_day01_01",
		HostName:        "test server",
	}
	w := bitstream.NewExpandingStream()
	require.NoError(t, m.Marshal(w))
	r := bitstream.NewReadOnlyStream(w.Bytes())
	id, err := bitstream.ReadUint8(r, MessageIDBits)
	require.NoError(t, err)
	require.Equal(t, MsgInfo, id)
	got := &ServerInfo{}
	require.NoError(t, got.Unmarshal(r))
	assert.Equal(t, m, got)
}

func TestClientInfoRoundTrip(t *testing.T) {
	crc := uint32(0xCAFE)
	m := &ClientInfo{
		ServerCount:  1,
		SendTableCRC: 42,
		FriendsID:    1000,
		FriendsName:  "someone",
		IsReplay:     false,
	}
	m.CustomFileCRC[2] = &crc
	got := roundTrip(t, m)
	assert.Equal(t, m, got)
}

func TestRespondConVarValueRoundTrip(t *testing.T) {
	m := &RespondConVarValue{
		Cookie:   99,
		Response: ConVarNotFound,
		Name:     "sv_cheats",
		Value:    "",
	}
	assert.Equal(t, m, roundTrip(t, m))
}

func TestGetConVarValueRoundTrip(t *testing.T) {
	m := &GetConVarValue{Cookie: -5, Name: "cl_rate"}
	w := bitstream.NewExpandingStream()
	require.NoError(t, m.Marshal(w))
	r := bitstream.NewReadOnlyStream(w.Bytes())
	id, err := bitstream.ReadUint8(r, MessageIDBits)
	require.NoError(t, err)
	require.Equal(t, MsgGetConVarValue, id)
	got := &GetConVarValue{}
	require.NoError(t, got.Unmarshal(r))
	assert.Equal(t, m, got)
}

func TestReadMessageNop(t *testing.T) {
	r := bitstream.NewReadOnlyStream([]byte{0})
	m, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, &Nop{}, m)
}

func TestReadMessageUnknownID(t *testing.T) {
	w := bitstream.NewExpandingStream()
	require.NoError(t, bitstream.WriteUint8(w, 44, MessageIDBits))
	r := bitstream.NewReadOnlyStream(w.Bytes())
	_, err := ReadMessage(r)
	require.ErrorIs(t, err, ErrDecode)
}

func TestCreateStringTableDecodeUnsupported(t *testing.T) {
	m := &CreateStringTable{}
	require.ErrorIs(t, m.Unmarshal(bitstream.NewReadOnlyStream(nil)), ErrUnsupported)
}

func TestUserMessageSizeField(t *testing.T) {
	um := &UserMessage{Msg: &SayText2{
		EntityIndex: 1,
		IsChat:      true,
		Message:     "hi",
	}}
	w := bitstream.NewExpandingStream()
	require.NoError(t, um.Marshal(w))

	r := bitstream.NewReadOnlyStream(w.Bytes())
	id, err := bitstream.ReadUint8(r, MessageIDBits)
	require.NoError(t, err)
	require.Equal(t, MsgUserMessage, id)
	size, err := bitstream.ReadUint16(r, 11)
	require.NoError(t, err)
	// everything after the size field is the embedded message
	assert.Equal(t, w.Position()-r.Position(), int(size))

	inner, err := bitstream.ReadUint8(r, 8)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), inner)
}
