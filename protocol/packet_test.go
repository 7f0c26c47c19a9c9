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
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcelayer/srcds/bitstream"
)

func checksumOf(b []byte) uint16 {
	return CompressChecksum(crc32.ChecksumIEEE(b))
}

func decodeMessages(t *testing.T, data []byte) []Message {
	t.Helper()
	r := bitstream.NewReadOnlyStream(data)
	var msgs []Message
	for len(data)<<3 > r.Position()+MessageIDBits {
		m, err := ReadMessage(r)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return msgs
}

func TestPacketRoundTripUnreliable(t *testing.T) {
	p := &SendingPacket{Sequence: 5, SequenceAck: 2}
	p.SetChallenge(0x1BADB002)
	p.AddUnreliableMessage(&Print{Text: "welcome"})
	p.AddUnreliableMessage(&SignOnStateMsg{State: SignOnStateNew})
	p.AddUnreliableMessage(&Disconnect{Reason: "later"})

	raw, err := p.Marshal()
	require.NoError(t, err)

	got, err := ReadPacket(bitstream.NewStream(raw))
	require.NoError(t, err)
	assert.Equal(t, int32(5), got.Sequence)
	assert.Equal(t, int32(2), got.SequenceAck)
	require.NotNil(t, got.Challenge)
	assert.Equal(t, int32(0x1BADB002), *got.Challenge)
	assert.Nil(t, got.ChokedCount)
	assert.Empty(t, got.Channels)

	msgs := decodeMessages(t, got.UnreliableData)
	require.Len(t, msgs, 3)
	assert.Equal(t, &Print{Text: "welcome\n"}, msgs[0])
	assert.Equal(t, &SignOnStateMsg{State: SignOnStateNew}, msgs[1])
	assert.Equal(t, &Disconnect{Reason: "later"}, msgs[2])
}

func TestPacketRoundTripReliable(t *testing.T) {
	p := &SendingPacket{Sequence: 1, SequenceAck: 0}
	p.AddReliableMessage(&Disconnect{Reason: "moved"})

	raw, err := p.Marshal()
	require.NoError(t, err)

	got, err := ReadPacket(bitstream.NewStream(raw))
	require.NoError(t, err)
	require.Contains(t, got.Channels, ChannelNormal)
	cd := got.Channels[ChannelNormal]
	assert.Equal(t, uint8(0), cd.Subchannel)

	msgs := decodeMessages(t, cd.Data)
	require.Len(t, msgs, 1)
	assert.Equal(t, &Disconnect{Reason: "moved"}, msgs[0])
}

func TestPacketChoked(t *testing.T) {
	choked := uint8(3)
	p := &SendingPacket{Sequence: 9, ChokedCount: &choked}
	raw, err := p.Marshal()
	require.NoError(t, err)
	got, err := ReadPacket(bitstream.NewStream(raw))
	require.NoError(t, err)
	require.NotNil(t, got.ChokedCount)
	assert.Equal(t, choked, *got.ChokedCount)
}

func TestPacketChecksumMismatch(t *testing.T) {
	p := &SendingPacket{Sequence: 1}
	p.AddUnreliableMessage(&Print{Text: "x"})
	raw, err := p.Marshal()
	require.NoError(t, err)

	for i := 11; i < len(raw); i++ {
		tampered := append([]byte{}, raw...)
		tampered[i] ^= 0xFF
		_, err := ReadPacket(bitstream.NewStream(tampered))
		assert.ErrorIs(t, err, ErrChecksumMismatch, "byte %d", i)
	}
}

func TestPacketPadding(t *testing.T) {
	p := &SendingPacket{Sequence: 3}
	p.SetChallenge(77)
	p.AddUnreliableMessage(&SignOnStateMsg{State: SignOnStateConnected})
	raw, err := p.Marshal()
	require.NoError(t, err)

	flags := Flags(raw[8])
	padBits := flags.PadBits()
	// a 6-bit id plus byte-wide fields never lands on a byte boundary
	assert.NotZero(t, padBits)

	// the declared padding is all zero bits at the very end
	s := bitstream.NewReadOnlyStream(raw)
	require.NoError(t, s.SetPosition(len(raw)<<3-padBits))
	pad, err := bitstream.ReadBits(s, padBits)
	require.NoError(t, err)
	assert.Zero(t, pad)
}

func TestPacketFragmentedRejected(t *testing.T) {
	// hand-build a reliable block with the fragmented bit set
	body := bitstream.NewExpandingStream()
	require.NoError(t, bitstream.WriteUint8(body, 0, 8)) // reliable state
	require.NoError(t, bitstream.WriteUint8(body, 0, subchannelBits))
	require.NoError(t, bitstream.WriteBool(body, true)) // Normal present
	require.NoError(t, bitstream.WriteBool(body, true)) // fragmented
	if pad := body.Position() & 7; pad != 0 {
		require.NoError(t, bitstream.WriteBits(body, 0, 8-pad))
	}

	raw := sealPacket(t, FlagReliable, body.Bytes())
	_, err := ReadPacket(bitstream.NewStream(raw))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestPacketCompressedRejected(t *testing.T) {
	body := bitstream.NewExpandingStream()
	require.NoError(t, bitstream.WriteUint8(body, 0, 8))
	require.NoError(t, bitstream.WriteUint8(body, 0, subchannelBits))
	require.NoError(t, bitstream.WriteBool(body, true))  // Normal present
	require.NoError(t, bitstream.WriteBool(body, false)) // not fragmented
	require.NoError(t, bitstream.WriteBool(body, true))  // compressed
	if pad := body.Position() & 7; pad != 0 {
		require.NoError(t, bitstream.WriteBits(body, 0, 8-pad))
	}

	raw := sealPacket(t, FlagReliable, body.Bytes())
	_, err := ReadPacket(bitstream.NewStream(raw))
	require.ErrorIs(t, err, ErrUnsupported)
}

// sealPacket wraps a post-checksum body with a valid header and CRC.
func sealPacket(t *testing.T, flags Flags, body []byte) []byte {
	t.Helper()
	s := bitstream.NewExpandingStream()
	require.NoError(t, bitstream.WriteInt32(s, 1))
	require.NoError(t, bitstream.WriteInt32(s, 0))
	require.NoError(t, bitstream.WriteUint8(s, uint8(flags), 8))
	require.NoError(t, bitstream.WriteUint16(s, checksumOf(body), 16))
	require.NoError(t, bitstream.WriteBytes(s, body))
	return s.Bytes()
}

func TestCompressChecksum(t *testing.T) {
	assert.Equal(t, uint16(0xF00F^0xDEAD), CompressChecksum(0xDEADF00F))
}
