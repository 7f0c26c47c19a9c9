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
	"hash/crc32"

	"github.com/sourcelayer/srcds/bitstream"
)

// subchannelBits is the width of the reliable subchannel index field.
const subchannelBits = 3

// ChannelData is one reliable channel's payload from a received
// packet, stored verbatim for the handler to interpret as a message
// stream.
type ChannelData struct {
	Subchannel uint8
	Data       []byte
}

// ReceivingPacket is a decoded sequenced packet. Receiving and sending
// are two very different operations, so they get two different types.
type ReceivingPacket struct {
	Sequence      int32
	SequenceAck   int32
	Checksum      uint16
	ReliableState uint8
	ChokedCount   *uint8
	Challenge     *int32
	Channels      map[Channel]ChannelData
	// Unreliable data is stuffed at the end of a packet, if the peer
	// had room for it.
	UnreliableData []byte
}

// ReadPacket decodes a sequenced packet. The stream is needed in full
// so the checksum can cover all bytes after the checksum field without
// consuming them.
func ReadPacket(s *bitstream.Stream) (*ReceivingPacket, error) {
	p := &ReceivingPacket{Channels: map[Channel]ChannelData{}}

	var err error
	if p.Sequence, err = bitstream.ReadInt32(s); err != nil {
		return nil, err
	}
	if p.SequenceAck, err = bitstream.ReadInt32(s); err != nil {
		return nil, err
	}
	rawFlags, err := bitstream.ReadUint8(s, 8)
	if err != nil {
		return nil, err
	}
	flags := Flags(rawFlags)
	if p.Checksum, err = bitstream.ReadUint16(s, 16); err != nil {
		return nil, err
	}

	tail := s.Bytes()[s.Position()>>3:]
	if CompressChecksum(crc32.ChecksumIEEE(tail)) != p.Checksum {
		return nil, ErrChecksumMismatch
	}

	if p.ReliableState, err = bitstream.ReadUint8(s, 8); err != nil {
		return nil, err
	}
	if flags.Has(FlagChoked) {
		choked, err := bitstream.ReadUint8(s, 8)
		if err != nil {
			return nil, err
		}
		p.ChokedCount = &choked
	}
	if flags.Has(FlagChallenge) {
		challenge, err := bitstream.ReadInt32(s)
		if err != nil {
			return nil, err
		}
		p.Challenge = &challenge
	}
	if flags.Has(FlagReliable) {
		subchannel, err := bitstream.ReadUint8(s, subchannelBits)
		if err != nil {
			return nil, err
		}
		for ch := ChannelNormal; ch < channelCount; ch++ {
			present, err := bitstream.ReadBool(s)
			if err != nil {
				return nil, err
			}
			if present {
				if err := readChannel(ch, subchannel, s, p); err != nil {
					return nil, err
				}
			}
		}
	}

	// Remaining whole bytes are the unreliable tail. A trailing
	// partial byte holds only padding.
	pos := s.Position()
	used := pos >> 3
	if pos&7 != 0 {
		used++
	}
	remaining := len(s.Bytes()) - used
	p.UnreliableData, err = bitstream.ReadBytes(s, remaining)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func readChannel(ch Channel, subchannel uint8, s *bitstream.Stream, p *ReceivingPacket) error {
	fragmented, err := bitstream.ReadBool(s)
	if err != nil {
		return err
	}
	if fragmented {
		return fmt.Errorf("%w: fragmented channel data", ErrUnsupported)
	}
	compressed, err := bitstream.ReadBool(s)
	if err != nil {
		return err
	}
	if compressed {
		return fmt.Errorf("%w: compressed channel data", ErrUnsupported)
	}
	size, err := bitstream.ReadVarint32(s)
	if err != nil {
		return err
	}
	data, err := bitstream.ReadBytes(s, int(size))
	if err != nil {
		return err
	}
	p.Channels[ch] = ChannelData{Subchannel: subchannel, Data: data}
	return nil
}

// SendingPacket assembles a sequenced packet for transmission.
type SendingPacket struct {
	Sequence    int32
	SequenceAck int32
	ChokedCount *uint8
	Challenge   *int32

	reliable   []Message
	unreliable []Message
}

// AddReliableMessage queues a message on the Normal reliable channel.
func (p *SendingPacket) AddReliableMessage(m Message) {
	p.reliable = append(p.reliable, m)
}

// AddUnreliableMessage queues a message on the unreliable tail.
func (p *SendingPacket) AddUnreliableMessage(m Message) {
	p.unreliable = append(p.unreliable, m)
}

// SetChallenge attaches the challenge field.
func (p *SendingPacket) SetChallenge(challenge int32) {
	p.Challenge = &challenge
}

// Marshal encodes the packet: header with placeholder flags and zero
// checksum, optional fields, reliable framing when reliable messages
// were queued, the unreliable tail, zero padding up to a whole byte,
// then the pad count and CRC patched back in.
func (p *SendingPacket) Marshal() ([]byte, error) {
	s := bitstream.NewExpandingStream()

	if err := bitstream.WriteInt32(s, p.Sequence); err != nil {
		return nil, err
	}
	if err := bitstream.WriteInt32(s, p.SequenceAck); err != nil {
		return nil, err
	}

	var flags Flags
	if p.Challenge != nil {
		flags |= FlagChallenge
	}
	if p.ChokedCount != nil {
		flags |= FlagChoked
	}
	if len(p.reliable) > 0 {
		flags |= FlagReliable
	}

	flagsPos := s.Position()
	if err := bitstream.WriteUint8(s, uint8(flags), 8); err != nil {
		return nil, err
	}
	checksumPos := s.Position()
	if err := bitstream.WriteUint16(s, 0, 16); err != nil {
		return nil, err
	}
	checksumFrom := s.Position()

	// Reliable state: nothing to acknowledge.
	if err := bitstream.WriteUint8(s, 0, 8); err != nil {
		return nil, err
	}
	if p.ChokedCount != nil {
		if err := bitstream.WriteUint8(s, *p.ChokedCount, 8); err != nil {
			return nil, err
		}
	}
	if p.Challenge != nil {
		if err := bitstream.WriteInt32(s, *p.Challenge); err != nil {
			return nil, err
		}
	}

	if len(p.reliable) > 0 {
		if err := p.writeReliable(s); err != nil {
			return nil, err
		}
	}

	for _, m := range p.unreliable {
		if err := m.Marshal(s); err != nil {
			return nil, err
		}
	}

	// The engine pads the trailing bits explicitly, and the count has
	// to land in the flags byte.
	if additional := s.Position() & 7; additional > 0 {
		padBits := 8 - additional
		flags |= Flags(padBits << 5)
		if err := bitstream.WriteUint8(s, 0, padBits); err != nil {
			return nil, err
		}
	}
	endPos := s.Position()

	if err := s.SetPosition(flagsPos); err != nil {
		return nil, err
	}
	if err := bitstream.WriteUint8(s, uint8(flags), 8); err != nil {
		return nil, err
	}
	if err := s.SetPosition(endPos); err != nil {
		return nil, err
	}

	checksum := CompressChecksum(crc32.ChecksumIEEE(s.Bytes()[checksumFrom>>3:]))
	if err := s.SetPosition(checksumPos); err != nil {
		return nil, err
	}
	if err := bitstream.WriteUint16(s, checksum, 16); err != nil {
		return nil, err
	}
	if err := s.SetPosition(endPos); err != nil {
		return nil, err
	}

	return s.Bytes(), nil
}

// writeReliable emits the single-subchannel form: subchannel 0, the
// Normal channel present and neither fragmented nor compressed, the
// File channel absent.
func (p *SendingPacket) writeReliable(s *bitstream.ExpandingStream) error {
	data := bitstream.NewExpandingStream()
	for _, m := range p.reliable {
		if err := m.Marshal(data); err != nil {
			return err
		}
	}

	if err := bitstream.WriteUint8(s, 0, subchannelBits); err != nil {
		return err
	}
	for ch := ChannelNormal; ch < channelCount; ch++ {
		if ch != ChannelNormal {
			if err := bitstream.WriteBool(s, false); err != nil {
				return err
			}
			continue
		}
		if err := bitstream.WriteBool(s, true); err != nil {
			return err
		}
		if err := bitstream.WriteBool(s, false); err != nil { // not fragmented
			return err
		}
		if err := bitstream.WriteBool(s, false); err != nil { // not compressed
			return err
		}
		payload := data.Bytes()
		if err := bitstream.WriteVarint32(s, uint32(len(payload))); err != nil {
			return err
		}
		if err := bitstream.WriteBytes(s, payload); err != nil {
			return err
		}
	}
	return nil
}
