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
Package protocol implements the Source engine network protocol: the
control message catalog, the sequenced packet codec with CRC framing,
and the connectionless handshake packets.
*/
package protocol

import (
	"errors"
	"fmt"
)

// Error kinds. Codec failures wrap one of these so callers can match
// with errors.Is.
var (
	// ErrDecode covers malformed input at the bit or byte layer.
	ErrDecode = errors.New("decode error")
	// ErrChecksumMismatch is returned when a sequenced packet CRC fails.
	ErrChecksumMismatch = errors.New("checksum does not match data")
	// ErrUnsupported covers valid-looking input this implementation
	// refuses, such as fragmented or compressed reliable data.
	ErrUnsupported = errors.New("unsupported")
	// ErrProtocol covers out-of-order handshake transitions.
	ErrProtocol = errors.New("protocol violation")
)

// SignOnState is the phase of the handshake/spawn pipeline for one
// client.
type SignOnState uint8

const (
	SignOnStateNone SignOnState = iota
	SignOnStateChallenge
	SignOnStateConnected
	SignOnStateNew
	SignOnStatePreSpawn
	SignOnStateSpawn
	SignOnStateFull
	SignOnStateChangeLevel
)

// SignOnStateToString is a map from SignOnState to string
var SignOnStateToString = map[SignOnState]string{
	SignOnStateNone:        "NONE",
	SignOnStateChallenge:   "CHALLENGE",
	SignOnStateConnected:   "CONNECTED",
	SignOnStateNew:         "NEW",
	SignOnStatePreSpawn:    "PRESPAWN",
	SignOnStateSpawn:       "SPAWN",
	SignOnStateFull:        "FULL",
	SignOnStateChangeLevel: "CHANGELEVEL",
}

func (s SignOnState) String() string {
	if v, ok := SignOnStateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// AuthProtocol selects how a connecting client authenticates.
type AuthProtocol int32

const (
	AuthProtocolCertificate AuthProtocol = 1
	AuthProtocolHashedCDKey AuthProtocol = 2
	AuthProtocolSteam       AuthProtocol = 3
)

// Flags is the flags byte of a sequenced packet. The high 3 bits carry
// the count of trailing pad bits, the other bits the markers below.
// FlagChallenge is bit 5, which is also the lowest bit of the pad
// count, so the two share that bit.
type Flags uint8

const (
	FlagReliable  Flags = 1 << 0
	FlagChoked    Flags = 1 << 4
	FlagChallenge Flags = 1 << 5
)

// Has reports whether all bits of flag are set in f.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// PadBits extracts the trailing pad bit count from the high 3 bits.
func (f Flags) PadBits() int {
	return int(f >> 5)
}

// Channel is a reliable data channel within a sequenced packet.
type Channel uint8

const (
	ChannelNormal Channel = iota
	ChannelFile
	channelCount
)

// ChannelToString is a map from Channel to string
var ChannelToString = map[Channel]string{
	ChannelNormal: "NORMAL",
	ChannelFile:   "FILE",
}

func (c Channel) String() string {
	return ChannelToString[c]
}

// CompressChecksum folds a CRC-32 into the 16-bit form carried in the
// packet header.
func CompressChecksum(crc uint32) uint16 {
	return uint16((crc & 0xFFFF) ^ (crc >> 16))
}
