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
	"github.com/sourcelayer/srcds/bitstream"
)

// userMessageSizeBits is the width of the payload-size field of the
// UserMessage envelope. The size counts the bits after the field
// itself.
const userMessageSizeBits = 11

// UserMsg is a game-level message nested inside a UserMessage
// envelope. Its id travels as a full byte, unlike control message ids.
type UserMsg interface {
	ID() uint8
	Marshal(w bitstream.Writer) error
}

// UserMessage is the control message envelope carrying one UserMsg.
type UserMessage struct {
	Msg UserMsg
}

// ID returns the message id
func (*UserMessage) ID() uint8 { return MsgUserMessage }

// Marshal writes the envelope. The size field is reserved first, the
// nested message written, and the measured bit count patched back in.
func (m *UserMessage) Marshal(w bitstream.Writer) error {
	if err := marshalID(w, m); err != nil {
		return err
	}
	sizePos := w.Position()
	if err := bitstream.WriteUint16(w, 0, userMessageSizeBits); err != nil {
		return err
	}
	if err := bitstream.WriteUint8(w, m.Msg.ID(), 8); err != nil {
		return err
	}
	if err := m.Msg.Marshal(w); err != nil {
		return err
	}
	endPos := w.Position()
	if err := w.SetPosition(sizePos); err != nil {
		return err
	}
	if err := bitstream.WriteUint16(w, uint16(endPos-sizePos-userMessageSizeBits), userMessageSizeBits); err != nil {
		return err
	}
	return w.SetPosition(endPos)
}

// SayText2 prints a chat line on the client.
type SayText2 struct {
	EntityIndex uint8
	IsChat      bool
	Message     string
	Params      [4]string
}

// ID returns the user message id
func (*SayText2) ID() uint8 { return 4 }

// Marshal writes the payload, the envelope having written the id
func (m *SayText2) Marshal(w bitstream.Writer) error {
	if err := bitstream.WriteUint8(w, m.EntityIndex, 8); err != nil {
		return err
	}
	var chat uint8
	if m.IsChat {
		chat = 1
	}
	if err := bitstream.WriteUint8(w, chat, 8); err != nil {
		return err
	}
	if err := bitstream.WriteString(w, m.Message); err != nil {
		return err
	}
	for _, param := range m.Params {
		if err := bitstream.WriteString(w, param); err != nil {
			return err
		}
	}
	return nil
}
