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

package bsp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcelayer/srcds/protocol"
)

// buildBSP assembles a minimal valid BSP with the given per-lump data.
func buildBSP(t *testing.T, lumpData map[int][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := func(v uint32) {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}

	w(signature)
	w(20) // version

	headerSize := 8 + NumLumps*16 + 4
	offset := uint32(headerSize)
	var payload bytes.Buffer
	for i := 0; i < NumLumps; i++ {
		data := lumpData[i]
		w(offset)
		w(uint32(len(data)))
		w(uint32(i))         // lump version
		w(uint32(len(data))) // uncompressed size
		payload.Write(data)
		offset += uint32(len(data))
	}
	w(1) // map revision

	buf.Write(payload.Bytes())
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	raw := buildBSP(t, map[int][]byte{
		0: {0x01, 0x02},
		5: {0xAA, 0xBB, 0xCC},
	})

	f, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, uint32(20), f.Version)
	assert.Equal(t, uint32(1), f.MapRevision)
	assert.Equal(t, []byte{0x01, 0x02}, f.Lumps[0].Data)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, f.Lumps[5].Data)
	assert.Empty(t, f.Lumps[1].Data)
}

func TestParseBadSignature(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte{'P', 'S', 'B', 'V', 0, 0, 0, 0}))
	require.ErrorIs(t, err, protocol.ErrDecode)
}

func TestMD5SkipsEntities(t *testing.T) {
	// only the Entities lump has data, so the digest is of nothing
	raw := buildBSP(t, map[int][]byte{0: {0x01, 0x02}})
	f, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	digest := f.MD5()
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", hex.EncodeToString(digest[:]))
}

func TestMD5CoversOtherLumps(t *testing.T) {
	one := buildBSP(t, map[int][]byte{3: {0x10}})
	two := buildBSP(t, map[int][]byte{3: {0x20}})
	f1, err := Parse(bytes.NewReader(one))
	require.NoError(t, err)
	f2, err := Parse(bytes.NewReader(two))
	require.NoError(t, err)
	assert.NotEqual(t, f1.MD5(), f2.MD5())
}
