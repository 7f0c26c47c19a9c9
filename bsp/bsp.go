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
Package bsp reads Source engine BSP map files far enough to produce
the map fingerprint the engine sends to connecting clients.
*/
package bsp

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sourcelayer/srcds/protocol"
)

// signature is "VBSP" read as a little-endian u32.
const signature uint32 = 0x50534256

// NumLumps is how many lump directory entries a BSP carries.
const NumLumps = 64

// LumpEntities is the lump index holding map entities. It is excluded
// from the fingerprint because entities may be edited server-side
// without changing the world geometry.
const LumpEntities = 0

// Lump is one sub-record of a BSP file.
type Lump struct {
	Version          uint32
	UncompressedSize uint32
	Data             []byte
}

// File is a parsed BSP.
type File struct {
	Version     uint32
	MapRevision uint32
	Lumps       [NumLumps]Lump
}

// Parse reads the header, the lump directory and every lump's bytes.
// Lump data is loaded with the on-disk length from the directory, not
// the uncompressed size.
func Parse(r io.ReadSeeker) (*File, error) {
	var sig uint32
	if err := binary.Read(r, binary.LittleEndian, &sig); err != nil {
		return nil, err
	}
	if sig != signature {
		return nil, fmt.Errorf("%w: invalid BSP signature %#x", protocol.ErrDecode, sig)
	}

	f := &File{}
	if err := binary.Read(r, binary.LittleEndian, &f.Version); err != nil {
		return nil, err
	}

	for i := 0; i < NumLumps; i++ {
		var dir struct {
			Offset           uint32
			Length           uint32
			Version          uint32
			UncompressedSize uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
			return nil, err
		}

		lump := Lump{
			Version:          dir.Version,
			UncompressedSize: dir.UncompressedSize,
			Data:             make([]byte, dir.Length),
		}

		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if _, err := r.Seek(int64(dir.Offset), io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, lump.Data); err != nil {
			return nil, fmt.Errorf("reading lump %d: %w", i, err)
		}
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}

		f.Lumps[i] = lump
	}

	if err := binary.Read(r, binary.LittleEndian, &f.MapRevision); err != nil {
		return nil, err
	}

	return f, nil
}

// MD5 hashes every lump except Entities, in file order, the same way
// the engine fingerprints a map.
func (f *File) MD5() [16]byte {
	h := md5.New()
	for i := range f.Lumps {
		if i == LumpEntities {
			continue
		}
		h.Write(f.Lumps[i].Data)
	}
	var digest [16]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
