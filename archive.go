package rscache

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Archive is an ordered bundle of N byte-sequence entries packed into a
// single container payload.
type Archive struct {
	entries [][]byte
}

// NewArchive creates an empty archive with capacity for n entries, each
// initially zero-length.
func NewArchive(n int) *Archive {
	entries := make([][]byte, n)
	for i := range entries {
		entries[i] = []byte{}
	}
	return &Archive{entries: entries}
}

// Size returns the number of entries in the archive.
func (a *Archive) Size() int {
	return len(a.entries)
}

// Get returns the bytes stored for entry id.
func (a *Archive) Get(id int) ([]byte, error) {
	if id < 0 || id >= len(a.entries) {
		return nil, ErrNotFound
	}
	return a.entries[id], nil
}

// Put stores b as the bytes for entry id.
func (a *Archive) Put(id int, b []byte) error {
	if id < 0 || id >= len(a.entries) {
		return ErrNotFound
	}
	a.entries[id] = b
	return nil
}

// Grow extends the archive to n entries, padding any new slots with
// zero-length placeholders. It is a no-op if n <= Size().
func (a *Archive) Grow(n int) {
	for len(a.entries) < n {
		a.entries = append(a.entries, []byte{})
	}
}

// Encode serializes the archive as a single chunk (C=1): every entry's full
// bytes in order, a delta-encoded size table (delta[id] = len(entry[id]) -
// len(entry[id-1]), with prev reset to 0), then the trailing chunk-count
// byte. Decoding supports C>1; this encoder only ever emits C=1, the
// asymmetry is intentional.
func (a *Archive) Encode() []byte {
	var buf bytes.Buffer
	for _, e := range a.entries {
		buf.Write(e)
	}

	prev := 0
	for _, e := range a.entries {
		delta := len(e) - prev
		prev = len(e)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(int32(delta)))
		buf.Write(tmp[:])
	}

	buf.WriteByte(1)
	return buf.Bytes()
}

// DecodeArchive reconstructs an archive of n entries from its encoded form.
// The trailing byte gives the chunk count C; the preceding C*n*4 bytes are
// the per-(chunk,id) size deltas (prev resets to 0 at the start of each
// chunk); the remaining prefix is the entries' bytes in (chunk, id) nested
// order.
func DecodeArchive(b []byte, n int) (*Archive, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: archive entry count must be positive", ErrCorrupt)
	}
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty archive", ErrCorrupt)
	}

	c := int(b[len(b)-1])
	tableSize := c * n * 4
	if len(b)-1 < tableSize {
		return nil, fmt.Errorf("%w: archive delta table truncated", ErrCorrupt)
	}
	tableStart := len(b) - 1 - tableSize

	sizes := make([][]int, c)
	off := tableStart
	for chunk := 0; chunk < c; chunk++ {
		sizes[chunk] = make([]int, n)
		prev := 0
		for id := 0; id < n; id++ {
			delta := int(int32(binary.BigEndian.Uint32(b[off : off+4])))
			off += 4
			prev += delta
			sizes[chunk][id] = prev
		}
	}

	entries := make([][]byte, n)
	for i := range entries {
		entries[i] = []byte{}
	}

	pos := 0
	for chunk := 0; chunk < c; chunk++ {
		for id := 0; id < n; id++ {
			sz := sizes[chunk][id]
			if sz < 0 || pos+sz > tableStart {
				return nil, fmt.Errorf("%w: archive payload truncated", ErrCorrupt)
			}
			entries[id] = append(entries[id], b[pos:pos+sz]...)
			pos += sz
		}
	}

	return &Archive{entries: entries}, nil
}
