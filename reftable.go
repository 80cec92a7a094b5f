package rscache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// ReferenceFlags is the bitmap of optional sections carried by a
// ReferenceTable.
type ReferenceFlags uint8

const (
	FlagIdentifiers ReferenceFlags = 1 << iota
	FlagWhirlpool
)

func (f ReferenceFlags) String() string {
	var opt []string
	if f&FlagIdentifiers != 0 {
		opt = append(opt, "IDENTIFIERS")
	}
	if f&FlagWhirlpool != 0 {
		opt = append(opt, "WHIRLPOOL")
	}
	return strings.Join(opt, "|")
}

func (f ReferenceFlags) Has(what ReferenceFlags) bool {
	return f&what == what
}

// Child is a reference-table entry's child record: just an identifier, the
// child id itself being the map key.
type Child struct {
	Identifier int32
}

// Entry is one reference-table record: the bookkeeping Cache maintains for
// a single (type, file) pair's stored Container.
type Entry struct {
	Identifier int32
	CRC        int32
	Whirlpool  [64]byte
	Version    int32
	Children   map[uint16]*Child
}

// Capacity returns maxChildId+1 across this entry's children, or 0 if there
// are none.
func (e *Entry) Capacity() int {
	max := -1
	for id := range e.Children {
		if int(id) > max {
			max = int(id)
		}
	}
	return max + 1
}

// Size returns the number of children present on this entry.
func (e *Entry) Size() int {
	return len(e.Children)
}

func (e *Entry) child(id uint16) (*Child, bool) {
	c, ok := e.Children[id]
	return c, ok
}

func (e *Entry) putChild(id uint16, c *Child) {
	if e.Children == nil {
		e.Children = make(map[uint16]*Child)
	}
	e.Children[id] = c
}

func (e *Entry) removeChild(id uint16) {
	delete(e.Children, id)
}

// ReferenceTable is the per-type metadata table stored at (255, type):
// CRC, digest, version and child layout for every entry of one type.
type ReferenceTable struct {
	Format  uint8
	Version int32 // meaningful iff Format >= 6
	Flags   ReferenceFlags
	Entries map[uint16]*Entry
}

// NewReferenceTable creates an empty table with the given wire format and
// flags.
func NewReferenceTable(format uint8, flags ReferenceFlags) *ReferenceTable {
	return &ReferenceTable{Format: format, Flags: flags, Entries: make(map[uint16]*Entry)}
}

// Capacity returns maxEntryId+1, or 0 if the table is empty.
func (t *ReferenceTable) Capacity() int {
	max := -1
	for id := range t.Entries {
		if int(id) > max {
			max = int(id)
		}
	}
	return max + 1
}

// Size returns the number of entries present.
func (t *ReferenceTable) Size() int {
	return len(t.Entries)
}

// Get returns the entry for id, if present.
func (t *ReferenceTable) Get(id uint16) (*Entry, bool) {
	e, ok := t.Entries[id]
	return e, ok
}

// Put inserts or replaces the entry for id.
func (t *ReferenceTable) Put(id uint16, e *Entry) {
	if t.Entries == nil {
		t.Entries = make(map[uint16]*Entry)
	}
	t.Entries[id] = e
}

// Remove deletes the entry for id, if present.
func (t *ReferenceTable) Remove(id uint16) {
	delete(t.Entries, id)
}

// GetChild returns the child childID of entry parentID.
func (t *ReferenceTable) GetChild(parentID, childID uint16) (*Child, bool) {
	e, ok := t.Entries[parentID]
	if !ok {
		return nil, false
	}
	return e.child(childID)
}

// PutChild inserts or replaces child childID of entry parentID.
func (t *ReferenceTable) PutChild(parentID, childID uint16, c *Child) {
	e, ok := t.Entries[parentID]
	if !ok {
		e = &Entry{}
		t.Put(parentID, e)
	}
	e.putChild(childID, c)
}

// RemoveChild deletes child childID of entry parentID, if present.
func (t *ReferenceTable) RemoveChild(parentID, childID uint16) {
	if e, ok := t.Entries[parentID]; ok {
		e.removeChild(childID)
	}
}

func (t *ReferenceTable) sortedIDs() []uint16 {
	ids := make([]uint16, 0, len(t.Entries))
	for id := range t.Entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DecodeReferenceTable parses a ReferenceTable from its wire format: format
// byte, optional version (format>=6), flags, entry count, delta-encoded
// entry ids, then the per-entry columns gated by flags.
func DecodeReferenceTable(b []byte) (*ReferenceTable, error) {
	r := newCursor(b)

	format, err := r.u8()
	if err != nil {
		return nil, err
	}

	t := &ReferenceTable{Format: format}

	if format >= 6 {
		v, err := r.i32()
		if err != nil {
			return nil, err
		}
		t.Version = v
	}

	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	t.Flags = ReferenceFlags(flags)

	entryCount, err := r.u16()
	if err != nil {
		return nil, err
	}
	n := int(entryCount)

	ids := make([]uint16, n)
	prev := uint16(0)
	for i := 0; i < n; i++ {
		d, err := r.u16()
		if err != nil {
			return nil, err
		}
		prev += d
		ids[i] = prev
	}

	entries := make([]*Entry, n)
	for i := range entries {
		entries[i] = &Entry{}
	}

	if t.Flags.Has(FlagIdentifiers) {
		for i := 0; i < n; i++ {
			v, err := r.i32()
			if err != nil {
				return nil, err
			}
			entries[i].Identifier = v
		}
	}

	for i := 0; i < n; i++ {
		v, err := r.i32()
		if err != nil {
			return nil, err
		}
		entries[i].CRC = v
	}

	if t.Flags.Has(FlagWhirlpool) {
		for i := 0; i < n; i++ {
			wb, err := r.bytes(64)
			if err != nil {
				return nil, err
			}
			copy(entries[i].Whirlpool[:], wb)
		}
	}

	for i := 0; i < n; i++ {
		v, err := r.i32()
		if err != nil {
			return nil, err
		}
		entries[i].Version = v
	}

	childCounts := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := r.u16()
		if err != nil {
			return nil, err
		}
		childCounts[i] = int(v)
	}

	childIDs := make([][]uint16, n)
	for i := 0; i < n; i++ {
		cids := make([]uint16, childCounts[i])
		cprev := uint16(0)
		for j := range cids {
			d, err := r.u16()
			if err != nil {
				return nil, err
			}
			cprev += d
			cids[j] = cprev
		}
		childIDs[i] = cids
		entries[i].Children = make(map[uint16]*Child, len(cids))
	}

	if t.Flags.Has(FlagIdentifiers) {
		for i := 0; i < n; i++ {
			for _, cid := range childIDs[i] {
				ident, err := r.i32()
				if err != nil {
					return nil, err
				}
				entries[i].Children[cid] = &Child{Identifier: ident}
			}
		}
	} else {
		for i := 0; i < n; i++ {
			for _, cid := range childIDs[i] {
				entries[i].Children[cid] = &Child{}
			}
		}
	}

	t.Entries = make(map[uint16]*Entry, n)
	for i, id := range ids {
		t.Entries[id] = entries[i]
	}

	return t, nil
}

// Encode renders the table back to its wire format, preserving ascending
// entry-id order.
func (t *ReferenceTable) Encode() []byte {
	ids := t.sortedIDs()
	entries := make([]*Entry, len(ids))
	for i, id := range ids {
		entries[i] = t.Entries[id]
	}

	var buf bytes.Buffer
	buf.WriteByte(t.Format)
	if t.Format >= 6 {
		writeI32(&buf, t.Version)
	}
	buf.WriteByte(uint8(t.Flags))
	writeU16(&buf, uint16(len(ids)))

	prev := uint16(0)
	for _, id := range ids {
		writeU16(&buf, id-prev)
		prev = id
	}

	if t.Flags.Has(FlagIdentifiers) {
		for _, e := range entries {
			writeI32(&buf, e.Identifier)
		}
	}
	for _, e := range entries {
		writeI32(&buf, e.CRC)
	}
	if t.Flags.Has(FlagWhirlpool) {
		for _, e := range entries {
			buf.Write(e.Whirlpool[:])
		}
	}
	for _, e := range entries {
		writeI32(&buf, e.Version)
	}

	childIDsPerEntry := make([][]uint16, len(entries))
	for i, e := range entries {
		cids := make([]uint16, 0, len(e.Children))
		for cid := range e.Children {
			cids = append(cids, cid)
		}
		sort.Slice(cids, func(a, b int) bool { return cids[a] < cids[b] })
		childIDsPerEntry[i] = cids
		writeU16(&buf, uint16(len(cids)))
	}

	for i := range entries {
		cprev := uint16(0)
		for _, cid := range childIDsPerEntry[i] {
			writeU16(&buf, cid-cprev)
			cprev = cid
		}
	}

	if t.Flags.Has(FlagIdentifiers) {
		for i, e := range entries {
			for _, cid := range childIDsPerEntry[i] {
				writeI32(&buf, e.Children[cid].Identifier)
			}
		}
	}

	return buf.Bytes()
}

// cursor is a minimal sequential big-endian reader over a byte slice: read
// forward, fail on underrun.
type cursor struct {
	b   []byte
	pos int
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b}
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.b) {
		return nil, fmt.Errorf("%w: unexpected end of buffer", ErrCorrupt)
	}
	out := c.b[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) i32() (int32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}
