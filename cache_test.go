package rscache_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/KarpelesLab/rscache"
)

// newTestCache builds a Cache over in-memory stores with typeCount
// non-meta types, each starting with an empty reference table of the given
// flags so Cache.Write has something to load and mutate.
func newTestCache(t *testing.T, typeCount int, flags rscache.ReferenceFlags) *rscache.Cache {
	t.Helper()

	store, err := rscache.OpenFromFiles(&memStore{}, typeStores(typeCount), &memStore{})
	if err != nil {
		t.Fatalf("OpenFromFiles: %s", err)
	}

	for typ := 0; typ < typeCount; typ++ {
		table := rscache.NewReferenceTable(6, flags)
		meta := &rscache.Container{Compression: rscache.CompressionGzip, Data: table.Encode(), Version: 1}
		buf, err := meta.Encode()
		if err != nil {
			t.Fatalf("encode initial meta for type %d: %s", typ, err)
		}
		if err := store.Write(rscache.MetaType, uint16(typ), buf); err != nil {
			t.Fatalf("write initial meta for type %d: %s", typ, err)
		}
	}

	c, err := rscache.NewCacheForStore(store)
	if err != nil {
		t.Fatalf("NewCacheForStore: %s", err)
	}
	return c
}

func TestCacheWriteReadRoundTrip(t *testing.T) {
	c := newTestCache(t, 1, rscache.FlagWhirlpool)
	defer c.Close()

	payload := bytes.Repeat([]byte{0x00}, 100)
	container := &rscache.Container{Compression: rscache.CompressionGzip, Data: payload, Version: 1}

	if err := c.Write(0, 5, container); err != nil {
		t.Fatalf("Write: %s", err)
	}

	got, err := c.Read(0, 5)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
	if !bytes.Equal(got.Data, payload) {
		t.Fatal("payload mismatch after Cache.Write round-trip")
	}

	table, err := c.ReferenceTable(0)
	if err != nil {
		t.Fatalf("loading reference table: %s", err)
	}
	entry, ok := table.Get(5)
	if !ok {
		t.Fatal("expected reference-table entry for file 5")
	}
	if entry.Version != got.Version {
		t.Fatalf("entry version %d != container version %d", entry.Version, got.Version)
	}

	buf, err := got.Encode()
	if err != nil {
		t.Fatalf("re-encoding written container: %s", err)
	}
	body := buf[:len(buf)-2]
	if entry.CRC != rscache.CRC32(body) {
		t.Fatalf("entry CRC %d != CRC32(body) %d", entry.CRC, rscache.CRC32(body))
	}
	wantWhirlpool := rscache.Whirlpool512(body)
	if !bytes.Equal(entry.Whirlpool[:], wantWhirlpool[:]) {
		t.Fatal("entry whirlpool doesn't match Whirlpool(body)")
	}
}

func TestCacheWriteBumpsTableVersion(t *testing.T) {
	c := newTestCache(t, 1, 0)
	defer c.Close()

	tableBefore, err := c.ReferenceTable(0)
	if err != nil {
		t.Fatalf("loading initial reference table: %s", err)
	}
	versionBefore := tableBefore.Version

	if err := c.Write(0, 0, &rscache.Container{Compression: rscache.CompressionNone, Data: []byte("x")}); err != nil {
		t.Fatalf("Write: %s", err)
	}

	tableAfter, err := c.ReferenceTable(0)
	if err != nil {
		t.Fatalf("loading reference table after write: %s", err)
	}
	if tableAfter.Version != versionBefore+1 {
		t.Fatalf("expected table version %d, got %d", versionBefore+1, tableAfter.Version)
	}
}

func TestCacheReservedType(t *testing.T) {
	c := newTestCache(t, 1, 0)
	defer c.Close()

	if _, err := c.Read(rscache.MetaType, 0); !errors.Is(err, rscache.ErrReservedType) {
		t.Fatalf("expected ErrReservedType, got %v", err)
	}
	if err := c.Write(rscache.MetaType, 0, &rscache.Container{}); !errors.Is(err, rscache.ErrReservedType) {
		t.Fatalf("expected ErrReservedType, got %v", err)
	}
}

func TestCacheWriteThenReadMember(t *testing.T) {
	c := newTestCache(t, 1, 0)
	defer c.Close()

	if err := c.WriteMember(0, 2, 0, []byte("first")); err != nil {
		t.Fatalf("WriteMember(0): %s", err)
	}
	if err := c.WriteMember(0, 2, 2, []byte("third")); err != nil {
		t.Fatalf("WriteMember(2): %s", err)
	}

	got0, err := c.ReadMember(0, 2, 0)
	if err != nil {
		t.Fatalf("ReadMember(0): %s", err)
	}
	if string(got0) != "first" {
		t.Fatalf("member 0: got %q", got0)
	}

	got1, err := c.ReadMember(0, 2, 1)
	if err != nil {
		t.Fatalf("ReadMember(1): %s", err)
	}
	if len(got1) != 0 {
		t.Fatalf("expected placeholder member 1 to be empty, got %q", got1)
	}

	got2, err := c.ReadMember(0, 2, 2)
	if err != nil {
		t.Fatalf("ReadMember(2): %s", err)
	}
	if string(got2) != "third" {
		t.Fatalf("member 2: got %q", got2)
	}
}

func TestCacheReadOnlyOption(t *testing.T) {
	store, err := rscache.OpenFromFiles(&memStore{}, typeStores(1), &memStore{})
	if err != nil {
		t.Fatalf("OpenFromFiles: %s", err)
	}
	table := rscache.NewReferenceTable(6, 0)
	meta := &rscache.Container{Compression: rscache.CompressionGzip, Data: table.Encode(), Version: 1}
	buf, err := meta.Encode()
	if err != nil {
		t.Fatalf("encode meta: %s", err)
	}
	if err := store.Write(rscache.MetaType, 0, buf); err != nil {
		t.Fatalf("write meta: %s", err)
	}

	c, err := rscache.NewCacheForStore(store, rscache.ReadOnly())
	if err != nil {
		t.Fatalf("NewCacheForStore: %s", err)
	}
	defer c.Close()

	if err := c.Write(0, 0, &rscache.Container{Data: []byte("x")}); !errors.Is(err, rscache.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := c.WriteMember(0, 0, 0, []byte("x")); !errors.Is(err, rscache.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := c.Read(0, 0); err != nil && !errors.Is(err, rscache.ErrNotFound) {
		t.Fatalf("unexpected error from Read in read-only mode: %s", err)
	}
}

func TestCacheCreateChecksumTable(t *testing.T) {
	c := newTestCache(t, 2, rscache.FlagWhirlpool)
	defer c.Close()

	if err := c.Write(0, 0, &rscache.Container{Compression: rscache.CompressionGzip, Data: []byte("hello")}); err != nil {
		t.Fatalf("Write: %s", err)
	}

	checksums, err := c.CreateChecksumTable()
	if err != nil {
		t.Fatalf("CreateChecksumTable: %s", err)
	}
	if len(checksums.Entries) != 2 {
		t.Fatalf("expected 2 checksum entries, got %d", len(checksums.Entries))
	}
	if checksums.Entries[0].Version == 0 {
		t.Fatal("expected type 0's checksum entry to carry the table's bumped version")
	}
}
