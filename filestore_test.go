package rscache_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KarpelesLab/rscache"
)

// memStore is an in-memory RandomAccessFile, standing in for a real cache
// file so FileStore can be exercised without touching disk.
type memStore struct {
	buf []byte
}

func (m *memStore) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, errors.New("memStore: read past end")
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, errors.New("memStore: short read")
	}
	return n, nil
}

func (m *memStore) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memStore) Len() (int64, error) { return int64(len(m.buf)), nil }
func (m *memStore) Close() error        { return nil }

func TestSectorRoundTrip(t *testing.T) {
	s := &rscache.Sector{ID: 7, Chunk: 1, NextSector: 12345, Type: 3}
	copy(s.Data[:], bytes.Repeat([]byte{0xAB}, rscache.SectorDataSize))

	enc := s.Encode()
	if len(enc) != rscache.SectorSize {
		t.Fatalf("expected %d bytes, got %d", rscache.SectorSize, len(enc))
	}

	dec, err := rscache.DecodeSector(enc)
	if err != nil {
		t.Fatalf("DecodeSector: %s", err)
	}
	if dec.ID != s.ID || dec.Chunk != s.Chunk || dec.NextSector != s.NextSector || dec.Type != s.Type {
		t.Fatalf("round-trip mismatch: got %+v", dec)
	}
	if !bytes.Equal(dec.Data[:], s.Data[:]) {
		t.Fatal("payload mismatch after round-trip")
	}

	if _, err := rscache.DecodeSector(make([]byte, 10)); !errors.Is(err, rscache.ErrMalformedSector) {
		t.Fatalf("expected ErrMalformedSector, got %v", err)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	idx := &rscache.Index{Size: 3, FirstSector: 1}
	enc := idx.Encode()
	if len(enc) != rscache.IndexSize {
		t.Fatalf("expected %d bytes, got %d", rscache.IndexSize, len(enc))
	}
	if !bytes.Equal(enc, []byte{0, 0, 3, 0, 0, 1}) {
		t.Fatalf("unexpected encoding: %x", enc)
	}

	dec, err := rscache.DecodeIndex(enc)
	if err != nil {
		t.Fatalf("DecodeIndex: %s", err)
	}
	if dec.Size != idx.Size || dec.FirstSector != idx.FirstSector {
		t.Fatalf("round-trip mismatch: got %+v", dec)
	}

	if _, err := rscache.DecodeIndex(make([]byte, 3)); !errors.Is(err, rscache.ErrMalformedIndex) {
		t.Fatalf("expected ErrMalformedIndex, got %v", err)
	}
}

func newTestStore(t *testing.T, typeCount int) *rscache.FileStore {
	t.Helper()
	fs, err := rscache.OpenFromFiles(&memStore{}, typeStores(typeCount), &memStore{})
	if err != nil {
		t.Fatalf("OpenFromFiles: %s", err)
	}
	return fs
}

func typeStores(n int) []rscache.RandomAccessFile {
	out := make([]rscache.RandomAccessFile, n)
	for i := range out {
		out[i] = &memStore{}
	}
	return out
}

func TestFileStoreWriteReadSmallEntry(t *testing.T) {
	store := newTestStore(t, 1)
	defer store.Close()

	data := []byte{0xAA, 0xBB, 0xCC}
	if err := store.Write(0, 0, data); err != nil {
		t.Fatalf("Write: %s", err)
	}

	got, err := store.Read(0, 0)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %x, want %x", got, data)
	}
}

func TestFileStoreTwoSectorEntry(t *testing.T) {
	store := newTestStore(t, 1)
	defer store.Close()

	data := bytes.Repeat([]byte{0x42}, 600)
	if err := store.Write(0, 7, data); err != nil {
		t.Fatalf("Write: %s", err)
	}

	got, err := store.Read(0, 7)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("600-byte round-trip mismatch")
	}
}

func TestFileStoreOverwriteThenGrow(t *testing.T) {
	store := newTestStore(t, 1)
	defer store.Close()

	if err := store.Write(0, 3, []byte("hello")); err != nil {
		t.Fatalf("first write: %s", err)
	}
	want := bytes.Repeat([]byte("a much longer replacement payload that spans sectors now "), 10)
	if err := store.Write(0, 3, want); err != nil {
		t.Fatalf("second write: %s", err)
	}

	got, err := store.Read(0, 3)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	store := newTestStore(t, 1)
	defer store.Close()

	if _, err := store.Read(0, 99); !errors.Is(err, rscache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Read(5, 0); !errors.Is(err, rscache.ErrNoSuchType) {
		t.Fatalf("expected ErrNoSuchType, got %v", err)
	}
}

func TestFileStoreEmptyEntry(t *testing.T) {
	store := newTestStore(t, 1)
	defer store.Close()

	if err := store.Write(0, 0, []byte{}); err != nil {
		t.Fatalf("Write: %s", err)
	}
	got, err := store.Read(0, 0)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty read, got %d bytes", len(got))
	}
}

func TestFileStoreExactSectorBoundary(t *testing.T) {
	store := newTestStore(t, 1)
	defer store.Close()

	data := bytes.Repeat([]byte{0x07}, rscache.SectorDataSize)
	if err := store.Write(0, 1, data); err != nil {
		t.Fatalf("Write: %s", err)
	}
	got, err := store.Read(0, 1)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("exact-one-sector round-trip mismatch")
	}

	data2 := bytes.Repeat([]byte{0x08}, rscache.SectorDataSize+1)
	if err := store.Write(0, 2, data2); err != nil {
		t.Fatalf("Write: %s", err)
	}
	got2, err := store.Read(0, 2)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if !bytes.Equal(got2, data2) {
		t.Fatal("one-byte-into-second-sector round-trip mismatch")
	}
}

func TestFileStoreOverwriteFallsBackToAppendOnCorruption(t *testing.T) {
	data := &memStore{}
	store, err := rscache.OpenFromFiles(data, typeStores(1), &memStore{})
	if err != nil {
		t.Fatalf("OpenFromFiles: %s", err)
	}
	defer store.Close()

	if err := store.Write(0, 4, []byte("original")); err != nil {
		t.Fatalf("first write: %s", err)
	}

	// Corrupt the chain head's id field directly in the backing data file
	// so the overwrite path's validation fails and Write must retry in
	// append mode rather than erroring out. Sector index 0 is never a valid
	// chain head, so the first write's chain starts at sector 1 (offset
	// SectorSize into the data file).
	data.buf[rscache.SectorSize] = 0xFF // chain head's id high byte, no longer matches id=4

	if err := store.Write(0, 4, []byte("replacement after corruption")); err != nil {
		t.Fatalf("write after corruption: %s", err)
	}
	got, err := store.Read(0, 4)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if string(got) != "replacement after corruption" {
		t.Fatalf("got %q, want appended replacement", got)
	}
}

func TestOpenWithNoTypeIndexFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "main_file_cache.dat2"), nil, 0644); err != nil {
		t.Fatalf("writing dat2: %s", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main_file_cache.idx255"), nil, 0644); err != nil {
		t.Fatalf("writing idx255: %s", err)
	}

	store, err := rscache.Open(dir)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer store.Close()

	if store.TypeCount() != 0 {
		t.Fatalf("expected TypeCount() == 0, got %d", store.TypeCount())
	}
	if n, err := store.FileCount(255); err != nil || n != 0 {
		t.Fatalf("expected FileCount(255) == 0, got %d, err %v", n, err)
	}
	if _, err := store.Read(255, 0); !errors.Is(err, rscache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
