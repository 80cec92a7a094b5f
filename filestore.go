package rscache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxTypeIndexFiles is the number of per-type index files the legacy client
// will ever open (idx0..idx253); idx255 is always the reserved meta index.
const MaxTypeIndexFiles = 254

// MetaType is the type value that addresses the meta index file (idx255).
const MetaType = 255

// RandomAccessFile is the capability FileStore needs from each backing file:
// read at an offset, write at an offset (growing the file if needed), and
// report the current length. Abstracting over this, rather than hard-coding
// *os.File, lets FileStore be exercised against in-memory fakes in tests.
type RandomAccessFile interface {
	io.ReaderAt
	io.WriterAt
	Len() (int64, error)
	Close() error
}

// osFile adapts *os.File to RandomAccessFile.
type osFile struct {
	*os.File
}

func (f osFile) Len() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func openOSFile(path string) (RandomAccessFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

// FileStore is a two-level translation layer mapping (type, id) to a byte
// sequence by walking sector chains in a data file, with one index file per
// type plus a reserved meta index (type 255).
type FileStore struct {
	dir     string
	data    RandomAccessFile
	indexes []RandomAccessFile // type 0..len(indexes)-1
	meta    RandomAccessFile   // type 255
}

// Open opens the cache files in dir: main_file_cache.dat2 (required), then
// main_file_cache.idx0..idx253 in order (stopping at the first missing
// file; zero index files is valid, yielding a store with TypeCount() == 0),
// then main_file_cache.idx255 (required).
func Open(dir string) (*FileStore, error) {
	data, err := openOSFile(filepath.Join(dir, "main_file_cache.dat2"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, err)
	}

	fs := &FileStore{dir: dir, data: data}

	for i := 0; i < MaxTypeIndexFiles; i++ {
		idx, err := openOSFile(filepath.Join(dir, fmt.Sprintf("main_file_cache.idx%d", i)))
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			fs.Close()
			return nil, err
		}
		fs.indexes = append(fs.indexes, idx)
	}

	meta, err := openOSFile(filepath.Join(dir, "main_file_cache.idx255"))
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, err)
	}
	fs.meta = meta

	return fs, nil
}

// OpenFromFiles builds a FileStore directly from already-open random-access
// handles, bypassing path resolution. This is what lets FileStore be
// exercised against in-memory fakes in tests rather than real cache files.
// indexes may be empty, yielding a store with TypeCount() == 0.
func OpenFromFiles(data RandomAccessFile, indexes []RandomAccessFile, meta RandomAccessFile) (*FileStore, error) {
	return &FileStore{data: data, indexes: indexes, meta: meta}, nil
}

// Close releases all open file handles. Errors from individual handles are
// collected and the first one is returned; every handle is still given a
// chance to close.
func (fs *FileStore) Close() error {
	var first error
	if fs.data != nil {
		if err := fs.data.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, idx := range fs.indexes {
		if idx == nil {
			continue
		}
		if err := idx.Close(); err != nil && first == nil {
			first = err
		}
	}
	if fs.meta != nil {
		if err := fs.meta.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TypeCount returns the number of non-meta index files opened.
func (fs *FileStore) TypeCount() int {
	return len(fs.indexes)
}

// indexFor resolves the index file backing a type, or ErrNoSuchType.
func (fs *FileStore) indexFor(typ int) (RandomAccessFile, error) {
	if typ == MetaType {
		return fs.meta, nil
	}
	if typ < 0 || typ >= len(fs.indexes) {
		return nil, ErrNoSuchType
	}
	return fs.indexes[typ], nil
}

// FileCount returns the number of entries addressable in a type's index
// file (indexSize / IndexSize). typ == 255 refers to the meta index.
func (fs *FileStore) FileCount(typ int) (uint32, error) {
	idx, err := fs.indexFor(typ)
	if err != nil {
		return 0, err
	}
	size, err := idx.Len()
	if err != nil {
		return 0, err
	}
	return uint32(size / IndexSize), nil
}

// Read reconstructs the stored bytes for (typ, id) by following its sector
// chain in the data file.
func (fs *FileStore) Read(typ int, id uint16) ([]byte, error) {
	idxFile, err := fs.indexFor(typ)
	if err != nil {
		return nil, err
	}

	idxSize, err := idxFile.Len()
	if err != nil {
		return nil, err
	}
	idxOff := int64(id) * IndexSize
	if idxOff >= idxSize {
		return nil, ErrNotFound
	}

	idxBuf := make([]byte, IndexSize)
	if _, err := idxFile.ReadAt(idxBuf, idxOff); err != nil {
		return nil, err
	}
	index, err := DecodeIndex(idxBuf)
	if err != nil {
		return nil, err
	}
	if index.Size == 0 && index.FirstSector == 0 {
		return nil, ErrNotFound
	}

	out := make([]byte, 0, index.Size)
	remaining := index.Size
	ptr := int64(index.FirstSector) * SectorSize
	chunk := uint16(0)

	for remaining > 0 {
		secBuf := make([]byte, SectorSize)
		if _, err := fs.data.ReadAt(secBuf, ptr); err != nil {
			return nil, err
		}
		sec, err := DecodeSector(secBuf)
		if err != nil {
			return nil, err
		}
		if sec.ID != id || sec.Type != uint8(typ) || sec.Chunk != chunk {
			return nil, fmt.Errorf("%w: sector (id=%d,type=%d,chunk=%d) expected (id=%d,type=%d,chunk=%d)",
				ErrCorrupt, sec.ID, sec.Type, sec.Chunk, id, typ, chunk)
		}

		n := remaining
		if n > SectorDataSize {
			n = SectorDataSize
		}
		out = append(out, sec.Data[:n]...)
		remaining -= n

		if remaining == 0 {
			break
		}
		ptr = int64(sec.NextSector) * SectorSize
		chunk++
	}

	return out, nil
}

// dataSectorCount returns how many whole sectors currently exist in the data
// file, used to validate that a sector index actually lands inside it. The
// legacy overwrite-path check compared a sector index against a byte count
// scaled by sector size, a latent bug; this compares sector indices against
// sector counts uniformly instead.
func (fs *FileStore) dataSectorCount() (uint32, error) {
	size, err := fs.data.Len()
	if err != nil {
		return 0, err
	}
	return uint32(size / SectorSize), nil
}

// Write stores data under (typ, id), reusing the existing sector chain when
// possible (overwrite) and falling back to a freshly appended chain
// (append) whenever the existing chain doesn't validate.
func (fs *FileStore) Write(typ int, id uint16, data []byte) error {
	idxFile, err := fs.indexFor(typ)
	if err != nil {
		return err
	}

	head, ok, err := fs.existingChainHead(idxFile, id)
	if err != nil {
		return err
	}

	if ok {
		if err := fs.writeChain(idxFile, typ, id, data, head, true); err == nil {
			return nil
		}
		// Overwrite path signalled inconsistency; fall back to append.
	}

	return fs.writeChain(idxFile, typ, id, data, 0, false)
}

// existingChainHead returns the first sector of (typ,id)'s current chain, if
// any, and whether it looks usable at all (decodes, non-zero).
func (fs *FileStore) existingChainHead(idxFile RandomAccessFile, id uint16) (uint32, bool, error) {
	idxSize, err := idxFile.Len()
	if err != nil {
		return 0, false, err
	}
	off := int64(id) * IndexSize
	if off+IndexSize > idxSize {
		return 0, false, nil
	}
	buf := make([]byte, IndexSize)
	if _, err := idxFile.ReadAt(buf, off); err != nil {
		return 0, false, err
	}
	index, err := DecodeIndex(buf)
	if err != nil {
		return 0, false, nil
	}
	if index.FirstSector == 0 {
		return 0, false, nil
	}
	secCount, err := fs.dataSectorCount()
	if err != nil {
		return 0, false, err
	}
	if index.FirstSector >= secCount {
		return 0, false, nil
	}
	return index.FirstSector, true, nil
}

// writeChain performs one write attempt. In overwrite mode it reuses sectors
// from the existing chain (validating id/type/chunk/nextSector at each step)
// and switches to appending new sectors once the old chain runs out. In
// append mode it always allocates new sectors starting at the end of the
// data file. Any validation failure in overwrite mode returns an error so
// the caller can retry the whole write in append mode.
func (fs *FileStore) writeChain(idxFile RandomAccessFile, typ int, id uint16, data []byte, head uint32, overwrite bool) error {
	secCount, err := fs.dataSectorCount()
	if err != nil {
		return err
	}

	var curSector uint32
	if overwrite {
		curSector = head
	} else {
		curSector = secCount
		if curSector == 0 {
			curSector = 1 // sector 0 is never a valid chain head
		}
		if curSector >= secCount {
			secCount = curSector + 1 // reserve it so the next allocation doesn't collide
		}
	}

	firstSector := curSector
	remaining := len(data)
	offset := 0
	chunk := uint16(0)
	inOldChain := overwrite

	for remaining > 0 || (remaining == 0 && offset == 0) {
		n := remaining
		if n > SectorDataSize {
			n = SectorDataSize
		}

		var nextSector uint32
		if inOldChain {
			oldSec, err := fs.readSectorForOverwrite(curSector, typ, id, chunk)
			if err != nil {
				return err
			}
			nextSector = oldSec.NextSector
			if nextSector != 0 && nextSector >= secCount {
				return fmt.Errorf("%w: next sector %d out of range", ErrCorrupt, nextSector)
			}
			if remaining-n > 0 && nextSector == 0 {
				// Old chain ran out before the new data did; switch to append.
				inOldChain = false
			}
		}

		if !inOldChain {
			if remaining-n > 0 {
				nextSector = secCount
				for nextSector == curSector || nextSector == 0 {
					nextSector++
				}
			} else {
				nextSector = 0
			}
		}
		if remaining-n == 0 {
			nextSector = 0
		}

		sec := &Sector{ID: id, Chunk: chunk, NextSector: nextSector, Type: uint8(typ)}
		copy(sec.Data[:], data[offset:offset+n])

		secOff := int64(curSector) * SectorSize
		if _, err := fs.data.WriteAt(sec.Encode(), secOff); err != nil {
			return err
		}
		if curSector+1 > secCount {
			secCount = curSector + 1
		}

		offset += n
		remaining -= n
		chunk++
		if remaining == 0 {
			break
		}
		curSector = nextSector
	}

	idx := &Index{Size: uint32(len(data)), FirstSector: firstSector}
	_, err = idxFile.WriteAt(idx.Encode(), int64(id)*IndexSize)
	return err
}

// readSectorForOverwrite reads and validates a sector that's expected to
// already belong to (typ,id)'s chain at position chunk. Any mismatch means
// the overwrite path can't proceed and the whole write must retry as append.
func (fs *FileStore) readSectorForOverwrite(sectorIdx uint32, typ int, id uint16, chunk uint16) (*Sector, error) {
	buf := make([]byte, SectorSize)
	if _, err := fs.data.ReadAt(buf, int64(sectorIdx)*SectorSize); err != nil {
		return nil, err
	}
	sec, err := DecodeSector(buf)
	if err != nil {
		return nil, err
	}
	if sec.ID != id || sec.Type != uint8(typ) || sec.Chunk != chunk {
		return nil, fmt.Errorf("%w: existing sector doesn't match chain position", ErrCorrupt)
	}
	return sec, nil
}
