package rscache

import (
	"errors"
	"fmt"
	"log"
)

// Logger receives the diagnostics Cache.Write prints after writing a
// reference table and a payload. Overridable by callers that want to
// silence or redirect it; defaults to the standard logger's output with an
// "rscache: " prefix.
var Logger = log.New(log.Writer(), "rscache: ", log.LstdFlags)

// Cache is the façade coordinating FileStore, Container, Archive and
// ReferenceTable into the read-modify-write cycle the legacy client expects:
// it is the only component that maintains the cross-component invariant
// that a type's reference table always reflects the bytes last written
// under that type.
type Cache struct {
	store    *FileStore
	logger   *log.Logger
	readOnly bool
}

// OpenCache opens the cache files in dir and wraps them in a Cache façade,
// applying any CacheOption in order (see options.go).
func OpenCache(dir string, opts ...CacheOption) (*Cache, error) {
	store, err := Open(dir)
	if err != nil {
		return nil, err
	}
	return NewCacheForStore(store, opts...)
}

// NewCacheForStore wraps an already-open FileStore in a Cache façade. This
// is what lets Cache be exercised against the in-memory RandomAccessFile
// fakes FileStore itself is testable with, rather than requiring real cache
// files on disk.
func NewCacheForStore(store *FileStore, opts ...CacheOption) (*Cache, error) {
	c := &Cache{store: store}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// log returns the logger this Cache reports diagnostics to: its own, if
// WithLogger was used to open it, otherwise the shared package default.
func (c *Cache) log() *log.Logger {
	if c.logger != nil {
		return c.logger
	}
	return Logger
}

// Close releases the underlying FileStore's file handles.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Store returns the Cache's underlying FileStore, for the rare caller that
// needs low-level (type 255) access.
func (c *Cache) Store() *FileStore {
	return c.store
}

func checkType(typ int) error {
	if typ == MetaType {
		return ErrReservedType
	}
	return nil
}

// referenceTable loads and decodes the master reference table for typ from
// its meta entry (255, typ), along with the Container it was wrapped in (so
// Write can preserve its compression on the way back out).
func (c *Cache) referenceTable(typ int) (*ReferenceTable, *Container, error) {
	raw, err := c.store.Read(MetaType, uint16(typ))
	if err != nil {
		return nil, nil, fmt.Errorf("reading reference table for type %d: %w", typ, err)
	}
	metaContainer, err := DecodeContainer(raw)
	if err != nil {
		return nil, nil, err
	}
	table, err := DecodeReferenceTable(metaContainer.Data)
	if err != nil {
		return nil, nil, err
	}
	return table, metaContainer, nil
}

// ReferenceTable returns the decoded master reference table for typ, as
// loaded from its meta entry (255, typ). Exposed for tooling and tests that
// need to inspect a type's bookkeeping without reaching for the raw
// FileStore.
func (c *Cache) ReferenceTable(typ int) (*ReferenceTable, error) {
	if err := checkType(typ); err != nil {
		return nil, err
	}
	table, _, err := c.referenceTable(typ)
	return table, err
}

// Read returns the decoded Container stored at (typ, file).
func (c *Cache) Read(typ int, file uint16) (*Container, error) {
	if err := checkType(typ); err != nil {
		return nil, err
	}
	raw, err := c.store.Read(typ, file)
	if err != nil {
		return nil, err
	}
	return DecodeContainer(raw)
}

// Write stores container under (typ, file), bumping its version, updating
// the type's reference-table entry (crc, version, and whirlpool digest if
// the table's flags call for one), and persisting both the table and the
// payload. The meta table is written before the payload; a crash between
// the two leaves the table pointing at stale or absent payload bytes, which
// the legacy design accepts.
func (c *Cache) Write(typ int, file uint16, container *Container) error {
	if err := checkType(typ); err != nil {
		return err
	}
	if c.readOnly {
		return ErrReadOnly
	}

	container.Version++

	table, metaContainer, err := c.referenceTable(typ)
	if err != nil {
		return err
	}

	buf, err := container.Encode()
	if err != nil {
		return err
	}
	if len(buf) < 2 {
		return fmt.Errorf("%w: encoded container too short to carry a version", ErrCorrupt)
	}
	body := buf[:len(buf)-2]

	crc := CRC32(body)
	entry, ok := table.Get(file)
	if !ok {
		entry = &Entry{}
		table.Put(file, entry)
	}
	entry.CRC = crc
	entry.Version = container.Version
	if table.Flags.Has(FlagWhirlpool) {
		entry.Whirlpool = Whirlpool512(body)
	}

	table.Version++

	newMeta := &Container{Compression: metaContainer.Compression, Data: table.Encode(), Version: metaContainer.Version}
	metaBuf, err := newMeta.Encode()
	if err != nil {
		return err
	}

	if err := c.store.Write(MetaType, uint16(typ), metaBuf); err != nil {
		return err
	}
	c.log().Printf("wrote reference table for type %d (version %d)", typ, table.Version)

	if err := c.store.Write(typ, file, buf); err != nil {
		return err
	}
	c.log().Printf("wrote (%d, %d): %d bytes, version %d", typ, file, len(buf), container.Version)

	return nil
}

// ReadMember returns the bytes of one archive member stored at (typ, file).
// The file's Container is decoded, its reference-table entry gives the
// archive's entry count, and the member is extracted from the decoded
// Archive.
func (c *Cache) ReadMember(typ int, file uint16, member uint16) ([]byte, error) {
	if err := checkType(typ); err != nil {
		return nil, err
	}

	container, err := c.Read(typ, file)
	if err != nil {
		return nil, err
	}

	table, _, err := c.referenceTable(typ)
	if err != nil {
		return nil, err
	}
	entry, ok := table.Get(file)
	if !ok {
		return nil, ErrNotFound
	}

	archive, err := DecodeArchive(container.Data, entry.Capacity())
	if err != nil {
		return nil, err
	}
	return archive.Get(int(member))
}

// WriteMember stores data as one archive member of (typ, file), expanding
// the archive and the reference-table entry's child layout as needed. If
// (typ, file) doesn't exist yet, a fresh GZIP-compressed, version-1
// container is created for it.
func (c *Cache) WriteMember(typ int, file uint16, member uint16, data []byte) error {
	if err := checkType(typ); err != nil {
		return err
	}
	if c.readOnly {
		return ErrReadOnly
	}

	table, metaContainer, err := c.referenceTable(typ)
	if err != nil {
		return err
	}

	entry, ok := table.Get(file)
	if !ok {
		entry = &Entry{Children: make(map[uint16]*Child)}
		table.Put(file, entry)
	}

	existing, err := c.store.Read(typ, file)
	var container *Container
	created := false
	switch {
	case err == nil:
		container, err = DecodeContainer(existing)
		if err != nil {
			return err
		}
	case errors.Is(err, ErrNotFound):
		container = &Container{Compression: CompressionGzip, Version: 1}
		created = true
	default:
		return err
	}

	capacity := entry.Capacity()
	var archive *Archive
	if created || len(container.Data) == 0 {
		archive = NewArchive(capacity)
	} else {
		archive, err = DecodeArchive(container.Data, capacity)
		if err != nil {
			return err
		}
	}

	if int(member) >= archive.Size() {
		archive.Grow(int(member) + 1)
		for cid := uint16(0); int(cid) < archive.Size(); cid++ {
			if _, ok := entry.child(cid); !ok {
				entry.putChild(cid, &Child{})
			}
		}
	}

	if err := archive.Put(int(member), data); err != nil {
		return err
	}

	container.Data = archive.Encode()

	return c.commitMemberWrite(typ, file, table, metaContainer, entry, container)
}

// commitMemberWrite mirrors Write's reference-table bookkeeping (crc,
// optional whirlpool, table version bump) for an archive member write,
// without bumping the outer container's own version the way a plain Write
// does, since a member write doesn't represent a new logical version of the
// archive as a whole.
func (c *Cache) commitMemberWrite(typ int, file uint16, table *ReferenceTable, metaContainer *Container, entry *Entry, container *Container) error {
	buf, err := container.Encode()
	if err != nil {
		return err
	}

	var body []byte
	if container.Versioned() && len(buf) >= 2 {
		body = buf[:len(buf)-2]
	} else {
		body = buf
	}

	entry.CRC = CRC32(body)
	entry.Version = container.Version
	if table.Flags.Has(FlagWhirlpool) {
		entry.Whirlpool = Whirlpool512(body)
	}

	table.Version++

	newMeta := &Container{Compression: metaContainer.Compression, Data: table.Encode(), Version: metaContainer.Version}
	metaBuf, err := newMeta.Encode()
	if err != nil {
		return err
	}

	if err := c.store.Write(MetaType, uint16(typ), metaBuf); err != nil {
		return err
	}
	return c.store.Write(typ, file, buf)
}

// CreateChecksumTable builds the digest-of-digests table across every type:
// for each type it reads the raw meta (255, type) bytes, computes their
// CRC and whirlpool, and pulls the reference table's own version out of the
// decoded container. Types with no meta entry yet get a zero record.
func (c *Cache) CreateChecksumTable() (*ChecksumTable, error) {
	n := c.store.TypeCount()

	table := &ChecksumTable{Entries: make([]ChecksumEntry, n), Whirlpool: true}

	for t := 0; t < n; t++ {
		raw, err := c.store.Read(MetaType, uint16(t))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}

		metaContainer, err := DecodeContainer(raw)
		if err != nil {
			return nil, err
		}
		refTable, err := DecodeReferenceTable(metaContainer.Data)
		if err != nil {
			return nil, err
		}

		table.Entries[t] = ChecksumEntry{
			CRC:       CRC32(raw),
			Version:   refTable.Version,
			Whirlpool: Whirlpool512(raw),
		}
	}

	return table, nil
}
