package rscache

import "fmt"

// IndexSize is the fixed size, in bytes, of one on-disk Index record.
const IndexSize = 6

// Index is the fixed 6-byte record stored at offset id*IndexSize in a
// type's index file: the size of the stored entry and the first sector of
// its chain, both 24-bit big-endian.
type Index struct {
	Size        uint32 // 24-bit on the wire
	FirstSector uint32 // 24-bit on the wire
}

// DecodeIndex parses a 6-byte on-disk record into an Index.
func DecodeIndex(b []byte) (*Index, error) {
	if len(b) != IndexSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedIndex, IndexSize, len(b))
	}
	return &Index{
		Size:        getUint24(b[0:3]),
		FirstSector: getUint24(b[3:6]),
	}, nil
}

// Encode renders the Index back into its 6-byte on-disk record.
func (idx *Index) Encode() []byte {
	b := make([]byte, IndexSize)
	putUint24(b[0:3], idx.Size)
	putUint24(b[3:6], idx.FirstSector)
	return b
}
