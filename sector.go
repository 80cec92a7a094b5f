package rscache

import "fmt"

// Sizes of the fixed-width on-disk sector frame: an 8-byte header followed
// by a 512-byte payload.
const (
	SectorHeaderSize = 8
	SectorDataSize   = 512
	SectorSize       = SectorHeaderSize + SectorDataSize
)

// Sector is one fixed 520-byte frame in a FileStore data file. Header fields
// are big-endian; Data is always exactly SectorDataSize bytes (tail sectors
// are zero-padded on disk, not truncated).
type Sector struct {
	ID         uint16
	Chunk      uint16
	NextSector uint32 // 24-bit on the wire
	Type       uint8
	Data       [SectorDataSize]byte
}

// DecodeSector parses a 520-byte on-disk frame into a Sector.
func DecodeSector(b []byte) (*Sector, error) {
	if len(b) != SectorSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSector, SectorSize, len(b))
	}

	s := &Sector{
		ID:         uint16(b[0])<<8 | uint16(b[1]),
		Chunk:      uint16(b[2])<<8 | uint16(b[3]),
		NextSector: getUint24(b[4:7]),
		Type:       b[7],
	}
	copy(s.Data[:], b[SectorHeaderSize:])
	return s, nil
}

// Encode renders the Sector back into its 520-byte on-disk frame.
func (s *Sector) Encode() []byte {
	b := make([]byte, SectorSize)
	b[0] = byte(s.ID >> 8)
	b[1] = byte(s.ID)
	b[2] = byte(s.Chunk >> 8)
	b[3] = byte(s.Chunk)
	putUint24(b[4:7], s.NextSector)
	b[7] = s.Type
	copy(b[SectorHeaderSize:], s.Data[:])
	return b
}

// getUint24 reads a 3-byte big-endian unsigned integer.
func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// putUint24 writes v as a 3-byte big-endian unsigned integer. v must fit in
// 24 bits; the data file format has no room for larger sector indices.
func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
