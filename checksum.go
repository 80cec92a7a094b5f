package rscache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
)

// ChecksumEntry is one type's digest-of-digests record: the CRC, version
// and (optionally) whirlpool digest of its reference table.
type ChecksumEntry struct {
	CRC       int32
	Version   int32
	Whirlpool [64]byte
}

// ChecksumTable ("update keys") is the aggregate digest across all
// reference tables in a Cache, indexed by type, optionally trailed by an
// RSA-signed whirlpool-of-whirlpools block.
type ChecksumTable struct {
	Entries   []ChecksumEntry
	Whirlpool bool // whether this table carries per-entry whirlpool digests
}

// Entry returns the digest record for type i.
func (t *ChecksumTable) Entry(i int) ChecksumEntry {
	return t.Entries[i]
}

// SetWhirlpool sets the whirlpool digest of entry i. w must be exactly 64
// bytes.
func (t *ChecksumTable) SetWhirlpool(i int, w []byte) error {
	if len(w) != 64 {
		return ErrInvalidDigestSize
	}
	copy(t.Entries[i].Whirlpool[:], w)
	return nil
}

// checksumTrailerSize is the size of the plain trailer block appended after
// a whirlpool-mode checksum table: a zero byte, a 64-byte whirlpool digest,
// a zero byte. An RSA-encrypted trailer is as long as the modpow result
// instead.
const checksumTrailerSize = 66

// checksumWhirlpoolHeaderSize is the size of the reserved preamble before a
// whirlpool-mode table's entries: one reserved byte plus a 4-byte entry
// count. The trailer's digest covers everything from just after this
// preamble up to the trailer itself (body-from-offset-5).
const checksumWhirlpoolHeaderSize = 5

// DecodeChecksumTableLegacy parses the pre-whirlpool wire format: one byte
// giving the entry count, then that many {crc:i32, version:i32} pairs.
func DecodeChecksumTableLegacy(b []byte) (*ChecksumTable, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty checksum table", ErrCorrupt)
	}
	n := int(b[0])
	pos := 1

	t := &ChecksumTable{Entries: make([]ChecksumEntry, n)}
	for i := 0; i < n; i++ {
		if pos+8 > len(b) {
			return nil, fmt.Errorf("%w: checksum table truncated", ErrCorrupt)
		}
		t.Entries[i].CRC = int32(binary.BigEndian.Uint32(b[pos : pos+4]))
		t.Entries[i].Version = int32(binary.BigEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
	}
	return t, nil
}

// EncodeLegacy renders the table in the pre-whirlpool wire format.
func (t *ChecksumTable) EncodeLegacy() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(t.Entries)))
	for _, e := range t.Entries {
		writeI32(&buf, e.CRC)
		writeI32(&buf, e.Version)
	}
	return buf.Bytes()
}

// DecodeChecksumTableWhirlpool parses the whirlpool-mode wire format: a
// reserved byte, a u32 entry count, that many {crc, version, whirlpool}
// records, then a trailer that is either the plain 66-byte block or that
// block RSA-modpow encrypted with (modulus, publicExponent). If modulus/publicExponent are
// nil the trailer is assumed to be plain. The trailer's embedded digest
// must match Whirlpool over the entry records, or ErrDigestMismatch.
func DecodeChecksumTableWhirlpool(b []byte, modulus, publicExponent *big.Int) (*ChecksumTable, error) {
	if len(b) < checksumWhirlpoolHeaderSize+checksumTrailerSize {
		return nil, fmt.Errorf("%w: checksum table truncated", ErrCorrupt)
	}

	n := int(binary.BigEndian.Uint32(b[1:5]))
	pos := checksumWhirlpoolHeaderSize

	t := &ChecksumTable{Entries: make([]ChecksumEntry, n), Whirlpool: true}
	for i := 0; i < n; i++ {
		if pos+72 > len(b) {
			return nil, fmt.Errorf("%w: checksum table truncated", ErrCorrupt)
		}
		t.Entries[i].CRC = int32(binary.BigEndian.Uint32(b[pos : pos+4]))
		t.Entries[i].Version = int32(binary.BigEndian.Uint32(b[pos+4 : pos+8]))
		copy(t.Entries[i].Whirlpool[:], b[pos+8:pos+72])
		pos += 72
	}

	if len(b)-pos < 1 {
		return nil, fmt.Errorf("%w: missing checksum table trailer", ErrCorrupt)
	}

	trailer := b[pos:]
	if modulus != nil && publicExponent != nil {
		trailer = rsaModPow(trailer, modulus, publicExponent)
		if len(trailer) < checksumTrailerSize {
			padded := make([]byte, checksumTrailerSize)
			copy(padded[checksumTrailerSize-len(trailer):], trailer)
			trailer = padded
		} else if len(trailer) > checksumTrailerSize {
			trailer = trailer[len(trailer)-checksumTrailerSize:]
		}
	}

	want := Whirlpool512(b[checksumWhirlpoolHeaderSize:pos])
	got := trailer[1:65]
	if !bytes.Equal(want[:], got) {
		return nil, ErrDigestMismatch
	}

	return t, nil
}

// EncodeWhirlpool renders the table in the whirlpool-mode wire format,
// appending a trailer computed over the entry records. If modulus and
// privateExponent are both non-nil the trailer is RSA-modpow encrypted;
// otherwise it is left plain.
func (t *ChecksumTable) EncodeWhirlpool(modulus, privateExponent *big.Int) []byte {
	var body bytes.Buffer
	body.WriteByte(0)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(t.Entries)))
	body.Write(countBuf[:])

	for _, e := range t.Entries {
		writeI32(&body, e.CRC)
		writeI32(&body, e.Version)
		body.Write(e.Whirlpool[:])
	}

	entryBytes := body.Bytes()[checksumWhirlpoolHeaderSize:]
	digest := Whirlpool512(entryBytes)

	trailer := make([]byte, checksumTrailerSize)
	trailer[0] = 0
	copy(trailer[1:65], digest[:])
	trailer[65] = 0

	if modulus != nil && privateExponent != nil {
		trailer = rsaModPow(trailer, modulus, privateExponent)
	}

	body.Write(trailer)
	return body.Bytes()
}
