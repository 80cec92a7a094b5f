package rscache

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrCacheNotFound is returned when a required cache file is missing at open.
	ErrCacheNotFound = errors.New("rscache: required cache file not found")

	// ErrNoSuchType is returned when a type index is outside [0, typeCount) and isn't 255.
	ErrNoSuchType = errors.New("rscache: no such type")

	// ErrNotFound is returned when an entry id is out of range for its index, or a
	// reference-table lookup misses.
	ErrNotFound = errors.New("rscache: entry not found")

	// ErrMalformedIndex is returned when a 6-byte index record fails to decode.
	ErrMalformedIndex = errors.New("rscache: malformed index record")

	// ErrMalformedSector is returned when a 520-byte sector frame fails to decode.
	ErrMalformedSector = errors.New("rscache: malformed sector")

	// ErrCorrupt is returned on sector-chain validation mismatches, a missing version
	// trailer where one was expected, or a decompressed-length mismatch.
	ErrCorrupt = errors.New("rscache: corrupt data")

	// ErrDigestMismatch is returned when a checksum-table trailer's embedded whirlpool
	// digest doesn't match the digest recomputed over the table body.
	ErrDigestMismatch = errors.New("rscache: digest mismatch")

	// ErrInvalidDigestSize is returned when a caller-supplied whirlpool digest isn't
	// exactly 64 bytes.
	ErrInvalidDigestSize = errors.New("rscache: invalid digest size")

	// ErrReservedType is returned when a Cache operation is attempted on type 255.
	ErrReservedType = errors.New("rscache: type 255 is reserved for low-level access")

	// ErrUnsupportedCompression is returned when a container's compression byte isn't
	// one of NONE, BZIP2 or GZIP.
	ErrUnsupportedCompression = errors.New("rscache: unsupported compression")

	// ErrLengthMismatch is returned when a compressed container payload decompresses
	// to a length different from its declared uncompressed length.
	ErrLengthMismatch = errors.New("rscache: decompressed length mismatch")

	// ErrReadOnly is returned by a Cache opened with ReadOnly() when a caller
	// attempts a Write or WriteMember.
	ErrReadOnly = errors.New("rscache: cache opened read-only")
)
