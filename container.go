package rscache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
)

// Compression identifies how a Container's payload is framed on disk.
type Compression uint8

const (
	CompressionNone  Compression = 0
	CompressionBzip2 Compression = 1
	CompressionGzip  Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "NONE"
	case CompressionBzip2:
		return "BZIP2"
	case CompressionGzip:
		return "GZIP"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// noVersion is the in-memory sentinel for "container has no trailing
// version", mirroring the legacy source's use of -1 rather than a sum type.
const noVersion int32 = -1

// Container is a framed, optionally compressed, optionally versioned
// payload: the unit FileStore entries and Archive payloads are wrapped in.
type Container struct {
	Compression Compression
	Data        []byte
	Version     int32 // noVersion if absent
}

// Versioned reports whether this container carries a trailing version,
// either because it was read with one or because Version has been set to
// something other than noVersion.
func (c *Container) Versioned() bool {
	return c.Version != noVersion
}

// bzip2MagicPrefix is the two bytes every bzip2 stream begins with ("BZ");
// containers strip it from stored BZIP2 payloads and restore it before
// decompressing, since it's always the same two bytes.
var bzip2MagicPrefix = []byte{'B', 'Z'}

// DecodeContainer parses a Container from its on-disk framing: compression
// byte, compressed length, optional uncompressed length, payload, optional
// 2-byte version trailer.
func DecodeContainer(b []byte) (*Container, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: container header truncated", ErrCorrupt)
	}

	comp := Compression(b[0])
	compLen := int(binary.BigEndian.Uint32(b[1:5]))
	pos := 5

	c := &Container{Compression: comp}

	switch comp {
	case CompressionNone:
		if pos+compLen > len(b) {
			return nil, fmt.Errorf("%w: container payload truncated", ErrCorrupt)
		}
		c.Data = append([]byte(nil), b[pos:pos+compLen]...)
		pos += compLen
	case CompressionBzip2, CompressionGzip:
		if pos+4 > len(b) {
			return nil, fmt.Errorf("%w: container header truncated", ErrCorrupt)
		}
		uncompLen := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if pos+compLen > len(b) {
			return nil, fmt.Errorf("%w: container payload truncated", ErrCorrupt)
		}
		compressed := b[pos : pos+compLen]
		pos += compLen

		data, err := decompress(comp, compressed)
		if err != nil {
			return nil, err
		}
		if len(data) != uncompLen {
			return nil, ErrLengthMismatch
		}
		c.Data = data
	default:
		return nil, ErrUnsupportedCompression
	}

	if len(b)-pos >= 2 {
		c.Version = int32(binary.BigEndian.Uint16(b[pos : pos+2]))
	} else {
		c.Version = noVersion
	}

	return c, nil
}

// Encode renders the Container into its on-disk framing, compressing Data
// as configured and appending a version trailer if Versioned().
func (c *Container) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(c.Compression))

	switch c.Compression {
	case CompressionNone:
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c.Data)))
		buf.Write(lenBuf[:])
		buf.Write(c.Data)
	case CompressionBzip2, CompressionGzip:
		compressed, err := compress(c.Compression, c.Data)
		if err != nil {
			return nil, err
		}
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(len(compressed)))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(c.Data)))
		buf.Write(hdr[:])
		buf.Write(compressed)
	default:
		return nil, ErrUnsupportedCompression
	}

	if c.Versioned() {
		var verBuf [2]byte
		binary.BigEndian.PutUint16(verBuf[:], uint16(c.Version))
		buf.Write(verBuf[:])
	}

	return buf.Bytes(), nil
}

func decompress(comp Compression, b []byte) ([]byte, error) {
	switch comp {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionBzip2:
		full := make([]byte, 0, len(bzip2MagicPrefix)+len(b))
		full = append(full, bzip2MagicPrefix...)
		full = append(full, b...)
		r, err := bzip2.NewReader(bytes.NewReader(full), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, ErrUnsupportedCompression
	}
}

func compress(comp Compression, b []byte) ([]byte, error) {
	var out bytes.Buffer
	switch comp {
	case CompressionGzip:
		w := gzip.NewWriter(&out)
		if _, err := w.Write(b); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionBzip2:
		w, err := bzip2.NewWriter(&out, &bzip2.WriterConfig{Level: 1})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(b); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		stream := out.Bytes()
		if len(stream) < len(bzip2MagicPrefix) || !bytes.Equal(stream[:len(bzip2MagicPrefix)], bzip2MagicPrefix) {
			return nil, fmt.Errorf("%w: unexpected bzip2 stream header", ErrCorrupt)
		}
		return stream[len(bzip2MagicPrefix):], nil
	default:
		return nil, ErrUnsupportedCompression
	}
	return out.Bytes(), nil
}
