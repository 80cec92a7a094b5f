package rscache

import (
	"hash/crc32"
	"math/big"

	"github.com/jzelinskie/whirlpool"
)

// CRC32 computes the standard IEEE 802.3 CRC32 of b.
func CRC32(b []byte) int32 {
	return int32(crc32.ChecksumIEEE(b))
}

// Whirlpool512 computes the 512-bit Whirlpool digest of b.
func Whirlpool512(b []byte) [64]byte {
	h := whirlpool.New()
	h.Write(b)
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// rsaModPow performs raw modular exponentiation on data, preserving the
// signed two's-complement big-endian BigInteger semantics the legacy client
// relies on: the input bytes are interpreted as a signed big-endian integer
// (as java.math.BigInteger(byte[]) would), and the result is re-encoded the
// same way (as BigInteger.toByteArray() would, including a leading zero
// byte when needed to keep the sign positive).
func rsaModPow(data []byte, modulus, exponent *big.Int) []byte {
	x := bigIntFromSignedBytes(data)
	y := new(big.Int).Exp(x, exponent, modulus)
	return signedBytesFromBigInt(y)
}

// bigIntFromSignedBytes decodes b as a signed, big-endian two's-complement
// integer, matching java.math.BigInteger(byte[]).
func bigIntFromSignedBytes(b []byte) *big.Int {
	n := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		n.Sub(n, mod)
	}
	return n
}

// signedBytesFromBigInt encodes n as a minimal-length, signed, big-endian
// two's-complement byte slice, matching java.math.BigInteger.toByteArray():
// a non-negative value gets a leading 0x00 byte if its top bit would
// otherwise read as negative.
func signedBytesFromBigInt(n *big.Int) []byte {
	if n.Sign() == 0 {
		return []byte{0}
	}
	if n.Sign() > 0 {
		b := n.Bytes()
		if b[0]&0x80 != 0 {
			return append([]byte{0}, b...)
		}
		return b
	}

	// Negative: encode via two's complement over the smallest byte count
	// that can hold the magnitude with a sign bit.
	numBytes := new(big.Int).Not(n).BitLen()/8 + 1
	mod := new(big.Int).Lsh(big.NewInt(1), uint(8*numBytes))
	twos := new(big.Int).Add(mod, n)
	b := twos.Bytes()
	for len(b) < numBytes {
		b = append([]byte{0}, b...)
	}
	return b
}
