// Package codec holds the primitives the snapshot pipeline and the auth
// subsystem are built from: BLAKE3-256 hashing, the XChaCha20 stream cipher,
// and the LZ77 compressor used for the on-disk payload.
package codec

import "lukechampine.com/blake3"

// HashSize is the digest length in bytes.
const HashSize = 32

// Hash computes the BLAKE3-256 digest of data.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}
