package codec

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
)

const (
	// KeySize is the XChaCha20 key length.
	KeySize = chacha20.KeySize
	// NonceSize is the XChaCha20 nonce length.
	NonceSize = chacha20.NonceSizeX
)

var (
	ErrTruncated      = errors.New("codec: frame shorter than nonce")
	ErrDecryptFailure = errors.New("codec: decrypt failure")
)

// Apply runs the XChaCha20 keystream over data. Encrypt and decrypt are the
// same operation; output length equals input length.
func Apply(key [KeySize]byte, nonce [NonceSize]byte, data []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, errors.Wrap(ErrDecryptFailure, err.Error())
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// Seal encrypts data under key with a fresh random nonce and returns the
// on-disk frame: nonce (24 bytes) || ciphertext.
func Seal(key [KeySize]byte, data []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "codec: nonce")
	}
	ct, err := Apply(key, nonce, data)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, NonceSize+len(ct))
	frame = append(frame, nonce[:]...)
	frame = append(frame, ct...)
	return frame, nil
}

// Open decrypts a frame produced by Seal.
func Open(key [KeySize]byte, frame []byte) ([]byte, error) {
	if len(frame) < NonceSize {
		return nil, ErrTruncated
	}
	var nonce [NonceSize]byte
	copy(nonce[:], frame[:NonceSize])
	return Apply(key, nonce, frame[NonceSize:])
}
