package codec

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	input := []byte("correct horse battery staple")
	h1 := Hash(input)
	h2 := Hash(input)
	require.Equal(t, h1, h2)
	require.Len(t, h1[:], 32)

	require.NotEqual(t, Hash([]byte("a")), Hash([]byte("b")))
}

func TestCipherInvolution(t *testing.T) {
	var key [KeySize]byte
	var nonce [NonceSize]byte
	for i := range key {
		key[i] = byte(i)
	}
	for i := range nonce {
		nonce[i] = byte(0xC3 ^ i)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ct, err := Apply(key, nonce, plaintext)
	require.NoError(t, err)
	require.Len(t, ct, len(plaintext))
	require.NotEqual(t, plaintext, ct)

	pt, err := Apply(key, nonce, ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	key[0] = 0x42

	data := []byte("schemas and rows and acls")
	frame, err := Seal(key, data)
	require.NoError(t, err)
	require.Len(t, frame, NonceSize+len(data))

	out, err := Open(key, frame)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestOpenTruncatedFrame(t *testing.T) {
	var key [KeySize]byte
	_, err := Open(key, make([]byte, NonceSize-1))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestCompressRoundTripText(t *testing.T) {
	cases := []string{
		"",
		"a",
		"abcd",
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"users\n3\nid 1 1 1 -\nname 0 0 1 -\nage 0 0 0 18\n",
		strings.Repeat("the snapshot grammar is whitespace delimited\n", 40),
	}
	for _, tc := range cases {
		got := Decompress(Compress([]byte(tc)))
		if len(tc) == 0 {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, []byte(tc), got)
	}
}

func TestCompressRoundTripRandomNoZero(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(4096)
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(1 + rng.Intn(255)) // never 0x00
		}
		got := Decompress(Compress(data))
		if n == 0 {
			require.Empty(t, got)
			continue
		}
		require.True(t, bytes.Equal(data, got), "trial %d length %d", trial, n)
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	data := []byte(strings.Repeat("abcdefgh", 512))
	packed := Compress(data)
	require.Less(t, len(packed), len(data))
}
