// Package simhash detects near-duplicate pages with weighted SimHash
// fingerprints computed over a page's word frequencies.
package simhash

import (
	"fmt"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	crawlerrors "github.com/PentesterFlow/PoliteCrawler/internal/errors"
)

// DefaultBits is the default signature length.
const DefaultBits = 256

// Signature is a packed bit vector, most significant bit first.
type Signature []byte

// Len returns the signature length in bits.
func (s Signature) Len() int {
	return len(s) * 8
}

// Bit reports whether bit i is set.
func (s Signature) Bit(i int) bool {
	return s[i/8]&(0x80>>(i%8)) != 0
}

// Hasher computes signatures of a fixed length.
type Hasher struct {
	bits int
}

// NewHasher returns a Hasher producing n-bit signatures. n must be a
// positive multiple of 8.
func NewHasher(n int) (*Hasher, error) {
	if n <= 0 || n%8 != 0 {
		return nil, fmt.Errorf("signature bits must be a positive multiple of 8, got %d", n)
	}
	return &Hasher{bits: n}, nil
}

// Bits returns the signature length.
func (h *Hasher) Bits() int {
	return h.bits
}

// Compute returns the signature of a word-frequency map. Every token is
// hashed with BLAKE2b; each digest bit contributes +freq when set and -freq
// when clear; an output bit is 1 when its total is non-negative.
func (h *Hasher) Compute(freq map[string]int) Signature {
	acc := make([]int64, h.bits)
	for token, count := range freq {
		digest := h.digest(token)
		weight := int64(count)
		for i := range acc {
			if digest[i/8]&(0x80>>(i%8)) != 0 {
				acc[i] += weight
			} else {
				acc[i] -= weight
			}
		}
	}

	sig := make(Signature, h.bits/8)
	for i, v := range acc {
		if v >= 0 {
			sig[i/8] |= 0x80 >> (i % 8)
		}
	}
	return sig
}

func (h *Hasher) digest(token string) []byte {
	size := h.bits / 8
	if size <= blake2b.Size {
		hash, err := blake2b.New(size, nil)
		if err != nil {
			crawlerrors.Invariant("blake2b digest of %d bytes: %v", size, err)
		}
		hash.Write([]byte(token))
		return hash.Sum(nil)
	}

	xof, err := blake2b.NewXOF(uint32(size), nil)
	if err != nil {
		crawlerrors.Invariant("blake2b xof of %d bytes: %v", size, err)
	}
	xof.Write([]byte(token))
	out := make([]byte, size)
	if _, err := xof.Read(out); err != nil {
		crawlerrors.Invariant("blake2b xof read: %v", err)
	}
	return out
}

// Distance returns the Hamming distance between two signatures of equal length.
func Distance(a, b Signature) int {
	if len(a) != len(b) {
		crawlerrors.Invariant("comparing signatures of %d and %d bits", a.Len(), b.Len())
	}
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// Similarity returns the fraction of bit positions on which a and b agree.
func Similarity(a, b Signature) float64 {
	if len(a) == 0 {
		return 1
	}
	return 1 - float64(Distance(a, b))/float64(a.Len())
}
