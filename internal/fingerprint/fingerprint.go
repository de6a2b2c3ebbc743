// Package fingerprint builds fixed-size MinHash digests of free-text answers.
//
// Sessions keep these digests instead of raw answers so that context-dependent
// rounds can measure partial similarity to earlier answers without storing
// what the client typed. A digest is always Size bytes.
package fingerprint

import (
	"encoding/binary"
	"hash/fnv"
	"strings"
	"unicode"
)

// Slots is the number of MinHash permutations per digest.
const Slots = 16

// Size is the encoded digest length in bytes.
const Size = Slots * 4

// Digest is a MinHash signature over character trigrams.
type Digest [Slots]uint32

// seeds are fixed odd multipliers; changing them invalidates stored digests.
var seeds = [Slots]uint32{
	0x9e3779b1, 0x85ebca6b, 0xc2b2ae35, 0x27d4eb2f,
	0x165667b1, 0xd3a2646c, 0xfd7046c5, 0xb55a4f09,
	0x68e31da4, 0x1b873593, 0xcc9e2d51, 0xe6546b64,
	0x5bd1e995, 0x7feb352d, 0x846ca68b, 0x3243f6a9,
}

// Normalize lowercases s, strips punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Of returns the digest of s after normalization.
func Of(s string) Digest {
	var d Digest
	for i := range d {
		d[i] = ^uint32(0)
	}

	text := " " + Normalize(s) + " "
	runes := []rune(text)
	if len(runes) < 3 {
		runes = append(runes, ' ')
	}

	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		base := h.Sum32()
		for slot := range d {
			v := mix(base ^ seeds[slot])
			if v < d[slot] {
				d[slot] = v
			}
		}
	}
	return d
}

// mix is the murmur3 finalizer.
func mix(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// Similarity estimates the Jaccard similarity of the trigram sets.
func Similarity(a, b Digest) float64 {
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(Slots)
}

// Bytes encodes d big-endian.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	for i, v := range d {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// FromBytes decodes a digest produced by Bytes.
func FromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != Size {
		return d, false
	}
	for i := range d {
		d[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return d, true
}
