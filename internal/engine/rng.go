package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// ByteGenerator produces the provably-fair byte stream for a single nonce
// using repeated HMAC-SHA256 rounds. The key is the server seed's literal
// ASCII representation; it must never be hex-decoded even though it looks
// like hex. The message for round r is "{client}:{nonce}:{r}".
type ByteGenerator struct {
	serverSeed string
	clientSeed string
	nonce      uint64
	round      uint64
	pos        int
	buffer     [sha256.Size]byte
}

// NewByteGenerator starts the byte stream for (serverSeed, clientSeed, nonce)
// at round 0.
func NewByteGenerator(serverSeed, clientSeed string, nonce uint64) *ByteGenerator {
	bg := &ByteGenerator{
		serverSeed: serverSeed,
		clientSeed: clientSeed,
		nonce:      nonce,
	}
	bg.fill()
	return bg
}

// Reset rewinds the generator onto a new nonce, reusing the struct. The hot
// scan path calls this once per nonce to avoid per-nonce allocation.
func (bg *ByteGenerator) Reset(nonce uint64) {
	bg.nonce = nonce
	bg.round = 0
	bg.pos = 0
	bg.fill()
}

// Next returns the next byte, advancing to the next HMAC round when the
// current 32-byte digest is exhausted.
func (bg *ByteGenerator) Next() byte {
	if bg.pos >= sha256.Size {
		bg.round++
		bg.pos = 0
		bg.fill()
	}
	b := bg.buffer[bg.pos]
	bg.pos++
	return b
}

// NextFloat consumes exactly 4 bytes and returns a value in [0, 1).
//
// The conversion is u = (b0<<24 | b1<<16 | b2<<8 | b3) / 2^32, which is the
// exact sum b0/256 + b1/256^2 + b2/256^3 + b3/256^4. Both the dividend and
// the quotient are exactly representable in an IEEE-754 double, so the result
// is bit-identical on every platform. Any deviation here silently corrupts
// every permutation downstream.
func (bg *ByteGenerator) NextFloat() float64 {
	u := uint32(bg.Next())<<24 | uint32(bg.Next())<<16 | uint32(bg.Next())<<8 | uint32(bg.Next())
	return float64(u) / 4294967296.0
}

func (bg *ByteGenerator) fill() {
	h := hmac.New(sha256.New, []byte(bg.serverSeed))
	fmt.Fprintf(h, "%s:%d:%d", bg.clientSeed, bg.nonce, bg.round)
	h.Sum(bg.buffer[:0])
}

// Floats generates count floats for the given nonce starting at round 0.
func Floats(serverSeed, clientSeed string, nonce uint64, count int) []float64 {
	return FloatsInto(make([]float64, count), serverSeed, clientSeed, nonce, count)
}

// FloatsInto fills dst with count floats, reusing dst's backing array when it
// is large enough.
func FloatsInto(dst []float64, serverSeed, clientSeed string, nonce uint64, count int) []float64 {
	if cap(dst) < count {
		dst = make([]float64, count)
	}
	dst = dst[:count]

	bg := NewByteGenerator(serverSeed, clientSeed, nonce)
	for i := range dst {
		dst[i] = bg.NextFloat()
	}
	return dst
}
