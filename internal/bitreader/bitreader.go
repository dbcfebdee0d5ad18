// Package bitreader implements an LSB-first bit buffer over a borrowed
// input slice, the way RFC 1951 requires bits to be read from a DEFLATE
// stream.
//
// A Reader never blocks: every read either succeeds or reports that not
// enough bits are currently buffered, leaving all state untouched so the
// caller can feed more input and retry.
package bitreader

// Reader holds a 32-bit LSB-first bit accumulator plus a cursor into the
// input slice supplied by the most recent call to SetInput. Bits loaded
// from a slice survive across calls to SetInput, since only the slice
// and cursor are replaced, not the accumulator.
type Reader struct {
	src  []byte
	pos  int
	buf  uint32
	bits uint
}

// SetInput points the reader at a new input slice, resetting the byte
// cursor but preserving any bits already buffered from a previous slice.
func (r *Reader) SetInput(p []byte) {
	r.src = p
	r.pos = 0
}

// Pos returns the number of bytes consumed from the current input slice.
func (r *Reader) Pos() int { return r.pos }

// Bits reports how many valid bits are currently buffered.
func (r *Reader) Bits() uint { return r.bits }

// Load pulls whole bytes from the input slice into the bit buffer until
// it holds at least n bits, the input slice is exhausted, or adding
// another byte would overflow the 32-bit accumulator. It reports whether
// at least n bits are buffered afterward.
func (r *Reader) Load(n uint) bool {
	for r.bits < n {
		if r.bits+8 > 32 {
			break
		}
		if r.pos >= len(r.src) {
			break
		}
		r.buf |= uint32(r.src[r.pos]) << r.bits
		r.pos++
		r.bits += 8
	}
	return r.bits >= n
}

// CanRead reports whether n bits are either already buffered or could be
// made available from the remaining bytes of the current input slice,
// without actually loading them.
func (r *Reader) CanRead(n uint) bool {
	if r.bits >= n {
		return true
	}
	need := n - r.bits
	avail := uint(len(r.src)-r.pos) * 8
	return avail >= need
}

// Peek returns the low n bits of the buffer without consuming them. Bits
// beyond what has been loaded read as zero.
func (r *Reader) Peek(n uint) uint32 {
	if n == 0 {
		return 0
	}
	return r.buf & ((1 << n) - 1)
}

// Drop discards the low n bits of the buffer without returning them.
func (r *Reader) Drop(n uint) {
	r.buf >>= n
	r.bits -= n
}

// Read returns the low n bits of the buffer and consumes them. The
// caller must have established (via Load/CanRead) that n bits are
// available.
func (r *Reader) Read(n uint) uint32 {
	v := r.Peek(n)
	r.Drop(n)
	return v
}

// SkipToByteBoundary discards whatever fraction of a byte remains
// buffered, so the next read starts aligned to a byte of the original
// stream.
func (r *Reader) SkipToByteBoundary() {
	d := r.bits % 8
	r.buf >>= d
	r.bits -= d
}

// ReadAlignedByte drains one byte assumed to be byte-aligned (callers
// call SkipToByteBoundary first), preferring a whole byte already
// sitting in the bit buffer before pulling a fresh one from the input
// slice. It reports false if no byte is currently available.
func (r *Reader) ReadAlignedByte() (byte, bool) {
	if r.bits >= 8 {
		return byte(r.Read(8)), true
	}
	if r.bits != 0 {
		// SkipToByteBoundary guarantees this never happens for
		// well-formed callers, but guard against misuse.
		return 0, false
	}
	if r.pos >= len(r.src) {
		return 0, false
	}
	b := r.src[r.pos]
	r.pos++
	return b, true
}
