// Package huffman builds and evaluates canonical Huffman decode tables
// for DEFLATE (RFC 1951), the way described in zlib's algorithm.txt: a
// flat lookup table indexed by a fixed-width peek of the input bits,
// with every unused slot filled in by replication so any prefix of a
// valid code resolves immediately.
package huffman

import "github.com/pkg/errors"

const (
	// MaxCodeLength is the longest Huffman code DEFLATE allows.
	MaxCodeLength = 15
	// valueBits is the width reserved for the symbol value in a packed
	// table entry; DEFLATE's largest alphabet (288 literal/length
	// symbols) fits comfortably in 9 bits.
	valueBits = 9
	// tableSize is 2**MaxCodeLength: every possible 15-bit peek gets an
	// entry, so a lookup never needs a second level.
	tableSize = 1 << MaxCodeLength
)

// Errors raised while building a table.
var (
	ErrInvalidCodeLength  = errors.New("huffman: code length out of range")
	ErrInvalidSymbolCount = errors.New("huffman: too many symbols")
	ErrOverSubscribed     = errors.New("huffman: over-subscribed code")
)

// Table is a canonical Huffman decode table. Entries pack the decoded
// symbol in the low valueBits bits and the code's bit length in the
// bits above that; Bits records the longest assigned code length, which
// is also how many bits a lookup needs to peek.
type Table struct {
	entries [tableSize]uint16
	Bits    uint
}

// Empty reports whether the table was built from an all-zero length
// array (no codes assigned). Decoding against an empty table is always
// an error in DEFLATE except for a distance tree that is never used.
func (t *Table) Empty() bool { return t.Bits == 0 }

// Lookup resolves a peeked bit pattern (already masked to the width
// t.Bits) to its symbol and the number of bits the code actually
// occupies, which may be less than t.Bits.
func (t *Table) Lookup(peek uint32) (symbol int, length uint8) {
	e := t.entries[peek]
	return int(e & (1<<valueBits - 1)), uint8(e >> valueBits)
}

// reverseBits reverses the low n bits of v.
func reverseBits(v uint32, n uint) uint32 {
	var r uint32
	for i := uint(0); i < n; i++ {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}

// Build constructs a canonical Huffman decode table from an array of
// per-symbol code lengths (0 meaning the symbol is unused), following
// RFC 1951 section 3.2.2: symbols are assigned codes in order of
// increasing length, and, within a length, in order of symbol index.
func Build(codeLengths []int) (*Table, error) {
	if len(codeLengths) > (1<<valueBits)-1 {
		return nil, ErrInvalidSymbolCount
	}

	var count [MaxCodeLength + 1]int
	maxLen := 0
	for _, n := range codeLengths {
		if n < 0 || n > MaxCodeLength {
			return nil, ErrInvalidCodeLength
		}
		if n == 0 {
			continue
		}
		count[n]++
		if n > maxLen {
			maxLen = n
		}
	}

	t := &Table{}
	if maxLen == 0 {
		// Empty tree: valid for a distance alphabet that goes unused.
		return t, nil
	}

	minLen := 0
	for n := 1; n <= maxLen; n++ {
		if count[n] != 0 {
			minLen = n
			break
		}
	}

	var nextCode [MaxCodeLength + 1]int
	code := 0
	for length := minLen; length <= maxLen; length++ {
		code <<= 1
		nextCode[length] = code
		code += count[length]
	}
	// A complete code fills exactly 2**maxLen leaves. zlib (and every
	// decoder compatible with it) also accepts one degenerate
	// under-subscribed case: a single symbol assigned a 1-bit code.
	if code != 1<<uint(maxLen) && !(code == 1 && maxLen == 1) {
		return nil, ErrOverSubscribed
	}

	for sym, length := range codeLengths {
		if length == 0 {
			continue
		}
		c := nextCode[length]
		nextCode[length]++
		packed := uint16(sym) | uint16(length)<<valueBits
		// The canonical code read LSB-first is the bit-reversal of the
		// code assigned MSB-first above; replicate it across every
		// table slot that shares those low `length` bits so any peek
		// extending a shorter code still resolves correctly.
		start := reverseBits(uint32(c), uint(length))
		for i := start; i < tableSize; i += 1 << uint(length) {
			t.entries[i] = packed
		}
	}
	// The degenerate single 1-bit code leaves slots no code reaches;
	// fill every empty slot from the slot that shares its low bits.
	mask := 0
	for i := 1; i < tableSize; i++ {
		if i&(i-1) == 0 {
			mask = i - 1
		}
		if t.entries[i] == 0 {
			t.entries[i] = t.entries[i&mask]
		}
	}

	t.Bits = uint(maxLen)
	return t, nil
}
