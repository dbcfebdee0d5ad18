// Package inflate implements a resumable RFC 1951 DEFLATE decoder with
// an RFC 1950 zlib wrapper, streaming through its own 64 KiB sliding
// window (internal/window) and canonical Huffman tables
// (internal/huffman). It never blocks: every exported call either makes
// progress with the bytes it was given or returns having consumed
// nothing further, so the caller can feed more compressed input as it
// arrives, in pieces of any size, across chunk boundaries.
package inflate

import (
	"github.com/pkg/errors"

	"github.com/kelvinstatic/pngflate/internal/bitreader"
	"github.com/kelvinstatic/pngflate/internal/huffman"
	"github.com/kelvinstatic/pngflate/internal/window"
)

// Errors the decoder raises. Once one is set the Inflater is retired:
// every subsequent call returns the same error.
var (
	ErrInvalidZlibHeader            = errors.New("inflate: invalid zlib header")
	ErrUnsupportedCompressionMethod = errors.New("inflate: unsupported compression method")
	ErrWindowTooLarge               = errors.New("inflate: zlib window size too large")
	ErrDictRequired                 = errors.New("inflate: external dictionary not supported")
	ErrInvalidBlockType             = errors.New("inflate: invalid block type")
	ErrInvalidStoredLength          = errors.New("inflate: invalid stored block length")
	ErrInvalidHuffmanCodeLengths    = errors.New("inflate: invalid huffman code lengths")
	ErrInvalidLiteralSymbol         = errors.New("inflate: invalid literal/length symbol")
	ErrInvalidDistanceSymbol        = errors.New("inflate: invalid distance symbol")
)

type state int

const (
	stateReadyForHead state = iota
	stateReadyForNextBlock
	stateReadingStoredHeader
	stateReadingStoredBody
	stateReadingDynamicHeader
	stateReadingDynamicCodeLengths
	stateReadingDynamicLiteralTree
	stateReadingDynamicDistanceTree
	stateReadingDynamicBlock
	stateReadingFixedBlock
	stateReadingDynamicDistance
	stateReadingFixedDistance
	stateDone
	stateError
)

// noSymbol marks that no Huffman symbol is currently pending resolution
// of its extra bits.
const noSymbol = -1

// maxCodeLengthSymbols is the largest combined HLIT+HDIST code length
// array DEFLATE allows: 288 literal/length codes (indices 0..287, with
// 286-287 reserved but still present in the array) + 32 distance codes.
const maxCodeLengthSymbols = 288 + 32

// Inflater is a streaming, resumable DEFLATE/zlib decoder. The zero
// value is not ready to use; construct one with New or NewRaw.
type Inflater struct {
	br     bitreader.Reader
	window window.Window

	raw        bool // true for Apple CgBI: no zlib wrapper, deflate starts immediately
	state      state
	finalBlock bool
	err        error

	// Stored block bookkeeping.
	storedRemaining int

	// Dynamic block header bookkeeping.
	hlit, hdist, hclen int
	clTripletsRead     int
	clLengths          [19]int
	clTree             *huffman.Table
	codeLengths        [maxCodeLengthSymbols]int
	codeLenPos         int
	pendingCLSym       int
	prevCodeLength     int

	litTree, distTree           *huffman.Table
	fixedLitTree, fixedDistTree *huffman.Table

	// Block-body resumption: a Huffman symbol that was fully decoded
	// but whose extra bits (or, for distances, the resulting copy)
	// could not yet be completed with the input on hand.
	pendingLitSym  int
	pendingDistSym int
	matchLength    int
}

// New creates an Inflater for a standard zlib-wrapped DEFLATE stream
// (RFC 1950 header followed by RFC 1951 blocks).
func New() *Inflater {
	z := &Inflater{pendingCLSym: noSymbol, pendingLitSym: noSymbol, pendingDistSym: noSymbol}
	z.state = stateReadyForHead
	return z
}

// NewRaw creates an Inflater for a raw DEFLATE stream with no zlib
// wrapper, as used by Apple's CgBI PNG extension.
func NewRaw() *Inflater {
	z := &Inflater{raw: true, pendingCLSym: noSymbol, pendingLitSym: noSymbol, pendingDistSym: noSymbol}
	z.state = stateReadyForNextBlock
	return z
}

// Done reports whether the stream has been fully decoded.
func (z *Inflater) Done() bool { return z.state == stateDone }

// Err returns the error that retired the Inflater, if any.
func (z *Inflater) Err() error { return z.err }

// outputMargin is the largest number of bytes a single step can write
// to the window (the longest possible match). Write stops feeding the
// state machine once free space drops below it, deferring rather than
// overflowing the window.
const outputMargin = 258

// Write feeds more compressed bytes into the decoder. It runs the state
// machine until the input is exhausted, the window needs draining, or
// the stream reaches its end or an error. It returns the number of
// bytes of p actually consumed; callers should retain any unconsumed
// suffix and represent it first in the next call (along with further
// input), since an Inflater never backtracks.
func (z *Inflater) Write(p []byte) (int, error) {
	if z.err != nil {
		return 0, z.err
	}
	z.br.SetInput(p)
	for z.state != stateDone && z.state != stateError {
		if z.window.Free() < outputMargin {
			break
		}
		progressed, err := z.step()
		if err != nil {
			z.state = stateError
			z.err = err
			return z.br.Pos(), err
		}
		if !progressed {
			break
		}
	}
	return z.br.Pos(), nil
}

// Read drains decoded bytes into p in production order, returning how
// many were copied. It never blocks and never returns an error; an
// empty read simply means nothing is buffered yet.
func (z *Inflater) Read(p []byte) int {
	return z.window.Flush(p)
}

// Pending reports how many decoded bytes are buffered and not yet
// drained by Read.
func (z *Inflater) Pending() int { return z.window.Pending() }

// step executes one bounded unit of work for the current state and
// reports whether it made progress. A false return with a nil error
// means the decoder yielded: it needs more input before it can
// continue.
func (z *Inflater) step() (bool, error) {
	switch z.state {
	case stateReadyForHead:
		return z.stepZlibHeader()
	case stateReadyForNextBlock:
		return z.stepBlockPrologue()
	case stateReadingStoredHeader:
		return z.stepStoredHeader()
	case stateReadingStoredBody:
		return z.stepStoredBody()
	case stateReadingDynamicHeader:
		return z.stepDynamicHeader()
	case stateReadingDynamicCodeLengths:
		return z.stepDynamicCodeLengths()
	case stateReadingDynamicLiteralTree:
		return z.stepBuildLiteralTree()
	case stateReadingDynamicDistanceTree:
		return z.stepBuildDistanceTree()
	case stateReadingDynamicBlock:
		return z.stepBlockBody(z.litTree, stateReadingDynamicDistance)
	case stateReadingFixedBlock:
		return z.stepBlockBody(z.fixedLitTree, stateReadingFixedDistance)
	case stateReadingDynamicDistance:
		return z.stepDistance(z.distTree, stateReadingDynamicBlock)
	case stateReadingFixedDistance:
		return z.stepDistance(z.fixedDistTree, stateReadingFixedBlock)
	default:
		return false, nil
	}
}

// decodeSymbol decodes one Huffman symbol from br using t, returning ok
// = false if not enough bits are currently buffered to be sure of the
// code (in which case nothing is consumed).
func decodeSymbol(br *bitreader.Reader, t *huffman.Table) (int, bool) {
	br.Load(t.Bits)
	sym, length := t.Lookup(br.Peek(t.Bits))
	if uint(length) == 0 || uint(length) > br.Bits() {
		return 0, false
	}
	br.Drop(uint(length))
	return sym, true
}

func (z *Inflater) stepZlibHeader() (bool, error) {
	if !z.br.Load(16) || z.br.Bits() < 16 {
		return false, nil
	}
	v := z.br.Read(16)
	cmf := v & 0xFF
	flg := (v >> 8) & 0xFF
	if (cmf*256+flg)%31 != 0 {
		return false, ErrInvalidZlibHeader
	}
	if cmf&0x0F != 8 {
		return false, ErrUnsupportedCompressionMethod
	}
	if cmf>>4 > 7 {
		return false, ErrWindowTooLarge
	}
	if flg&0x20 != 0 {
		return false, ErrDictRequired
	}
	z.state = stateReadyForNextBlock
	return true, nil
}

func (z *Inflater) stepBlockPrologue() (bool, error) {
	if !z.br.Load(3) || z.br.Bits() < 3 {
		return false, nil
	}
	final := z.br.Read(1) == 1
	btype := z.br.Read(2)
	z.finalBlock = final

	switch btype {
	case 0:
		z.state = stateReadingStoredHeader
	case 1:
		if z.fixedLitTree == nil {
			z.fixedLitTree, _ = huffman.Build(fixedLiteralLengths())
			z.fixedDistTree, _ = huffman.Build(fixedDistanceLengths())
		}
		z.state = stateReadingFixedBlock
	case 2:
		z.state = stateReadingDynamicHeader
		z.hclen = 0
		z.clTripletsRead = 0
		for i := range z.clLengths {
			z.clLengths[i] = 0
		}
	default:
		return false, ErrInvalidBlockType
	}
	return true, nil
}

func (z *Inflater) stepStoredHeader() (bool, error) {
	z.br.SkipToByteBoundary()
	if !z.br.Load(32) || z.br.Bits() < 32 {
		return false, nil
	}
	v := z.br.Read(32)
	n := uint16(v)
	nn := uint16(v >> 16)
	if nn != ^n {
		return false, ErrInvalidStoredLength
	}
	z.storedRemaining = int(n)
	z.state = stateReadingStoredBody
	return true, nil
}

func (z *Inflater) stepStoredBody() (bool, error) {
	if z.storedRemaining == 0 {
		z.state = nextBlockState(z.finalBlock)
		return true, nil
	}
	b, ok := z.br.ReadAlignedByte()
	if !ok {
		return false, nil
	}
	z.window.WriteByte(b)
	z.storedRemaining--
	return true, nil
}

func nextBlockState(final bool) state {
	if final {
		return stateDone
	}
	return stateReadyForNextBlock
}

func (z *Inflater) stepDynamicHeader() (bool, error) {
	if z.hclen == 0 {
		if !z.br.Load(14) || z.br.Bits() < 14 {
			return false, nil
		}
		z.hlit = int(z.br.Read(5)) + 257
		z.hdist = int(z.br.Read(5)) + 1
		z.hclen = int(z.br.Read(4)) + 4
	}
	for z.clTripletsRead < z.hclen {
		if !z.br.Load(3) || z.br.Bits() < 3 {
			return false, nil
		}
		z.clLengths[codeOrder[z.clTripletsRead]] = int(z.br.Read(3))
		z.clTripletsRead++
	}

	tree, err := huffman.Build(z.clLengths[:])
	if err != nil {
		return false, errors.Wrap(err, "dynamic block: code-length tree")
	}
	if tree.Empty() {
		return false, ErrInvalidHuffmanCodeLengths
	}
	z.clTree = tree
	z.codeLenPos = 0
	z.pendingCLSym = noSymbol
	z.prevCodeLength = 0
	z.state = stateReadingDynamicCodeLengths
	return true, nil
}

func (z *Inflater) stepDynamicCodeLengths() (bool, error) {
	total := z.hlit + z.hdist
	for z.codeLenPos < total {
		if z.pendingCLSym == noSymbol {
			sym, ok := decodeSymbol(&z.br, z.clTree)
			if !ok {
				return false, nil
			}
			z.pendingCLSym = sym
		}

		sym := z.pendingCLSym
		switch {
		case sym < 16:
			z.codeLengths[z.codeLenPos] = sym
			z.prevCodeLength = sym
			z.codeLenPos++
			z.pendingCLSym = noSymbol
		case sym == 16:
			if !z.br.Load(2) || z.br.Bits() < 2 {
				return false, nil
			}
			if z.codeLenPos == 0 {
				return false, ErrInvalidHuffmanCodeLengths
			}
			rep := 3 + int(z.br.Read(2))
			if z.codeLenPos+rep > total {
				return false, ErrInvalidHuffmanCodeLengths
			}
			for i := 0; i < rep; i++ {
				z.codeLengths[z.codeLenPos] = z.prevCodeLength
				z.codeLenPos++
			}
			z.pendingCLSym = noSymbol
		case sym == 17:
			if !z.br.Load(3) || z.br.Bits() < 3 {
				return false, nil
			}
			rep := 3 + int(z.br.Read(3))
			if z.codeLenPos+rep > total {
				return false, ErrInvalidHuffmanCodeLengths
			}
			for i := 0; i < rep; i++ {
				z.codeLengths[z.codeLenPos] = 0
				z.codeLenPos++
			}
			z.prevCodeLength = 0
			z.pendingCLSym = noSymbol
		case sym == 18:
			if !z.br.Load(7) || z.br.Bits() < 7 {
				return false, nil
			}
			rep := 11 + int(z.br.Read(7))
			if z.codeLenPos+rep > total {
				return false, ErrInvalidHuffmanCodeLengths
			}
			for i := 0; i < rep; i++ {
				z.codeLengths[z.codeLenPos] = 0
				z.codeLenPos++
			}
			z.prevCodeLength = 0
			z.pendingCLSym = noSymbol
		default:
			return false, ErrInvalidHuffmanCodeLengths
		}
	}
	z.state = stateReadingDynamicLiteralTree
	return true, nil
}

func (z *Inflater) stepBuildLiteralTree() (bool, error) {
	tree, err := huffman.Build(z.codeLengths[:z.hlit])
	if err != nil {
		return false, errors.Wrap(err, "dynamic block: literal tree")
	}
	z.litTree = tree
	z.state = stateReadingDynamicDistanceTree
	return true, nil
}

func (z *Inflater) stepBuildDistanceTree() (bool, error) {
	tree, err := huffman.Build(z.codeLengths[z.hlit : z.hlit+z.hdist])
	if err != nil {
		return false, errors.Wrap(err, "dynamic block: distance tree")
	}
	z.distTree = tree
	z.state = stateReadingDynamicBlock
	return true, nil
}

// stepBlockBody decodes one literal/length symbol from lit. Literals go
// straight to the window; an end-of-block symbol advances to the next
// block (or to done, if this was the final block); a length symbol
// resolves its extra bits and hands off to distState to decode the
// matching distance.
func (z *Inflater) stepBlockBody(lit *huffman.Table, distState state) (bool, error) {
	if lit.Empty() {
		return false, ErrInvalidLiteralSymbol
	}
	if z.pendingLitSym == noSymbol {
		sym, ok := decodeSymbol(&z.br, lit)
		if !ok {
			return false, nil
		}
		z.pendingLitSym = sym
	}

	sym := z.pendingLitSym
	switch {
	case sym < 256:
		z.window.WriteByte(byte(sym))
		z.pendingLitSym = noSymbol
		return true, nil
	case sym == 256:
		z.pendingLitSym = noSymbol
		z.state = nextBlockState(z.finalBlock)
		return true, nil
	case sym <= 285:
		idx := sym - 257
		extra := uint(lengthExtra[idx])
		if !z.br.Load(extra) || z.br.Bits() < extra {
			return false, nil
		}
		z.matchLength = int(lengthBase[idx]) + int(z.br.Read(extra))
		z.pendingLitSym = noSymbol
		z.state = distState
		return true, nil
	default:
		return false, ErrInvalidLiteralSymbol
	}
}

// stepDistance decodes a distance symbol from dist, resolves its extra
// bits, and performs the back-reference copy before returning to
// blockState to continue the block body.
func (z *Inflater) stepDistance(dist *huffman.Table, blockState state) (bool, error) {
	if dist.Empty() {
		return false, ErrInvalidDistanceSymbol
	}
	if z.pendingDistSym == noSymbol {
		sym, ok := decodeSymbol(&z.br, dist)
		if !ok {
			return false, nil
		}
		if sym >= len(distBase) {
			return false, ErrInvalidDistanceSymbol
		}
		z.pendingDistSym = sym
	}

	sym := z.pendingDistSym
	extra := uint(distExtra[sym])
	if !z.br.Load(extra) || z.br.Bits() < extra {
		return false, nil
	}
	distance := int(distBase[sym]) + int(z.br.Read(extra))
	z.pendingDistSym = noSymbol

	if err := z.window.CopyBack(distance, z.matchLength); err != nil {
		return false, err
	}
	z.state = blockState
	return true, nil
}
