// Package png decodes the PNG image format: an 8-byte signature
// followed by a sequence of tagged, length-prefixed chunks carrying
// image metadata, an optional palette and transparency key, and an
// embedded RFC 1950/1951 DEFLATE stream of filtered scanlines. It
// understands Apple's CgBI extension (raw DEFLATE, pre-swapped and
// premultiplied source bytes) and 7-pass Adam7 interlacing, and
// produces a single fixed 32-bpp RGBA or BGRA pixel buffer.
//
// Decoding never panics and never blocks past what Input.Read and
// Input.Seek are willing to provide: every failure mode, including a
// short read, is reported as an error from Decode with a Kind an
// caller can recover via KindOf.
package png

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Flags selects optional decode behaviors; all bits are independent.
type Flags uint32

const (
	// FlagBGRA produces B,G,R,A pixel order instead of the default
	// R,G,B,A.
	FlagBGRA Flags = 1 << iota
	// FlagPremultiplied produces premultiplied-alpha output instead of
	// the default straight alpha.
	FlagPremultiplied
	// FlagFlipY writes the topmost source row last instead of first.
	FlagFlipY
	// FlagInfoOnly stops the decode after IHDR if the color type
	// already carries alpha, and otherwise after the first tRNS or IDAT
	// chunk (whichever comes first). No pixel buffer is allocated;
	// Image.Pix is nil.
	FlagInfoOnly
)

// Input is the byte source a decode reads from. read returns fewer
// bytes than requested only at end of input; a short read is reported
// as an IO failure. Seek is relative and is only ever used to skip
// forward, to discard an ignored chunk's payload or to skip trailing
// IDAT bytes once decoding has completed; CRCs are consumed with Read.
type Input interface {
	Read(buf []byte) (n int, err error)
	Seek(delta int64) bool
}

// readerInput adapts an io.Reader to Input, the "stdio/file-path
// convenience wrapper" spec.md places outside this subsystem's core:
// DecodeBytes and ProbeSize build one internally so callers never have
// to implement Input by hand for the common case.
type readerInput struct {
	r io.Reader
}

func (ri *readerInput) Read(buf []byte) (int, error) {
	return io.ReadFull(ri.r, buf)
}

func (ri *readerInput) Seek(delta int64) bool {
	if delta <= 0 {
		return true
	}
	n, err := io.CopyN(io.Discard, ri.r, delta)
	return err == nil && n == delta
}

// NewReaderInput wraps an io.Reader as an Input.
func NewReaderInput(r io.Reader) Input {
	return &readerInput{r: r}
}

// Allocator supplies the byte buffers a decode needs. Alloc backs
// every scratch buffer (scanline scratches, the inflater's staging
// buffer, the interlace temp row); a Go Allocator cannot meaningfully
// fail the way a C one can (make does not return nil), so the only
// realistic Allocation failures this module raises are a caller's
// ImageAllocator rejecting the requested geometry and the stride/size
// overflow checks in decoder.go.
type Allocator interface {
	Alloc(size int) []byte
}

// ImageAllocator is the optional image_alloc hook from spec.md section
// 4.H: when an Allocator also implements it, the decoder asks it for
// the final pixel buffer and stride instead of choosing stride ==
// width*4 itself. The returned stride must be >= width*bpp (bpp is
// always 4); a smaller stride is an API failure.
type ImageAllocator interface {
	Allocator
	ImageAlloc(width, height uint32, bpp int) (buf []byte, stride int)
}

// defaultAllocator backs scratch and image buffers with plain make
// calls and does not implement ImageAllocator, so decode always
// chooses stride == width*4 for it.
type defaultAllocator struct{}

func (defaultAllocator) Alloc(size int) []byte { return make([]byte, size) }

// DefaultAllocator is the Allocator Decode uses when the caller passes
// nil.
var DefaultAllocator Allocator = defaultAllocator{}

// Image is a completed decode: a contiguous buffer of Stride*Height
// bytes holding Width*Height pixels of 4 bytes each, in the channel
// order and alpha model Flags requested. A FlagInfoOnly decode leaves
// Pix nil; Width, Height, and HasAlpha are still populated from
// whatever chunks were read before it stopped.
type Image struct {
	Width         uint32
	Height        uint32
	Stride        int
	HasAlpha      bool
	BGRA          bool
	Premultiplied bool
	Pix           []byte
}

// Decode reads a complete PNG image from in using the given flags and
// allocator. A nil allocator uses DefaultAllocator. On any failure the
// returned Image is nil and the error's Kind (via KindOf) identifies
// why: API for caller misuse, Invalid for a structural PNG violation,
// Inflater for a DEFLATE-stream violation, Unsupported for geometry
// that would overflow, Allocation when an ImageAllocator rejects the
// request, IO for a short read or failed seek.
func Decode(in Input, flags Flags, alloc Allocator) (*Image, error) {
	if in == nil {
		return nil, fail(API, ErrNilInput)
	}
	if alloc == nil {
		alloc = DefaultAllocator
	}
	d := newDecoder(in, flags, alloc)
	img, err := d.run()
	if err != nil {
		return nil, err
	}
	return img, nil
}

// DecodeBytes decodes a PNG held entirely in memory.
func DecodeBytes(data []byte, flags Flags, alloc Allocator) (*Image, error) {
	img, err := Decode(NewReaderInput(bytes.NewReader(data)), flags, alloc)
	if err != nil {
		return nil, errors.Wrap(err, "png: DecodeBytes")
	}
	return img, nil
}

// ProbeSize reads only as much of r as needed to learn an image's
// dimensions and alpha presence, without decompressing or allocating a
// pixel buffer. It is FlagInfoOnly promoted to its own entry point,
// the way image.DecodeConfig sits next to image.Decode.
func ProbeSize(r io.Reader) (width, height uint32, hasAlpha bool, err error) {
	img, err := Decode(NewReaderInput(r), FlagInfoOnly, nil)
	if err != nil {
		return 0, 0, false, err
	}
	return img.Width, img.Height, img.HasAlpha, nil
}
