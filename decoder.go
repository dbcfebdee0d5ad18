package png

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/kelvinstatic/pngflate/internal/filter"
	"github.com/kelvinstatic/pngflate/internal/inflate"
	"github.com/kelvinstatic/pngflate/internal/pixel"
)

// passState is one decoding pass over the image: for a non-interlaced
// image there is exactly one, covering the whole image 1:1; for an
// Adam7 image there are up to seven, one per adam7Passes entry with a
// zero width or height dropped.
type passState struct {
	xStart, yStart, dx, dy int
	width, height          int
}

// decoder drives one PNG decode: the chunk state machine (this file
// and chunk.go), the embedded inflater (internal/inflate), the
// scanline filter (internal/filter), and the pixel transform
// (internal/pixel).
type decoder struct {
	in    Input
	flags Flags
	alloc Allocator

	infoOnly bool

	hdr      ihdrHeader
	sawIHDR  bool
	sawPLTE  bool
	sawIDAT  bool
	cgbi     bool
	hasAlpha bool

	palette    []byte // fixed 256*4 entries (RGBA or BGRA), zero-filled past paletteLen
	paletteLen int    // number of entries actually supplied by PLTE
	key        pixel.Key

	img *decodeImage

	infl *inflate.Inflater

	passes            []passState
	passIdx           int
	passY             int
	curPixelBytes     int
	rowBuf            []byte
	prevRow           []byte
	rowFill           int
	tempRow           []byte
	decodingCompleted bool
}

// decodeImage is the in-progress pixel buffer; Image is its public,
// read-only projection returned from Decode.
type decodeImage struct {
	Width, Height uint32
	Stride        int
	Pix           []byte
}

func newDecoder(in Input, flags Flags, alloc Allocator) *decoder {
	return &decoder{in: in, flags: flags, alloc: alloc, infoOnly: flags&FlagInfoOnly != 0}
}

func (d *decoder) run() (*Image, error) {
	var sig [8]byte
	if err := readFull(d.in, sig[:]); err != nil {
		return nil, err
	}
	if sig != pngSignature {
		return nil, fail(Invalid, ErrInvalidSignature)
	}

	for {
		hdr, err := readChunkHeader(d.in)
		if err != nil {
			return nil, err
		}
		stop, err := d.dispatch(hdr)
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}

	if !d.sawIHDR {
		return nil, fail(Invalid, ErrMissingIHDR)
	}
	if d.infoOnly {
		return &Image{Width: d.hdr.Width, Height: d.hdr.Height, HasAlpha: d.hasAlpha}, nil
	}
	return &Image{
		Width:         d.img.Width,
		Height:        d.img.Height,
		Stride:        d.img.Stride,
		HasAlpha:      d.hasAlpha,
		BGRA:          d.flags&FlagBGRA != 0,
		Premultiplied: d.flags&FlagPremultiplied != 0,
		Pix:           d.img.Pix,
	}, nil
}

func (d *decoder) dispatch(hdr chunkHeader) (stop bool, err error) {
	if hdr.typ == chunkCgBI {
		return d.handleCgBI(hdr)
	}
	if hdr.typ != chunkIHDR && !d.sawIHDR {
		return false, fail(Invalid, ErrIHDRFirstRequired)
	}
	switch hdr.typ {
	case chunkIHDR:
		return d.handleIHDR(hdr)
	case chunkPLTE:
		return d.handlePLTE(hdr)
	case chunkTRNS:
		return d.handleTRNS(hdr)
	case chunkIDAT:
		return d.handleIDAT(hdr)
	case chunkIEND:
		return d.handleIEND(hdr)
	default:
		if err := skipPayload(d.in, hdr.length); err != nil {
			return false, err
		}
		return false, discardCRC(d.in)
	}
}

func (d *decoder) handleCgBI(hdr chunkHeader) (bool, error) {
	if d.sawIHDR {
		return false, fail(Invalid, ErrIHDRFirstRequired)
	}
	if err := skipPayload(d.in, hdr.length); err != nil {
		return false, err
	}
	if err := discardCRC(d.in); err != nil {
		return false, err
	}
	d.cgbi = true
	return false, nil
}

func (d *decoder) handleIHDR(hdr chunkHeader) (bool, error) {
	if d.sawIHDR {
		return false, fail(Invalid, ErrDuplicateIHDR)
	}
	if hdr.length != 13 {
		return false, fail(Invalid, ErrInvalidIHDRLength)
	}
	var buf [13]byte
	if err := readFull(d.in, buf[:]); err != nil {
		return false, err
	}
	if err := discardCRC(d.in); err != nil {
		return false, err
	}

	d.hdr = ihdrHeader{
		Width:           binary.BigEndian.Uint32(buf[0:4]),
		Height:          binary.BigEndian.Uint32(buf[4:8]),
		BitDepth:        buf[8],
		ColorType:       buf[9],
		Compression:     buf[10],
		FilterMethod:    buf[11],
		InterlaceMethod: buf[12],
	}
	if d.hdr.Width == 0 || d.hdr.Height == 0 {
		return false, fail(Invalid, errors.New("png: zero width or height"))
	}
	if !validColorTypeDepth(d.hdr.ColorType, d.hdr.BitDepth) {
		return false, fail(Invalid, ErrInvalidColorDepth)
	}
	if d.hdr.Compression != 0 {
		return false, fail(Invalid, ErrInvalidCompression)
	}
	if d.hdr.FilterMethod != 0 {
		return false, fail(Invalid, ErrInvalidFilterMethod)
	}
	if d.hdr.InterlaceMethod > 1 {
		return false, fail(Invalid, ErrInvalidInterlace)
	}
	d.sawIHDR = true
	d.hasAlpha = d.hdr.ColorType == colorGrayscaleAlpha || d.hdr.ColorType == colorTrueColorAlpha

	if !d.infoOnly {
		if err := d.allocateImage(); err != nil {
			return false, err
		}
	}
	return d.infoOnly && d.hasAlpha, nil
}

func (d *decoder) allocateImage() error {
	const bpp = 4
	rowBits := uint64(d.hdr.Width) * bpp
	if rowBits > math.MaxUint32 {
		return fail(Unsupported, ErrDimensionOverflow)
	}
	stride := int(rowBits)

	var buf []byte
	if ia, ok := d.alloc.(ImageAllocator); ok {
		b, s := ia.ImageAlloc(d.hdr.Width, d.hdr.Height, bpp)
		if s < stride {
			return fail(API, ErrStrideTooSmall)
		}
		stride, buf = s, b
	}

	total := uint64(stride) * uint64(d.hdr.Height)
	if total > uint64(math.MaxInt) {
		return fail(Allocation, ErrBufferOverflow)
	}
	if buf == nil {
		buf = d.alloc.Alloc(int(total))
	}
	if uint64(len(buf)) < total {
		return fail(Allocation, errors.New("png: allocator returned an undersized buffer"))
	}

	d.img = &decodeImage{Width: d.hdr.Width, Height: d.hdr.Height, Stride: stride, Pix: buf[:total]}
	return nil
}

func (d *decoder) handlePLTE(hdr chunkHeader) (bool, error) {
	if d.sawIDAT {
		return false, fail(Invalid, ErrPLTEAfterIDAT)
	}
	if d.hdr.ColorType == colorGrayscale || d.hdr.ColorType == colorGrayscaleAlpha {
		return false, fail(Invalid, ErrPLTENotAllowed)
	}
	if hdr.length == 0 || hdr.length%3 != 0 || hdr.length > 768 {
		return false, fail(Invalid, ErrInvalidPLTELength)
	}
	raw := make([]byte, hdr.length)
	if err := readFull(d.in, raw); err != nil {
		return false, err
	}
	if err := discardCRC(d.in); err != nil {
		return false, err
	}

	n := len(raw) / 3
	// Fixed 256-entry, zero-filled palette, matching libpng's own
	// allocation: an index past the entries PLTE actually supplied
	// lands on fully-transparent black rather than slicing out of
	// range, so no bit depth's sample range can ever go out of bounds.
	pal := make([]byte, 256*4)
	swap := d.cgbi != (d.flags&FlagBGRA != 0)
	for i := 0; i < n; i++ {
		r, g, b := raw[i*3], raw[i*3+1], raw[i*3+2]
		if swap {
			pal[i*4], pal[i*4+1], pal[i*4+2] = b, g, r
		} else {
			pal[i*4], pal[i*4+1], pal[i*4+2] = r, g, b
		}
		pal[i*4+3] = 0xFF
	}
	d.palette = pal
	d.paletteLen = n
	d.sawPLTE = true
	return false, nil
}

func (d *decoder) handleTRNS(hdr chunkHeader) (bool, error) {
	if d.sawIDAT {
		return false, fail(Invalid, ErrTRNSAfterIDAT)
	}
	switch d.hdr.ColorType {
	case colorPalette:
		if !d.sawPLTE {
			return false, fail(Invalid, ErrTRNSWithoutPLTE)
		}
		if int(hdr.length) > d.paletteLen {
			return false, fail(Invalid, ErrInvalidTRNSLength)
		}
		raw := make([]byte, hdr.length)
		if err := readFull(d.in, raw); err != nil {
			return false, err
		}
		if err := discardCRC(d.in); err != nil {
			return false, err
		}
		premult := d.flags&FlagPremultiplied != 0
		for i, a := range raw {
			d.palette[i*4+3] = a
			if premult {
				d.palette[i*4] = premultiplyByte(d.palette[i*4], a)
				d.palette[i*4+1] = premultiplyByte(d.palette[i*4+1], a)
				d.palette[i*4+2] = premultiplyByte(d.palette[i*4+2], a)
			}
		}
	case colorGrayscale:
		if hdr.length != 2 {
			return false, fail(Invalid, ErrInvalidTRNSLength)
		}
		var buf [2]byte
		if err := readFull(d.in, buf[:]); err != nil {
			return false, err
		}
		if err := discardCRC(d.in); err != nil {
			return false, err
		}
		d.key = pixel.Key{Valid: true, Values: [3]uint16{binary.BigEndian.Uint16(buf[:]), 0, 0}}
	case colorTrueColor:
		if hdr.length != 6 {
			return false, fail(Invalid, ErrInvalidTRNSLength)
		}
		var buf [6]byte
		if err := readFull(d.in, buf[:]); err != nil {
			return false, err
		}
		if err := discardCRC(d.in); err != nil {
			return false, err
		}
		d.key = pixel.Key{Valid: true, Values: [3]uint16{
			binary.BigEndian.Uint16(buf[0:2]),
			binary.BigEndian.Uint16(buf[2:4]),
			binary.BigEndian.Uint16(buf[4:6]),
		}}
	default:
		return false, fail(Invalid, ErrTRNSNotAllowed)
	}
	d.hasAlpha = true
	return d.infoOnly, nil
}

func premultiplyByte(c, a byte) byte {
	switch a {
	case 0:
		return 0
	case 255:
		return c
	default:
		return byte((uint32(a)*uint32(c) + 127) / 255)
	}
}

func (d *decoder) handleIDAT(hdr chunkHeader) (bool, error) {
	if d.infoOnly {
		return true, nil
	}
	d.sawIDAT = true
	if d.infl == nil {
		if d.hdr.ColorType == colorPalette && !d.sawPLTE {
			return false, fail(Invalid, ErrPaletteRequiresPLTE)
		}
		d.initPipeline()
	}

	const slab = 64 * 1024
	remaining := int(hdr.length)
	for remaining > 0 {
		if d.decodingCompleted {
			// Every scanline is decoded: skip the rest of this payload.
			if err := skipPayload(d.in, uint32(remaining)); err != nil {
				return false, err
			}
			break
		}
		n := remaining
		if n > slab {
			n = slab
		}
		buf := make([]byte, n)
		if err := readFull(d.in, buf); err != nil {
			return false, err
		}
		if err := d.feedIDAT(buf); err != nil {
			return false, err
		}
		remaining -= n
	}
	return false, discardCRC(d.in)
}

func (d *decoder) handleIEND(hdr chunkHeader) (bool, error) {
	if hdr.length != 0 {
		return false, fail(Invalid, ErrInvalidIENDLength)
	}
	if err := discardCRC(d.in); err != nil {
		return false, err
	}
	if !d.infoOnly {
		if !d.sawIDAT {
			return false, fail(Invalid, ErrNoIDAT)
		}
		if !d.decodingCompleted {
			return false, fail(Invalid, errors.New("png: IDAT stream ended before all scanlines were decoded"))
		}
	}
	return true, nil
}

// initPipeline builds the Adam7 (or single-pass) geometry and
// constructs the inflater, lazily, on the first IDAT chunk: by then
// PLTE and tRNS, if present, have already been parsed.
func (d *decoder) initPipeline() {
	if d.hdr.InterlaceMethod == 1 {
		for p := 1; p <= 7; p++ {
			w, h := passGeometry(p, d.hdr.Width, d.hdr.Height)
			if w == 0 || h == 0 {
				continue
			}
			ap := adam7Passes[p-1]
			d.passes = append(d.passes, passState{xStart: ap.xStart, yStart: ap.yStart, dx: ap.dx, dy: ap.dy, width: w, height: h})
		}
	} else {
		d.passes = []passState{{0, 0, 1, 1, int(d.hdr.Width), int(d.hdr.Height)}}
	}

	if d.cgbi {
		d.infl = inflate.NewRaw()
	} else {
		d.infl = inflate.New()
	}
	d.tempRow = d.alloc.Alloc(int(d.hdr.Width) * 4)
	d.curPixelBytes = d.hdr.pixelBytes()
	d.passIdx = 0
	d.startPass()
}

func (d *decoder) startPass() {
	p := d.passes[d.passIdx]
	rowBytes := d.hdr.bytesPerRow(uint32(p.width))
	d.rowBuf = d.alloc.Alloc(1 + rowBytes)
	d.prevRow = d.alloc.Alloc(rowBytes)
	d.rowFill = 0
	d.passY = 0
}

// feedIDAT pushes one IDAT payload slab through the inflater,
// draining and scattering every scanline it completes along the way.
// Once decodingCompleted is set (the image's last scanline has been
// produced), further bytes — the PNG test suite's one off-spec case —
// are accepted and silently discarded.
func (d *decoder) feedIDAT(p []byte) error {
	if d.decodingCompleted {
		return nil
	}
	for len(p) > 0 && !d.decodingCompleted {
		n, err := d.infl.Write(p)
		if err != nil {
			return fail(Inflater, err)
		}
		if err := d.drainScanlines(); err != nil {
			return err
		}
		if n == 0 {
			break
		}
		p = p[n:]
	}
	return nil
}

func (d *decoder) drainScanlines() error {
	for !d.decodingCompleted {
		n := d.infl.Read(d.rowBuf[d.rowFill:])
		d.rowFill += n
		if d.rowFill < len(d.rowBuf) {
			if n == 0 {
				return nil
			}
			continue
		}
		if err := d.processRow(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) processRow() error {
	ftype := filter.Type(d.rowBuf[0])
	cur := d.rowBuf[1:]
	if err := filter.Reverse(ftype, cur, d.prevRow, d.curPixelBytes); err != nil {
		return fail(Invalid, err)
	}

	pass := d.passes[d.passIdx]
	opts := pixel.Options{
		ColorType:           pixel.ColorType(d.hdr.ColorType),
		BitDepth:            int(d.hdr.BitDepth),
		Palette:             d.palette,
		Key:                 d.key,
		Premultiplied:       d.flags&FlagPremultiplied != 0,
		BGRA:                d.flags&FlagBGRA != 0,
		SourceBGRA:          d.cgbi,
		// handleTRNS has already premultiplied the palette entries when
		// FlagPremultiplied is set.
		SourcePremultiplied: d.cgbi || (d.hdr.ColorType == colorPalette && d.flags&FlagPremultiplied != 0),
	}
	pixel.Row(d.tempRow, cur, pass.width, opts)

	imgY := pass.yStart + d.passY*pass.dy
	if d.flags&FlagFlipY != 0 {
		imgY = int(d.hdr.Height) - 1 - imgY
	}
	rowStart := imgY * d.img.Stride
	destRow := d.img.Pix[rowStart : rowStart+d.img.Stride]
	for i := 0; i < pass.width; i++ {
		col := pass.xStart + i*pass.dx
		copy(destRow[col*4:col*4+4], d.tempRow[i*4:i*4+4])
	}

	copy(d.prevRow, cur)
	d.rowFill = 0
	d.passY++
	if d.passY >= pass.height {
		d.passIdx++
		if d.passIdx >= len(d.passes) {
			d.decodingCompleted = true
			return nil
		}
		d.startPass()
	}
	return nil
}
