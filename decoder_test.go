package png

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/binary"
	"testing"
)

// --- fixture builders -------------------------------------------------
//
// This module carries no PNG writer (spec.md lists encoding as a
// non-goal), so every fixture below is assembled by hand, chunk by
// chunk, the way the teacher's own png_test.go reads a literal fixture
// file rather than generating one through library code. Compressed
// IDAT payloads are produced with the standard library's zlib/flate
// writers, used purely as test-only oracles.

func beUint32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func chunk(typ string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Write(beUint32(uint32(len(payload))))
	buf.WriteString(typ)
	buf.Write(payload)
	buf.Write([]byte{0, 0, 0, 0}) // CRC, discarded unverified per spec.md non-goals
	return buf.Bytes()
}

func ihdrChunk(w, h uint32, bitDepth, colorType, interlace byte) []byte {
	payload := make([]byte, 13)
	binary.BigEndian.PutUint32(payload[0:4], w)
	binary.BigEndian.PutUint32(payload[4:8], h)
	payload[8] = bitDepth
	payload[9] = colorType
	payload[10] = 0
	payload[11] = 0
	payload[12] = interlace
	return chunk("IHDR", payload)
}

func zlibCompress(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		t.Fatalf("zlib.Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib.Close: %v", err)
	}
	return buf.Bytes()
}

func rawDeflate(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	if _, err := w.Write(p); err != nil {
		t.Fatalf("flate.Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("flate.Close: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(chunks ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write(pngSignature[:])
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

func idatChunk(t *testing.T, raw []byte) []byte {
	return chunk("IDAT", zlibCompress(t, raw))
}

// --- spec.md section 8 literal scenarios ------------------------------

func TestSmallestValidPNG(t *testing.T) {
	data := pngBytes(
		ihdrChunk(1, 1, 8, colorTrueColor, 0),
		idatChunk(t, []byte{0, 0xFF, 0x00, 0x00}),
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, 0, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if img.Width != 1 || img.Height != 1 {
		t.Fatalf("dims = %dx%d, want 1x1", img.Width, img.Height)
	}
	if img.HasAlpha {
		t.Fatalf("HasAlpha = true, want false")
	}
	if img.Stride < 4 {
		t.Fatalf("Stride = %d, want >= 4", img.Stride)
	}
	want := []byte{0xFF, 0x00, 0x00, 0xFF}
	if !bytes.Equal(img.Pix[:4], want) {
		t.Fatalf("pixel = % x, want % x", img.Pix[:4], want)
	}
}

func TestGrayscaleWithTRNSKey(t *testing.T) {
	data := pngBytes(
		ihdrChunk(2, 1, 8, colorGrayscale, 0),
		chunk("tRNS", []byte{0x00, 0x80}),
		idatChunk(t, []byte{0, 128, 192}),
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, 0, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	want := []byte{0x80, 0x80, 0x80, 0x00, 0xC0, 0xC0, 0xC0, 0xFF}
	if !bytes.Equal(img.Pix[:8], want) {
		t.Fatalf("pixels = % x, want % x", img.Pix[:8], want)
	}
	if !img.HasAlpha {
		t.Fatalf("HasAlpha = false, want true")
	}
}

func TestPalette4Bit(t *testing.T) {
	plte := []byte{
		0xFF, 0x00, 0x00,
		0x00, 0xFF, 0x00,
		0x00, 0x00, 0xFF,
		0xFF, 0xFF, 0xFF,
	}
	data := pngBytes(
		ihdrChunk(4, 1, 4, colorPalette, 0),
		chunk("PLTE", plte),
		idatChunk(t, []byte{0, 0x01, 0x23}),
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, 0, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	want := []byte{
		0xFF, 0x00, 0x00, 0xFF,
		0x00, 0xFF, 0x00, 0xFF,
		0x00, 0x00, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0xFF,
	}
	if !bytes.Equal(img.Pix[:16], want) {
		t.Fatalf("pixels = % x, want % x", img.Pix[:16], want)
	}
}

func TestPaletteWithoutPLTEIsInvalid(t *testing.T) {
	data := pngBytes(
		ihdrChunk(4, 1, 4, colorPalette, 0),
		idatChunk(t, []byte{0, 0x01, 0x23}),
		chunk("IEND", nil),
	)
	_, err := DecodeBytes(data, 0, nil)
	if err == nil {
		t.Fatal("DecodeBytes: expected an error for a palette image with no PLTE chunk")
	}
	if KindOf(err) != Invalid {
		t.Fatalf("KindOf = %v, want Invalid", KindOf(err))
	}
}

// TestPaletteIndexBeyondPLTEDoesNotPanic exercises the case the review
// flagged: an 8-bit palette image whose PLTE supplies only one entry,
// decoding a row containing a far larger index. The fixed 256-entry
// palette buffer means this resolves to transparent black rather than
// slicing out of range.
func TestPaletteIndexBeyondPLTEDoesNotPanic(t *testing.T) {
	plte := []byte{0x10, 0x20, 0x30}
	data := pngBytes(
		ihdrChunk(2, 1, 8, colorPalette, 0),
		chunk("PLTE", plte),
		idatChunk(t, []byte{0, 0, 200}),
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, 0, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	want := []byte{
		0x10, 0x20, 0x30, 0xFF,
		0, 0, 0, 0,
	}
	if !bytes.Equal(img.Pix[:8], want) {
		t.Fatalf("pixels = % x, want % x", img.Pix[:8], want)
	}
}

func TestMultiIDATResumption(t *testing.T) {
	raw := []byte{0, 0xFF, 0x00, 0x00}
	compressed := zlibCompress(t, raw)

	single := pngBytes(
		ihdrChunk(1, 1, 8, colorTrueColor, 0),
		chunk("IDAT", compressed),
		chunk("IEND", nil),
	)
	split := len(compressed) / 2
	if split == 0 {
		split = 1
	}
	multi := pngBytes(
		ihdrChunk(1, 1, 8, colorTrueColor, 0),
		chunk("IDAT", compressed[:split]),
		chunk("IDAT", compressed[split:]),
		chunk("IEND", nil),
	)

	want, err := DecodeBytes(single, 0, nil)
	if err != nil {
		t.Fatalf("single-chunk DecodeBytes: %v", err)
	}
	got, err := DecodeBytes(multi, 0, nil)
	if err != nil {
		t.Fatalf("multi-chunk DecodeBytes: %v", err)
	}
	if !bytes.Equal(want.Pix, got.Pix) {
		t.Fatalf("multi-IDAT output diverged from single-IDAT output")
	}
}

func TestInfoOnlyStopsAtFirstTRNS(t *testing.T) {
	// A FlagInfoOnly decode of a grayscale+tRNS image must return
	// width/height/HasAlpha without ever touching an IDAT; feed it a
	// deliberately truncated, undecodeable IDAT to prove it is never
	// read.
	data := pngBytes(
		ihdrChunk(2, 1, 8, colorGrayscale, 0),
		chunk("tRNS", []byte{0x00, 0x80}),
		chunk("IDAT", []byte{0xFF, 0xFF, 0xFF}), // garbage, must not be parsed
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, FlagInfoOnly, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if img.Width != 2 || img.Height != 1 || !img.HasAlpha {
		t.Fatalf("img = %+v, want width=2 height=1 HasAlpha=true", img)
	}
	if img.Pix != nil {
		t.Fatalf("Pix = %v, want nil for an info-only decode", img.Pix)
	}
}

func TestInfoOnlyStopsAtIHDRWhenAlreadyOpaqueAlpha(t *testing.T) {
	// RGBA (color_type 6) already carries alpha at IHDR; info-only must
	// stop there without requiring a tRNS or IDAT chunk at all.
	data := pngBytes(ihdrChunk(3, 3, 8, colorTrueColorAlpha, 0))
	img, err := DecodeBytes(data, FlagInfoOnly, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if img.Width != 3 || img.Height != 3 || !img.HasAlpha {
		t.Fatalf("img = %+v, want width=3 height=3 HasAlpha=true", img)
	}
}

// --- Apple CgBI --------------------------------------------------------

func TestCgBIRoundTrip(t *testing.T) {
	// Source pixels, already B,G,R,A premultiplied per the CgBI
	// extension: a half-alpha blue pixel and an opaque red pixel.
	srcBGRA := []byte{
		128, 0, 0, 128, // B,G,R,A: half-alpha blue, premultiplied
		0, 0, 255, 255, // B,G,R,A: opaque red
	}
	raw := append([]byte{0}, srcBGRA...) // filter=None
	data := pngBytes(
		chunk("CgBI", []byte{0x10, 0, 0, 0}),
		ihdrChunk(2, 1, 8, colorTrueColorAlpha, 0),
		chunk("IDAT", rawDeflate(t, raw)),
		chunk("IEND", nil),
	)

	bgraPremul, err := DecodeBytes(data, FlagBGRA|FlagPremultiplied, nil)
	if err != nil {
		t.Fatalf("DecodeBytes BGRA|PREMULTIPLIED: %v", err)
	}
	if !bytes.Equal(bgraPremul.Pix[:8], srcBGRA) {
		t.Fatalf("BGRA|PREMULTIPLIED pixels = % x, want source bytes % x", bgraPremul.Pix[:8], srcBGRA)
	}

	rgbaStraight, err := DecodeBytes(data, 0, nil)
	if err != nil {
		t.Fatalf("DecodeBytes default flags: %v", err)
	}
	// Pixel 0: R=0,G=0,B unpremultiplied from 128/128 alpha -> 255, A=128.
	if !bytes.Equal(rgbaStraight.Pix[:4], []byte{0, 0, 255, 128}) {
		t.Fatalf("pixel0 RGBA straight = % x, want 00 00 ff 80", rgbaStraight.Pix[:4])
	}
	// Pixel 1: opaque red, swap+unpremultiply is a no-op at full alpha.
	if !bytes.Equal(rgbaStraight.Pix[4:8], []byte{255, 0, 0, 255}) {
		t.Fatalf("pixel1 RGBA straight = % x, want ff 00 00 ff", rgbaStraight.Pix[4:8])
	}
}

// --- Adam7 interlacing ---------------------------------------------------

// buildGradientPNG encodes an 8x8 RGBA8 gradient, either as a single
// non-interlaced pass or scattered across the seven Adam7 passes, and
// returns a complete PNG byte stream.
func buildGradientPNG(t *testing.T, interlaced bool) []byte {
	t.Helper()
	const w, h = 8, 8
	pixAt := func(x, y int) [4]byte {
		return [4]byte{byte(x * 30), byte(y * 30), byte((x + y) * 15), 255}
	}

	var raw bytes.Buffer
	if !interlaced {
		for y := 0; y < h; y++ {
			raw.WriteByte(0) // filter None
			for x := 0; x < w; x++ {
				p := pixAt(x, y)
				raw.Write(p[:])
			}
		}
	} else {
		for p := 1; p <= 7; p++ {
			pw, ph := passGeometry(p, w, h)
			if pw == 0 || ph == 0 {
				continue
			}
			geo := adam7Passes[p-1]
			for j := 0; j < ph; j++ {
				y := geo.yStart + j*geo.dy
				raw.WriteByte(0)
				for i := 0; i < pw; i++ {
					x := geo.xStart + i*geo.dx
					px := pixAt(x, y)
					raw.Write(px[:])
				}
			}
		}
	}

	interlaceMethod := byte(0)
	if interlaced {
		interlaceMethod = 1
	}
	return pngBytes(
		ihdrChunk(w, h, 8, colorTrueColorAlpha, interlaceMethod),
		idatChunk(t, raw.Bytes()),
		chunk("IEND", nil),
	)
}

func TestAdam7PassColumnsForWidth8(t *testing.T) {
	// spec.md section 8 scenario 4: for an 8-wide image, the columns
	// each pass writes are fixed sets independent of image content.
	want := [7][]int{
		{0},
		{4},
		{0, 4},
		{2, 6},
		{0, 2, 4, 6},
		{1, 3, 5, 7},
		{0, 1, 2, 3, 4, 5, 6, 7},
	}
	for p := 1; p <= 7; p++ {
		w, _ := passGeometry(p, 8, 8)
		geo := adam7Passes[p-1]
		var cols []int
		for i := 0; i < w; i++ {
			cols = append(cols, geo.xStart+i*geo.dx)
		}
		if len(cols) != len(want[p-1]) {
			t.Fatalf("pass %d columns = %v, want %v", p, cols, want[p-1])
		}
		for i, c := range cols {
			if c != want[p-1][i] {
				t.Fatalf("pass %d columns = %v, want %v", p, cols, want[p-1])
			}
		}
	}
}

func TestAdam7MatchesNonInterlaced(t *testing.T) {
	plain, err := DecodeBytes(buildGradientPNG(t, false), 0, nil)
	if err != nil {
		t.Fatalf("non-interlaced DecodeBytes: %v", err)
	}
	interlaced, err := DecodeBytes(buildGradientPNG(t, true), 0, nil)
	if err != nil {
		t.Fatalf("interlaced DecodeBytes: %v", err)
	}
	if !bytes.Equal(plain.Pix, interlaced.Pix) {
		t.Fatalf("interlaced output diverged from non-interlaced output")
	}
}

// --- structural failure modes --------------------------------------------

func TestInvalidSignature(t *testing.T) {
	_, err := DecodeBytes([]byte("not a png file at all......"), 0, nil)
	if KindOf(err) != Invalid {
		t.Fatalf("KindOf = %v, want Invalid", KindOf(err))
	}
}

func TestChunkBeforeIHDR(t *testing.T) {
	data := pngBytes(chunk("IDAT", nil), ihdrChunk(1, 1, 8, colorTrueColor, 0))
	_, err := DecodeBytes(data, 0, nil)
	if KindOf(err) != Invalid {
		t.Fatalf("KindOf = %v, want Invalid", KindOf(err))
	}
}

func TestDisallowedColorDepthCombination(t *testing.T) {
	data := pngBytes(ihdrChunk(1, 1, 3, colorTrueColor, 0)) // depth 3 invalid for RGB
	_, err := DecodeBytes(data, 0, nil)
	if KindOf(err) != Invalid {
		t.Fatalf("KindOf = %v, want Invalid", KindOf(err))
	}
}

func TestMissingIDATIsInvalid(t *testing.T) {
	data := pngBytes(ihdrChunk(1, 1, 8, colorTrueColor, 0), chunk("IEND", nil))
	_, err := DecodeBytes(data, 0, nil)
	if KindOf(err) != Invalid {
		t.Fatalf("KindOf = %v, want Invalid", KindOf(err))
	}
}

func TestCorruptDeflateStreamIsInflaterKind(t *testing.T) {
	data := pngBytes(
		ihdrChunk(1, 1, 8, colorTrueColor, 0),
		chunk("IDAT", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}),
		chunk("IEND", nil),
	)
	_, err := DecodeBytes(data, 0, nil)
	if KindOf(err) != Inflater {
		t.Fatalf("KindOf = %v, want Inflater", KindOf(err))
	}
}

// --- allocator and flag surface ------------------------------------------

type paddedStrideAllocator struct {
	pad int
}

func (paddedStrideAllocator) Alloc(size int) []byte { return make([]byte, size) }

func (a paddedStrideAllocator) ImageAlloc(width, height uint32, bpp int) ([]byte, int) {
	stride := int(width)*bpp + a.pad
	return make([]byte, stride*int(height)), stride
}

func TestImageAllocCallerChosenStride(t *testing.T) {
	data := pngBytes(
		ihdrChunk(2, 2, 8, colorTrueColor, 0),
		idatChunk(t, []byte{
			0, 10, 20, 30, 40, 50, 60,
			0, 70, 80, 90, 100, 110, 120,
		}),
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, 0, paddedStrideAllocator{pad: 8})
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if img.Stride != 2*4+8 {
		t.Fatalf("Stride = %d, want %d", img.Stride, 2*4+8)
	}
	row0 := img.Pix[0:8]
	row1 := img.Pix[img.Stride : img.Stride+8]
	if !bytes.Equal(row0, []byte{10, 20, 30, 255, 40, 50, 60, 255}) {
		t.Fatalf("row0 = % x", row0)
	}
	if !bytes.Equal(row1, []byte{70, 80, 90, 255, 100, 110, 120, 255}) {
		t.Fatalf("row1 = % x", row1)
	}
}

func TestFlipY(t *testing.T) {
	data := pngBytes(
		ihdrChunk(1, 2, 8, colorTrueColor, 0),
		idatChunk(t, []byte{
			0, 255, 0, 0,
			0, 0, 255, 0,
		}),
		chunk("IEND", nil),
	)
	img, err := DecodeBytes(data, FlagFlipY, nil)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	// Source row 0 (red) lands last; source row 1 (green) lands first.
	if !bytes.Equal(img.Pix[0:4], []byte{0, 255, 0, 255}) {
		t.Fatalf("row0 = % x, want green", img.Pix[0:4])
	}
	if !bytes.Equal(img.Pix[4:8], []byte{255, 0, 0, 255}) {
		t.Fatalf("row1 = % x, want red", img.Pix[4:8])
	}
}

func TestProbeSize(t *testing.T) {
	// colorTrueColor carries no alpha at IHDR, so info-only must keep
	// reading until the first tRNS or IDAT; supply an (unread) IDAT so
	// the decode has somewhere to stop.
	data := pngBytes(ihdrChunk(16, 9, 8, colorTrueColor, 0), chunk("IDAT", nil))
	w, h, hasAlpha, err := ProbeSize(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ProbeSize: %v", err)
	}
	if w != 16 || h != 9 || hasAlpha {
		t.Fatalf("ProbeSize = (%d,%d,%v), want (16,9,false)", w, h, hasAlpha)
	}
}

func TestNilInputIsAPIFailure(t *testing.T) {
	_, err := Decode(nil, 0, nil)
	if KindOf(err) != API {
		t.Fatalf("KindOf = %v, want API", KindOf(err))
	}
}
