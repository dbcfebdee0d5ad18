// Package filter reverses the PNG scanline filter predictors (RFC 2083
// section 6): None, Sub, Up, Average, and Paeth. Each filter is undone
// in place against the previous (already-reconstructed) scanline.
package filter

import "github.com/pkg/errors"

// Type identifies a scanline's filter selector, the first byte of
// every row in the decompressed IDAT stream.
type Type byte

const (
	None    Type = 0
	Sub     Type = 1
	Up      Type = 2
	Average Type = 3
	Paeth   Type = 4
)

// ErrInvalidFilterType is raised for any selector byte outside 0..4.
var ErrInvalidFilterType = errors.New("filter: invalid filter type")

// Reverse undoes the filter identified by ftype against cur in place,
// using prev (the previously reconstructed scanline, or an
// all-zero row at the top of an image or interlace pass) and bpp, the
// number of bytes per complete pixel (rounded up for sub-byte depths).
func Reverse(ftype Type, cur, prev []byte, bpp int) error {
	switch ftype {
	case None:
		return nil
	case Sub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case Up:
		for i := range cur {
			cur[i] += prev[i]
		}
	case Average:
		for i := 0; i < bpp && i < len(cur); i++ {
			cur[i] += prev[i] >> 1
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += byte((int(cur[i-bpp]) + int(prev[i])) / 2)
		}
	case Paeth:
		for i := 0; i < bpp && i < len(cur); i++ {
			cur[i] += prev[i]
		}
		for i := bpp; i < len(cur); i++ {
			cur[i] += paeth(cur[i-bpp], prev[i], prev[i-bpp])
		}
	default:
		return ErrInvalidFilterType
	}
	return nil
}

// paeth is the Paeth predictor from the PNG specification: it picks
// whichever of a (left), b (above), or c (above-left) is closest to
// p = a+b-c, breaking ties in favor of a, then b.
func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
