package png

import "github.com/pkg/errors"

// Kind discriminates why a decode failed. The zero value, Success, is
// never attached to a returned error; it exists so a Kind can be
// reported for a successful decode without an extra boolean.
type Kind int

const (
	Success Kind = iota
	API
	Invalid
	Inflater
	Unsupported
	Allocation
	IO
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case API:
		return "api"
	case Invalid:
		return "invalid"
	case Inflater:
		return "inflater"
	case Unsupported:
		return "unsupported"
	case Allocation:
		return "allocation"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// kindError attaches a Kind to an underlying, already-contextualized
// error without discarding it: Unwrap exposes the original so
// errors.Is/errors.As against sentinels from internal/inflate,
// internal/filter, and this package's own sentinels still work.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// fail wraps err, which must be non-nil, with the given Kind. It is
// the one place every decode failure in this package passes through.
func fail(kind Kind, err error) error {
	return &kindError{kind: kind, err: err}
}

// KindOf reports the Kind a decode error was raised with: Success if
// err is nil, and Invalid if err was not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return Success
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Invalid
}

// Sentinel causes. The root package wraps these (and the sentinels
// exported by internal/inflate and internal/filter) with a Kind via
// fail before they leave Decode.
var (
	ErrInvalidSignature    = errors.New("png: invalid signature")
	ErrIHDRFirstRequired   = errors.New("png: IHDR must be the first chunk")
	ErrDuplicateIHDR       = errors.New("png: duplicate IHDR chunk")
	ErrInvalidIHDRLength   = errors.New("png: IHDR chunk length must be 13")
	ErrInvalidColorDepth   = errors.New("png: disallowed color_type/bit_depth combination")
	ErrInvalidCompression  = errors.New("png: unsupported compression method")
	ErrInvalidFilterMethod = errors.New("png: unsupported filter method")
	ErrInvalidInterlace    = errors.New("png: unsupported interlace method")
	ErrInvalidPLTELength   = errors.New("png: PLTE length must be a positive multiple of 3, <= 768")
	ErrPLTEAfterIDAT       = errors.New("png: PLTE must precede IDAT")
	ErrPLTENotAllowed      = errors.New("png: PLTE is not allowed for this color type")
	ErrTRNSAfterIDAT       = errors.New("png: tRNS must precede IDAT")
	ErrTRNSNotAllowed      = errors.New("png: tRNS is not allowed for this color type")
	ErrInvalidTRNSLength   = errors.New("png: invalid tRNS payload length")
	ErrTRNSWithoutPLTE     = errors.New("png: tRNS for palette image requires a preceding PLTE")
	ErrPaletteRequiresPLTE = errors.New("png: palette color type requires a preceding PLTE chunk")
	ErrNoIDAT              = errors.New("png: no IDAT chunks present")
	ErrInvalidIENDLength   = errors.New("png: IEND payload must be empty")
	ErrMissingIHDR         = errors.New("png: stream ended before IHDR")
	ErrNilInput            = errors.New("png: nil Input")
	ErrStrideTooSmall      = errors.New("png: caller-supplied stride smaller than width*bpp")
	ErrDimensionOverflow   = errors.New("png: width*bpp overflows a 32-bit stride")
	ErrBufferOverflow      = errors.New("png: stride*height overflows the platform size type")
)
