package png

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// pngSignature is the 8 magic bytes every PNG stream begins with
// (RFC 2083 section 12.12).
var pngSignature = [8]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Chunk type tags this decoder recognizes. Anything else is skipped
// by length, per spec.md section 4.G.
const (
	chunkIHDR = "IHDR"
	chunkPLTE = "PLTE"
	chunkIDAT = "IDAT"
	chunkIEND = "IEND"
	chunkTRNS = "tRNS"
	chunkCgBI = "CgBI"
)

// chunkHeader is the 8 bytes preceding a chunk's payload: a
// big-endian length followed by its 4-byte ASCII type tag.
type chunkHeader struct {
	length uint32
	typ    string
}

// readFull reads exactly len(buf) bytes from in, reporting an IO
// failure on any short read — spec.md section 6 requires read to
// return fewer bytes than requested only at end of input, and this
// decoder treats that as fatal rather than a valid "empty chunk".
func readFull(in Input, buf []byte) error {
	n, err := in.Read(buf)
	if err != nil {
		return fail(IO, err)
	}
	if n != len(buf) {
		return fail(IO, ErrShortRead)
	}
	return nil
}

// ErrShortRead is the sentinel readFull raises when Input.Read
// returns fewer bytes than requested.
var ErrShortRead = errShortRead{}

type errShortRead struct{}

func (errShortRead) Error() string { return "png: short read" }

func readChunkHeader(in Input) (chunkHeader, error) {
	var lenBuf, typBuf [4]byte
	if err := readFull(in, lenBuf[:]); err != nil {
		return chunkHeader{}, err
	}
	if err := readFull(in, typBuf[:]); err != nil {
		return chunkHeader{}, err
	}
	return chunkHeader{
		length: binary.BigEndian.Uint32(lenBuf[:]),
		typ:    string(typBuf[:]),
	}, nil
}

// discardCRC reads and discards a chunk's trailing 4-byte CRC-32.
// spec.md's Non-goals explicitly exclude CRC verification.
func discardCRC(in Input) error {
	var crc [4]byte
	return readFull(in, crc[:])
}

// skipPayload discards length bytes of an uninteresting or
// already-consumed chunk payload via Input.Seek.
func skipPayload(in Input, length uint32) error {
	if length == 0 {
		return nil
	}
	if !in.Seek(int64(length)) {
		return fail(IO, errors.New("png: seek failed while skipping chunk payload"))
	}
	return nil
}
