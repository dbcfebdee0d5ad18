package bitreader

import "testing"

func TestLoadAndPeek(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0xA5, 0x3C})
	if !r.Load(12) {
		t.Fatalf("Load(12) = false, want true")
	}
	if r.Bits() != 16 {
		t.Fatalf("Bits() = %d, want 16", r.Bits())
	}
	// LSB-first: low byte 0xA5 occupies bits 0..7.
	if got := r.Peek(8); got != 0xA5 {
		t.Fatalf("Peek(8) = %#x, want 0xa5", got)
	}
}

func TestReadConsumes(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0b10110010})
	r.Load(8)
	if v := r.Read(3); v != 0b010 {
		t.Fatalf("Read(3) = %#b, want 0b010", v)
	}
	if r.Bits() != 5 {
		t.Fatalf("Bits() after Read(3) = %d, want 5", r.Bits())
	}
	if v := r.Read(5); v != 0b10110 {
		t.Fatalf("Read(5) = %#b, want 0b10110", v)
	}
}

func TestLoadStopsAtInputExhaustion(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0x01})
	if r.Load(16) {
		t.Fatalf("Load(16) with one byte available = true, want false")
	}
	if r.Bits() != 8 {
		t.Fatalf("Bits() = %d, want 8", r.Bits())
	}
}

func TestCanRead(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0x01, 0x02, 0x03})
	if !r.CanRead(24) {
		t.Fatalf("CanRead(24) = false, want true")
	}
	if r.CanRead(25) {
		t.Fatalf("CanRead(25) = true, want false")
	}
}

func TestSkipToByteBoundary(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0xFF, 0x00})
	r.Load(16)
	r.Read(3)
	r.SkipToByteBoundary()
	if r.Bits() != 8 {
		t.Fatalf("Bits() after skip = %d, want 8", r.Bits())
	}
	if v := r.Read(8); v != 0x00 {
		t.Fatalf("Read(8) after skip = %#x, want 0", v)
	}
}

func TestReadAlignedByteFromBuffer(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0xAB})
	r.Load(8)
	b, ok := r.ReadAlignedByte()
	if !ok || b != 0xAB {
		t.Fatalf("ReadAlignedByte() = (%#x, %v), want (0xab, true)", b, ok)
	}
}

func TestReadAlignedByteFromSlice(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0xCD})
	b, ok := r.ReadAlignedByte()
	if !ok || b != 0xCD {
		t.Fatalf("ReadAlignedByte() = (%#x, %v), want (0xcd, true)", b, ok)
	}
	if _, ok := r.ReadAlignedByte(); ok {
		t.Fatalf("ReadAlignedByte() on exhausted input = true, want false")
	}
}

func TestBufferedBitsSurviveSetInput(t *testing.T) {
	var r Reader
	r.SetInput([]byte{0x0F})
	r.Load(4) // loads the whole byte: 8 bits
	r.Read(4) // leaves 4 bits buffered
	r.SetInput([]byte{0xFF})
	if r.Bits() != 4 {
		t.Fatalf("Bits() after SetInput = %d, want 4 (buffered bits must survive)", r.Bits())
	}
	r.Load(8)
	if r.Bits() != 12 {
		t.Fatalf("Bits() = %d, want 12", r.Bits())
	}
}
