package png

// adam7Pass describes one of the seven interlacing passes: it starts
// scanning at (xStart, yStart) and advances by (dx, dy) in each
// direction, per RFC 2083 section 8.2.
type adam7Pass struct {
	xStart, yStart, dx, dy int
}

// adam7Passes is the 7-pass grid, 1-indexed in spec.md's table but
// stored 0-indexed here (pass p in the spec is adam7Passes[p-1]).
var adam7Passes = [7]adam7Pass{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

// ceilDiv computes ceil(a/b) for non-negative a and positive b.
func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// passGeometry returns the pixel width and height of pass p (1..7)
// against a full image of size w*h: width_p = ceil((w-xStart)/dx),
// height_p = ceil((h-yStart)/dy), zero if the numerator is negative.
func passGeometry(p int, w, h uint32) (width, height int) {
	pass := adam7Passes[p-1]
	width = ceilDiv(int(w)-pass.xStart, pass.dx)
	height = ceilDiv(int(h)-pass.yStart, pass.dy)
	return
}
