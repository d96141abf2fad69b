// Package pattern provides synthetic bitplane generators for bench testing
// the display pipeline without a calendar server. Generators implement
// PixelSource so arbitrary patterns can be swapped in without touching the
// streaming core.
package pattern

import (
	"io"

	"epdframe/internal/panel"
)

// PixelSource supplies the wire byte for each position of a channel plane.
type PixelSource interface {
	ColorAt(index int) byte
}

// Func adapts a plain function to PixelSource.
type Func func(index int) byte

func (f Func) ColorAt(index int) byte { return f(index) }

// bytesPerRow is the plane stride: two pixels per byte.
const bytesPerRow = panel.DisplayWidth / 2

// BWBands returns a black/white plane of horizontal bands cycling through
// black, white and red-prepare, each rowsPerBand rows tall. Rows marked
// red-prepare line up with RedBands below.
func BWBands(rowsPerBand int) PixelSource {
	if rowsPerBand <= 0 {
		rowsPerBand = 32
	}
	cycle := [...]byte{panel.PixelBlack, panel.PixelWhite, panel.PixelRedPrep}
	return Func(func(index int) byte {
		row := index / bytesPerRow
		return cycle[(row/rowsPerBand)%len(cycle)]
	})
}

// RedBands returns the red plane matching BWBands: red enabled exactly on
// the red-prepare bands, untouched elsewhere.
func RedBands(rowsPerBand int) PixelSource {
	if rowsPerBand <= 0 {
		rowsPerBand = 32
	}
	return Func(func(index int) byte {
		row := index / bytesPerRow
		if (row/rowsPerBand)%3 == 2 {
			return panel.PixelRed
		}
		return panel.PixelNoRed
	})
}

// Checkerboard returns a black/white plane of cells pixels per square.
// Cells are measured in byte columns, so one cell covers 2*cells pixels
// horizontally.
func Checkerboard(cells int) PixelSource {
	if cells <= 0 {
		cells = 16
	}
	return Func(func(index int) byte {
		row := index / bytesPerRow
		col := index % bytesPerRow
		if (row/cells+col/cells)%2 == 0 {
			return panel.PixelBlack
		}
		return panel.PixelWhite
	})
}

// Reader exposes the first n bytes of a PixelSource as an io.Reader, so a
// generated plane can be fed through the stream decoder exactly like an HTTP
// body.
func Reader(src PixelSource, n int) io.Reader {
	return &reader{src: src, n: n}
}

type reader struct {
	src PixelSource
	pos int
	n   int
}

func (r *reader) Read(p []byte) (int, error) {
	if r.pos >= r.n {
		return 0, io.EOF
	}
	k := 0
	for k < len(p) && r.pos < r.n {
		p[k] = r.src.ColorAt(r.pos)
		k++
		r.pos++
	}
	return k, nil
}
