package core

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrShape reports that two grids (or a grid and a layer) disagree on N.
var ErrShape = errors.New("grid shape mismatch")

// Grid stores an (N+2)x(N+2) buffer in row-major order. The outermost ring of
// cells (col or row equal to 0 or N+1) is the ghost border; cells 1..N on both
// axes form the simulated interior.
type Grid[T any] struct {
	n     int
	cells []T
}

// Field is the scalar grid used for heights, sediment and sources.
type Field = Grid[float64]

// NewGrid allocates a grid with n interior cells per axis.
func NewGrid[T any](n int) *Grid[T] {
	if n <= 0 {
		n = 1
	}
	stride := n + 2
	return &Grid[T]{n: n, cells: make([]T, stride*stride)}
}

// NewField allocates a scalar grid with n interior cells per axis.
func NewField(n int) *Field { return NewGrid[float64](n) }

// N returns the number of interior cells per axis.
func (g *Grid[T]) N() int { return g.n }

// Stride returns the row length including both ghost cells.
func (g *Grid[T]) Stride() int { return g.n + 2 }

// Len returns the total number of cells including the ghost border.
func (g *Grid[T]) Len() int { return len(g.cells) }

// Cells exposes the backing slice so callers can read/write values directly.
func (g *Grid[T]) Cells() []T { return g.cells }

// Index returns the linear slice index for coordinates (col, row).
func (g *Grid[T]) Index(col, row int) int { return row*(g.n+2) + col }

// At returns the value stored at (col, row).
func (g *Grid[T]) At(col, row int) T { return g.cells[row*(g.n+2)+col] }

// Set stores v at (col, row).
func (g *Grid[T]) Set(col, row int, v T) { g.cells[row*(g.n+2)+col] = v }

// InBounds reports whether (col, row) addresses a cell, ghosts included.
func (g *Grid[T]) InBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col <= g.n+1 && row <= g.n+1
}

// Interior reports whether (col, row) lies inside the simulated domain.
func (g *Grid[T]) Interior(col, row int) bool {
	return col >= 1 && row >= 1 && col <= g.n && row <= g.n
}

// SameShape reports whether both grids share N.
func (g *Grid[T]) SameShape(other *Grid[T]) bool {
	return other != nil && g.n == other.n
}

// Clear resets every cell to the zero value.
func (g *Grid[T]) Clear() {
	var zero T
	for i := range g.cells {
		g.cells[i] = zero
	}
}

// CopyFrom overwrites every cell of g with the matching cell of src. It panics
// when the shapes differ since that can only happen through a wiring bug.
func (g *Grid[T]) CopyFrom(src *Grid[T]) {
	if !g.SameShape(src) {
		panic(fmt.Sprintf("core: CopyFrom %d <- %d: %v", g.n, src.N(), ErrShape))
	}
	copy(g.cells, src.cells)
}

// Clone returns an independent deep copy of g.
func (g *Grid[T]) Clone() *Grid[T] {
	out := &Grid[T]{n: g.n, cells: make([]T, len(g.cells))}
	copy(out.cells, g.cells)
	return out
}

// Swap exchanges ownership of two same-shaped grids without copying cells.
func Swap[T any](a, b **Grid[T]) {
	*a, *b = *b, *a
}

// CheckShape returns ErrShape unless f has n interior cells per axis.
func CheckShape(f *Field, n int) error {
	if f == nil {
		return fmt.Errorf("nil field: %w", ErrShape)
	}
	if f.n != n {
		return fmt.Errorf("field N=%d, want %d: %w", f.n, n, ErrShape)
	}
	return nil
}

// Sum adds every cell of f, ghost border included.
func Sum(f *Field) float64 { return floats.Sum(f.cells) }

// Volume returns the integrated quantity Σ f·dx².
func Volume(f *Field, dx float64) float64 { return floats.Sum(f.cells) * dx * dx }

// AddInto accumulates src into dst cell by cell.
func AddInto(dst, src *Field) {
	floats.Add(dst.cells, src.cells)
}
