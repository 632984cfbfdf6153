//go:build ebiten

package render

import (
	"github.com/hajimehoshi/ebiten/v2"

	"terra/internal/core"
)

// FieldPainter keeps one N×N image and re-uploads it every frame.
type FieldPainter struct {
	n   int
	img *ebiten.Image
	buf []byte
}

// NewFieldPainter allocates a painter for an n×n interior.
func NewFieldPainter(n int) *FieldPainter {
	return &FieldPainter{n: n, img: ebiten.NewImage(n, n), buf: make([]byte, 4*n*n)}
}

// Blit shades the fields and draws them scaled onto dst.
func (fp *FieldPainter) Blit(dst *ebiten.Image, terrain, water, sediment *core.Field, s Shading, scale int) {
	if terrain == nil || terrain.N() != fp.n {
		return
	}
	FillFieldRGBA(fp.buf, terrain, water, sediment, s)
	fp.img.WritePixels(fp.buf)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(scale), float64(scale))
	dst.DrawImage(fp.img, op)
}

// Size returns the image edge in cells.
func (fp *FieldPainter) Size() int { return fp.n }
