//go:build ebiten

package ui

import (
	"image/color"
	"math"

	"terra/internal/core"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// FlowSource exposes the fields the overlay can visualise.
type FlowSource interface {
	VelocityField() *core.Grid[core.Velocity]
	SedimentField() *core.Field
}

// Overlay draws optional flow visuals on top of the shaded terrain.
type Overlay struct {
	src          FlowSource
	scale        int
	showVelocity bool
	showSediment bool

	maskImg *ebiten.Image
	maskBuf []byte
	pixel   *ebiten.Image
}

// NewOverlay constructs an overlay over src.
func NewOverlay(src FlowSource, scale int) *Overlay {
	o := &Overlay{src: src, scale: scale}
	o.pixel = ebiten.NewImage(1, 1)
	o.pixel.Fill(color.White)
	return o
}

// Update toggles layers: 1 velocity, 2 sediment.
func (o *Overlay) Update() {
	if inpututil.IsKeyJustPressed(ebiten.KeyDigit1) {
		o.showVelocity = !o.showVelocity
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyDigit2) {
		o.showSediment = !o.showSediment
	}
}

// Draw renders the enabled layers onto screen.
func (o *Overlay) Draw(screen *ebiten.Image) {
	if o.src == nil {
		return
	}
	scale := o.scale
	if scale <= 0 {
		scale = 1
	}
	if o.showSediment {
		o.drawSediment(screen, o.src.SedimentField(), scale)
	}
	if o.showVelocity {
		o.drawVelocity(screen, o.src.VelocityField(), scale)
	}
}

func (o *Overlay) drawVelocity(screen *ebiten.Image, vel *core.Grid[core.Velocity], scale int) {
	n := vel.N()
	spacing := max(4, n/24)
	span := float64(spacing * scale)

	maxSpeed := 0.0
	for _, v := range vel.Cells() {
		maxSpeed = math.Max(maxSpeed, v.Speed())
	}
	if maxSpeed < 1e-6 {
		return
	}

	const headAngle = math.Pi / 6
	for row := spacing / 2; row <= n; row += spacing {
		for col := spacing / 2; col <= n; col += spacing {
			if col < 1 || row < 1 {
				continue
			}
			v := vel.At(col, row)
			speed := v.Speed()
			sx := (float64(col) - 0.5) * float64(scale)
			sy := (float64(n-row) + 0.5) * float64(scale)
			norm := speed / maxSpeed
			if norm < 0.05 {
				o.drawPoint(screen, sx, sy, math.Max(1, float64(scale)*0.75), color.RGBA{R: 90, G: 130, B: 170, A: 120})
				continue
			}
			// screen y grows downward while row grows upward
			nx, ny := v.U/speed, -v.V/speed
			length := span * (0.35 + 0.5*math.Sqrt(norm))
			tipX, tipY := sx+nx*length*0.6, sy+ny*length*0.6
			tailX, tailY := sx-nx*length*0.4, sy-ny*length*0.4
			head := math.Min(length*0.3, float64(scale)*4.5)
			thickness := math.Max(1, float64(scale)*(0.65+0.4*norm))
			col := arrowColor(norm)
			o.drawLine(screen, tailX, tailY, tipX, tipY, thickness, col)
			angle := math.Atan2(ny, nx)
			o.drawLine(screen, tipX, tipY, tipX-math.Cos(angle+headAngle)*head, tipY-math.Sin(angle+headAngle)*head, thickness*0.85, col)
			o.drawLine(screen, tipX, tipY, tipX-math.Cos(angle-headAngle)*head, tipY-math.Sin(angle-headAngle)*head, thickness*0.85, col)
		}
	}
}

func (o *Overlay) drawSediment(screen *ebiten.Image, sed *core.Field, scale int) {
	n := sed.N()
	if o.maskImg == nil || o.maskImg.Bounds().Dx() != n {
		o.maskImg = ebiten.NewImage(n, n)
		o.maskBuf = make([]byte, 4*n*n)
	}
	peak := 0.0
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			peak = math.Max(peak, sed.At(col, row))
		}
	}
	if peak <= 0 {
		return
	}
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			base := 4 * ((n-row)*n + col - 1)
			intensity := clamp01(sed.At(col, row) / peak)
			alpha := math.Round(160 * math.Pow(intensity, 0.75))
			// premultiplied alpha
			o.maskBuf[base+0] = uint8(math.Round(255 * alpha / 255))
			o.maskBuf[base+1] = uint8(math.Round(140 * alpha / 255))
			o.maskBuf[base+2] = uint8(math.Round(40 * alpha / 255))
			o.maskBuf[base+3] = uint8(alpha)
		}
	}
	o.maskImg.WritePixels(o.maskBuf)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(scale), float64(scale))
	screen.DrawImage(o.maskImg, op)
}

func (o *Overlay) drawPoint(screen *ebiten.Image, x, y, size float64, col color.RGBA) {
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(size, size)
	op.GeoM.Translate(x-size*0.5, y-size*0.5)
	op.ColorScale.ScaleWithColor(col)
	screen.DrawImage(o.pixel, op)
}

func (o *Overlay) drawLine(screen *ebiten.Image, x1, y1, x2, y2, thickness float64, col color.RGBA) {
	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	if length <= 1e-4 || thickness <= 0 {
		return
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(length, thickness)
	op.GeoM.Translate(0, -thickness/2)
	op.GeoM.Rotate(math.Atan2(dy, dx))
	op.GeoM.Translate(x1, y1)
	op.ColorScale.ScaleWithColor(col)
	screen.DrawImage(o.pixel, op)
}

func arrowColor(t float64) color.RGBA {
	t = clamp01(t)
	return color.RGBA{
		R: uint8(math.Round(80 + 170*t)),
		G: uint8(math.Round(200 - 60*t)),
		B: uint8(math.Round(240 - 160*t)),
		A: uint8(math.Round(150 + 90*t)),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
