//go:build ebiten

package app

import (
	"fmt"
	"time"

	"terra/internal/config"
	"terra/internal/core"
	"terra/internal/render"
	"terra/internal/sims/stack"
	"terra/internal/ui"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// Game adapts a stack.Manager to the ebiten.Game interface.
type Game struct {
	cfg     config.Config
	manager *stack.Manager
	painter *render.FieldPainter
	overlay *ui.Overlay
	hud     *ui.HUD
	shading render.Shading

	scale    int
	hudWidth int
	paused   bool
	tickOnce bool
}

// New builds the session described by cfg and wraps it in a Game.
func New(cfg config.Config, scale, hudWidth int) (*Game, error) {
	if scale <= 0 {
		scale = 1
	}
	g := &Game{
		cfg:      cfg,
		painter:  render.NewFieldPainter(cfg.N),
		shading:  render.DefaultShading(),
		scale:    scale,
		hudWidth: hudWidth,
	}
	if err := g.Reset(cfg.Seed); err != nil {
		return nil, err
	}
	return g, nil
}

// Reset rebuilds the session with the provided seed. Tuned fluid parameters
// carry over.
func (g *Game) Reset(seed int64) error {
	if g.manager != nil {
		g.cfg.Fluid.Params = g.manager.Fluid().Params()
		if err := g.manager.Close(); err != nil {
			return err
		}
	}
	g.cfg.Seed = seed
	m, err := stack.New(g.cfg)
	if err != nil {
		return err
	}
	g.manager = m
	g.overlay = ui.NewOverlay(m.Fluid(), g.scale)
	g.hud = ui.NewHUD(m.Fluid(), "Fluid Controls", g.hudWidth, g.status)
	g.tickOnce = false
	return nil
}

// Close stops the background solver.
func (g *Game) Close() error { return g.manager.Close() }

// Update handles per-frame logic and advances the simulation.
func (g *Game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyQ) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.paused = !g.paused
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyN) {
		g.tickOnce = true
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		if err := g.Reset(g.cfg.Seed); err != nil {
			return err
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		if err := g.Reset(time.Now().UnixNano()); err != nil {
			return err
		}
	}

	g.overlay.Update()
	g.hud.Update(g.cfg.N * g.scale)
	g.handleMouse()

	switch {
	case g.tickOnce:
		g.tickOnce = false
		g.manager.Hold()
		_, err := g.manager.Advance(g.manager.Settings().StepDuration())
		return err
	case g.paused:
		g.manager.Hold()
		return nil
	}
	_, err := g.manager.Update()
	return err
}

// handleMouse presses the injector under the cursor: left adds water, right
// removes it.
func (g *Game) handleMouse() {
	inj := g.manager.Injector()
	left := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)
	right := ebiten.IsMouseButtonPressed(ebiten.MouseButtonRight)
	x, y := ebiten.CursorPosition()
	view := g.cfg.N * g.scale
	if (!left && !right) || x < 0 || y < 0 || x >= view || y >= view {
		inj.Release()
		return
	}
	p := g.manager.GridPointFromPosition(g.world(x, y), true)
	if !p.Valid() {
		inj.Release()
		return
	}
	inj.Press(p, right)
}

// world maps a screen pixel to the centre of the cell drawn there.
func (g *Game) world(x, y int) core.Vec2 {
	s := g.manager.Settings()
	cell := s.Size / float64(s.N+2)
	col := 1 + x/g.scale
	row := s.N - y/g.scale
	return core.Vec2{
		X: s.Origin.X + (float64(col)+0.5)*cell,
		Y: s.Origin.Y + (float64(row)+0.5)*cell,
	}
}

func (g *Game) status() []string {
	s := g.manager.Telemetry()
	state := "running"
	if g.paused {
		state = "paused"
	}
	return []string{
		fmt.Sprintf("tick %d (%s)", s.Tick, state),
		fmt.Sprintf("behind %d", s.FramesBehind),
		fmt.Sprintf("volume %.3f", s.Mass.Volume),
		fmt.Sprintf("sediment %.4f", s.Mass.Sediment),
		fmt.Sprintf("eroded %.4f", s.ErodedTotal),
		fmt.Sprintf("deposited %.4f", s.DepositedTotal),
		fmt.Sprintf("max speed %.2f", s.Mass.MaxSpeed),
		fmt.Sprintf("fluid avg %.2fms", float64(s.Fluid.Average())/float64(time.Millisecond)),
		"",
		"LMB add  RMB remove",
		"1 arrows  2 sediment",
		"space pause  n step",
		"r reset  s reseed",
	}
}

// Draw renders the current simulation state.
func (g *Game) Draw(screen *ebiten.Image) {
	f := g.manager.Fluid()
	g.painter.Blit(screen, g.manager.Terrain().HeightField(), f.HeightField(), f.SedimentField(), g.shading, g.scale)
	g.overlay.Draw(screen)
	g.hud.Draw(screen, g.cfg.N*g.scale, g.cfg.N*g.scale)
}

// Layout returns the logical screen size.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.cfg.N*g.scale + g.hudWidth, g.cfg.N * g.scale
}
