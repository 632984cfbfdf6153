//go:build ebiten

package main

import (
	"errors"
	"flag"
	"log"

	"terra/internal/app"
	"terra/internal/config"

	"github.com/hajimehoshi/ebiten/v2"
)

func main() {
	var flags config.Flags
	flags.Bind(flag.CommandLine)
	scale := flag.Int("scale", 5, "pixels per cell")
	hudWidth := flag.Int("hud", 240, "width of the control panel in pixels")
	flag.Parse()

	cfg, err := flags.Config()
	if err != nil {
		log.Fatal(err)
	}

	game, err := app.New(cfg, *scale, *hudWidth)
	if err != nil {
		log.Fatal(err)
	}
	defer game.Close()

	ebiten.SetWindowTitle("terra - " + cfg.Terrain.Sampler)
	ebiten.SetTPS(max(1, int(1/cfg.Dt)))
	ebiten.SetWindowSize(game.Layout(0, 0))

	if err := ebiten.RunGame(game); err != nil && !errors.Is(err, ebiten.Termination) {
		log.Fatal(err)
	}
}
