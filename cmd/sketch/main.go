package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/mikequentel/circlegram/internal/render"
)

// Flags
var (
	side    = flag.Int("side", render.DefaultSide, "canvas width and height in pixels")
	slices  = flag.Int("slices", render.DefaultSlices, "grid divisions per side; draws (slices+1)^2 circles")
	seed    = flag.Uint64("seed", 0, "random seed (0 picks one)")
	outDir  = flag.String("out", render.DefaultDir, "output directory")
	quality = flag.Int("quality", render.DefaultQuality, "JPEG quality 1-100")
	count   = flag.Int("n", 1, "number of images to render")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	s := *seed
	if s == 0 {
		s = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(s, s))

	cfg := render.Config{
		Side:    *side,
		Slices:  *slices,
		Quality: *quality,
		Dir:     *outDir,
	}.WithDefaults()

	for i := 0; i < *count; i++ {
		img, err := render.Render(cfg, rng)
		if err != nil {
			log.Fatalf("render: %v", err)
		}
		fmt.Println(img.Path)
	}
	log.Printf("Rendered %d image(s) of %dx%d with %d circles each (seed %d)",
		*count, cfg.Side, cfg.Side, (cfg.Slices+1)*(cfg.Slices+1), s)
}
