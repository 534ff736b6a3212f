// Package render draws the grid-of-circles artwork and writes it to disk.
package render

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	DefaultSide        = 1440
	DefaultSlices      = 3
	DefaultRandomLimit = 100000
	DefaultQuality     = 90
	DefaultDir         = "images"
)

// Config describes one canvas. Zero fields take the defaults above.
type Config struct {
	Side        int    `json:"side" yaml:"side"`
	Slices      int    `json:"slices" yaml:"slices"`
	RandomLimit int    `json:"random_limit" yaml:"random_limit"`
	Quality     int    `json:"quality" yaml:"quality"`
	Dir         string `json:"dir" yaml:"dir"`
}

// WithDefaults returns a copy with every unset field filled in.
func (c Config) WithDefaults() Config {
	if c.Side <= 0 {
		c.Side = DefaultSide
	}
	if c.Slices <= 0 {
		c.Slices = DefaultSlices
	}
	if c.RandomLimit <= 0 {
		c.RandomLimit = DefaultRandomLimit
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	return c
}

// Spacing is the distance between neighbouring grid points.
func (c Config) Spacing() float64 { return float64(c.Side) / float64(c.Slices) }

// Diameter is the circle size.
func (c Config) Diameter() float64 { return float64(c.Side) / float64(c.Slices+1) }

// HSB is a colour with every channel drawn from [0, 255).
type HSB struct {
	H, S, B float64
}

// RGB maps the triple onto the usual HSB ranges (hue 0-360 degrees,
// saturation and brightness 0-100 percent) and converts it. Saturation and
// brightness above 100 clamp, so most random colours come out vivid.
func (c HSB) RGB() colorful.Color {
	s := min(c.S, 100) / 100
	b := min(c.B, 100) / 100
	return colorful.Hsv(c.H, s, b).Clamped()
}

func randomHSB(rng *rand.Rand) HSB {
	return HSB{H: rng.Float64() * 255, S: rng.Float64() * 255, B: rng.Float64() * 255}
}

type Circle struct {
	X, Y     float64
	Diameter float64
	Fill     HSB
}

// Plan is everything needed to paint one canvas.
type Plan struct {
	Side       int
	Background HSB
	Circles    []Circle
}

// NewPlan lays out (slices+1)² circles on an even grid starting at the origin.
// The background colour is drawn first, then one fill per circle, column by
// column.
func NewPlan(cfg Config, rng *rand.Rand) Plan {
	cfg = cfg.WithDefaults()
	p := Plan{
		Side:       cfg.Side,
		Background: randomHSB(rng),
		Circles:    make([]Circle, 0, (cfg.Slices+1)*(cfg.Slices+1)),
	}
	step, d := cfg.Spacing(), cfg.Diameter()
	for i := 0; i <= cfg.Slices; i++ {
		for j := 0; j <= cfg.Slices; j++ {
			p.Circles = append(p.Circles, Circle{
				X:        float64(i) * step,
				Y:        float64(j) * step,
				Diameter: d,
				Fill:     randomHSB(rng),
			})
		}
	}
	return p
}

// Draw rasterizes the plan. Circles are filled only, no outline.
func Draw(p Plan) *gg.Context {
	dc := gg.NewContext(p.Side, p.Side)
	dc.SetColor(p.Background.RGB())
	dc.Clear()
	dc.SetLineWidth(0)
	for _, c := range p.Circles {
		dc.SetColor(c.Fill.RGB())
		dc.DrawCircle(c.X, c.Y, c.Diameter/2)
		dc.Fill()
	}
	return dc
}

// NewName returns the decimal form of a random integer in [0, limit).
func NewName(rng *rand.Rand, limit int) string {
	if limit <= 0 {
		limit = DefaultRandomLimit
	}
	return strconv.Itoa(rng.IntN(limit))
}

// Image is a rendered file on local disk.
type Image struct {
	Name string // random base name, no extension
	Path string
}

// FileName is the base name plus extension, used as the object key.
func (im Image) FileName() string { return im.Name + ".jpg" }

// WriteError reports a canvas that could not be written to disk.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("render: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Render draws one canvas and saves it as <dir>/<name>.jpg. It returns once
// the file is fully written.
func Render(cfg Config, rng *rand.Rand) (Image, error) {
	cfg = cfg.WithDefaults()
	name := NewName(rng, cfg.RandomLimit)
	img := Image{Name: name, Path: filepath.Join(cfg.Dir, name+".jpg")}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return Image{}, &WriteError{Path: cfg.Dir, Err: err}
	}
	dc := Draw(NewPlan(cfg, rng))
	if err := gg.SaveJPG(img.Path, dc.Image(), cfg.Quality); err != nil {
		return Image{}, &WriteError{Path: img.Path, Err: err}
	}
	return img, nil
}
