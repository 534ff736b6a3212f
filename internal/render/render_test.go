package render

import (
	"image/jpeg"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestNewPlan_GridSize(t *testing.T) {
	for _, slices := range []int{1, 2, 3, 5, 8} {
		for _, side := range []int{100, 400, 1440} {
			cfg := Config{Side: side, Slices: slices}
			p := NewPlan(cfg, testRand(uint64(side*slices)))

			require.Len(t, p.Circles, (slices+1)*(slices+1), "side=%d slices=%d", side, slices)

			step := float64(side) / float64(slices)
			for idx, c := range p.Circles {
				i, j := idx/(slices+1), idx%(slices+1)
				assert.InDelta(t, float64(i)*step, c.X, 1e-9)
				assert.InDelta(t, float64(j)*step, c.Y, 1e-9)
				assert.InDelta(t, float64(side)/float64(slices+1), c.Diameter, 1e-9)
			}
		}
	}
}

func TestNewPlan_ColorChannelsInRange(t *testing.T) {
	p := NewPlan(Config{}, testRand(7))
	all := append([]HSB{p.Background}, fills(p)...)
	for _, c := range all {
		for _, v := range []float64{c.H, c.S, c.B} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 255.0)
		}
	}
}

func fills(p Plan) []HSB {
	out := make([]HSB, len(p.Circles))
	for i, c := range p.Circles {
		out[i] = c.Fill
	}
	return out
}

func TestNewPlan_Deterministic(t *testing.T) {
	a := NewPlan(Config{}, testRand(42))
	b := NewPlan(Config{}, testRand(42))
	assert.Equal(t, a, b)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}.WithDefaults()
	assert.Equal(t, 1440, c.Side)
	assert.Equal(t, 3, c.Slices)
	assert.Equal(t, 100000, c.RandomLimit)
	assert.Equal(t, "images", c.Dir)
	assert.InDelta(t, 480.0, c.Spacing(), 1e-9)
	assert.InDelta(t, 360.0, c.Diameter(), 1e-9)
}

func TestHSB_RGB(t *testing.T) {
	// brightness clamps to 100%, zero saturation is white
	r, g, b := HSB{H: 10, S: 0, B: 200}.RGB().RGB255()
	assert.Equal(t, [3]uint8{255, 255, 255}, [3]uint8{r, g, b})

	// zero brightness is black whatever the hue
	r, g, b = HSB{H: 120, S: 255, B: 0}.RGB().RGB255()
	assert.Equal(t, [3]uint8{0, 0, 0}, [3]uint8{r, g, b})

	// full saturation, hue 0 is red
	r, g, b = HSB{H: 0, S: 255, B: 255}.RGB().RGB255()
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})
}

func TestNewName(t *testing.T) {
	rng := testRand(1)
	for _, limit := range []int{1, 2, 10, 100000} {
		for i := 0; i < 500; i++ {
			name := NewName(rng, limit)
			n, err := strconv.Atoi(name)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 0)
			assert.Less(t, n, limit)
		}
	}
}

func TestRender_WritesJPEG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "images")
	img, err := Render(Config{Side: 64, Slices: 3, Dir: dir}, testRand(3))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, img.Name+".jpg"), img.Path)
	assert.Equal(t, img.Name+".jpg", img.FileName())

	f, err := os.Open(img.Path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 64, decoded.Bounds().Dy())
}

func TestRender_UnwritableDir(t *testing.T) {
	// a regular file where the directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := Render(Config{Side: 16, Dir: blocker}, testRand(4))
	require.Error(t, err)
	var werr *WriteError
	assert.ErrorAs(t, err, &werr)
}
