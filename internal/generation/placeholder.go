package generation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
)

// Placeholder renders a deterministic tiled PNG from the prompt. The same
// prompt and size always produce the same bytes.
type Placeholder struct {
	Size int
}

// NewPlaceholder returns a renderer producing size x size images (512 when
// size is not positive).
func NewPlaceholder(size int) *Placeholder {
	if size <= 0 {
		size = 512
	}
	return &Placeholder{Size: size}
}

// Generate implements Provider. It only fails if PNG encoding fails.
func (p *Placeholder) Generate(_ context.Context, prompt string) ([]byte, error) {
	return p.Render(prompt)
}

// Render draws the placeholder for prompt.
func (p *Placeholder) Render(prompt string) ([]byte, error) {
	size := p.Size
	if size <= 0 {
		size = 512
	}
	seed := seedFor(prompt)
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	line := colorFromSeed(seed, 2)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	// diamond motif on a repeat tile, then a diagonal lattice
	tile := max(16, size/8)
	for ty := 0; ty < size; ty += tile {
		for tx := 0; tx < size; tx += tile {
			drawDiamond(img, tx, ty, tile, accent)
		}
	}

	step := max(8, size/32)
	for i := -size; i < size; i += step * 4 {
		for y := 0; y < size; y++ {
			if x := i + y; x >= 0 && x < size {
				img.Set(x, y, line)
			}
			if x := size - 1 - (i + y); x >= 0 && x < size {
				img.Set(x, y, line)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawDiamond(img *image.RGBA, x0, y0, tile int, c color.RGBA) {
	half := tile / 2
	cx, cy := x0+half, y0+half
	r := half * 2 / 3
	b := img.Bounds()
	for dy := -r; dy <= r; dy++ {
		w := r - abs(dy)
		for dx := -w; dx <= w; dx++ {
			p := image.Pt(cx+dx, cy+dy)
			if p.In(b) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// seedFor returns 16 hex characters derived from prompt.
func seedFor(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{
		R: hexByte(segment[0:2]),
		G: hexByte(segment[2:4]),
		B: hexByte(segment[4:6]),
		A: 255,
	}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var _ Provider = (*Placeholder)(nil)
