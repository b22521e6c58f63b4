package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"github.com/jimfengnpu/everywhere/internal/element"
)

// Style controls how highlights are drawn.
type Style struct {
	Color       color.RGBA
	MaskOpacity float64 // 0.0 to 1.0
	Border      int
}

// DefaultStyle returns the built-in highlight style.
func DefaultStyle() Style {
	return Style{
		Color:       color.RGBA{R: 0x33, G: 0x99, B: 0xff, A: 0xff},
		MaskOpacity: 0.35,
		Border:      2,
	}
}

// ParseColor parses "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #rrggbb or #rrggbbaa", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func clampOpacity(opacity float64) float64 {
	return max(0.0, min(opacity, 1.0))
}

// BlendImage blends a source image onto a destination image at the given position
// with the specified opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()
	opacity = clampOpacity(opacity)

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 65535.0
			if alpha <= 0 {
				continue
			}

			// Source-over on premultiplied values
			dr, dg, db, da := dst.At(dx, dy).RGBA()
			inv := 1 - alpha
			dst.SetRGBA(dx, dy, color.RGBA{
				R: uint8((float64(sr)*opacity + float64(dr)*inv) / 257),
				G: uint8((float64(sg)*opacity + float64(dg)*inv) / 257),
				B: uint8((float64(sb)*opacity + float64(db)*inv) / 257),
				A: uint8((alpha*65535 + float64(da)*inv) / 257),
			})
		}
	}
}

// DrawRectangle draws a filled rectangle with the specified color and opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	rect := image.Rect(x, y, x+width, y+height).Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	if clampOpacity(opacity) == 1 {
		draw.Draw(dst, rect, image.NewUniform(c), image.Point{}, draw.Over)
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(tmp, tmp.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	BlendImage(dst, tmp, rect.Min.X, rect.Min.Y, opacity)
}

// FrameRects returns the border strips of width w just inside r.
func FrameRects(r image.Rectangle, w int) []image.Rectangle {
	if r.Empty() || w <= 0 {
		return nil
	}
	if 2*w >= r.Dx() || 2*w >= r.Dy() {
		return []image.Rectangle{r}
	}
	return []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y+w, r.Min.X+w, r.Max.Y-w),
		image.Rect(r.Max.X-w, r.Min.Y+w, r.Max.X, r.Max.Y-w),
	}
}

// RenderMask draws a size-sized overlay: a dim layer with hole cut out and
// framed in the style's color. In Free mode the hole is also tinted so the
// dragged region stays visible. An empty hole dims everything.
func RenderMask(size image.Point, hole image.Rectangle, mode element.Granularity, st Style) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	shade := color.RGBA{A: uint8(clampOpacity(st.MaskOpacity) * 255)}
	draw.Draw(img, img.Bounds(), image.NewUniform(shade), image.Point{}, draw.Src)

	hole = hole.Intersect(img.Bounds())
	if hole.Empty() {
		return img
	}
	draw.Draw(img, hole, image.Transparent, image.Point{}, draw.Src)
	if mode == element.GranularityFree {
		DrawRectangle(img, hole.Min.X, hole.Min.Y, hole.Dx(), hole.Dy(), st.Color, 0.15)
	}
	for _, r := range FrameRects(hole, st.Border) {
		draw.Draw(img, r, image.NewUniform(st.Color), image.Point{}, draw.Src)
	}
	return img
}
