package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Label is the tooltip's text box.
type Label struct {
	Text       string
	Color      color.RGBA
	Background color.RGBA
	Border     color.RGBA
	Padding    int
}

// NewLabel creates a label in the tooltip colors.
func NewLabel(accent color.RGBA) *Label {
	return &Label{
		Color:      color.RGBA{255, 255, 255, 255},
		Background: color.RGBA{0x20, 0x20, 0x20, 0xff},
		Border:     accent,
		Padding:    5,
	}
}

// lineHeight is the basicfont cell height.
const lineHeight = 13

// Size returns the rendered size of text.
func (l *Label) Size(text string) image.Point {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	return image.Pt(width+l.Padding*2, lineHeight+l.Padding*2)
}

// Render draws text on the label background with a one pixel border.
func (l *Label) Render(text string) *image.RGBA {
	size := l.Size(text)
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), &image.Uniform{l.Border}, image.Point{}, draw.Src)
	draw.Draw(img, img.Bounds().Inset(1), &image.Uniform{l.Background}, image.Point{}, draw.Src)

	if text == "" {
		return img
	}
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(l.Color),
		Face: face,
		Dot:  fixed.P(l.Padding, l.Padding+face.Ascent),
	}
	d.DrawString(text)
	return img
}
