// Package capture reads pixels from the X server and normalizes them to
// 32-bit BGRA.
package capture

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/jimfengnpu/everywhere/internal/element"
)

var (
	// ErrCapture is wrapped by every capture failure.
	ErrCapture = errors.New("capture failed")

	ErrInvalidTarget = fmt.Errorf("%w: invalid target", ErrCapture)
	ErrEmptyRegion   = fmt.Errorf("%w: empty region", ErrCapture)
	ErrImageRead     = fmt.Errorf("%w: image read", ErrCapture)
)

// PixelBuffer is a captured image in little-endian BGRA order.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewPixelBuffer allocates a zeroed w×h buffer.
func NewPixelBuffer(w, h int) *PixelBuffer {
	return &PixelBuffer{Width: w, Height: h, Stride: w * 4, Pix: make([]byte, w*h*4)}
}

// At returns the B, G, R, A bytes of pixel (x, y).
func (p *PixelBuffer) At(x, y int) (b, g, r, a byte) {
	i := y*p.Stride + x*4
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2], p.Pix[i+3]
}

// ToRGBA converts the buffer to an image.RGBA.
func (p *PixelBuffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		src := p.Pix[y*p.Stride : y*p.Stride+p.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+p.Width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x]
			dst[x+3] = src[x+3]
		}
	}
	return img
}

// EncodePNG writes the buffer as a PNG image.
func (p *PixelBuffer) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, p.ToRGBA()); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// ImageSource issues the native reads a capture needs.
type ImageSource interface {
	Root() xproto.Window
	RootBounds() (element.Rect, error)
	// Viewable reports whether w is a mapped InputOutput window.
	Viewable(w xproto.Window) (bool, error)
	// WindowPixmap returns an offscreen copy of w kept current by the
	// compositor. ok is false when the composite extension is unavailable.
	WindowPixmap(w xproto.Window) (d xproto.Drawable, release func(), ok bool, err error)
	// GetImage reads r, in drawable coordinates, and reports its format.
	GetImage(d xproto.Drawable, r element.Rect) ([]byte, PixelFormat, error)
}
