package capture

import (
	"fmt"
	"math/bits"
)

// PixelFormat describes a ZPixmap image as returned by GetImage.
type PixelFormat struct {
	Depth        int
	BitsPerPixel int
	ScanlinePad  int // row alignment in bits
	RedMask      uint32
	GreenMask    uint32
	BlueMask     uint32
	MSBFirst     bool // big-endian image byte order
}

// Stride returns the padded length of one row in bytes.
func (f PixelFormat) Stride(width int) int {
	pad := f.ScanlinePad
	if pad <= 0 {
		pad = 32
	}
	rowBits := width * f.BitsPerPixel
	return (rowBits + pad - 1) / pad * pad / 8
}

// channel extracts and rescales one mask's bits to 0..255.
type channel struct {
	mask  uint32
	shift int
	max   uint64
}

func newChannel(mask uint32) channel {
	if mask == 0 {
		return channel{}
	}
	n := bits.OnesCount32(mask)
	return channel{mask: mask, shift: bits.TrailingZeros32(mask), max: 1<<n - 1}
}

func (c channel) value(px uint32) byte {
	if c.max == 0 {
		return 0
	}
	v := uint64((px & c.mask) >> c.shift)
	return byte((v*255 + c.max/2) / c.max)
}

// Convert decodes width×height pixels of raw image data into a BGRA buffer.
// Channels are located by the format's masks and rescaled to 8 bits with
// rounding. Alpha is taken from the top byte at depth 32 and is opaque
// otherwise. Formats without masks are read as grayscale.
func Convert(data []byte, width, height int, f PixelFormat) (*PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyRegion, width, height)
	}
	switch f.BitsPerPixel {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: unsupported %d bits per pixel", ErrImageRead, f.BitsPerPixel)
	}

	bpp := f.BitsPerPixel / 8
	stride := f.Stride(width)
	need := stride*(height-1) + width*bpp
	if len(data) < need {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrImageRead, len(data), need)
	}

	r, g, b := newChannel(f.RedMask), newChannel(f.GreenMask), newChannel(f.BlueMask)
	if f.RedMask == 0 && f.GreenMask == 0 && f.BlueMask == 0 {
		l := newChannel(uint32(1<<f.BitsPerPixel - 1))
		r, g, b = l, l, l
	}
	withAlpha := f.Depth == 32 && f.BitsPerPixel == 32

	out := NewPixelBuffer(width, height)
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < width; x++ {
			px := readPixel(row[x*bpp:x*bpp+bpp], f.MSBFirst)
			i := x * 4
			dst[i] = b.value(px)
			dst[i+1] = g.value(px)
			dst[i+2] = r.value(px)
			if withAlpha {
				dst[i+3] = byte(px >> 24)
			} else {
				dst[i+3] = 0xff
			}
		}
	}
	return out, nil
}

func readPixel(p []byte, msb bool) uint32 {
	var v uint32
	if msb {
		for _, c := range p {
			v = v<<8 | uint32(c)
		}
		return v
	}
	for i := len(p) - 1; i >= 0; i-- {
		v = v<<8 | uint32(p[i])
	}
	return v
}
