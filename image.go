package quant

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/gogpu/quant/backend"
)

// Image is a tightly packed RGBA8 pixel buffer: row after row, 4 bytes per
// pixel in R, G, B, A order, straight (non-premultiplied) alpha.
//
// Image implements image.Image, so it can be passed to any standard encoder.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

var _ image.Image = (*Image)(nil)

// NewImage creates a zero-filled image with the given dimensions.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// maxImagePixels bounds Width*Height: kernels index pixels with u32 and the
// byte length Width*Height*4 must fit in an int.
const maxImagePixels = min(uint64(backend.MaxPixels), uint64(math.MaxInt/4))

// Validate reports ErrInvalidImage when the image is empty, too large for
// the kernels, or its buffer length differs from Width*Height*4.
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, img.Width, img.Height)
	}
	if uint64(img.Width) > maxImagePixels/uint64(img.Height) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, img.Width, img.Height, maxImagePixels)
	}
	if want := img.Width * img.Height * 4; len(img.Pix) != want {
		return fmt.Errorf("%w: %dx%d needs %d bytes, have %d",
			ErrInvalidImage, img.Width, img.Height, want, len(img.Pix))
	}
	return nil
}

// PixelCount returns Width*Height.
func (img *Image) PixelCount() int { return img.Width * img.Height }

// Pixel returns the color at (x, y). Out-of-range coordinates return
// transparent black.
func (img *Image) Pixel(x, y int) color.NRGBA {
	if x < 0 || x >= img.Width || y < 0 || y >= img.Height {
		return color.NRGBA{}
	}
	i := (y*img.Width + x) * 4
	return color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: img.Pix[i+3]}
}

// SetPixel sets the color at (x, y). Out-of-range coordinates are ignored.
func (img *Image) SetPixel(x, y int, c color.NRGBA) {
	if x < 0 || x >= img.Width || y < 0 || y >= img.Height {
		return
	}
	i := (y*img.Width + x) * 4
	img.Pix[i+0] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = c.A
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	out := &Image{Width: img.Width, Height: img.Height, Pix: make([]uint8, len(img.Pix))}
	copy(out.Pix, img.Pix)
	return out
}

// DistinctColors returns the number of distinct RGBA values in the image.
func (img *Image) DistinctColors() int {
	seen := make(map[uint32]struct{})
	for i := 0; i+3 < len(img.Pix); i += 4 {
		seen[packPixel(img.Pix[i:i+4])] = struct{}{}
	}
	return len(seen)
}

// packPixel packs 4 RGBA bytes into one word, R in the low byte.
func packPixel(p []uint8) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

// ToNRGBA converts the image to an image.NRGBA sharing no memory with img.
func (img *Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	copy(out.Pix, img.Pix)
	return out
}

// FromImage converts any image to a tightly packed Image with straight alpha.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())

	if n, ok := src.(*image.NRGBA); ok && n.Stride == b.Dx()*4 {
		copy(out.Pix, n.Pix[n.PixOffset(b.Min.X, b.Min.Y):])
		return out
	}

	dst := &image.NRGBA{Pix: out.Pix, Stride: out.Width * 4, Rect: image.Rect(0, 0, out.Width, out.Height)}
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return out
}

// At implements the image.Image interface.
func (img *Image) At(x, y int) color.Color {
	return img.Pixel(x, y)
}

// Bounds implements the image.Image interface.
func (img *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, img.Width, img.Height)
}

// ColorModel implements the image.Image interface.
func (img *Image) ColorModel() color.Model {
	return color.NRGBAModel
}
