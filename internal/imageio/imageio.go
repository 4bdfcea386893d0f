// Package imageio converts encoded image files to and from quant.Image.
//
// Decoding accepts PNG, JPEG, GIF, BMP, TIFF and WebP. Encoding writes PNG,
// JPEG, GIF, BMP and TIFF; the format is chosen from the output file
// extension.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/gogpu/quant"
)

// Format is an image file format name as reported by image.Decode.
type Format string

// Supported formats.
const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	WebP Format = "webp"
)

// ErrUnsupportedFormat is returned for extensions or formats without an
// encoder.
var ErrUnsupportedFormat = errors.New("imageio: unsupported format")

// DefaultJPEGQuality is used when Options.JPEGQuality is zero.
const DefaultJPEGQuality = 90

// Options tune encoding.
type Options struct {
	// JPEGQuality is 1..100; zero means DefaultJPEGQuality.
	JPEGQuality int
}

// FormatFromPath returns the encoder format for a file name extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".jpg", ".jpeg":
		return JPEG, nil
	case ".gif":
		return GIF, nil
	case ".bmp":
		return BMP, nil
	case ".tif", ".tiff":
		return TIFF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Decode decodes an image of any registered format.
func Decode(data []byte) (*quant.Image, Format, error) {
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imageio: decode: %w", err)
	}
	return quant.FromImage(img), Format(name), nil
}

// Encode encodes img in format f.
func Encode(img *quant.Image, f Format, opts Options) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var err error
	switch f {
	case PNG:
		err = png.Encode(&buf, img)
	case JPEG:
		q := opts.JPEGQuality
		if q == 0 {
			q = DefaultJPEGQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	case GIF:
		err = gif.Encode(&buf, paletted(img), nil)
	case BMP:
		err = bmp.Encode(&buf, img)
	case TIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("imageio: encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

// paletted converts img to a paletted image. Images with at most 256
// colors, which is every quantized image with K <= 256, keep their exact
// colors; others are dithered to the Plan 9 palette.
func paletted(img *quant.Image) *image.Paletted {
	rect := img.Bounds()
	index := make(map[color.NRGBA]uint8)
	var pal color.Palette
	for y := range img.Height {
		for x := range img.Width {
			c := img.Pixel(x, y)
			if _, ok := index[c]; ok {
				continue
			}
			if len(pal) == 256 {
				out := image.NewPaletted(rect, palette.Plan9)
				draw.FloydSteinberg.Draw(out, rect, img, image.Point{})
				return out
			}
			index[c] = uint8(len(pal))
			pal = append(pal, c)
		}
	}

	out := image.NewPaletted(rect, pal)
	for y := range img.Height {
		for x := range img.Width {
			out.SetColorIndex(x, y, index[img.Pixel(x, y)])
		}
	}
	return out
}
