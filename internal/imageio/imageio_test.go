package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/quant"
)

func testImage() *quant.Image {
	img := quant.NewImage(5, 3)
	for y := range 3 {
		for x := range 5 {
			if (x+y)%2 == 0 {
				img.SetPixel(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.SetPixel(x, y, color.NRGBA{B: 255, G: 40, A: 255})
			}
		}
	}
	return img
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"a.png":        PNG,
		"dir/b.JPG":    JPEG,
		"c.jpeg":       JPEG,
		"s3://b/d.gif": GIF,
		"e.bmp":        BMP,
		"f.tif":        TIFF,
		"g.tiff":       TIFF,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	for _, path := range []string{"a.webp", "noext", "x.txt"} {
		_, err := FormatFromPath(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, path)
	}
}

func TestLosslessRoundTrip(t *testing.T) {
	img := testImage()
	for _, f := range []Format{PNG, GIF, BMP, TIFF} {
		t.Run(string(f), func(t *testing.T) {
			data, err := Encode(img, f, Options{})
			require.NoError(t, err)

			got, format, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, format)
			assert.Equal(t, img.Width, got.Width)
			assert.Equal(t, img.Height, got.Height)
			assert.Equal(t, img.Pix, got.Pix)
		})
	}
}

func TestJPEGRoundTrip(t *testing.T) {
	data, err := Encode(testImage(), JPEG, Options{JPEGQuality: 100})
	require.NoError(t, err)

	got, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, JPEG, format)
	assert.Equal(t, 5, got.Width)
	assert.Equal(t, 3, got.Height)
}

func TestGIFManyColors(t *testing.T) {
	img := quant.NewImage(20, 20)
	for i := range 400 {
		img.SetPixel(i%20, i/20, color.NRGBA{R: uint8(i), G: uint8(i / 256 * 80), B: 7, A: 255})
	}
	require.Greater(t, img.DistinctColors(), 256)

	data, err := Encode(img, GIF, Options{})
	require.NoError(t, err)
	got, _, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Width)
}

func TestDecodeStraightAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	got, _, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 128}, got.Pixel(0, 0))
}

func TestDecodeGarbage(t *testing.T) {
	_, _, err := Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestEncodeInvalid(t *testing.T) {
	_, err := Encode(&quant.Image{Width: 1, Height: 1}, PNG, Options{})
	assert.ErrorIs(t, err, quant.ErrInvalidImage)

	_, err = Encode(testImage(), WebP, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
