package quant

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestPaddedStride(t *testing.T) {
	tests := []struct {
		width int
		want  int
	}{
		{1, 256},
		{63, 256},
		{64, 256},
		{65, 512},
		{100, 512},
		{128, 512},
		{129, 768},
	}
	for _, tt := range tests {
		if got := PaddedStride(tt.width); got != tt.want {
			t.Errorf("PaddedStride(%d) = %d, want %d", tt.width, got, tt.want)
		}
	}
}

func TestUnpadSyntheticBuffer(t *testing.T) {
	for _, w := range []int{1, 3, 63, 65, 100, 130} {
		const h = 5
		stride := PaddedStride(w)

		tight := make([]byte, w*h*4)
		for i := range tight {
			tight[i] = byte(i*7 + 1)
		}
		padded := bytes.Repeat([]byte{0xAA}, stride*h)
		for y := range h {
			copy(padded[y*stride:], tight[y*w*4:(y+1)*w*4])
		}

		got, err := Unpad(padded, w, h)
		if err != nil {
			t.Fatalf("Unpad(w=%d) = %v", w, err)
		}
		if len(got) != w*h*4 {
			t.Fatalf("Unpad(w=%d) len = %d, want %d", w, len(got), w*h*4)
		}
		if !bytes.Equal(got, tight) {
			t.Errorf("Unpad(w=%d) does not match the reference layout", w)
		}
		if !bytes.Equal(Pad(got, w, h)[:w*4], padded[:w*4]) {
			t.Errorf("Pad(w=%d) first row differs", w)
		}
	}
}

func TestUnpadShortBuffer(t *testing.T) {
	if _, err := Unpad(make([]byte, 100), 65, 2); err == nil {
		t.Error("Unpad accepted a buffer shorter than its geometry")
	}
}

func TestPadZeroesPadding(t *testing.T) {
	tight := bytes.Repeat([]byte{1}, 3*2*4)
	padded := Pad(tight, 3, 2)
	if len(padded) != 2*256 {
		t.Fatalf("len = %d, want 512", len(padded))
	}
	for i, v := range padded[12:256] {
		if v != 0 {
			t.Fatalf("padding byte %d = %d, want 0", 12+i, v)
		}
	}
}

func TestPixelBytes(t *testing.T) {
	buf := pixelBytes([]uint8{0, 255, 51, 128})
	want := []float32{0, 1, 0.2, 128.0 / 255}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		if got != w {
			t.Errorf("channel %d = %v, want %v", i, got, w)
		}
	}
}

func TestCentroidBytesRoundTrip(t *testing.T) {
	cs := []Centroid{{0, 0.25, 0.5, 1}, {1, 0, 0, 1}}
	got := parseCentroids(centroidBytes(cs), len(cs))
	for i := range cs {
		if got[i] != cs[i] {
			t.Errorf("centroid %d = %v, want %v", i, got[i], cs[i])
		}
	}
}

func TestSentinelAssignments(t *testing.T) {
	buf := sentinelAssignments(3, 7)
	for i := range 3 {
		if v := binary.LittleEndian.Uint32(buf[i*4:]); v != 7 {
			t.Errorf("assignment %d = %d, want sentinel 7", i, v)
		}
	}
}
