package main

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/quant"
	"github.com/gogpu/quant/internal/blobstore"
	"github.com/gogpu/quant/internal/imageio"
)

func writeImage(t *testing.T, path string, img *quant.Image) {
	t.Helper()
	f, err := imageio.FormatFromPath(path)
	require.NoError(t, err)
	data, err := imageio.Encode(img, f, imageio.Options{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func stripes(w, h int) *quant.Image {
	img := quant.NewImage(w, h)
	colors := []color.NRGBA{{R: 250, A: 255}, {R: 240, G: 10, A: 255}, {B: 250, A: 255}, {B: 240, G: 10, A: 255}}
	for y := range h {
		for x := range w {
			img.SetPixel(x, y, colors[x%len(colors)])
		}
	}
	return img
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.bmp")
	writeImage(t, a, stripes(30, 10))
	writeImage(t, b, stripes(7, 5))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-backend", "software", "-k", "2", "-j", "2", a, b},
		&stdout, &stderr)
	require.Equal(t, exitOK, code, "stderr: %s", stderr.String())

	for _, out := range []string{"a_q2.png", "b_q2.bmp"} {
		data, err := os.ReadFile(filepath.Join(dir, out))
		require.NoError(t, err, out)
		img, _, err := imageio.Decode(data)
		require.NoError(t, err)
		assert.LessOrEqual(t, img.DistinctColors(), 2, out)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "a.png -> ")
	assert.Contains(t, lines[0], "(300 pixels), K=2")
	assert.Contains(t, lines[0], "backend software")
	assert.Contains(t, lines[1], "b.bmp -> ")
}

func TestRunThousandsGrouping(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "big.png")
	writeImage(t, in, stripes(100, 20))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-backend", "software", "-k", "1", in}, &stdout, &stderr)
	require.Equal(t, exitOK, code, "stderr: %s", stderr.String())
	assert.Contains(t, stdout.String(), "(2,000 pixels)")
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	tiny := filepath.Join(dir, "tiny.png")
	writeImage(t, tiny, stripes(2, 1))

	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"no inputs", []string{"-k", "2"}, exitUsage, "no input images"},
		{"bad flag", []string{"-nope", tiny}, exitUsage, "flag provided but not defined"},
		{"bad channels", []string{"-channels", "rgbx", tiny}, exitUsage, "unknown channel"},
		{"bad alpha", []string{"-alpha", "premul", tiny}, exitUsage, "want centroid or source"},
		{"bad output ext", []string{"-o", "{dir}/{name}.xyz", tiny}, exitUsage, "unsupported format"},
		{"k too large", []string{"-backend", "software", "-k", "3", tiny}, exitError, "invalid cluster count"},
		{"missing input", []string{"-backend", "software", filepath.Join(dir, "none.png")}, exitError, "no such file"},
		{"unknown backend", []string{"-backend", "nope", "-k", "1", tiny}, exitError, "not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr.String(), tt.msg)
		})
	}
}

func TestParseArgsConfigAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quant.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
k = 8
seed = 7
max_iterations = 12
tolerance = 0.01
alpha = "source"
channels = "rgb"
jobs = 4
`), 0o644))

	var stderr bytes.Buffer
	cfg, inputs, err := parseArgs([]string{"-config", path, "-k", "4", "in.png"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, []string{"in.png"}, inputs)
	assert.Equal(t, 4, cfg.K, "flag overrides file")
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 12, cfg.MaxIterations)
	assert.InDelta(t, 0.01, cfg.Tolerance, 1e-9)
	assert.Equal(t, "source", cfg.Alpha)
	assert.Equal(t, "rgb", cfg.Channels)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, defaultOutput, cfg.Output, "unset keys keep defaults")
}

func TestLoadConfigUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("k = 2\ncolours = 3\n"), 0o644))

	cfg := defaultConfig()
	err := loadConfig(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys: colours")

	err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	assert.Error(t, err)
}

func TestParseChannels(t *testing.T) {
	tests := map[string]quant.Channels{
		"rgba": quant.ChannelRGBA,
		"RGB":  quant.ChannelRGB,
		"a":    quant.ChannelA,
		"gr":   quant.ChannelR | quant.ChannelG,
	}
	for in, want := range tests {
		got, err := parseChannels(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "x", "rgbw"} {
		_, err := parseChannels(in)
		assert.Error(t, err, in)
	}
}

func TestConfigOptionsValidation(t *testing.T) {
	for _, mutate := range []func(*config){
		func(c *config) { c.K = 0 },
		func(c *config) { c.MaxIterations = 0 },
		func(c *config) { c.Tolerance = -1 },
		func(c *config) { c.Jobs = 0 },
	} {
		cfg := defaultConfig()
		mutate(&cfg)
		_, err := cfg.options()
		assert.Error(t, err)
	}

	cfg := defaultConfig()
	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Len(t, opts, 5, "auto backend adds no backend option")

	cfg.Backend = "software"
	opts, err = cfg.options()
	require.NoError(t, err)
	assert.Len(t, opts, 6)
}

func TestExpand(t *testing.T) {
	tests := []struct {
		in   string
		tmpl string
		want string
	}{
		{"photos/cat.png", defaultOutput, "photos/cat_q16.png"},
		{"cat.JPG", defaultOutput, "./cat_q16.JPG"},
		{"img.webp", defaultOutput, "./img_q16.png"},
		{"s3://bucket/in/cat.png", defaultOutput, "s3://bucket/in/cat_q16.png"},
		{"s3://bucket/cat.png", defaultOutput, "s3://bucket/cat_q16.png"},
		{"s3://bucket/in/cat.png", "out/{name}-{k}.gif", "out/cat-16.gif"},
	}
	for _, tt := range tests {
		loc, err := blobstore.ParseLocation(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, expand(tt.tmpl, loc, 16), tt.in)
	}
}

func TestPlanJobsRejectsCollisions(t *testing.T) {
	_, err := planJobs([]string{"a.png", "b.png"}, "out.png", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both write out.png")

	jobs, err := planJobs([]string{"a.png", "s3://b/k.jpg"}, defaultOutput, 4)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, imageio.PNG, jobs[0].format)
	assert.Equal(t, imageio.JPEG, jobs[1].format)
	assert.True(t, jobs[1].out.Remote())
}
