package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/quant"
)

// config holds the job settings. Fields map to the TOML keys of -config and
// to the command line flags of the same meaning.
type config struct {
	K             int     `toml:"k"`
	Seed          uint64  `toml:"seed"`
	MaxIterations int     `toml:"max_iterations"`
	Tolerance     float64 `toml:"tolerance"`
	Backend       string  `toml:"backend"`
	Alpha         string  `toml:"alpha"`
	Channels      string  `toml:"channels"`
	Output        string  `toml:"output"`
	Jobs          int     `toml:"jobs"`
	JPEGQuality   int     `toml:"jpeg_quality"`
	Verbose       bool    `toml:"verbose"`
}

const defaultOutput = "{dir}/{name}_q{k}.{ext}"

func defaultConfig() config {
	return config{
		K:             16,
		Seed:          quant.DefaultSeed,
		MaxIterations: quant.DefaultMaxIterations,
		Tolerance:     float64(quant.DefaultTolerance),
		Backend:       "auto",
		Alpha:         quant.AlphaFromCentroid.String(),
		Channels:      "rgba",
		Output:        defaultOutput,
		Jobs:          2,
	}
}

// loadConfig decodes a TOML file over cfg. Keys the config does not know are
// an error, so typos do not pass silently.
func loadConfig(path string, cfg *config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// options converts the config to engine options.
func (c *config) options() ([]quant.Option, error) {
	channels, err := parseChannels(c.Channels)
	if err != nil {
		return nil, err
	}
	alpha, err := parseAlpha(c.Alpha)
	if err != nil {
		return nil, err
	}
	if c.K < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", c.K)
	}
	if c.MaxIterations < 1 {
		return nil, fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.Tolerance < 0 {
		return nil, fmt.Errorf("tolerance must not be negative, got %g", c.Tolerance)
	}
	if c.Jobs < 1 {
		return nil, fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}

	opts := []quant.Option{
		quant.WithSeed(c.Seed),
		quant.WithMaxIterations(c.MaxIterations),
		quant.WithTolerance(float32(c.Tolerance)),
		quant.WithChannels(channels),
		quant.WithAlphaPolicy(alpha),
	}
	if c.Backend != "" && c.Backend != "auto" {
		opts = append(opts, quant.WithBackendName(c.Backend))
	}
	return opts, nil
}

// parseChannels accepts any non-empty combination of the letters r, g, b, a.
func parseChannels(s string) (quant.Channels, error) {
	var c quant.Channels
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'r':
			c |= quant.ChannelR
		case 'g':
			c |= quant.ChannelG
		case 'b':
			c |= quant.ChannelB
		case 'a':
			c |= quant.ChannelA
		default:
			return 0, fmt.Errorf("channels %q: unknown channel %q", s, r)
		}
	}
	if c == 0 {
		return 0, fmt.Errorf("channels: empty set")
	}
	return c, nil
}

func parseAlpha(s string) (quant.AlphaPolicy, error) {
	switch strings.ToLower(s) {
	case "centroid", "":
		return quant.AlphaFromCentroid, nil
	case "source":
		return quant.AlphaFromSource, nil
	}
	return 0, fmt.Errorf("alpha %q: want centroid or source", s)
}
