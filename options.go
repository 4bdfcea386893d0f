package quant

import "github.com/gogpu/quant/backend"

// Defaults used when no option overrides them.
const (
	// DefaultSeed seeds the centroid initializer.
	DefaultSeed uint64 = 42

	// DefaultMaxIterations is the iteration ceiling.
	DefaultMaxIterations = 30

	// DefaultTolerance is the convergence threshold ε in normalized color units.
	DefaultTolerance float32 = 1e-3
)

// Channels selects the color components compared by the distance metric.
type Channels uint32

// Channel sets.
const (
	ChannelR    = Channels(backend.ChannelR)
	ChannelG    = Channels(backend.ChannelG)
	ChannelB    = Channels(backend.ChannelB)
	ChannelA    = Channels(backend.ChannelA)
	ChannelRGB  = Channels(backend.ChannelRGB)
	ChannelRGBA = Channels(backend.ChannelRGBA)
)

// AlphaPolicy decides where the output alpha comes from.
type AlphaPolicy uint32

const (
	// AlphaFromCentroid writes the alpha of the assigned centroid, so alpha
	// is quantized together with color. This is the default.
	AlphaFromCentroid = AlphaPolicy(backend.AlphaCentroid)

	// AlphaFromSource keeps each pixel's original alpha byte.
	AlphaFromSource = AlphaPolicy(backend.AlphaSource)
)

// String returns "centroid" or "source".
func (p AlphaPolicy) String() string {
	if p == AlphaFromSource {
		return "source"
	}
	return "centroid"
}

// Option configures an Engine.
//
// Example:
//
//	// Defaults: seed 42, 30 iterations, RGBA distance
//	out, err := quant.Quantize(ctx, img, 16)
//
//	// Custom seed, RGB-only distance, keep source alpha
//	out, err := quant.Quantize(ctx, img, 16,
//	    quant.WithSeed(7),
//	    quant.WithChannels(quant.ChannelRGB),
//	    quant.WithAlphaPolicy(quant.AlphaFromSource))
type Option func(*options)

// options holds optional configuration for an Engine.
type options struct {
	seed          uint64
	maxIterations int
	tolerance     float32
	channels      Channels
	alpha         AlphaPolicy
	backend       backend.Backend
	backendName   string
}

// defaultOptions returns the default engine options.
func defaultOptions() options {
	return options{
		seed:          DefaultSeed,
		maxIterations: DefaultMaxIterations,
		tolerance:     DefaultTolerance,
		channels:      ChannelRGBA,
		alpha:         AlphaFromCentroid,
	}
}

// WithSeed sets the seed of the centroid initializer.
// Identical input, K and seed produce bit-identical output.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithMaxIterations sets the iteration ceiling. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.maxIterations = n
		}
	}
}

// WithTolerance sets the convergence threshold ε. A centroid has converged
// when it moves by at most ε (Euclidean, normalized units) in one update.
// Negative values are ignored.
func WithTolerance(eps float32) Option {
	return func(o *options) {
		if eps >= 0 {
			o.tolerance = eps
		}
	}
}

// WithChannels sets the channels compared by the distance metric.
// An empty set is ignored.
func WithChannels(c Channels) Option {
	return func(o *options) {
		if c&ChannelRGBA != 0 {
			o.channels = c & ChannelRGBA
		}
	}
}

// WithAlphaPolicy sets where output alpha comes from.
func WithAlphaPolicy(p AlphaPolicy) Option {
	return func(o *options) {
		o.alpha = p
	}
}

// WithBackend uses b for all jobs of the engine. The engine initializes b
// but never closes it; the caller keeps ownership.
func WithBackend(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithBackendName selects a registered backend by name (e.g., "software",
// "native"). Without WithBackend or WithBackendName the engine uses
// backend.InitDefault.
func WithBackendName(name string) Option {
	return func(o *options) {
		o.backendName = name
	}
}
