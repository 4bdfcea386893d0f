// Command quant reduces images to K colors with GPU k-means clustering.
//
// Usage:
//
//	quant [flags] input...
//
// Inputs and outputs are local paths or s3://bucket/key URLs. Output names
// come from the -o template, where {dir}, {name}, {ext} and {k} expand to
// the input directory, base name without extension, extension and K.
//
// Settings can also be read from a TOML file with -config; flags given on
// the command line override the file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/quant"
	"github.com/gogpu/quant/internal/blobstore"
	"github.com/gogpu/quant/internal/imageio"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, inputs, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "quant:", err)
		return exitUsage
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	quant.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
	defer quant.SetLogger(nil)

	opts, err := cfg.options()
	if err != nil {
		fmt.Fprintln(stderr, "quant:", err)
		return exitUsage
	}
	jobs, err := planJobs(inputs, cfg.Output, cfg.K)
	if err != nil {
		fmt.Fprintln(stderr, "quant:", err)
		return exitUsage
	}

	engine := quant.New(opts...)
	defer engine.Close()

	p := &processor{
		engine:  engine,
		store:   blobstore.NewRouter(""),
		k:       cfg.K,
		encode:  imageio.Options{JPEGQuality: cfg.JPEGQuality},
		printer: message.NewPrinter(language.English),
	}
	if err := p.runAll(ctx, jobs, cfg.Jobs, stdout); err != nil {
		fmt.Fprintln(stderr, "quant:", err)
		return exitError
	}
	return exitOK
}

// parseArgs reads flags and the optional config file. Flags explicitly set
// on the command line win over the file.
func parseArgs(args []string, stderr io.Writer) (config, []string, error) {
	def := defaultConfig()
	fs := flag.NewFlagSet("quant", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: quant [flags] input...")
		fs.PrintDefaults()
	}

	var (
		configPath = fs.String("config", "", "TOML config file")
		k          = fs.Int("k", def.K, "number of colors")
		seed       = fs.Uint64("seed", def.Seed, "centroid initializer seed")
		iters      = fs.Int("iters", def.MaxIterations, "iteration ceiling")
		tol        = fs.Float64("tol", def.Tolerance, "convergence tolerance in normalized color units")
		backend    = fs.String("backend", def.Backend, "compute backend: auto, native or software")
		alpha      = fs.String("alpha", def.Alpha, "output alpha: centroid or source")
		channels   = fs.String("channels", def.Channels, "channels compared by the distance, e.g. rgb")
		output     = fs.String("o", def.Output, "output name template")
		jobs       = fs.Int("j", def.Jobs, "images processed concurrently")
		quality    = fs.Int("quality", 0, "JPEG quality 1..100 (0 = default)")
		verbose    = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return config{}, nil, err
	}

	cfg := def
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			return config{}, nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "k":
			cfg.K = *k
		case "seed":
			cfg.Seed = *seed
		case "iters":
			cfg.MaxIterations = *iters
		case "tol":
			cfg.Tolerance = *tol
		case "backend":
			cfg.Backend = *backend
		case "alpha":
			cfg.Alpha = *alpha
		case "channels":
			cfg.Channels = *channels
		case "o":
			cfg.Output = *output
		case "j":
			cfg.Jobs = *jobs
		case "quality":
			cfg.JPEGQuality = *quality
		case "v":
			cfg.Verbose = *verbose
		}
	})

	if fs.NArg() == 0 {
		fs.Usage()
		return config{}, nil, errors.New("no input images")
	}
	return cfg, fs.Args(), nil
}

// job is one input image and where its result goes.
type job struct {
	in, out blobstore.Location
	format  imageio.Format
}

// planJobs expands the output template for every input. Two inputs mapping
// to the same output are rejected before any work starts.
func planJobs(inputs []string, tmpl string, k int) ([]job, error) {
	jobs := make([]job, 0, len(inputs))
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		src, err := blobstore.ParseLocation(in)
		if err != nil {
			return nil, err
		}
		name := expand(tmpl, src, k)
		dst, err := blobstore.ParseLocation(name)
		if err != nil {
			return nil, err
		}
		format, err := imageio.FormatFromPath(dst.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, ok := seen[dst.String()]; ok {
			return nil, fmt.Errorf("%s and %s both write %s", prev, in, dst)
		}
		seen[dst.String()] = in
		jobs = append(jobs, job{in: src, out: dst, format: format})
	}
	return jobs, nil
}

// expand fills the output template for one input. Inputs without an encoder
// for their extension (e.g. WebP) default to PNG output.
func expand(tmpl string, in blobstore.Location, k int) string {
	var dir, base string
	if in.Remote() {
		dir = "s3://" + in.Bucket
		if d := path.Dir(in.Key); d != "." {
			dir += "/" + d
		}
		base = path.Base(in.Key)
	} else {
		dir = filepath.Dir(in.Key)
		base = filepath.Base(in.Key)
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if _, err := imageio.FormatFromPath(base); err != nil {
		ext = "png"
	}

	return strings.NewReplacer(
		"{dir}", dir,
		"{name}", name,
		"{ext}", ext,
		"{k}", strconv.Itoa(k),
	).Replace(tmpl)
}

// processor runs jobs on a shared engine.
type processor struct {
	engine  *quant.Engine
	store   *blobstore.Router
	k       int
	encode  imageio.Options
	printer *message.Printer
}

// summary is the outcome of one job, printed once all jobs have finished.
type summary struct {
	job     job
	width   int
	height  int
	result  *quant.Result
	elapsed time.Duration
}

// runAll processes jobs with at most limit in flight and prints one summary
// line per image in input order. The first failure cancels the rest.
func (p *processor) runAll(ctx context.Context, jobs []job, limit int, w io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	summaries := make([]summary, len(jobs))
	for i, j := range jobs {
		g.Go(func() error {
			s, err := p.process(ctx, j)
			if err != nil {
				return fmt.Errorf("%s: %w", j.in, err)
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range summaries {
		p.print(w, s)
	}
	return nil
}

func (p *processor) process(ctx context.Context, j job) (summary, error) {
	start := time.Now()

	data, err := p.store.Get(ctx, j.in)
	if err != nil {
		return summary{}, err
	}
	img, _, err := imageio.Decode(data)
	if err != nil {
		return summary{}, err
	}

	res, err := p.engine.Run(ctx, img, p.k)
	if err != nil {
		return summary{}, err
	}

	out, err := imageio.Encode(res.Image, j.format, p.encode)
	if err != nil {
		return summary{}, err
	}
	if err := p.store.Put(ctx, j.out, out); err != nil {
		return summary{}, err
	}

	quant.Logger().Debug("quant: image written",
		"input", j.in.String(),
		"output", j.out.String(),
		"bytes", len(out))
	return summary{job: j, width: img.Width, height: img.Height, result: res, elapsed: time.Since(start)}, nil
}

func (p *processor) print(w io.Writer, s summary) {
	r := s.result
	state := "converged"
	if !r.Converged {
		state = "iteration ceiling"
	}
	p.printer.Fprintf(w, "%s -> %s: %dx%d (%d pixels), K=%d, %d iterations (%s), backend %s, %v",
		s.job.in, s.job.out, s.width, s.height, s.width*s.height, len(r.Palette),
		r.Iterations, state, r.Backend, s.elapsed.Round(time.Millisecond))
	if r.HasKernelTime {
		p.printer.Fprintf(w, ", kernels %v", r.KernelTime.Round(time.Microsecond))
	}
	p.printer.Fprintln(w)
}
