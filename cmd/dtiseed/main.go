// Package main is the dtiseed command line tool. It computes streamline seed
// points from a diffusion tensor volume.
package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dtiseed/internal/logging"
	"dtiseed/pkg/config"
	"dtiseed/pkg/field"
	"dtiseed/pkg/header"
	"dtiseed/pkg/output"
	"dtiseed/pkg/pipeline"
	"dtiseed/pkg/visualization"
)

const (
	// Flags.
	flagLittleEndian = "little-endian"
	flagWidth        = "width"
	flagHeight       = "height"
	flagDepth        = "depth"
	flagOutput       = "output"
	flagNumPoints    = "number-of-seeding-points"
	flagStepSize     = "seeding-point-calculation-stepsize"
	flagThreshold    = "fa-volume-product-threshold"
	flagHeader       = "header"
	flagConfig       = "config"
	flagFormat       = "format"
	flagCores        = "cores"
	flagSaveSlices   = "save-fa-slices"
	flagSlicesDir    = "slices-dir"
	flagStrictShape  = "strict-shape"
	flagGCS          = "gcs"
	flagVerbose      = "verbose"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "dtiseed",
		Usage:     "compute streamline seed points from a diffusion tensor volume",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagLittleEndian,
				Usage: "tensor samples are stored little-endian (default big-endian)",
			},
			&cli.IntFlag{
				Name:    flagWidth,
				Aliases: []string{"w"},
				Usage:   "grid width in voxels",
			},
			&cli.IntFlag{
				Name:  flagHeight,
				Usage: "grid height in voxels",
			},
			&cli.IntFlag{
				Name:    flagDepth,
				Aliases: []string{"d"},
				Usage:   "grid depth in voxels",
			},
			&cli.StringFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Usage:   "write the result record to `FILE`",
			},
			&cli.IntFlag{
				Name:    flagNumPoints,
				Aliases: []string{"s"},
				Usage:   "number of seeding points to compute",
			},
			&cli.IntFlag{
				Name:    flagStepSize,
				Aliases: []string{"S"},
				Usage:   "lattice spacing of candidate seeding points",
			},
			&cli.Float64Flag{
				Name:    flagThreshold,
				Aliases: []string{"T"},
				Usage:   "minimum FA product around a candidate seeding point",
			},
			&cli.StringFlag{
				Name:  flagHeader,
				Usage: "read dimensions, endianness and data file from header `FILE`",
			},
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from YAML `FILE`",
			},
			&cli.StringFlag{
				Name:  flagFormat,
				Usage: "output format, bincode or sqlite",
			},
			&cli.IntFlag{
				Name:  flagCores,
				Usage: "number of CPU cores to use",
			},
			&cli.BoolFlag{
				Name:  flagSaveSlices,
				Usage: "save JPEG slices of the FA map with seeds marked",
			},
			&cli.StringFlag{
				Name:  flagSlicesDir,
				Usage: "directory for FA slices",
			},
			&cli.BoolFlag{
				Name:  flagStrictShape,
				Usage: "fail when the data holds more samples than the grid needs",
			},
			&cli.BoolFlag{
				Name:  flagGCS,
				Usage: "create a Cloud Storage client for gs:// data files",
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "print a summary of a result record",
				ArgsUsage: "FILE",
				Action:    inspectAction,
			},
			{
				Name:      "init-config",
				Usage:     "write a default configuration file",
				ArgsUsage: "PATH",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return errors.New("init-config needs a PATH")
					}
					if err := config.CreateDefaultConfigFile(path); err != nil {
						return err
					}
					fmt.Printf("Default configuration written to %s\n", path)
					return nil
				},
			},
		},
	}
}

// loadConfig reads the config file, if any, then the tensor header, and
// applies command line overrides on top of both.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := c.String(flagConfig); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "config file")
		}
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if file := c.Args().First(); file != "" {
		cfg.Input.DataFile = file
	}

	// the header sits between the config file and the flags
	if c.IsSet(flagHeader) {
		cfg.Input.Header = c.String(flagHeader)
	}
	if cfg.Input.Header != "" {
		h, err := header.ParseFile(cfg.Input.Header)
		if err != nil {
			return nil, err
		}
		cfg.ApplyHeader(h)
		cfg.Input.Header = ""
	}

	if c.IsSet(flagLittleEndian) {
		cfg.Input.LittleEndian = c.Bool(flagLittleEndian)
	}
	if c.IsSet(flagWidth) {
		cfg.Input.Width = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		cfg.Input.Height = c.Int(flagHeight)
	}
	if c.IsSet(flagDepth) {
		cfg.Input.Depth = c.Int(flagDepth)
	}
	if c.IsSet(flagNumPoints) {
		cfg.Seeding.NumSeedingPoints = c.Int(flagNumPoints)
	}
	if c.IsSet(flagStepSize) {
		cfg.Seeding.StepSize = c.Int(flagStepSize)
	}
	if c.IsSet(flagThreshold) {
		cfg.Seeding.FAVolumeProductThreshold = c.Float64(flagThreshold)
	}
	if c.IsSet(flagCores) {
		cfg.Processing.NumCores = c.Int(flagCores)
	}
	if c.IsSet(flagStrictShape) {
		cfg.Processing.StrictShape = c.Bool(flagStrictShape)
	}
	if c.IsSet(flagOutput) {
		cfg.Output.File = c.String(flagOutput)
	}
	if c.IsSet(flagFormat) {
		cfg.Output.Format = c.String(flagFormat)
	}
	if c.IsSet(flagSaveSlices) {
		cfg.Output.SaveFASlices = c.Bool(flagSaveSlices)
	}
	if c.IsSet(flagSlicesDir) {
		cfg.Output.SlicesDir = c.String(flagSlicesDir)
	}
	if c.IsSet(flagVerbose) {
		cfg.Output.Verbose = c.Bool(flagVerbose)
	}
	return cfg, nil
}

func runAction(c *cli.Context) (err error) {
	if c.Args().Len() > 1 {
		return errors.Errorf("expected a single FILE, got %d arguments", c.Args().Len())
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Input.DataFile == "" && cfg.Input.Header == "" {
		return cli.ShowAppHelp(c)
	}

	logger, err := logging.NewLogger("dtiseed", cfg.Output.Verbose)
	if err != nil {
		return err
	}
	defer func() {
		// stderr sync fails on some terminals, ignore it
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	if c.Bool(flagGCS) || strings.HasPrefix(cfg.Input.DataFile, "gs://") {
		client, cerr := storage.NewClient(ctx)
		if cerr != nil {
			return errors.Wrap(cerr, "creating storage client")
		}
		defer func() {
			err = multierr.Combine(err, client.Close())
		}()
		opts = append(opts, pipeline.WithStorage(client))
	}

	startTime := time.Now()
	p := pipeline.NewPipeline(cfg, logger, opts...)
	if err := p.Process(ctx); err != nil {
		return err
	}

	stats := p.Stats()
	fmt.Printf("\nSeed search completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Directional voxels: %d of %d (mean FA %.3f)\n", stats.Directional, stats.Voxels, stats.MeanFA)
	fmt.Printf("Seeding points: %d of %d requested\n", len(p.Result().Seeds), cfg.Seeding.NumSeedingPoints)
	fmt.Printf("Result written to: %s (%s)\n", cfg.Output.File, cfg.Output.Format)
	return nil
}

func inspectAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("inspect needs a FILE")
	}
	rec, err := output.ReadFile(path)
	if err != nil {
		return err
	}
	g, err := field.FromRecord(rec)
	if err != nil {
		return err
	}
	stats := field.Stats(g)

	fmt.Printf("Grid: %dx%dx%d (%d voxels)\n", rec.Width, rec.Height, rec.Depth, stats.Voxels)
	fmt.Printf("Directional voxels: %d\n", stats.Directional)
	fmt.Printf("FA mean %.4f, std dev %.4f, median %.4f, max %.4f\n",
		stats.MeanFA, stats.StdDevFA, stats.MedianFA, stats.MaxFA)
	fmt.Printf("Seeding points: %d\n", len(rec.Seeds))
	viewer := visualization.NewViewer(g, rec.Seeds)
	for i, p := range rec.Seeds {
		fa, err := viewer.Neighbourhood(int(math.Round(float64(p.X))), int(math.Round(float64(p.Y))),
			int(math.Round(float64(p.Z))), 1)
		if err != nil {
			return errors.Wrapf(err, "seed %d", i)
		}
		fmt.Printf("  %3d: (%g, %g, %g) neighbourhood FA mean %.4f, min %.4f\n",
			i, p.X, p.Y, p.Z, stat.Mean(fa, nil), floats.Min(fa))
	}
	return nil
}
