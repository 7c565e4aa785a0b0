// Package pipeline runs the whole seed extraction: it loads a tensor volume,
// builds the direction field, searches it for seed points and writes the
// result record.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dtiseed/internal/logging"
	"dtiseed/pkg/config"
	"dtiseed/pkg/field"
	"dtiseed/pkg/header"
	"dtiseed/pkg/output"
	"dtiseed/pkg/seeding"
	"dtiseed/pkg/tensor"
	"dtiseed/pkg/visualization"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStorage lets the pipeline read gs:// data files through client.
func WithStorage(client *storage.Client) Option {
	return func(p *Pipeline) {
		p.opener.Storage = client
	}
}

// Pipeline turns a tensor volume into a record of seed points.
//
// The process consists of four stages:
// 1. Decoding the tensor samples (raw, compressed, remote or NIfTI)
// 2. Building the direction field
// 3. Searching the field for seed points
// 4. Writing the record, and optionally FA slices
type Pipeline struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	opener tensor.Opener

	width  int
	height int
	depth  int

	grid   *field.Grid
	shape  field.ShapeReport
	stats  field.FieldStats
	result *seeding.Result
}

// NewPipeline creates a pipeline for cfg. A nil logger discards output.
func NewPipeline(cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, logger: logging.OrNop(logger)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the complete pipeline. Errors are *StageError values naming
// the stage that failed. No record is written unless every earlier stage
// succeeded.
func (p *Pipeline) Process(ctx context.Context) error {
	start := time.Now()

	if err := p.configure(); err != nil {
		return stageErr(StageConfig, err)
	}

	p.logger.Debugw("decoding tensor data", "file", p.cfg.Input.DataFile)
	samples, err := p.loadSamples(ctx)
	if err != nil {
		return stageErr(StageDecode, err)
	}

	params := p.cfg.SeedingParams()
	if err := params.Validate(p.width, p.height, p.depth); err != nil {
		return stageErr(StageConfig, err)
	}

	p.logger.Debugw("building direction field", "width", p.width, "height", p.height, "depth", p.depth)
	if err := p.build(samples); err != nil {
		return stageErr(StageBuild, err)
	}

	p.logger.Debugw("searching seed points", "points", params.NumPoints, "step", params.StepSize)
	result, err := seeding.Search(ctx, p.grid, params, p.logger)
	p.result = result
	if err != nil {
		return stageErr(StageSearch, err)
	}

	if err := p.write(ctx); err != nil {
		return stageErr(StageWrite, err)
	}

	if p.cfg.Output.SaveFASlices {
		p.saveSlices()
	}

	p.logger.Infow("processing completed",
		"seeds", len(p.result.Seeds),
		"output", p.cfg.Output.File,
		"format", p.cfg.Output.Format,
		"elapsed", time.Since(start))
	return nil
}

// configure applies the header file, if any, and validates the config.
func (p *Pipeline) configure() error {
	if p.cfg.Input.Header != "" {
		h, err := header.ParseFile(p.cfg.Input.Header)
		if err != nil {
			return err
		}
		p.cfg.ApplyHeader(h)
		p.logger.Debugw("applied header", "header", p.cfg.Input.Header,
			"width", h.Width, "height", h.Height, "depth", h.Depth, "littleEndian", h.LittleEndian)
	}
	return p.cfg.Validate()
}

func isNIfTI(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

// loadSamples reads the tensor samples and fixes the grid dimensions.
func (p *Pipeline) loadSamples(ctx context.Context) ([]float32, error) {
	in := p.cfg.Input
	if isNIfTI(in.DataFile) {
		vol, err := p.opener.LoadNIfTI(ctx, in.DataFile)
		if err != nil {
			return nil, err
		}
		if (in.Width != 0 && in.Width != vol.Width) ||
			(in.Height != 0 && in.Height != vol.Height) ||
			(in.Depth != 0 && in.Depth != vol.Depth) {
			p.logger.Warnw("configured dimensions ignored for NIfTI input",
				"configured", []int{in.Width, in.Height, in.Depth},
				"image", []int{vol.Width, vol.Height, vol.Depth})
		}
		p.width, p.height, p.depth = vol.Width, vol.Height, vol.Depth
		return vol.Samples, nil
	}

	count, err := field.SampleCount(in.Width, in.Height, in.Depth)
	if err != nil {
		return nil, errors.Wrap(err, "raw input")
	}
	p.width, p.height, p.depth = in.Width, in.Height, in.Depth

	data, err := p.opener.ReadAll(ctx, in.DataFile)
	if err != nil {
		return nil, err
	}
	return tensor.Decode(data, count, tensor.ByteOrder(in.LittleEndian))
}

func (p *Pipeline) build(samples []float32) error {
	grid, report, err := field.Build(samples, p.width, p.height, p.depth, p.cfg.BuildOptions())
	p.shape = report
	if err != nil {
		return err
	}
	if !report.OK() {
		p.logger.Warnw(report.Warning, "expected", report.Expected, "available", report.Available)
	}
	p.grid = grid

	p.stats = field.Stats(grid)
	p.logger.Infow("direction field built",
		"voxels", p.stats.Voxels,
		"directional", p.stats.Directional,
		"meanFA", p.stats.MeanFA,
		"medianFA", p.stats.MedianFA,
		"maxFA", p.stats.MaxFA)
	return nil
}

func (p *Pipeline) write(ctx context.Context) error {
	rec := p.grid.Record(p.result.Seeds)
	switch p.cfg.Output.Format {
	case config.FormatSQLite:
		return output.WriteSQLite(ctx, p.cfg.Output.File, rec)
	default:
		return output.WriteFile(p.cfg.Output.File, rec)
	}
}

// saveSlices writes FA slices along every axis. Failures are logged only.
func (p *Pipeline) saveSlices() {
	viewer := visualization.NewViewer(p.grid, p.result.Seeds)
	for _, axis := range []string{"x", "y", "z"} {
		dir := filepath.Join(p.cfg.Output.SlicesDir, axis)
		p.logger.Debugw("saving FA slices", "axis", axis, "dir", dir)
		if err := viewer.SaveSliceSequence(axis, dir); err != nil {
			p.logger.Warnw("failed to save FA slices", "axis", axis, "error", err)
		}
	}
}

// Grid returns the direction field, or nil before the build stage ran.
func (p *Pipeline) Grid() *field.Grid {
	return p.grid
}

// Result returns the seed search result. After a cancelled search it holds
// the seeds accepted before cancellation.
func (p *Pipeline) Result() *seeding.Result {
	return p.result
}

// Stats returns the anisotropy statistics of the field.
func (p *Pipeline) Stats() field.FieldStats {
	return p.stats
}

// Shape returns the sample count check made by the build stage.
func (p *Pipeline) Shape() field.ShapeReport {
	return p.shape
}
