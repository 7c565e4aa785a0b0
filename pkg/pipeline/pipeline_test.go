package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/henghuang/nifti"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtiseed/internal/models"
	"dtiseed/pkg/config"
	"dtiseed/pkg/field"
	"dtiseed/pkg/output"
	"dtiseed/pkg/seeding"
	"dtiseed/pkg/tensor"
)

// needleX is a confident tensor whose principal direction is +X.
var needleX = []float32{1, 10, 0, 0, 1, 0, 1}

func needleVolume(width, height, depth int) []float32 {
	samples := make([]float32, 0, width*height*depth*field.Channels)
	for i := 0; i < width*height*depth; i++ {
		samples = append(samples, needleX...)
	}
	return samples
}

func writeData(t *testing.T, dir string, samples []float32, little bool) string {
	t.Helper()
	path := filepath.Join(dir, "dt.raw")
	require.NoError(t, os.WriteFile(path, tensor.Encode(samples, tensor.ByteOrder(little)), 0o644))
	return path
}

// writeNIfTI stores a 4x4x4 needle volume as a gzipped NIfTI-1 image with
// the channels in the fourth dimension.
func writeNIfTI(t *testing.T, dir string) string {
	t.Helper()
	hdr := nifti.Nifti1Header{
		SizeofHdr: 348,
		Dim:       [8]int16{4, 4, 4, 4, field.Channels, 1, 1, 1},
		Datatype:  16,
		Bitpix:    32,
		VoxOffset: 352,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	var img bytes.Buffer
	require.NoError(t, binary.Write(&img, binary.LittleEndian, &hdr))
	img.Write(make([]byte, 4))
	for _, v := range needleX {
		for i := 0; i < 4*4*4; i++ {
			require.NoError(t, binary.Write(&img, binary.LittleEndian, v))
		}
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := filepath.Join(dir, "dt.nii.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testConfig(dir, data string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Input.Width, cfg.Input.Height, cfg.Input.Depth = 4, 4, 4
	cfg.Input.DataFile = data
	cfg.Seeding.NumSeedingPoints = 1
	cfg.Seeding.StepSize = 1
	cfg.Seeding.FAVolumeProductThreshold = 0
	cfg.Processing.NumCores = 2
	cfg.Output.File = filepath.Join(dir, "out.bincode")
	cfg.Output.SlicesDir = filepath.Join(dir, "slices")
	return cfg
}

func requireStage(t *testing.T, err error, stage Stage) *StageError {
	t.Helper()
	require.Error(t, err)
	var se *StageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, stage, se.Stage, err.Error())
	return se
}

func TestProcessNeedleBincode(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeData(t, dir, needleVolume(4, 4, 4), false))

	p := NewPipeline(cfg, nil)
	require.NoError(t, p.Process(context.Background()))

	require.NotNil(t, p.Grid())
	require.Len(t, p.Result().Seeds, 1)
	assert.Equal(t, models.SeedPoint{X: 1, Y: 1, Z: 1}, p.Result().Seeds[0])
	assert.True(t, p.Shape().OK())
	assert.Equal(t, 64, p.Stats().Directional)

	rec, err := output.ReadFile(cfg.Output.File)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Width)
	assert.Equal(t, p.Result().Seeds, rec.Seeds)
	assert.Equal(t, p.Grid().Voxels(), rec.Voxels)
	for _, v := range rec.Voxels {
		assert.Equal(t, float32(1), v.DirX)
	}

	_, err = os.Stat(cfg.Output.SlicesDir)
	assert.True(t, os.IsNotExist(err), "slices are opt-in")
}

func TestProcessCompressedLittleEndianSQLite(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(tensor.Encode(needleVolume(4, 4, 4), tensor.ByteOrder(true)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	data := filepath.Join(dir, "dt.raw.gz")
	require.NoError(t, os.WriteFile(data, buf.Bytes(), 0o644))

	cfg := testConfig(dir, data)
	cfg.Input.LittleEndian = true
	cfg.Output.Format = config.FormatSQLite
	cfg.Output.File = filepath.Join(dir, "out.sqlite")
	cfg.Output.SaveFASlices = true

	p := NewPipeline(cfg, nil)
	require.NoError(t, p.Process(context.Background()))

	db, err := sql.Open("sqlite", cfg.Output.File)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM seeds`).Scan(&n))
	assert.Equal(t, 1, n)

	for _, axis := range []string{"x", "y", "z"} {
		entries, err := os.ReadDir(filepath.Join(cfg.Output.SlicesDir, axis))
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	}
}

func TestProcessHeader(t *testing.T) {
	dir := t.TempDir()
	writeData(t, dir, needleVolume(4, 4, 4), true)
	hdr := filepath.Join(dir, "dt.nhdr")
	require.NoError(t, os.WriteFile(hdr, []byte("sizes: 7 4 4 4\nendian: little\ndata file: dt.raw\n"), 0o644))

	cfg := testConfig(dir, "")
	cfg.Input.Width, cfg.Input.Height, cfg.Input.Depth = 0, 0, 0
	cfg.Input.Header = hdr

	p := NewPipeline(cfg, nil)
	require.NoError(t, p.Process(context.Background()))
	assert.Equal(t, filepath.Join(dir, "dt.raw"), cfg.Input.DataFile)
	require.Len(t, p.Result().Seeds, 1)
}

func TestProcessHeaderWithoutSizes(t *testing.T) {
	dir := t.TempDir()
	writeData(t, dir, needleVolume(4, 4, 4), true)
	hdr := filepath.Join(dir, "dt.nhdr")
	require.NoError(t, os.WriteFile(hdr, []byte("endian: little\ndata file: dt.raw\n"), 0o644))

	cfg := testConfig(dir, "")
	cfg.Input.Header = hdr

	p := NewPipeline(cfg, nil)
	require.NoError(t, p.Process(context.Background()))
	assert.Equal(t, 64, p.Grid().Len())
	assert.True(t, cfg.Input.LittleEndian)
	require.Len(t, p.Result().Seeds, 1)
}

func TestProcessOverflowingHeaderSizes(t *testing.T) {
	dir := t.TempDir()
	writeData(t, dir, needleX, false)
	hdr := filepath.Join(dir, "dt.nhdr")
	require.NoError(t, os.WriteFile(hdr, []byte("sizes: 7 1048576 1048576 2097152\ndata file: dt.raw\n"), 0o644))

	cfg := testConfig(dir, "")
	cfg.Input.Header = hdr

	p := NewPipeline(cfg, nil)
	require.NotPanics(t, func() {
		se := requireStage(t, p.Process(context.Background()), StageDecode)
		assert.ErrorIs(t, se, field.ErrInvalidDimensions)
	})
	assert.Nil(t, p.Grid())
	assert.NoFileExists(t, cfg.Output.File)
}

func TestProcessDecodeErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	samples := needleVolume(4, 4, 4)
	cfg := testConfig(dir, writeData(t, dir, samples[:len(samples)-field.Channels], false))

	p := NewPipeline(cfg, nil)
	se := requireStage(t, p.Process(context.Background()), StageDecode)
	assert.ErrorIs(t, se, tensor.ErrDecode)
	assert.Nil(t, p.Grid())
	assert.NoFileExists(t, cfg.Output.File)
}

func TestProcessExtraSamples(t *testing.T) {
	dir := t.TempDir()
	samples := append(needleVolume(4, 4, 4), needleX...)
	cfg := testConfig(dir, writeData(t, dir, samples, false))

	p := NewPipeline(cfg, nil)
	require.NoError(t, p.Process(context.Background()))
	assert.False(t, p.Shape().OK())

	cfg.Processing.StrictShape = true
	cfg.Output.File = filepath.Join(dir, "strict.bincode")
	p = NewPipeline(cfg, nil)
	se := requireStage(t, p.Process(context.Background()), StageBuild)
	assert.ErrorIs(t, se, field.ErrShapeMismatch)
	assert.NoFileExists(t, cfg.Output.File)
}

func TestProcessConfigErrors(t *testing.T) {
	dir := t.TempDir()
	data := writeData(t, dir, needleVolume(4, 4, 4), false)

	cfg := testConfig(dir, data)
	cfg.Seeding.StepSize = 2
	se := requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageConfig)
	assert.ErrorIs(t, se, seeding.ErrStepSize)

	cfg = testConfig(dir, data)
	cfg.Output.Format = "json"
	se = requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageConfig)
	assert.ErrorIs(t, se, config.ErrInvalidConfig)

	cfg = testConfig(dir, data)
	cfg.Input.Header = filepath.Join(dir, "missing.nhdr")
	requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageConfig)

	cfg = testConfig(dir, data)
	cfg.Input.Depth = 0
	se = requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageDecode)
	assert.ErrorIs(t, se, field.ErrInvalidDimensions)
}

func TestProcessMissingDataFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, filepath.Join(dir, "nope.raw"))
	requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageDecode)

	cfg = testConfig(dir, "gs://bucket/dt.raw")
	requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageDecode)
}

func TestProcessCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeData(t, dir, needleVolume(4, 4, 4), false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(cfg, nil)
	se := requireStage(t, p.Process(ctx), StageSearch)
	assert.ErrorIs(t, se, context.Canceled)
	require.NotNil(t, p.Result())
	assert.Empty(t, p.Result().Seeds)
	assert.NoFileExists(t, cfg.Output.File)
}

func TestProcessWriteError(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeData(t, dir, needleVolume(4, 4, 4), false))
	cfg.Output.File = filepath.Join(dir, "missing", "out.bincode")

	requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageWrite)
}

func TestStageErrorMessage(t *testing.T) {
	err := stageErr(StageBuild, field.ErrShortSamples)
	assert.Contains(t, err.Error(), "build: ")
	assert.ErrorIs(t, err, field.ErrShortSamples)
}

func TestProcessNIfTI(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeNIfTI(t, dir))
	cfg.Input.Width, cfg.Input.Height, cfg.Input.Depth = 0, 0, 0

	p := NewPipeline(cfg, nil)
	require.NoError(t, p.Process(context.Background()))
	assert.Equal(t, 64, p.Stats().Directional)
	require.Len(t, p.Result().Seeds, 1)
	assert.Equal(t, models.SeedPoint{X: 1, Y: 1, Z: 1}, p.Result().Seeds[0])
}

func TestProcessRemoteNIfTIUsesOpener(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, "gs://bucket/dt.nii.gz")

	se := requireStage(t, NewPipeline(cfg, nil).Process(context.Background()), StageDecode)
	assert.ErrorContains(t, se, "no storage client")
}

func TestIsNIfTI(t *testing.T) {
	for path, want := range map[string]bool{
		"dt.nii":           true,
		"/data/DT.NII.GZ":  true,
		"dt.raw":           false,
		"dt.nii.xz":        false,
		"gs://b/dt.nii.gz": true,
	} {
		assert.Equal(t, want, isNIfTI(path), path)
	}
}
