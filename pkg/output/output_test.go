package output

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtiseed/internal/models"
)

func sampleRecord() *models.Record {
	rec := &models.Record{Width: 3, Height: 2, Depth: 2}
	rec.Voxels = make([]models.Voxel, 12)
	rec.Voxels[1] = models.Voxel{DirX: 1, FA: 0.8}
	rec.Voxels[7] = models.Voxel{DirY: 0.6, DirZ: 0.8, FA: 0.25}
	rec.Seeds = []models.SeedPoint{{X: 1, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}}
	return rec
}

func TestEncodeLayout(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(&buf, rec))

	// header + depth/plane/row prefixes + tuples + seed count + seeds
	want := 3*8 + 8 + 2*8 + 2*2*8 + 12*16 + 8 + 2*12
	require.Equal(t, want, buf.Len())

	b := buf.Bytes()
	u64 := func(off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }
	f32 := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }

	assert.Equal(t, uint64(3), u64(0))
	assert.Equal(t, uint64(2), u64(8))
	assert.Equal(t, uint64(2), u64(16))
	assert.Equal(t, uint64(2), u64(24), "outer length is the depth")
	assert.Equal(t, uint64(2), u64(32), "plane length is the height")
	assert.Equal(t, uint64(3), u64(40), "row length is the width")

	// second voxel of the first row
	assert.Equal(t, float32(1), f32(48+16))
	assert.Equal(t, float32(0.8), f32(48+16+12))

	seeds := want - 8 - 2*12
	assert.Equal(t, uint64(2), u64(seeds))
	assert.Equal(t, float32(1), f32(seeds+8+12+8))
}

func TestRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(&buf, rec))

	got, err := DecodeRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestEncodeRejectsMismatchedVoxels(t *testing.T) {
	rec := sampleRecord()
	rec.Voxels = rec.Voxels[:5]
	require.Error(t, EncodeRecord(&bytes.Buffer{}, rec))
}

func TestDecodeCorrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(&buf, sampleRecord()))
	full := buf.Bytes()

	_, err := DecodeRecord(bytes.NewReader(full[:len(full)-3]))
	assert.ErrorIs(t, err, ErrCorruptRecord, "truncated")

	_, err = DecodeRecord(bytes.NewReader(full[:10]))
	assert.ErrorIs(t, err, ErrCorruptRecord, "short header")

	bad := append([]byte(nil), full...)
	binary.LittleEndian.PutUint64(bad[40:], 4)
	_, err = DecodeRecord(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrCorruptRecord, "row length")

	zero := make([]byte, 24)
	_, err = DecodeRecord(bytes.NewReader(zero))
	assert.ErrorIs(t, err, ErrCorruptRecord, "empty grid")
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bincode")
	rec := sampleRecord()
	require.NoError(t, WriteFile(path, rec))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestWriteSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "out.sqlite")
	rec := sampleRecord()

	// a second write replaces the first
	require.NoError(t, WriteSQLite(ctx, path, rec))
	require.NoError(t, WriteSQLite(ctx, path, rec))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var w, h, d int
	require.NoError(t, db.QueryRow(`SELECT width, height, depth FROM grid`).Scan(&w, &h, &d))
	assert.Equal(t, []int{3, 2, 2}, []int{w, h, d})

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM grid`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM voxels`).Scan(&n))
	assert.Equal(t, 2, n, "only anisotropic voxels are stored")

	var x, y, z int
	var fa float64
	require.NoError(t, db.QueryRow(`SELECT x, y, z, fa FROM voxels WHERE idx = 7`).Scan(&x, &y, &z, &fa))
	assert.Equal(t, []int{1, 0, 1}, []int{x, y, z})
	assert.InDelta(t, 0.25, fa, 1e-6)

	rows, err := db.Query(`SELECT x, y, z FROM seeds ORDER BY ord`)
	require.NoError(t, err)
	defer rows.Close()
	var seeds []models.SeedPoint
	for rows.Next() {
		var p models.SeedPoint
		require.NoError(t, rows.Scan(&p.X, &p.Y, &p.Z))
		seeds = append(seeds, p)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, rec.Seeds, seeds)
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	require.Error(t, err)
}
