// Package output persists result records.
//
// The binary record uses the bincode layout read by the streamline viewer:
// little-endian u64 width, height and depth, the grid as three nested
// u64-length-prefixed sequences (depth, height, width) of (dirX, dirY,
// dirZ, fa) float32 tuples, then a u64-length-prefixed sequence of
// (x, y, z) float32 seed points.
package output

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"dtiseed/internal/models"
)

// ErrCorruptRecord is returned when a record cannot be decoded.
var ErrCorruptRecord = errors.New("output: corrupt record")

// maxVoxels bounds the grid size accepted by DecodeRecord.
const maxVoxels = 1 << 30

type encoder struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

func (e *encoder) u64(v uint64) {
	if e.err != nil {
		return
	}
	binary.LittleEndian.PutUint64(e.buf[:], v)
	_, e.err = e.w.Write(e.buf[:8])
}

func (e *encoder) f32(v float32) {
	if e.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(e.buf[:], math.Float32bits(v))
	_, e.err = e.w.Write(e.buf[:4])
}

// EncodeRecord writes rec to w.
func EncodeRecord(w io.Writer, rec *models.Record) error {
	if len(rec.Voxels) != rec.Width*rec.Height*rec.Depth {
		return errors.Errorf("output: record has %d voxels for a %dx%dx%d grid",
			len(rec.Voxels), rec.Width, rec.Height, rec.Depth)
	}

	e := &encoder{w: bufio.NewWriter(w)}
	e.u64(uint64(rec.Width))
	e.u64(uint64(rec.Height))
	e.u64(uint64(rec.Depth))

	e.u64(uint64(rec.Depth))
	i := 0
	for z := 0; z < rec.Depth; z++ {
		e.u64(uint64(rec.Height))
		for y := 0; y < rec.Height; y++ {
			e.u64(uint64(rec.Width))
			for x := 0; x < rec.Width; x++ {
				v := rec.Voxels[i]
				e.f32(v.DirX)
				e.f32(v.DirY)
				e.f32(v.DirZ)
				e.f32(v.FA)
				i++
			}
		}
	}

	e.u64(uint64(len(rec.Seeds)))
	for _, p := range rec.Seeds {
		e.f32(p.X)
		e.f32(p.Y)
		e.f32(p.Z)
	}

	if e.err != nil {
		return errors.Wrap(e.err, "output: writing record")
	}
	return errors.Wrap(e.w.Flush(), "output: flushing record")
}

type decoder struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

func (d *decoder) u64() uint64 {
	if d.err != nil {
		return 0
	}
	if _, d.err = io.ReadFull(d.r, d.buf[:8]); d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(d.buf[:8])
}

func (d *decoder) f32() float32 {
	if d.err != nil {
		return 0
	}
	if _, d.err = io.ReadFull(d.r, d.buf[:4]); d.err != nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(d.buf[:4]))
}

// expectLen reads a sequence length and checks it against want.
func (d *decoder) expectLen(what string, want int) {
	got := d.u64()
	if d.err == nil && got != uint64(want) {
		d.err = errors.Wrapf(ErrCorruptRecord, "%s length %d, want %d", what, got, want)
	}
}

// DecodeRecord reads a record written by EncodeRecord.
func DecodeRecord(r io.Reader) (*models.Record, error) {
	d := &decoder{r: bufio.NewReader(r)}
	width, height, depth := d.u64(), d.u64(), d.u64()
	if d.err != nil {
		return nil, errors.Wrap(ErrCorruptRecord, d.err.Error())
	}
	if width == 0 || height == 0 || depth == 0 ||
		width > maxVoxels || height > maxVoxels || depth > maxVoxels ||
		width*height > maxVoxels || width*height*depth > maxVoxels {
		return nil, errors.Wrapf(ErrCorruptRecord, "implausible grid %dx%dx%d", width, height, depth)
	}

	rec := &models.Record{Width: int(width), Height: int(height), Depth: int(depth)}
	rec.Voxels = make([]models.Voxel, 0, rec.Width*rec.Height*rec.Depth)

	d.expectLen("depth", rec.Depth)
	for z := 0; z < rec.Depth && d.err == nil; z++ {
		d.expectLen("plane", rec.Height)
		for y := 0; y < rec.Height && d.err == nil; y++ {
			d.expectLen("row", rec.Width)
			for x := 0; x < rec.Width && d.err == nil; x++ {
				rec.Voxels = append(rec.Voxels, models.Voxel{DirX: d.f32(), DirY: d.f32(), DirZ: d.f32(), FA: d.f32()})
			}
		}
	}

	n := d.u64()
	if d.err == nil && n > uint64(rec.Width*rec.Height*rec.Depth) {
		d.err = errors.Wrapf(ErrCorruptRecord, "%d seeds for %d voxels", n, len(rec.Voxels))
	}
	for i := uint64(0); i < n && d.err == nil; i++ {
		rec.Seeds = append(rec.Seeds, models.SeedPoint{X: d.f32(), Y: d.f32(), Z: d.f32()})
	}

	if d.err != nil {
		if errors.Is(d.err, ErrCorruptRecord) {
			return nil, d.err
		}
		return nil, errors.Wrap(ErrCorruptRecord, d.err.Error())
	}
	return rec, nil
}

// WriteFile encodes rec into path.
func WriteFile(path string, rec *models.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "output: creating record file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return EncodeRecord(f, rec)
}

// ReadFile decodes the record stored at path.
func ReadFile(path string) (rec *models.Record, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "output: opening record file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return DecodeRecord(f)
}
