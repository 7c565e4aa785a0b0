package tensor

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/xi2/xz"
	"go.uber.org/multierr"
)

// Compression identifies the container of a tensor data file.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBZip2
	CompressionXZ
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBZip2:
		return "bzip2"
	case CompressionXZ:
		return "xz"
	}
	return "raw"
}

var magic = []struct {
	kind Compression
	sig  []byte
}{
	{CompressionGzip, []byte{0x1f, 0x8b, 0x08}},
	{CompressionXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
	{CompressionBZip2, []byte{0x42, 0x5a, 0x68}},
}

// DetectCompression inspects the leading bytes of a stream.
func DetectCompression(head []byte) Compression {
	for _, m := range magic {
		if len(head) >= len(m.sig) && string(head[:len(m.sig)]) == string(m.sig) {
			return m.kind
		}
	}
	return CompressionNone
}

// Opener opens tensor data files. The zero value reads local files only;
// set Storage to also accept gs://bucket/object paths.
type Opener struct {
	Storage *storage.Client
}

// Open returns a reader over the decompressed contents of path.
func (o Opener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	raw, err := o.openRaw(ctx, path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(raw)
	head, err := br.Peek(6)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, multierr.Combine(errors.Wrapf(err, "reading %s", path), raw.Close())
	}

	var r io.Reader
	switch DetectCompression(head) {
	case CompressionGzip:
		gz, gerr := gzip.NewReader(br)
		if gerr != nil {
			return nil, multierr.Combine(errors.Wrapf(gerr, "gzip %s", path), raw.Close())
		}
		r = gz
	case CompressionBZip2:
		r = bzip2.NewReader(br)
	case CompressionXZ:
		xr, xerr := xz.NewReader(br, 0)
		if xerr != nil {
			return nil, multierr.Combine(errors.Wrapf(xerr, "xz %s", path), raw.Close())
		}
		r = xr
	default:
		r = br
	}
	return &readCloser{Reader: r, closer: raw}, nil
}

func (o Opener) openRaw(ctx context.Context, path string) (io.ReadCloser, error) {
	if !strings.HasPrefix(path, "gs://") {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "opening tensor data")
		}
		return f, nil
	}
	if o.Storage == nil {
		return nil, errors.Errorf("%s: no storage client configured for gs:// paths", path)
	}
	parts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, errors.Errorf("%s: expected gs://bucket/object", path)
	}
	r, err := o.Storage.Bucket(parts[0]).Object(parts[1]).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return r, nil
}

// ReadAll reads and decompresses the whole of path.
func (o Opener) ReadAll(ctx context.Context, path string) (data []byte, err error) {
	rc, err := o.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rc.Close())
	}()
	data, err = io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error {
	var err error
	if c, ok := r.Reader.(io.Closer); ok {
		err = c.Close()
	}
	return multierr.Combine(err, r.closer.Close())
}
