// Package header parses the text header that accompanies a raw tensor file.
//
// Recognised lines:
//
//	sizes: 7 WIDTH HEIGHT DEPTH
//	endian: little|big
//	data file: PATH
//	encoding: raw|gzip|bzip2|xz
//
// Other lines are ignored.
package header

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrMalformedHeader is returned for header lines that cannot be parsed.
var ErrMalformedHeader = errors.New("header: malformed")

const (
	sizesKey    = "sizes: "
	endianKey   = "endian: "
	dataFileKey = "data file: "
	encodingKey = "encoding: "
)

// Header holds the fields read from a tensor header.
type Header struct {
	Width, Height, Depth int
	LittleEndian         bool

	// HasSizes and HasEndian report whether the header set those fields
	HasSizes  bool
	HasEndian bool

	// DataFile is empty when the header names no data file
	DataFile string

	// Encoding is informational; compressed data is detected from its content
	Encoding string
}

// Parse reads a header from r.
func Parse(r io.Reader) (*Header, error) {
	h := &Header{Encoding: "raw"}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		s := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(s, sizesKey):
			if err := h.parseSizes(strings.TrimPrefix(s, sizesKey)); err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			h.HasSizes = true
		case strings.HasPrefix(s, endianKey):
			h.LittleEndian = strings.TrimSpace(strings.TrimPrefix(s, endianKey)) == "little"
			h.HasEndian = true
		case strings.HasPrefix(s, dataFileKey):
			h.DataFile = strings.TrimSpace(strings.TrimPrefix(s, dataFileKey))
		case strings.HasPrefix(s, encodingKey):
			h.Encoding = strings.TrimSpace(strings.TrimPrefix(s, encodingKey))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	return h, nil
}

func (h *Header) parseSizes(value string) error {
	fields := strings.Fields(value)
	if len(fields) != 4 {
		return errors.Wrapf(ErrMalformedHeader, "sizes needs 4 values, got %d", len(fields))
	}
	sizes := make([]int, 4)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 {
			return errors.Wrapf(ErrMalformedHeader, "size %q is not a positive integer", f)
		}
		sizes[i] = n
	}
	if sizes[0] != 7 {
		return errors.Wrapf(ErrMalformedHeader, "first size must be 7 channels, got %d", sizes[0])
	}
	h.Width, h.Height, h.Depth = sizes[1], sizes[2], sizes[3]
	return nil
}

// ParseFile reads the header at path. A relative data file is resolved
// against the header's directory.
func ParseFile(path string) (h *Header, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening header")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	h, err = Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if h.DataFile != "" && !filepath.IsAbs(h.DataFile) && !strings.HasPrefix(h.DataFile, "gs://") {
		h.DataFile = filepath.Join(filepath.Dir(path), h.DataFile)
	}
	return h, nil
}
