// Package tensor turns stored tensor volumes into flat float32 sample
// arrays for the field builder.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// SampleSize is the size in bytes of one stored sample.
const SampleSize = 4

// ErrDecode is matched by every *DecodeError.
var ErrDecode = errors.New("tensor: decode failed")

// DecodeError reports a byte buffer that cannot supply the requested samples.
type DecodeError struct {
	Want   int // samples requested
	Got    int // complete samples available
	Bytes  int // buffer length
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tensor: decode failed: %s (want %d samples, got %d from %d bytes)",
		e.Reason, e.Want, e.Got, e.Bytes)
}

// Is makes errors.Is(err, ErrDecode) hold for a *DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// ByteOrder returns the byte order of stored samples.
func ByteOrder(littleEndian bool) binary.ByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Decode reads IEEE 754 float32 samples from buf. At least count samples
// must be present; any further complete samples are decoded too so callers
// can detect a shape mismatch. A trailing partial sample is an error.
func Decode(buf []byte, count int, order binary.ByteOrder) ([]float32, error) {
	n := len(buf) / SampleSize
	if count < 0 {
		return nil, &DecodeError{Want: count, Got: n, Bytes: len(buf), Reason: "negative sample count"}
	}
	if len(buf)%SampleSize != 0 {
		return nil, &DecodeError{Want: count, Got: n, Bytes: len(buf), Reason: "trailing partial sample"}
	}
	if n < count {
		return nil, &DecodeError{Want: count, Got: n, Bytes: len(buf), Reason: "buffer too short"}
	}

	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(order.Uint32(buf[i*SampleSize:]))
	}
	return out, nil
}

// Encode writes samples in the given byte order. It is the inverse of Decode.
func Encode(samples []float32, order binary.ByteOrder) []byte {
	buf := make([]byte, len(samples)*SampleSize)
	for i, v := range samples {
		order.PutUint32(buf[i*SampleSize:], math.Float32bits(v))
	}
	return buf
}
