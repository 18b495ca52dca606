package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

var errInvalidVector = errors.New("invalid vector encoding")

// encodeVector serializes a float32 vector as a length-prefixed
// little-endian byte blob.
func encodeVector(vector []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vector))); err != nil {
		return nil, err
	}
	for _, v := range vector {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// decodeVector reverses encodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, errInvalidVector
	}
	r := bytes.NewReader(data)
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || int(n)*4 > r.Len() {
		return nil, errInvalidVector
	}
	out := make([]float32, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// l2Distance computes the Euclidean distance between two equal-length
// vectors.
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
