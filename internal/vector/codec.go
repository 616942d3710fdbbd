package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// File layout (little endian):
//
//	magic   [4]byte "CFV1"
//	dim     uint32
//	values  dim * float32
//	crc     uint32 (IEEE, over dim and values)
var magic = [4]byte{'C', 'F', 'V', '1'}

const headerSize = 8

// ErrCorrupt is returned when encoded bytes cannot be decoded into a vector.
var ErrCorrupt = errors.New("corrupt vector encoding")

// Encode serializes vec. Values are stored bit-for-bit, so Decode(Encode(v)) == v
// including NaN payloads and signed zeros.
func Encode(vec []float32) []byte {
	out := make([]byte, headerSize+len(vec)*4+4)
	copy(out[:4], magic[:])
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(vec)))
	putFloat32s(out[headerSize:], vec)
	sum := crc32.ChecksumIEEE(out[4 : len(out)-4])
	binary.LittleEndian.PutUint32(out[len(out)-4:], sum)
	return out
}

// Decode parses bytes produced by Encode. It also accepts a JSON array of numbers,
// the format older scrapers wrote embeddings in.
func Decode(data []byte) ([]float32, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], magic[:]) {
		return decodeBinary(data)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeJSON(trimmed)
	}
	return nil, fmt.Errorf("%w: unrecognized header", ErrCorrupt)
}

func decodeBinary(data []byte) ([]float32, error) {
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("%w: short buffer (%d bytes)", ErrCorrupt, len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[4:8]))
	want := headerSize + dim*4 + 4
	if dim < 0 || len(data) != want {
		return nil, fmt.Errorf("%w: length %d does not match dimension %d", ErrCorrupt, len(data), dim)
	}
	sum := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(data[4:len(data)-4]) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return getFloat32s(data[headerSize : len(data)-4]), nil
}

func decodeJSON(data []byte) ([]float32, error) {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

func putFloat32s(dst []byte, s []float32) {
	for i, v := range s {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
