package sqlitestore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// Vectors are stored as little-endian float32 BLOBs with an int32 element
// count prefix.

func encodeVector(vector []float32) []byte {
	if vector == nil {
		return nil
	}
	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: vector blob truncated", domain.ErrStorage)
	}
	n := int(int32(binary.LittleEndian.Uint32(data)))
	if n < 0 || len(data) != 4+4*n {
		return nil, fmt.Errorf("%w: vector blob length %d does not match count %d", domain.ErrStorage, len(data), n)
	}
	vector := make([]float32, n)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}
