package window

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerFeature is the wire size of one window element.
const BytesPerFeature = 4

// EncodeWindow serializes features as consecutive little-endian IEEE-754
// float32 values, matching the in-memory layout on the device.
func EncodeWindow(features []float32) []byte {
	return AppendWindow(make([]byte, 0, len(features)*BytesPerFeature), features)
}

// AppendWindow appends the wire form of features to dst.
func AppendWindow(dst []byte, features []float32) []byte {
	for _, f := range features {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

// DecodeWindow is the inverse of EncodeWindow.
func DecodeWindow(b []byte) ([]float32, error) {
	if len(b)%BytesPerFeature != 0 {
		return nil, fmt.Errorf("window payload of %d bytes is not a whole number of float32 values", len(b))
	}
	out := make([]float32, len(b)/BytesPerFeature)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerFeature:]))
	}
	return out, nil
}
