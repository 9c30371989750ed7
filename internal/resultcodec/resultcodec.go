// Package resultcodec serializes classification results as a CBOR map of
// label → float32 score, keeping the classifier's label order on the wire.
package resultcodec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/relabs-tech/motion_classifier/internal/classifier"
)

// ErrBufferTooSmall is returned when the destination cannot hold the encoding.
var ErrBufferTooSmall = errors.New("encode buffer too small")

const (
	majorMap = 5

	// float32 item: 0xfa + 4 bytes
	scoreSize = 5
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Scores always go out as 4-byte floats, even when a shorter form would do.
	encMode, err = cbor.EncOptions{
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// headSize is the length of a CBOR item head carrying argument n.
func headSize(n uint64) int {
	switch {
	case n < 24:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

func appendHead(dst []byte, major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return append(dst, m|byte(n))
	case n <= 0xff:
		return append(dst, m|24, byte(n))
	case n <= 0xffff:
		return append(dst, m|25, byte(n>>8), byte(n))
	case n <= 0xffffffff:
		return append(dst, m|26, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	default:
		return append(dst, m|27, byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
			byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}

// EncodedSize is the exact number of bytes Encode writes for preds.
func EncodedSize(preds []classifier.Prediction) int {
	size := headSize(uint64(len(preds)))
	for _, p := range preds {
		size += headSize(uint64(len(p.Label))) + len(p.Label) + scoreSize
	}
	return size
}

// MaxEncodedSize bounds the encoding of entries predictions whose labels are
// at most maxLabelLen bytes long.
func MaxEncodedSize(entries, maxLabelLen int) int {
	return headSize(uint64(entries)) + entries*(headSize(uint64(maxLabelLen))+maxLabelLen+scoreSize)
}

// Encode writes the CBOR map for preds into dst and returns the number of
// bytes written. dst is left untouched when it is too small.
func Encode(dst []byte, preds []classifier.Prediction) (int, error) {
	need := EncodedSize(preds)
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, need, len(dst))
	}

	out := appendHead(dst[:0:need], majorMap, uint64(len(preds)))
	for _, p := range preds {
		key, err := encMode.Marshal(p.Label)
		if err != nil {
			return 0, fmt.Errorf("encode label %q: %w", p.Label, err)
		}
		val, err := encMode.Marshal(p.Score)
		if err != nil {
			return 0, fmt.Errorf("encode score for %q: %w", p.Label, err)
		}
		out = append(out, key...)
		out = append(out, val...)
	}
	if len(out) != need {
		return 0, fmt.Errorf("encoded %d bytes, expected %d", len(out), need)
	}
	return need, nil
}

// Encoder owns a buffer sized for a fixed label set and reuses it every cycle.
type Encoder struct {
	buf         []byte
	maxLabelLen int
}

// NewEncoder checks labels against maxLabelLen and preallocates the buffer.
// A label that does not fit is a configuration fault.
func NewEncoder(labels []string, maxLabelLen int) (*Encoder, error) {
	for _, l := range labels {
		if len(l) > maxLabelLen {
			return nil, fmt.Errorf("label %q is %d bytes, limit is %d", l, len(l), maxLabelLen)
		}
	}
	return &Encoder{
		buf:         make([]byte, MaxEncodedSize(len(labels), maxLabelLen)),
		maxLabelLen: maxLabelLen,
	}, nil
}

// Encode returns the encoding of preds. The slice is valid until the next call.
func (e *Encoder) Encode(preds []classifier.Prediction) ([]byte, error) {
	n, err := Encode(e.buf, preds)
	if err != nil {
		return nil, err
	}
	return e.buf[:n], nil
}

// Decode parses a CBOR map of text labels to float32 scores, preserving the
// order of the entries.
func Decode(b []byte) ([]classifier.Prediction, error) {
	r := bytes.NewReader(b)
	count, err := readMapHead(r)
	if err != nil {
		return nil, err
	}
	if count > uint64(len(b)) {
		return nil, fmt.Errorf("map claims %d entries in %d bytes", count, len(b))
	}
	body := r.Len()

	dec := decMode.NewDecoder(r)
	preds := make([]classifier.Prediction, 0, count)
	for i := uint64(0); i < count; i++ {
		var p classifier.Prediction
		if err := dec.Decode(&p.Label); err != nil {
			return nil, fmt.Errorf("entry %d label: %w", i, err)
		}
		if err := dec.Decode(&p.Score); err != nil {
			return nil, fmt.Errorf("entry %d score: %w", i, err)
		}
		preds = append(preds, p)
	}
	if dec.NumBytesRead() != body {
		return nil, fmt.Errorf("%d trailing bytes after map", body-dec.NumBytesRead())
	}
	return preds, nil
}

func readMapHead(r io.ByteReader) (uint64, error) {
	ib, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read map head: %w", err)
	}
	if ib>>5 != majorMap {
		return 0, fmt.Errorf("expected CBOR map, got major type %d", ib>>5)
	}
	ai := ib & 0x1f
	var extra int
	switch {
	case ai < 24:
		return uint64(ai), nil
	case ai == 24:
		extra = 1
	case ai == 25:
		extra = 2
	case ai == 26:
		extra = 4
	case ai == 27:
		extra = 8
	default:
		return 0, fmt.Errorf("unsupported map head 0x%02x", ib)
	}
	var n uint64
	for i := 0; i < extra; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read map head: %w", err)
		}
		n = n<<8 | uint64(c)
	}
	return n, nil
}
