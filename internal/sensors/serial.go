package sensors

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/motion_classifier/internal/sample"
)

// LineSource reads one "x,y,z" reading (in g) per line. Blank lines and lines
// starting with '#' are skipped.
type LineSource struct {
	sc   *bufio.Scanner
	line int
}

// NewLineSource wraps any line-oriented reader.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{sc: bufio.NewScanner(r)}
}

// OpenSerial opens a serial port and returns a LineSource on it together with
// the port, which the caller must close.
func OpenSerial(port string, baud int) (*LineSource, io.Closer, error) {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	rwc, err := serial.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("serial open %s: %w", port, err)
	}
	log.Info().Msgf("sample serial port opened on %s at %d baud", port, baud)

	return NewLineSource(rwc), rwc, nil
}

func (s *LineSource) Read() (sample.Sample, error) {
	for s.sc.Scan() {
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := parseLine(text)
		if err != nil {
			return sample.Sample{}, fmt.Errorf("serial line %d: %w", s.line, err)
		}
		return v, nil
	}
	if err := s.sc.Err(); err != nil {
		return sample.Sample{}, fmt.Errorf("serial read: %w", err)
	}
	return sample.Sample{}, sample.ErrExhausted
}

func parseLine(text string) (sample.Sample, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != sample.Axes {
		return sample.Sample{}, fmt.Errorf("expected %d values, got %d in %q", sample.Axes, len(fields), text)
	}

	var axes [sample.Axes]float32
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return sample.Sample{}, fmt.Errorf("axis %d: %w", i, err)
		}
		axes[i] = float32(v)
	}
	return sample.Sample{X: axes[0], Y: axes[1], Z: axes[2]}, nil
}
