package sensors

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_classifier/internal/config"
	"github.com/relabs-tech/motion_classifier/internal/sample"
)

type fakeIMU struct {
	x, y, z int16
	err     error
}

func (f *fakeIMU) GetAccelerationX() (int16, error) { return f.x, nil }
func (f *fakeIMU) GetAccelerationY() (int16, error) { return f.y, f.err }
func (f *fakeIMU) GetAccelerationZ() (int16, error) { return f.z, nil }

func TestIMUSourceScalesToG(t *testing.T) {
	tests := []struct {
		accelRange byte
		raw        int16
		want       float32
	}{
		{0, 16384, 1},
		{1, 8192, 1},
		{2, -4096, -1},
		{3, 1024, 0.5},
	}
	for _, tt := range tests {
		src := newIMUSource(&fakeIMU{x: tt.raw, y: 0, z: tt.raw}, tt.accelRange)
		s, err := src.Read()
		require.NoError(t, err)
		assert.InDelta(t, tt.want, s.X, 1e-6, "range %d", tt.accelRange)
		assert.Zero(t, s.Y)
		assert.InDelta(t, tt.want, s.Z, 1e-6)
	}
}

func TestIMUSourceWrapsReadError(t *testing.T) {
	boom := errors.New("spi")
	src := newIMUSource(&fakeIMU{err: boom}, 0)
	_, err := src.Read()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "accel Y")
}

func TestLineSourceParsesReadings(t *testing.T) {
	src := NewLineSource(strings.NewReader("# header\n0.1,0.2,0.3\n\n -1 0 1.5 \n"))

	s, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, sample.Sample{X: 0.1, Y: 0.2, Z: 0.3}, s)

	s, err = src.Read()
	require.NoError(t, err)
	assert.Equal(t, sample.Sample{X: -1, Y: 0, Z: 1.5}, s)

	_, err = src.Read()
	assert.ErrorIs(t, err, sample.ErrExhausted)
}

func TestLineSourceRejectsBadLines(t *testing.T) {
	for _, line := range []string{"1,2", "1,2,3,4", "a,b,c"} {
		src := NewLineSource(strings.NewReader(line + "\n"))
		_, err := src.Read()
		assert.Error(t, err, line)
		assert.NotErrorIs(t, err, sample.ErrExhausted)
	}
}

func TestMockSourceIsDeterministic(t *testing.T) {
	a := NewMockSource(62.5)
	b := NewMockSource(62.5)
	for i := 0; i < 200; i++ {
		sa, err := a.Read()
		require.NoError(t, err)
		sb, err := b.Read()
		require.NoError(t, err)
		assert.Equal(t, sa, sb)
		assert.False(t, math.IsNaN(float64(sa.X)))
		assert.InDelta(t, 1, sa.Z, 0.02)
	}
}

func TestOpenMockAndUnknown(t *testing.T) {
	cfg := &config.Config{SensorSource: SourceMock, SampleRateHz: 50}
	src, closer, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())
	_, err = src.Read()
	assert.NoError(t, err)

	cfg.SensorSource = "laser"
	_, _, err = Open(cfg)
	assert.Error(t, err)
}
