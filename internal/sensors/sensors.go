// Package sensors provides the accelerometer sample sources: an MPU9250 over
// SPI, a line-oriented serial feed, and a synthetic mock.
package sensors

import (
	"fmt"
	"io"

	"github.com/relabs-tech/motion_classifier/internal/config"
	"github.com/relabs-tech/motion_classifier/internal/sample"
)

// Sensor source names accepted by Open.
const (
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
	SourceMock    = "mock"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the sample source selected by cfg.SensorSource. The returned
// closer releases the underlying device and is never nil on success.
func Open(cfg *config.Config) (sample.Source, io.Closer, error) {
	switch cfg.SensorSource {
	case SourceMPU9250:
		src, err := NewIMUSource(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange)
		if err != nil {
			return nil, nil, err
		}
		return src, nopCloser{}, nil
	case SourceSerial:
		src, port, err := OpenSerial(cfg.SerialPort, cfg.SerialBaudRate)
		if err != nil {
			return nil, nil, err
		}
		return src, port, nil
	case SourceMock:
		return NewMockSource(cfg.SampleRateHz), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}
