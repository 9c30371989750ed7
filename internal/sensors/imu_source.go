// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_classifier/internal/sample"
)

// accelLSBPerG is the accelerometer sensitivity for each full-scale setting
// (0=±2g, 1=±4g, 2=±8g, 3=±16g).
var accelLSBPerG = [...]float32{16384, 8192, 4096, 2048}

// accelReader is the part of the MPU9250 driver the sample source needs.
type accelReader interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
}

// IMUSource reads the accelerometer of an MPU9250 and converts it to g.
type IMUSource struct {
	imu   accelReader
	scale float32
}

// NewIMUSource initializes an MPU9250 over SPI with the given full-scale
// accelerometer range.
func NewIMUSource(spiDev, csPin string, accelRange byte) (*IMUSource, error) {
	if int(accelRange) >= len(accelLSBPerG) {
		return nil, fmt.Errorf("IMU: accel range %d out of bounds", accelRange)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", spiDev, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := imu.Calibrate(); err != nil {
		log.Warn().Err(err).Msg("IMU calibration failed")
	} else {
		log.Info().Msg("IMU calibration complete")
	}

	// Calibrate leaves the accelerometer at its own range, so set ours last.
	if err := imu.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Info().Msgf("IMU: accelerometer range set to %d (±%dg)", accelRange, []int{2, 4, 8, 16}[accelRange])

	return newIMUSource(imu, accelRange), nil
}

func newIMUSource(imu accelReader, accelRange byte) *IMUSource {
	return &IMUSource{imu: imu, scale: 1 / accelLSBPerG[accelRange]}
}

// Read returns one accelerometer reading in g.
func (s *IMUSource) Read() (sample.Sample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return sample.Sample{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return sample.Sample{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return sample.Sample{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	return sample.Sample{
		X: float32(ax) * s.scale,
		Y: float32(ay) * s.scale,
		Z: float32(az) * s.scale,
	}, nil
}
