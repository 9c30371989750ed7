package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motion_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
# device identity
DEVICE_ID=bench-01
MQTT_BROKER=tcp://localhost:1883
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench-01", cfg.DeviceID)
	assert.Equal(t, 375, cfg.FrameSize)
	assert.Equal(t, 62.5, cfg.SampleRateHz)
	assert.Equal(t, 16*time.Millisecond, cfg.SamplePeriod())
	assert.Equal(t, TriggerPeriodic, cfg.TriggerMode)
	assert.Equal(t, 10*time.Second, cfg.TriggerInterval)
	assert.Equal(t, 1024, cfg.MaxChunkSize)
	assert.Equal(t, "motion-bench-01", cfg.MQTTClientID)
	assert.Equal(t, "motion/upload", cfg.UploadTopicPrefix)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadParsesValues(t *testing.T) {
	path := writeConfig(t, `
DEVICE_ID=bench-02
FRAME_SIZE=9
SAMPLE_RATE_HZ=100
TRIGGER_MODE=external-event
TRIGGER_GPIO_PIN=GPIO17
MAX_CHUNK_SIZE=16
UPLOAD_TRANSPORT=websocket
UPLOAD_WS_URL=ws://receiver:8080/ws/upload
SENSOR_SOURCE=mock
IMU_ACCEL_RANGE=2
DISPLAY_ENABLED=true
LOG_LEVEL=debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.FrameSize)
	assert.Equal(t, 10*time.Millisecond, cfg.SamplePeriod())
	assert.Equal(t, TriggerExternalEvent, cfg.TriggerMode)
	assert.Equal(t, "GPIO17", cfg.TriggerGPIOPin)
	assert.Equal(t, 16, cfg.MaxChunkSize)
	assert.Equal(t, "websocket", cfg.UploadTransport)
	assert.Equal(t, byte(2), cfg.IMUAccelRange)
	assert.True(t, cfg.DisplayEnabled)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "DEVICE_ID=bench-03\nMQTT_BROKER=tcp://a:1883\nFRAME_SIZE=30\n")
	t.Setenv("FRAME_SIZE", "60")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.FrameSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nFRAME_SIZ=9\n"},
		{"missing device", "MQTT_BROKER=tcp://a:1\n"},
		{"frame not multiple of 3", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nFRAME_SIZE=10\n"},
		{"zero rate", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nSAMPLE_RATE_HZ=0\n"},
		{"bad trigger", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nTRIGGER_MODE=button\n"},
		{"edge without pin", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nTRIGGER_MODE=external-event\n"},
		{"mqtt without broker", "DEVICE_ID=x\n"},
		{"zero chunk", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nMAX_CHUNK_SIZE=0\n"},
		{"accel range", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nIMU_ACCEL_RANGE=4\n"},
		{"topic chars in device", "DEVICE_ID=a/b\nMQTT_BROKER=tcp://a:1\n"},
		{"eim without socket", "DEVICE_ID=x\nMQTT_BROKER=tcp://a:1\nCLASSIFIER=eim\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}
