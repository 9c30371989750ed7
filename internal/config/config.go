package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Trigger modes.
const (
	TriggerPeriodic      = "periodic"
	TriggerExternalEvent = "external-event"
)

// Config holds all application configuration values.
type Config struct {
	DeviceID string

	// Sampling
	FrameSize    int
	SampleRateHz float64

	// Trigger
	TriggerMode     string
	TriggerInterval time.Duration
	TriggerGPIOPin  string

	// Upload
	MaxChunkSize      int
	MaxLabelLen       int
	UploadTransport   string // "mqtt" or "websocket"
	MQTTBroker        string
	MQTTClientID      string
	UploadTopicPrefix string
	UploadWSURL       string

	// Sensor source
	SensorSource   string // "mpu9250", "serial" or "mock"
	IMUSPIDevice   string
	IMUCSPin       string
	IMUAccelRange  byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	SerialPort     string
	SerialBaudRate int

	// Classifier
	Classifier    string // "energy" or "eim"
	EIMSocketPath string
	PullChunk     int

	// Receiver
	ReceiverListenAddr string
	MaxPayload         int

	// Observability
	MetricsListenAddr string
	DisplayEnabled    bool
	DisplayI2CBus     string
	LogLevel          string
	LogFile           string
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// knownKeys lists every key Load accepts, with its default ("" means none).
var knownKeys = map[string]any{
	"DEVICE_ID":            "",
	"FRAME_SIZE":           375,
	"SAMPLE_RATE_HZ":       62.5,
	"TRIGGER_MODE":         TriggerPeriodic,
	"TRIGGER_INTERVAL_MS":  10000,
	"TRIGGER_GPIO_PIN":     "",
	"MAX_CHUNK_SIZE":       1024,
	"MAX_LABEL_LEN":        32,
	"UPLOAD_TRANSPORT":     "mqtt",
	"MQTT_BROKER":          "",
	"MQTT_CLIENT_ID":       "",
	"UPLOAD_TOPIC_PREFIX":  "motion/upload",
	"UPLOAD_WS_URL":        "",
	"SENSOR_SOURCE":        "mpu9250",
	"IMU_SPI_DEVICE":       "/dev/spidev0.0",
	"IMU_CS_PIN":           "8",
	"IMU_ACCEL_RANGE":      0,
	"SERIAL_PORT":          "/dev/serial0",
	"SERIAL_BAUD_RATE":     115200,
	"CLASSIFIER":           "energy",
	"EIM_SOCKET_PATH":      "",
	"PULL_CHUNK":           48,
	"RECEIVER_LISTEN_ADDR": ":8080",
	"MAX_PAYLOAD":          65536,
	"METRICS_LISTEN_ADDR":  "",
	"DISPLAY_ENABLED":      false,
	"DISPLAY_I2C_BUS":      "",
	"LOG_LEVEL":            "INFO",
	"LOG_FILE":             "",
}

// Load reads a KEY=VALUE configuration file and returns a validated Config.
// Environment variables with the same key names override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, def := range knownKeys {
		v.SetDefault(key, def)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := checkUnknownKeys(v); err != nil {
			return nil, err
		}
	}

	return fromViper(v)
}

// checkUnknownKeys rejects keys that Load does not understand, so typos fail loudly.
func checkUnknownKeys(v *viper.Viper) error {
	var unknown []string
	for _, key := range v.AllKeys() {
		if _, ok := knownKeys[strings.ToUpper(key)]; !ok {
			unknown = append(unknown, strings.ToUpper(key))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown config key(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	accelRange := v.GetInt("IMU_ACCEL_RANGE")
	if accelRange < 0 || accelRange > 3 {
		return nil, fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", accelRange)
	}

	cfg := &Config{
		DeviceID:           v.GetString("DEVICE_ID"),
		FrameSize:          v.GetInt("FRAME_SIZE"),
		SampleRateHz:       v.GetFloat64("SAMPLE_RATE_HZ"),
		TriggerMode:        v.GetString("TRIGGER_MODE"),
		TriggerInterval:    time.Duration(v.GetInt("TRIGGER_INTERVAL_MS")) * time.Millisecond,
		TriggerGPIOPin:     v.GetString("TRIGGER_GPIO_PIN"),
		MaxChunkSize:       v.GetInt("MAX_CHUNK_SIZE"),
		MaxLabelLen:        v.GetInt("MAX_LABEL_LEN"),
		UploadTransport:    v.GetString("UPLOAD_TRANSPORT"),
		MQTTBroker:         v.GetString("MQTT_BROKER"),
		MQTTClientID:       v.GetString("MQTT_CLIENT_ID"),
		UploadTopicPrefix:  strings.TrimSuffix(v.GetString("UPLOAD_TOPIC_PREFIX"), "/"),
		UploadWSURL:        v.GetString("UPLOAD_WS_URL"),
		SensorSource:       v.GetString("SENSOR_SOURCE"),
		IMUSPIDevice:       v.GetString("IMU_SPI_DEVICE"),
		IMUCSPin:           v.GetString("IMU_CS_PIN"),
		IMUAccelRange:      byte(accelRange),
		SerialPort:         v.GetString("SERIAL_PORT"),
		SerialBaudRate:     v.GetInt("SERIAL_BAUD_RATE"),
		Classifier:         v.GetString("CLASSIFIER"),
		EIMSocketPath:      v.GetString("EIM_SOCKET_PATH"),
		PullChunk:          v.GetInt("PULL_CHUNK"),
		ReceiverListenAddr: v.GetString("RECEIVER_LISTEN_ADDR"),
		MaxPayload:         v.GetInt("MAX_PAYLOAD"),
		MetricsListenAddr:  v.GetString("METRICS_LISTEN_ADDR"),
		DisplayEnabled:     v.GetBool("DISPLAY_ENABLED"),
		DisplayI2CBus:      v.GetString("DISPLAY_I2C_BUS"),
		LogLevel:           strings.ToUpper(v.GetString("LOG_LEVEL")),
		LogFile:            v.GetString("LOG_FILE"),
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "motion-" + cfg.DeviceID
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks that all required fields are set and consistent.
func (c *Config) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if strings.ContainsAny(c.DeviceID, "/+#") {
		return fmt.Errorf("DEVICE_ID %q must not contain MQTT topic characters", c.DeviceID)
	}
	if c.FrameSize <= 0 || c.FrameSize%3 != 0 {
		return fmt.Errorf("FRAME_SIZE must be a positive multiple of 3, got %d", c.FrameSize)
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("SAMPLE_RATE_HZ must be positive, got %g", c.SampleRateHz)
	}
	switch c.TriggerMode {
	case TriggerPeriodic:
		if c.TriggerInterval <= 0 {
			return fmt.Errorf("TRIGGER_INTERVAL_MS must be positive in periodic mode")
		}
	case TriggerExternalEvent:
		if c.TriggerGPIOPin == "" {
			return fmt.Errorf("TRIGGER_GPIO_PIN is required in external-event mode")
		}
	default:
		return fmt.Errorf("TRIGGER_MODE must be %q or %q, got %q", TriggerPeriodic, TriggerExternalEvent, c.TriggerMode)
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.MaxLabelLen <= 0 {
		return fmt.Errorf("MAX_LABEL_LEN must be positive, got %d", c.MaxLabelLen)
	}
	switch c.UploadTransport {
	case "mqtt":
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for the mqtt transport")
		}
	case "websocket":
		if c.UploadWSURL == "" {
			return fmt.Errorf("UPLOAD_WS_URL is required for the websocket transport")
		}
	default:
		return fmt.Errorf("UPLOAD_TRANSPORT must be mqtt or websocket, got %q", c.UploadTransport)
	}
	switch c.SensorSource {
	case "mpu9250", "mock":
	case "serial":
		if c.SerialPort == "" || c.SerialBaudRate <= 0 {
			return fmt.Errorf("SERIAL_PORT and SERIAL_BAUD_RATE are required for the serial source")
		}
	default:
		return fmt.Errorf("SENSOR_SOURCE must be mpu9250, serial or mock, got %q", c.SensorSource)
	}
	if c.PullChunk <= 0 || c.PullChunk%3 != 0 {
		return fmt.Errorf("PULL_CHUNK must be a positive multiple of 3, got %d", c.PullChunk)
	}
	switch c.Classifier {
	case "energy":
	case "eim":
		if c.EIMSocketPath == "" {
			return fmt.Errorf("EIM_SOCKET_PATH is required for the eim classifier")
		}
	default:
		return fmt.Errorf("CLASSIFIER must be energy or eim, got %q", c.Classifier)
	}
	if c.MaxPayload <= 0 {
		return fmt.Errorf("MAX_PAYLOAD must be positive, got %d", c.MaxPayload)
	}
	return nil
}

// SamplePeriod is the fixed delay between two accelerometer readings.
func (c *Config) SamplePeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.SampleRateHz)
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
