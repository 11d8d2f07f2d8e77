package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gowindfarm/pkg/ina228"
	"github.com/itohio/gowindfarm/pkg/sensor"
)

var (
	ErrNoChannels       = errors.New("no sensor channels configured")
	ErrTooManyChannels  = fmt.Errorf("more than %d sensor channels configured", sensor.MaxChannels)
	ErrAddress          = errors.New("invalid sensor address")
	ErrDuplicateAddress = errors.New("duplicate sensor address")
)

const (
	minAddress = 0x40
	maxAddress = 0x4F
)

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Node    NodeConfig    `yaml:"node"`
	Sensors SensorsConfig `yaml:"sensors"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Mock    MockConfig    `yaml:"mock"`
	Host    HostConfig    `yaml:"host"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// NodeConfig contains control loop parameters.
type NodeConfig struct {
	Identity      string        `yaml:"identity"`
	CommandPeriod time.Duration `yaml:"command_period"`
	LineBuffer    int           `yaml:"line_buffer"`
	Idle          time.Duration `yaml:"idle"` // Pause between control loop passes
}

// SensorsConfig describes the INA228 channels and the reported fields.
type SensorsConfig struct {
	I2CBus          string          `yaml:"i2c_bus"`
	Channels        []ChannelConfig `yaml:"channels"`
	ShuntResistance float64         `yaml:"shunt_resistance"` // Ohm
	MaxCurrent      float64         `yaml:"max_current"`      // A
	ADCRange        uint8           `yaml:"adc_range"`
	Averaging       uint16          `yaml:"averaging"`
	ConversionTime  time.Duration   `yaml:"conversion_time"`
	Fields          []string        `yaml:"fields"`
	Simulate        bool            `yaml:"simulate"`
}

// ChannelConfig identifies one sensor channel.
type ChannelConfig struct {
	Address uint16 `yaml:"address"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// MetricsConfig contains the prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTConfig contains the line mirror configuration.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MockConfig contains simulated generator configuration.
type MockConfig struct {
	WindPeriod  time.Duration `yaml:"wind_period"`  // Gust cycle period
	PeakCurrent float64       `yaml:"peak_current"` // mA
	PeakVoltage float64       `yaml:"peak_voltage"` // mV
	NoiseLevel  float64       `yaml:"noise_level"`  // Fraction of peak
	SampleRate  time.Duration `yaml:"sample_rate"`  // Conversion period
}

// HostConfig contains host CLI configuration.
type HostConfig struct {
	LogFile        string `yaml:"log_file"`
	BufferSize     int    `yaml:"buffer_size"`
	AverageSamples int    `yaml:"average_samples"` // Number of records to average (0 = disabled, default)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	channels := make([]ChannelConfig, sensor.MaxChannels)
	for i := range channels {
		channels[i].Address = uint16(minAddress + i)
	}

	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Node: NodeConfig{
			Identity:      "Arduino, Wind Farm",
			CommandPeriod: 20 * time.Millisecond,
			LineBuffer:    64,
			Idle:          100 * time.Microsecond,
		},
		Sensors: SensorsConfig{
			I2CBus:          "1",
			Channels:        channels,
			ShuntResistance: 0.015,
			MaxCurrent:      0.2,
			ADCRange:        1,
			Averaging:       4,
			ConversionTime:  150 * time.Microsecond,
			Fields:          []string{"current", "bus_voltage", "energy"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: ":9101",
		},
		MQTT: MQTTConfig{
			Server:   "tcp://localhost:1883",
			ClientID: "windfarm-node",
			Topic:    "windfarm/lines",
		},
		Mock: MockConfig{
			WindPeriod:  10 * time.Second,
			PeakCurrent: 150,
			PeakVoltage: 5000,
			NoiseLevel:  0.01,
			SampleRate:  10 * time.Millisecond,
		},
		Host: HostConfig{
			LogFile:    "windfarm.tsv",
			BufferSize: 100,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the sensor layout and loop parameters.
func (c *Config) Validate() error {
	switch n := len(c.Sensors.Channels); {
	case n == 0:
		return ErrNoChannels
	case n > sensor.MaxChannels:
		return ErrTooManyChannels
	}

	seen := make(map[uint16]bool, len(c.Sensors.Channels))
	for _, ch := range c.Sensors.Channels {
		if ch.Address < minAddress || ch.Address > maxAddress {
			return fmt.Errorf("%w: 0x%02x", ErrAddress, ch.Address)
		}
		if seen[ch.Address] {
			return fmt.Errorf("%w: 0x%02x", ErrDuplicateAddress, ch.Address)
		}
		seen[ch.Address] = true
	}

	fields, err := c.Sensors.FieldSet()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return sensor.ErrNoFields
	}

	if c.Node.CommandPeriod <= 0 {
		return fmt.Errorf("command period must be positive, got %s", c.Node.CommandPeriod)
	}
	if c.Node.LineBuffer <= 0 {
		return fmt.Errorf("line buffer must be positive, got %d", c.Node.LineBuffer)
	}
	return nil
}

// Addresses returns the channel addresses in declared order.
func (s SensorsConfig) Addresses() []uint16 {
	addrs := make([]uint16, len(s.Channels))
	for i, ch := range s.Channels {
		addrs[i] = ch.Address
	}
	return addrs
}

// FieldSet decodes the configured field names.
func (s SensorsConfig) FieldSet() ([]sensor.Field, error) {
	return sensor.ParseFields(s.Fields)
}

// INA228 returns the driver configuration shared by all channels.
func (s SensorsConfig) INA228() ina228.Config {
	return ina228.Config{
		Shunt:          s.ShuntResistance,
		MaxCurrent:     s.MaxCurrent,
		ADCRange:       s.ADCRange,
		Averaging:      s.Averaging,
		ConversionTime: uint16(s.ConversionTime / time.Microsecond),
	}
}

// SimConfig returns the simulated generator parameters for the given
// shunt resistance.
func (m MockConfig) SimConfig(shunt float64) sensor.SimConfig {
	return sensor.SimConfig{
		WindPeriod:  m.WindPeriod,
		PeakCurrent: float32(m.PeakCurrent),
		PeakVoltage: float32(m.PeakVoltage),
		NoiseLevel:  float32(m.NoiseLevel),
		SampleRate:  m.SampleRate,
		Shunt:       float32(shunt),
	}
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Node.Identity == "" {
		c.Node.Identity = def.Node.Identity
	}
	if c.Node.CommandPeriod == 0 {
		c.Node.CommandPeriod = def.Node.CommandPeriod
	}
	if c.Node.LineBuffer == 0 {
		c.Node.LineBuffer = def.Node.LineBuffer
	}

	if c.Sensors.I2CBus == "" {
		c.Sensors.I2CBus = def.Sensors.I2CBus
	}
	if len(c.Sensors.Channels) == 0 {
		c.Sensors.Channels = def.Sensors.Channels
	}
	if c.Sensors.ShuntResistance == 0 {
		c.Sensors.ShuntResistance = def.Sensors.ShuntResistance
	}
	if c.Sensors.MaxCurrent == 0 {
		c.Sensors.MaxCurrent = def.Sensors.MaxCurrent
	}
	if c.Sensors.Averaging == 0 {
		c.Sensors.Averaging = def.Sensors.Averaging
	}
	if c.Sensors.ConversionTime == 0 {
		c.Sensors.ConversionTime = def.Sensors.ConversionTime
	}
	if len(c.Sensors.Fields) == 0 {
		c.Sensors.Fields = def.Sensors.Fields
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}

	if c.Mock.WindPeriod == 0 {
		c.Mock.WindPeriod = def.Mock.WindPeriod
	}
	if c.Mock.PeakCurrent == 0 {
		c.Mock.PeakCurrent = def.Mock.PeakCurrent
	}
	if c.Mock.PeakVoltage == 0 {
		c.Mock.PeakVoltage = def.Mock.PeakVoltage
	}
	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}

	if c.Host.LogFile == "" {
		c.Host.LogFile = def.Host.LogFile
	}
	if c.Host.BufferSize == 0 {
		c.Host.BufferSize = def.Host.BufferSize
	}
}
