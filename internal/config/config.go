package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"cloudpico-node/internal/encode"
)

// ErrInvalid marks every configuration problem. Configuration errors are
// fatal at boot.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultBrokerPort         = 1883
	DefaultLightSleepDuration = 10
	DefaultWatchdogTimeout    = 60
	DefaultFaultGracePeriod   = 15
	DefaultBatteryPackSize    = 2000
	DefaultCO2PollIntervalMS  = 500
	DefaultRadioResetPin      = "GPIO25"
	DefaultWiFiCommand        = "nmcli --wait {timeout} device wifi connect {ssid} password {password}"
	DefaultDeepSleepCommand   = "rtcwake -m off -s {seconds}"

	EncryptionKeyLen = 16
	MinTxPower       = -2
	MaxTxPower       = 20
)

// Sensor driver names accepted in the sensors list.
var SensorNames = []string{"tmp117", "sht4x", "aht20", "bme280", "scd4x", "veml7700", "lc709203f"}

var packSizes = []int{100, 200, 500, 1000, 2000, 3000}

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	Path     string

	MQTTTopic    string
	LogTopic     string
	SSID         string
	Password     string
	Broker       string
	BrokerPort   int
	BrokerTLS    bool
	MQTTClientID string
	WiFiCommand  string

	DeepSleepDuration  time.Duration
	SleepDurationShort *time.Duration
	// BatteryCapacityThreshold is in percent.
	BatteryCapacityThreshold *float64
	LightSleepDuration       time.Duration
	DeepSleepCommand         string

	RadioDisabled bool
	RadioSPI      string
	RadioResetPin string
	TxPower       *int
	EncryptionKey []byte
	LightGain     int

	I2CBus          string
	Sensors         []string
	BatteryPackSize int
	CO2PollInterval time.Duration

	WatchdogTimeout  time.Duration
	WatchdogDevice   string
	FaultGracePeriod time.Duration
}

// document mirrors the YAML file. Pointers distinguish absent keys.
type document struct {
	LogLevel     *Level  `yaml:"log_level"`
	MQTTTopic    *string `yaml:"mqtt_topic"`
	SSID         *string `yaml:"ssid"`
	Password     *string `yaml:"password"`
	Broker       *string `yaml:"broker"`
	BrokerPort   *int    `yaml:"broker_port"`
	BrokerTLS    bool    `yaml:"broker_tls"`
	LogTopic     *string `yaml:"log_topic"`
	MQTTClientID string  `yaml:"mqtt_client_id"`
	WiFiCommand  string  `yaml:"wifi_command"`

	DeepSleepDuration        *int   `yaml:"deep_sleep_duration"`
	SleepDurationShort       *int   `yaml:"sleep_duration_short"`
	BatteryCapacityThreshold *int   `yaml:"battery_capacity_threshold"`
	LightSleepDuration       *int   `yaml:"light_sleep_duration"`
	DeepSleepCommand         string `yaml:"deep_sleep_command"`

	RadioDisabled bool    `yaml:"radio_disabled"`
	RadioSPI      string  `yaml:"radio_spi"`
	RadioResetPin string  `yaml:"radio_reset_pin"`
	TxPower       *int    `yaml:"tx_power"`
	EncryptionKey *string `yaml:"encryption_key"`
	LightGain     *int    `yaml:"light_gain"`

	I2CBus            string   `yaml:"i2c_bus"`
	Sensors           []string `yaml:"sensors"`
	BatteryPackSize   *int     `yaml:"battery_pack_size"`
	CO2PollIntervalMS *int     `yaml:"co2_poll_interval_ms"`

	WatchdogTimeout  *int   `yaml:"watchdog_timeout"`
	WatchdogDevice   string `yaml:"watchdog_device"`
	FaultGracePeriod *int   `yaml:"fault_grace_period"`
}

// LoadFromEnv reads APP_ENV, CONFIG_PATH and LOG_LEVEL from the process
// environment and loads the node configuration file.
func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("%w: invalid APP_ENV %q (allowed: dev, prod)", ErrInvalid, appEnv)
	}

	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	cfg.AppEnv = appEnv

	if s := strings.TrimSpace(os.Getenv("LOG_LEVEL")); s != "" {
		level, err := ParseLogLevel(s)
		if err != nil {
			return Config{}, fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalid, err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Load reads and validates the configuration file at path. Environment
// variables in the file are expanded before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return Config{}, err
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (Config, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := doc.validate(); err != nil {
		return Config{}, err
	}
	return doc.resolve(), nil
}

func (d *document) validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if d.LogLevel == nil {
		bad("log_level is missing")
	}
	if d.MQTTTopic == nil || *d.MQTTTopic == "" {
		bad("mqtt_topic is missing")
	} else if !d.RadioDisabled {
		if err := encode.ValidateTopic(*d.MQTTTopic); err != nil {
			bad("mqtt_topic %q cannot be sent over radio: %v", *d.MQTTTopic, err)
		}
	}
	if d.BrokerPort != nil && (*d.BrokerPort < 0 || *d.BrokerPort > 65535) {
		bad("broker_port value %d outside [0, 65535]", *d.BrokerPort)
	}

	if d.DeepSleepDuration == nil {
		bad("deep_sleep_duration is missing")
	} else if *d.DeepSleepDuration <= 0 {
		bad("deep_sleep_duration value %d must be positive", *d.DeepSleepDuration)
	}
	if d.SleepDurationShort != nil {
		if *d.SleepDurationShort < 0 {
			bad("sleep_duration_short value %d must not be negative", *d.SleepDurationShort)
		}
		if d.DeepSleepDuration != nil && *d.SleepDurationShort > *d.DeepSleepDuration {
			bad("sleep_duration_short %d exceeds deep_sleep_duration %d", *d.SleepDurationShort, *d.DeepSleepDuration)
		}
	}
	if v := d.BatteryCapacityThreshold; v != nil && (*v < 0 || *v > 100) {
		bad("battery_capacity_threshold value %d outside [0, 100]", *v)
	}
	if v := d.LightSleepDuration; v != nil && *v < 0 {
		bad("light_sleep_duration value %d must not be negative", *v)
	}

	if v := d.TxPower; v != nil && (*v < MinTxPower || *v > MaxTxPower) {
		bad("tx_power value %d outside [%d, %d]", *v, MinTxPower, MaxTxPower)
	}
	if k := d.EncryptionKey; k != nil && len(*k) != EncryptionKeyLen {
		bad("encryption_key has length %d, should be %d", len(*k), EncryptionKeyLen)
	}
	if v := d.LightGain; v != nil && *v != 1 && *v != 2 {
		bad("light_gain value %d not in {1, 2}", *v)
	}

	for _, s := range d.Sensors {
		if !contains(SensorNames, s) {
			bad("unknown sensor %q in sensors (allowed: %s)", s, strings.Join(SensorNames, ", "))
		}
	}
	if v := d.BatteryPackSize; v != nil && !containsInt(packSizes, *v) {
		bad("battery_pack_size value %d not one of %v", *v, packSizes)
	}
	if v := d.CO2PollIntervalMS; v != nil && *v <= 0 {
		bad("co2_poll_interval_ms value %d must be positive", *v)
	}

	timeout := intOr(d.WatchdogTimeout, DefaultWatchdogTimeout)
	grace := intOr(d.FaultGracePeriod, DefaultFaultGracePeriod)
	if timeout <= 0 {
		bad("watchdog_timeout value %d must be positive", timeout)
	}
	if grace < 0 {
		bad("fault_grace_period value %d must not be negative", grace)
	}
	if grace >= timeout {
		bad("fault_grace_period %d must be shorter than watchdog_timeout %d", grace, timeout)
	}

	return errors.Join(errs...)
}

func (d *document) resolve() Config {
	cfg := Config{
		LogLevel:  d.LogLevel.Level(),
		MQTTTopic: *d.MQTTTopic,
		LogTopic:  strOr(d.LogTopic, ""),
		SSID:      strOr(d.SSID, ""),
		Password:  strOr(d.Password, ""),
		Broker:    strOr(d.Broker, ""),
		// A zero port is accepted and left to the dialer.
		BrokerPort:   intOr(d.BrokerPort, DefaultBrokerPort),
		BrokerTLS:    d.BrokerTLS,
		MQTTClientID: d.MQTTClientID,
		WiFiCommand:  d.WiFiCommand,

		DeepSleepDuration:  seconds(*d.DeepSleepDuration),
		LightSleepDuration: seconds(intOr(d.LightSleepDuration, DefaultLightSleepDuration)),
		DeepSleepCommand:   d.DeepSleepCommand,

		RadioDisabled: d.RadioDisabled,
		RadioSPI:      d.RadioSPI,
		RadioResetPin: d.RadioResetPin,
		TxPower:       d.TxPower,
		LightGain:     intOr(d.LightGain, 1),

		I2CBus:          d.I2CBus,
		Sensors:         d.Sensors,
		BatteryPackSize: intOr(d.BatteryPackSize, DefaultBatteryPackSize),
		CO2PollInterval: time.Duration(intOr(d.CO2PollIntervalMS, DefaultCO2PollIntervalMS)) * time.Millisecond,

		WatchdogTimeout:  seconds(intOr(d.WatchdogTimeout, DefaultWatchdogTimeout)),
		WatchdogDevice:   d.WatchdogDevice,
		FaultGracePeriod: seconds(intOr(d.FaultGracePeriod, DefaultFaultGracePeriod)),
	}

	if d.SleepDurationShort != nil {
		short := seconds(*d.SleepDurationShort)
		cfg.SleepDurationShort = &short
	}
	if d.BatteryCapacityThreshold != nil {
		threshold := float64(*d.BatteryCapacityThreshold)
		cfg.BatteryCapacityThreshold = &threshold
	}
	if d.EncryptionKey != nil {
		cfg.EncryptionKey = []byte(*d.EncryptionKey)
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "cloudpico-node-" + uuid.NewString()[:8]
	}
	if cfg.WiFiCommand == "" {
		cfg.WiFiCommand = DefaultWiFiCommand
	}
	if cfg.DeepSleepCommand == "" {
		cfg.DeepSleepCommand = DefaultDeepSleepCommand
	}
	if cfg.RadioResetPin == "" {
		cfg.RadioResetPin = DefaultRadioResetPin
	}
	return cfg
}

// NetworkConfigured reports whether the WiFi/MQTT fallback can be attempted.
func (c Config) NetworkConfigured() bool {
	return len(c.MissingNetworkKeys()) == 0
}

// MissingNetworkKeys lists the absent keys needed by the network transport.
func (c Config) MissingNetworkKeys() []string {
	var missing []string
	if c.SSID == "" {
		missing = append(missing, "ssid")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.Broker == "" {
		missing = append(missing, "broker")
	}
	return missing
}

// SensorEnabled reports whether the named driver should be probed. An empty
// sensors list enables all of them.
func (c Config) SensorEnabled(name string) bool {
	return len(c.Sensors) == 0 || contains(c.Sensors, name)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func strOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
