package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/austinmroczek/neovolta/internal/modbus"
)

type Config struct {
	Inverter  InverterConfig  `mapstructure:"inverter"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Collector CollectorConfig `mapstructure:"collector"`
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
}

type InverterConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	UnitID  uint8         `mapstructure:"unit_id"`
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

type CollectorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Enabled       bool          `mapstructure:"enabled"`
	StatsSchedule string        `mapstructure:"stats_schedule"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	ClientID        string `mapstructure:"client_id"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ValidationError is a user-correctable configuration problem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/neovolta-monitor")
	}

	v.SetEnvPrefix("neovolta")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("inverter.host", "")
	v.SetDefault("inverter.port", modbus.DefaultPort)
	v.SetDefault("inverter.unit_id", modbus.DefaultUnit)
	v.SetDefault("inverter.driver", modbus.DriverSimonvetter)
	v.SetDefault("inverter.timeout", "30s")
	v.SetDefault("retry.max_attempts", 10)
	v.SetDefault("retry.delay", "5s")
	v.SetDefault("collector.interval", "30s")
	v.SetDefault("collector.enabled", true)
	v.SetDefault("collector.stats_schedule", "@every 10m")
	v.SetDefault("api.port", 8045)
	v.SetDefault("api.enabled", true)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "neovolta")
	v.SetDefault("mqtt.client_id", "neovolta-monitor")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "./neovolta.db")
	v.SetDefault("log.level", "info")
}

// ValidateHost checks that host is an IPv4 address.
func ValidateHost(host string) error {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return &ValidationError{Field: "inverter.host", Reason: fmt.Sprintf("%q is not a valid IPv4 address", host)}
	}
	return nil
}

func (c *Config) Validate() error {
	if err := ValidateHost(c.Inverter.Host); err != nil {
		return err
	}
	if c.Inverter.Port < 1 || c.Inverter.Port > 65535 {
		return &ValidationError{Field: "inverter.port", Reason: fmt.Sprintf("%d is out of range", c.Inverter.Port)}
	}
	if c.Inverter.UnitID == 0 {
		return &ValidationError{Field: "inverter.unit_id", Reason: "must be positive"}
	}
	if _, err := modbus.NewDriverFactory(c.Inverter.Driver); err != nil {
		return &ValidationError{Field: "inverter.driver", Reason: err.Error()}
	}
	if c.Retry.MaxAttempts < 1 {
		return &ValidationError{Field: "retry.max_attempts", Reason: "must be at least 1"}
	}
	if c.Retry.Delay < 0 {
		return &ValidationError{Field: "retry.delay", Reason: "must not be negative"}
	}
	if c.Collector.Enabled && c.Collector.Interval <= 0 {
		return &ValidationError{Field: "collector.interval", Reason: "must be positive"}
	}
	return nil
}
