package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "600s" or "50ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full application configuration, loaded once at startup.
type Config struct {
	Service struct {
		Name     string `yaml:"name"`
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			// One address per independent lock backend. A quorum lock
			// needs an odd number of them, each failing independently.
			LockAddrs []string `yaml:"lock_addrs"`
			Password  string   `yaml:"password"`
		} `yaml:"redis"`
		Zookeeper struct {
			Addrs          []string `yaml:"addrs"`
			SessionTimeout Duration `yaml:"session_timeout"`
		} `yaml:"zookeeper"`
		Kafka struct {
			Brokers            []string `yaml:"brokers"`
			BookingEventsTopic string   `yaml:"booking_events_topic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
	} `yaml:"infra"`

	Reservation struct {
		HoldTTL       Duration `yaml:"hold_ttl"`
		SweepInterval Duration `yaml:"sweep_interval"`
		SweepWorkers  int      `yaml:"sweep_workers"`
	} `yaml:"reservation"`

	Lock struct {
		TTL          Duration `yaml:"ttl"`
		RetryCount   int      `yaml:"retry_count"`
		RetryBackoff Duration `yaml:"retry_backoff"`
	} `yaml:"lock"`

	Payment struct {
		DefaultMethod string `yaml:"default_method"`
		GatewayURL    string `yaml:"gateway_url"`
	} `yaml:"payment"`
}

// Load reads the YAML file at path, falling back to the CONFIG_FILE env
// var and then to config.yaml, and applies defaults for unset fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "boxofficed"
	}
	if c.Service.Port == 0 {
		c.Service.Port = 8080
	}
	if c.Reservation.HoldTTL == 0 {
		c.Reservation.HoldTTL = Duration(600 * time.Second)
	}
	if c.Reservation.SweepInterval == 0 {
		c.Reservation.SweepInterval = Duration(30 * time.Second)
	}
	if c.Reservation.SweepWorkers == 0 {
		c.Reservation.SweepWorkers = 4
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = Duration(10 * time.Second)
	}
	if c.Lock.RetryCount == 0 {
		c.Lock.RetryCount = 3
	}
	if c.Lock.RetryBackoff == 0 {
		c.Lock.RetryBackoff = Duration(50 * time.Millisecond)
	}
	if c.Infra.Zookeeper.SessionTimeout == 0 {
		c.Infra.Zookeeper.SessionTimeout = Duration(5 * time.Second)
	}
	if c.Payment.DefaultMethod == "" {
		c.Payment.DefaultMethod = "mock"
	}
}
