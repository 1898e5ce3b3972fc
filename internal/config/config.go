package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hl7bridge/hl7bridge/internal/mllp"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	HTTPPort string `mapstructure:"HTTP_PORT"`

	// Inbound MLLP listener.
	MLLPAddr        string        `mapstructure:"MLLP_ADDR"`
	AutoAck         bool          `mapstructure:"AUTO_ACK"`
	IdleTimeout     time.Duration `mapstructure:"IDLE_TIMEOUT"`
	MaxMessageBytes int           `mapstructure:"MAX_MESSAGE_BYTES"`

	// Wire format, shared by listener and outbound connector.
	Encoding   string `mapstructure:"ENCODING"`
	FrameStart string `mapstructure:"FRAME_START"`
	FrameEnd   string `mapstructure:"FRAME_END"`

	// Outbound connector. TARGET_ADDR empty disables forwarding.
	TargetAddr     string        `mapstructure:"TARGET_ADDR"`
	PoolSize       int           `mapstructure:"POOL_SIZE"`
	DialTimeout    time.Duration `mapstructure:"DIAL_TIMEOUT"`
	AckTimeout     time.Duration `mapstructure:"ACK_TIMEOUT"`
	AcquireTimeout time.Duration `mapstructure:"ACQUIRE_TIMEOUT"`
	HealthInterval time.Duration `mapstructure:"HEALTH_INTERVAL"`
	InitialBackoff time.Duration `mapstructure:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `mapstructure:"MAX_BACKOFF"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("HTTP_PORT", "8000")
	v.SetDefault("MLLP_ADDR", ":2575")
	v.SetDefault("AUTO_ACK", true)
	v.SetDefault("IDLE_TIMEOUT", "5m")
	v.SetDefault("MAX_MESSAGE_BYTES", 1<<20)
	v.SetDefault("ENCODING", "utf-8")
	v.SetDefault("FRAME_START", "0b")
	v.SetDefault("FRAME_END", "1c0d")
	v.SetDefault("POOL_SIZE", 3)
	v.SetDefault("DIAL_TIMEOUT", "10s")
	v.SetDefault("ACK_TIMEOUT", "30s")
	v.SetDefault("ACQUIRE_TIMEOUT", "10s")
	v.SetDefault("HEALTH_INTERVAL", "30s")
	v.SetDefault("INITIAL_BACKOFF", "1s")
	v.SetDefault("MAX_BACKOFF", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("HTTP_PORT")
	v.BindEnv("MLLP_ADDR")
	v.BindEnv("AUTO_ACK")
	v.BindEnv("IDLE_TIMEOUT")
	v.BindEnv("MAX_MESSAGE_BYTES")
	v.BindEnv("ENCODING")
	v.BindEnv("FRAME_START")
	v.BindEnv("FRAME_END")
	v.BindEnv("TARGET_ADDR")
	v.BindEnv("POOL_SIZE")
	v.BindEnv("DIAL_TIMEOUT")
	v.BindEnv("ACK_TIMEOUT")
	v.BindEnv("ACQUIRE_TIMEOUT")
	v.BindEnv("HEALTH_INTERVAL")
	v.BindEnv("INITIAL_BACKOFF")
	v.BindEnv("MAX_BACKOFF")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the bridge is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ForwardingEnabled reports whether an outbound target is configured.
func (c *Config) ForwardingEnabled() bool {
	return c.TargetAddr != ""
}

// Framing decodes the configured frame delimiter bytes. Call Validate first.
func (c *Config) Framing() mllp.Framing {
	start, _ := hex.DecodeString(c.FrameStart)
	end, _ := hex.DecodeString(c.FrameEnd)
	return mllp.Framing{Start: start[0], End1: end[0], End2: end[1]}
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.MLLPAddr == "" {
		return fmt.Errorf("MLLP_ADDR is required")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	}

	enc := mllp.Encoding(c.Encoding)
	if !enc.Valid() {
		return fmt.Errorf("ENCODING must be \"utf-8\" or \"latin-1\", got %q", c.Encoding)
	}

	start, err := hex.DecodeString(c.FrameStart)
	if err != nil {
		return fmt.Errorf("FRAME_START is not valid hex: %w", err)
	}
	if len(start) != 1 {
		return fmt.Errorf("FRAME_START must be 1 byte (2 hex chars), got %d bytes", len(start))
	}
	end, err := hex.DecodeString(c.FrameEnd)
	if err != nil {
		return fmt.Errorf("FRAME_END is not valid hex: %w", err)
	}
	if len(end) != 2 {
		return fmt.Errorf("FRAME_END must be 2 bytes (4 hex chars), got %d bytes", len(end))
	}

	if c.ForwardingEnabled() {
		if c.PoolSize <= 0 {
			return fmt.Errorf("POOL_SIZE must be positive, got %d", c.PoolSize)
		}
		if c.AckTimeout <= 0 {
			return fmt.Errorf("ACK_TIMEOUT must be positive, got %s", c.AckTimeout)
		}
	}

	return nil
}
