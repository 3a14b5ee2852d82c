package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	RingTimeout      time.Duration `mapstructure:"ring_timeout"`
	TombstoneTTL     time.Duration `mapstructure:"tombstone_ttl"`
	CloseOnSupersede bool          `mapstructure:"close_on_supersede"`
	KickSlowPeers    bool          `mapstructure:"kick_slow_peers"`
	CallRateLimit    int           `mapstructure:"call_rate_limit"`
	CallRateInterval time.Duration `mapstructure:"call_rate_interval"`
	StrictSDP        bool          `mapstructure:"strict_sdp"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("ring_timeout", "60s")
	v.SetDefault("tombstone_ttl", "2m")
	v.SetDefault("close_on_supersede", true)
	v.SetDefault("kick_slow_peers", false)
	v.SetDefault("call_rate_limit", 10)
	v.SetDefault("call_rate_interval", "10s")
	v.SetDefault("strict_sdp", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml when present, then CALLRELAY_*
// environment overrides, on top of the defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("CALLRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Secret == "" {
		cfg.Secret = uuid.NewString()
		log.Warn().Str("module", "config").Msg("no secret configured, cookie sessions will not survive a restart")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Dur("ring_timeout", cfg.RingTimeout).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.PingPeriod <= 0 || c.PongWait <= c.PingPeriod {
		errs = append(errs, errors.New("pong_wait must exceed a positive ping_period"))
	}
	if c.RingTimeout < 0 {
		errs = append(errs, errors.New("ring_timeout must not be negative"))
	}
	if c.CallRateLimit > 0 && c.CallRateInterval <= 0 {
		errs = append(errs, errors.New("call_rate_interval must be positive when call_rate_limit is set"))
	}
	return errors.Join(errs...)
}
