package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved otcan configuration: defaults, then the config
// file, then OTCAN_* environment variables, each layer overriding the last.
type Config struct {
	Adapter Adapter `mapstructure:"adapter"`
	Logging Logging `mapstructure:"logging"`
}

// Adapter selects a device and the channel parameters applied to it.
type Adapter struct {
	// Bus/Address pin one adapter when several are attached; both -1
	// means "first found".
	Bus     int `mapstructure:"bus"`
	Address int `mapstructure:"address"`
	Channel int `mapstructure:"channel"`

	Bitrate     uint32 `mapstructure:"bitrate"`
	DataBitrate uint32 `mapstructure:"data_bitrate"`

	SendTimeout time.Duration `mapstructure:"send_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// Opening right after plug-in races udev permission setup, so the
	// CLI retries a few times before giving up.
	OpenAttempts int           `mapstructure:"open_attempts"`
	OpenDelay    time.Duration `mapstructure:"open_delay"`
}

// Logging mirrors the zap/lumberjack sink options.
type Logging struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the configuration. path names an explicit config file and must
// exist when given; otherwise otcan.yaml is searched in the working
// directory and ~/.config/otcan, and a missing file just means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("otcan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/otcan")
	}

	v.SetEnvPrefix("OTCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("adapter.bus", -1)
	v.SetDefault("adapter.address", -1)
	v.SetDefault("adapter.channel", 0)
	v.SetDefault("adapter.bitrate", 500000)
	v.SetDefault("adapter.data_bitrate", 2000000)
	v.SetDefault("adapter.send_timeout", "1s")
	v.SetDefault("adapter.read_timeout", "1s")
	v.SetDefault("adapter.open_attempts", 4)
	v.SetDefault("adapter.open_delay", "250ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)
}

func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: must be debug, info, warn or error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q: must be console or json", cfg.Logging.Format)
	}
	if cfg.Adapter.Bitrate == 0 {
		return fmt.Errorf("adapter.bitrate must be set")
	}
	if cfg.Adapter.Channel < 0 {
		return fmt.Errorf("adapter.channel %d: must not be negative", cfg.Adapter.Channel)
	}
	if cfg.Adapter.OpenAttempts < 1 {
		return fmt.Errorf("adapter.open_attempts %d: must be at least 1", cfg.Adapter.OpenAttempts)
	}
	return nil
}
