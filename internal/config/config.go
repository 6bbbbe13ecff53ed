package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-level configuration of the twin server: where the
// scenario lives, what to listen on, and how the background machinery is
// paced. Scenario content itself (links, users, policy) is loaded separately
// by core.LoadScenario.
type Config struct {
	ScenarioPath string `mapstructure:"scenario_path"`
	HTTPAddr     string `mapstructure:"http_addr"`

	TickRate float64 `mapstructure:"tick_rate"`
	Seed     int64   `mapstructure:"seed"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	LiveFeed   LiveFeedConfig   `mapstructure:"live_feed"`
	TomTomFeed TomTomFeedConfig `mapstructure:"tomtom_feed"`
}

// LiveFeedConfig drives the generic JSON speed-feed poller.
type LiveFeedConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	URL         string  `mapstructure:"url"`
	IntervalSec float64 `mapstructure:"interval_sec"`
	TimeoutSec  float64 `mapstructure:"timeout_sec"`
}

// TomTomFeedConfig drives the TomTom flow-segment poller.
type TomTomFeedConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	APIKey      string  `mapstructure:"api_key"`
	IntervalSec float64 `mapstructure:"interval_sec"`
	TimeoutSec  float64 `mapstructure:"timeout_sec"`
}

// Load reads configuration from the given file (optional) and TWIN_*
// environment variables, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("scenario_path", "configs/city_scenario.json")
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("tick_rate", 2.0)
	v.SetDefault("seed", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("live_feed.enabled", false)
	v.SetDefault("live_feed.url", "https://worldtimeapi.org/api/timezone/Etc/UTC")
	v.SetDefault("live_feed.interval_sec", 2.5)
	v.SetDefault("live_feed.timeout_sec", 5.0)
	v.SetDefault("tomtom_feed.enabled", false)
	v.SetDefault("tomtom_feed.interval_sec", 5.0)
	v.SetDefault("tomtom_feed.timeout_sec", 10.0)

	v.SetEnvPrefix("TWIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick_rate must be positive, got %v", cfg.TickRate)
	}
	return &cfg, nil
}
