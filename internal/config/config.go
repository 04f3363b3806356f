// Package config loads TailChase configuration and builds the logger.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfig reads configuration from file and environment variables.
// When configPath is empty, a tailchase.yaml file is searched in the
// working directory, ./configs, and /etc/tailchase.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8340)
	v.SetDefault("server.ws_token", "")

	v.SetDefault("database.path", "./data/tailchase.db")
	v.SetDefault("capture.glob", "./kismet/*.kismet")
	v.SetDefault("ignore.path", "")

	v.SetDefault("detect.min_appearances", 3)
	v.SetDefault("detect.min_persistence_score", 0.5)

	v.SetDefault("geo.location_threshold_m", 100.0)
	v.SetDefault("geo.session_timeout", "600s")

	v.SetDefault("track.window", "5m")
	v.SetDefault("track.active_slice", "2m")

	v.SetDefault("monitor.check_interval", "60s")
	v.SetDefault("monitor.rotate_every", 5)
	v.SetDefault("monitor.cycle_timeout", "30s")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", "10s")

	v.SetDefault("wigle.api_url", "https://api.wigle.net")
	v.SetDefault("wigle.timeout", "30s")
	v.SetDefault("wigle.requests_per_minute", 10)
	v.SetDefault("creds.path", "./data/credentials.enc")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tailchase")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tailchase")
	}

	// Environment variable support: TAILCHASE_SERVER_PORT=9090
	v.SetEnvPrefix("TAILCHASE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
