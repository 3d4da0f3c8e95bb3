package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadApp reads the application configuration from file and environment
// variables. This covers process-level settings only (logging, the ops
// listener, module wiring); the detector's runtime configuration is the
// separate hot-reloadable document owned by Manager.
func LoadApp(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("ops.listen_addr", "0.0.0.0:9090")

	// Module defaults
	v.SetDefault("modules.confwatch.path", "./configs/detector.json")
	v.SetDefault("modules.confwatch.debounce", "250ms")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("coresentry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/coresentry")
	}

	// Environment variable support: CS_OPS_LISTEN_ADDR=:9191
	v.SetEnvPrefix("CS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
