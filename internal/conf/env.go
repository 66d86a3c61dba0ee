// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by label-tiles
const EnvPrefix = "LABEL_TILES"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", EnvPrefix + "_DEBUG", validateEnvBool},
		{"datadir", EnvPrefix + "_DATADIR", nil},

		{"labeling.zoom", EnvPrefix + "_LABELING_ZOOM", validateEnvZoom},

		{"download.workers", EnvPrefix + "_DOWNLOAD_WORKERS", validateEnvPositiveInt},
		{"download.timeout", EnvPrefix + "_DOWNLOAD_TIMEOUT", validateEnvDuration},
		{"download.padding", EnvPrefix + "_DOWNLOAD_PADDING", validateEnvNonNegativeInt},
		{"download.skipexisting", EnvPrefix + "_DOWNLOAD_SKIPEXISTING", validateEnvBool},
		{"download.useragent", EnvPrefix + "_DOWNLOAD_USERAGENT", nil},
		{"download.minfreespace", EnvPrefix + "_DOWNLOAD_MINFREESPACE", nil},

		{"storage.type", EnvPrefix + "_STORAGE_TYPE", validateEnvStorageType},
		{"storage.path", EnvPrefix + "_STORAGE_PATH", nil},
		{"storage.dsn", EnvPrefix + "_STORAGE_DSN", nil},

		{"webserver.listen", EnvPrefix + "_WEBSERVER_LISTEN", nil},
		{"metrics.enabled", EnvPrefix + "_METRICS_ENABLED", validateEnvBool},
		{"logging.default_level", EnvPrefix + "_LOG_LEVEL", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvZoom(value string) error {
	z, err := strconv.Atoi(value)
	if err != nil || z < 0 || z > 30 {
		return fmt.Errorf("must be an integer in [0, 30]")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration such as 30s")
	}
	return nil
}

func validateEnvStorageType(value string) error {
	switch value {
	case "sqlite", "mysql", "memory":
		return nil
	}
	return fmt.Errorf("must be sqlite, mysql or memory")
}
