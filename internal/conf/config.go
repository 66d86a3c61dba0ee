// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

//go:embed config.yaml
var configFiles embed.FS

// LabelingSettings controls what the labeling UI presents
type LabelingSettings struct {
	Zoom        int       `json:"zoom"`         // zoom level tiles are labeled at
	Extent      []float64 `json:"extent"`       // [west, south, east, north], empty for the whole globe
	NounPhrases []string  `json:"noun_phrases"` // configured categories, in COCO id order
}

// DownloadSettings controls the tile fetch scheduler
type DownloadSettings struct {
	Workers      int           // concurrent fetches per job
	Timeout      time.Duration // per-request timeout
	Padding      int           // neighbour rings fetched around labeled tiles
	SkipExisting bool          // do not refetch tiles already in the cache
	JobRetention time.Duration // how long finished jobs stay queryable
	UserAgent    string        // sent with every tile request
	MaxTiles     int           // upper bound on tiles per job, 0 for unlimited
	MinFreeSpace string        // refuse jobs below this free space, e.g. "1GB"; empty disables
}

// StorageSettings selects the annotation store backend
type StorageSettings struct {
	Type string // sqlite, mysql or memory
	Path string // sqlite database file, relative to datadir
	DSN  string // mysql data source name
}

// WebServerSettings contains the HTTP API settings
type WebServerSettings struct {
	Listen    string   // address to listen on
	BodyLimit string   // maximum request body, echo size notation
	CORS      []string // allowed origins
}

// MetricsSettings toggles the prometheus endpoint
type MetricsSettings struct {
	Enabled bool
}

// Settings contains all configuration options for label-tiles.
type Settings struct {
	Debug       bool
	DataDir     string
	Labeling    LabelingSettings
	TileServers []TileServer
	Download    DownloadSettings
	Storage     StorageSettings
	WebServer   WebServerSettings
	Metrics     MetricsSettings
	Logging     logger.LoggingConfig
}

// LabelingExtent returns the configured extent, or the whole Web Mercator globe when unset.
func (s *Settings) LabelingExtent() (tiles.GeoBBox, error) {
	if len(s.Labeling.Extent) == 0 {
		return tiles.GeoBBox{-180, -tiles.MaxLatitude, 180, tiles.MaxLatitude}, nil
	}
	return tiles.BBoxFromSlice(s.Labeling.Extent)
}

// StoragePath returns the sqlite database path resolved against the data directory.
func (s *Settings) StoragePath() string {
	if filepath.IsAbs(s.Storage.Path) {
		return s.Storage.Path
	}
	return filepath.Join(s.DataDir, s.Storage.Path)
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new Settings.
// An empty configFile searches the default config paths; when none is found a
// default config file is created from the embedded template.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	for i := range settings.TileServers {
		settings.TileServers[i].ApplyDefaults()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper points viper at the config file, defaults and environment
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		// Invalid env values are reported but do not stop startup; validation catches real problems.
		fmt.Fprintln(os.Stderr, err)
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(fmt.Errorf("error reading config file %s: %w", configFile, err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "label-tiles"))
	}
	return append(paths, "/etc/label-tiles")
}

// createDefaultConfig writes the embedded default config and reads it back
func createDefaultConfig() error {
	paths := GetDefaultConfigPaths()
	dir := paths[0]
	if len(paths) > 2 {
		dir = paths[1]
	}
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		panic(fmt.Sprintf("error reading embedded config: %v", err))
	}
	return string(data)
}

// GetSettings returns the settings loaded by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed returns the path of the config file viper read, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// SaveYAMLConfig writes settings to configPath atomically: the YAML is written
// to a temporary file in the same directory, then renamed over the original.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(fmt.Errorf("error replacing config file: %w", err)).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("config_file", configPath).
			Build()
	}
	return nil
}
