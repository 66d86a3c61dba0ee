// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("datadir", "data")

	viper.SetDefault("labeling.zoom", 18)
	viper.SetDefault("labeling.extent", []float64{})
	viper.SetDefault("labeling.nounphrases", []string{"building", "road", "tree", "vehicle"})

	viper.SetDefault("tileservers", []map[string]any{
		{
			"id":          "osm",
			"name":        "OpenStreetMap",
			"urltemplate": "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			"tilesize":    256,
			"minzoom":     0,
			"maxzoom":     19,
			"bounds":      []float64{-180, -85, 180, 85},
			"ratelimit":   0,
		},
	})

	viper.SetDefault("download.workers", 8)
	viper.SetDefault("download.timeout", 60*time.Second)
	viper.SetDefault("download.padding", 1)
	viper.SetDefault("download.skipexisting", true)
	viper.SetDefault("download.jobretention", 10*time.Minute)
	viper.SetDefault("download.useragent", "") // empty sends label-tiles/<version>
	viper.SetDefault("download.maxtiles", 100000)
	viper.SetDefault("download.minfreespace", "500MB")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.path", "labels.db")
	viper.SetDefault("storage.dsn", "")

	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.bodylimit", "1M")
	viper.SetDefault("webserver.cors", []string{"*"})

	viper.SetDefault("metrics.enabled", true)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/label-tiles.log")
	viper.SetDefault("logging.file_output.level", "debug")
}
