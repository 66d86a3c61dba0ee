// Package cmd assembles the label-tiles command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noahgolmant/label-tiles/cmd/download"
	"github.com/noahgolmant/label-tiles/cmd/export"
	"github.com/noahgolmant/label-tiles/cmd/serve"
	"github.com/noahgolmant/label-tiles/cmd/window"
	"github.com/noahgolmant/label-tiles/internal/buildinfo"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "label-tiles",
		Short:         "Label map tiles and export training datasets",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate(build.String() + "\n")

	if err := setupFlags(rootCmd, &configFile); err != nil {
		// Flag registration only fails on programming errors.
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(build),
		download.Command(build),
		export.Command(build),
		window.Command(build),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(configFile)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return logger.Global().Flush()
	}

	return rootCmd
}

// initialize loads the settings and installs the configured logger before
// any subcommand runs
func initialize(configFile string) error {
	settings, err := conf.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)

	logger.Global().Module("main").Debug("settings loaded",
		logger.String("config_file", conf.ConfigFileUsed()),
		logger.String("data_dir", settings.DataDir))
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search the standard locations)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("datadir", "", "Directory holding the tile cache, exports and the label database")

	if err := viper.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("datadir", flags.Lookup("datadir")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
