// Package serve provides the serve command
package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noahgolmant/label-tiles/internal/api"
	"github.com/noahgolmant/label-tiles/internal/app"
	"github.com/noahgolmant/label-tiles/internal/buildinfo"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/logger"
)

// Command creates the serve command, which runs the labeling HTTP API
// until SIGINT or SIGTERM.
func Command(build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the labeling HTTP API",
		Long: `Serve the label, download, export and tile endpoints under /api/v2.
Download jobs started through the API are cancelled on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(build)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address, host:port")
	cmd.Flags().Bool("metrics", true, "Expose prometheus metrics at /api/v2/metrics")

	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("metrics.enabled", cmd.Flags().Lookup("metrics")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func run(build *buildinfo.Context) error {
	settings := conf.GetSettings()
	a, err := app.New(settings, build)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Global().Module("main").Warn("failed to close components", logger.Error(err))
		}
	}()

	opts := []api.ServerOption{api.WithConfigPath(conf.ConfigFileUsed())}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	server, err := api.New(settings, a.Store, a.FS, a.Scheduler, opts...)
	if err != nil {
		return err
	}

	fmt.Printf("%s listening on %s\n", build, settings.WebServer.Listen)
	return server.StartWithGracefulShutdown()
}
