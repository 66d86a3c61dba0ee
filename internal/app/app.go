// Package app wires the label-tiles components from loaded settings. The
// CLI subcommands share it so every entry point sees the same data
// directory, label store and tile client.
package app

import (
	"net/http"
	"time"

	"github.com/noahgolmant/label-tiles/internal/buildinfo"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/download"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/httpclient"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/observability"
	"github.com/noahgolmant/label-tiles/internal/securefs"
)

// slowRequestThreshold marks tile requests worth a debug line
const slowRequestThreshold = 5 * time.Second

// App holds the components built from one Settings value.
type App struct {
	Settings  *conf.Settings
	Build     *buildinfo.Context
	FS        *securefs.SecureFS
	Store     labels.Store
	Client    *httpclient.Client
	Scheduler *download.Scheduler
	Exporter  *export.Writer
	Metrics   *observability.Metrics // nil when metrics are disabled

	log logger.Logger
}

// New opens the data directory and the label store and builds the tile
// client and scheduler. Close releases them.
func New(settings *conf.Settings, build *buildinfo.Context) (*App, error) {
	if settings == nil {
		return nil, errors.Newf("settings not loaded").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	a := &App{Settings: settings, Build: build, log: logger.Global().Module("app")}

	var err error
	if settings.Metrics.Enabled {
		if a.Metrics, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	if a.FS, err = securefs.New(settings.DataDir); err != nil {
		return nil, err
	}

	store, err := labels.Open(settings)
	if err != nil {
		_ = a.FS.Close()
		return nil, err
	}
	if a.Metrics != nil {
		a.Store = labels.NewInstrumented(store, a.Metrics.Labels)
	} else {
		a.Store = labels.NewInstrumented(store, nil)
	}

	ua := settings.Download.UserAgent
	if ua == "" {
		ua = build.UserAgent()
	}
	a.Client = httpclient.New(&httpclient.Config{
		DefaultTimeout:      settings.Download.Timeout,
		UserAgent:           ua,
		MaxIdleConnsPerHost: max(settings.Download.Workers*2, 1),
	})
	a.Client.SetObserver(a.observeRequest)

	cfg := download.ConfigFromSettings(&settings.Download)
	if a.Metrics != nil {
		cfg.Recorder = a.Metrics.Download
	}
	a.Scheduler = download.NewScheduler(a.Client, a.FS, cfg)
	a.Exporter = export.NewWriter(a.FS)

	a.log.Info("components ready",
		logger.String("data_dir", a.FS.BaseDir()),
		logger.String("storage", settings.Storage.Type),
		logger.Bool("metrics", a.Metrics != nil),
		logger.String("user_agent", ua))
	return a, nil
}

func (a *App) observeRequest(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	switch {
	case err != nil:
		a.log.Debug("tile request failed", logger.String("host", req.URL.Host), logger.Error(err))
	case elapsed > slowRequestThreshold:
		a.log.Debug("slow tile request",
			logger.String("host", req.URL.Host),
			logger.Int("status", resp.StatusCode),
			logger.Duration("elapsed", elapsed))
	}
}

// Close releases the store, the sandbox and idle connections.
func (a *App) Close() error {
	a.Client.Close()
	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.FS.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
