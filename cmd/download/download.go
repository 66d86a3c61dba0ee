// Package download provides the download command
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noahgolmant/label-tiles/internal/app"
	"github.com/noahgolmant/label-tiles/internal/buildinfo"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/download"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/progress"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

type options struct {
	server string
	mode   string
	noSkip bool
	zoom   int
	extent []float64
	json   bool
}

// Command creates the download command. It runs one job in the foreground
// and reports progress until the job is terminal; Ctrl-C cancels it.
func Command(build *buildinfo.Context) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch tiles into the local cache",
		Long: `Download tiles from a configured tile server.

  --mode all      every tile of the labeling extent at the labeling zoom
  --mode labeled  every labeled tile plus --padding rings of neighbours`,
		Example: `  label-tiles download --server osm --mode labeled --padding 1
  label-tiles download --server osm --zoom 16 --extent -122.52,37.70,-122.35,37.83`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), build, opts)
		},
	}

	if err := setupFlags(cmd, opts); err != nil {
		panic(err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options) error {
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "", "Tile server id")
	f.StringVar(&opts.mode, "mode", string(download.ModeAll), "Target selection: all or labeled")
	f.Int("padding", 0, "Neighbour rings around labeled tiles")
	f.Int("workers", 0, "Concurrent fetches")
	f.BoolVar(&opts.noSkip, "no-skip", false, "Refetch tiles that are already cached")
	f.IntVar(&opts.zoom, "zoom", -1, "Zoom for --mode all (default: labeling zoom)")
	f.Float64SliceVar(&opts.extent, "extent", nil, "west,south,east,north for --mode all (default: labeling extent)")
	f.BoolVar(&opts.json, "json", false, "Print every progress snapshot as a JSON line")

	if err := cmd.MarkFlagRequired("server"); err != nil {
		return err
	}
	if err := viper.BindPFlag("download.padding", f.Lookup("padding")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("download.workers", f.Lookup("workers")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// targets resolves the addresses a job fetches
func targets(ctx context.Context, a *app.App, opts *options) ([]tiles.TileAddress, error) {
	s := a.Settings
	switch download.Mode(opts.mode) {
	case download.ModeLabeled:
		return download.LabeledTargets(ctx, a.Store, s.Download.Padding)
	case download.ModeAll:
		extent, err := s.LabelingExtent()
		if err != nil {
			return nil, err
		}
		if len(opts.extent) > 0 {
			if extent, err = tiles.BBoxFromSlice(opts.extent); err != nil {
				return nil, err
			}
		}
		zoom := s.Labeling.Zoom
		if opts.zoom >= 0 {
			zoom = opts.zoom
		}
		return download.AllTargets(extent, zoom, s.Download.MaxTiles)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("mode must be all or labeled, got %q", opts.mode))
	}
}

func run(ctx context.Context, out io.Writer, build *buildinfo.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(conf.GetSettings(), build)
	if err != nil {
		return err
	}
	defer a.Close()

	server, ok := a.Settings.FindTileServer(opts.server)
	if !ok {
		return errors.Newf("unknown tile server %q", opts.server).
			Component("cmd").
			Category(errors.CategoryNotFound).
			Build()
	}
	addrs, err := targets(ctx, a, opts)
	if err != nil {
		return err
	}

	job, err := a.Scheduler.Start(ctx, download.Request{
		Server:       server,
		Addresses:    addrs,
		Mode:         download.Mode(opts.mode),
		SkipExisting: a.Settings.Download.SkipExisting && !opts.noSkip,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "job %s: %d tiles from %s\n", job.ID, job.Total, server.ID)

	final, err := follow(ctx, out, job.Reporter().Subscribe(), opts.json)
	if err != nil {
		return err
	}
	switch final.Status {
	case progress.StatusDone:
		if final.Failed > 0 {
			return fmt.Errorf("%d of %d tiles failed, last error: %s", final.Failed, final.Total, final.Error)
		}
		return nil
	default:
		return fmt.Errorf("download %s", final.Status)
	}
}

// follow prints snapshots until the terminal one, which it returns. It keeps
// reading after ctx is cancelled because the job still publishes its end.
func follow(ctx context.Context, out io.Writer, sub *progress.Subscription, asJSON bool) (progress.Snapshot, error) {
	enc := json.NewEncoder(out)
	var last progress.Snapshot
	step := 0
	for {
		snap, err := sub.Next(context.WithoutCancel(ctx))
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return last, err
		}
		last = snap

		switch {
		case asJSON:
			if err := enc.Encode(snap); err != nil {
				return last, err
			}
		case snap.Status.Terminal():
			fmt.Fprintf(out, "%s: %d completed, %d skipped, %d failed of %d\n",
				snap.Status, snap.Completed, snap.Skipped, snap.Failed, snap.Total)
		default:
			// Roughly twenty progress lines per job.
			if snap.Total > 0 && snap.Resolved()*20/snap.Total > step {
				step = snap.Resolved() * 20 / snap.Total
				fmt.Fprintf(out, "%d/%d\n", snap.Resolved(), snap.Total)
			}
		}
	}
}
