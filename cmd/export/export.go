// Package export provides the export command
package export

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/spf13/cobra"

	"github.com/noahgolmant/label-tiles/internal/app"
	"github.com/noahgolmant/label-tiles/internal/buildinfo"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/logger"
)

// Export formats accepted by --format
const (
	FormatGeoJSON = "geojson"
	FormatCOCO    = "coco"
	FormatAll     = "all"
)

type options struct {
	format string
	mode   string
	server string
}

// Command creates the export command, which writes labels.geojson and/or
// annotations.json into the data directory.
func Command(build *buildinfo.Context) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export labels as GeoJSON or a COCO dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(conf.GetSettings(), build)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", FormatAll, "geojson, coco or all")
	cmd.Flags().StringVar(&opts.mode, "mode", string(export.ModeGeo), "GeoJSON geometry source: geo or pixel")
	cmd.Flags().StringVar(&opts.server, "server", "", "Tile server id for COCO file names and coverage")
	return cmd
}

func run(ctx context.Context, out io.Writer, a *app.App, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.format != FormatGeoJSON && opts.format != FormatCOCO && opts.format != FormatAll {
		return errors.ValidationError(fmt.Sprintf("format must be geojson, coco or all, got %q", opts.format))
	}

	var server *conf.TileServer
	if opts.server != "" {
		ts, ok := a.Settings.FindTileServer(opts.server)
		if !ok {
			return errors.Newf("unknown tile server %q", opts.server).
				Component("cmd").
				Category(errors.CategoryNotFound).
				Build()
		}
		server = &ts
	}

	all, err := a.Store.ListAll(ctx)
	if err != nil {
		return err
	}
	log := logger.Global().Module("export")

	if opts.format != FormatCOCO {
		geo := export.GeoJSONOptions{Mode: export.CoordinateMode(opts.mode)}
		if server != nil {
			geo.TileSize = server.TileSize
		}
		doc, err := export.BuildGeoJSON(all, geo)
		if err != nil {
			return err
		}
		if err := a.Exporter.Save(ctx, export.GeoJSONFile, doc); err != nil {
			return err
		}
		log.Info("geojson exported", logger.Int("features", len(doc.Features)))
		fmt.Fprintf(out, "%s: %d features\n", path.Join(a.FS.BaseDir(), export.GeoJSONFile), len(doc.Features))
	}

	if opts.format != FormatGeoJSON {
		doc, err := export.BuildCOCO(all, export.COCOOptions{
			Categories: a.Settings.Labeling.NounPhrases,
			Server:     server,
		})
		if err != nil {
			return err
		}
		if err := a.Exporter.Save(ctx, export.COCOFile, doc); err != nil {
			return err
		}
		log.Info("coco exported",
			logger.Int("images", len(doc.Images)),
			logger.Int("annotations", len(doc.Annotations)))
		fmt.Fprintf(out, "%s: %d images, %d annotations, %d categories\n",
			path.Join(a.FS.BaseDir(), export.COCOFile), len(doc.Images), len(doc.Annotations), len(doc.Categories))
	}
	return nil
}
