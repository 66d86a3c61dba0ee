// Package window provides the window command
package window

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/noahgolmant/label-tiles/internal/buildinfo"
	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/securefs"
	"github.com/noahgolmant/label-tiles/internal/window"
)

// Command creates the window command. It expands annotations.json into a
// sliding-window dataset built from the cached tiles.
func Command(_ *buildinfo.Context) *cobra.Command {
	cfg := window.Config{}
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Generate a sliding-window dataset from the COCO export",
		Long: `Composite shifted views of every exported tile from its neighbours and
re-project the annotations into each view. Run "label-tiles export" and
download the labeled tiles with --padding 1 first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := securefs.New(conf.GetSettings().DataDir)
			if err != nil {
				return err
			}
			defer fs.Close()

			gen, err := window.NewGenerator(fs, cfg)
			if err != nil {
				return err
			}
			res, err := gen.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().IntVar(&cfg.Stride, "stride", 128, "Window step in pixels")
	cmd.Flags().StringVar(&cfg.ServerID, "server", "", "Tile cache to read (default: the only one present)")
	cmd.Flags().StringVar(&cfg.OutputDir, "output", window.DefaultOutputDir, "Output directory, relative to the data directory")
	cmd.Flags().StringVar(&cfg.Source, "source", "", "COCO document to expand (default: "+export.COCOFile+")")
	return cmd
}
