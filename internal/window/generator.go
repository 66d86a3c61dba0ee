package window

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"path"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // tile servers may deliver webp under a .png name

	"github.com/noahgolmant/label-tiles/internal/download"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/securefs"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// DefaultOutputDir is relative to the data directory
const DefaultOutputDir = "sliding_windows"

// Config configures a Generator
type Config struct {
	Stride    int    // window step in pixels
	ServerID  string // tile cache subdirectory, empty to pick the only one
	OutputDir string // relative to the data directory (default: sliding_windows)
	Source    string // COCO document to expand (default: annotations.json)
}

// Result summarizes a run
type Result struct {
	OriginalsCopied int    `json:"originals_copied"`
	WindowsCreated  int    `json:"windows_created"`
	WindowsSkipped  int    `json:"windows_skipped"`
	Images          int    `json:"images"`
	Annotations     int    `json:"annotations"`
	OutputDir       string `json:"output_dir"`
}

// Generator builds a sliding-window dataset from a COCO export and the tile cache.
type Generator struct {
	fs     *securefs.SecureFS
	writer *export.Writer
	cfg    Config
	log    logger.Logger
}

// NewGenerator validates cfg and returns a Generator working inside fs
func NewGenerator(fs *securefs.SecureFS, cfg Config) (*Generator, error) {
	if cfg.Stride <= 0 {
		return nil, errors.Newf("stride %d must be positive", cfg.Stride).
			Component("window").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.Source == "" {
		cfg.Source = export.COCOFile
	}
	if _, err := fs.ValidateRelativePath(cfg.OutputDir); err != nil {
		return nil, err
	}
	return &Generator{fs: fs, writer: export.NewWriter(fs), cfg: cfg, log: GetLogger()}, nil
}

// tileDir picks the cache directory: the requested server, the only server
// directory present, or the cache root.
func (g *Generator) tileDir() (string, error) {
	if g.cfg.ServerID != "" {
		dir := path.Join(download.TileDir, g.cfg.ServerID)
		if ok, _ := g.fs.Exists(dir); ok {
			return dir, nil
		}
	}
	entries, err := g.fs.ReadDir(download.TileDir)
	if err != nil {
		return "", errors.New(fmt.Errorf("tile cache not found: %w", err)).
			Component("window").
			Category(errors.CategoryNotFound).
			Build()
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	switch len(dirs) {
	case 0:
		return download.TileDir, nil
	case 1:
		return path.Join(download.TileDir, dirs[0]), nil
	default:
		// ReadDir is sorted, so the choice is stable.
		g.log.Warn("several tile servers cached, using the first", logger.String("server", dirs[0]))
		return path.Join(download.TileDir, dirs[0]), nil
	}
}

func (g *Generator) loadTile(dir string, addr tiles.TileAddress) (image.Image, bool) {
	data, err := g.fs.ReadFile(path.Join(dir, fmt.Sprintf("%d_%d_%d.png", addr.Z, addr.X, addr.Y)))
	if err != nil {
		return nil, false
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		g.log.Debug("tile not decodable", logger.String("tile", addr.String()), logger.Error(err))
		return nil, false
	}
	return img, true
}

// composite assembles the window from its placements; false if any tile is missing
func (g *Generator) composite(dir string, placements []Placement, tileSize int) (image.Image, bool) {
	dst := imaging.New(tileSize, tileSize, color.Black)
	for _, p := range placements {
		if p.Tile.Y >= 1<<p.Tile.Z {
			return nil, false
		}
		src, ok := g.loadTile(dir, p.Tile)
		if !ok {
			return nil, false
		}
		w := tileSize - max(p.SrcX, p.DstX)
		h := tileSize - max(p.SrcY, p.DstY)
		region := imaging.Crop(src, image.Rect(p.SrcX, p.SrcY, p.SrcX+w, p.SrcY+h))
		dst = imaging.Paste(dst, region, image.Pt(p.DstX, p.DstY))
	}
	return dst, true
}

// Run writes the original images, every window that shows at least one
// annotation, and a combined COCO document into the output directory.
func (g *Generator) Run(ctx context.Context) (Result, error) {
	res := Result{OutputDir: g.cfg.OutputDir}

	src, err := g.writer.LoadCOCO(g.cfg.Source)
	if err != nil {
		return res, err
	}
	if len(src.Images) == 0 {
		g.log.Info("no images in source dataset", logger.String("source", g.cfg.Source))
		return res, nil
	}
	dir, err := g.tileDir()
	if err != nil {
		return res, err
	}

	tileSize := src.Images[0].Width
	offsets, err := Offsets(tileSize, g.cfg.Stride)
	if err != nil {
		return res, err
	}
	g.log.Info("generating sliding windows",
		logger.String("tile_dir", dir),
		logger.Int("tile_size", tileSize),
		logger.Int("stride", g.cfg.Stride),
		logger.Int("offsets", len(offsets)))

	imageByTile := make(map[tiles.TileAddress]int, len(src.Images))
	for _, img := range src.Images {
		if addr, err := ParseTileFileName(img.FileName); err == nil {
			imageByTile[addr] = img.ID
		}
	}
	annsByImage := make(map[int][]export.COCOAnnotation)
	for _, a := range src.Annotations {
		annsByImage[a.ImageID] = append(annsByImage[a.ImageID], a)
	}

	out := &export.COCODocument{
		Info: export.COCOInfo{
			Description:     fmt.Sprintf("Sliding window dataset (stride=%d)", g.cfg.Stride),
			OriginalDataset: g.cfg.Source,
		},
		Images:      []export.COCOImage{},
		Annotations: []export.COCOAnnotation{},
		Categories:  src.Categories,
	}
	addImage := func(name string, anns []export.COCOAnnotation) {
		id := len(out.Images) + 1
		out.Images = append(out.Images, export.COCOImage{ID: id, FileName: name, Width: tileSize, Height: tileSize})
		for _, a := range anns {
			a.ID = len(out.Annotations) + 1
			a.ImageID = id
			out.Annotations = append(out.Annotations, a)
		}
	}

	for _, img := range src.Images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		base := path.Base(img.FileName)
		data, err := g.fs.ReadFile(path.Join(dir, base))
		if err != nil {
			g.log.Warn("original tile not found", logger.String("file", base))
			continue
		}
		if err := g.fs.WriteFileAtomic(ctx, path.Join(g.cfg.OutputDir, base), data, 0o644); err != nil {
			return res, err
		}
		res.OriginalsCopied++
		addImage(base, annsByImage[img.ID])
	}

	for _, img := range src.Images {
		addr, err := ParseTileFileName(img.FileName)
		if err != nil {
			g.log.Warn("skipping image", logger.String("file", img.FileName), logger.Error(err))
			continue
		}
		for _, o := range offsets {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			placements := RequiredTiles(addr, o, tileSize)
			anns := g.windowAnnotations(placements, imageByTile, annsByImage, tileSize)
			if len(anns) == 0 {
				res.WindowsSkipped++
				continue
			}
			win, ok := g.composite(dir, placements, tileSize)
			if !ok {
				res.WindowsSkipped++
				continue
			}
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, win, imaging.PNG); err != nil {
				return res, errors.New(err).
					Component("window").
					Category(errors.CategoryImage).
					Build()
			}
			name := WindowFileName(addr, o)
			if err := g.fs.WriteFileAtomic(ctx, path.Join(g.cfg.OutputDir, name), buf.Bytes(), 0o644); err != nil {
				return res, err
			}
			res.WindowsCreated++
			addImage(name, anns)
		}
	}

	if err := g.writer.Save(ctx, path.Join(g.cfg.OutputDir, export.COCOFile), out); err != nil {
		return res, err
	}
	res.Images = len(out.Images)
	res.Annotations = len(out.Annotations)
	g.log.Info("sliding windows written",
		logger.Int("originals", res.OriginalsCopied),
		logger.Int("windows", res.WindowsCreated),
		logger.Int("skipped", res.WindowsSkipped),
		logger.Int("annotations", res.Annotations))
	return res, nil
}

// windowAnnotations collects the annotations of every labeled contributing
// tile, moved into window space and clipped.
func (g *Generator) windowAnnotations(placements []Placement, imageByTile map[tiles.TileAddress]int,
	annsByImage map[int][]export.COCOAnnotation, tileSize int) []export.COCOAnnotation {
	var out []export.COCOAnnotation
	for _, p := range placements {
		imageID, ok := imageByTile[p.Tile]
		if !ok {
			continue
		}
		dx := float64(p.SrcX - p.DstX)
		dy := float64(p.SrcY - p.DstY)
		for _, a := range annsByImage[imageID] {
			box, visible := TranslateAndClip(a.BBox, dx, dy, tileSize)
			if !visible {
				continue
			}
			out = append(out, export.COCOAnnotation{
				CategoryID:   a.CategoryID,
				BBox:         box,
				Segmentation: export.Segmentation(box),
				Area:         box.Area(),
				IsCrowd:      0,
				NounPhrase:   a.NounPhrase,
			})
		}
	}
	return out
}
