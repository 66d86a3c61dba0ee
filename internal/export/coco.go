package export

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

const (
	// DefaultCategory names labels that carry no noun phrase.
	DefaultCategory = "object"

	cocoDescription = "Tile labeling dataset"
)

// COCOOptions configures BuildCOCO
type COCOOptions struct {
	Categories []string         // configured noun phrases, ids assigned in this order
	Server     *conf.TileServer // optional: file paths and coverage filter
	TileSize   int              // image size, defaults to the server tile size or the largest label frame on the tile
}

// COCODocument is an object-detection dataset
type COCODocument struct {
	Info        COCOInfo         `json:"info"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
}

type COCOInfo struct {
	Description     string `json:"description"`
	OriginalDataset string `json:"original_dataset,omitempty"`
}

type COCOImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type COCOAnnotation struct {
	ID           int             `json:"id"`
	ImageID      int             `json:"image_id"`
	CategoryID   int             `json:"category_id"`
	BBox         tiles.PixelBBox `json:"bbox"`
	Segmentation [][]float64     `json:"segmentation"`
	Area         float64         `json:"area"`
	IsCrowd      int             `json:"iscrowd"`
	NounPhrase   string          `json:"noun_phrase"`
}

type COCOCategory struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Segmentation returns the box outline as a single COCO polygon
func Segmentation(b tiles.PixelBBox) [][]float64 {
	x2, y2 := b.X+b.Width, b.Y+b.Height
	return [][]float64{{b.X, b.Y, x2, b.Y, x2, y2, b.X, y2}}
}

// ImageFileName is the dataset-relative path of a tile image
func ImageFileName(serverID string, addr tiles.TileAddress) string {
	name := fmt.Sprintf("%d_%d_%d.png", addr.Z, addr.X, addr.Y)
	if serverID == "" {
		return "tiles/" + name
	}
	return "tiles/" + serverID + "/" + name
}

// categoryIndex assigns ids: configured phrases first in their given order,
// then unconfigured phrases in sorted order.
func categoryIndex(configured []string, used map[string]bool) ([]COCOCategory, map[string]int, error) {
	ids := make(map[string]int, len(configured)+len(used))
	cats := make([]COCOCategory, 0, len(configured)+len(used))
	for _, name := range configured {
		if name == "" {
			return nil, nil, exportError("empty category name")
		}
		if _, dup := ids[name]; dup {
			return nil, nil, exportError("duplicate category %q", name)
		}
		ids[name] = len(cats) + 1
		cats = append(cats, COCOCategory{ID: len(cats) + 1, Name: name})
	}

	var extra []string
	for name := range used {
		if _, ok := ids[name]; !ok {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		ids[name] = len(cats) + 1
		cats = append(cats, COCOCategory{ID: len(cats) + 1, Name: name})
	}
	return cats, ids, nil
}

func categoryName(l *labels.Label) string {
	if l.NounPhrase == "" {
		return DefaultCategory
	}
	return l.NounPhrase
}

// scaleBBox maps a box drawn in a from-pixel frame into a to-pixel frame
func scaleBBox(b tiles.PixelBBox, from, to int) tiles.PixelBBox {
	if from == to {
		return b
	}
	f := float64(to) / float64(from)
	return tiles.PixelBBox{X: b.X * f, Y: b.Y * f, Width: b.Width * f, Height: b.Height * f}
}

// BuildCOCO returns a deterministic COCO document: images sorted by tile
// address, annotations sorted by label id, negative-only tiles kept as images
// without annotations. Boxes drawn in a frame other than the image size are
// rescaled into it.
func BuildCOCO(ls []labels.Label, opts COCOOptions) (*COCODocument, error) {
	imageSize := opts.TileSize
	serverID := ""
	if opts.Server != nil {
		serverID = opts.Server.ID
		if imageSize <= 0 {
			imageSize = opts.Server.TileSize
		}
	}

	kept := make([]labels.Label, 0, len(ls))
	used := make(map[string]bool)
	for i := range ls {
		l := &ls[i]
		if err := checkLabel(l, frameSize(l, 0)); err != nil {
			return nil, err
		}
		if opts.Server != nil && !opts.Server.Covers(l.Tile) {
			continue
		}
		kept = append(kept, *l)
		if !l.IsNegative {
			used[categoryName(l)] = true
		}
	}

	cats, catIDs, err := categoryIndex(opts.Categories, used)
	if err != nil {
		return nil, err
	}

	var addrs []tiles.TileAddress
	sizes := make(map[tiles.TileAddress]int)
	for i := range kept {
		l := &kept[i]
		if _, seen := sizes[l.Tile]; !seen {
			addrs = append(addrs, l.Tile)
		}
		size := imageSize
		if size <= 0 {
			size = frameSize(l, 0)
		}
		sizes[l.Tile] = max(sizes[l.Tile], size)
	}
	slices.SortFunc(addrs, tiles.Compare)

	doc := &COCODocument{
		Info:        COCOInfo{Description: cocoDescription},
		Images:      make([]COCOImage, 0, len(addrs)),
		Annotations: []COCOAnnotation{},
		Categories:  cats,
	}
	imageIDs := make(map[tiles.TileAddress]int, len(addrs))
	for i, a := range addrs {
		imageIDs[a] = i + 1
		doc.Images = append(doc.Images, COCOImage{
			ID:       i + 1,
			FileName: ImageFileName(serverID, a),
			Width:    sizes[a],
			Height:   sizes[a],
		})
	}

	slices.SortFunc(kept, func(a, b labels.Label) int { return cmp.Compare(a.ID, b.ID) })
	for _, l := range kept {
		if l.IsNegative {
			continue
		}
		box := scaleBBox(l.PixelBBox, frameSize(&l, 0), sizes[l.Tile])
		doc.Annotations = append(doc.Annotations, COCOAnnotation{
			ID:           len(doc.Annotations) + 1,
			ImageID:      imageIDs[l.Tile],
			CategoryID:   catIDs[categoryName(&l)],
			BBox:         box,
			Segmentation: Segmentation(box),
			Area:         box.Area(),
			IsCrowd:      0,
			NounPhrase:   l.NounPhrase,
		})
	}
	return doc, nil
}
