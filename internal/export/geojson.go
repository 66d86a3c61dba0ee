package export

import (
	"cmp"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// CoordinateMode selects which box a GeoJSON geometry is built from
type CoordinateMode string

const (
	ModeGeo   CoordinateMode = "geo"   // geoBBox as stored
	ModePixel CoordinateMode = "pixel" // pixelBBox reprojected through the tile bounds
)

// GeoJSONOptions configures BuildGeoJSON
type GeoJSONOptions struct {
	Mode     CoordinateMode
	TileSize int // frame of labels stored without one (default: 256)
}

// FeatureCollection is the GeoJSON document BuildGeoJSON returns. Feature
// properties marshal as a map, so keys come out sorted.
type FeatureCollection = geojson.FeatureCollection

// Ring returns the closed counter-clockwise ring of b. A box crossing the
// antimeridian is unwrapped eastwards so the ring stays contiguous.
func Ring(b tiles.GeoBBox) orb.Ring {
	w, s, e, n := b.West(), b.South(), b.East(), b.North()
	if b.CrossesAntimeridian() {
		e += 360
	}
	return orb.Ring{{w, s}, {e, s}, {e, n}, {w, n}, {w, s}}
}

// RingBounds recovers the bounding box of a ring produced by Ring
func RingBounds(ring orb.Ring) tiles.GeoBBox {
	if len(ring) == 0 {
		return tiles.GeoBBox{}
	}
	bound := ring.Bound()
	b := tiles.GeoBBox{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()}
	if b[2] > 180 {
		b[2] -= 360
	}
	return b
}

// OuterRing returns the exterior ring of a polygon feature
func OuterRing(f *geojson.Feature) (orb.Ring, bool) {
	poly, ok := f.Geometry.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, false
	}
	return poly[0], true
}

// BuildGeoJSON returns one Polygon feature per label, sorted by label id.
func BuildGeoJSON(ls []labels.Label, opts GeoJSONOptions) (*FeatureCollection, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeGeo
	}
	if mode != ModeGeo && mode != ModePixel {
		return nil, exportError("unknown coordinate mode %q", mode)
	}

	sorted := slices.Clone(ls)
	slices.SortFunc(sorted, func(a, b labels.Label) int { return cmp.Compare(a.ID, b.ID) })

	fc := geojson.NewFeatureCollection()
	for i := range sorted {
		l := &sorted[i]
		frame := frameSize(l, opts.TileSize)
		if err := checkLabel(l, frame); err != nil {
			return nil, err
		}

		box := l.GeoBBox
		if mode == ModePixel {
			tileGeo, err := tiles.TileToGeoBBox(l.Tile)
			if err != nil {
				return nil, exportError("label %s: %v", l.ID, err)
			}
			box, err = tiles.PixelToGeoBBox(l.PixelBBox, tileGeo, frame)
			if err != nil {
				return nil, exportError("label %s: %v", l.ID, err)
			}
		}

		var phrase any
		if l.NounPhrase != "" {
			phrase = l.NounPhrase
		}
		f := geojson.NewFeature(orb.Polygon{Ring(box)})
		f.Properties = geojson.Properties{
			"id":          l.ID,
			"noun_phrase": phrase,
			"is_negative": l.IsNegative,
			"tile_x":      l.Tile.X,
			"tile_y":      l.Tile.Y,
			"tile_z":      l.Tile.Z,
			"tile_size":   frame,
			"pixel_bbox":  l.PixelBBox,
			"created_at":  l.CreatedAt.UTC(),
		}
		fc.Append(f)
	}
	return fc, nil
}
