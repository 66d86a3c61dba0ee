package tiles

import (
	"encoding/json"
	"fmt"
	"math"
)

// GeoBBox is [west, south, east, north] in degrees.
// south < north always; west > east denotes a box crossing the antimeridian.
type GeoBBox [4]float64

func (b GeoBBox) West() float64  { return b[0] }
func (b GeoBBox) South() float64 { return b[1] }
func (b GeoBBox) East() float64  { return b[2] }
func (b GeoBBox) North() float64 { return b[3] }

// CrossesAntimeridian reports whether the box wraps past ±180°
func (b GeoBBox) CrossesAntimeridian() bool {
	return b.West() > b.East()
}

// Validate checks the box is finite, within lon/lat limits and has south < north
func (b GeoBBox) Validate() error {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return coordinateError(ErrMalformedBBox, "non-finite value in %v", b)
		}
	}
	if b.West() < -180 || b.West() > 180 || b.East() < -180 || b.East() > 180 {
		return coordinateError(ErrMalformedBBox, "longitude outside [-180, 180] in %v", b)
	}
	if b.South() < -90 || b.North() > 90 {
		return coordinateError(ErrMalformedBBox, "latitude outside [-90, 90] in %v", b)
	}
	if b.South() >= b.North() {
		return coordinateError(ErrMalformedBBox, "south %v not below north %v", b.South(), b.North())
	}
	return nil
}

// Intersects reports whether two boxes overlap with positive area.
// Either box may cross the antimeridian.
func (b GeoBBox) Intersects(o GeoBBox) bool {
	if b.South() >= o.North() || o.South() >= b.North() {
		return false
	}
	for _, bs := range b.lonSpans() {
		for _, os := range o.lonSpans() {
			if bs[0] < os[1] && os[0] < bs[1] {
				return true
			}
		}
	}
	return false
}

// lonSpans splits the longitude range into non-wrapping [from, to] spans
func (b GeoBBox) lonSpans() [][2]float64 {
	if b.CrossesAntimeridian() {
		return [][2]float64{{b.West(), 180}, {-180, b.East()}}
	}
	return [][2]float64{{b.West(), b.East()}}
}

// BBoxFromSlice converts a [west, south, east, north] slice
func BBoxFromSlice(v []float64) (GeoBBox, error) {
	if len(v) != 4 {
		return GeoBBox{}, coordinateError(ErrMalformedBBox, "expected 4 values, got %d", len(v))
	}
	b := GeoBBox{v[0], v[1], v[2], v[3]}
	return b, b.Validate()
}

// PixelBBox is a box in tile-local pixels, origin top-left.
// It encodes to JSON as [x, y, width, height].
type PixelBBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Area returns width*height
func (p PixelBBox) Area() float64 {
	return p.Width * p.Height
}

// Validate checks the box lies within [0, tileSize] and is not degenerate
func (p PixelBBox) Validate(tileSize int) error {
	size := float64(tileSize)
	for _, v := range []float64{p.X, p.Y, p.Width, p.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return coordinateError(ErrMalformedBBox, "non-finite value in %v", p)
		}
	}
	if p.Width <= MinPixelExtent || p.Height <= MinPixelExtent {
		return coordinateError(ErrDegenerateBBox, "pixel box %vx%v below minimum extent", p.Width, p.Height)
	}
	const slack = 1e-9
	if p.X < -slack || p.Y < -slack || p.X+p.Width > size+slack || p.Y+p.Height > size+slack {
		return coordinateError(ErrMalformedBBox, "pixel box %v outside [0, %d]", p, tileSize)
	}
	return nil
}

func (p PixelBBox) String() string {
	return fmt.Sprintf("[%g %g %g %g]", p.X, p.Y, p.Width, p.Height)
}

// MarshalJSON encodes the box as [x, y, width, height]
func (p PixelBBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{p.X, p.Y, p.Width, p.Height})
}

// UnmarshalJSON decodes [x, y, width, height]
func (p *PixelBBox) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("pixel bbox: expected 4 values, got %d", len(v))
	}
	*p = PixelBBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return nil
}

// unwrapAgainst returns west/east of b made contiguous near the tile's longitude span
func unwrapAgainst(b, tile GeoBBox) (west, east float64) {
	west, east = b.West(), b.East()
	if !b.CrossesAntimeridian() {
		return west, east
	}
	if tile.West() >= west {
		return west, east + 360
	}
	return west - 360, east
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// GeoToPixelBBox maps a geographic box into the pixel space of a tile by linear
// interpolation, clamping to [0, tileSize]. A box whose clamped width or height
// does not exceed MinPixelExtent is rejected as degenerate.
func GeoToPixelBBox(geo, tileGeo GeoBBox, tileSize int) (PixelBBox, error) {
	if tileSize <= 0 {
		return PixelBBox{}, coordinateError(ErrMalformedBBox, "tile size %d", tileSize)
	}
	if err := geo.Validate(); err != nil {
		return PixelBBox{}, err
	}
	if err := tileGeo.Validate(); err != nil {
		return PixelBBox{}, err
	}
	if tileGeo.CrossesAntimeridian() {
		return PixelBBox{}, coordinateError(ErrMalformedBBox, "tile bounds %v cross the antimeridian", tileGeo)
	}

	size := float64(tileSize)
	spanX := tileGeo.East() - tileGeo.West()
	spanY := tileGeo.North() - tileGeo.South()
	west, east := unwrapAgainst(geo, tileGeo)

	x1 := clamp((west-tileGeo.West())/spanX*size, 0, size)
	x2 := clamp((east-tileGeo.West())/spanX*size, 0, size)
	y1 := clamp((tileGeo.North()-geo.North())/spanY*size, 0, size)
	y2 := clamp((tileGeo.North()-geo.South())/spanY*size, 0, size)

	px := PixelBBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
	if px.Width <= MinPixelExtent || px.Height <= MinPixelExtent {
		return PixelBBox{}, coordinateError(ErrDegenerateBBox, "box %v maps to %v in tile %v", geo, px, tileGeo)
	}
	return px, nil
}

// PixelToGeoBBox is the inverse of GeoToPixelBBox for a box inside the tile.
func PixelToGeoBBox(px PixelBBox, tileGeo GeoBBox, tileSize int) (GeoBBox, error) {
	if tileSize <= 0 {
		return GeoBBox{}, coordinateError(ErrMalformedBBox, "tile size %d", tileSize)
	}
	if err := px.Validate(tileSize); err != nil {
		return GeoBBox{}, err
	}
	if err := tileGeo.Validate(); err != nil {
		return GeoBBox{}, err
	}

	size := float64(tileSize)
	spanX := tileGeo.East() - tileGeo.West()
	spanY := tileGeo.North() - tileGeo.South()

	return GeoBBox{
		tileGeo.West() + px.X/size*spanX,
		tileGeo.North() - (px.Y+px.Height)/size*spanY,
		tileGeo.West() + (px.X+px.Width)/size*spanX,
		tileGeo.North() - px.Y/size*spanY,
	}, nil
}
