// Package tiles implements the Web Mercator tile math shared by the labeling,
// download and export code: lon/lat to XYZ tile addresses, tile bounds, and
// geographic to tile-pixel boxes.
//
// Tile addresses follow the slippy-map scheme: origin at the top-left, zoom z
// has a 2^z by 2^z grid. Geographic boxes are [west, south, east, north] in
// degrees; west > east means the box crosses the antimeridian.
package tiles

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/noahgolmant/label-tiles/internal/errors"
)

const (
	// MaxLatitude is the Web Mercator latitude limit, atan(sinh(π)) in degrees.
	MaxLatitude = 85.0511287798066

	// MaxZoom is the deepest zoom level accepted by the engine.
	MaxZoom = 30

	// MinPixelExtent is the smallest width or height a pixel box may have.
	MinPixelExtent = 1e-6

	// DefaultTileSize is the edge length of a standard raster tile in pixels.
	DefaultTileSize = 256
)

// Sentinel errors. All are returned wrapped in an EnhancedError with CategoryCoordinate.
var (
	ErrInvalidZoom    = errors.NewStd("invalid zoom level")
	ErrInvalidAddress = errors.NewStd("invalid tile address")
	ErrMalformedBBox  = errors.NewStd("malformed bounding box")
	ErrDegenerateBBox = errors.NewStd("degenerate bounding box")
)

// coordinateError wraps a sentinel with details
func coordinateError(sentinel error, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))).
		Component("tiles").
		Category(errors.CategoryCoordinate).
		Build()
}

// TileAddress identifies one tile in the XYZ pyramid.
type TileAddress struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the "z/x/y" form
func (a TileAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

// Less orders addresses by (z, x, y)
func (a TileAddress) Less(b TileAddress) bool {
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}

// Compare is Less as a three-way comparison, for slices.SortFunc
func Compare(a, b TileAddress) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// ValidateZoom checks z is within [0, MaxZoom]
func ValidateZoom(z int) error {
	if z < 0 || z > MaxZoom {
		return coordinateError(ErrInvalidZoom, "zoom %d outside [0, %d]", z, MaxZoom)
	}
	return nil
}

// ValidateAddress checks the zoom and that x and y lie in [0, 2^z)
func ValidateAddress(a TileAddress) error {
	if err := ValidateZoom(a.Z); err != nil {
		return err
	}
	n := 1 << a.Z
	if a.X < 0 || a.X >= n || a.Y < 0 || a.Y >= n {
		return coordinateError(ErrInvalidAddress, "tile %s outside [0, %d)", a, n)
	}
	return nil
}

// ParseTileAddress parses "z/x/y"
func ParseTileAddress(s string) (TileAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return TileAddress{}, coordinateError(ErrInvalidAddress, "%q is not z/x/y", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TileAddress{}, coordinateError(ErrInvalidAddress, "%q is not z/x/y", s)
		}
		vals[i] = v
	}
	addr := TileAddress{Z: vals[0], X: vals[1], Y: vals[2]}
	return addr, ValidateAddress(addr)
}

// normalizeLon maps any finite longitude into [-180, 180)
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func clampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// fractionalTile projects lon/lat to fractional tile coordinates at zoom z
func fractionalTile(lon, lat float64, z int) (fx, fy float64) {
	n := math.Exp2(float64(z))
	latRad := clampLat(lat) * math.Pi / 180
	fx = (normalizeLon(lon) + 180) / 360 * n
	fy = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n
	return fx, fy
}

// clampIndex keeps a floored tile index inside [0, n)
func clampIndex(v float64, n int) int {
	i := int(math.Floor(v))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// LonLatToTile returns the tile containing the point at zoom z.
// Latitude is clamped to ±MaxLatitude and longitude wrapped into [-180, 180).
func LonLatToTile(lon, lat float64, z int) (TileAddress, error) {
	if err := ValidateZoom(z); err != nil {
		return TileAddress{}, err
	}
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return TileAddress{}, coordinateError(ErrMalformedBBox, "non-finite coordinate (%v, %v)", lon, lat)
	}
	n := 1 << z
	fx, fy := fractionalTile(lon, lat, z)
	return TileAddress{Z: z, X: clampIndex(fx, n), Y: clampIndex(fy, n)}, nil
}

// tileLon returns the longitude of the west edge of column x
func tileLon(x int, z int) float64 {
	return float64(x)/math.Exp2(float64(z))*360 - 180
}

// tileLat returns the latitude of the north edge of row y
func tileLat(y int, z int) float64 {
	n := math.Pi * (1 - 2*float64(y)/math.Exp2(float64(z)))
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

// TileToGeoBBox returns the geographic bounds of a tile
func TileToGeoBBox(a TileAddress) (GeoBBox, error) {
	if err := ValidateAddress(a); err != nil {
		return GeoBBox{}, err
	}
	return GeoBBox{
		tileLon(a.X, a.Z),
		tileLat(a.Y+1, a.Z),
		tileLon(a.X+1, a.Z),
		tileLat(a.Y, a.Z),
	}, nil
}
