package conf

import (
	"fmt"
	"strings"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// Tile server defaults applied to fields left unset in the config file.
const (
	DefaultMinZoom = 0
	DefaultMaxZoom = 22
)

// DefaultBounds covers the Web Mercator latitude range with whole degrees.
var DefaultBounds = []float64{-180, -85, 180, 85}

// TileServer describes one XYZ raster tile source
type TileServer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URLTemplate string    `json:"url_template"` // {z}, {x}, {y}, optionally {s} and {-y}
	TileSize    int       `json:"tile_size"`
	MinZoom     int       `json:"min_zoom"`
	MaxZoom     int       `json:"max_zoom"`
	Bounds      []float64 `json:"bounds"`     // [west, south, east, north]
	RateLimit   float64   `json:"rate_limit"` // requests per second, 0 for unlimited
	Subdomains  []string  `json:"subdomains,omitempty"`
}

// ApplyDefaults fills zero-valued fields. MinZoom 0 is already the default.
func (ts *TileServer) ApplyDefaults() {
	if ts.TileSize <= 0 {
		ts.TileSize = tiles.DefaultTileSize
	}
	if ts.MaxZoom == 0 && ts.MinZoom == 0 {
		ts.MaxZoom = DefaultMaxZoom
	}
	if len(ts.Bounds) == 0 {
		ts.Bounds = append([]float64(nil), DefaultBounds...)
	}
	if ts.ID == "" {
		ts.ID = SanitizeID(ts.Name)
	}
}

// GeoBounds returns the server coverage as a GeoBBox
func (ts *TileServer) GeoBounds() (tiles.GeoBBox, error) {
	return tiles.BBoxFromSlice(ts.Bounds)
}

// SupportsZoom reports whether z is inside the server's zoom range
func (ts *TileServer) SupportsZoom(z int) bool {
	return z >= ts.MinZoom && z <= ts.MaxZoom
}

// Covers reports whether the server serves the tile: zoom in range and the
// tile bounds intersect the server bounds.
func (ts *TileServer) Covers(addr tiles.TileAddress) bool {
	if !ts.SupportsZoom(addr.Z) {
		return false
	}
	bounds, err := ts.GeoBounds()
	if err != nil {
		return false
	}
	tb, err := tiles.TileToGeoBBox(addr)
	if err != nil {
		return false
	}
	return tb.Intersects(bounds)
}

// Validate checks a single tile server definition
func (ts *TileServer) Validate() error {
	var problems []string
	if ts.ID == "" {
		problems = append(problems, "id is empty")
	} else if SanitizeID(ts.ID) != ts.ID {
		problems = append(problems, fmt.Sprintf("id %q must be lowercase letters, digits and hyphens", ts.ID))
	}
	if !strings.Contains(ts.URLTemplate, "{z}") || !strings.Contains(ts.URLTemplate, "{x}") ||
		(!strings.Contains(ts.URLTemplate, "{y}") && !strings.Contains(ts.URLTemplate, "{-y}")) {
		problems = append(problems, fmt.Sprintf("url template %q must contain {z}, {x} and {y}", ts.URLTemplate))
	}
	if strings.Contains(ts.URLTemplate, "{s}") && len(ts.Subdomains) == 0 {
		problems = append(problems, "url template uses {s} but no subdomains are configured")
	}
	if ts.TileSize <= 0 {
		problems = append(problems, fmt.Sprintf("tile size %d must be positive", ts.TileSize))
	}
	if ts.MinZoom < 0 || ts.MaxZoom > tiles.MaxZoom || ts.MinZoom > ts.MaxZoom {
		problems = append(problems, fmt.Sprintf("zoom range [%d, %d] invalid", ts.MinZoom, ts.MaxZoom))
	}
	if _, err := ts.GeoBounds(); err != nil {
		problems = append(problems, fmt.Sprintf("bounds: %v", err))
	}
	if ts.RateLimit < 0 {
		problems = append(problems, "rate limit must not be negative")
	}

	if len(problems) > 0 {
		return errors.Newf("tile server %q: %s", ts.ID, strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("tile_server", ts.ID).
			Build()
	}
	return nil
}

// FindTileServer returns the server with the given id
func (s *Settings) FindTileServer(id string) (TileServer, bool) {
	for _, ts := range s.TileServers {
		if ts.ID == id {
			return ts, true
		}
	}
	return TileServer{}, false
}

// AddTileServer derives a unique id from the server name (or the requested id),
// applies defaults, validates and appends the server. Settings are not
// synchronized; callers serialize concurrent additions.
func (s *Settings) AddTileServer(ts TileServer) (TileServer, error) {
	base := ts.ID
	if base == "" {
		base = ts.Name
	}
	existing := make([]string, 0, len(s.TileServers))
	for _, other := range s.TileServers {
		existing = append(existing, other.ID)
	}
	ts.ID = UniqueID(SanitizeID(base), existing)
	if ts.Name == "" {
		ts.Name = ts.ID
	}
	ts.ApplyDefaults()

	if err := ts.Validate(); err != nil {
		return TileServer{}, err
	}
	s.TileServers = append(s.TileServers, ts)
	return ts, nil
}
