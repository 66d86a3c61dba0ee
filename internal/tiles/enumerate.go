package tiles

import (
	"math"
	"slices"
)

// snapEpsilon absorbs floating error when an edge lies exactly on a tile boundary
const snapEpsilon = 1e-9

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

// indexRange is a half-open [from, to) range of tile indices
type indexRange struct{ from, to int }

func (r indexRange) len() int { return max(0, r.to-r.from) }

// halfOpen converts fractional edges to the covering half-open index range in [0, n)
func halfOpen(lo, hi float64, n int) indexRange {
	lo, hi = snap(lo), snap(hi)
	if hi <= lo {
		return indexRange{}
	}
	from := int(math.Floor(lo))
	to := int(math.Ceil(hi))
	return indexRange{from: max(0, from), to: min(n, to)}
}

// tileRanges returns the column ranges and the row range covering extent at zoom z.
// An extent crossing the antimeridian yields two column ranges.
func tileRanges(extent GeoBBox, z int) ([]indexRange, indexRange, error) {
	if err := ValidateZoom(z); err != nil {
		return nil, indexRange{}, err
	}
	if err := extent.Validate(); err != nil {
		return nil, indexRange{}, err
	}

	n := 1 << z
	scale := math.Exp2(float64(z))
	colFrac := func(lon float64) float64 { return (lon + 180) / 360 * scale }

	var cols []indexRange
	for _, span := range extent.lonSpans() {
		if r := halfOpen(colFrac(span[0]), colFrac(span[1]), n); r.len() > 0 {
			cols = append(cols, r)
		}
	}

	_, top := fractionalTile(0, extent.North(), z)
	_, bottom := fractionalTile(0, extent.South(), z)
	rows := halfOpen(top, bottom, n)

	return cols, rows, nil
}

// CountTiles returns how many tiles EnumerateTiles would produce, without allocating them.
func CountTiles(extent GeoBBox, z int) (int, error) {
	cols, rows, err := tileRanges(extent, z)
	if err != nil {
		return 0, err
	}
	seen := make(map[int]struct{})
	for _, c := range cols {
		for x := c.from; x < c.to; x++ {
			seen[x] = struct{}{}
		}
	}
	return len(seen) * rows.len(), nil
}

// EnumerateTiles returns every tile at zoom z intersecting extent, sorted by (x, y).
// Ranges are half-open so an extent edge lying on a tile boundary does not pull in
// the neighbouring tile. When west > east the extent is treated as crossing the
// antimeridian and both segments are enumerated; column indices are taken modulo 2^z.
func EnumerateTiles(extent GeoBBox, z int) ([]TileAddress, error) {
	cols, rows, err := tileRanges(extent, z)
	if err != nil {
		return nil, err
	}

	n := 1 << z
	seen := make(map[TileAddress]struct{})
	out := make([]TileAddress, 0)
	for _, c := range cols {
		for x := c.from; x < c.to; x++ {
			for y := rows.from; y < rows.to; y++ {
				addr := TileAddress{Z: z, X: wrapX(x, n), Y: y}
				if _, dup := seen[addr]; dup {
					continue
				}
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}
	slices.SortFunc(out, Compare)
	return out, nil
}

func wrapX(x, n int) int {
	x %= n
	if x < 0 {
		x += n
	}
	return x
}

// Neighbors returns the tiles within radius rings around a, excluding a itself.
// Columns wrap around the antimeridian; rows beyond the poles are dropped.
func Neighbors(a TileAddress, radius int) []TileAddress {
	if radius <= 0 || ValidateAddress(a) != nil {
		return nil
	}
	n := 1 << a.Z
	seen := map[TileAddress]struct{}{a: {}}
	var out []TileAddress
	for dy := -radius; dy <= radius; dy++ {
		y := a.Y + dy
		if y < 0 || y >= n {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			nb := TileAddress{Z: a.Z, X: wrapX(a.X+dx, n), Y: y}
			if _, dup := seen[nb]; dup {
				continue
			}
			seen[nb] = struct{}{}
			out = append(out, nb)
		}
	}
	slices.SortFunc(out, Compare)
	return out
}

// Expand returns the deduplicated, sorted union of addrs and their neighbours within radius.
func Expand(addrs []TileAddress, radius int) []TileAddress {
	seen := make(map[TileAddress]struct{}, len(addrs))
	out := make([]TileAddress, 0, len(addrs))
	add := func(a TileAddress) {
		if _, dup := seen[a]; dup {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, a := range addrs {
		add(a)
		for _, nb := range Neighbors(a, radius) {
			add(nb)
		}
	}
	slices.SortFunc(out, Compare)
	return out
}
