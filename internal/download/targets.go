package download

import (
	"context"
	"fmt"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// Mode selects which tiles a job fetches
type Mode string

const (
	ModeAll     Mode = "all"
	ModeLabeled Mode = "labeled"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeAll || m == ModeLabeled
}

// AllTargets enumerates every tile of extent at zoom z. A positive limit
// rejects the request before any address is allocated.
func AllTargets(extent tiles.GeoBBox, z, limit int) ([]tiles.TileAddress, error) {
	if limit > 0 {
		n, err := tiles.CountTiles(extent, z)
		if err != nil {
			return nil, err
		}
		if n > limit {
			return nil, errors.New(fmt.Errorf("%w: extent covers %d tiles at zoom %d, limit is %d", ErrTooManyTiles, n, z, limit)).
				Component("download").
				Category(errors.CategoryValidation).
				Context("zoom", z).
				Build()
		}
	}
	return tiles.EnumerateTiles(extent, z)
}

// LabeledTargets returns every tile carrying a label, negative labels
// included, grown by padding rings of neighbours.
func LabeledTargets(ctx context.Context, store labels.Store, padding int) ([]tiles.TileAddress, error) {
	all, err := store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	addrs := make([]tiles.TileAddress, 0, len(all))
	for _, l := range all {
		addrs = append(addrs, l.Tile)
	}
	return tiles.Expand(addrs, max(padding, 0)), nil
}
