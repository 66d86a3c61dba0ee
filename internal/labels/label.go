// Package labels stores bounding-box and negative-tile annotations.
//
// Every Store enforces one cross-record rule per tile address: a negative
// label (the tile contains nothing of interest) never coexists with a
// non-negative label, and there is at most one negative label per tile.
package labels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// GetLogger returns the labels module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("labels")
}

// Sentinel errors
var (
	ErrNegativeConflict = errors.NewStd("negative label conflicts with existing labels")
	ErrNotFound         = errors.NewStd("label not found")
	ErrDuplicateID      = errors.NewStd("label id already exists")
)

// Label is one annotation on one tile.
type Label struct {
	ID         string            `json:"id"`
	Tile       tiles.TileAddress `json:"tile"`
	PixelBBox  tiles.PixelBBox   `json:"pixel_bbox"`
	GeoBBox    tiles.GeoBBox     `json:"geo_bbox"`
	NounPhrase string            `json:"noun_phrase,omitempty"`
	IsNegative bool              `json:"is_negative"`
	TileSize   int               `json:"tile_size"` // edge of the pixel frame PixelBBox was drawn in
	CreatedAt  time.Time         `json:"created_at"`
}

// FrameSize returns TileSize, or the standard tile size when unset
func (l *Label) FrameSize() int {
	if l.TileSize <= 0 {
		return tiles.DefaultTileSize
	}
	return l.TileSize
}

// LabelUpdate carries the optional fields of an edit; nil fields are unchanged.
type LabelUpdate struct {
	NounPhrase *string          `json:"noun_phrase,omitempty"`
	IsNegative *bool            `json:"is_negative,omitempty"`
	PixelBBox  *tiles.PixelBBox `json:"pixel_bbox,omitempty"`
	GeoBBox    *tiles.GeoBBox   `json:"geo_bbox,omitempty"`
}

// Store is the annotation store contract.
type Store interface {
	// Put inserts a label. A negative label at an already-negative tile
	// returns the existing record.
	Put(ctx context.Context, label Label) (Label, error)
	// Get returns the labels on one tile, oldest first.
	Get(ctx context.Context, addr tiles.TileAddress) ([]Label, error)
	Delete(ctx context.Context, id string) error
	// ListAll returns every label ordered by tile, then creation time.
	ListAll(ctx context.Context) ([]Label, error)
	Update(ctx context.Context, id string, update LabelUpdate) (Label, error)
	// DeleteTile removes all labels on a tile and returns how many were removed.
	DeleteTile(ctx context.Context, addr tiles.TileAddress) (int, error)
	// Ping checks the backing database is reachable without reading labels.
	Ping(ctx context.Context) error
	Close() error
}

// NewNegative builds a negative label covering the whole tile.
func NewNegative(addr tiles.TileAddress, tileSize int) (Label, error) {
	geo, err := tiles.TileToGeoBBox(addr)
	if err != nil {
		return Label{}, err
	}
	if tileSize <= 0 {
		tileSize = tiles.DefaultTileSize
	}
	size := float64(tileSize)
	return Label{
		Tile:       addr,
		PixelBBox:  tiles.PixelBBox{Width: size, Height: size},
		GeoBBox:    geo,
		IsNegative: true,
		TileSize:   tileSize,
	}, nil
}

// prepare assigns id and timestamp and validates the label's shape
func prepare(label Label) (Label, error) {
	if label.ID == "" {
		label.ID = uuid.NewString()
	}
	if label.CreatedAt.IsZero() {
		label.CreatedAt = time.Now().UTC()
	}
	label.NounPhrase = strings.TrimSpace(label.NounPhrase)
	label.TileSize = label.FrameSize()
	if err := validate(label); err != nil {
		return Label{}, err
	}
	return label, nil
}

func validate(label Label) error {
	if err := tiles.ValidateAddress(label.Tile); err != nil {
		return err
	}
	if err := label.GeoBBox.Validate(); err != nil {
		return err
	}
	return label.PixelBBox.Validate(label.FrameSize())
}

func conflictError(addr tiles.TileAddress, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNegativeConflict, fmt.Sprintf(format, args...))).
		Component("labels").
		Category(errors.CategoryConflict).
		TileContext(addr.Z, addr.X, addr.Y).
		Build()
}

func notFoundError(id string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNotFound, id)).
		Component("labels").
		Category(errors.CategoryNotFound).
		Context("label_id", id).
		Build()
}

func duplicateIDError(id string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrDuplicateID, id)).
		Component("labels").
		Category(errors.CategoryConflict).
		Context("label_id", id).
		Build()
}

// checkPut applies the negative-label rule to existing labels at the target tile.
// It returns the existing negative label when the put is an idempotent repeat.
func checkPut(label Label, existing []Label) (*Label, error) {
	for i := range existing {
		other := existing[i]
		switch {
		case label.IsNegative && other.IsNegative:
			return &other, nil
		case label.IsNegative && !other.IsNegative:
			return nil, conflictError(label.Tile, "tile %s already has label %s", label.Tile, other.ID)
		case !label.IsNegative && other.IsNegative:
			return nil, conflictError(label.Tile, "tile %s is marked negative by %s", label.Tile, other.ID)
		}
	}
	return nil, nil
}

// applyUpdate returns the edited label after checking it against the other labels on its tile
func applyUpdate(current Label, update LabelUpdate, siblings []Label) (Label, error) {
	next := current
	if update.NounPhrase != nil {
		next.NounPhrase = strings.TrimSpace(*update.NounPhrase)
	}
	if update.IsNegative != nil {
		next.IsNegative = *update.IsNegative
	}
	if update.PixelBBox != nil {
		next.PixelBBox = *update.PixelBBox
	}
	if update.GeoBBox != nil {
		next.GeoBBox = *update.GeoBBox
	}
	if err := validate(next); err != nil {
		return Label{}, err
	}

	for _, other := range siblings {
		if other.ID == current.ID {
			continue
		}
		if next.IsNegative || other.IsNegative {
			return Label{}, conflictError(next.Tile, "label %s cannot be negative alongside %s", next.ID, other.ID)
		}
	}
	return next, nil
}
