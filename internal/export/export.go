// Package export renders stored labels as GeoJSON and COCO documents.
//
// Both builders are pure functions of their input: identical labels and
// options always produce byte-identical JSON.
package export

import (
	"fmt"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// GetLogger returns the export module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("export")
}

// ErrInvalidInput marks structurally invalid export input
var ErrInvalidInput = errors.NewStd("invalid export input")

func exportError(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))).
		Component("export").
		Category(errors.CategoryExport).
		Build()
}

// frameSize is the pixel frame of l: its own, else fallback, else 256
func frameSize(l *labels.Label, fallback int) int {
	if l.TileSize > 0 {
		return l.TileSize
	}
	if fallback > 0 {
		return fallback
	}
	return tiles.DefaultTileSize
}

// checkLabel rejects labels whose address or boxes are unusable in their own frame
func checkLabel(l *labels.Label, tileSize int) error {
	if err := tiles.ValidateAddress(l.Tile); err != nil {
		return exportError("label %s: %v", l.ID, err)
	}
	if err := l.GeoBBox.Validate(); err != nil {
		return exportError("label %s: %v", l.ID, err)
	}
	if err := l.PixelBBox.Validate(tileSize); err != nil {
		return exportError("label %s: %v", l.ID, err)
	}
	return nil
}
