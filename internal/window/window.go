// Package window derives extra training images by sliding a tile-sized
// window across neighbouring cached tiles.
package window

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// GetLogger returns the window module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("window")
}

// Offset is the window's top-left corner inside the anchor tile
type Offset struct {
	X, Y int
}

// Placement says which part of a source tile lands where in the window.
// The copied region starts at (SrcX, SrcY) in the tile and at (DstX, DstY)
// in the window, and extends to the far edge of both.
type Placement struct {
	Tile       tiles.TileAddress
	SrcX, SrcY int
	DstX, DstY int
}

// Offsets lists every stride-aligned window origin except (0, 0), rows first.
func Offsets(tileSize, stride int) ([]Offset, error) {
	if tileSize <= 0 || stride <= 0 {
		return nil, errors.Newf("tile size %d and stride %d must be positive", tileSize, stride).
			Component("window").
			Category(errors.CategoryValidation).
			Build()
	}
	var out []Offset
	for oy := 0; oy < tileSize; oy += stride {
		for ox := 0; ox < tileSize; ox += stride {
			if ox == 0 && oy == 0 {
				continue
			}
			out = append(out, Offset{X: ox, Y: oy})
		}
	}
	return out, nil
}

// RequiredTiles returns the tiles contributing to the window anchored at
// addr with offset o: the anchor itself, then the right, lower and diagonal
// neighbours as needed. Columns wrap at the antimeridian; a row beyond the
// pyramid is still returned so the caller treats it as missing.
func RequiredTiles(addr tiles.TileAddress, o Offset, tileSize int) []Placement {
	n := 1 << addr.Z
	right := tiles.TileAddress{Z: addr.Z, X: (addr.X + 1) % n, Y: addr.Y}
	below := tiles.TileAddress{Z: addr.Z, X: addr.X, Y: addr.Y + 1}
	diag := tiles.TileAddress{Z: addr.Z, X: right.X, Y: addr.Y + 1}

	restX := tileSize - o.X
	restY := tileSize - o.Y
	out := []Placement{{Tile: addr, SrcX: o.X, SrcY: o.Y}}
	if o.X > 0 {
		out = append(out, Placement{Tile: right, SrcX: 0, SrcY: o.Y, DstX: restX})
	}
	if o.Y > 0 {
		out = append(out, Placement{Tile: below, SrcX: o.X, SrcY: 0, DstY: restY})
	}
	if o.X > 0 && o.Y > 0 {
		out = append(out, Placement{Tile: diag, DstX: restX, DstY: restY})
	}
	return out
}

// TranslateAndClip moves a box from tile space into a window whose origin
// sits at (ox, oy) in that tile and clips it to the window. It reports false
// when nothing of the box remains.
func TranslateAndClip(b tiles.PixelBBox, ox, oy float64, tileSize int) (tiles.PixelBBox, bool) {
	size := float64(tileSize)
	x1 := max(0, b.X-ox)
	y1 := max(0, b.Y-oy)
	x2 := min(size, b.X-ox+b.Width)
	y2 := min(size, b.Y-oy+b.Height)
	if x2 <= x1 || y2 <= y1 {
		return tiles.PixelBBox{}, false
	}
	return tiles.PixelBBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

// ParseTileFileName reads the address from a "{z}_{x}_{y}[...].ext" name
func ParseTileFileName(name string) (tiles.TileAddress, error) {
	stem := strings.TrimSuffix(path.Base(name), path.Ext(name))
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return tiles.TileAddress{}, fmt.Errorf("cannot parse tile file name %q", name)
	}
	var v [3]int
	for i := range v {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return tiles.TileAddress{}, fmt.Errorf("cannot parse tile file name %q: %w", name, err)
		}
		v[i] = n
	}
	addr := tiles.TileAddress{Z: v[0], X: v[1], Y: v[2]}
	if err := tiles.ValidateAddress(addr); err != nil {
		return tiles.TileAddress{}, err
	}
	return addr, nil
}

// WindowFileName names the image of the window anchored at addr
func WindowFileName(addr tiles.TileAddress, o Offset) string {
	return fmt.Sprintf("%d_%d_%d_w%d_%d.png", addr.Z, addr.X, addr.Y, o.X, o.Y)
}
