package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/labels"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// LabelRequest creates a label. Either box may be omitted; it is derived
// from the other through the tile's bounds.
type LabelRequest struct {
	Tile       tiles.TileAddress `json:"tile"`
	PixelBBox  *tiles.PixelBBox  `json:"pixel_bbox,omitempty"`
	GeoBBox    *tiles.GeoBBox    `json:"geo_bbox,omitempty"`
	NounPhrase string            `json:"noun_phrase,omitempty"`
	IsNegative bool              `json:"is_negative"`
	TileSize   int               `json:"tile_size,omitempty"` // default 256
}

// NegativeRequest marks a tile as containing nothing of interest
type NegativeRequest struct {
	Tile     tiles.TileAddress `json:"tile"`
	TileSize int               `json:"tile_size,omitempty"`
}

func (c *Controller) initLabelRoutes() {
	g := c.Group.Group("/labels")
	g.GET("", c.ListLabels)
	g.POST("", c.CreateLabel)
	g.POST("/negative", c.MarkNegative)
	g.GET("/tile/:z/:x/:y", c.GetTileLabels)
	g.DELETE("/tile/:z/:x/:y", c.DeleteTileLabels)
	g.PUT("/:id", c.UpdateLabel)
	g.DELETE("/:id", c.DeleteLabel)
}

// parseTileParams reads :z/:x/:y and validates the address
func parseTileParams(ctx echo.Context) (tiles.TileAddress, error) {
	var addr tiles.TileAddress
	for _, p := range []struct {
		name string
		dst  *int
	}{{"z", &addr.Z}, {"x", &addr.X}, {"y", &addr.Y}} {
		v, err := strconv.Atoi(ctx.Param(p.name))
		if err != nil {
			return addr, errors.Newf("tile %s %q is not an integer", p.name, ctx.Param(p.name)).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
		}
		*p.dst = v
	}
	if err := tiles.ValidateAddress(addr); err != nil {
		return addr, err
	}
	return addr, nil
}

// ListLabels returns every label
func (c *Controller) ListLabels(ctx echo.Context) error {
	all, err := c.Store.ListAll(ctx.Request().Context())
	if err != nil {
		return c.handleDomainError(ctx, err, "Failed to list labels")
	}
	return ctx.JSON(http.StatusOK, all)
}

// GetTileLabels returns the labels on one tile
func (c *Controller) GetTileLabels(ctx echo.Context) error {
	addr, err := parseTileParams(ctx)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile address")
	}
	ls, err := c.Store.Get(ctx.Request().Context(), addr)
	if err != nil {
		return c.handleDomainError(ctx, err, "Failed to get tile labels")
	}
	return ctx.JSON(http.StatusOK, ls)
}

// buildLabel fills in whichever box the request left out
func buildLabel(req *LabelRequest) (labels.Label, error) {
	if req.IsNegative {
		return labels.NewNegative(req.Tile, req.TileSize)
	}
	tileSize := req.TileSize
	if tileSize <= 0 {
		tileSize = tiles.DefaultTileSize
	}
	tileGeo, err := tiles.TileToGeoBBox(req.Tile)
	if err != nil {
		return labels.Label{}, err
	}

	label := labels.Label{Tile: req.Tile, NounPhrase: req.NounPhrase, TileSize: tileSize}
	switch {
	case req.PixelBBox != nil && req.GeoBBox != nil:
		label.PixelBBox, label.GeoBBox = *req.PixelBBox, *req.GeoBBox
	case req.PixelBBox != nil:
		if err := req.PixelBBox.Validate(tileSize); err != nil {
			return labels.Label{}, err
		}
		label.PixelBBox = *req.PixelBBox
		if label.GeoBBox, err = tiles.PixelToGeoBBox(*req.PixelBBox, tileGeo, tileSize); err != nil {
			return labels.Label{}, err
		}
	case req.GeoBBox != nil:
		label.GeoBBox = *req.GeoBBox
		if label.PixelBBox, err = tiles.GeoToPixelBBox(*req.GeoBBox, tileGeo, tileSize); err != nil {
			return labels.Label{}, err
		}
	default:
		return labels.Label{}, errors.Newf("a positive label needs pixel_bbox or geo_bbox").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return label, nil
}

// CreateLabel stores a new label; 409 when it conflicts with a negative marker
func (c *Controller) CreateLabel(ctx echo.Context) error {
	var req LabelRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := tiles.ValidateAddress(req.Tile); err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile address")
	}
	label, err := buildLabel(&req)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid label")
	}
	return c.putLabel(ctx, label)
}

// MarkNegative records a whole-tile negative. Repeating it returns the
// existing record with 200 instead of 201.
func (c *Controller) MarkNegative(ctx echo.Context) error {
	var req NegativeRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if err := tiles.ValidateAddress(req.Tile); err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile address")
	}
	label, err := labels.NewNegative(req.Tile, req.TileSize)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile address")
	}
	return c.putLabel(ctx, label)
}

func (c *Controller) putLabel(ctx echo.Context, label labels.Label) error {
	label.ID = uuid.NewString()
	stored, err := c.Store.Put(ctx.Request().Context(), label)
	if err != nil {
		return c.handleDomainError(ctx, err, "Failed to store label")
	}
	if stored.ID != label.ID {
		return ctx.JSON(http.StatusOK, stored)
	}
	c.log.Debug("label created",
		logger.String("label_id", stored.ID),
		logger.String("tile", stored.Tile.String()),
		logger.Bool("negative", stored.IsNegative))
	return ctx.JSON(http.StatusCreated, stored)
}

// UpdateLabel edits phrase, negative flag or boxes
func (c *Controller) UpdateLabel(ctx echo.Context) error {
	var update labels.LabelUpdate
	if err := ctx.Bind(&update); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	updated, err := c.Store.Update(ctx.Request().Context(), ctx.Param("id"), update)
	if err != nil {
		return c.handleDomainError(ctx, err, "Failed to update label")
	}
	return ctx.JSON(http.StatusOK, updated)
}

// DeleteLabel removes one label
func (c *Controller) DeleteLabel(ctx echo.Context) error {
	if err := c.Store.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.handleDomainError(ctx, err, "Failed to delete label")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// DeleteTileLabels removes every label on a tile
func (c *Controller) DeleteTileLabels(ctx echo.Context) error {
	addr, err := parseTileParams(ctx)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile address")
	}
	n, err := c.Store.DeleteTile(ctx.Request().Context(), addr)
	if err != nil {
		return c.handleDomainError(ctx, err, "Failed to delete tile labels")
	}
	return ctx.JSON(http.StatusOK, map[string]int{"deleted": n})
}
