package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/noahgolmant/label-tiles/internal/download"
)

// TileCacheSeconds is the Cache-Control max-age of served tiles. Cached
// tiles are only replaced by an explicit refetch.
const TileCacheSeconds = 86400

func (c *Controller) initTileRoutes() {
	c.Group.GET("/tiles/:server/:z/:x/:y", c.ServeTile)
}

// ServeTile serves a tile from the local cache. Tiles are never fetched
// on demand; a missing tile is a 404.
func (c *Controller) ServeTile(ctx echo.Context) error {
	server, ok := c.tileServer(ctx.Param("server"))
	if !ok {
		return c.HandleError(ctx, nil, "Unknown tile server "+ctx.Param("server"), http.StatusNotFound)
	}
	addr, err := parseTileParams(ctx)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile address")
	}

	ctx.Response().Header().Set(echo.HeaderCacheControl, "public, max-age="+strconv.Itoa(TileCacheSeconds))
	if err := c.SFS.ServeRelativeFile(ctx, download.CachePath(server.ID, addr)); err != nil {
		ctx.Response().Header().Del(echo.HeaderCacheControl)
		return c.handleDomainError(ctx, err, "Tile not cached")
	}
	return nil
}
