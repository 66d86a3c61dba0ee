package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/noahgolmant/label-tiles/internal/export"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/observability/metrics"
)

func (c *Controller) initExportRoutes() {
	g := c.Group.Group("/export")
	g.GET("/geojson", c.ExportGeoJSON)
	g.GET("/coco", c.ExportCOCO)
}

// recordExport feeds the export collectors when metrics are enabled
func (c *Controller) recordExport(format string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	c.metrics.Export.RecordExport(format, status, time.Since(start).Seconds())
}

// ExportGeoJSON builds the FeatureCollection of all labels, persists it
// as labels.geojson and returns it. ?mode=pixel derives geometry from the
// pixel boxes instead of the stored geographic ones.
func (c *Controller) ExportGeoJSON(ctx echo.Context) error {
	start := time.Now()
	doc, err := c.buildGeoJSON(ctx)
	c.recordExport(metrics.FormatGeoJSON, start, err)
	if err != nil {
		return c.handleDomainError(ctx, err, "GeoJSON export failed")
	}
	c.log.Info("geojson exported", logger.Int("features", len(doc.Features)))
	return ctx.JSON(http.StatusOK, doc)
}

func (c *Controller) buildGeoJSON(ctx echo.Context) (*export.FeatureCollection, error) {
	opts := export.GeoJSONOptions{Mode: export.ModeGeo}
	switch mode := ctx.QueryParam("mode"); mode {
	case "", string(export.ModeGeo):
	case string(export.ModePixel):
		opts.Mode = export.ModePixel
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "mode must be geo or pixel")
	}
	if id := ctx.QueryParam("tile_server_id"); id != "" {
		server, ok := c.tileServer(id)
		if !ok {
			return nil, echo.NewHTTPError(http.StatusNotFound, "unknown tile server "+id)
		}
		opts.TileSize = server.TileSize
	}

	reqCtx := ctx.Request().Context()
	all, err := c.Store.ListAll(reqCtx)
	if err != nil {
		return nil, err
	}
	doc, err := export.BuildGeoJSON(all, opts)
	if err != nil {
		return nil, err
	}
	if err := c.exporter.Save(reqCtx, export.GeoJSONFile, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ExportCOCO builds the COCO document, persists it as annotations.json
// and returns it. ?tile_server_id= restricts images to that server's
// bounds and names files after its cache.
func (c *Controller) ExportCOCO(ctx echo.Context) error {
	start := time.Now()
	doc, err := c.buildCOCO(ctx)
	c.recordExport(metrics.FormatCOCO, start, err)
	if err != nil {
		return c.handleDomainError(ctx, err, "COCO export failed")
	}
	c.log.Info("coco exported",
		logger.Int("images", len(doc.Images)),
		logger.Int("annotations", len(doc.Annotations)),
		logger.Int("categories", len(doc.Categories)))
	return ctx.JSON(http.StatusOK, doc)
}

func (c *Controller) buildCOCO(ctx echo.Context) (*export.COCODocument, error) {
	c.settingsMutex.RLock()
	opts := export.COCOOptions{Categories: slices.Clone(c.Settings.Labeling.NounPhrases)}
	c.settingsMutex.RUnlock()

	if id := ctx.QueryParam("tile_server_id"); id != "" {
		server, ok := c.tileServer(id)
		if !ok {
			return nil, echo.NewHTTPError(http.StatusNotFound, "unknown tile server "+id)
		}
		opts.Server = &server
	}

	reqCtx := ctx.Request().Context()
	all, err := c.Store.ListAll(reqCtx)
	if err != nil {
		return nil, err
	}
	doc, err := export.BuildCOCO(all, opts)
	if err != nil {
		return nil, err
	}
	if err := c.exporter.Save(reqCtx, export.COCOFile, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
