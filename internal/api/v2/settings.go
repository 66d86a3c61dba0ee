package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/logger"
	"github.com/noahgolmant/label-tiles/internal/privacy"
)

// ConfigResponse is the settings subset the labeling UI needs
type ConfigResponse struct {
	TileServers    []conf.TileServer `json:"tile_servers"`
	NounPhrases    []string          `json:"noun_phrases"`
	LabelingZoom   int               `json:"labeling_zoom"`
	LabelingExtent []float64         `json:"labeling_extent"`
}

func (c *Controller) initSettingsRoutes() {
	g := c.Group.Group("/config")
	g.GET("", c.GetConfig)
	g.GET("/tile-servers", c.ListTileServers)
	g.POST("/tile-servers", c.AddTileServer)
	g.PUT("/noun-phrases", c.UpdateNounPhrases)
}

// GetConfig returns tile servers, noun phrases and the labeling zoom and extent
func (c *Controller) GetConfig(ctx echo.Context) error {
	c.settingsMutex.RLock()
	defer c.settingsMutex.RUnlock()

	extent, err := c.Settings.LabelingExtent()
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid labeling extent")
	}
	return ctx.JSON(http.StatusOK, ConfigResponse{
		TileServers:    slices.Clone(c.Settings.TileServers),
		NounPhrases:    slices.Clone(c.Settings.Labeling.NounPhrases),
		LabelingZoom:   c.Settings.Labeling.Zoom,
		LabelingExtent: extent[:],
	})
}

// ListTileServers returns the configured tile servers
func (c *Controller) ListTileServers(ctx echo.Context) error {
	c.settingsMutex.RLock()
	defer c.settingsMutex.RUnlock()
	return ctx.JSON(http.StatusOK, slices.Clone(c.Settings.TileServers))
}

// tileServer looks up a server under the read lock
func (c *Controller) tileServer(id string) (conf.TileServer, bool) {
	c.settingsMutex.RLock()
	defer c.settingsMutex.RUnlock()
	return c.Settings.FindTileServer(id)
}

// AddTileServer registers a new server. Its id is derived from the name
// and made unique; the settings file is rewritten when one is configured.
func (c *Controller) AddTileServer(ctx echo.Context) error {
	var ts conf.TileServer
	if err := ctx.Bind(&ts); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	c.settingsMutex.Lock()
	defer c.settingsMutex.Unlock()

	added, err := c.Settings.AddTileServer(ts)
	if err != nil {
		return c.handleDomainError(ctx, err, "Invalid tile server")
	}
	if err := c.persistSettings(); err != nil {
		c.Settings.TileServers = c.Settings.TileServers[:len(c.Settings.TileServers)-1]
		return c.HandleError(ctx, err, "Failed to save settings", http.StatusInternalServerError)
	}

	c.log.Info("tile server added",
		logger.String("server", added.ID),
		logger.String("template", privacy.RedactURL(added.URLTemplate)))
	return ctx.JSON(http.StatusCreated, added)
}

// UpdateNounPhrases replaces the configured phrase list
func (c *Controller) UpdateNounPhrases(ctx echo.Context) error {
	var phrases []string
	if err := ctx.Bind(&phrases); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	cleaned := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			return c.handleDomainError(ctx, errors.ValidationError("noun phrases must not be empty"), "Invalid noun phrases")
		}
		if slices.Contains(cleaned, p) {
			return c.handleDomainError(ctx, errors.ValidationError("duplicate noun phrase "+p), "Invalid noun phrases")
		}
		cleaned = append(cleaned, p)
	}

	c.settingsMutex.Lock()
	defer c.settingsMutex.Unlock()

	previous := c.Settings.Labeling.NounPhrases
	c.Settings.Labeling.NounPhrases = cleaned
	if err := c.persistSettings(); err != nil {
		c.Settings.Labeling.NounPhrases = previous
		return c.HandleError(ctx, err, "Failed to save settings", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, cleaned)
}

// persistSettings writes the settings file; callers hold settingsMutex
func (c *Controller) persistSettings() error {
	if c.ConfigPath == "" {
		return nil
	}
	return conf.SaveYAMLConfig(c.ConfigPath, c.Settings)
}
