// conf/validate.go

package conf

import (
	"fmt"
	"strings"

	"github.com/labstack/gommon/bytes"

	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateLabelingSettings(&settings.Labeling); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	seen := make(map[string]bool, len(settings.TileServers))
	for i := range settings.TileServers {
		ts := &settings.TileServers[i]
		if err := ts.Validate(); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
		if seen[ts.ID] {
			ve.Errors = append(ve.Errors, fmt.Sprintf("duplicate tile server id %q", ts.ID))
		}
		seen[ts.ID] = true
	}

	if err := validateDownloadSettings(&settings.Download); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateStorageSettings(&settings.Storage); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.DataDir == "" {
		ve.Errors = append(ve.Errors, "datadir must not be empty")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLabelingSettings(settings *LabelingSettings) error {
	var errs []string

	if err := tiles.ValidateZoom(settings.Zoom); err != nil {
		errs = append(errs, err.Error())
	}
	if len(settings.Extent) > 0 {
		if _, err := tiles.BBoxFromSlice(settings.Extent); err != nil {
			errs = append(errs, fmt.Sprintf("extent: %v", err))
		}
	}

	seen := make(map[string]bool, len(settings.NounPhrases))
	for _, p := range settings.NounPhrases {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			errs = append(errs, "noun phrases must not be empty")
		case seen[p]:
			errs = append(errs, fmt.Sprintf("duplicate noun phrase %q", p))
		}
		seen[p] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("labeling settings errors: %v", errs)
	}
	return nil
}

func validateDownloadSettings(settings *DownloadSettings) error {
	var errs []string

	if settings.Workers < 1 {
		errs = append(errs, "workers must be at least 1")
	}
	if settings.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if settings.Padding < 0 {
		errs = append(errs, "padding must not be negative")
	}
	if settings.MaxTiles < 0 {
		errs = append(errs, "maxtiles must not be negative")
	}
	if settings.MinFreeSpace != "" {
		if n, err := bytes.Parse(settings.MinFreeSpace); err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("invalid minfreespace %q", settings.MinFreeSpace))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("download settings errors: %v", errs)
	}
	return nil
}

func validateStorageSettings(settings *StorageSettings) error {
	switch settings.Type {
	case "sqlite":
		if settings.Path == "" {
			return fmt.Errorf("storage settings errors: sqlite path must not be empty")
		}
	case "mysql":
		if settings.DSN == "" {
			return fmt.Errorf("storage settings errors: mysql requires a dsn")
		}
	case "memory":
	default:
		return fmt.Errorf("storage settings errors: unknown storage type %q", settings.Type)
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if settings.BodyLimit != "" {
		if _, err := bytes.Parse(settings.BodyLimit); err != nil {
			return fmt.Errorf("webserver settings errors: invalid body limit %q: %w", settings.BodyLimit, err)
		}
	}
	return nil
}
