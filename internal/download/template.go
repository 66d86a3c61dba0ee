package download

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/noahgolmant/label-tiles/internal/conf"
	"github.com/noahgolmant/label-tiles/internal/errors"
	"github.com/noahgolmant/label-tiles/internal/tiles"
)

// TileDir is the cache directory relative to the data directory.
const TileDir = "tiles"

var placeholderPattern = regexp.MustCompile(`\{[^{}]*\}`)

var knownPlaceholders = map[string]bool{
	"{z}": true, "{x}": true, "{y}": true, "{-y}": true, "{s}": true,
}

// ValidateTemplate rejects placeholders ExpandURL does not understand.
func ValidateTemplate(template string) error {
	for _, ph := range placeholderPattern.FindAllString(template, -1) {
		if !knownPlaceholders[ph] {
			return errors.New(fmt.Errorf("%w %s in %q", ErrBadPlaceholder, ph, template)).
				Component("download").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

// ExpandURL substitutes the tile address into the server's URL template.
// {-y} is the TMS row and {s} rotates through the configured subdomains.
func ExpandURL(server *conf.TileServer, addr tiles.TileAddress) string {
	tmsY := (1 << addr.Z) - 1 - addr.Y
	pairs := []string{
		"{z}", strconv.Itoa(addr.Z),
		"{x}", strconv.Itoa(addr.X),
		"{-y}", strconv.Itoa(tmsY),
		"{y}", strconv.Itoa(addr.Y),
	}
	if n := len(server.Subdomains); n > 0 {
		pairs = append(pairs, "{s}", server.Subdomains[(addr.X+addr.Y)%n])
	}
	return strings.NewReplacer(pairs...).Replace(server.URLTemplate)
}

// CachePath is where a fetched tile lives, relative to the data directory.
func CachePath(serverID string, addr tiles.TileAddress) string {
	return path.Join(TileDir, serverID, fmt.Sprintf("%d_%d_%d.png", addr.Z, addr.X, addr.Y))
}
