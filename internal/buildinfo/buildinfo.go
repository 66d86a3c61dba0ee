// Package buildinfo holds build-time metadata injected through -ldflags.
// It is kept apart from conf so settings files never carry it.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not set
const UnknownValue = "unknown"

// ProductName prefixes the user agent and version output
const ProductName = "label-tiles"

// Context carries the version and build date of the running binary.
// A nil *Context is valid and reports unknown values.
type Context struct {
	version   string
	buildDate string
}

// NewContext returns build metadata; empty values read as unknown
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the git version tag
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// UserAgent is sent to tile servers unless the settings override it.
// Public tile policies ask clients to identify themselves.
func (c *Context) UserAgent() string {
	return ProductName + "/" + c.Version()
}

func (c *Context) String() string {
	return fmt.Sprintf("%s %s (built %s)", ProductName, c.Version(), c.BuildDate())
}
