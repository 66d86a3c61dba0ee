package main

import (
	"fmt"
	"os"

	"github.com/noahgolmant/label-tiles/cmd"
	"github.com/noahgolmant/label-tiles/internal/buildinfo"
)

// Set at build time:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   string
	buildDate string
)

func main() {
	build := buildinfo.NewContext(version, buildDate)
	if err := cmd.RootCommand(build).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
