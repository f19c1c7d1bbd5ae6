package main

import (
	"os"

	"github.com/ferryhq/ferry/internal/cli"
	"github.com/ferryhq/ferry/internal/version"
)

// Version information - set by ldflags at build time, with the values
// below as fallbacks for plain `go build`.
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	os.Exit(cli.Execute())
}
