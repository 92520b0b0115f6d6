// csvup parses, previews and uploads CSV files over the tus resumable upload protocol.
package main

import (
	"os"

	"github.com/rescale/csvup/internal/cli"
	"github.com/rescale/csvup/internal/version"
)

// Version information, set by ldflags during build.
var (
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
