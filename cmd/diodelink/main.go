package main

import (
	"os"

	"github.com/diodelink/diodelink/internal/cli"
	"github.com/diodelink/diodelink/internal/version"
)

// Version information, overridden by ldflags in release builds.
var (
	Version   = "v1.2.0"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
