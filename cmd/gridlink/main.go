// gridlink - job lifecycle automation for remote HPC clusters.
package main

import (
	"fmt"
	"os"

	"github.com/gridlink-labs/gridlink/internal/cli"
)

// Version information - injected via LDFLAGS for release builds.
var (
	Version   = "v0.3.0"
	BuildTime = "dev"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
