// Command clamav-scan streams files to a ClamAV daemon over INSTREAM.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errInfected) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}
