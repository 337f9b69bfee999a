// Command gobdoc validates and extends BDoc/XAdES signature containers.
//
// Usage:
//
//	gobdoc <command> [flags] <dir>
//
// Commands:
//
//	validate  Validate every signature of an unpacked container
//	extend    Extend the signatures to LT or LTA
//	version   Show version information
//
// Examples:
//
//	gobdoc validate ./container
//	gobdoc validate --json --config gobdoc.yaml ./container
//	gobdoc extend --profile LTA ./container
package main

import (
	"os"

	"github.com/georgepadayatti/gobdoc/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/gobdoc
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime
	cli.Run(os.Args)
}
