// Package cmd provides CLI commands for the zotel binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/cli/config"
)

// EnvConfig names the config file when --config is not given.
const EnvConfig = "ZOTEL_CONFIG"

// DefaultBridgeURL is where the read commands look for a running bridge.
const DefaultBridgeURL = "http://127.0.0.1:9000"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ConfigFlag points at a zotel.yaml file. A missing default file is not
// an error; a missing explicit one is.
func ConfigFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to zotel.yaml",
		Value:   config.DefaultPath,
		EnvVars: []string{EnvConfig},
	}
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// bridgeFlags address a running bridge.
func bridgeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Usage:   "Bridge base URL",
			Value:   DefaultBridgeURL,
			EnvVars: []string{"ZO_BRIDGE_URL"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Shared API key",
			EnvVars: []string{"ZO_API_KEY"},
		},
	}
}
