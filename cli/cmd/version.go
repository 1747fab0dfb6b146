package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zotel/cli/render"
	"github.com/pithecene-io/zotel/types"
)

// VersionResponse is rendered by the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	SchemaVersion string `json:"schema_version"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
}

// NewVersionResponse describes this build.
func NewVersionResponse(commit string) VersionResponse {
	return VersionResponse{
		Version:       types.Version,
		Commit:        commit,
		SchemaVersion: types.SchemaVersion,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// VersionCommand prints build information. It works without a bridge.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(NewVersionResponse(commit))
		},
	}
}
