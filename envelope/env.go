package envelope

import (
	"os"

	"github.com/pithecene-io/zotel/redact"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvHostSalt      = "HOSTNAME_SALT"
	EnvRemote        = "CLAUDE_CODE_REMOTE"
	EnvProjectDir    = "CLAUDE_PROJECT_DIR"
	EnvRunID         = "CLAUDE_RUN_ID"
	EnvRedactionMode = "ZO_REDACTION_MODE"
)

// ConfigFromEnv builds a Config from the process environment.
// An unparseable redaction mode is an error.
func ConfigFromEnv() (Config, error) {
	mode, err := redact.ParseMode(os.Getenv(EnvRedactionMode))
	if err != nil {
		return Config{}, err
	}
	home, _ := os.UserHomeDir()
	return Config{
		RedactionMode: mode,
		HostSalt:      os.Getenv(EnvHostSalt),
		Remote:        os.Getenv(EnvRemote) == "true",
		ProjectDir:    os.Getenv(EnvProjectDir),
		HomeDir:       home,
	}, nil
}

// RunIDFromEnv returns the run id exported by an orchestrating parent
// process, or "" when none is set.
func RunIDFromEnv() string {
	return os.Getenv(EnvRunID)
}
