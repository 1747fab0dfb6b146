package hook

import "path/filepath"

// Environment variables read by the hook process.
const (
	EnvEndpoint = "ZO_EVENT_ENDPOINT"
	EnvAPIKey   = "ZO_API_KEY"
	EnvLogDir   = "ZO_EVENT_LOG_DIR"
)

// DefaultEndpoint is the bridge address used by report and session-start
// hooks when EnvEndpoint is unset.
const DefaultEndpoint = "http://localhost:9000/ingest"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EndpointFor returns the forwarding endpoint for kind. An explicitly empty
// EnvEndpoint disables forwarding for every kind; only report and
// session-start fall back to DefaultEndpoint when it is unset.
func EndpointFor(kind Kind, lookup LookupFunc) string {
	if v, ok := lookup(EnvEndpoint); ok {
		return v
	}
	switch kind {
	case KindReport, KindSessionStart:
		return DefaultEndpoint
	}
	return ""
}

// LogDir returns the spool directory: EnvLogDir, else ~/.zo/claude-events.
func LogDir(lookup LookupFunc, home string) string {
	if v, ok := lookup(EnvLogDir); ok && v != "" {
		return v
	}
	return filepath.Join(home, ".zo", "claude-events")
}

// User returns the invoking user name from USER or USERNAME.
func User(lookup LookupFunc) string {
	if v, ok := lookup("USER"); ok && v != "" {
		return v
	}
	v, _ := lookup("USERNAME")
	return v
}
