package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/pithecene-io/zotel/types"
)

// DefaultHostSalt is used when no salt is configured.
const DefaultHostSalt = "default_salt"

// UnknownHost is recorded when the hostname cannot be read.
const UnknownHost = "host_unknown"

// HostID returns "host_" followed by the first 12 hex digits of
// sha256("salt:hostname").
func HostID(salt, hostname string) string {
	sum := sha256.Sum256([]byte(salt + ":" + hostname))
	return "host_" + hex.EncodeToString(sum[:])[:12]
}

// Fingerprint computes the deduplication hash of env: the hex SHA-256 of
// the RFC 8785 canonical form of {session_id, ts, event_type, data},
// omitting members that are absent. Payloads holding numbers outside the
// IEEE 754 range have no canonical form; they hash their sorted-key JSON
// encoding instead. Only these four fields participate,
// so re-emitting the same payload at the same instant deduplicates even
// though event_id differs.
func Fingerprint(env *types.EventEnvelope) (string, error) {
	subset := make(map[string]any, 4)
	if env.SessionID != "" {
		subset["session_id"] = env.SessionID
	}
	if env.Ts != "" {
		subset["ts"] = env.Ts
	}
	if env.EventType != "" {
		subset["event_type"] = env.EventType
	}
	if !env.Data.IsNull() {
		subset["data"] = env.Data
	}

	raw, err := json.Marshal(subset)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		canonical = raw
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize fills the derived fields of an envelope received from an
// external producer that omitted them. Present values are left alone.
func Normalize(env *types.EventEnvelope) error {
	if env.SchemaVersion == "" {
		env.SchemaVersion = types.SchemaVersion
	}
	if env.Level == "" {
		env.Level = types.LevelInfo
	}
	if env.Hash == "" {
		hash, err := Fingerprint(env)
		if err != nil {
			return err
		}
		env.Hash = hash
	}
	if env.IndexableText == "" {
		env.IndexableText = IndexableText(env)
	}
	return nil
}
