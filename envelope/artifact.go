package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/zotel/iox"
	"github.com/pithecene-io/zotel/redact"
	"github.com/pithecene-io/zotel/types"
)

// UnknownArtifactHash is recorded when an artifact cannot be read.
const UnknownArtifactHash = "sha256:unknown"

// DefaultArtifactType is used when the producer names no type.
const DefaultArtifactType = "file"

// NewArtifactRef describes the file at path. The content hash is streamed
// so large artifacts are never held in memory. Read failures yield
// UnknownArtifactHash and a zero size rather than an error.
func NewArtifactRef(path, artifactType, home string, now time.Time) types.ArtifactRef {
	if artifactType == "" {
		artifactType = DefaultArtifactType
	}
	ref := types.ArtifactRef{
		Path:       redact.Path(path, home),
		Type:       artifactType,
		Hash:       UnknownArtifactHash,
		ProducedAt: FormatTimestamp(now),
	}

	f, err := os.Open(path)
	if err != nil {
		return ref
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ref
	}
	ref.Hash = "sha256:" + hex.EncodeToString(h.Sum(nil))
	ref.SizeBytes = n
	return ref
}
