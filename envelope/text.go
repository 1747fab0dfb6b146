package envelope

import (
	"encoding/json"
	"strings"

	"github.com/pithecene-io/zotel/types"
)

const (
	textSeparator    = " | "
	maxTextArtifacts = 3
	reasoningDataKey = "reasoning"
)

// IndexableText derives the plain-text summary used by the semantic
// index. Parts are joined with " | " and capped at MaxIndexableTextLen.
func IndexableText(env *types.EventEnvelope) string {
	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}

	add(env.Msg)
	if env.ToolName != "" {
		add("Tool: " + env.ToolName)
	}
	if env.TaskID != "" {
		add("Task: " + env.TaskID)
	}
	if env.WorkerID != "" {
		add("Worker: " + env.WorkerID)
	}
	if env.EventType == types.EventTypeDecision {
		if r := reasoning(env.Data); r != "" {
			add("Reasoning: " + r)
		}
	}
	if env.EventType == types.EventTypeError && env.ErrorDetail != nil {
		add("Error: " + env.ErrorDetail.Message)
	}
	if len(env.ArtifactRefs) > 0 {
		refs := env.ArtifactRefs
		if len(refs) > maxTextArtifacts {
			refs = refs[:maxTextArtifacts]
		}
		paths := make([]string, len(refs))
		for i, ref := range refs {
			paths[i] = ref.Path
		}
		add("Artifacts: " + strings.Join(paths, ", "))
	}

	return Truncate(strings.Join(parts, textSeparator), MaxIndexableTextLen)
}

func reasoning(data types.Value) string {
	v, ok := data.Get(reasoningDataKey)
	if !ok || v.IsNull() {
		return ""
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
