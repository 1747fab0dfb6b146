package hook

import (
	"fmt"

	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/types"
)

// SpecificOutput is the context a hook injects back into the agent.
type SpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// Response is printed to stdout when a hook injects context.
type Response struct {
	HookSpecificOutput SpecificOutput `json:"hookSpecificOutput"`
}

// Output returns the response for env, if kind injects one.
func Output(kind Kind, in Input, env *types.EventEnvelope, endpoint string) (Response, bool) {
	target := endpoint
	if target == "" {
		target = "local-only"
	}

	var name, text string
	switch kind {
	case KindReport:
		switch in.HookEventName {
		case "UserPromptSubmit":
			text = fmt.Sprintf("[zo-log] Session %s prompt logged | run_id=%s... | event_id=%s...",
				in.SessionID, prefix(env.RunID, 8), prefix(env.EventID, 8))
		case "PostToolUse":
			text = fmt.Sprintf("[zo-log] Tool '%s' logged | run_id=%s... | event_id=%s...",
				in.ToolName, prefix(env.RunID, 8), prefix(env.EventID, 8))
		case "SessionStart":
			text = fmt.Sprintf("[zo-log] Session started | run_id=%s | Events streaming to %s",
				env.RunID, target)
		default:
			return Response{}, false
		}
		name = in.HookEventName
	case KindSessionStart:
		name = "SessionStart"
		text = fmt.Sprintf("[session] run_id=%s | Events -> %s", env.RunID, target)
	case KindWorkerSpawn:
		name = "PostToolUse"
		text = fmt.Sprintf("[worker] Spawned %s for %s | run_id=%s...",
			env.WorkerID, env.TaskID, prefix(env.RunID, 8))
	case KindError:
		if env.ErrorDetail == nil {
			return Response{}, false
		}
		name = env.HookEventName
		text = fmt.Sprintf("[error] %s: %s | event_id=%s...",
			env.ErrorDetail.Type, envelope.Truncate(env.ErrorDetail.Message, 100), prefix(env.EventID, 8))
	default:
		return Response{}, false
	}
	return Response{HookSpecificOutput: SpecificOutput{HookEventName: name, AdditionalContext: text}}, true
}
