package hook

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/zotel/envelope"
	"github.com/pithecene-io/zotel/types"
)

// Kind selects how hook input is mapped to an envelope.
type Kind string

// Hook kinds.
const (
	KindReport       Kind = "report"
	KindSessionStart Kind = "session-start"
	KindWorkerSpawn  Kind = "worker-spawn"
	KindArtifact     Kind = "artifact"
	KindError        Kind = "error"
	KindMCP          Kind = "mcp"
	KindHeartbeat    Kind = "heartbeat"
)

var allKinds = []Kind{
	KindReport, KindSessionStart, KindWorkerSpawn, KindArtifact,
	KindError, KindMCP, KindHeartbeat,
}

// Kinds returns every hook kind.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown hook kind %q", s)
}

// Truncation limits for hook-supplied text.
const (
	maxPromptLen     = 1000
	maxToolResultLen = 500
	maxErrorMsgLen   = 500
	maxStackLen      = 2000
	maxErrorTitleLen = 200
)

// reportTypes maps lifecycle hook names to event types. Anything else is
// progress.
var reportTypes = map[string]types.EventType{
	"UserPromptSubmit": types.EventTypeProgress,
	"PreToolUse":       types.EventTypeProgress,
	"PostToolUse":      types.EventTypeProgress,
	"SessionStart":     types.EventTypeSessionStart,
	"SessionEnd":       types.EventTypeSessionEnd,
	"Stop":             types.EventTypeSessionEnd,
}

// Mapper turns hook input into builder parameters.
type Mapper struct {
	// RunID is the run exported by the orchestrating parent, if any.
	RunID string
	// User is recorded on session_start.
	User string
	// HomeDir is redacted from artifact paths.
	HomeDir string
	Now     func() time.Time
	NewID   func() string
}

// Params maps in according to kind. ok is false when the input is not
// something the kind records (an mcp hook for a non-mcp tool, an artifact
// hook without a path).
func (m Mapper) Params(kind Kind, in Input) (p envelope.Params, ok bool, err error) {
	if in.SessionID == "" {
		in.SessionID = "unknown"
	}
	p = envelope.Params{
		SessionID: in.SessionID,
		RunID:     in.RunID,
		Cwd:       in.Cwd,
		ToolName:  in.ToolName,
		ToolUseID: in.ToolUseID,
	}
	if p.RunID == "" && kind != KindSessionStart {
		p.RunID = m.RunID
	}

	switch kind {
	case KindReport:
		m.report(&p, in)
	case KindSessionStart:
		p.EventType = types.EventTypeSessionStart
		p.HookEventName = "SessionStart"
		p.AgentRole = types.AgentRoleConductor
		p.Msg = "Session started: " + in.SessionID
		p.Data = types.Object(map[string]types.Value{
			"user":           optString(m.User),
			"claude_version": optString(in.ClaudeVersion),
			"workspace":      optString(in.Cwd),
		})
	case KindWorkerSpawn:
		m.workerSpawn(&p, in)
	case KindArtifact:
		if in.ArtifactPath == "" {
			return p, false, nil
		}
		m.artifact(&p, in)
	case KindError:
		errorEvent(&p, in)
	case KindMCP:
		if !strings.HasPrefix(in.ToolName, "mcp_") {
			return p, false, nil
		}
		mcp(&p, in)
	case KindHeartbeat:
		heartbeat(&p, in)
	default:
		return p, false, fmt.Errorf("unknown hook kind %q", kind)
	}
	return p, true, nil
}

func (m Mapper) report(p *envelope.Params, in Input) {
	p.HookEventName = in.HookEventName
	p.EventType = types.EventTypeProgress
	if et, ok := reportTypes[in.HookEventName]; ok {
		p.EventType = et
	}
	if !in.Error.IsNull() {
		p.EventType = types.EventTypeError
		p.Level = types.LevelError
	}

	prompt := types.Null()
	if in.Prompt != "" {
		prompt = types.String(envelope.Truncate(in.Prompt, maxPromptLen))
	}
	p.Data = types.Object(map[string]types.Value{
		"hook_event_name":   types.String(in.HookEventName),
		"transcript_path":   types.String(in.TranscriptPath),
		"permission_mode":   optString(in.PermissionMode),
		"notification_type": optString(in.NotificationType),
		"stop_hook_active":  in.StopHookActive,
		"prompt":            prompt,
	})

	p.Msg = in.HookEventName + " event"
	if in.ToolName != "" {
		p.Msg = in.HookEventName + ": " + in.ToolName
	}
}

func (m Mapper) workerSpawn(p *envelope.Params, in Input) {
	taskID := in.Task.TaskID
	if taskID == "" {
		taskID = "unknown"
	}
	workerID := "worker_" + prefix(m.newID(), 8)

	cfg := in.Task.Config
	if cfg.IsNull() {
		cfg = types.Object(nil)
	}
	tools := in.Task.Tools
	if tools.IsNull() {
		tools = types.Array()
	}

	p.EventType = types.EventTypeWorkerSpawn
	p.HookEventName = "PostToolUse"
	p.AgentRole = types.AgentRoleConductor
	p.WorkerID = workerID
	p.TaskID = taskID
	p.Msg = fmt.Sprintf("Spawned worker %s for task %s", workerID, taskID)
	p.Data = types.Object(map[string]types.Value{
		"task_id":          types.String(taskID),
		"task_description": types.String(in.Task.Description),
		"worker_config":    cfg,
		"assigned_tools":   tools,
	})
}

func (m Mapper) artifact(p *envelope.Params, in Input) {
	path := in.ArtifactPath
	if !filepath.IsAbs(path) && in.Cwd != "" {
		path = filepath.Join(in.Cwd, path)
	}
	ref := envelope.NewArtifactRef(path, in.ArtifactType, m.HomeDir, m.now())

	p.EventType = types.EventTypeArtifact
	p.HookEventName = "PostToolUse"
	p.WorkerID = in.WorkerID
	p.TaskID = in.TaskID
	p.ArtifactRefs = []types.ArtifactRef{ref}
	p.Msg = "Artifact produced: " + filepath.Base(in.ArtifactPath)
	p.Data = types.Object(map[string]types.Value{
		"artifact_metadata": types.FromAny(ref),
		"producing_tool":    optString(in.ToolName),
		"task_id":           optString(in.TaskID),
	})
}

func errorEvent(p *envelope.Params, in Input) {
	message := in.ErrorMessage
	if message == "" {
		message = "Unknown error"
	}
	errType := in.ErrorType
	if errType == "" {
		errType = "ToolError"
	}
	errCtx := in.Context
	if errCtx.IsNull() {
		errCtx = types.Object(nil)
	}

	p.EventType = types.EventTypeError
	p.Level = types.LevelError
	p.HookEventName = hookNameOr(in, "PostToolUse")
	p.WorkerID = in.WorkerID
	p.TaskID = in.TaskID
	p.Msg = "Error: " + envelope.Truncate(message, maxErrorTitleLen)
	p.ErrorDetail = &types.ErrorDetail{
		Type:       errType,
		Message:    envelope.Truncate(message, maxErrorMsgLen),
		StackTrace: envelope.Truncate(in.StackTrace, maxStackLen),
		ToolName:   in.ToolName,
		ToolUseID:  in.ToolUseID,
	}
	p.Data = types.Object(map[string]types.Value{
		"error_context":      errCtx,
		"recovery_attempted": types.Bool(in.RecoveryAttempted),
	})
}

func mcp(p *envelope.Params, in Input) {
	params := in.ToolParameters
	if params.IsNull() {
		params = types.Object(nil)
	}
	result := types.Null()
	if text := resultText(in.ToolResult); text != "" {
		result = types.String(envelope.Truncate(text, maxToolResultLen))
	}

	p.EventType = types.EventTypeToolInvocation
	p.HookEventName = hookNameOr(in, "PostToolUse")
	p.Msg = "MCP tool invocation: " + in.ToolName
	p.Data = types.Object(map[string]types.Value{
		"tool_parameters": params,
		"tool_result":     result,
		"permission_mode": optString(in.PermissionMode),
		"cwd":             types.String(in.Cwd),
	})
}

func heartbeat(p *envelope.Params, in Input) {
	status := in.Status
	if status == "" {
		status = "active"
	}
	fields := map[string]types.Value{"status": types.String(status)}
	if !in.Progress.IsNull() {
		fields["progress"] = in.Progress
	}

	p.EventType = types.EventTypeWorkerHeartbeat
	p.HookEventName = in.HookEventName
	p.AgentRole = types.AgentRoleWorker
	p.WorkerID = in.WorkerID
	p.TaskID = in.TaskID
	p.Msg = status
	p.Data = types.Object(fields)
}

func (m Mapper) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Mapper) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

func hookNameOr(in Input, def string) string {
	if in.HookEventName != "" {
		return in.HookEventName
	}
	return def
}

// optString maps "" to null, matching how absent hook fields are recorded.
func optString(s string) types.Value {
	if s == "" {
		return types.Null()
	}
	return types.String(s)
}

// resultText renders a tool result as text: strings verbatim, anything
// else as JSON. Null yields "".
func resultText(v types.Value) string {
	if v.IsNull() {
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

// prefix returns at most the first n bytes of s.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
