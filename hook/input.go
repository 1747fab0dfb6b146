package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/zotel/iox"
	"github.com/pithecene-io/zotel/types"
)

// DefaultMaxInputBytes bounds the stdin payload of one invocation.
const DefaultMaxInputBytes = 4 << 20

// ErrInvalidInput is returned when stdin is not a JSON object.
var ErrInvalidInput = errors.New("invalid hook input")

// Input is the JSON object a hook receives on stdin. Only the fields some
// kind reads are declared; unknown fields are ignored.
type Input struct {
	HookEventName string `json:"hook_event_name"`
	SessionID     string `json:"session_id"`
	// RunID is optional; callers outside an orchestrated run omit it.
	RunID string `json:"run_id"`
	Cwd   string `json:"cwd"`

	TranscriptPath   string      `json:"transcript_path"`
	PermissionMode   string      `json:"permission_mode"`
	NotificationType string      `json:"notification_type"`
	StopHookActive   types.Value `json:"stop_hook_active"`
	Prompt           string      `json:"prompt"`
	ClaudeVersion    string      `json:"claude_version"`

	ToolName       string      `json:"tool_name"`
	ToolUseID      string      `json:"tool_use_id"`
	ToolParameters types.Value `json:"tool_parameters"`
	ToolResult     types.Value `json:"tool_result"`

	// Error marks a report as a failure when present and not null.
	Error types.Value `json:"error"`

	ErrorMessage      string      `json:"error_message"`
	ErrorType         string      `json:"error_type"`
	StackTrace        string      `json:"stack_trace"`
	Context           types.Value `json:"context"`
	RecoveryAttempted bool        `json:"recovery_attempted"`

	WorkerID string      `json:"worker_id"`
	TaskID   string      `json:"task_id"`
	Task     TaskInput   `json:"task"`
	Status   string      `json:"status"`
	Progress types.Value `json:"progress"`

	ArtifactPath string `json:"artifact_path"`
	ArtifactType string `json:"artifact_type"`
}

// TaskInput is the task assignment carried by worker-spawn input.
type TaskInput struct {
	TaskID      string      `json:"task_id"`
	Description string      `json:"description"`
	Config      types.Value `json:"config"`
	Tools       types.Value `json:"tools"`
}

// Decode reads one Input from r, refusing payloads over limit bytes.
func Decode(r io.Reader, limit int64) (Input, error) {
	data, err := iox.ReadAllLimit(r, limit)
	if err != nil {
		return Input{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return in, nil
}
