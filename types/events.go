package types

import "slices"

// SchemaVersion is the only envelope schema version produced by this module.
const SchemaVersion = "1.0"

// EventType classifies a telemetry event.
type EventType string

// Event type constants.
const (
	EventTypeSessionStart    EventType = "session_start"
	EventTypeSessionEnd      EventType = "session_end"
	EventTypeWorkerSpawn     EventType = "worker_spawn"
	EventTypeWorkerHeartbeat EventType = "worker_heartbeat"
	EventTypeProgress        EventType = "progress"
	EventTypeArtifact        EventType = "artifact"
	EventTypeError           EventType = "error"
	EventTypeToolInvocation  EventType = "tool_invocation"
	EventTypeDecision        EventType = "decision"
	EventTypeDone            EventType = "done"
)

var eventTypes = []EventType{
	EventTypeSessionStart,
	EventTypeSessionEnd,
	EventTypeWorkerSpawn,
	EventTypeWorkerHeartbeat,
	EventTypeProgress,
	EventTypeArtifact,
	EventTypeError,
	EventTypeToolInvocation,
	EventTypeDecision,
	EventTypeDone,
}

// EventTypes returns every recognised event type in declaration order.
func EventTypes() []EventType {
	return slices.Clone(eventTypes)
}

// Valid reports whether e is a recognised event type.
func (e EventType) Valid() bool {
	return slices.Contains(eventTypes, e)
}

// IsSemantic reports whether events of this type feed the semantic index.
func (e EventType) IsSemantic() bool {
	switch e {
	case EventTypeDecision, EventTypeError, EventTypeArtifact, EventTypeWorkerSpawn:
		return true
	}
	return false
}

// TracksAgentState reports whether events of this type update the
// latest-known state of a worker.
func (e EventType) TracksAgentState() bool {
	switch e {
	case EventTypeWorkerHeartbeat, EventTypeProgress, EventTypeWorkerSpawn:
		return true
	}
	return false
}

// Level is the event severity.
type Level string

// Level constants.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is a recognised level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// AgentRole is the role of the agent that produced an event.
type AgentRole string

// Agent role constants.
const (
	AgentRoleConductor AgentRole = "conductor"
	AgentRoleWorker    AgentRole = "worker"
	AgentRoleSystem    AgentRole = "system"
)

// Valid reports whether r is a recognised role.
func (r AgentRole) Valid() bool {
	switch r {
	case AgentRoleConductor, AgentRoleWorker, AgentRoleSystem:
		return true
	}
	return false
}

// Source describes where an event was produced.
type Source struct {
	// Host is a salted, truncated hash of the hostname. Never the raw name.
	Host string `json:"host"`
	// Remote is true when the agent runs in a remote environment.
	Remote bool `json:"remote"`
	// Cwd is the working directory with the home prefix redacted.
	Cwd string `json:"cwd"`
	// ProjectDir is the project directory, or "unknown".
	ProjectDir string `json:"project_dir"`
}

// ArtifactRef points at a file produced during a session.
type ArtifactRef struct {
	Path       string `json:"path"`
	Type       string `json:"type"`
	Hash       string `json:"hash"`
	SizeBytes  int64  `json:"size_bytes"`
	ProducedAt string `json:"produced_at"`
}

// ErrorDetail carries structured failure information for error events.
type ErrorDetail struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolUseID  string `json:"tool_use_id,omitempty"`
}

// AgentStateSnapshot is the latest known state of one worker within a run.
// Keyed by (RunID, WorkerID); later writes replace earlier ones.
type AgentStateSnapshot struct {
	RunID         string `json:"run_id"`
	WorkerID      string `json:"worker_id"`
	Status        string `json:"status"`
	LastHeartbeat string `json:"last_heartbeat"`
	TaskID        string `json:"task_id,omitempty"`
}

// EventEnvelope is the canonical, redacted telemetry record.
// An envelope is not modified after Hash and IndexableText are set.
type EventEnvelope struct {
	EventID       string    `json:"event_id"`
	Ts            string    `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	RunID         string    `json:"run_id"`
	EventType     EventType `json:"event_type"`
	Level         Level     `json:"level"`
	Source        Source    `json:"source"`

	HookEventName string        `json:"hook_event_name,omitempty"`
	Msg           string        `json:"msg,omitempty"`
	AgentRole     AgentRole     `json:"agent_role,omitempty"`
	WorkerID      string        `json:"worker_id,omitempty"`
	TaskID        string        `json:"task_id,omitempty"`
	ToolName      string        `json:"tool_name,omitempty"`
	ToolUseID     string        `json:"tool_use_id,omitempty"`
	ArtifactRefs  []ArtifactRef `json:"artifact_refs,omitempty"`
	ParentEventID string        `json:"parent_event_id,omitempty"`
	ErrorDetail   *ErrorDetail  `json:"error_detail,omitempty"`

	// Data is the free-form payload, already redacted.
	Data Value `json:"data"`

	// Hash is the deduplication fingerprint.
	Hash string `json:"hash,omitempty"`
	// IndexableText is the derived text used for semantic search.
	IndexableText string `json:"indexable_text,omitempty"`
}

// AgentState derives the agent-state snapshot carried by this event.
// The status is the event message; an empty message stays empty.
func (e *EventEnvelope) AgentState() AgentStateSnapshot {
	return AgentStateSnapshot{
		RunID:         e.RunID,
		WorkerID:      e.WorkerID,
		Status:        e.Msg,
		LastHeartbeat: e.Ts,
		TaskID:        e.TaskID,
	}
}
