// Package envelope turns raw lifecycle facts into canonical EventEnvelopes.
//
// A Builder validates enumerations, stamps identity and time, records a
// privacy-safe source, scrubs the free-form payload, then derives the
// deduplication hash and the semantic-search text. Given fixed clock and
// id sources, Build is a pure function of its inputs.
package envelope

import (
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pithecene-io/zotel/redact"
	"github.com/pithecene-io/zotel/types"
)

// Length limits applied during construction.
const (
	MaxMsgLen           = 500
	MaxIndexableTextLen = 2000
)

// TimestampLayout is the wire format of EventEnvelope.Ts.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Config holds the ambient facts a Builder stamps onto every envelope.
// Zero-valued function fields fall back to the process environment.
type Config struct {
	// RedactionMode applies to the data payload. Empty means strict.
	RedactionMode redact.Mode
	// HostSalt salts the hostname hash. Empty means DefaultHostSalt.
	HostSalt string
	// Remote marks events from remote agent environments.
	Remote bool
	// ProjectDir is recorded verbatim. Empty means "unknown".
	ProjectDir string
	// HomeDir is replaced by "~" in recorded paths.
	HomeDir string

	Hostname func() (string, error)
	Getwd    func() (string, error)
	Now      func() time.Time
	NewID    func() string
}

// Params are the caller-supplied facts for one event.
type Params struct {
	EventType types.EventType
	SessionID string
	// RunID correlates events across processes. Empty generates one.
	RunID string
	// Level defaults to info.
	Level         types.Level
	HookEventName string
	Msg           string
	Data          types.Value
	AgentRole     types.AgentRole
	WorkerID      string
	TaskID        string
	ToolName      string
	ToolUseID     string
	ArtifactRefs  []types.ArtifactRef
	ParentEventID string
	ErrorDetail   *types.ErrorDetail
	// Cwd overrides the process working directory.
	Cwd string
}

// ValidationError reports an enumeration value outside its allowed set.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// Builder constructs envelopes. It holds no mutable state and is safe for
// concurrent use.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder with defaults applied to cfg.
func NewBuilder(cfg Config) *Builder {
	if cfg.RedactionMode == "" {
		cfg.RedactionMode = redact.ModeStrict
	}
	if cfg.HostSalt == "" {
		cfg.HostSalt = DefaultHostSalt
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "unknown"
	}
	if cfg.Hostname == nil {
		cfg.Hostname = os.Hostname
	}
	if cfg.Getwd == nil {
		cfg.Getwd = os.Getwd
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Builder{cfg: cfg}
}

// Config returns the effective configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build validates p and returns a finalized envelope.
func (b *Builder) Build(p Params) (*types.EventEnvelope, error) {
	if p.Level == "" {
		p.Level = types.LevelInfo
	}
	if err := Validate(p.EventType, p.Level, p.AgentRole); err != nil {
		return nil, err
	}

	env := &types.EventEnvelope{
		EventID:       b.cfg.NewID(),
		Ts:            FormatTimestamp(b.cfg.Now()),
		SchemaVersion: types.SchemaVersion,
		SessionID:     p.SessionID,
		RunID:         p.RunID,
		EventType:     p.EventType,
		Level:         p.Level,
		Source:        b.source(p.Cwd),
		HookEventName: p.HookEventName,
		Msg:           Truncate(p.Msg, MaxMsgLen),
		AgentRole:     p.AgentRole,
		WorkerID:      p.WorkerID,
		TaskID:        p.TaskID,
		ToolName:      p.ToolName,
		ToolUseID:     p.ToolUseID,
		ArtifactRefs:  p.ArtifactRefs,
		ParentEventID: p.ParentEventID,
		ErrorDetail:   p.ErrorDetail,
	}
	if env.RunID == "" {
		env.RunID = b.cfg.NewID()
	}
	if !p.Data.IsNull() {
		env.Data = redact.Redact(p.Data, b.cfg.RedactionMode).Value
	}

	hash, err := Fingerprint(env)
	if err != nil {
		return nil, err
	}
	env.Hash = hash
	env.IndexableText = IndexableText(env)
	return env, nil
}

func (b *Builder) source(cwd string) types.Source {
	if cwd == "" {
		if wd, err := b.cfg.Getwd(); err == nil {
			cwd = wd
		}
	}
	return types.Source{
		Host:       b.hostID(),
		Remote:     b.cfg.Remote,
		Cwd:        redact.Path(cwd, b.cfg.HomeDir),
		ProjectDir: b.cfg.ProjectDir,
	}
}

func (b *Builder) hostID() string {
	name, err := b.cfg.Hostname()
	if err != nil || name == "" {
		return UnknownHost
	}
	return HostID(b.cfg.HostSalt, name)
}

// Validate checks the enumerated fields of an event. An empty role is
// allowed; an empty type or level is not.
func Validate(eventType types.EventType, level types.Level, role types.AgentRole) error {
	if !eventType.Valid() {
		return &ValidationError{Field: "event_type", Value: string(eventType)}
	}
	if !level.Valid() {
		return &ValidationError{Field: "level", Value: string(level)}
	}
	if role != "" && !role.Valid() {
		return &ValidationError{Field: "agent_role", Value: string(role)}
	}
	return nil
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
