package envelope

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pithecene-io/zotel/redact"
	"github.com/pithecene-io/zotel/types"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.UTC)

// testBuilder returns a Builder with a frozen clock and sequential ids.
func testBuilder(t *testing.T, mutate func(*Config)) *Builder {
	t.Helper()
	n := 0
	cfg := Config{
		HostSalt:   "pepper",
		ProjectDir: "/work/proj",
		HomeDir:    "/home/alice",
		Hostname:   func() (string, error) { return "devbox", nil },
		Getwd:      func() (string, error) { return "/home/alice/proj", nil },
		Now:        func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewBuilder(cfg)
}

func TestBuild_Basic(t *testing.T) {
	b := testBuilder(t, nil)

	env, err := b.Build(Params{
		EventType: types.EventTypeProgress,
		SessionID: "sess-1",
		Msg:       "working",
		Data:      types.Object(map[string]types.Value{"step": types.Int(2)}),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if env.EventID != "id-1" {
		t.Errorf("EventID = %q, want id-1", env.EventID)
	}
	if env.RunID != "id-2" {
		t.Errorf("RunID = %q, want generated id-2", env.RunID)
	}
	if env.Ts != "2026-03-04T05:06:07.891Z" {
		t.Errorf("Ts = %q", env.Ts)
	}
	if env.SchemaVersion != types.SchemaVersion {
		t.Errorf("SchemaVersion = %q", env.SchemaVersion)
	}
	if env.Level != types.LevelInfo {
		t.Errorf("Level = %q, want default info", env.Level)
	}
	wantSource := types.Source{
		Host:       HostID("pepper", "devbox"),
		Remote:     false,
		Cwd:        "~/proj",
		ProjectDir: "/work/proj",
	}
	if env.Source != wantSource {
		t.Errorf("Source = %+v, want %+v", env.Source, wantSource)
	}
	if env.Hash == "" || len(env.Hash) != 64 {
		t.Errorf("Hash = %q, want 64 hex chars", env.Hash)
	}
	if env.IndexableText != "working" {
		t.Errorf("IndexableText = %q", env.IndexableText)
	}
}

func TestBuild_SuppliedRunIDAndCwd(t *testing.T) {
	b := testBuilder(t, nil)

	env, err := b.Build(Params{
		EventType: types.EventTypeSessionStart,
		SessionID: "s",
		RunID:     "run-parent",
		Cwd:       "/srv/app",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if env.RunID != "run-parent" {
		t.Errorf("RunID = %q, want run-parent", env.RunID)
	}
	if env.Source.Cwd != "/srv/app" {
		t.Errorf("Cwd = %q", env.Source.Cwd)
	}
	if !env.Data.IsNull() {
		t.Errorf("Data = %v, want null when absent", env.Data.Kind())
	}
}

func TestBuild_HostUnknown(t *testing.T) {
	b := testBuilder(t, func(c *Config) {
		c.Hostname = func() (string, error) { return "", errors.New("no hostname") }
	})
	env, err := b.Build(Params{EventType: types.EventTypeDone, SessionID: "s"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if env.Source.Host != UnknownHost {
		t.Errorf("Host = %q, want %q", env.Source.Host, UnknownHost)
	}
}

func TestBuild_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		field string
	}{
		{"bad type", Params{EventType: "bogus"}, "event_type"},
		{"empty type", Params{}, "event_type"},
		{"bad level", Params{EventType: types.EventTypeDone, Level: "fatal"}, "level"},
		{"bad role", Params{EventType: types.EventTypeDone, AgentRole: "boss"}, "agent_role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := testBuilder(t, nil).Build(tt.p)
			if env != nil {
				t.Errorf("expected nil envelope, got %+v", env)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestBuild_MsgTruncated(t *testing.T) {
	long := strings.Repeat("é", MaxMsgLen+50)
	env, err := testBuilder(t, nil).Build(Params{
		EventType: types.EventTypeProgress,
		SessionID: "s",
		Msg:       long,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := utf8.RuneCountInString(env.Msg); got != MaxMsgLen {
		t.Errorf("msg runes = %d, want %d", got, MaxMsgLen)
	}
	if !utf8.ValidString(env.Msg) {
		t.Error("truncated msg is not valid UTF-8")
	}
}

func TestBuild_RedactsData(t *testing.T) {
	env, err := testBuilder(t, nil).Build(Params{
		EventType: types.EventTypeProgress,
		SessionID: "s",
		Data: types.Object(map[string]types.Value{
			"note": types.String("Contact me at alice@example.com or token sk-abcdefghijklmnopqrstuvwxyz"),
		}),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	note, _ := env.Data.Get("note")
	if got, _ := note.AsString(); got != "Contact me at [EMAIL] or token [REDACTED_KEY]" {
		t.Errorf("note = %q", got)
	}
	if _, ok := env.Data.Get(redact.MetadataKey); !ok {
		t.Error("redaction metadata missing")
	}
}

func TestBuild_RedactionDisabled(t *testing.T) {
	b := testBuilder(t, func(c *Config) { c.RedactionMode = redact.ModeDisabled })
	env, err := b.Build(Params{
		EventType: types.EventTypeProgress,
		SessionID: "s",
		Data:      types.Object(map[string]types.Value{"note": types.String("x@y.com")}),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	note, _ := env.Data.Get("note")
	if got, _ := note.AsString(); got != "x@y.com" {
		t.Errorf("note = %q, want unredacted", got)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	p := Params{
		EventType: types.EventTypeDecision,
		SessionID: "s",
		RunID:     "r",
		Msg:       "chose plan B",
		TaskID:    "t-9",
		Data:      types.Object(map[string]types.Value{"reasoning": types.String("cheaper")}),
	}

	a, err := testBuilder(t, nil).Build(p)
	if err != nil {
		t.Fatalf("Build a: %v", err)
	}
	b, err := testBuilder(t, nil).Build(p)
	if err != nil {
		t.Fatalf("Build b: %v", err)
	}
	if a.Hash != b.Hash {
		t.Errorf("hash differs: %s vs %s", a.Hash, b.Hash)
	}
	if a.IndexableText != b.IndexableText {
		t.Errorf("indexable text differs: %q vs %q", a.IndexableText, b.IndexableText)
	}
	if want := "chose plan B | Task: t-9 | Reasoning: cheaper"; a.IndexableText != want {
		t.Errorf("IndexableText = %q, want %q", a.IndexableText, want)
	}
}

func TestBuild_OutOfRangeNumber(t *testing.T) {
	var data types.Value
	if err := data.UnmarshalJSON([]byte(`{"n":1e400,"m":2}`)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	p := Params{EventType: types.EventTypeProgress, SessionID: "s", Data: data}

	a, err := testBuilder(t, nil).Build(p)
	if err != nil {
		t.Fatalf("Build a: %v", err)
	}
	b, err := testBuilder(t, nil).Build(p)
	if err != nil {
		t.Fatalf("Build b: %v", err)
	}
	if a.Hash == "" || a.Hash != b.Hash {
		t.Errorf("hash = %q vs %q, want equal and non-empty", a.Hash, b.Hash)
	}

	var other types.Value
	if err := other.UnmarshalJSON([]byte(`{"n":1e401,"m":2}`)); err != nil {
		t.Fatal(err)
	}
	p.Data = other
	c, err := testBuilder(t, nil).Build(p)
	if err != nil {
		t.Fatalf("Build c: %v", err)
	}
	if c.Hash == a.Hash {
		t.Error("different payloads should hash differently")
	}
}

func TestBuild_HashIgnoresNonHashedFields(t *testing.T) {
	base := Params{
		EventType: types.EventTypeProgress,
		SessionID: "s",
		Data:      types.Object(map[string]types.Value{"k": types.String("v")}),
	}
	a, err := testBuilder(t, nil).Build(base)
	if err != nil {
		t.Fatal(err)
	}

	other := base
	other.Msg = "different"
	other.WorkerID = "w-2"
	other.Level = types.LevelWarn
	b, err := testBuilder(t, nil).Build(other)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash != b.Hash {
		t.Error("hash changed when only non-hashed fields changed")
	}

	other = base
	other.Data = types.Object(map[string]types.Value{"k": types.String("w")})
	c, err := testBuilder(t, nil).Build(other)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash == c.Hash {
		t.Error("hash unchanged although data changed")
	}
}

func TestHostID(t *testing.T) {
	got := HostID("default_salt", "devbox")
	if !strings.HasPrefix(got, "host_") || len(got) != len("host_")+12 {
		t.Errorf("HostID = %q", got)
	}
	if got == HostID("other", "devbox") {
		t.Error("salt did not affect host id")
	}
	if got != HostID("default_salt", "devbox") {
		t.Error("HostID is not stable")
	}
}

func TestNormalize_FillsDerivedFields(t *testing.T) {
	env := &types.EventEnvelope{
		SessionID: "s",
		Ts:        "2026-01-01T00:00:00.000Z",
		EventType: types.EventTypeError,
		Msg:       "boom",
		ErrorDetail: &types.ErrorDetail{
			Type:    "ToolError",
			Message: "exit 1",
		},
	}
	if err := Normalize(env); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want, _ := Fingerprint(env)
	if env.Hash != want {
		t.Errorf("Hash = %q, want %q", env.Hash, want)
	}
	if env.IndexableText != "boom | Error: exit 1" {
		t.Errorf("IndexableText = %q", env.IndexableText)
	}
	if env.Level != types.LevelInfo || env.SchemaVersion != types.SchemaVersion {
		t.Errorf("defaults not applied: level %q schema %q", env.Level, env.SchemaVersion)
	}

	env.Hash = "preset"
	if err := Normalize(env); err != nil {
		t.Fatal(err)
	}
	if env.Hash != "preset" {
		t.Error("Normalize overwrote an existing hash")
	}
}

func TestIndexableText_AllParts(t *testing.T) {
	env := &types.EventEnvelope{
		EventType: types.EventTypeArtifact,
		Msg:       "wrote files",
		ToolName:  "Write",
		TaskID:    "t1",
		WorkerID:  "w1",
		ArtifactRefs: []types.ArtifactRef{
			{Path: "a.go"}, {Path: "b.go"}, {Path: "c.go"}, {Path: "d.go"},
		},
	}
	want := "wrote files | Tool: Write | Task: t1 | Worker: w1 | Artifacts: a.go, b.go, c.go"
	if got := IndexableText(env); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

func TestIndexableText_ReasoningOnlyForDecisions(t *testing.T) {
	env := &types.EventEnvelope{
		EventType: types.EventTypeProgress,
		Data:      types.Object(map[string]types.Value{"reasoning": types.String("why")}),
	}
	if got := IndexableText(env); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestIndexableText_Truncated(t *testing.T) {
	env := &types.EventEnvelope{
		EventType: types.EventTypeProgress,
		Msg:       strings.Repeat("m", MaxMsgLen),
		TaskID:    strings.Repeat("t", 1000),
		WorkerID:  strings.Repeat("w", 1000),
	}
	if got := utf8.RuneCountInString(IndexableText(env)); got != MaxIndexableTextLen {
		t.Errorf("len = %d, want %d", got, MaxIndexableTextLen)
	}
}

func TestNewArtifactRef(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ref := NewArtifactRef(path, "", dir, fixedNow)
	if ref.Hash != "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("Hash = %q", ref.Hash)
	}
	if ref.SizeBytes != 5 {
		t.Errorf("SizeBytes = %d, want 5", ref.SizeBytes)
	}
	if ref.Path != "~/out.txt" {
		t.Errorf("Path = %q, want ~/out.txt", ref.Path)
	}
	if ref.Type != DefaultArtifactType {
		t.Errorf("Type = %q", ref.Type)
	}

	missing := NewArtifactRef(filepath.Join(dir, "nope"), "code", "", fixedNow)
	if missing.Hash != UnknownArtifactHash || missing.SizeBytes != 0 {
		t.Errorf("missing file ref = %+v", missing)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvRedactionMode, "lenient")
	t.Setenv(EnvRemote, "true")
	t.Setenv(EnvProjectDir, "/p")
	t.Setenv(EnvHostSalt, "s")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.RedactionMode != redact.ModeLenient || !cfg.Remote || cfg.ProjectDir != "/p" || cfg.HostSalt != "s" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv(EnvRedactionMode, "nope")
	if _, err := ConfigFromEnv(); err == nil {
		t.Error("expected error for invalid mode")
	}
}
