package redact

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/pithecene-io/zotel/types"
)

func mustJSON(t *testing.T, v types.Value) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStrict, false},
		{"strict", ModeStrict, false},
		{"LENIENT", ModeLenient, false},
		{" disabled ", ModeDisabled, false},
		{"paranoid", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestString_Rules(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		rules []string
	}{
		{
			name:  "email",
			in:    "mail alice@example.com now",
			want:  "mail [EMAIL] now",
			rules: []string{"email"},
		},
		{
			name:  "api key",
			in:    "key sk-abcdefghijklmnopqrstuvwxyz",
			want:  "key [REDACTED_KEY]",
			rules: []string{"api_key"},
		},
		{
			name:  "github token",
			in:    "ghp_ABCDEFGHIJKLMNOPQRSTUVWX123",
			want:  "[REDACTED_KEY]",
			rules: []string{"api_key"},
		},
		{
			name:  "short key untouched",
			in:    "sk-short",
			want:  "sk-short",
			rules: nil,
		},
		{
			name:  "bearer",
			in:    "Authorization: Bearer abc.def-ghi==",
			want:  "Authorization: Bearer [REDACTED_TOKEN]",
			rules: []string{"bearer_token"},
		},
		{
			name:  "jwt",
			in:    "token eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl end",
			want:  "token [REDACTED_JWT] end",
			rules: []string{"jwt"},
		},
		{
			name:  "ip",
			in:    "connect to 10.0.0.12 please",
			want:  "connect to [IP] please",
			rules: []string{"ip_address"},
		},
		{
			name:  "all occurrences",
			in:    "a@b.io and c@d.io",
			want:  "[EMAIL] and [EMAIL]",
			rules: []string{"email"},
		},
		{
			name:  "nothing sensitive",
			in:    "hello world",
			want:  "hello world",
			rules: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := String(tt.in, ModeStrict)
			if got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !slices.Equal(fired, tt.rules) {
				t.Errorf("fired = %v, want %v", fired, tt.rules)
			}
		})
	}
}

func TestRedact_EmailAndKeyExample(t *testing.T) {
	in := types.Object(map[string]types.Value{
		"msg": types.String("Contact me at alice@example.com or token sk-abcdefghijklmnopqrstuvwxyz"),
	})

	res := Redact(in, ModeStrict)

	msg, _ := res.Value.Get("msg")
	got, _ := msg.AsString()
	if want := "Contact me at [EMAIL] or token [REDACTED_KEY]"; got != want {
		t.Errorf("msg = %q, want %q", got, want)
	}
	if !slices.Equal(res.Rules, []string{"email", "api_key"}) {
		t.Errorf("rules = %v, want [email api_key]", res.Rules)
	}

	meta, ok := res.Value.Get(MetadataKey)
	if !ok {
		t.Fatal("redaction metadata missing")
	}
	want := `{"applied":true,"mode":"strict","rules":["email","api_key"]}`
	if got := mustJSON(t, meta); got != want {
		t.Errorf("metadata = %s, want %s", got, want)
	}
}

func TestRedact_Nested(t *testing.T) {
	in := types.Object(map[string]types.Value{
		"a": types.Array(types.String("ip 192.168.1.1"), types.Int(5)),
		"b": types.Object(map[string]types.Value{"c": types.String("x@y.com")}),
		"n": types.Bool(true),
	})

	res := Redact(in, ModeLenient)

	want := `{"a":["ip [IP]",5],"b":{"c":"[EMAIL]"},"n":true,"redaction":{"applied":true,"mode":"lenient","rules":["ip_address","email"]}}`
	if got := mustJSON(t, res.Value); got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}
}

func TestRedact_NoRulesNoMetadata(t *testing.T) {
	in := types.Object(map[string]types.Value{"k": types.String("plain")})
	res := Redact(in, ModeStrict)
	if res.Applied() {
		t.Errorf("Applied() = true, rules %v", res.Rules)
	}
	if _, ok := res.Value.Get(MetadataKey); ok {
		t.Error("metadata added although nothing fired")
	}
}

func TestRedact_NonObjectGetsNoMetadata(t *testing.T) {
	res := Redact(types.String("x@y.com"), ModeStrict)
	if got, _ := res.Value.AsString(); got != "[EMAIL]" {
		t.Errorf("got %q, want [EMAIL]", got)
	}
	if !slices.Equal(res.Rules, []string{"email"}) {
		t.Errorf("rules = %v", res.Rules)
	}
}

func TestRedact_Disabled(t *testing.T) {
	in := types.Object(map[string]types.Value{"k": types.String("x@y.com")})
	res := Redact(in, ModeDisabled)
	if got := mustJSON(t, res.Value); got != `{"k":"x@y.com"}` {
		t.Errorf("disabled mode changed payload: %s", got)
	}
	if res.Applied() {
		t.Error("disabled mode reported rules")
	}
}

func TestRedact_DoesNotMutateInput(t *testing.T) {
	in := types.Object(map[string]types.Value{"k": types.String("x@y.com")})
	_ = Redact(in, ModeStrict)
	if got := mustJSON(t, in); got != `{"k":"x@y.com"}` {
		t.Errorf("input mutated: %s", got)
	}
}

func TestRedact_Idempotent(t *testing.T) {
	in := types.Object(map[string]types.Value{
		"msg":  types.String("Bearer abc123 from 1.2.3.4 by a@b.co with ghp_ABCDEFGHIJKLMNOPQRSTUVWX"),
		"list": types.Array(types.String("eyJa.eyJb.c")),
	})

	for _, mode := range []Mode{ModeStrict, ModeLenient, ModeDisabled} {
		t.Run(string(mode), func(t *testing.T) {
			once := Redact(in, mode).Value
			twice := Redact(once, mode).Value
			if a, b := mustJSON(t, once), mustJSON(t, twice); a != b {
				t.Errorf("not idempotent:\n once  %s\n twice %s", a, b)
			}
		})
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		home string
		want string
	}{
		{"home prefix", "/home/alice/project", "/home/alice", "~/project"},
		{"home itself", "/home/alice", "/home/alice/", "~"},
		{"sibling not matched", "/home/alicex/project", "/home/alice", "/home/alicex/project"},
		{"outside home", "/srv/app", "/home/alice", "/srv/app"},
		{"no home", "/home/alice/x", "", "/home/alice/x"},
		{"windows profile", `C:\Users\bob\code\app`, "", `C:\Users\[USER]\code\app`},
		{"empty", "", "/home/alice", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Path(tt.path, tt.home); got != tt.want {
				t.Errorf("Path(%q, %q) = %q, want %q", tt.path, tt.home, got, tt.want)
			}
		})
	}
}
