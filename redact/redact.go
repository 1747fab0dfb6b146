// Package redact scrubs sensitive substrings from free-form event payloads.
//
// Rules run in a fixed order over every string leaf of a payload. When at
// least one rule fires on an object payload, a "redaction" member is added
// recording which rules fired and under which mode. Redaction never fails.
package redact

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/pithecene-io/zotel/types"
)

// MetadataKey is the object member that records applied redactions.
const MetadataKey = "redaction"

// Mode selects how aggressively payloads are scrubbed.
type Mode string

// Redaction modes.
const (
	ModeStrict   Mode = "strict"
	ModeLenient  Mode = "lenient"
	ModeDisabled Mode = "disabled"
)

// ParseMode parses a mode name. The empty string selects strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	case ModeDisabled:
		return ModeDisabled, nil
	default:
		return "", fmt.Errorf("invalid redaction mode: %q (must be strict, lenient, or disabled)", s)
	}
}

// Rule is a named pattern and the placeholder that replaces its matches.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder string
}

// rules are applied in this order; later rules see the output of earlier ones.
var rules = []Rule{
	{
		Name:        "email",
		Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Placeholder: "[EMAIL]",
	},
	{
		Name:        "api_key",
		Pattern:     regexp.MustCompile(`\b(sk|pk|ck|ghp|gho|glpat)[-_][A-Za-z0-9]{20,}\b`),
		Placeholder: "[REDACTED_KEY]",
	},
	{
		Name:        "bearer_token",
		Pattern:     regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-._~+/]+={0,2}`),
		Placeholder: "Bearer [REDACTED_TOKEN]",
	},
	{
		Name:        "jwt",
		Pattern:     regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		Placeholder: "[REDACTED_JWT]",
	},
	{
		Name:        "ip_address",
		Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Placeholder: "[IP]",
	},
}

// Rules returns the ordered rule set.
func Rules() []Rule {
	return slices.Clone(rules)
}

// Result is the outcome of redacting a payload.
type Result struct {
	// Value is the redacted payload.
	Value types.Value
	// Rules lists the names of rules that fired, in first-fired order.
	Rules []string
}

// Applied reports whether any rule fired.
func (r Result) Applied() bool { return len(r.Rules) > 0 }

// Redact returns a scrubbed copy of v. Object members are visited in
// sorted key order so the fired-rule list is deterministic.
//
// Strict and lenient currently share a rule set; the mode is recorded in
// the metadata so consumers can tell them apart.
func Redact(v types.Value, mode Mode) Result {
	if mode == ModeDisabled {
		return Result{Value: v}
	}

	w := &walker{}
	out := w.walk(v)
	if len(w.fired) > 0 && out.Kind() == types.KindObject {
		out = out.With(MetadataKey, metadata(w.fired, mode))
	}
	return Result{Value: out, Rules: w.fired}
}

// String applies every rule to s and reports which rules fired.
func String(s string, mode Mode) (string, []string) {
	if mode == ModeDisabled {
		return s, nil
	}
	w := &walker{}
	return w.scrub(s), w.fired
}

func metadata(fired []string, mode Mode) types.Value {
	names := make([]types.Value, len(fired))
	for i, name := range fired {
		names[i] = types.String(name)
	}
	return types.Object(map[string]types.Value{
		"applied": types.Bool(true),
		"rules":   types.Array(names...),
		"mode":    types.String(string(mode)),
	})
}

type walker struct {
	fired []string
}

func (w *walker) walk(v types.Value) types.Value {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.AsString()
		return types.String(w.scrub(s))
	case types.KindArray:
		items := v.Items()
		out := make([]types.Value, len(items))
		for i, item := range items {
			out[i] = w.walk(item)
		}
		return types.Array(out...)
	case types.KindObject:
		fields := v.Fields()
		out := make(map[string]types.Value, len(fields))
		for _, key := range v.Keys() {
			out[key] = w.walk(fields[key])
		}
		return types.Object(out)
	default:
		return v
	}
}

func (w *walker) scrub(s string) string {
	for _, r := range rules {
		if !r.Pattern.MatchString(s) {
			continue
		}
		s = r.Pattern.ReplaceAllLiteralString(s, r.Placeholder)
		if !slices.Contains(w.fired, r.Name) {
			w.fired = append(w.fired, r.Name)
		}
	}
	return s
}
