// Package config loads zotel.yaml, the shared defaults for the zotel
// commands.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and the escaped form $${VAR}.
var envRef = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config document.
//
// ${VAR} becomes the variable's value, or "" when unset. ${VAR:-default}
// uses default when VAR is unset or empty. $${VAR} is left as the literal
// ${VAR}. An unset api_key therefore disables authentication rather than
// failing the load.
func ExpandEnv(input string) string {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) string {
	matches := envRef.FindAllStringSubmatchIndex(input, -1)
	if matches == nil {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, m := range matches {
		b.WriteString(input[last:m[0]])
		last = m[1]

		ref := input[m[0]:m[1]]
		if strings.HasPrefix(ref, "$$") {
			b.WriteString(ref[1:])
			continue
		}
		if v, ok := lookup(input[m[2]:m[3]]); ok && v != "" {
			b.WriteString(v)
		} else if m[4] >= 0 {
			b.WriteString(input[m[4]:m[5]])
		}
	}
	b.WriteString(input[last:])
	return b.String()
}
