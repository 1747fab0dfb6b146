package redact

import (
	"regexp"
	"strings"
)

var windowsUserPattern = regexp.MustCompile(`(?i)\b([A-Z]:\\Users\\)[^\\]+`)

// Path hides the user's identity in a filesystem path. A leading home
// directory becomes "~" and Windows profile directories become
// C:\Users\[USER]. An empty home disables the home rule.
func Path(path, home string) string {
	if path == "" {
		return path
	}
	home = strings.TrimRight(home, `/\`)
	if home != "" && strings.HasPrefix(path, home) {
		rest := path[len(home):]
		if rest == "" || rest[0] == '/' || rest[0] == '\\' {
			path = "~" + rest
		}
	}
	return windowsUserPattern.ReplaceAllString(path, `${1}[USER]`)
}
