package tmux

import "strings"

var shellArgEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")

// EscapeShellArg escapes s for use inside a double-quoted shell word.
func EscapeShellArg(s string) string {
	return shellArgEscaper.Replace(s)
}
