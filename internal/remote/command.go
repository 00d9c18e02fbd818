package remote

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// buildCommand assembles the final shell line for a session: optional
// working-directory scope, environment exports, then the command
// itself. Env values are expected to be pre-escaped (see
// config.LoadEnvFile), so they are interpolated as-is.
func buildCommand(dir, command string, env map[string]string) string {
	var b strings.Builder
	if dir != "" {
		fmt.Fprintf(&b, "cd %s && ", shellquote.Join(dir))
	}
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s=%s && ", k, env[k])
		}
	}
	b.WriteString(command)
	return b.String()
}

// sudoCommand wraps a fully assembled command for privileged execution.
// The sh -c indirection keeps redirects and && chains under sudo.
func sudoCommand(command string) string {
	return "sudo -n sh -c " + shellquote.Join(command)
}
