package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

// LoadEnvFile parses a dotenv-style KEY=value file and returns its
// values keyed by name. Every value is shell-escaped so it can be
// interpolated into remote commands verbatim.
func LoadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '=' separator", i+1)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty variable name", i+1)
		}
		vars[key] = shellquote.Join(unquoteEnvValue(strings.TrimSpace(value)))
	}
	return vars, nil
}

// unquoteEnvValue strips one matching pair of surrounding single or
// double quotes, the way dotenv files are usually written.
func unquoteEnvValue(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '\'' || first == '"') {
			return value[1 : len(value)-1]
		}
	}
	return value
}
