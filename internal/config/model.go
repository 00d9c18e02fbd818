package config

import (
	"fmt"
	"math"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultPort         = 22
	DefaultCloneDepth   = 1
	DefaultKeepReleases = 5
)

// refPattern matches branch names, tags and commit hashes that are safe to
// interpolate into git commands.
var refPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

// FieldError reports a configuration value that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Server is the complete, finalized configuration of one target server.
//
// Primitive fields are populated by New from a raw key/value mapping.
// Derived fields are computed by Finalize and are empty until it runs.
type Server struct {
	Host        string
	Port        int
	ProjectUser string

	SourceCodeURL string
	Branch        string
	Revision      string
	// CloneDepth is the shallow clone depth. Zero means full history,
	// which is forced whenever Revision is set.
	CloneDepth int

	ProjectRoot string
	VenvDir     string

	// KeepReleases of zero or below means unlimited retention.
	KeepReleases   int
	SystemPackages []string
	SSHKnownHosts  []string
	Secrets        []string

	EnvFile     string
	ServiceFile string

	RunMigrations      bool
	CollectStaticFiles bool

	// Derived by Finalize.
	ReleasesDir     string
	CurrentDir      string
	SharedDir       string
	PythonPath      string
	EnvVars         map[string]string
	ServiceFileName string
}

// New builds a Server from a raw mapping, coercing every value to its
// typed form. Unknown keys and uncoercible values are rejected with a
// FieldError naming the offending field.
func New(values map[string]any) (*Server, error) {
	s := &Server{
		Port:         DefaultPort,
		CloneDepth:   DefaultCloneDepth,
		KeepReleases: DefaultKeepReleases,
	}

	// Sorted keys keep validation errors deterministic.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		var err error
		switch key {
		case "host":
			s.Host, err = asString(key, value)
		case "port":
			s.Port, err = asInt(key, value, DefaultPort)
		case "project_user":
			s.ProjectUser, err = asString(key, value)
		case "source_code_url":
			s.SourceCodeURL, err = asString(key, value)
		case "branch":
			s.Branch, err = asRef(key, value)
		case "revision":
			s.Revision, err = asRef(key, value)
		case "clone_depth":
			s.CloneDepth = asCloneDepth(value)
		case "project_root":
			s.ProjectRoot, err = asString(key, value)
		case "venv_dir":
			s.VenvDir, err = asString(key, value)
		case "keep_releases":
			s.KeepReleases, err = asInt(key, value, DefaultKeepReleases)
		case "system_packages":
			s.SystemPackages, err = asWordList(key, value)
		case "ssh_known_hosts":
			s.SSHKnownHosts, err = asList(key, value)
		case "secrets":
			s.Secrets, err = asList(key, value)
		case "env_file":
			s.EnvFile, err = asString(key, value)
		case "service_file":
			s.ServiceFile, err = asString(key, value)
		case "run_migrations":
			s.RunMigrations, err = asBool(key, value)
		case "collect_static_files":
			s.CollectStaticFiles, err = asBool(key, value)
		default:
			err = &FieldError{Field: key, Reason: "unknown field"}
		}
		if err != nil {
			return nil, err
		}
	}

	// Checking out an arbitrary revision needs full history, so a set
	// revision always wins over any requested clone depth.
	if s.Revision != "" {
		s.CloneDepth = 0
	}

	return s, nil
}

// Update merges the given values over the current primitive fields and
// re-validates the whole record. On success the receiver is replaced
// atomically; on failure it is left untouched. Derived fields are reset
// and must be recomputed with Finalize.
func (s *Server) Update(values map[string]any) error {
	merged := s.primitiveMap()
	for k, v := range values {
		merged[k] = v
	}
	next, err := New(merged)
	if err != nil {
		return err
	}
	*s = *next
	return nil
}

// Finalize recomputes every derived field from the current primitive
// fields. It is idempotent: the /home/{user} rewrites only apply to
// relative paths, and all other derived values are overwritten in full
// so no stale state survives a primitive-field change.
func (s *Server) Finalize() error {
	if s.ProjectUser != "" && s.ProjectRoot != "" {
		if !path.IsAbs(s.ProjectRoot) {
			s.ProjectRoot = path.Join("/home", s.ProjectUser, s.ProjectRoot)
		}
		s.ReleasesDir = path.Join(s.ProjectRoot, "releases")
		s.CurrentDir = path.Join(s.ProjectRoot, "current")
		s.SharedDir = path.Join(s.ProjectRoot, "shared")
	} else {
		s.ReleasesDir = ""
		s.CurrentDir = ""
		s.SharedDir = ""
	}

	if s.ProjectUser != "" && s.VenvDir != "" {
		if !path.IsAbs(s.VenvDir) {
			s.VenvDir = path.Join("/home", s.ProjectUser, s.VenvDir)
		}
		s.PythonPath = path.Join(s.VenvDir, "bin", "python")
	} else {
		s.PythonPath = ""
	}

	if s.EnvFile != "" {
		vars, err := LoadEnvFile(s.EnvFile)
		if err != nil {
			return fmt.Errorf("env file %s: %w", s.EnvFile, err)
		}
		s.EnvVars = vars
	} else {
		s.EnvVars = map[string]string{}
	}

	if s.ServiceFile != "" {
		s.ServiceFileName = filepath.Base(s.ServiceFile)
	} else {
		s.ServiceFileName = ""
	}

	return nil
}

// primitiveMap returns the primitive fields as a raw mapping, suitable
// for re-validation through New.
func (s *Server) primitiveMap() map[string]any {
	return map[string]any{
		"host":                 s.Host,
		"port":                 s.Port,
		"project_user":         s.ProjectUser,
		"source_code_url":      s.SourceCodeURL,
		"branch":               s.Branch,
		"revision":             s.Revision,
		"clone_depth":          s.CloneDepth,
		"project_root":         s.ProjectRoot,
		"venv_dir":             s.VenvDir,
		"keep_releases":        s.KeepReleases,
		"system_packages":      s.SystemPackages,
		"ssh_known_hosts":      s.SSHKnownHosts,
		"secrets":              s.Secrets,
		"env_file":             s.EnvFile,
		"service_file":         s.ServiceFile,
		"run_migrations":       s.RunMigrations,
		"collect_static_files": s.CollectStaticFiles,
	}
}

func asString(field string, value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	default:
		return "", &FieldError{Field: field, Reason: fmt.Sprintf("expected a string, got %T", value)}
	}
}

// asRef is asString plus git-ref safety checks, since branches and
// revisions are interpolated into remote git commands.
func asRef(field string, value any) (string, error) {
	ref, err := asString(field, value)
	if err != nil || ref == "" {
		return ref, err
	}
	if strings.HasPrefix(ref, "-") {
		return "", &FieldError{Field: field, Reason: "must not start with '-'"}
	}
	if strings.Contains(ref, "..") {
		return "", &FieldError{Field: field, Reason: "must not contain '..'"}
	}
	if !refPattern.MatchString(ref) {
		return "", &FieldError{Field: field, Reason: "contains invalid characters"}
	}
	return ref, nil
}

func asInt(field string, value any, def int) (int, error) {
	switch v := value.(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, &FieldError{Field: field, Reason: fmt.Sprintf("expected an integer, got %v", v)}
		}
		return int(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def, nil
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, &FieldError{Field: field, Reason: fmt.Sprintf("invalid integer %q", v)}
		}
		return parsed, nil
	default:
		return 0, &FieldError{Field: field, Reason: fmt.Sprintf("expected an integer, got %T", value)}
	}
}

// asCloneDepth never fails: anything that does not parse as a positive
// integer normalizes to zero, meaning a full-history clone.
func asCloneDepth(value any) int {
	depth, err := asInt("clone_depth", value, DefaultCloneDepth)
	if err != nil || depth <= 0 {
		return 0
	}
	return depth
}

func asBool(field string, value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off", "":
			return false, nil
		default:
			return false, &FieldError{Field: field, Reason: fmt.Sprintf("invalid boolean value %q", v)}
		}
	default:
		return false, &FieldError{Field: field, Reason: fmt.Sprintf("expected a boolean, got %T", value)}
	}
}

// asList accepts a native list or a semicolon/newline-delimited string
// and returns trimmed, non-empty entries in their original order.
func asList(field string, value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		var items []string
		for _, part := range strings.Split(v, ";") {
			for _, line := range strings.Split(part, "\n") {
				if trimmed := strings.TrimSpace(line); trimmed != "" {
					items = append(items, trimmed)
				}
			}
		}
		return items, nil
	case []string:
		return trimmedNonEmpty(v), nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		return trimmedNonEmpty(items), nil
	default:
		return nil, &FieldError{Field: field, Reason: fmt.Sprintf("expected a string or list, got %T", value)}
	}
}

// asWordList is asList but additionally splits string input on any
// whitespace, matching how package lists are commonly written.
func asWordList(field string, value any) ([]string, error) {
	if v, ok := value.(string); ok {
		return strings.Fields(strings.ReplaceAll(v, ";", " ")), nil
	}
	return asList(field, value)
}

func trimmedNonEmpty(items []string) []string {
	var out []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
