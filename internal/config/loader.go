package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// deploymentFile is the top-level shape of a deployment config:
// shared defaults plus one override mapping per server. Any other
// top-level key is rejected by the strict decoder.
type deploymentFile struct {
	Common  map[string]any   `yaml:"common"`
	Servers []map[string]any `yaml:"servers"`
}

// Load reads a multi-server deployment file and returns one finalized
// Server per entry. Loading is all-or-nothing: a single invalid server
// aborts the load, with the error naming the server's index and host.
func Load(path string) ([]*Server, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var doc deploymentFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("deployment config %s is empty", path)
		}
		return nil, fmt.Errorf("parse deployment config %s: %w", path, err)
	}

	if doc.Common == nil {
		return nil, fmt.Errorf("deployment config %s: missing required key %q", path, "common")
	}
	if doc.Servers == nil {
		return nil, fmt.Errorf("deployment config %s: missing required key %q", path, "servers")
	}
	if len(doc.Servers) == 0 {
		return nil, fmt.Errorf("deployment config %s: %q must not be empty", path, "servers")
	}

	servers := make([]*Server, 0, len(doc.Servers))
	for i, overrides := range doc.Servers {
		srv, err := newMerged(doc.Common, overrides)
		if err != nil {
			host := "<unknown>"
			if h, ok := overrides["host"].(string); ok && h != "" {
				host = h
			}
			return nil, fmt.Errorf("deployment config %s: servers[%d] (host %s): %w", path, i, host, err)
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// newMerged builds one finalized Server from shared defaults and
// per-server overrides. The merge is shallow: an override key replaces
// the common value wholesale.
func newMerged(common, overrides map[string]any) (*Server, error) {
	merged := make(map[string]any, len(common)+len(overrides))
	for k, v := range common {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	srv, err := New(merged)
	if err != nil {
		return nil, err
	}
	if err := srv.Finalize(); err != nil {
		return nil, err
	}
	return srv, nil
}
