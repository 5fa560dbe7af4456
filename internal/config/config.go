// Package config loads the connection registry and deployment paths.
// Secrets never live in the file: the external id is referenced by
// environment variable name and resolved at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perimos/perimos/internal/model"
)

// DefaultDir returns the perimos home directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "perimos")
	}
	return filepath.Join(home, ".perimos")
}

// Default file locations inside the home directory.
func DefaultConnectionsPath() string { return filepath.Join(DefaultDir(), "connections.yaml") }
func DefaultOverridesPath() string   { return filepath.Join(DefaultDir(), "limits.yaml") }
func DefaultLedgerPath() string      { return filepath.Join(DefaultDir(), "ledger.db") }

// connectionFile is the YAML shape of one registry record.
type connectionFile struct {
	ID            string              `yaml:"id"`
	CustomerID    string              `yaml:"customer_id"`
	RoleARN       string              `yaml:"role_arn"`
	ExternalIDEnv string              `yaml:"external_id_env"`
	Mode          string              `yaml:"mode"`
	Regions       []string            `yaml:"regions"`
	Services      map[string][]string `yaml:"services"`
	DeniedActions []string            `yaml:"denied_actions"`
	MaxSession    time.Duration       `yaml:"max_session"`
}

type registryFile struct {
	Connections []connectionFile `yaml:"connections"`
}

// Registry holds the loaded connections by id.
type Registry struct {
	connections map[string]*model.Connection
}

// LoadRegistry reads and validates the connections file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read connections: %w", err)
	}

	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse connections: %w", err)
	}

	r := &Registry{connections: make(map[string]*model.Connection, len(rf.Connections))}
	for i := range rf.Connections {
		conn, err := buildConnection(&rf.Connections[i])
		if err != nil {
			return nil, fmt.Errorf("config: connection %d: %w", i, err)
		}
		if _, dup := r.connections[conn.ID]; dup {
			return nil, fmt.Errorf("config: duplicate connection id %q", conn.ID)
		}
		r.connections[conn.ID] = conn
	}
	return r, nil
}

func buildConnection(cf *connectionFile) (*model.Connection, error) {
	if cf.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	if cf.CustomerID == "" {
		return nil, fmt.Errorf("customer_id is required")
	}
	if cf.RoleARN == "" {
		return nil, fmt.Errorf("role_arn is required")
	}

	var mode model.PermissionMode
	switch model.PermissionMode(cf.Mode) {
	case model.ModeReadOnly, model.ModeReadWrite:
		mode = model.PermissionMode(cf.Mode)
	default:
		return nil, fmt.Errorf("mode %q is not read-only or read-write", cf.Mode)
	}

	externalID := ""
	if cf.ExternalIDEnv != "" {
		externalID = os.Getenv(cf.ExternalIDEnv)
		if externalID == "" {
			return nil, fmt.Errorf("external id env %s is not set", cf.ExternalIDEnv)
		}
	}

	return &model.Connection{
		ID:         cf.ID,
		CustomerID: cf.CustomerID,
		Trust: model.TrustRef{
			RoleARN:    cf.RoleARN,
			ExternalID: externalID,
		},
		Mode:               mode,
		AllowedRegions:     cf.Regions,
		AllowedServices:    cf.Services,
		DeniedActions:      cf.DeniedActions,
		MaxSessionDuration: cf.MaxSession,
	}, nil
}

// Get returns a connection by id, or nil.
func (r *Registry) Get(id string) *model.Connection {
	return r.connections[id]
}

// IDs returns the registered connection ids.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.connections))
	for id := range r.connections {
		out = append(out, id)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.connections)
}
