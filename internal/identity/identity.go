// Package identity assigns and persists the stable node id of a terminal.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Identity is the persisted identity of this node
type Identity struct {
	NodeID    string    `yaml:"node_id"`
	Name      string    `yaml:"name"`
	CreatedAt time.Time `yaml:"created_at"`
}

// LoadOrCreate reads the identity file at path. When the file does not exist
// a new identity is generated and written. A non-empty override wins over the
// file and is persisted if the file is new.
func LoadOrCreate(path, override, name string) (*Identity, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var id Identity
		if err := yaml.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
		if id.NodeID == "" {
			return nil, fmt.Errorf("identity file %s has no node_id", path)
		}
		if override != "" && override != id.NodeID {
			return nil, fmt.Errorf("configured node_id %q does not match persisted node_id %q", override, id.NodeID)
		}
		return &id, nil
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	id := &Identity{
		NodeID:    override,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if id.NodeID == "" {
		id.NodeID = uuid.NewString()
	}

	if err := save(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func save(path string, id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to persist identity file: %w", err)
	}
	return nil
}
