package ir

import (
	"encoding/json"
	"fmt"
)

// Dependency is a version requirement one module declares on another.
// VersionReq is a list of comparators (e.g. ">=1.0.0", "<2.0.0") that must
// all hold. Each entry is one comparator; a bare version such as "1.2.3"
// requires exactly that version.
type Dependency struct {
	ID         ModuleID `json:"id"`
	VersionReq []string `json:"version_req"`
}

// Dependencies is a module's declared dependency list.
type Dependencies []Dependency

// Find returns the dependency on id, if declared.
func (ds Dependencies) Find(id ModuleID) (Dependency, bool) {
	for _, d := range ds {
		if d.ID == id {
			return d, true
		}
	}
	return Dependency{}, false
}

// IDs returns the ids of all dependencies in declaration order.
func (ds Dependencies) IDs() []ModuleID {
	ids := make([]ModuleID, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}

// EncodeDependencies serializes ds for storage. A nil list encodes as "[]".
func EncodeDependencies(ds Dependencies) (string, error) {
	if ds == nil {
		ds = Dependencies{}
	}
	data, err := json.Marshal(ds)
	if err != nil {
		return "", fmt.Errorf("encode dependencies: %w", err)
	}
	return string(data), nil
}

// DecodeDependencies parses a stored dependency list.
func DecodeDependencies(data string) (Dependencies, error) {
	if data == "" {
		return Dependencies{}, nil
	}
	var ds Dependencies
	if err := json.Unmarshal([]byte(data), &ds); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if ds == nil {
		ds = Dependencies{}
	}
	return ds, nil
}

// MigrationEntry is one row of a batch's migration context: a module and its
// dependency list as it was before the batch migrated it.
type MigrationEntry struct {
	Module       ModuleID     `json:"module"`
	Dependencies Dependencies `json:"dependencies"`
}
