package ir

import (
	"fmt"
	"strings"
)

// Reserved identities.
const (
	// PlatformNamespace is the provider namespace reserved for account-base
	// modules. Registering under it requires elevated registry rights.
	PlatformNamespace = "platform"

	// ManagerID is the module id of the account manager itself.
	ManagerID ModuleID = PlatformNamespace + ":manager"

	// ProxyID is the protected, non-removable proxy module id.
	ProxyID ModuleID = PlatformNamespace + ":proxy"
)

// LatestTag is the textual form of the Latest version wildcard.
const LatestTag = "latest"

// ModuleID identifies a module as "<provider>:<name>".
// Case-sensitive; both halves must be non-empty.
type ModuleID string

// ParseModuleID validates s and returns it as a ModuleID.
func ParseModuleID(s string) (ModuleID, error) {
	provider, name, ok := strings.Cut(s, ":")
	if !ok {
		return "", NewError(ErrCodeInvalidModuleID, fmt.Sprintf("module id %q is missing the ':' delimiter", s))
	}
	if err := validateSegment("provider", provider); err != nil {
		return "", err
	}
	if err := validateSegment("name", name); err != nil {
		return "", err
	}
	return ModuleID(s), nil
}

// Provider returns the part before the delimiter.
func (id ModuleID) Provider() string {
	provider, _, _ := strings.Cut(string(id), ":")
	return provider
}

// Name returns the part after the delimiter.
func (id ModuleID) Name() string {
	_, name, _ := strings.Cut(string(id), ":")
	return name
}

// Validate reports whether id is well formed.
func (id ModuleID) Validate() error {
	_, err := ParseModuleID(string(id))
	return err
}

func (id ModuleID) String() string { return string(id) }

func validateSegment(field, s string) error {
	if s == "" {
		return NewError(ErrCodeInvalidModuleID, fmt.Sprintf("module %s must not be empty", field))
	}
	if strings.ContainsAny(s, ":@ \t\r\n") {
		return NewError(ErrCodeInvalidModuleID, fmt.Sprintf("module %s %q contains a reserved character", field, s))
	}
	return nil
}

// ModuleVersion is either Latest (a query-time wildcard, never stored) or a
// concrete version string. The zero value is Latest.
type ModuleVersion struct {
	v string
}

// Latest returns the query-time wildcard version.
func Latest() ModuleVersion { return ModuleVersion{} }

// Version returns a concrete version. An empty string or "latest" yields Latest.
func Version(v string) ModuleVersion {
	if v == LatestTag {
		return ModuleVersion{}
	}
	return ModuleVersion{v: v}
}

// IsLatest reports whether v is the wildcard.
func (v ModuleVersion) IsLatest() bool { return v.v == "" }

// Concrete returns the concrete version string, or "" for Latest.
func (v ModuleVersion) Concrete() string { return v.v }

func (v ModuleVersion) String() string {
	if v.IsLatest() {
		return LatestTag
	}
	return v.v
}

// MarshalText encodes Latest as "latest".
func (v ModuleVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText accepts "latest" or a concrete version.
func (v *ModuleVersion) UnmarshalText(b []byte) error {
	*v = Version(string(b))
	return nil
}

// ModuleInfo names a module in the registry: provider, name and version.
type ModuleInfo struct {
	Provider string        `json:"provider"`
	Name     string        `json:"name"`
	Version  ModuleVersion `json:"version"`
}

// NewModuleInfo builds a ModuleInfo from a module id and version.
func NewModuleInfo(id ModuleID, version ModuleVersion) (ModuleInfo, error) {
	if err := id.Validate(); err != nil {
		return ModuleInfo{}, err
	}
	return ModuleInfo{Provider: id.Provider(), Name: id.Name(), Version: version}, nil
}

// ParseModuleInfo parses "provider:name" or "provider:name@version".
// A missing version or "@latest" yields Latest.
func ParseModuleInfo(s string) (ModuleInfo, error) {
	idPart, versionPart, _ := strings.Cut(s, "@")
	id, err := ParseModuleID(idPart)
	if err != nil {
		return ModuleInfo{}, err
	}
	return ModuleInfo{Provider: id.Provider(), Name: id.Name(), Version: Version(versionPart)}, nil
}

// ID returns the module id of the info.
func (m ModuleInfo) ID() ModuleID {
	return ModuleID(m.Provider + ":" + m.Name)
}

// Validate checks the provider and name segments.
func (m ModuleInfo) Validate() error {
	if err := validateSegment("provider", m.Provider); err != nil {
		return err
	}
	return validateSegment("name", m.Name)
}

// WithVersion returns a copy of m pinned to version.
func (m ModuleInfo) WithVersion(version string) ModuleInfo {
	m.Version = Version(version)
	return m
}

func (m ModuleInfo) String() string {
	return fmt.Sprintf("%s@%s", m.ID(), m.Version)
}

// Module is a registry entry: a concrete ModuleInfo and its reference.
type Module struct {
	Info      ModuleInfo      `json:"info"`
	Reference ModuleReference `json:"-"`
}

// ModuleAddress is one address book row.
type ModuleAddress struct {
	ID   ModuleID `json:"id"`
	Addr Addr     `json:"addr"`
}
