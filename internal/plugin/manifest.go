// Package plugin provides the plugin registry: manifest validation,
// dependency-ordered activation, and lifecycle control.
package plugin

import (
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/schemastudio/studio/internal/extension"
)

// SupportedAPIVersion is the manifest apiVersion this runtime accepts.
const SupportedAPIVersion = "1.0"

// ActivationMode says when a plugin activates.
type ActivationMode string

// Activation modes.
const (
	ActivationEager ActivationMode = "eager"
	ActivationLazy  ActivationMode = "lazy"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	ID               string               `yaml:"id" json:"id"`
	Name             string               `yaml:"name" json:"name"`
	Description      string               `yaml:"description,omitempty" json:"description,omitempty"`
	Version          string               `yaml:"version" json:"version"`
	APIVersion       string               `yaml:"apiVersion" json:"apiVersion"`
	Activation       ActivationMode       `yaml:"activation,omitempty" json:"activation,omitempty" jsonschema:"enum=eager,enum=lazy"`
	ActivationEvents []string             `yaml:"activationEvents,omitempty" json:"activationEvents,omitempty"`
	Capabilities     []string             `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Dependencies     []Dependency         `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Slots            []SlotRegistration   `yaml:"slots,omitempty" json:"slots,omitempty"`
	ExtensionPoints  []ExtensionPointDecl `yaml:"extensionPoints,omitempty" json:"extensionPoints,omitempty"`
	Contributions    []ContributionDecl   `yaml:"contributions,omitempty" json:"contributions,omitempty"`
	Services         []ServiceDecl        `yaml:"services,omitempty" json:"services,omitempty"`
	Consumes         []string             `yaml:"consumes,omitempty" json:"consumes,omitempty"`
	Emits            []string             `yaml:"emits,omitempty" json:"emits,omitempty"`
	Subscribes       []string             `yaml:"subscribes,omitempty" json:"subscribes,omitempty"`
	Lua              *LuaConfig           `yaml:"lua,omitempty" json:"lua,omitempty"`
}

// Dependency names another plugin this one needs.
type Dependency struct {
	ID       string `yaml:"id" json:"id"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	// Version is a semver constraint such as "^1.2.0" or ">= 1.0.0, < 2.0.0".
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// SlotRegistration places a rendering unit into a UI region.
type SlotRegistration struct {
	Slot      string `yaml:"slot" json:"slot"`
	Component string `yaml:"component" json:"component"`
	Priority  int    `yaml:"priority,omitempty" json:"priority,omitempty"`
	// When is a visibility predicate, e.g. `selection.kind == "Text"`.
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// ExtensionPointDecl declares an extension point owned by the plugin.
type ExtensionPointDecl struct {
	ID           string                 `yaml:"id" json:"id"`
	Description  string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Schema       extension.Schema       `yaml:"schema" json:"schema"`
	Multiplicity extension.Multiplicity `yaml:"multiplicity,omitempty" json:"multiplicity,omitempty" jsonschema:"enum=single,enum=multiple"`
}

// ContributionDecl submits a payload to another plugin's extension point.
type ContributionDecl struct {
	Point    string         `yaml:"point" json:"point"`
	Priority int            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Data     map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// ServiceDecl announces a service the plugin provides.
type ServiceDecl struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// Mode returns the activation mode, defaulting to eager.
func (m *Manifest) Mode() ActivationMode {
	if m.Activation == "" {
		return ActivationEager
	}
	return m.Activation
}

// HasActivationEvent reports whether name is one of the manifest's
// activation events. Names are compared literally.
func (m *Manifest) HasActivationEvent(name string) bool {
	for _, e := range m.ActivationEvents {
		if e == name {
			return true
		}
	}
	return false
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code("VALIDATION_FAILED").Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("VALIDATION_FAILED").Wrapf(err, "invalid YAML")
	}
	normalizeContributionData(&m)

	if res := Validate(&m); !res.Valid {
		return nil, oops.Code("VALIDATION_FAILED").
			With("plugin", m.ID).
			With("errors", res.Errors).
			Errorf("invalid manifest: %s", strings.Join(res.Errors, "; "))
	}

	return &m, nil
}

// normalizeContributionData converts YAML-decoded payloads into JSON-compatible
// values so they can be validated against contribution schemas.
func normalizeContributionData(m *Manifest) {
	for i := range m.Contributions {
		if m.Contributions[i].Data == nil {
			continue
		}
		if converted, ok := convertToJSONTypes(m.Contributions[i].Data).(map[string]any); ok {
			m.Contributions[i].Data = converted
		}
	}
}
