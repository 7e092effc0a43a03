package plugin

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/schemastudio/studio/internal/extension"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/plugin/slot"
)

// idPattern validates plugin identifiers.
var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// pointPattern validates extension point and service ids, which may be
// namespaced with dots or colons, e.g. "inspector.sections".
var pointPattern = regexp.MustCompile(`^[a-z0-9-]+([.:][a-z0-9-]+)*$`)

// ValidationResult is the outcome of validating a manifest. Errors holds one
// human-readable message per violated rule.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func (r *ValidationResult) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate checks manifest constraints. It never panics; a nil manifest is
// reported as a single error.
func Validate(m *Manifest) ValidationResult {
	var r ValidationResult
	if m == nil {
		r.addf("manifest is required")
		return r
	}

	if !idPattern.MatchString(m.ID) {
		r.addf("id %q must match %s", m.ID, idPattern.String())
	}
	if m.Name == "" {
		r.addf("name is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		r.addf("version %q must be MAJOR.MINOR.PATCH", m.Version)
	}
	if m.APIVersion != SupportedAPIVersion {
		r.addf("apiVersion %q is not supported, want %q", m.APIVersion, SupportedAPIVersion)
	}

	switch m.Mode() {
	case ActivationEager:
	case ActivationLazy:
		if len(m.ActivationEvents) == 0 {
			r.addf("lazy activation requires at least one activation event")
		}
	default:
		r.addf("activation %q must be 'eager' or 'lazy'", m.Activation)
	}
	for i, e := range m.ActivationEvents {
		if e == "" {
			r.addf("activationEvents[%d] is empty", i)
		}
	}

	declared, unknown := capability.ParseSet(m.Capabilities)
	for _, tok := range unknown {
		r.addf("unknown capability %q", tok)
	}

	validateSlots(m, &r)
	validateDependencies(m, &r)
	validateExtensionPoints(m, declared, &r)
	validateContributions(m, declared, &r)
	validateServices(m, declared, &r)

	if len(m.Emits) > 0 && !declared.Has(capability.EventsEmit) {
		r.addf("emits requires capability %q", capability.EventsEmit)
	}

	if m.Lua != nil && m.Lua.Entry == "" {
		r.addf("lua.entry is required")
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func validateSlots(m *Manifest, r *ValidationResult) {
	for i, s := range m.Slots {
		if !slot.ID(s.Slot).IsValid() {
			r.addf("slots[%d]: unknown slot %q", i, s.Slot)
		}
		if s.Component == "" {
			r.addf("slots[%d]: component is required", i)
		}
		if _, err := slot.ParsePredicate(s.When); err != nil {
			r.addf("slots[%d]: invalid when predicate %q", i, s.When)
		}
	}
}

func validateDependencies(m *Manifest, r *ValidationResult) {
	seen := make(map[string]bool, len(m.Dependencies))
	for i, d := range m.Dependencies {
		switch {
		case !idPattern.MatchString(d.ID):
			r.addf("dependencies[%d]: id %q must match %s", i, d.ID, idPattern.String())
		case d.ID == m.ID:
			r.addf("dependencies[%d]: plugin cannot depend on itself", i)
		case seen[d.ID]:
			r.addf("dependencies[%d]: duplicate dependency %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Version != "" {
			if _, err := semver.NewConstraint(d.Version); err != nil {
				r.addf("dependencies[%d]: invalid version constraint %q", i, d.Version)
			}
		}
	}
}

func validateExtensionPoints(m *Manifest, declared capability.Set, r *ValidationResult) {
	if len(m.ExtensionPoints) > 0 && !declared.Has(capability.ExtensionsDefine) {
		r.addf("extensionPoints requires capability %q", capability.ExtensionsDefine)
	}
	seen := make(map[string]bool, len(m.ExtensionPoints))
	for i, p := range m.ExtensionPoints {
		if !pointPattern.MatchString(p.ID) {
			r.addf("extensionPoints[%d]: id %q is malformed", i, p.ID)
		} else if seen[p.ID] {
			r.addf("extensionPoints[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true

		switch p.Multiplicity {
		case "", extension.Single, extension.Multiple:
		default:
			r.addf("extensionPoints[%d]: multiplicity %q must be 'single' or 'multiple'", i, p.Multiplicity)
		}
		for _, msg := range p.Schema.Check() {
			r.addf("extensionPoints[%d]: %s", i, msg)
		}
	}
}

func validateContributions(m *Manifest, declared capability.Set, r *ValidationResult) {
	if len(m.Contributions) > 0 && !declared.Has(capability.ExtensionsContribute) {
		r.addf("contributions requires capability %q", capability.ExtensionsContribute)
	}
	for i, c := range m.Contributions {
		if !pointPattern.MatchString(c.Point) {
			r.addf("contributions[%d]: point %q is malformed", i, c.Point)
		}
	}
}

func validateServices(m *Manifest, declared capability.Set, r *ValidationResult) {
	if len(m.Services) > 0 && !declared.Has(capability.ServicesProvide) {
		r.addf("services requires capability %q", capability.ServicesProvide)
	}
	seen := make(map[string]bool, len(m.Services))
	for i, s := range m.Services {
		if !pointPattern.MatchString(s.ID) {
			r.addf("services[%d]: id %q is malformed", i, s.ID)
		} else if seen[s.ID] {
			r.addf("services[%d]: duplicate service %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	if len(m.Consumes) > 0 && !declared.Has(capability.ServicesConsume) {
		r.addf("consumes requires capability %q", capability.ServicesConsume)
	}
	for i, id := range m.Consumes {
		if !pointPattern.MatchString(id) {
			r.addf("consumes[%d]: id %q is malformed", i, id)
		}
	}
}
