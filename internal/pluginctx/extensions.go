// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx

import (
	"github.com/schemastudio/studio/internal/extension"
	"github.com/schemastudio/studio/internal/plugin/capability"
)

// Extensions declares extension points and contributes to them.
type Extensions struct {
	gate
}

// DefinePoint declares a point owned by the plugin. Requires
// extensions:define.
func (e *Extensions) DefinePoint(id string, schema extension.Schema, multiplicity extension.Multiplicity) error {
	if !e.allow(capability.ExtensionsDefine, "extensions.definePoint") {
		return nil
	}
	return e.deps().Extensions.DefinePoint(e.pc.id, id, schema, multiplicity)
}

// Contribute submits data to pointID. Requires extensions:contribute.
func (e *Extensions) Contribute(pointID string, priority int, data map[string]any) error {
	if !e.allow(capability.ExtensionsContribute, "extensions.contribute") {
		return nil
	}
	return e.deps().Extensions.Contribute(e.pc.id, pointID, priority, data)
}

// Withdraw removes the plugin's contributions to pointID. Requires
// extensions:contribute.
func (e *Extensions) Withdraw(pointID string) int {
	if !e.allow(capability.ExtensionsContribute, "extensions.withdraw") {
		return 0
	}
	return e.deps().Extensions.Withdraw(e.pc.id, pointID)
}

// Contributions lists the contributions to pointID in order. Either
// extension capability allows it.
func (e *Extensions) Contributions(pointID string) []extension.Contribution {
	if !e.allowAny("extensions.contributions", capability.ExtensionsDefine, capability.ExtensionsContribute) {
		return []extension.Contribution{}
	}
	return e.deps().Extensions.Contributions(pointID)
}
