// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx

import (
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/plugin/slot"
)

// UI exposes editor chrome state.
type UI struct {
	gate
}

// Theme returns the active theme. Requires ui:read.
func (u *UI) Theme() string {
	if !u.allow(capability.UIRead, "ui.theme") {
		return ""
	}
	return u.deps().Document.Theme()
}

// SetTheme switches the theme. Requires ui:write.
func (u *UI) SetTheme(theme string) {
	if !u.allow(capability.UIWrite, "ui.setTheme") {
		return
	}
	u.deps().Document.SetTheme(theme)
}

// RevealSlot asks the host to show a slot, raising onSlot:<slot>.
// Requires ui:write. Unknown slots are ignored.
func (u *UI) RevealSlot(id slot.ID) bool {
	if !u.allow(capability.UIWrite, "ui.revealSlot") {
		return false
	}
	if !id.IsValid() {
		u.pc.log.Debug("unknown slot", "slot", string(id))
		return false
	}
	u.pc.factory.fire(OnSlotPrefix + string(id))
	return true
}
