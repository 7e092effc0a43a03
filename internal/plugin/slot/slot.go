// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package slot defines the closed set of UI regions plugins render into and
// the predicate language that decides when a slot registration is visible.
package slot

import "sort"

// ID names a UI region.
type ID string

// Slot vocabulary.
const (
	Header       ID = "header"
	Toolbar      ID = "toolbar"
	SidebarLeft  ID = "sidebar:left"
	SidebarRight ID = "sidebar:right"
	Main         ID = "main"
	PanelBottom  ID = "panel:bottom"
	PanelRight   ID = "panel:right"
	ContextMenu  ID = "context-menu"
)

var known = map[ID]bool{
	Header:       true,
	Toolbar:      true,
	SidebarLeft:  true,
	SidebarRight: true,
	Main:         true,
	PanelBottom:  true,
	PanelRight:   true,
	ContextMenu:  true,
}

// IsValid reports whether id belongs to the vocabulary.
func (id ID) IsValid() bool {
	return known[id]
}

// All returns the vocabulary sorted by name.
func All() []ID {
	ids := make([]ID, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
