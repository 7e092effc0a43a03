// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package slot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/pkg/errutil"
)

func TestPredicate_Eval(t *testing.T) {
	env := slot.Env{
		"selection": map[string]any{
			"kind":  "Text",
			"depth": 2,
		},
		"document": map[string]any{
			"readonly": false,
			"title":    "",
		},
		"theme": "dark",
	}

	tests := []struct {
		name      string
		predicate string
		want      bool
	}{
		{name: "empty is always visible", predicate: "", want: true},
		{name: "string equality", predicate: `selection.kind == "Text"`, want: true},
		{name: "string inequality", predicate: `selection.kind != "Text"`, want: false},
		{name: "number equality across int and float", predicate: `selection.depth == 2`, want: true},
		{name: "bool literal", predicate: `document.readonly == false`, want: true},
		{name: "negation of falsy path", predicate: `!document.readonly`, want: true},
		{name: "truthiness of empty string", predicate: `document.title`, want: false},
		{name: "conjunction", predicate: `selection.kind == "Text" && theme == "dark"`, want: true},
		{name: "conjunction short circuits false", predicate: `selection.kind == "Image" && theme == "dark"`, want: false},
		{name: "disjunction", predicate: `selection.kind == "Image" || theme == "dark"`, want: true},
		{name: "parentheses", predicate: `!(selection.kind == "Image" || theme == "light")`, want: true},
		{name: "missing path is null", predicate: `selection.missing == null`, want: true},
		{name: "path through scalar is null", predicate: `theme.name`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := slot.ParsePredicate(tt.predicate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Eval(env))
		})
	}
}

func TestParsePredicate_Invalid(t *testing.T) {
	for _, src := range []string{`selection.kind ==`, `&& theme`, `(theme == "dark"`, `theme = "dark"`} {
		t.Run(src, func(t *testing.T) {
			_, err := slot.ParsePredicate(src)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "INVALID_PREDICATE")
		})
	}
}

func TestNilPredicateIsVisible(t *testing.T) {
	var p *slot.Predicate
	assert.True(t, p.Eval(nil))
}

func TestID_IsValid(t *testing.T) {
	assert.True(t, slot.SidebarLeft.IsValid())
	assert.True(t, slot.ID("context-menu").IsValid())
	assert.False(t, slot.ID("footer").IsValid())
	assert.Len(t, slot.All(), 8)
}
