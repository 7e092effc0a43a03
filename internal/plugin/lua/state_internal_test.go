// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package lua

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	luavm "github.com/yuin/gopher-lua"

	"github.com/schemastudio/studio/pkg/errutil"
)

func TestNewState_LibraryLoadError(t *testing.T) {
	failingLoader := func(L *luavm.LState) int {
		L.RaiseError("simulated library load failure")
		return 0
	}
	factory := &StateFactory{libraries: []safeLibrary{{"failing-lib", failingLoader}}}

	_, err := factory.NewState(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "LUA_STATE_FAILED")
	errutil.AssertErrorContext(t, err, "library", "failing-lib")
	assert.Contains(t, err.Error(), "failed to open library failing-lib")
}

func TestDefaultSafeLibraries(t *testing.T) {
	var names []string
	for _, lib := range defaultSafeLibraries() {
		names = append(names, lib.name)
	}
	assert.ElementsMatch(t, []string{
		luavm.BaseLibName,
		luavm.TabLibName,
		luavm.StringLibName,
		luavm.MathLibName,
	}, names)
}

func TestNewStateFactory_Options(t *testing.T) {
	f := NewStateFactory(WithCallStackSize(32), WithRegistrySize(512))
	assert.Equal(t, 32, f.callStackSize)
	assert.Equal(t, 512, f.registrySize)
}
