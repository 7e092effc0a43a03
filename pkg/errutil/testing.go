// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err carries code, as reported by Code.
func AssertErrorCode(tb testing.TB, err error, code string) {
	tb.Helper()
	require.Error(tb, err, "expected error with code %s", code)
	_, ok := oops.AsOops(err)
	require.True(tb, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(tb, code, Code(err), "error: %v", err)
}

// AssertErrorContext asserts that err carries key with value anywhere in its
// oops chain.
func AssertErrorContext(tb testing.TB, err error, key string, value any) {
	tb.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(tb, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	require.Contains(tb, ctx, key, "error: %v", err)
	assert.Equal(tb, value, ctx[key])
}
