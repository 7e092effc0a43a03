// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package errutil holds helpers for logging and inspecting oops errors.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	logAt(logger, slog.LevelError, msg, err, attrs...)
}

// LogWarn is LogError at warning level, for failures the caller recovers from.
func LogWarn(logger *slog.Logger, msg string, err error, attrs ...any) {
	logAt(logger, slog.LevelWarn, msg, err, attrs...)
}

func logAt(logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
	} else {
		attrs = append(attrs, "error", err)
	}
	logger.Log(context.Background(), level, msg, attrs...)
}

// Code returns the oops code of err, or "" when err carries none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	return fmt.Sprint(code)
}
