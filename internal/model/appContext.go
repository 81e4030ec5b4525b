package model

import "context"

type contextKey string

const (
	ContextAppName    contextKey = "appName"
	ContextAppVersion contextKey = "appVersion"
	ContextRunID      contextKey = "runID"
)

// WithRunID tags ctx with the id of the current agent run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextRunID, runID)
}

// RunIDFromContext returns the run id stored by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextRunID).(string)
	return id
}

// AppVersionFromContext returns the version stored under ContextAppVersion, or "dev".
func AppVersionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ContextAppVersion).(string); ok && v != "" {
		return v
	}
	return "dev"
}
