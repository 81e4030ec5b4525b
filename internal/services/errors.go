package services

import "errors"

// Common errors
var (
	ErrRemoteUnreachable = errors.New("remote queue unreachable")
	ErrRemoteBadStatus   = errors.New("remote queue returned non-200 status")
	ErrMalformedResponse = errors.New("malformed remote queue response")
	ErrAlreadyRunning    = errors.New("agent already running")
)
