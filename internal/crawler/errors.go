package crawler

import "errors"

// Sentinel errors shared by the service, stores and API.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrSessionExists     = errors.New("session already exists")
	ErrInvalidStartURL   = errors.New("invalid start url")
	ErrInvalidOptions    = errors.New("invalid crawl options")
	ErrRenderingDisabled = errors.New("javascript rendering is not configured")
)
