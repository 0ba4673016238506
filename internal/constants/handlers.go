// Package constants provides shared constants used across the codebase.
package constants

import "time"

// HTTP server constants
const (
	// ShutdownTimeout bounds graceful shutdown of the HTTP server and workers
	ShutdownTimeout = 30 * time.Second

	// RequestTimeout is the per-request timeout applied by the router
	RequestTimeout = 5 * time.Minute

	// AuthRateLimit is the number of auth requests allowed per IP per minute
	AuthRateLimit = 20
)

// Token lifetimes
const (
	// AccessTokenTTL is the lifetime of an access token
	AccessTokenTTL = 30 * time.Minute

	// RefreshTokenTTL is the lifetime of a refresh token
	RefreshTokenTTL = 7 * 24 * time.Hour

	// VerifyTokenTTL is the lifetime of an email verification token
	VerifyTokenTTL = 48 * time.Hour
)

// Worker constants
const (
	// DefaultWorkerConcurrency is the number of tasks a worker runs at once
	DefaultWorkerConcurrency = 1

	// MainQueueWeight and BeatQueueWeight set the dequeue priority of each queue
	MainQueueWeight = 6
	BeatQueueWeight = 4

	// PredictAllInterval is the period of the corpus-wide auto-tagging run
	PredictAllInterval = 15 * time.Minute

	// GroupFacesInterval is the period of the face clustering run
	GroupFacesInterval = 5 * time.Minute
)
