package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNoBroker          = errors.New("no broker configured")
	ErrKillSwitchEngaged = errors.New("kill switch engaged")
	ErrRiskRejected      = errors.New("risk check rejected")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidIntent     = errors.New("invalid order intent")
	ErrLockHeld          = errors.New("lock already held")
	ErrNotInitialized    = errors.New("not initialized")
)
