package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrModeLocked          = errors.New("mode cannot change while running")
	ErrAlreadyRunning      = errors.New("already running")
	ErrNotRunning          = errors.New("not running")
	ErrRateLimited         = errors.New("hourly trade limit reached")
	ErrLossLimitReached    = errors.New("daily loss limit reached")
	ErrVenueTimeout        = errors.New("venue fetch timed out")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)
