package engine

import "errors"

var (
	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrNoSymbols      = errors.New("no trading symbols configured")
	ErrNoProposal     = errors.New("no valid proposal received")
)
