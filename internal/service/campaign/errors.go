package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound    = errors.New("campaign not found")
	ErrNoContacts  = errors.New("campaign has no valid contacts")
	ErrNoBody      = errors.New("campaign has no message content")
	ErrRunning     = errors.New("campaign is running; pause or stop it first")
	ErrNotTerminal = errors.New("only stopped or completed campaigns can be deleted")
	ErrNoEntry     = errors.New("no re-sendable workflow entry for that contact")

	// ErrBadInput wraps caller mistakes (missing name, bad duplicate mode,
	// unusable attachment) so the API layer can answer 400 instead of 500.
	ErrBadInput = errors.New("invalid campaign input")
)
