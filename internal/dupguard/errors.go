package dupguard

import "errors"

// Sentinel errors for the duplicate guard service layer.
var (
	ErrNotFound = errors.New("sent phone record not found")
)
