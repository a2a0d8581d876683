package report

import "errors"

// ErrNotFound is returned when the campaign a snapshot was requested for
// does not exist.
var ErrNotFound = errors.New("report: campaign not found")
