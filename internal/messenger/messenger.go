// Package messenger defines the one capability the executor needs from the
// outside world: deliver a single message to a single phone. The web
// implementation drives the third-party messenger app through a browser
// session; the contract keeps the executor blind to that.
package messenger

import (
	"context"
	"strings"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// ResultKind classifies one delivery attempt.
type ResultKind string

const (
	KindOK               ResultKind = "ok"
	KindTransientError   ResultKind = "transient_error"
	KindInvalidRecipient ResultKind = "invalid_recipient"
	KindSessionLost      ResultKind = "session_lost"
)

// SendResult is the outcome of one delivery attempt. OK implies KindOK;
// everything else carries the reason in Error.
type SendResult struct {
	OK     bool       `json:"ok"`
	Kind   ResultKind `json:"kind"`
	Error  string     `json:"error,omitempty"`
	SentAt time.Time  `json:"sent_at,omitempty"`
}

// Messenger delivers one message. Implementations must be safe for
// concurrent use; the web implementation serializes through its session.
type Messenger interface {
	Send(ctx context.Context, phone, text string, attachments []domain.Attachment) SendResult
}

// NormalizePhone strips everything but digits. A leading + disappears with
// the rest; an empty result means the recipient can never be valid.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// invalidMarkers are error fragments the messenger app produces for
// unreachable recipients. Matches are permanent failures, never retried.
var invalidMarkers = []string{
	"phone number shared via url is invalid",
	"invalid wid",
	"recipient not on",
	"not a valid phone",
}

// IsInvalidRecipient reports whether an error message marks the recipient
// itself as unusable.
func IsInvalidRecipient(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range invalidMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
