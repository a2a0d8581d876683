package messenger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/browser"
	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/logger"
)

// Session is the slice of a browser session the web messenger drives.
// *browser.Session satisfies it; tests use a fake.
type Session interface {
	Serialize(fn func() error) error
	Navigate(ctx context.Context, url string) error
	ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error)
	Click(ctx context.Context, selector string) error
	UploadFile(ctx context.Context, selector, path string) error
}

// UI probe scripts and selectors for the messenger web app. The composer
// probe distinguishes three page states in one round trip.
const (
	composerProbeScript = `
		if (document.querySelector('[data-animate-modal-popup="true"]')) return "invalid";
		if (document.querySelector('footer [contenteditable="true"]')) return "ready";
		return "loading";`
	// Pending outbound messages show a clock icon until the app commits them.
	deliveredProbeScript = `return !document.querySelector('[data-icon="msg-time"]');`

	sendButtonSelector   = `[data-testid="send"], button[aria-label="Send"]`
	attachInputSelector  = `input[type="file"]`
	attachSendSelector   = `[data-testid="send"], div[role="button"][aria-label="Send"]`
	composerPollInterval = 500 * time.Millisecond
)

var errInvalidRecipient = errors.New("messenger: recipient invalid")

// WebMessenger drives one owner's browser session to deliver messages
// through the web app. Safe for concurrent use: all page interaction runs
// inside the session's send slot.
type WebMessenger struct {
	session Session
	cfg     config.BrowserConfig
}

// NewWebMessenger binds a messenger to an acquired session.
func NewWebMessenger(session Session, cfg config.BrowserConfig) *WebMessenger {
	return &WebMessenger{session: session, cfg: cfg}
}

// Send delivers one message, bounded by the configured per-message timeout
// (attachment upload included). The result is always classified; Send never
// panics and never returns a Go error.
func (m *WebMessenger) Send(ctx context.Context, phone, text string, attachments []domain.Attachment) SendResult {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return SendResult{Kind: KindInvalidRecipient, Error: fmt.Sprintf("phone %q has no digits", phone)}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout())
	defer cancel()

	err := m.session.Serialize(func() error {
		return m.deliver(ctx, normalized, text, attachments)
	})
	if err != nil {
		return classify(err)
	}
	return SendResult{OK: true, Kind: KindOK, SentAt: time.Now()}
}

func (m *WebMessenger) deliver(ctx context.Context, phone, text string, attachments []domain.Attachment) error {
	sendURL := fmt.Sprintf("%s/send?phone=%s&text=%s",
		strings.TrimRight(m.cfg.AppURL, "/"), phone, url.QueryEscape(text))
	if err := m.session.Navigate(ctx, sendURL); err != nil {
		return err
	}

	if err := m.waitComposer(ctx); err != nil {
		return err
	}

	if len(attachments) > 0 {
		if err := m.attach(ctx, attachments); err != nil {
			return err
		}
	} else if err := m.session.Click(ctx, sendButtonSelector); err != nil {
		return err
	}

	if err := m.waitCommitted(ctx); err != nil {
		return err
	}

	// Let the app settle before the session moves to the next recipient.
	select {
	case <-time.After(m.cfg.SettleDelay()):
	case <-ctx.Done():
	}
	return nil
}

// waitComposer polls until the conversation composer is usable or the app
// rejects the phone number.
func (m *WebMessenger) waitComposer(ctx context.Context) error {
	for {
		value, err := m.session.ExecuteScript(ctx, composerProbeScript)
		if err != nil {
			return err
		}
		switch scriptString(value) {
		case "ready":
			return nil
		case "invalid":
			return fmt.Errorf("%w: phone number shared via url is invalid", errInvalidRecipient)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(composerPollInterval):
		}
	}
}

// attach uploads each blob through the hidden file input. The message text
// travels as the caption of the first attachment only; the composer already
// holds it from the send URL.
func (m *WebMessenger) attach(ctx context.Context, attachments []domain.Attachment) error {
	for i, att := range attachments {
		if att.Data == "" {
			return fmt.Errorf("messenger: attachment %q has no blob data", att.Filename)
		}
		path, err := stageAttachment(att)
		if err != nil {
			return err
		}

		err = m.session.UploadFile(ctx, attachInputSelector, path)
		if err == nil {
			err = m.session.Click(ctx, attachSendSelector)
		}
		os.Remove(path)
		if err != nil {
			return fmt.Errorf("messenger: attachment %d/%d: %w", i+1, len(attachments), err)
		}
	}
	return nil
}

// waitCommitted polls until the app clears the pending marker on the
// outbound message.
func (m *WebMessenger) waitCommitted(ctx context.Context) error {
	for {
		value, err := m.session.ExecuteScript(ctx, deliveredProbeScript)
		if err != nil {
			return err
		}
		if scriptString(value) == "true" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(composerPollInterval):
		}
	}
}

// stageAttachment decodes the base64 blob to a temp file the browser can
// pick up via the file input. Caller removes the file.
func stageAttachment(att domain.Attachment) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return "", fmt.Errorf("messenger: decode attachment %q: %w", att.Filename, err)
	}

	f, err := os.CreateTemp("", "morsel-att-*"+filepath.Ext(att.Filename))
	if err != nil {
		return "", fmt.Errorf("messenger: stage attachment: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("messenger: write attachment: %w", err)
	}
	f.Close()
	return f.Name(), nil
}

// classify maps a delivery error onto the result taxonomy.
func classify(err error) SendResult {
	switch {
	case errors.Is(err, errInvalidRecipient) || IsInvalidRecipient(err.Error()):
		return SendResult{Kind: KindInvalidRecipient, Error: err.Error()}
	case errors.Is(err, browser.ErrSessionLost):
		return SendResult{Kind: KindSessionLost, Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return SendResult{Kind: KindTransientError, Error: "send timed out"}
	default:
		logger.Debug("messenger transient failure", "error", err.Error())
		return SendResult{Kind: KindTransientError, Error: err.Error()}
	}
}

// scriptString unwraps a JSON script return value into a comparable string.
func scriptString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		if b {
			return "true"
		}
		return "false"
	}
	return string(raw)
}
