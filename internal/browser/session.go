package browser

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// Session is one live browser window bound to one owner's messenger
// account. At most one exists per owner; campaigns for the same owner share
// it and serialize their sends through Serialize.
type Session struct {
	ID        string
	OwnerID   string
	Kind      domain.BrowserKind
	CreatedAt time.Time

	driver    *DriverClient
	driverSID string
	cmd       *exec.Cmd
	port      int

	sendMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Serialize runs fn while holding the session's single send slot. Every
// executor for this owner funnels each Send through here; this is the only
// rendezvous point between same-owner campaigns.
func (s *Session) Serialize(fn func() error) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return fn()
}

// Closed reports whether the manager has torn the session down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Navigate loads a URL in the session window.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.Closed() {
		return ErrSessionLost
	}
	return s.driver.Navigate(ctx, s.driverSID, url)
}

// CurrentURL returns the address the window is showing.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if s.Closed() {
		return "", ErrSessionLost
	}
	return s.driver.CurrentURL(ctx, s.driverSID)
}

// ExecuteScript runs JavaScript in the page and returns its value.
func (s *Session) ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	if s.Closed() {
		return nil, ErrSessionLost
	}
	return s.driver.ExecuteScript(ctx, s.driverSID, script, args...)
}

// Click finds an element by CSS selector and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	if s.Closed() {
		return ErrSessionLost
	}
	el, err := s.driver.FindElement(ctx, s.driverSID, selector)
	if err != nil {
		return err
	}
	return s.driver.Click(ctx, s.driverSID, el)
}

// SendKeys finds an element by CSS selector and types into it.
func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	if s.Closed() {
		return ErrSessionLost
	}
	el, err := s.driver.FindElement(ctx, s.driverSID, selector)
	if err != nil {
		return err
	}
	return s.driver.SendKeys(ctx, s.driverSID, el, text)
}

// UploadFile attaches a local file through a file input element.
func (s *Session) UploadFile(ctx context.Context, selector, path string) error {
	return s.SendKeys(ctx, selector, path)
}

// Alive reports whether the driver still answers for this session.
func (s *Session) Alive(ctx context.Context) bool {
	if s.Closed() {
		return false
	}
	_, err := s.driver.CurrentURL(ctx, s.driverSID)
	return err == nil
}
