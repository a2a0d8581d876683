// Package browser owns the per-owner messenger browser sessions: spawning
// local WebDriver processes, binding one session per owner, and tearing
// everything down when asked nicely or otherwise. The three-tier force-close
// escalation lives here and is the only place the process table is touched.
package browser

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/logger"
)

// loggedInScript probes the web app for its post-login pane. It evaluates
// true only once the account is authenticated and the chat UI has mounted.
const loggedInScript = `return !!(document.querySelector('#side') || document.querySelector('[data-testid="chat-list"]'));`

// Manager enforces the one-session-per-owner invariant and owns every
// driver process this instance spawned.
type Manager struct {
	cfg config.BrowserConfig

	mu    sync.Mutex
	slots map[string]*ownerSlot

	// Seams for tests; production uses the package defaults.
	spawn     func(kind domain.BrowserKind, binary string, port int) (*exec.Cmd, error)
	driverURL func(port int) string
	sweepKill func(ctx context.Context, pattern string) int
}

// ownerSlot serializes lifecycle operations for one owner without blocking
// other owners on a global lock.
type ownerSlot struct {
	mu      sync.Mutex
	session *Session
}

// NewManager wires a session manager from browser config.
func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		slots:     make(map[string]*ownerSlot),
		spawn:     spawnDriver,
		driverURL: func(port int) string { return fmt.Sprintf("http://127.0.0.1:%d", port) },
		sweepKill: killMatching,
	}
}

func (m *Manager) slot(ownerID string) *ownerSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[ownerID]
	if !ok {
		s = &ownerSlot{}
		m.slots[ownerID] = s
	}
	return s
}

// Acquire returns the owner's live session, creating it when absent.
// Idempotent: a healthy session of the requested kind is reused as-is; an
// incompatible or dead one is closed and recreated.
func (m *Manager) Acquire(ctx context.Context, ownerID string, kind domain.BrowserKind) (*Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("browser: unsupported kind %q", kind)
	}

	slot := m.slot(ownerID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if s := slot.session; s != nil && !s.Closed() {
		if s.Kind == kind && s.Alive(ctx) {
			return s, nil
		}
		log.Printf("[BrowserManager] recycling session %s for owner %s (kind=%s, wanted=%s)",
			s.ID, ownerID, s.Kind, kind)
		m.teardown(ctx, s)
		slot.session = nil
	}

	s, err := m.create(ctx, ownerID, kind)
	if err != nil {
		return nil, err
	}
	slot.session = s
	logger.Info("browser session created",
		"session_id", s.ID, "owner_id", ownerID, "kind", string(kind), "port", s.port)
	return s, nil
}

func (m *Manager) create(ctx context.Context, ownerID string, kind domain.BrowserKind) (*Session, error) {
	binary := m.cfg.ChromeDriverPath
	if kind == domain.BrowserFirefox {
		binary = m.cfg.FirefoxDriverPath
	}

	port, err := freePort(m.cfg.PortBase, 200)
	if err != nil {
		return nil, err
	}

	cmd, err := m.spawn(kind, binary, port)
	if err != nil {
		return nil, err
	}

	client := NewDriverClient(m.driverURL(port), nil)
	bootCtx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout())
	defer cancel()

	profile := ""
	if m.cfg.ProfileDir != "" {
		// Per-owner profile keeps the messenger login across sessions.
		profile = filepath.Join(m.cfg.ProfileDir, ownerID, string(kind))
	}

	sid, err := client.NewSession(bootCtx, kind, profile)
	if err != nil {
		reapProcess(cmd, m.cfg.ShutdownTimeout())
		return nil, fmt.Errorf("browser: open session for owner %s: %w", ownerID, err)
	}

	s := &Session{
		ID:        "sess-" + uuid.New().String()[:8],
		OwnerID:   ownerID,
		Kind:      kind,
		CreatedAt: time.Now(),
		driver:    client,
		driverSID: sid,
		cmd:       cmd,
		port:      port,
	}

	if m.cfg.AppURL != "" {
		if err := s.Navigate(bootCtx, m.cfg.AppURL); err != nil {
			m.teardown(ctx, s)
			return nil, fmt.Errorf("browser: load messenger app: %w", err)
		}
	}
	return s, nil
}

// IsLoggedIn polls the session until the web app reports an authenticated
// account or the context/boot budget runs out.
func (m *Manager) IsLoggedIn(ctx context.Context, s *Session) (bool, error) {
	deadline := time.Now().Add(m.cfg.BootTimeout())
	for {
		value, err := s.ExecuteScript(ctx, loggedInScript)
		if err != nil {
			return false, err
		}
		if string(value) == "true" {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Release shuts an owner's session down politely. No-op when none exists.
func (m *Manager) Release(ctx context.Context, ownerID string) {
	slot := m.slot(ownerID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if s := slot.session; s != nil {
		m.teardown(ctx, s)
		slot.session = nil
		logger.Info("browser session released", "session_id", s.ID, "owner_id", ownerID)
	}
}

// teardown is the polite tier: delete the driver session with a bounded
// wait, then reap the process handle.
func (m *Manager) teardown(ctx context.Context, s *Session) {
	if s == nil || s.Closed() {
		return
	}
	s.markClosed()

	shutCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout())
	defer cancel()
	if err := s.driver.DeleteSession(shutCtx, s.driverSID); err != nil {
		log.Printf("[BrowserManager] polite shutdown of %s failed: %v", s.ID, err)
	}
	reapProcess(s.cmd, m.cfg.ShutdownTimeout())
}

// ForceClose tears down one owner's session through up to three bounded
// tiers: polite driver shutdown, kill of that owner's processes, then a
// platform-wide sweep if anything still matches. It never fails; it reports
// how many processes it terminated.
func (m *Manager) ForceClose(ctx context.Context, ownerID string) int {
	slot := m.slot(ownerID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return m.forceCloseSlot(ctx, ownerID, slot, true)
}

func (m *Manager) forceCloseSlot(ctx context.Context, ownerID string, slot *ownerSlot, sweep bool) int {
	killed := 0
	s := slot.session
	slot.session = nil

	// Tier 1: polite, bounded.
	if s != nil && !s.Closed() {
		s.markClosed()
		shutCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout())
		err := s.driver.DeleteSession(shutCtx, s.driverSID)
		cancel()
		if err == nil {
			killed++
		} else {
			log.Printf("[BrowserManager] force-close tier 1 for %s: %v", ownerID, err)
		}
	}

	// Tier 2: kill the owner's spawned driver outright.
	if s != nil {
		if reapProcess(s.cmd, m.cfg.ShutdownTimeout()) && killed == 0 {
			killed++
		}
	}

	// Tier 3: anything still matching the owner's profile path.
	if sweep && m.cfg.ProfileDir != "" {
		pattern := filepath.Join(m.cfg.ProfileDir, ownerID)
		killed += m.sweepKill(ctx, pattern)
	}

	logger.Info("browser force-close", "owner_id", ownerID, "processes_killed", killed)
	return killed
}

// ForceCloseAll tears down every session and then sweeps the platform for
// residual driver and browser processes. Privileged: callers must have
// authenticated the request before getting here.
func (m *Manager) ForceCloseAll(ctx context.Context) int {
	m.mu.Lock()
	owners := make(map[string]*ownerSlot, len(m.slots))
	for owner, slot := range m.slots {
		owners[owner] = slot
	}
	m.mu.Unlock()

	killed := 0
	for owner, slot := range owners {
		slot.mu.Lock()
		killed += m.forceCloseSlot(ctx, owner, slot, false)
		slot.mu.Unlock()
	}

	// Tier 3, platform-wide: catch drivers from crashed runs too.
	seen := map[string]bool{}
	for _, names := range driverProcessNames {
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				killed += m.sweepKill(ctx, name)
			}
		}
	}

	logger.Info("browser force-close all", "processes_killed", killed)
	return killed
}

// LiveSessions counts sessions currently bound, for health reporting.
func (m *Manager) LiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, slot := range m.slots {
		if slot.session != nil && !slot.session.Closed() {
			n++
		}
	}
	return n
}
