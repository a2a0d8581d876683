package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// fakeDriver emulates just enough of the W3C wire protocol for the manager.
type fakeDriver struct {
	mu        sync.Mutex
	sessions  int
	deletes   int
	navigated []string
	scriptVal string
	srv       *httptest.Server
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	f := &fakeDriver{scriptVal: "true"}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": map[string]bool{"ready": true}})
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			f.sessions++
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": map[string]string{"sessionId": "fake-sid"}})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/session/"):
			f.deletes++
			json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/url"):
			var body struct {
				URL string `json:"url"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.navigated = append(f.navigated, body.URL)
			json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/url"):
			json.NewEncoder(w).Encode(map[string]interface{}{"value": "https://app"})
		case strings.HasSuffix(r.URL.Path, "/execute/sync"):
			w.Write([]byte(`{"value":` + f.scriptVal + `}`))
		case strings.HasSuffix(r.URL.Path, "/element"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value": map[string]string{w3cElementKey: "el-1"}})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"value": nil})
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testManager(t *testing.T, f *fakeDriver) *Manager {
	t.Helper()
	m := NewManager(config.BrowserConfig{
		ChromeDriverPath:  "chromedriver",
		FirefoxDriverPath: "geckodriver",
		AppURL:            "https://messenger.example/app",
		PortBase:          0,
		BootTimeoutSecs:   5,
		ShutdownTimeoutMS: 100,
		ProfileDir:        t.TempDir(),
	})
	m.spawn = func(kind domain.BrowserKind, binary string, port int) (*exec.Cmd, error) {
		return &exec.Cmd{}, nil
	}
	m.driverURL = func(port int) string { return f.srv.URL }
	m.sweepKill = func(ctx context.Context, pattern string) int { return 0 }
	return m
}

func TestAcquireIsIdempotent(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	s1, err := m.Acquire(context.Background(), "owner-1", domain.BrowserChrome)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	s2, err := m.Acquire(context.Background(), "owner-1", domain.BrowserChrome)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if s1.ID != s2.ID {
		t.Errorf("same owner+kind should reuse the session: %s vs %s", s1.ID, s2.ID)
	}

	f.mu.Lock()
	sessions := f.sessions
	f.mu.Unlock()
	if sessions != 1 {
		t.Errorf("driver sessions opened = %d, want 1", sessions)
	}
	if m.LiveSessions() != 1 {
		t.Errorf("LiveSessions() = %d, want 1", m.LiveSessions())
	}
}

func TestAcquireRecreatesOnKindChange(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	s1, err := m.Acquire(context.Background(), "owner-2", domain.BrowserChrome)
	if err != nil {
		t.Fatalf("Acquire(chrome) error: %v", err)
	}
	s2, err := m.Acquire(context.Background(), "owner-2", domain.BrowserFirefox)
	if err != nil {
		t.Fatalf("Acquire(firefox) error: %v", err)
	}
	if s1.ID == s2.ID {
		t.Error("kind change must recreate the session")
	}
	if !s1.Closed() {
		t.Error("old session should be closed")
	}

	f.mu.Lock()
	deletes := f.deletes
	f.mu.Unlock()
	if deletes != 1 {
		t.Errorf("old driver session deletes = %d, want 1", deletes)
	}
}

func TestAcquireRejectsUnknownKind(t *testing.T) {
	m := testManager(t, newFakeDriver(t))
	if _, err := m.Acquire(context.Background(), "owner-3", "safari"); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestAcquireNavigatesToApp(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	if _, err := m.Acquire(context.Background(), "owner-4", domain.BrowserChrome); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.navigated) != 1 || f.navigated[0] != "https://messenger.example/app" {
		t.Errorf("navigated = %v, want the configured app URL", f.navigated)
	}
}

func TestReleaseClosesSession(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	s, _ := m.Acquire(context.Background(), "owner-5", domain.BrowserChrome)
	m.Release(context.Background(), "owner-5")

	if !s.Closed() {
		t.Error("session should be closed after Release")
	}
	if m.LiveSessions() != 0 {
		t.Errorf("LiveSessions() = %d, want 0", m.LiveSessions())
	}
	if err := s.Navigate(context.Background(), "x"); !errors.Is(err, ErrSessionLost) {
		t.Errorf("closed session Navigate error = %v, want ErrSessionLost", err)
	}
}

func TestForceCloseReportsCount(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	var sweptPatterns []string
	m.sweepKill = func(ctx context.Context, pattern string) int {
		sweptPatterns = append(sweptPatterns, pattern)
		return 2
	}

	m.Acquire(context.Background(), "owner-6", domain.BrowserChrome)
	killed := m.ForceClose(context.Background(), "owner-6")

	// polite tier (1) + owner-pattern sweep (2)
	if killed != 3 {
		t.Errorf("ForceClose killed = %d, want 3", killed)
	}
	if len(sweptPatterns) != 1 || !strings.Contains(sweptPatterns[0], "owner-6") {
		t.Errorf("owner sweep pattern = %v", sweptPatterns)
	}
	if m.LiveSessions() != 0 {
		t.Errorf("LiveSessions() = %d, want 0", m.LiveSessions())
	}
}

func TestForceCloseNoSession(t *testing.T) {
	m := testManager(t, newFakeDriver(t))
	if killed := m.ForceClose(context.Background(), "ghost"); killed != 0 {
		t.Errorf("ForceClose on absent owner killed = %d, want 0", killed)
	}
}

func TestForceCloseAllSweepsPlatform(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	swept := map[string]bool{}
	m.sweepKill = func(ctx context.Context, pattern string) int {
		swept[pattern] = true
		return 0
	}

	m.Acquire(context.Background(), "owner-7", domain.BrowserChrome)
	m.Acquire(context.Background(), "owner-8", domain.BrowserFirefox)

	killed := m.ForceCloseAll(context.Background())
	if killed < 2 {
		t.Errorf("ForceCloseAll killed = %d, want at least the two live sessions", killed)
	}
	for _, name := range []string{"chromedriver", "geckodriver", "chrome", "firefox"} {
		if !swept[name] {
			t.Errorf("platform sweep missed %q (swept: %v)", name, swept)
		}
	}
	if m.LiveSessions() != 0 {
		t.Errorf("LiveSessions() = %d, want 0", m.LiveSessions())
	}
}

func TestIsLoggedIn(t *testing.T) {
	f := newFakeDriver(t)
	m := testManager(t, f)

	s, _ := m.Acquire(context.Background(), "owner-9", domain.BrowserChrome)

	ok, err := m.IsLoggedIn(context.Background(), s)
	if err != nil {
		t.Fatalf("IsLoggedIn() error: %v", err)
	}
	if !ok {
		t.Error("ready indicator present; IsLoggedIn should be true")
	}
}

func TestDriverErrorsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"value":{"error":"invalid session id","message":"session deleted"}}`))
	}))
	defer srv.Close()

	c := NewDriverClient(srv.URL, nil)
	err := c.Navigate(context.Background(), "dead-sid", "https://x")
	if !errors.Is(err, ErrSessionLost) {
		t.Errorf("error = %v, want ErrSessionLost", err)
	}
}
