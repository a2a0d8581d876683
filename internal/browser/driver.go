package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/httpretry"
)

// w3cElementKey is the W3C WebDriver element identifier key.
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// ErrSessionLost marks a driver that stopped answering mid-session. The
// executor treats it as a one-shot re-acquire signal, not an entry failure.
var ErrSessionLost = errors.New("browser: session lost")

// ErrNotLoggedIn is returned when the messenger web app has no authenticated
// account bound to the browser profile.
var ErrNotLoggedIn = errors.New("browser: messenger not logged in")

// DriverClient speaks the W3C WebDriver wire protocol to one locally
// spawned chromedriver/geckodriver. Every call is bounded by its context;
// transport retries are delegated to httpretry, which absorbs the
// connection-refused window of a booting driver.
type DriverClient struct {
	baseURL string
	http    httpretry.HTTPDoer
}

// NewDriverClient points a client at a local driver port.
func NewDriverClient(baseURL string, doer httpretry.HTTPDoer) *DriverClient {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	return &DriverClient{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type wireResponse struct {
	Value json.RawMessage `json:"value"`
}

func (c *DriverClient) do(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("browser: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The retry client already exhausted the transient window; a driver
		// that still refuses connections is gone.
		return nil, fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("browser: read %s %s: %w", method, path, err)
	}

	var wire wireResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("browser: decode %s %s: %w", method, path, err)
		}
	}

	if resp.StatusCode >= 400 {
		var we wireError
		_ = json.Unmarshal(wire.Value, &we)
		if we.Error == "invalid session id" {
			return nil, fmt.Errorf("%w: %s", ErrSessionLost, we.Message)
		}
		return nil, fmt.Errorf("browser: driver returned %d %s: %s", resp.StatusCode, we.Error, we.Message)
	}
	return wire.Value, nil
}

// Status reports whether the driver process answers and is ready for a new
// session.
func (c *DriverClient) Status(ctx context.Context) (bool, error) {
	value, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return false, err
	}
	var st struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(value, &st); err != nil {
		return false, err
	}
	return st.Ready, nil
}

// NewSession opens a browser window bound to the owner's profile directory
// and returns the driver-side session id.
func (c *DriverClient) NewSession(ctx context.Context, kind domain.BrowserKind, profileDir string) (string, error) {
	caps := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": capabilitiesFor(kind, profileDir),
		},
	}
	value, err := c.do(ctx, http.MethodPost, "/session", caps)
	if err != nil {
		return "", err
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(value, &out); err != nil {
		return "", fmt.Errorf("browser: decode session response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("browser: driver returned empty session id")
	}
	return out.SessionID, nil
}

func capabilitiesFor(kind domain.BrowserKind, profileDir string) map[string]interface{} {
	switch kind {
	case domain.BrowserFirefox:
		args := []string{}
		if profileDir != "" {
			args = append(args, "-profile", profileDir)
		}
		return map[string]interface{}{
			"browserName": "firefox",
			"moz:firefoxOptions": map[string]interface{}{
				"args": args,
			},
		}
	default:
		args := []string{"--no-first-run", "--no-default-browser-check", "--disable-notifications"}
		if profileDir != "" {
			args = append(args, "--user-data-dir="+profileDir)
		}
		return map[string]interface{}{
			"browserName": "chrome",
			"goog:chromeOptions": map[string]interface{}{
				"args": args,
			},
		}
	}
}

// DeleteSession closes the browser window politely.
func (c *DriverClient) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil)
	return err
}

// Navigate loads a URL in the session's window.
func (c *DriverClient) Navigate(ctx context.Context, sessionID, url string) error {
	_, err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/url", map[string]string{"url": url})
	return err
}

// CurrentURL returns the address the window is showing.
func (c *DriverClient) CurrentURL(ctx context.Context, sessionID string) (string, error) {
	value, err := c.do(ctx, http.MethodGet, "/session/"+sessionID+"/url", nil)
	if err != nil {
		return "", err
	}
	var url string
	if err := json.Unmarshal(value, &url); err != nil {
		return "", err
	}
	return url, nil
}

// ExecuteScript runs JavaScript synchronously in the page and returns the
// raw script value.
func (c *DriverClient) ExecuteScript(ctx context.Context, sessionID, script string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	payload := map[string]interface{}{"script": script, "args": args}
	return c.do(ctx, http.MethodPost, "/session/"+sessionID+"/execute/sync", payload)
}

// FindElement locates one element by CSS selector and returns its W3C id.
func (c *DriverClient) FindElement(ctx context.Context, sessionID, selector string) (string, error) {
	payload := map[string]string{"using": "css selector", "value": selector}
	value, err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/element", payload)
	if err != nil {
		return "", err
	}
	var ref map[string]string
	if err := json.Unmarshal(value, &ref); err != nil {
		return "", err
	}
	id := ref[w3cElementKey]
	if id == "" {
		return "", fmt.Errorf("browser: element %q not found", selector)
	}
	return id, nil
}

// SendKeys types text into an element. For file inputs the text is the
// local path of the file to attach.
func (c *DriverClient) SendKeys(ctx context.Context, sessionID, elementID, text string) error {
	_, err := c.do(ctx, http.MethodPost,
		"/session/"+sessionID+"/element/"+elementID+"/value",
		map[string]string{"text": text})
	return err
}

// Click clicks an element.
func (c *DriverClient) Click(ctx context.Context, sessionID, elementID string) error {
	_, err := c.do(ctx, http.MethodPost,
		"/session/"+sessionID+"/element/"+elementID+"/click",
		map[string]interface{}{})
	return err
}
