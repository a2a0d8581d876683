package browser

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// driverProcessNames are the binaries tier-three teardown sweeps for,
// per browser kind. Order matters: drivers first, then the browsers they
// spawned.
var driverProcessNames = map[domain.BrowserKind][]string{
	domain.BrowserChrome:  {"chromedriver", "chrome", "chromium"},
	domain.BrowserFirefox: {"geckodriver", "firefox"},
}

// spawnDriver starts the driver binary listening on port. The caller owns
// the returned process handle and must reap it.
func spawnDriver(kind domain.BrowserKind, binary string, port int) (*exec.Cmd, error) {
	if binary == "" {
		return nil, fmt.Errorf("browser: no driver binary configured for %s", kind)
	}

	var cmd *exec.Cmd
	switch kind {
	case domain.BrowserFirefox:
		cmd = exec.Command(binary, "--port", strconv.Itoa(port))
	default:
		cmd = exec.Command(binary, "--port="+strconv.Itoa(port))
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start %s: %w", binary, err)
	}
	log.Printf("[BrowserManager] spawned %s driver pid=%d port=%d", kind, cmd.Process.Pid, port)
	return cmd, nil
}

// freePort scans upward from base for a bindable TCP port.
func freePort(base, attempts int) (int, error) {
	for p := base; p < base+attempts; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			continue
		}
		ln.Close()
		return p, nil
	}
	return 0, fmt.Errorf("browser: no free port in [%d,%d)", base, base+attempts)
}

// countMatching counts processes whose command line matches pattern.
// Best effort: zero on any tooling failure.
func countMatching(ctx context.Context, pattern string) int {
	if runtime.GOOS == "windows" {
		out, err := exec.CommandContext(ctx, "tasklist", "/FO", "CSV", "/NH",
			"/FI", "IMAGENAME eq "+pattern+".exe").Output()
		if err != nil {
			return 0
		}
		n := 0
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, pattern) {
				n++
			}
		}
		return n
	}

	out, err := exec.CommandContext(ctx, "pgrep", "-f", "-c", pattern).Output()
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(string(out)))
	return n
}

// killMatching terminates every process whose command line matches pattern
// and reports how many it took down. Never returns an error: teardown keeps
// going regardless.
func killMatching(ctx context.Context, pattern string) int {
	n := countMatching(ctx, pattern)
	if n == 0 {
		return 0
	}

	var err error
	if runtime.GOOS == "windows" {
		err = exec.CommandContext(ctx, "taskkill", "/F", "/IM", pattern+".exe").Run()
	} else {
		err = exec.CommandContext(ctx, "pkill", "-9", "-f", pattern).Run()
	}
	if err != nil {
		log.Printf("[BrowserManager] kill %q: %v", pattern, err)
	}
	return n
}

// reapProcess force-kills one spawned driver and waits briefly so it does
// not linger as a zombie.
func reapProcess(cmd *exec.Cmd, wait time.Duration) bool {
	if cmd == nil || cmd.Process == nil {
		return false
	}
	_ = cmd.Process.Kill()

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
	}
	return true
}
