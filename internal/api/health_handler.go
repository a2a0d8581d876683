package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/httputil"
)

const serverVersion = "1.0.0"

// HealthStatus is the full health report.
type HealthStatus struct {
	Status  string                    `json:"status"` // healthy, degraded, unhealthy
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is one dependency's probe result.
type ComponentCheck struct {
	Status  string `json:"status"` // up, degraded, down, not_configured
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// ArchivePinger is the slice of the media archive the health checker needs.
type ArchivePinger interface {
	Ping(ctx context.Context) error
}

// ExecutorCounter reports how many campaign executors are live. Satisfied by
// *worker.Orchestrator.
type ExecutorCounter interface {
	LiveCount() int
}

// HealthChecker probes the server's dependencies: Postgres, Redis (when
// enabled), the attachment archive, and the executor pool.
type HealthChecker struct {
	db        *sql.DB
	redis     *redis.Client
	archive   ArchivePinger
	executors ExecutorCounter
	startTime time.Time
}

// NewHealthChecker wires the probes. redis and archive may be nil; their
// checks then report not_configured instead of failing.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, archive ArchivePinger, executors ExecutorCounter) *HealthChecker {
	return &HealthChecker{
		db:        db,
		redis:     rdb,
		archive:   archive,
		executors: executors,
		startTime: time.Now(),
	}
}

// HandleHealth reports full component status. Always 200: the body says how
// healthy the server is, monitors read status from it rather than the code.
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := hc.runAllChecks(r.Context())
	httputil.OK(w, status)
}

// HandleLiveness answers 200 as long as the process serves requests.
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive"})
}

// HandleReadiness answers 503 while the server cannot do useful work, which
// keeps load balancers from routing to it.
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status := hc.runAllChecks(r.Context())
	if status.Status == "unhealthy" {
		httputil.JSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httputil.OK(w, status)
}

// HandleDBStats reports connection pool numbers plus a couple of live
// Postgres figures, for debugging pool exhaustion.
func (hc *HealthChecker) HandleDBStats(w http.ResponseWriter, r *http.Request) {
	if hc.db == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	stats := hc.db.Stats()

	var pgVersion string
	var activeConns int
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	_ = hc.db.QueryRowContext(ctx, "SELECT version()").Scan(&pgVersion)
	_ = hc.db.QueryRowContext(ctx,
		"SELECT count(*) FROM pg_stat_activity WHERE state = 'active'").Scan(&activeConns)

	httputil.OK(w, map[string]any{
		"pool": map[string]any{
			"open_connections":    stats.OpenConnections,
			"in_use":              stats.InUse,
			"idle":                stats.Idle,
			"wait_count":          stats.WaitCount,
			"wait_duration_ms":    stats.WaitDuration.Milliseconds(),
			"max_open":            stats.MaxOpenConnections,
			"max_idle_closed":     stats.MaxIdleClosed,
			"max_lifetime_closed": stats.MaxLifetimeClosed,
		},
		"postgres_version":   pgVersion,
		"active_connections": activeConns,
	})
}

type namedCheck struct {
	name  string
	check ComponentCheck
}

// runAllChecks probes every dependency concurrently and folds the results
// into an overall status.
func (hc *HealthChecker) runAllChecks(ctx context.Context) HealthStatus {
	results := make(chan namedCheck, 4)

	go func() { results <- namedCheck{"database", hc.checkDatabase(ctx)} }()
	go func() { results <- namedCheck{"redis", hc.checkRedis(ctx)} }()
	go func() { results <- namedCheck{"archive", hc.checkArchive(ctx)} }()
	go func() { results <- namedCheck{"executors", hc.checkExecutors()} }()

	checks := make(map[string]ComponentCheck, 4)
	for i := 0; i < 4; i++ {
		r := <-results
		checks[r.name] = r.check
	}

	return HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: serverVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: err.Error()}
	}
	if latency > time.Second {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: "slow ping"}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: "not_configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redis.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: err.Error()}
	}
	if latency > 500*time.Millisecond {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: "slow ping"}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

func (hc *HealthChecker) checkArchive(ctx context.Context) ComponentCheck {
	if hc.archive == nil {
		return ComponentCheck{Status: "not_configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.archive.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

// checkExecutors reports the live executor count. Every executor holds a
// browser, so a large pool signals resource pressure before the host does.
func (hc *HealthChecker) checkExecutors() ComponentCheck {
	if hc.executors == nil {
		return ComponentCheck{Status: "not_configured"}
	}

	n := hc.executors.LiveCount()
	check := ComponentCheck{
		Status:  "up",
		Message: fmt.Sprintf("%d live campaign executors", n),
	}
	if n > 25 {
		check.Status = "degraded"
	}
	return check
}

// determineOverallStatus folds component checks into one verdict. The
// database is essential; redis and the archive only degrade service.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "down" || c.Status == "degraded" {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime renders a duration as "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
