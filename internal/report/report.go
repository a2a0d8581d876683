// Package report is the read side of campaign execution: it assembles
// progress snapshots on demand. A snapshot is built inside one read-only
// transaction so its counters and status breakdown describe the same
// instant, then merged with the live break state the executor holds in
// memory.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
)

// BreakState is the slice of executor state that only exists while a
// campaign is running: whether it is pausing between bursts and how far
// along the current burst is.
type BreakState struct {
	IsOnBreak              bool       `json:"is_on_break"`
	BreakEndsAt            *time.Time `json:"break_ends_at,omitempty"`
	MessagesSinceLastBreak int        `json:"messages_since_last_break"`
	NextBreakAfterMessages int        `json:"next_break_after_messages"`
}

// RuntimeSource exposes live executor state the store does not hold.
// The orchestrator implements it; the second return is false when no
// executor is registered for the campaign.
type RuntimeSource interface {
	BreakState(campaignID string) (BreakState, bool)
}

// Progress is the snapshot returned to API clients.
type Progress struct {
	CampaignID string                `json:"campaign_id"`
	Status     domain.CampaignStatus `json:"status"`

	Total       int     `json:"total"`
	Processed   int     `json:"processed"`
	Sent        int     `json:"sent"`
	Delivered   int     `json:"delivered"`
	Failed      int     `json:"failed"`
	Percent     float64 `json:"progress_percent"`
	SuccessRate float64 `json:"success_rate"`

	StartedAt           *time.Time `json:"started_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`

	LastError  string `json:"last_error,omitempty"`
	ErrorCount int    `json:"error_count"`

	Breakdown map[string]int `json:"workflow_status_breakdown"`
	Break     BreakState     `json:"break"`
}

// Reporter computes progress snapshots. Safe for concurrent use.
type Reporter struct {
	db      *sql.DB
	runtime RuntimeSource
	clk     clock.Clock
}

// New creates a Reporter. runtime may be nil, in which case break state is
// always zero. clk may be nil, in which case the wall clock is used.
func New(db *sql.DB, runtime RuntimeSource, clk clock.Clock) *Reporter {
	if clk == nil {
		clk = clock.New()
	}
	return &Reporter{db: db, runtime: runtime, clk: clk}
}

// Snapshot assembles the progress view for one campaign. Returns ErrNotFound
// if the campaign does not exist.
func (r *Reporter) Snapshot(ctx context.Context, campaignID string) (*Progress, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	p := &Progress{CampaignID: campaignID, Breakdown: make(map[string]int)}

	err = tx.QueryRowContext(ctx, `
		SELECT status, total_contacts, messages_sent, messages_delivered, messages_failed,
		       COALESCE(last_error, ''), error_count, started_at, updated_at
		FROM morsel_campaigns WHERE id = $1`,
		campaignID,
	).Scan(&p.Status, &p.Total, &p.Sent, &p.Delivered, &p.Failed,
		&p.LastError, &p.ErrorCount, &p.StartedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign counters: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM morsel_workflow_entries WHERE campaign_id = $1 GROUP BY status`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("load status breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan breakdown row: %w", err)
		}
		p.Breakdown[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breakdown: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}

	r.derive(p)

	if r.runtime != nil {
		if bs, ok := r.runtime.BreakState(campaignID); ok {
			p.Break = bs
		}
	}
	return p, nil
}

// derive fills the computed fields. Counters can be momentarily skewed while
// a finalize transaction lands, so everything is clamped: processed never
// exceeds total and rates stay inside [0,100].
func (r *Reporter) derive(p *Progress) {
	p.Processed = p.Sent + p.Failed
	if p.Processed > p.Total {
		p.Processed = p.Total
	}
	if p.Processed < 0 {
		p.Processed = 0
	}

	if p.Total > 0 {
		p.Percent = round2(float64(p.Processed) / float64(p.Total) * 100)
	}
	if p.Processed > 0 {
		p.SuccessRate = round2(float64(p.Sent) / float64(p.Processed) * 100)
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	if p.SuccessRate > 100 {
		p.SuccessRate = 100
	}

	if p.Status == domain.CampaignRunning && p.Processed > 0 && p.StartedAt != nil {
		now := r.clk.Now()
		elapsed := now.Sub(*p.StartedAt)
		if elapsed > 0 {
			remaining := p.Total - p.Processed
			avg := elapsed / time.Duration(p.Processed)
			eta := now.Add(avg * time.Duration(remaining))
			p.EstimatedCompletion = &eta
		}
	}
}

// Summary returns the workflow status breakdown alone, for the summary
// endpoint. Returns ErrNotFound if the campaign does not exist.
func (r *Reporter) Summary(ctx context.Context, campaignID string) (map[string]int, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM morsel_campaigns WHERE id = $1)`, campaignID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM morsel_workflow_entries WHERE campaign_id = $1 GROUP BY status`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("load status breakdown: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan breakdown row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
