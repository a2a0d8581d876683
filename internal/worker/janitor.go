package worker

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/logger"
	"github.com/baseleldalil/Morsel-App-sub000/internal/workflow"
)

// =============================================================================
// JANITOR - Dead Executor Sweep
// =============================================================================
// A campaign row saying "running" is a promise that some executor is driving
// it. A process crash breaks that promise: the row stays running forever and
// its Processing entries hang. The janitor sweeps once at boot and then on an
// interval, and every running campaign with neither a local handle nor a live
// heartbeat is moved to stopped ("interrupted") with its orphans failed, so
// the owner can see what happened and start a fresh campaign.

// Janitor periodically reconciles campaign rows against live executors.
type Janitor struct {
	db     *sql.DB
	rdb    *redis.Client
	store  workflow.Store
	orch   *Orchestrator
	events *Publisher
	clk    clock.Clock

	interval time.Duration
}

func NewJanitor(db *sql.DB, rdb *redis.Client, store workflow.Store, orch *Orchestrator,
	events *Publisher, cfg config.ExecutorConfig, clk clock.Clock) *Janitor {
	if clk == nil {
		clk = clock.New()
	}
	interval := cfg.JanitorInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		db:       db,
		rdb:      rdb,
		store:    store,
		orch:     orch,
		events:   events,
		clk:      clk,
		interval: interval,
	}
}

// Start blocks, sweeping immediately and then on every tick until ctx ends.
func (j *Janitor) Start(ctx context.Context) {
	log.Printf("[Janitor] started (interval=%s)", j.interval)
	if n, err := j.Sweep(ctx); err != nil {
		logger.Error("boot sweep failed", "error", err)
	} else if n > 0 {
		log.Printf("[Janitor] boot sweep stopped %d interrupted campaigns", n)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Janitor] stopped")
			return
		case <-ticker.C:
			if n, err := j.Sweep(ctx); err != nil {
				logger.Error("sweep failed", "error", err)
			} else if n > 0 {
				log.Printf("[Janitor] stopped %d interrupted campaigns", n)
			}
		}
	}
}

// Sweep stops every running campaign that has no executor behind it and
// returns how many it reconciled.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, owner_id FROM morsel_campaigns WHERE status = $1`,
		string(domain.CampaignRunning))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type runningRow struct{ id, ownerID string }
	var candidates []runningRow
	for rows.Next() {
		var r runningRow
		if err := rows.Scan(&r.id, &r.ownerID); err != nil {
			return 0, err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, c := range candidates {
		if j.alive(ctx, c.id) {
			continue
		}
		if j.reconcile(ctx, c.id, c.ownerID) {
			swept++
		}
	}
	return swept, nil
}

// alive reports whether some executor, local or remote, is driving the
// campaign. A heartbeat probe error counts as alive: when liveness cannot be
// established the janitor leaves the row alone until the next pass.
func (j *Janitor) alive(ctx context.Context, campaignID string) bool {
	if j.orch != nil && j.orch.Has(campaignID) {
		return true
	}
	if j.rdb == nil {
		return false
	}
	n, err := j.rdb.Exists(ctx, execKey(campaignID)).Result()
	if err != nil {
		logger.Warn("heartbeat probe failed, skipping campaign", "campaign_id", campaignID, "error", err)
		return true
	}
	return n > 0
}

// reconcile moves one dead campaign to stopped and fails its orphans. A CAS
// conflict means someone else already moved it, which is success here.
func (j *Janitor) reconcile(ctx context.Context, campaignID, ownerID string) bool {
	now := j.clk.Now()
	reason := "interrupted"
	err := j.store.UpdateCampaignStatus(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignRunning},
		domain.CampaignStopped,
		workflow.Fields{StoppedAt: &now, LastError: &reason})
	switch {
	case err == nil:
	case errors.Is(err, workflow.ErrConflict):
		return false
	default:
		logger.Error("interrupted campaign transition failed", "campaign_id", campaignID, "error", err)
		return false
	}

	if n, oerr := j.store.RecoverOrphans(ctx, campaignID); oerr != nil {
		logger.Error("orphan recovery failed", "campaign_id", campaignID, "error", oerr)
	} else if n > 0 {
		log.Printf("[Janitor] campaign %s: failed %d orphaned entries", campaignID, n)
	}

	j.events.Publish(Event{
		Type:       EventStatusChanged,
		CampaignID: campaignID,
		OwnerID:    ownerID,
		Status:     string(domain.CampaignStopped),
	})
	log.Printf("[Janitor] campaign %s had no live executor, stopped as interrupted", campaignID)
	return true
}
