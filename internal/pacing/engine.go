// Package pacing decides how long the executor waits between messages and
// when it takes a long break. Policy resolution is tiered: per-owner
// advanced settings beat per-plan rules beat the global default row beats
// the hardcoded fallback. Settings lookups go local cache → Redis →
// Postgres → defaults and degrade tier by tier; pacing never fails.
package pacing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/logger"
)

const keySettingsCache = "pacing:settings:%s"

// ManualMinFloor is the lowest min-delay manual mode accepts, in seconds.
const ManualMinFloor = 20

// Default manual bounds applied when Start supplies none.
const (
	DefaultManualMin = 30
	DefaultManualMax = 60
)

// Engine resolves pacing policy and draws delay/break decisions from it.
type Engine struct {
	db  *sql.DB
	rdb *redis.Client // nil when Redis is disabled
	cfg config.PacingConfig
	clk clock.Clock

	mu    sync.RWMutex
	cache map[string]cachedSettings
}

// cachedSettings is one local-cache slot. found=false caches the absence of
// an owner row so hot paths skip Redis and Postgres for owners without
// overrides.
type cachedSettings struct {
	settings domain.PacingSettings
	found    bool
	fetched  time.Time
}

// NewEngine wires the pacing engine. rdb may be nil; the Redis tier is then
// skipped entirely.
func NewEngine(db *sql.DB, rdb *redis.Client, cfg config.PacingConfig, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		db:    db,
		rdb:   rdb,
		cfg:   cfg,
		clk:   clk,
		cache: make(map[string]cachedSettings),
	}
}

// Resolve produces the effective settings for one campaign run. planID may
// be empty (no subscription plan known); manual bounds are only consulted in
// manual mode and are clamped to the 20s floor, defaulting to 30/60 when
// unset. Resolve never fails: every lookup error falls through to the next
// tier with a warning.
func (e *Engine) Resolve(ctx context.Context, ownerID, planID string, mode domain.TimingMode, manualMin, manualMax int) Settings {
	s := e.resolveAuto(ctx, ownerID, planID)

	if mode == domain.TimingManual {
		min, max := manualMin, manualMax
		if min <= 0 {
			min = DefaultManualMin
		}
		if max <= 0 {
			max = DefaultManualMax
		}
		if min < ManualMinFloor {
			min = ManualMinFloor
		}
		if max < min {
			max = min
		}
		s.Source = SourceManual
		s.MinDelaySeconds = min
		s.MaxDelaySeconds = max
	}
	return s
}

func (e *Engine) resolveAuto(ctx context.Context, ownerID, planID string) Settings {
	if ps, ok := e.ownerSettings(ctx, ownerID); ok {
		return Settings{
			Source:                  SourceUser,
			MinDelaySeconds:         ps.MinDelaySeconds,
			MaxDelaySeconds:         ps.MaxDelaySeconds,
			StrongRandomization:     true,
			EnableBreaks:            ps.EnableBreaks,
			MinMessagesBreak:        ps.MinMessagesBreak,
			MaxMessagesBreak:        ps.MaxMessagesBreak,
			MinBreakMinutes:         ps.MinBreakMinutes,
			MaxBreakMinutes:         ps.MaxBreakMinutes,
			UseDecimalRandomization: ps.UseDecimalRandomization,
			DecimalPrecision:        ps.DecimalPrecision,
		}
	}

	if planID != "" {
		if r, ok := e.lookupRule(ctx, planID); ok {
			return ruleSettings(SourcePlan, r)
		}
	}
	if r, ok := e.lookupRule(ctx, ""); ok {
		return ruleSettings(SourceGlobal, r)
	}
	return e.Fallback()
}

// Fallback is the hardcoded last tier, from config (which itself defaults to
// 1-3s delays, breaks of 5-15 minutes every 8-15 messages).
func (e *Engine) Fallback() Settings {
	return Settings{
		Source:              SourceFallback,
		MinDelaySeconds:     e.cfg.FallbackMinDelaySecs,
		MaxDelaySeconds:     e.cfg.FallbackMaxDelaySecs,
		StrongRandomization: true,
		EnableBreaks:        true,
		MinMessagesBreak:    e.cfg.FallbackMinMessages,
		MaxMessagesBreak:    e.cfg.FallbackMaxMessages,
		MinBreakMinutes:     e.cfg.FallbackMinBreakMins,
		MaxBreakMinutes:     e.cfg.FallbackMaxBreakMins,
	}
}

func ruleSettings(source string, r *domain.PacingRule) Settings {
	return Settings{
		Source:              source,
		MinDelaySeconds:     r.MinDelaySeconds,
		MaxDelaySeconds:     r.MaxDelaySeconds,
		StrongRandomization: true,
		EnableBreaks:        r.EnableBreaks,
		MinMessagesBreak:    r.MinMessagesBreak,
		MaxMessagesBreak:    r.MaxMessagesBreak,
		MinBreakMinutes:     r.MinBreakMinutes,
		MaxBreakMinutes:     r.MaxBreakMinutes,
	}
}

// ownerSettings runs the tiered per-owner lookup: local cache, Redis,
// Postgres. The boolean reports whether the owner has an override row.
func (e *Engine) ownerSettings(ctx context.Context, ownerID string) (domain.PacingSettings, bool) {
	e.mu.RLock()
	if c, ok := e.cache[ownerID]; ok && e.clk.Now().Sub(c.fetched) < e.cfg.LocalCacheTTL() {
		e.mu.RUnlock()
		return c.settings, c.found
	}
	e.mu.RUnlock()

	if e.rdb != nil {
		key := fmt.Sprintf(keySettingsCache, ownerID)
		data, err := e.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var ps domain.PacingSettings
			if json.Unmarshal(data, &ps) == nil {
				e.storeLocal(ownerID, ps, true)
				return ps, true
			}
		} else if err != redis.Nil {
			logger.Warn("pacing settings redis lookup failed", "owner_id", ownerID, "error", err.Error())
		}
	}

	ps, err := e.querySettings(ctx, ownerID)
	if err == sql.ErrNoRows {
		e.storeLocal(ownerID, domain.PacingSettings{}, false)
		return domain.PacingSettings{}, false
	}
	if err != nil {
		logger.Warn("pacing settings db lookup failed", "owner_id", ownerID, "error", err.Error())
		return domain.PacingSettings{}, false
	}

	e.storeLocal(ownerID, ps, true)
	if e.rdb != nil {
		if data, err := json.Marshal(&ps); err == nil {
			e.rdb.Set(ctx, fmt.Sprintf(keySettingsCache, ownerID), data, e.cfg.RedisCacheTTL())
		}
	}
	return ps, true
}

func (e *Engine) storeLocal(ownerID string, ps domain.PacingSettings, found bool) {
	e.mu.Lock()
	e.cache[ownerID] = cachedSettings{settings: ps, found: found, fetched: e.clk.Now()}
	e.mu.Unlock()
}

func (e *Engine) querySettings(ctx context.Context, ownerID string) (domain.PacingSettings, error) {
	var ps domain.PacingSettings
	err := e.db.QueryRowContext(ctx, `
		SELECT owner_id, min_delay_seconds, max_delay_seconds, enable_breaks,
		       min_messages_before_break, max_messages_before_break,
		       min_break_minutes, max_break_minutes,
		       use_decimal_randomization, decimal_precision, updated_at
		FROM morsel_pacing_settings
		WHERE owner_id = $1
	`, ownerID).Scan(
		&ps.OwnerID,
		&ps.MinDelaySeconds,
		&ps.MaxDelaySeconds,
		&ps.EnableBreaks,
		&ps.MinMessagesBreak,
		&ps.MaxMessagesBreak,
		&ps.MinBreakMinutes,
		&ps.MaxBreakMinutes,
		&ps.UseDecimalRandomization,
		&ps.DecimalPrecision,
		&ps.UpdatedAt,
	)
	return ps, err
}

// lookupRule returns the highest-priority rule for a plan, or the global
// default row when planID is empty.
func (e *Engine) lookupRule(ctx context.Context, planID string) (*domain.PacingRule, bool) {
	where := `plan_id = $1`
	args := []interface{}{planID}
	if planID == "" {
		where = `(plan_id IS NULL OR plan_id = '')`
		args = nil
	}

	var r domain.PacingRule
	var plan sql.NullString
	query := fmt.Sprintf(`
		SELECT id, plan_id, min_delay_seconds, max_delay_seconds, enable_breaks,
		       min_messages_before_break, max_messages_before_break,
		       min_break_minutes, max_break_minutes, priority
		FROM morsel_pacing_rules
		WHERE %s
		ORDER BY priority DESC
		LIMIT 1
	`, where)

	var err error
	if args == nil {
		err = e.db.QueryRowContext(ctx, query).Scan(
			&r.ID, &plan, &r.MinDelaySeconds, &r.MaxDelaySeconds, &r.EnableBreaks,
			&r.MinMessagesBreak, &r.MaxMessagesBreak,
			&r.MinBreakMinutes, &r.MaxBreakMinutes, &r.Priority,
		)
	} else {
		err = e.db.QueryRowContext(ctx, query, args...).Scan(
			&r.ID, &plan, &r.MinDelaySeconds, &r.MaxDelaySeconds, &r.EnableBreaks,
			&r.MinMessagesBreak, &r.MaxMessagesBreak,
			&r.MinBreakMinutes, &r.MaxBreakMinutes, &r.Priority,
		)
	}
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		logger.Warn("pacing rule lookup failed", "plan_id", planID, "error", err.Error())
		return nil, false
	}
	r.PlanID = plan.String
	return &r, true
}

// OwnerSettings exposes the stored per-owner row for the settings API.
// The boolean reports whether the owner has saved overrides.
func (e *Engine) OwnerSettings(ctx context.Context, ownerID string) (domain.PacingSettings, bool) {
	return e.ownerSettings(ctx, ownerID)
}

// SaveSettings validates and upserts per-owner overrides, then invalidates
// both cache tiers so the next Resolve sees them.
func (e *Engine) SaveSettings(ctx context.Context, ps domain.PacingSettings) error {
	if err := ValidateSettings(&ps); err != nil {
		return err
	}

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO morsel_pacing_settings (
			owner_id, min_delay_seconds, max_delay_seconds, enable_breaks,
			min_messages_before_break, max_messages_before_break,
			min_break_minutes, max_break_minutes,
			use_decimal_randomization, decimal_precision, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			min_delay_seconds = $2,
			max_delay_seconds = $3,
			enable_breaks = $4,
			min_messages_before_break = $5,
			max_messages_before_break = $6,
			min_break_minutes = $7,
			max_break_minutes = $8,
			use_decimal_randomization = $9,
			decimal_precision = $10,
			updated_at = NOW()
	`, ps.OwnerID, ps.MinDelaySeconds, ps.MaxDelaySeconds, ps.EnableBreaks,
		ps.MinMessagesBreak, ps.MaxMessagesBreak,
		ps.MinBreakMinutes, ps.MaxBreakMinutes,
		ps.UseDecimalRandomization, ps.DecimalPrecision)
	if err != nil {
		return fmt.Errorf("save pacing settings: %w", err)
	}

	if e.rdb != nil {
		e.rdb.Del(ctx, fmt.Sprintf(keySettingsCache, ps.OwnerID))
	}
	e.mu.Lock()
	delete(e.cache, ps.OwnerID)
	e.mu.Unlock()
	return nil
}

// ValidateSettings rejects override rows that could stall or flood a run.
func ValidateSettings(ps *domain.PacingSettings) error {
	if ps.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if ps.MinDelaySeconds < 1 {
		return fmt.Errorf("min_delay_seconds must be at least 1")
	}
	if ps.MaxDelaySeconds < ps.MinDelaySeconds {
		return fmt.Errorf("max_delay_seconds must be >= min_delay_seconds")
	}
	if ps.EnableBreaks {
		if ps.MinMessagesBreak < 1 {
			return fmt.Errorf("min_messages_before_break must be at least 1")
		}
		if ps.MaxMessagesBreak < ps.MinMessagesBreak {
			return fmt.Errorf("max_messages_before_break must be >= min_messages_before_break")
		}
		if ps.MinBreakMinutes < 0 {
			return fmt.Errorf("min_break_minutes must not be negative")
		}
		if ps.MaxBreakMinutes < ps.MinBreakMinutes {
			return fmt.Errorf("max_break_minutes must be >= min_break_minutes")
		}
	}
	if ps.DecimalPrecision < 0 || ps.DecimalPrecision > 3 {
		return fmt.Errorf("decimal_precision must be between 0 and 3")
	}
	return nil
}
