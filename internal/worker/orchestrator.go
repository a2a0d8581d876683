package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/browser"
	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/dupguard"
	"github.com/baseleldalil/Morsel-App-sub000/internal/messenger"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pacing"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/distlock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/render"
	"github.com/baseleldalil/Morsel-App-sub000/internal/report"
	"github.com/baseleldalil/Morsel-App-sub000/internal/workflow"
)

// =============================================================================
// CAMPAIGN ORCHESTRATOR - Control Plane For Live Executors
// =============================================================================
// The Orchestrator owns the campaign_id -> executor registry and the five
// control operations: start, pause, resume, stop and force-close. Status rows
// move here, synchronously, before the executor reacts, so an API caller that
// got an OK always observes the new status on the next read. Campaign starts
// are serialized across processes through a distributed lock, and every live
// executor maintains a Redis heartbeat the janitor checks before declaring a
// campaign dead.

const (
	heartbeatInterval = 15 * time.Second
	heartbeatTTL      = 45 * time.Second

	execKeyPrefix   = "morsel:exec:"
	startLockPrefix = "campaign:start:"

	validationSampleSize = 5
)

func execKey(campaignID string) string { return execKeyPrefix + campaignID }

// ErrNotLoggedIn is returned by a session lease when the messaging web app
// never reached its logged-in state inside the boot window.
var ErrNotLoggedIn = errors.New("browser session is not logged in")

// Sessions is the browser surface the orchestrator drives. The production
// implementation is BrowserSessions; tests substitute a fake.
type Sessions interface {
	// Lease hands out a ready-to-send messenger bound to the owner's
	// browser session, creating or recycling the session as needed.
	Lease(ctx context.Context, ownerID string, kind domain.BrowserKind) (messenger.Messenger, error)

	// Release tears the owner's session down gracefully.
	Release(ctx context.Context, ownerID string)

	// ForceClose kills the owner's session and driver outright, returning
	// how many processes went down.
	ForceClose(ctx context.Context, ownerID string) int

	// ForceCloseAll kills every session on the host.
	ForceCloseAll(ctx context.Context) int
}

// BrowserSessions adapts the browser manager to the Sessions contract. Lease
// is where the login gate lives: a session that never shows the logged-in
// marker is not handed to an executor.
type BrowserSessions struct {
	mgr *browser.Manager
	cfg config.BrowserConfig
}

func NewBrowserSessions(mgr *browser.Manager, cfg config.BrowserConfig) *BrowserSessions {
	return &BrowserSessions{mgr: mgr, cfg: cfg}
}

func (b *BrowserSessions) Lease(ctx context.Context, ownerID string, kind domain.BrowserKind) (messenger.Messenger, error) {
	s, err := b.mgr.Acquire(ctx, ownerID, kind)
	if err != nil {
		return nil, fmt.Errorf("acquire browser: %w", err)
	}
	ok, err := b.mgr.IsLoggedIn(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("login check: %w", err)
	}
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return messenger.NewWebMessenger(s, b.cfg), nil
}

func (b *BrowserSessions) Release(ctx context.Context, ownerID string) {
	b.mgr.Release(ctx, ownerID)
}

func (b *BrowserSessions) ForceClose(ctx context.Context, ownerID string) int {
	return b.mgr.ForceClose(ctx, ownerID)
}

func (b *BrowserSessions) ForceCloseAll(ctx context.Context) int {
	return b.mgr.ForceCloseAll(ctx)
}

// Pacer resolves the effective pacing settings for one campaign run. The
// production implementation is pacing.Engine.
type Pacer interface {
	Resolve(ctx context.Context, ownerID, planID string, mode domain.TimingMode, manualMin, manualMax int) pacing.Settings
}

// OrchestratorDeps carries everything an Orchestrator needs. Clock and Rand
// default to the real ones when nil.
type OrchestratorDeps struct {
	DB       *sql.DB
	Redis    *redis.Client
	Store    workflow.Store
	Guard    *dupguard.Service
	Pacer    Pacer
	Sessions Sessions
	Events   *Publisher
	Config   config.ExecutorConfig
	Clock    clock.Clock
	Rand     func() clock.Rand
}

// StartRequest is one start (or cold resume) command.
type StartRequest struct {
	CampaignID string
	OwnerID    string
	Kind       domain.BrowserKind
	Mode       domain.TimingMode
	ManualMin  int
	ManualMax  int
	PlanID     string
}

// StartOutcome classifies a start attempt.
type StartOutcome string

const (
	StartStarted        StartOutcome = "started"
	StartAlreadyRunning StartOutcome = "already_running"
	StartRejected       StartOutcome = "rejected"
	StartNotFound       StartOutcome = "not_found"
	StartFailed         StartOutcome = "failed"
)

// StartResult reports what a start attempt did. On rejection for template
// problems, ValidationErrors and VariablesFound explain which placeholders
// could not be satisfied.
type StartResult struct {
	Outcome          StartOutcome
	Reason           string
	ExecutorID       string
	Settings         *pacing.Settings
	PendingContacts  int
	VariablesFound   []string
	ValidationErrors []render.ValidationError
}

// ControlResult reports a pause/resume/stop.
type ControlResult struct {
	OK     bool
	Reason string
}

type handle struct {
	ownerID   string
	exec      *Executor
	startedAt time.Time

	mu            sync.Mutex
	stopRequested bool
}

func (h *handle) markStop() {
	h.mu.Lock()
	h.stopRequested = true
	h.mu.Unlock()
}

func (h *handle) stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopRequested
}

// Orchestrator is the process-local control plane.
type Orchestrator struct {
	deps OrchestratorDeps

	mu      sync.Mutex
	running map[string]*handle
	closed  bool

	wg sync.WaitGroup
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Rand == nil {
		deps.Rand = func() clock.Rand { return clock.NewRand() }
	}
	return &Orchestrator{
		deps:    deps,
		running: make(map[string]*handle),
	}
}

// Has reports whether this process is driving the campaign right now.
func (o *Orchestrator) Has(campaignID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[campaignID]
	return ok
}

// BreakState exposes executor break state to the reporter. Implements
// report.RuntimeSource.
func (o *Orchestrator) BreakState(campaignID string) (report.BreakState, bool) {
	o.mu.Lock()
	h, ok := o.running[campaignID]
	o.mu.Unlock()
	if !ok {
		return report.BreakState{}, false
	}
	return h.exec.breakState(), true
}

// LiveCount is the number of executors currently registered.
func (o *Orchestrator) LiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// Start launches an executor for a new, pending or paused campaign. Starting
// a paused campaign resumes it. Stopped and completed campaigns are rejected
// permanently; a running one reports already_running.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) StartResult {
	if req.Kind == "" {
		req.Kind = domain.BrowserChrome
	}
	if !req.Kind.Valid() {
		return StartResult{Outcome: StartRejected, Reason: fmt.Sprintf("unknown browser kind %q", req.Kind)}
	}
	if req.Mode == "" {
		req.Mode = domain.TimingAuto
	}

	// A live local handle settles it without touching the store.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return StartResult{Outcome: StartFailed, Reason: "orchestrator is shutting down"}
	}
	if h, ok := o.running[req.CampaignID]; ok {
		paused := h.exec.pause.IsClosed()
		o.mu.Unlock()
		if !paused {
			return StartResult{Outcome: StartAlreadyRunning, Reason: "campaign is already running"}
		}
		if res := o.reopen(ctx, req.CampaignID, h); !res.OK {
			return StartResult{Outcome: StartRejected, Reason: res.Reason}
		}
		return StartResult{Outcome: StartStarted, ExecutorID: h.exec.id}
	}
	o.mu.Unlock()

	// One starter per campaign across every process.
	lock := distlock.New(o.deps.Redis, o.deps.DB, startLockPrefix+req.CampaignID, o.deps.Config.StartLockTTL())
	got, err := lock.TryAcquire(ctx)
	if err != nil {
		return StartResult{Outcome: StartFailed, Reason: fmt.Sprintf("start lock: %v", err)}
	}
	if !got {
		return StartResult{Outcome: StartAlreadyRunning, Reason: "another start for this campaign is in flight"}
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Printf("[Orchestrator] start lock release for %s: %v", req.CampaignID, rerr)
		}
	}()

	cmp, err := o.deps.Store.LoadCampaign(ctx, req.CampaignID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return StartResult{Outcome: StartNotFound, Reason: "campaign not found"}
		}
		return StartResult{Outcome: StartFailed, Reason: fmt.Sprintf("load campaign: %v", err)}
	}
	if req.OwnerID != "" && cmp.OwnerID != req.OwnerID {
		return StartResult{Outcome: StartNotFound, Reason: "campaign not found"}
	}

	switch cmp.Status {
	case domain.CampaignRunning:
		return StartResult{Outcome: StartAlreadyRunning, Reason: "campaign is already running"}
	case domain.CampaignStopped:
		return StartResult{Outcome: StartRejected, Reason: "stopped campaigns cannot be restarted"}
	case domain.CampaignCompleted:
		return StartResult{Outcome: StartRejected, Reason: "campaign already completed"}
	}

	return o.launch(ctx, cmp, req, lock)
}

// launch is the shared cold path for Start and cold Resume. The caller holds
// the start lock and has already screened the status.
func (o *Orchestrator) launch(ctx context.Context, cmp *domain.Campaign, req StartRequest, lock distlock.Lock) StartResult {
	bodies := templateBodies(cmp)
	if len(bodies) == 0 {
		return StartResult{Outcome: StartRejected, Reason: "campaign has no message content"}
	}

	sample, err := o.sampleContacts(ctx, cmp.ID)
	if err != nil {
		return StartResult{Outcome: StartFailed, Reason: fmt.Sprintf("load contact sample: %v", err)}
	}

	vars := variablesAcross(bodies)
	if len(sample) > 0 {
		var verrs []render.ValidationError
		for _, body := range bodies {
			verrs = append(verrs, render.Validate(body, sample)...)
		}
		if len(verrs) > 0 {
			return StartResult{
				Outcome:          StartRejected,
				Reason:           "template validation failed",
				VariablesFound:   vars,
				ValidationErrors: verrs,
			}
		}
	}

	settings := o.deps.Pacer.Resolve(ctx, cmp.OwnerID, req.PlanID, req.Mode, req.ManualMin, req.ManualMax)

	// A cold driver boot plus the login probe can outlive the TTL the lock
	// was taken with; re-arm it so no second starter sneaks in mid-launch.
	if err := lock.Extend(ctx, o.deps.Config.StartLockTTL()); err != nil {
		log.Printf("[Orchestrator] start lock extend for %s: %v", cmp.ID, err)
	}

	send, err := o.deps.Sessions.Lease(ctx, cmp.OwnerID, req.Kind)
	if err != nil {
		if errors.Is(err, ErrNotLoggedIn) {
			return StartResult{Outcome: StartRejected, Reason: "browser session is not logged in"}
		}
		return StartResult{Outcome: StartFailed, Reason: fmt.Sprintf("browser session: %v", err)}
	}

	// Heartbeat goes up before the status flips so the janitor can never
	// observe a running campaign without one.
	execID := ""
	now := o.deps.Clock.Now()
	fields := workflow.Fields{}
	if cmp.StartedAt == nil {
		fields.StartedAt = &now
	}

	e := newExecutor(cmp, o.deps.Store, o.deps.Guard, o.deps.Events, settings,
		o.deps.Config, o.deps.Clock, o.deps.Rand(), send,
		o.reacquireFn(cmp.OwnerID, req.Kind))
	execID = e.id
	o.beat(ctx, cmp.ID, execID)

	err = o.deps.Store.UpdateCampaignStatus(ctx, cmp.ID,
		[]domain.CampaignStatus{domain.CampaignNew, domain.CampaignPending, domain.CampaignPaused},
		domain.CampaignRunning, fields)
	if err != nil {
		e.cancel()
		o.clearBeat(ctx, cmp.ID)
		o.releaseIfIdle(cmp.OwnerID)
		if errors.Is(err, workflow.ErrConflict) {
			return StartResult{Outcome: StartAlreadyRunning, Reason: "campaign is already running"}
		}
		return StartResult{Outcome: StartFailed, Reason: fmt.Sprintf("status transition: %v", err)}
	}

	if n, rerr := o.deps.Store.RecoverOrphans(ctx, cmp.ID); rerr != nil {
		log.Printf("[Orchestrator] orphan sweep for %s: %v", cmp.ID, rerr)
	} else if n > 0 {
		log.Printf("[Orchestrator] recovered %d interrupted entries for %s", n, cmp.ID)
	}

	h := &handle{ownerID: cmp.OwnerID, exec: e, startedAt: now}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		e.cancel()
		o.clearBeat(ctx, cmp.ID)
		return StartResult{Outcome: StartFailed, Reason: "orchestrator is shutting down"}
	}
	o.running[cmp.ID] = h
	o.mu.Unlock()

	o.wg.Add(2)
	go func() { defer o.wg.Done(); e.run() }()
	go func() { defer o.wg.Done(); o.watch(h, cmp.ID) }()

	o.deps.Events.Publish(Event{
		Type:       EventStatusChanged,
		CampaignID: cmp.ID,
		OwnerID:    cmp.OwnerID,
		Status:     string(domain.CampaignRunning),
	})
	log.Printf("[Orchestrator] campaign %s started by %s (owner=%s kind=%s mode=%s)",
		cmp.ID, execID, cmp.OwnerID, req.Kind, req.Mode)

	return StartResult{
		Outcome:         StartStarted,
		ExecutorID:      execID,
		Settings:        &settings,
		PendingContacts: cmp.Remaining(),
		VariablesFound:  vars,
	}
}

// Pause gates a running campaign between messages. progressOverride is a
// compatibility knob for callers that track progress client-side; it is
// applied only when positive.
func (o *Orchestrator) Pause(ctx context.Context, campaignID string, progressOverride int) ControlResult {
	now := o.deps.Clock.Now()
	fields := workflow.Fields{PausedAt: &now}
	if progressOverride > 0 {
		fields.CurrentProgress = &progressOverride
	}

	err := o.deps.Store.UpdateCampaignStatus(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignRunning},
		domain.CampaignPaused, fields)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return ControlResult{Reason: "campaign not found"}
		}
		if errors.Is(err, workflow.ErrConflict) {
			return ControlResult{Reason: o.conflictReason(ctx, campaignID, "pause")}
		}
		return ControlResult{Reason: fmt.Sprintf("status transition: %v", err)}
	}

	o.mu.Lock()
	h, ok := o.running[campaignID]
	o.mu.Unlock()
	var ownerID string
	if ok {
		h.exec.pause.Close()
		ownerID = h.ownerID
	}

	o.deps.Events.Publish(Event{
		Type:       EventStatusChanged,
		CampaignID: campaignID,
		OwnerID:    ownerID,
		Status:     string(domain.CampaignPaused),
	})
	log.Printf("[Orchestrator] campaign %s paused", campaignID)
	return ControlResult{OK: true}
}

// Resume reopens a paused campaign. With a live executor the gate simply
// opens; after a restart there is no executor left, so the campaign is
// relaunched the same way a start would, re-resolving pacing.
func (o *Orchestrator) Resume(ctx context.Context, campaignID, ownerID string, kind domain.BrowserKind) ControlResult {
	o.mu.Lock()
	h, ok := o.running[campaignID]
	o.mu.Unlock()

	if ok {
		if !h.exec.pause.IsClosed() {
			return ControlResult{Reason: "campaign is not paused"}
		}
		return o.reopen(ctx, campaignID, h)
	}

	// Cold resume. The executor died with the process; only the row is
	// paused. Confirm that before relaunching, so resume never doubles as a
	// start for campaigns that have not run yet.
	cmp, err := o.deps.Store.LoadCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return ControlResult{Reason: "campaign not found"}
		}
		return ControlResult{Reason: fmt.Sprintf("load campaign: %v", err)}
	}
	if ownerID != "" && cmp.OwnerID != ownerID {
		return ControlResult{Reason: "campaign not found"}
	}
	switch cmp.Status {
	case domain.CampaignPaused:
	case domain.CampaignStopped:
		return ControlResult{Reason: "stopped campaigns cannot be restarted"}
	case domain.CampaignCompleted:
		return ControlResult{Reason: "campaign already completed"}
	default:
		return ControlResult{Reason: "campaign is not paused"}
	}

	res := o.Start(ctx, StartRequest{
		CampaignID: campaignID,
		OwnerID:    ownerID,
		Kind:       kind,
		Mode:       domain.TimingAuto,
	})
	switch res.Outcome {
	case StartStarted:
		return ControlResult{OK: true}
	case StartNotFound:
		return ControlResult{Reason: "campaign not found"}
	case StartAlreadyRunning:
		return ControlResult{Reason: "campaign is not paused"}
	default:
		reason := res.Reason
		if reason == "" {
			reason = "campaign is not paused"
		}
		return ControlResult{Reason: reason}
	}
}

// reopen flips a paused live executor back to running: row first, gate after.
func (o *Orchestrator) reopen(ctx context.Context, campaignID string, h *handle) ControlResult {
	err := o.deps.Store.UpdateCampaignStatus(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignPaused},
		domain.CampaignRunning, workflow.Fields{})
	if err != nil {
		if errors.Is(err, workflow.ErrConflict) {
			return ControlResult{Reason: o.conflictReason(ctx, campaignID, "resume")}
		}
		if errors.Is(err, workflow.ErrNotFound) {
			return ControlResult{Reason: "campaign not found"}
		}
		return ControlResult{Reason: fmt.Sprintf("status transition: %v", err)}
	}

	h.exec.pause.Open()
	o.deps.Events.Publish(Event{
		Type:       EventStatusChanged,
		CampaignID: campaignID,
		OwnerID:    h.ownerID,
		Status:     string(domain.CampaignRunning),
	})
	log.Printf("[Orchestrator] campaign %s resumed", campaignID)
	return ControlResult{OK: true}
}

// Stop terminates a campaign for good. The row moves first; the executor is
// then cancelled and its handle reaped once the loop drains.
func (o *Orchestrator) Stop(ctx context.Context, campaignID string, progressOverride int) ControlResult {
	now := o.deps.Clock.Now()
	fields := workflow.Fields{StoppedAt: &now}
	if progressOverride > 0 {
		fields.CurrentProgress = &progressOverride
	}

	err := o.deps.Store.UpdateCampaignStatus(ctx, campaignID,
		[]domain.CampaignStatus{domain.CampaignRunning, domain.CampaignPaused, domain.CampaignNew, domain.CampaignPending},
		domain.CampaignStopped, fields)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return ControlResult{Reason: "campaign not found"}
		}
		if errors.Is(err, workflow.ErrConflict) {
			return ControlResult{Reason: o.conflictReason(ctx, campaignID, "stop")}
		}
		return ControlResult{Reason: fmt.Sprintf("status transition: %v", err)}
	}

	o.mu.Lock()
	h, ok := o.running[campaignID]
	o.mu.Unlock()
	var ownerID string
	if ok {
		ownerID = h.ownerID
		h.markStop()
		h.exec.pause.Open()
		h.exec.cancel()
	}

	o.deps.Events.Publish(Event{
		Type:       EventStatusChanged,
		CampaignID: campaignID,
		OwnerID:    ownerID,
		Status:     string(domain.CampaignStopped),
	})
	log.Printf("[Orchestrator] campaign %s stopped", campaignID)
	return ControlResult{OK: true}
}

// conflictReason turns a failed CAS into the already-x message callers show.
func (o *Orchestrator) conflictReason(ctx context.Context, campaignID, op string) string {
	cmp, err := o.deps.Store.LoadCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Sprintf("campaign is in a conflicting state, %s refused", op)
	}
	switch cmp.Status {
	case domain.CampaignStopped:
		return "campaign already stopped"
	case domain.CampaignCompleted:
		return "campaign already completed"
	case domain.CampaignPaused:
		if op == "pause" {
			return "campaign already paused"
		}
		return "campaign is paused"
	case domain.CampaignRunning:
		return "campaign is running"
	default:
		if op == "stop" {
			return "campaign is not active"
		}
		return fmt.Sprintf("campaign is not %s", map[string]string{"pause": "running", "resume": "paused"}[op])
	}
}

// ForceCloseOwner cancels the owner's executors and kills their browser.
func (o *Orchestrator) ForceCloseOwner(ctx context.Context, ownerID string) int {
	o.mu.Lock()
	var ids []string
	for id, h := range o.running {
		if h.ownerID == ownerID {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Stop(ctx, id, 0)
	}
	return o.deps.Sessions.ForceClose(ctx, ownerID)
}

// ForceCloseAll cancels every executor and kills every browser session on
// the host. Authenticated callers only; the HTTP layer enforces that.
func (o *Orchestrator) ForceCloseAll(ctx context.Context) int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Stop(ctx, id, 0)
	}
	return o.deps.Sessions.ForceCloseAll(ctx)
}

// Shutdown stops accepting work, cancels every executor and waits for the
// loops to drain, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	handles := make([]*handle, 0, len(o.running))
	for _, h := range o.running {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.exec.pause.Open()
		h.exec.cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executors still draining: %w", ctx.Err())
	}
}

// watch reaps one executor: wait for the loop to drain, keep the heartbeat
// warm meanwhile, then drop the handle and the owner's browser when no other
// campaign of theirs is live.
func (o *Orchestrator) watch(h *handle, campaignID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for alive := true; alive; {
		select {
		case <-h.exec.done:
			alive = false
		case <-ticker.C:
			o.beat(context.Background(), campaignID, h.exec.id)
		}
	}

	o.mu.Lock()
	delete(o.running, campaignID)
	idle := true
	for _, other := range o.running {
		if other.ownerID == h.ownerID {
			idle = false
			break
		}
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.clearBeat(ctx, campaignID)

	if !idle {
		return
	}
	if h.stopped() {
		killed := o.deps.Sessions.ForceClose(ctx, h.ownerID)
		log.Printf("[Orchestrator] owner %s browser force-closed after stop (%d processes)", h.ownerID, killed)
		return
	}
	o.deps.Sessions.Release(ctx, h.ownerID)
}

// releaseIfIdle tears the owner's browser down unless another live campaign
// of theirs still needs it.
func (o *Orchestrator) releaseIfIdle(ownerID string) {
	o.mu.Lock()
	for _, h := range o.running {
		if h.ownerID == ownerID {
			o.mu.Unlock()
			return
		}
	}
	o.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.deps.Sessions.Release(ctx, ownerID)
}

// beat refreshes the liveness key the janitor consults. Skipped when Redis
// is not wired; the janitor then trusts the local registry alone.
func (o *Orchestrator) beat(ctx context.Context, campaignID, execID string) {
	if o.deps.Redis == nil {
		return
	}
	if err := o.deps.Redis.Set(ctx, execKey(campaignID), execID, heartbeatTTL).Err(); err != nil {
		log.Printf("[Orchestrator] heartbeat for %s: %v", campaignID, err)
	}
}

func (o *Orchestrator) clearBeat(ctx context.Context, campaignID string) {
	if o.deps.Redis == nil {
		return
	}
	if err := o.deps.Redis.Del(ctx, execKey(campaignID)).Err(); err != nil {
		log.Printf("[Orchestrator] heartbeat clear for %s: %v", campaignID, err)
	}
}

// reacquireFn gives the executor one shot at replacing a lost session.
func (o *Orchestrator) reacquireFn(ownerID string, kind domain.BrowserKind) func(context.Context) (messenger.Messenger, error) {
	return func(ctx context.Context) (messenger.Messenger, error) {
		o.deps.Sessions.ForceClose(ctx, ownerID)
		return o.deps.Sessions.Lease(ctx, ownerID, kind)
	}
}

// sampleContacts loads up to validationSampleSize contacts off the head of
// the pending queue for template validation.
func (o *Orchestrator) sampleContacts(ctx context.Context, campaignID string) ([]*domain.Contact, error) {
	entries, err := o.deps.Store.NextPendingBatch(ctx, campaignID, validationSampleSize)
	if err != nil {
		return nil, err
	}
	contacts := make([]*domain.Contact, 0, len(entries))
	for _, e := range entries {
		c, cerr := o.deps.Store.ContactByID(ctx, e.ContactID)
		if cerr != nil {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func templateBodies(cmp *domain.Campaign) []string {
	var bodies []string
	for _, b := range []string{cmp.MessageContent, cmp.MaleContent, cmp.FemaleContent} {
		if b != "" {
			bodies = append(bodies, b)
		}
	}
	return bodies
}

func variablesAcross(bodies []string) []string {
	seen := map[string]bool{}
	for _, b := range bodies {
		for _, v := range render.Variables(b) {
			seen[v] = true
		}
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}
