package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/dupguard"
	"github.com/baseleldalil/Morsel-App-sub000/internal/messenger"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pacing"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/render"
	"github.com/baseleldalil/Morsel-App-sub000/internal/report"
	"github.com/baseleldalil/Morsel-App-sub000/internal/workflow"
)

// =============================================================================
// CAMPAIGN EXECUTOR - One Supervised Send Loop Per Live Campaign
// =============================================================================
// An Executor drains one campaign's workflow entries in added_at order:
// claim -> render -> send -> finalize, with a pacing delay between messages
// and randomized long breaks between bursts. It runs on a single goroutine;
// the orchestrator owns its lifecycle through the cancel context and the
// pause gate. Every sleep re-checks those signals at sub-second granularity.

// gate is the pause latch. Wait returns a channel that is closed while the
// gate is open; Close blocks waiters until Open.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

func (g *gate) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

func (g *gate) IsClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		return false
	default:
		return true
	}
}

// waitSignal says what ended an interruptible sleep.
type waitSignal int

const (
	waitElapsed waitSignal = iota
	waitCancelled
	waitPaused
)

// stepResult says how one entry went, for loop control.
type stepResult int

const (
	stepSent        stepResult = iota // messenger was driven; pace before the next one
	stepSkipped                       // no messenger contact (claim lost, duplicate); move on
	stepStoreDown                     // store failed twice; the campaign must stop
	stepSessionDead                   // session lost beyond re-acquire; the campaign must stop
)

// Executor drives one campaign. Construct through the Orchestrator.
type Executor struct {
	id  string
	cmp *domain.Campaign

	store    workflow.Store
	guard    *dupguard.Service
	events   *Publisher
	settings pacing.Settings
	cfg      config.ExecutorConfig
	clk      clock.Clock
	rng      clock.Rand

	ctx    context.Context
	cancel context.CancelFunc
	pause  *gate
	done   chan struct{}

	mu         sync.Mutex
	send       messenger.Messenger
	reacquire  func(context.Context) (messenger.Messenger, error)
	reacquired bool
	onBreak    bool
	breakEnds  time.Time
	sinceBreak int
	nextBreak  int
	completed  bool

	sent    int64
	failed  int64
	skipped int64
	breaks  int64
}

func newExecutor(cmp *domain.Campaign, store workflow.Store, guard *dupguard.Service,
	events *Publisher, settings pacing.Settings, cfg config.ExecutorConfig,
	clk clock.Clock, rng clock.Rand, send messenger.Messenger,
	reacquire func(context.Context) (messenger.Messenger, error)) *Executor {

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		id:        fmt.Sprintf("exec-%s", uuid.New().String()[:8]),
		cmp:       cmp,
		store:     store,
		guard:     guard,
		events:    events,
		settings:  settings,
		cfg:       cfg,
		clk:       clk,
		rng:       rng,
		ctx:       ctx,
		cancel:    cancel,
		pause:     newGate(),
		done:      make(chan struct{}),
		send:      send,
		reacquire: reacquire,
	}
	e.nextBreak = settings.NextBreakThreshold(rng)
	return e
}

// run is the executor goroutine. It exits only through complete or
// exitStopped, both of which move the campaign row first.
func (e *Executor) run() {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Executor %s] panic in campaign %s: %v", e.id, e.cmp.ID, r)
			e.exitStopped("internal error")
		}
	}()

	log.Printf("[Executor %s] campaign %s started (pacing=%s delay=%d-%ds breaks=%v batch=%d)",
		e.id, e.cmp.ID, e.settings.Source, e.settings.MinDelaySeconds,
		e.settings.MaxDelaySeconds, e.settings.EnableBreaks, e.batchSize())

	for {
		select {
		case <-e.ctx.Done():
			e.exitStopped("")
			return
		case <-e.pause.Wait():
		}

		batch, err := e.nextBatch()
		if err != nil {
			if e.ctx.Err() != nil {
				e.exitStopped("")
				return
			}
			e.exitStopped("store unavailable")
			return
		}
		if len(batch) == 0 {
			e.complete()
			return
		}

		for _, entry := range batch {
			if e.ctx.Err() != nil {
				e.exitStopped("")
				return
			}
			if e.pause.IsClosed() {
				break
			}

			// Breaks are taken only when another entry is about to go out,
			// never after the last one.
			if sig := e.maybeBreak(); sig == waitCancelled {
				e.exitStopped("")
				return
			}
			if e.pause.IsClosed() {
				break
			}

			switch e.processEntry(entry) {
			case stepStoreDown:
				if e.ctx.Err() != nil {
					e.exitStopped("")
					return
				}
				e.exitStopped("store unavailable")
				return
			case stepSessionDead:
				e.exitStopped("browser session lost")
				return
			case stepSkipped:
				continue
			}

			delay := e.settings.NextDelay(e.rng)
			sig := e.sleep(delay.Wait, true)
			e.mu.Lock()
			e.sinceBreak++
			e.mu.Unlock()
			if sig == waitCancelled {
				e.exitStopped("")
				return
			}
		}
	}
}

// processEntry runs one entry through claim, render, send and finalize.
func (e *Executor) processEntry(entry *domain.WorkflowEntry) stepResult {
	if err := e.withRetry(e.ctx, func(ctx context.Context) error {
		return e.store.ClaimEntry(ctx, entry.ID)
	}); err != nil {
		if errors.Is(err, workflow.ErrConflict) || errors.Is(err, workflow.ErrNotFound) {
			log.Printf("[Executor %s] entry %s claim lost: %v", e.id, entry.ID, err)
			atomic.AddInt64(&e.skipped, 1)
			return stepSkipped
		}
		return stepStoreDown
	}

	contact, err := e.store.ContactByID(e.ctx, entry.ContactID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return e.finalize(entry.ID, domain.OutcomeFailed, "contact not found", stepSkipped)
		}
		contact, err = e.store.ContactByID(e.ctx, entry.ContactID)
		if err != nil {
			return stepStoreDown
		}
	}

	phone := messenger.NormalizePhone(contact.FormattedPhone)
	if phone == "" {
		return e.finalize(entry.ID, domain.OutcomeFailed,
			fmt.Sprintf("phone %q has no digits", contact.FormattedPhone), stepSkipped)
	}

	if e.guard != nil {
		decision, derr := e.guard.Check(e.ctx, e.cmp, phone)
		if derr != nil {
			log.Printf("[Executor %s] duplicate check for entry %s failed, allowing: %v", e.id, entry.ID, derr)
		}
		if decision == dupguard.Deny {
			atomic.AddInt64(&e.skipped, 1)
			return e.finalize(entry.ID, domain.OutcomeFailed, "duplicate recipient", stepSkipped)
		}
	}

	// Gender routing happens before random-choice expansion so option picks
	// stay uncorrelated across contacts.
	body := render.PickEntryBody(entry, contact.Gender)
	text := render.Render(body, contact, e.rng)
	atts := cloneAttachments(entry)

	res := e.deliver(phone, text, atts)

	if res.OK {
		if r := e.finalize(entry.ID, domain.OutcomeSent, "", stepSent); r == stepStoreDown {
			return r
		}
		atomic.AddInt64(&e.sent, 1)
		if e.guard != nil {
			// The message went out; its dedup record is written even if the
			// loop is being cancelled.
			if err := e.guard.Record(context.WithoutCancel(e.ctx), e.cmp.OwnerID, phone, e.cmp.ID, string(domain.OutcomeSent)); err != nil {
				log.Printf("[Executor %s] sent-phone record for %s failed: %v", e.id, entry.ID, err)
			}
		}
		return stepSent
	}

	// A session lost past the one re-acquire is a campaign-level failure:
	// record this entry and stop instead of burning the rest of the queue.
	if res.Kind == messenger.KindSessionLost {
		e.finalize(entry.ID, domain.OutcomeFailed, "browser session lost", stepSent)
		atomic.AddInt64(&e.failed, 1)
		return stepSessionDead
	}

	if r := e.finalize(entry.ID, domain.OutcomeFailed, res.Error, stepSent); r == stepStoreDown {
		return r
	}
	atomic.AddInt64(&e.failed, 1)
	log.Printf("[Executor %s] entry %s failed (%s): %s", e.id, entry.ID, res.Kind, res.Error)
	return stepSent
}

// deliver calls the messenger, surviving one lost session per campaign.
// The send context deliberately ignores Stop's cancel: an in-flight message
// runs to its own timeout, and the loop exits at the next check instead.
func (e *Executor) deliver(phone, text string, atts []domain.Attachment) messenger.SendResult {
	sendCtx := context.WithoutCancel(e.ctx)

	e.mu.Lock()
	m := e.send
	e.mu.Unlock()

	res := m.Send(sendCtx, phone, text, atts)
	if res.Kind != messenger.KindSessionLost {
		return res
	}

	e.mu.Lock()
	already := e.reacquired
	e.reacquired = true
	reacquire := e.reacquire
	e.mu.Unlock()
	if already || reacquire == nil {
		return res
	}

	log.Printf("[Executor %s] session lost, re-acquiring browser for owner %s", e.id, e.cmp.OwnerID)
	nm, err := reacquire(e.ctx)
	if err != nil {
		res.Error = fmt.Sprintf("session lost; re-acquire failed: %v", err)
		return res
	}
	e.setMessenger(nm)
	return nm.Send(sendCtx, phone, text, atts)
}

// finalize records an entry outcome, retrying once. A conflict means the
// entry was already finalized elsewhere; that is skipped, never repeated.
// The write runs on a detached context: a stop that lands while a message is
// in flight must still see that message's outcome recorded.
func (e *Executor) finalize(entryID string, outcome domain.EntryOutcome, errMsg string, onOK stepResult) stepResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), 10*time.Second)
	defer cancel()

	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.FinalizeEntry(ctx, entryID, outcome, errMsg)
	})
	if err == nil {
		return onOK
	}
	if errors.Is(err, workflow.ErrConflict) || errors.Is(err, workflow.ErrNotFound) {
		log.Printf("[Executor %s] finalize of entry %s skipped: %v", e.id, entryID, err)
		return stepSkipped
	}
	return stepStoreDown
}

// withRetry runs one store write, retrying once on infrastructure errors.
// Sentinel conflicts and context cancellation are returned as-is.
func (e *Executor) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil ||
		errors.Is(err, workflow.ErrConflict) ||
		errors.Is(err, workflow.ErrNotFound) ||
		ctx.Err() != nil {
		return err
	}
	log.Printf("[Executor %s] store write failed, retrying once: %v", e.id, err)
	return fn(ctx)
}

func (e *Executor) nextBatch() ([]*domain.WorkflowEntry, error) {
	var batch []*domain.WorkflowEntry
	err := e.withRetry(e.ctx, func(ctx context.Context) error {
		var ierr error
		batch, ierr = e.store.NextPendingBatch(ctx, e.cmp.ID, e.batchSize())
		return ierr
	})
	return batch, err
}

func (e *Executor) batchSize() int {
	if e.cfg.BatchSize > 0 {
		return e.cfg.BatchSize
	}
	return 50
}

// maybeBreak takes a long rest when the per-burst threshold has been hit.
// The threshold is re-drawn after every break so the cadence never settles
// into a fixed modulus. A pause during the break cancels the timer; the
// break still counts as taken.
func (e *Executor) maybeBreak() waitSignal {
	e.mu.Lock()
	due := e.settings.EnableBreaks && e.sinceBreak >= e.nextBreak
	since := e.sinceBreak
	e.mu.Unlock()
	if !due {
		return waitElapsed
	}

	brk := e.settings.NextBreak(e.rng)
	ends := e.clk.Now().Add(brk.Duration)

	atomic.AddInt64(&e.breaks, 1)
	e.mu.Lock()
	e.onBreak = true
	e.breakEnds = ends
	e.mu.Unlock()

	log.Printf("[Executor %s] break for %s after %d messages (next threshold %d)",
		e.id, brk.Duration.Round(time.Second), since, brk.NextThreshold)
	e.events.Publish(Event{
		Type:            EventBreakStarted,
		CampaignID:      e.cmp.ID,
		OwnerID:         e.cmp.OwnerID,
		DurationSeconds: int(brk.Duration.Seconds()),
		NextThreshold:   brk.NextThreshold,
	})

	sig := e.sleep(brk.Duration, true)

	e.mu.Lock()
	e.onBreak = false
	e.sinceBreak = 0
	e.nextBreak = brk.NextThreshold
	e.mu.Unlock()

	if sig != waitCancelled {
		e.events.Publish(Event{Type: EventBreakEnded, CampaignID: e.cmp.ID, OwnerID: e.cmp.OwnerID})
	}
	return sig
}

// sleep waits for d in slices of at most the signal-check interval (never
// above one second), aborting on cancel and, when interruptOnPause is set,
// on a closed pause gate.
func (e *Executor) sleep(d time.Duration, interruptOnPause bool) waitSignal {
	step := e.cfg.SignalCheck()
	if step <= 0 || step > time.Second {
		step = time.Second
	}
	for d > 0 {
		w := step
		if d < w {
			w = d
		}
		select {
		case <-e.ctx.Done():
			return waitCancelled
		case <-e.clk.After(w):
			d -= w
		}
		if interruptOnPause && e.pause.IsClosed() {
			return waitPaused
		}
	}
	return waitElapsed
}

// complete moves the campaign to its natural end state.
func (e *Executor) complete() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := e.clk.Now()
	err := e.store.UpdateCampaignStatus(ctx, e.cmp.ID,
		[]domain.CampaignStatus{domain.CampaignRunning},
		domain.CampaignCompleted,
		workflow.Fields{CompletedAt: &now})
	if err != nil {
		log.Printf("[Executor %s] completion transition for %s: %v", e.id, e.cmp.ID, err)
	} else {
		e.events.Publish(Event{
			Type:       EventStatusChanged,
			CampaignID: e.cmp.ID,
			OwnerID:    e.cmp.OwnerID,
			Status:     string(domain.CampaignCompleted),
		})
	}

	e.mu.Lock()
	e.completed = true
	e.mu.Unlock()

	log.Printf("[Executor %s] campaign %s completed. sent=%d failed=%d skipped=%d breaks=%d",
		e.id, e.cmp.ID, atomic.LoadInt64(&e.sent), atomic.LoadInt64(&e.failed),
		atomic.LoadInt64(&e.skipped), atomic.LoadInt64(&e.breaks))
}

// exitStopped moves the campaign to stopped on an abnormal or cancelled
// exit. A conflict is normal here: the orchestrator usually moved the row
// before tripping the cancel.
func (e *Executor) exitStopped(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := e.clk.Now()
	fields := workflow.Fields{StoppedAt: &now}
	if reason != "" {
		fields.LastError = &reason
	}
	err := e.store.UpdateCampaignStatus(ctx, e.cmp.ID,
		[]domain.CampaignStatus{domain.CampaignRunning, domain.CampaignPaused},
		domain.CampaignStopped, fields)
	switch {
	case err == nil:
		e.events.Publish(Event{
			Type:       EventStatusChanged,
			CampaignID: e.cmp.ID,
			OwnerID:    e.cmp.OwnerID,
			Status:     string(domain.CampaignStopped),
		})
		if reason != "" {
			log.Printf("[Executor %s] campaign %s stopped: %s", e.id, e.cmp.ID, reason)
		}
	case errors.Is(err, workflow.ErrConflict):
		// already terminal
	default:
		log.Printf("[Executor %s] stop transition for %s: %v", e.id, e.cmp.ID, err)
	}

	log.Printf("[Executor %s] campaign %s loop exited. sent=%d failed=%d skipped=%d",
		e.id, e.cmp.ID, atomic.LoadInt64(&e.sent), atomic.LoadInt64(&e.failed),
		atomic.LoadInt64(&e.skipped))
}

func (e *Executor) setMessenger(m messenger.Messenger) {
	e.mu.Lock()
	e.send = m
	e.mu.Unlock()
}

func (e *Executor) setReacquire(fn func(context.Context) (messenger.Messenger, error)) {
	e.mu.Lock()
	e.reacquire = fn
	e.mu.Unlock()
}

// breakState is read by the reporter through the orchestrator.
func (e *Executor) breakState() report.BreakState {
	e.mu.Lock()
	defer e.mu.Unlock()
	bs := report.BreakState{
		IsOnBreak:              e.onBreak,
		MessagesSinceLastBreak: e.sinceBreak,
		NextBreakAfterMessages: e.nextBreak,
	}
	if e.onBreak {
		t := e.breakEnds
		bs.BreakEndsAt = &t
	}
	return bs
}

func (e *Executor) finishedNormally() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// cloneAttachments copies the entry's attachment snapshot so a send can
// never mutate stored state. The message text travels as the caption of
// the first attachment inside the messenger.
func cloneAttachments(entry *domain.WorkflowEntry) []domain.Attachment {
	if entry.Attachment == nil {
		return nil
	}
	att := *entry.Attachment
	return []domain.Attachment{att}
}
