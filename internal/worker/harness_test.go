package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/messenger"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pacing"
	"github.com/baseleldalil/Morsel-App-sub000/internal/workflow"
)

// errStoreDown simulates infrastructure failures injected into the fake store.
var errStoreDown = errors.New("store connection lost")

// fakeStore is an in-memory workflow.Store with the same CAS and counter
// semantics as the postgres implementation, plus failure injection and a
// status trace for transition assertions.
type fakeStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	entries   map[string]*domain.WorkflowEntry
	order     []string
	contacts  map[string]*domain.Contact

	finalized   map[string]int
	statusTrace []domain.CampaignStatus

	failBatches   int
	failClaims    int
	failFinalizes int

	seq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: make(map[string]*domain.Campaign),
		entries:   make(map[string]*domain.WorkflowEntry),
		contacts:  make(map[string]*domain.Contact),
		finalized: make(map[string]int),
	}
}

func (s *fakeStore) addCampaign(c *domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
}

// addEntry registers the contact and appends a workflow entry carrying the
// given body snapshots, in insertion order.
func (s *fakeStore) addEntry(campaignID string, c *domain.Contact, male, female string) *domain.WorkflowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cc := *c
	s.contacts[c.ID] = &cc
	e := &domain.WorkflowEntry{
		ID:            fmt.Sprintf("entry-%03d", s.seq),
		CampaignID:    campaignID,
		ContactID:     c.ID,
		Status:        domain.EntryPending,
		AddedAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Second),
		MaleMessage:   male,
		FemaleMessage: female,
	}
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	if cmp, ok := s.campaigns[campaignID]; ok {
		cmp.TotalContacts++
	}
	return e
}

func (s *fakeStore) campaign(id string) domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *fakeStore) entry(id string) domain.WorkflowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[id]
}

func (s *fakeStore) trace() []domain.CampaignStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CampaignStatus, len(s.statusTrace))
	copy(out, s.statusTrace)
	return out
}

func (s *fakeStore) LoadCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdateCampaignStatus(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, set workflow.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return workflow.ErrNotFound
	}
	if len(from) > 0 {
		legal := false
		for _, f := range from {
			if c.Status == f {
				legal = true
				break
			}
		}
		if !legal {
			return fmt.Errorf("%w: campaign %s is %s, cannot move to %s", workflow.ErrConflict, id, c.Status, to)
		}
	}
	c.Status = to
	if set.StartedAt != nil {
		t := *set.StartedAt
		c.StartedAt = &t
	}
	if set.PausedAt != nil {
		t := *set.PausedAt
		c.PausedAt = &t
	}
	if set.StoppedAt != nil {
		t := *set.StoppedAt
		c.StoppedAt = &t
	}
	if set.CompletedAt != nil {
		t := *set.CompletedAt
		c.CompletedAt = &t
	}
	if set.LastError != nil {
		c.LastError = *set.LastError
	}
	if set.CurrentProgress != nil {
		c.CurrentProgress = *set.CurrentProgress
	}
	s.statusTrace = append(s.statusTrace, to)
	return nil
}

func (s *fakeStore) NextPendingBatch(_ context.Context, campaignID string, limit int) ([]*domain.WorkflowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBatches > 0 {
		s.failBatches--
		return nil, errStoreDown
	}
	var out []*domain.WorkflowEntry
	for _, id := range s.order {
		e := s.entries[id]
		if e.CampaignID != campaignID {
			continue
		}
		if e.Status != domain.EntryNew && e.Status != domain.EntryPending {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ClaimEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClaims > 0 {
		s.failClaims--
		return errStoreDown
	}
	e, ok := s.entries[entryID]
	if !ok {
		return workflow.ErrNotFound
	}
	if e.Status != domain.EntryNew && e.Status != domain.EntryPending {
		return fmt.Errorf("%w: entry %s is %s", workflow.ErrConflict, entryID, e.Status)
	}
	e.Status = domain.EntryProcessing
	return nil
}

func (s *fakeStore) FinalizeEntry(_ context.Context, entryID string, outcome domain.EntryOutcome, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFinalizes > 0 {
		s.failFinalizes--
		return errStoreDown
	}
	e, ok := s.entries[entryID]
	if !ok {
		return workflow.ErrNotFound
	}
	if e.Status != domain.EntryProcessing {
		return fmt.Errorf("%w: entry %s is %s, not processing", workflow.ErrConflict, entryID, e.Status)
	}
	c := s.campaigns[e.CampaignID]
	now := time.Now()
	e.ProcessedAt = &now
	switch outcome {
	case domain.OutcomeSent:
		e.Status = domain.EntrySent
		c.MessagesSent++
		c.CurrentProgress++
	case domain.OutcomeDelivered:
		e.Status = domain.EntryDelivered
		c.MessagesSent++
		c.MessagesDelivered++
		c.CurrentProgress++
	case domain.OutcomeFailed:
		e.Status = domain.EntryFailed
		e.ErrorMessage = errMsg
		e.RetryCount++
		c.MessagesFailed++
		c.ErrorCount++
		c.LastError = errMsg
		c.CurrentProgress++
	default:
		return fmt.Errorf("finalize entry: unknown outcome %q", outcome)
	}
	if ct, ok := s.contacts[e.ContactID]; ok {
		ct.Status = string(e.Status)
	}
	s.finalized[entryID]++
	return nil
}

func (s *fakeStore) RecoverOrphans(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.order {
		e := s.entries[id]
		if e.CampaignID != campaignID || e.Status != domain.EntryProcessing {
			continue
		}
		e.Status = domain.EntryFailed
		e.ErrorMessage = "interrupted"
		e.RetryCount++
		n++
	}
	if n > 0 {
		c := s.campaigns[campaignID]
		c.MessagesFailed += n
		c.CurrentProgress += n
		c.ErrorCount += n
		c.LastError = "interrupted"
	}
	return n, nil
}

func (s *fakeStore) ContactByID(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// sentCall is one observed messenger invocation.
type sentCall struct {
	Phone string
	Text  string
	Atts  int
}

// fakeMessenger records sends and can rendezvous with the test: when wired,
// every Send announces itself and then blocks until released, which pins
// down exactly where the executor is between control operations.
type fakeMessenger struct {
	mu      sync.Mutex
	calls   []sentCall
	results map[string]messenger.SendResult

	announce chan sentCall
	release  chan struct{}
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{results: make(map[string]messenger.SendResult)}
}

// rendezvous arms the announce/release channels.
func (m *fakeMessenger) rendezvous() {
	m.announce = make(chan sentCall)
	m.release = make(chan struct{})
}

func (m *fakeMessenger) resultFor(phone string, r messenger.SendResult) {
	m.mu.Lock()
	m.results[phone] = r
	m.mu.Unlock()
}

func (m *fakeMessenger) Send(_ context.Context, phone, text string, atts []domain.Attachment) messenger.SendResult {
	call := sentCall{Phone: phone, Text: text, Atts: len(atts)}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	r, scripted := m.results[phone]
	m.mu.Unlock()

	if m.announce != nil {
		m.announce <- call
	}
	if m.release != nil {
		<-m.release
	}

	if scripted {
		return r
	}
	return messenger.SendResult{OK: true, Kind: messenger.KindOK, SentAt: time.Now()}
}

func (m *fakeMessenger) sent() []sentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// fakeSessions hands out a scripted messenger and counts lifecycle calls.
type fakeSessions struct {
	mu          sync.Mutex
	msgr        messenger.Messenger
	leaseErr    error
	leases      int
	releases    int
	forceCloses int
	forceAll    int
}

func (f *fakeSessions) Lease(_ context.Context, _ string, _ domain.BrowserKind) (messenger.Messenger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leases++
	if f.leaseErr != nil {
		return nil, f.leaseErr
	}
	return f.msgr, nil
}

func (f *fakeSessions) Release(_ context.Context, _ string) {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()
}

func (f *fakeSessions) ForceClose(_ context.Context, _ string) int {
	f.mu.Lock()
	f.forceCloses++
	f.mu.Unlock()
	return 1
}

func (f *fakeSessions) ForceCloseAll(_ context.Context) int {
	f.mu.Lock()
	f.forceAll++
	f.mu.Unlock()
	return 1
}

func (f *fakeSessions) counts() (leases, releases, forceCloses, forceAll int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leases, f.releases, f.forceCloses, f.forceAll
}

// stubDupRepo is an in-memory dupguard.Repository keyed by phone.
type stubDupRepo struct {
	mu       sync.Mutex
	existing map[string]bool
	upserts  int
}

func (r *stubDupRepo) Exists(_ context.Context, _, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.existing[phone], nil
}

func (r *stubDupRepo) SentInCampaign(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (r *stubDupRepo) Upsert(_ context.Context, rec *domain.SentPhoneRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existing == nil {
		r.existing = make(map[string]bool)
	}
	r.existing[rec.Phone] = true
	r.upserts++
	return nil
}

func (r *stubDupRepo) Delete(_ context.Context, _, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.existing, phone)
	return nil
}

// stubPacer returns fixed settings so tests never touch rule tables.
type stubPacer struct {
	settings pacing.Settings
}

func (p stubPacer) Resolve(_ context.Context, _, _ string, _ domain.TimingMode, _, _ int) pacing.Settings {
	return p.settings
}

// seqRand replays a fixed Intn sequence; Float64 is constant. With strong
// randomization off, delay draws consume Float64 only, so the Intn sequence
// maps one-to-one onto break threshold draws.
type seqRand struct {
	ints []int
	i    int
	f    float64
}

func (r *seqRand) Intn(n int) int {
	v := r.ints[r.i%len(r.ints)]
	r.i++
	return v % n
}

func (r *seqRand) Float64() float64 { return r.f }

func testContact(id, owner, name, phone string, g domain.Gender) *domain.Contact {
	return &domain.Contact{
		ID:             id,
		OwnerID:        owner,
		FirstName:      name,
		FormattedPhone: phone,
		Gender:         g,
		IsSelected:     true,
	}
}

func testCampaign(id, owner string, status domain.CampaignStatus) *domain.Campaign {
	return &domain.Campaign{
		ID:        id,
		OwnerID:   owner,
		Name:      "load test",
		Status:    status,
		CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

// quietSettings paces at the 1s floor with breaks off; with a fixed clock the
// sleeps are instant.
func quietSettings() pacing.Settings {
	return pacing.Settings{
		Source:          pacing.SourceManual,
		MinDelaySeconds: 1,
		MaxDelaySeconds: 1,
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not finish in time")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
