// Package workflow defines the transactional store contract the campaign
// executor and control plane drive. Every status move is a CAS: the write
// names the states it expects to leave, and zero affected rows surfaces as
// a typed conflict instead of a silent overwrite. Counter bumps ride the
// same transaction as the entry transition so the campaign row can never
// drift from its entries.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

var (
	// ErrNotFound marks a campaign or entry id with no row behind it.
	ErrNotFound = errors.New("workflow: not found")

	// ErrConflict marks a CAS that found the row in a state outside its
	// from-set: a lost claim race or an illegal transition.
	ErrConflict = errors.New("workflow: status conflict")
)

// Fields are optional column updates applied atomically with a campaign
// status CAS. Nil members are left untouched.
type Fields struct {
	StartedAt       *time.Time
	PausedAt        *time.Time
	StoppedAt       *time.Time
	CompletedAt     *time.Time
	LastError       *string
	CurrentProgress *int
}

// Store is the workflow surface. Implementations must make each method a
// single transaction.
type Store interface {
	// LoadCampaign fetches one campaign row. ErrNotFound when absent.
	LoadCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// UpdateCampaignStatus moves the campaign to `to` only while its
	// current status is in `from`, applying set in the same statement.
	// ErrConflict on a lost race or illegal transition.
	UpdateCampaignStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, set Fields) error

	// NextPendingBatch returns up to limit entries in added_at order whose
	// status is New or Pending.
	NextPendingBatch(ctx context.Context, campaignID string, limit int) ([]*domain.WorkflowEntry, error)

	// ClaimEntry CASes one entry {New,Pending} → Processing.
	ClaimEntry(ctx context.Context, entryID string) error

	// FinalizeEntry CASes Processing → Sent/Failed, bumps the campaign
	// counters, and mirrors the outcome onto the contact, all in one
	// transaction. retry_count increments only on the failed arm.
	FinalizeEntry(ctx context.Context, entryID string, outcome domain.EntryOutcome, errMsg string) error

	// RecoverOrphans fails every Processing entry a dead executor left
	// behind ("interrupted", retry_count++) and returns how many it swept.
	RecoverOrphans(ctx context.Context, campaignID string) (int, error)

	// ContactByID loads the contact an entry points at, for rendering and
	// duplicate checks.
	ContactByID(ctx context.Context, id string) (*domain.Contact, error)
}
