package campaign

import (
	"context"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// Repository defines the data access contract for campaigns and their
// workflow entries. Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign scoped to its owner. ErrNotFound if it
	// doesn't exist or belongs to someone else.
	Get(ctx context.Context, ownerID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, plus the
	// unpaginated total.
	List(ctx context.Context, ownerID string, f ListFilter) ([]domain.Campaign, int, error)

	// CreateWithWorkflow inserts the campaign and all of its entries in one
	// transaction. Either everything lands or nothing does.
	CreateWithWorkflow(ctx context.Context, c *domain.Campaign, entries []domain.WorkflowEntry) error

	// Delete removes a terminal campaign and cascades to its entries.
	// ErrNotTerminal while the campaign could still run.
	Delete(ctx context.Context, ownerID, id string) error

	// ContactsByIDs resolves the owner's contacts among ids, preserving
	// input order. Unknown or foreign ids are silently dropped.
	ContactsByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.Contact, error)

	// Entries pages through a campaign's workflow entries in added order.
	Entries(ctx context.Context, campaignID string, f EntryFilter) ([]domain.WorkflowEntry, int, error)

	// RequeueEntry moves one terminal entry back to pending and unwinds the
	// campaign counters it contributed to. Returns the status it left.
	// ErrNoEntry when the contact has no entry in a re-sendable state.
	RequeueEntry(ctx context.Context, campaignID, contactID string) (domain.EntryStatus, error)

	// RequeueFailed moves every failed entry back to pending in one
	// transaction and returns how many it touched.
	RequeueFailed(ctx context.Context, campaignID string) (int, error)

	// FailedPhones lists the normalized phones behind the campaign's failed
	// entries, for clearing duplicate-guard records before a bulk resend.
	FailedPhones(ctx context.Context, campaignID string) ([]string, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// EntryFilter controls pagination and filtering for workflow entry lists.
type EntryFilter struct {
	Status string
	Limit  int
	Offset int
}
