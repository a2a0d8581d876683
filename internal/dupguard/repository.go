package dupguard

import (
	"context"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// Repository defines the data access contract for sent-phone records.
type Repository interface {
	// Exists reports whether the owner has ever sent to the phone.
	Exists(ctx context.Context, ownerID, phone string) (bool, error)

	// SentInCampaign reports whether the phone already has a sent or
	// delivered workflow entry within the given campaign.
	SentInCampaign(ctx context.Context, campaignID, phone string) (bool, error)

	// Upsert inserts or refreshes the record for (owner, phone). The first
	// insert sets first_sent_at; every call bumps send_count and advances
	// last_sent_at, last_campaign_id and last_status.
	Upsert(ctx context.Context, rec *domain.SentPhoneRecord) error

	// Delete removes the record. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, ownerID, phone string) error
}
