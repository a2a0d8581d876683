package dupguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// setTTL bounds how long a per-owner Redis set lives without activity. The
// store is the source of truth, so an expired set only costs one extra
// store lookup per phone.
const setTTL = 24 * time.Hour

// Decision is the outcome of a duplicate check.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Service implements duplicate-prevention policy. It is safe for concurrent
// use. All methods take normalized phone digits as produced by the
// messenger layer.
type Service struct {
	repo Repository
	rdb  *redis.Client // optional fast path; nil runs on the store alone
}

// NewService creates a duplicate guard backed by the given repository.
// rdb may be nil.
func NewService(repo Repository, rdb *redis.Client) *Service {
	return &Service{repo: repo, rdb: rdb}
}

func setKey(ownerID string) string {
	return fmt.Sprintf("dup:%s", ownerID)
}

// Check decides whether a phone may be messaged under the campaign's
// duplicate-prevention mode. When the store errors, the decision is Allow
// and the error is returned so the caller can log it and proceed.
func (s *Service) Check(ctx context.Context, c *domain.Campaign, phone string) (Decision, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Deny, fmt.Errorf("phone is required")
	}

	switch c.DuplicateMode {
	case domain.DuplicateOff:
		return Allow, nil

	case domain.DuplicatePerCampaign:
		dup, err := s.repo.SentInCampaign(ctx, c.ID, phone)
		if err != nil {
			return Allow, err
		}
		if dup {
			return Deny, nil
		}
		return Allow, nil

	case domain.DuplicatePersistent:
		// Positive Redis probe short-circuits; misses and errors fall
		// through to the store.
		if s.rdb != nil {
			if member, err := s.rdb.SIsMember(ctx, setKey(c.OwnerID), phone).Result(); err == nil && member {
				return Deny, nil
			}
		}
		dup, err := s.repo.Exists(ctx, c.OwnerID, phone)
		if err != nil {
			return Allow, err
		}
		if dup {
			return Deny, nil
		}
		return Allow, nil

	default:
		// Unknown mode behaves like off rather than stalling the campaign.
		return Allow, nil
	}
}

// Record persists that a message went out to phone. It upserts the durable
// record and mirrors the phone into the owner's Redis set. Redis failures
// are ignored.
func (s *Service) Record(ctx context.Context, ownerID, phone, campaignID, status string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("phone is required")
	}

	rec := &domain.SentPhoneRecord{
		OwnerID:    ownerID,
		Phone:      phone,
		LastStatus: status,
	}
	if campaignID != "" {
		rec.LastCampaignID = &campaignID
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return err
	}

	if s.rdb != nil {
		if err := s.rdb.SAdd(ctx, setKey(ownerID), phone).Err(); err == nil {
			s.rdb.Expire(ctx, setKey(ownerID), setTTL)
		}
	}
	return nil
}

// Forget erases the owner's history for a phone so it can be resent to.
// Forgetting a phone that was never recorded is not an error.
func (s *Service) Forget(ctx context.Context, ownerID, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("phone is required")
	}

	if err := s.repo.Delete(ctx, ownerID, phone); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if s.rdb != nil {
		s.rdb.SRem(ctx, setKey(ownerID), phone)
	}
	return nil
}
