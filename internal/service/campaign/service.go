package campaign

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/media"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/logger"
)

// Guard clears duplicate-send records ahead of a resend. Satisfied by
// *dupguard.Service.
type Guard interface {
	Forget(ctx context.Context, ownerID, phone string) error
}

// Media validates attachments and snapshots them for the workflow entries.
// Satisfied by *media.Service.
type Media interface {
	Prepare(ctx context.Context, up media.Upload) (*domain.Attachment, error)
}

// Service implements campaign business logic. It coordinates between the
// repository layer and the cross-cutting concerns (duplicate guard, media).
// All public methods are safe for concurrent use if the underlying
// repository is concurrency-safe.
type Service struct {
	repo  Repository
	guard Guard
	media Media
}

// NewService creates a campaign service backed by the given repository.
// guard may be nil (resends then skip the duplicate-record cleanup); media
// may be nil (attachments are then rejected).
func NewService(repo Repository, guard Guard, med Media) *Service {
	return &Service{repo: repo, guard: guard, media: med}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, ownerID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, ownerID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, ownerID, f)
}

// Create validates the input, resolves the owner's contacts, snapshots the
// templates and attachment onto one workflow entry per contact, and persists
// everything in a single transaction. The campaign starts in status new.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*domain.Campaign, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrBadInput)
	}
	if input.MessageContent == "" && input.MaleContent == "" && input.FemaleContent == "" {
		return nil, ErrNoBody
	}
	if len(input.ContactIDs) == 0 {
		return nil, ErrNoContacts
	}

	mode := domain.DuplicateMode(input.DuplicateMode)
	switch mode {
	case domain.DuplicatePerCampaign, domain.DuplicatePersistent, domain.DuplicateOff:
	case "":
		mode = domain.DuplicatePerCampaign
	default:
		return nil, fmt.Errorf("%w: unknown duplicate_prevention_mode %q", ErrBadInput, input.DuplicateMode)
	}

	contacts, err := s.repo.ContactsByIDs(ctx, ownerID, input.ContactIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}

	var att *domain.Attachment
	if input.Attachment != nil {
		if s.media == nil {
			return nil, fmt.Errorf("%w: attachments are not enabled", ErrBadInput)
		}
		data, err := base64.StdEncoding.DecodeString(input.Attachment.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: attachment data is not valid base64", ErrBadInput)
		}
		att, err = s.media.Prepare(ctx, media.Upload{
			Filename:    input.Attachment.Filename,
			ContentType: input.Attachment.ContentType,
			Data:        data,
		})
		if err != nil {
			// Keeps media.ErrBadUpload visible so the API can answer 400;
			// archive failures stay infrastructure errors.
			return nil, fmt.Errorf("prepare attachment: %w", err)
		}
	}

	c := &domain.Campaign{
		ID:                 uuid.New().String(),
		OwnerID:            ownerID,
		Name:               input.Name,
		Description:        input.Description,
		Status:             domain.CampaignNew,
		MessageContent:     input.MessageContent,
		MaleContent:        input.MaleContent,
		FemaleContent:      input.FemaleContent,
		UseGenderTemplates: input.UseGenderTemplates,
		DuplicateMode:      mode,
		TotalContacts:      len(contacts),
	}
	if att != nil {
		id := uuid.New().String()
		c.AttachmentID = &id
	}

	male, female := snapshotBodies(input)
	entries := make([]domain.WorkflowEntry, 0, len(contacts))
	for _, ct := range contacts {
		e := domain.WorkflowEntry{
			ID:            uuid.New().String(),
			CampaignID:    c.ID,
			ContactID:     ct.ID,
			Status:        domain.EntryNew,
			MaleMessage:   male,
			FemaleMessage: female,
		}
		if att != nil {
			cp := *att
			e.Attachment = &cp
		}
		entries = append(entries, e)
	}

	if err := s.repo.CreateWithWorkflow(ctx, c, entries); err != nil {
		return nil, err
	}

	log.Printf("[campaign.Service] Campaign %s created: %d contacts, mode=%s",
		c.ID, len(entries), mode)
	return c, nil
}

// snapshotBodies derives the per-entry male/female template snapshot. For a
// non-gendered campaign everyone reads the male slot; a gendered campaign
// with one slot empty falls back to the shared body.
func snapshotBodies(input CreateInput) (male, female string) {
	if !input.UseGenderTemplates {
		return input.MessageContent, ""
	}
	male, female = input.MaleContent, input.FemaleContent
	if male == "" {
		male = input.MessageContent
	}
	if female == "" {
		female = input.MessageContent
	}
	return male, female
}

// Delete removes a campaign. Only terminal (stopped/completed) campaigns may
// be deleted; everything else could still run and must be stopped first.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	c, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !c.IsTerminal() {
		return ErrNotTerminal
	}
	return s.repo.Delete(ctx, ownerID, id)
}

// Entries pages through a campaign's workflow, scoped to the owner.
func (s *Service) Entries(ctx context.Context, ownerID, campaignID string, f EntryFilter) ([]domain.WorkflowEntry, int, error) {
	if _, err := s.repo.Get(ctx, ownerID, campaignID); err != nil {
		return nil, 0, err
	}
	return s.repo.Entries(ctx, campaignID, f)
}

// Resend puts one contact's entry back in the queue for the next run. The
// duplicate-guard record for the phone is cleared first so the send is not
// immediately denied again. Refused while the campaign is running.
func (s *Service) Resend(ctx context.Context, ownerID, campaignID, contactID string) (domain.EntryStatus, error) {
	c, err := s.repo.Get(ctx, ownerID, campaignID)
	if err != nil {
		return "", err
	}
	if c.Status == domain.CampaignRunning {
		return "", ErrRunning
	}

	contacts, err := s.repo.ContactsByIDs(ctx, ownerID, []string{contactID})
	if err != nil {
		return "", fmt.Errorf("resolve contact: %w", err)
	}
	if len(contacts) == 0 {
		return "", ErrNoEntry
	}
	s.forget(ctx, ownerID, contacts[0].FormattedPhone)

	prev, err := s.repo.RequeueEntry(ctx, campaignID, contactID)
	if err != nil {
		return "", err
	}
	log.Printf("[campaign.Service] Campaign %s: entry for %s requeued (was %s)",
		campaignID, logger.RedactPhone(contacts[0].FormattedPhone), prev)
	return prev, nil
}

// ResendFailed puts every failed entry of the campaign back in the queue and
// returns how many were requeued. Refused while the campaign is running.
func (s *Service) ResendFailed(ctx context.Context, ownerID, campaignID string) (int, error) {
	c, err := s.repo.Get(ctx, ownerID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status == domain.CampaignRunning {
		return 0, ErrRunning
	}

	phones, err := s.repo.FailedPhones(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("list failed phones: %w", err)
	}
	for _, p := range phones {
		s.forget(ctx, ownerID, p)
	}

	n, err := s.repo.RequeueFailed(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	log.Printf("[campaign.Service] Campaign %s: %d failed entries requeued", campaignID, n)
	return n, nil
}

// forget clears the duplicate record for a phone. Failures only warn: the
// sent-phone table unwinds with the entry requeue, and a stale Redis set
// member expires on its own.
func (s *Service) forget(ctx context.Context, ownerID, phone string) {
	if s.guard == nil || phone == "" {
		return
	}
	if err := s.guard.Forget(ctx, ownerID, phone); err != nil {
		log.Printf("[campaign.Service] forget %s failed: %v", logger.RedactPhone(phone), err)
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	ContactIDs         []string         `json:"contact_ids"`
	MessageContent     string           `json:"message_content"`
	MaleContent        string           `json:"male_content"`
	FemaleContent      string           `json:"female_content"`
	UseGenderTemplates bool             `json:"use_gender_templates"`
	DuplicateMode      string           `json:"duplicate_prevention_mode"`
	Attachment         *AttachmentInput `json:"attachment,omitempty"`
}

// AttachmentInput is the one optional attachment on campaign creation, with
// its blob carried as base64.
type AttachmentInput struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}
