package api

import (
	"context"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/feed"
	"github.com/baseleldalil/Morsel-App-sub000/internal/report"
	"github.com/baseleldalil/Morsel-App-sub000/internal/service/campaign"
	"github.com/baseleldalil/Morsel-App-sub000/internal/worker"
)

// CampaignService is the campaign CRUD and resend surface the API needs.
// Satisfied by *campaign.Service.
type CampaignService interface {
	Create(ctx context.Context, ownerID string, input campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Campaign, error)
	List(ctx context.Context, ownerID string, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Delete(ctx context.Context, ownerID, id string) error
	Entries(ctx context.Context, ownerID, campaignID string, f campaign.EntryFilter) ([]domain.WorkflowEntry, int, error)
	Resend(ctx context.Context, ownerID, campaignID, contactID string) (domain.EntryStatus, error)
	ResendFailed(ctx context.Context, ownerID, campaignID string) (int, error)
}

// Controller drives campaign execution. Satisfied by *worker.Orchestrator.
type Controller interface {
	Start(ctx context.Context, req worker.StartRequest) worker.StartResult
	Pause(ctx context.Context, campaignID string, progressOverride int) worker.ControlResult
	Resume(ctx context.Context, campaignID, ownerID string, kind domain.BrowserKind) worker.ControlResult
	Stop(ctx context.Context, campaignID string, progressOverride int) worker.ControlResult
	ForceCloseOwner(ctx context.Context, ownerID string) int
	ForceCloseAll(ctx context.Context) int
	LiveCount() int
}

// ProgressReporter serves live campaign progress. Satisfied by *report.Reporter.
type ProgressReporter interface {
	Snapshot(ctx context.Context, campaignID string) (*report.Progress, error)
	Summary(ctx context.Context, campaignID string) (map[string]int, error)
}

// PacingStore reads and writes per-owner pacing overrides. Satisfied by
// *pacing.Engine.
type PacingStore interface {
	OwnerSettings(ctx context.Context, ownerID string) (domain.PacingSettings, bool)
	SaveSettings(ctx context.Context, ps domain.PacingSettings) error
}

// FeedService turns registered feeds into message content. Satisfied by
// *feed.Service.
type FeedService interface {
	CreateSource(ctx context.Context, src feed.Source) (*feed.Source, error)
	Sources(ctx context.Context, ownerID string) ([]feed.Source, error)
	Compose(ctx context.Context, ownerID, sourceID string) (*feed.Composition, error)
}

// Handlers carries every dependency the route handlers use.
type Handlers struct {
	campaigns CampaignService
	control   Controller
	progress  ProgressReporter
	pacing    PacingStore
	feeds     FeedService
	health    *HealthChecker

	// adminToken guards destructive operator endpoints (browser force-close).
	// Empty means those endpoints are disabled.
	adminToken string
}

// Deps bundles the constructor arguments for NewHandlers.
type Deps struct {
	Campaigns  CampaignService
	Control    Controller
	Progress   ProgressReporter
	Pacing     PacingStore
	Feeds      FeedService
	Health     *HealthChecker
	AdminToken string
}

// NewHandlers wires the handler set from its service dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		campaigns:  d.Campaigns,
		control:    d.Control,
		progress:   d.Progress,
		pacing:     d.Pacing,
		feeds:      d.Feeds,
		health:     d.Health,
		adminToken: d.AdminToken,
	}
}
