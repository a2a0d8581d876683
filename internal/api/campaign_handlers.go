package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/baseleldalil/Morsel-App-sub000/internal/media"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/httputil"
	"github.com/baseleldalil/Morsel-App-sub000/internal/report"
	"github.com/baseleldalil/Morsel-App-sub000/internal/service/campaign"
)

// CreateCampaign handles POST /api/campaigns. The body carries the contact
// selection, the message templates, and at most one base64 attachment.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)

	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	camp, err := h.campaigns.Create(r.Context(), owner, input)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrNoContacts),
			errors.Is(err, campaign.ErrNoBody),
			errors.Is(err, campaign.ErrBadInput),
			errors.Is(err, media.ErrBadUpload):
			httputil.BadRequest(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.Created(w, map[string]any{
		"id":             camp.ID,
		"name":           camp.Name,
		"status":         camp.Status,
		"contacts_count": camp.TotalContacts,
		"created_at":     camp.CreatedAt,
	})
}

// ListCampaigns handles GET /api/campaigns with optional status filter and
// limit/offset pagination.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	limit, offset := parseLimitOffset(r, 50)

	f := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	}

	campaigns, total, err := h.campaigns.List(r.Context(), owner, f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"campaigns": campaigns,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

// GetCampaign handles GET /api/campaigns/{campaignID}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	camp, err := h.campaigns.Get(r.Context(), owner, id)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, camp)
}

// DeleteCampaign handles DELETE /api/campaigns/{campaignID}. Only stopped or
// completed campaigns can go.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	if err := h.campaigns.Delete(r.Context(), owner, id); err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			httputil.NotFound(w, "campaign not found")
		case errors.Is(err, campaign.ErrNotTerminal):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.OK(w, map[string]any{"id": id, "status": "deleted"})
}

// GetProgress handles GET /api/campaigns/{campaignID}/progress.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	// Ownership check first: the reporter itself is not owner-scoped.
	if _, err := h.campaigns.Get(r.Context(), owner, id); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	snap, err := h.progress.Snapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, snap)
}

// GetWorkflow handles GET /api/campaigns/{campaignID}/workflow with optional
// status filter and limit/offset pagination.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")
	limit, offset := parseLimitOffset(r, 100)

	f := campaign.EntryFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	}

	entries, total, err := h.campaigns.Entries(r.Context(), owner, id, f)
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"campaign_id": id,
		"entries":     entries,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// GetWorkflowSummary handles GET /api/campaigns/{campaignID}/workflow/summary:
// entry counts grouped by status.
func (h *Handlers) GetWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	if _, err := h.campaigns.Get(r.Context(), owner, id); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	counts, err := h.progress.Summary(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"campaign_id": id,
		"counts":      counts,
	})
}

// ResendEntry handles POST /api/campaigns/{campaignID}/resend: clears the
// duplicate-guard record for one contact and re-queues its workflow entry.
func (h *Handlers) ResendEntry(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	var body struct {
		ContactID string `json:"contact_id"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.ContactID == "" {
		httputil.BadRequest(w, "contact_id is required")
		return
	}

	prev, err := h.campaigns.Resend(r.Context(), owner, id, body.ContactID)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			httputil.NotFound(w, "campaign not found")
		case errors.Is(err, campaign.ErrNoEntry):
			httputil.NotFound(w, err.Error())
		case errors.Is(err, campaign.ErrRunning):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.OK(w, map[string]any{
		"campaign_id":     id,
		"contact_id":      body.ContactID,
		"previous_status": prev,
		"status":          "pending",
	})
}

// ResendFailed handles POST /api/campaigns/{campaignID}/resend-failed: bulk
// re-queues every failed entry of the campaign.
func (h *Handlers) ResendFailed(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	n, err := h.campaigns.ResendFailed(r.Context(), owner, id)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			httputil.NotFound(w, "campaign not found")
		case errors.Is(err, campaign.ErrRunning):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.OK(w, map[string]any{
		"campaign_id": id,
		"requeued":    n,
	})
}

// parseLimitOffset reads limit/offset query parameters with sane bounds.
func parseLimitOffset(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
