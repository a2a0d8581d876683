package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/httputil"
	"github.com/baseleldalil/Morsel-App-sub000/internal/worker"
)

// startInput is the body of POST /api/campaigns/{id}/start.
type startInput struct {
	BrowserKind string `json:"browser_kind"`
	TimingMode  string `json:"timing_mode"`
	MinDelay    int    `json:"min_delay"`
	MaxDelay    int    `json:"max_delay"`
	PlanID      string `json:"plan_id"`
}

// StartCampaign handles POST /api/campaigns/{campaignID}/start: spins up an
// executor for the campaign after template pre-flight.
func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	var input startInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	kind, ok := parseBrowserKind(input.BrowserKind)
	if !ok {
		httputil.BadRequest(w, "browser_kind must be chrome or firefox")
		return
	}

	mode := domain.TimingAuto
	switch strings.ToLower(input.TimingMode) {
	case "", "auto":
	case "manual":
		mode = domain.TimingManual
		// Manual mode ships dashboard defaults when the caller leaves the
		// bounds empty.
		if input.MinDelay <= 0 {
			input.MinDelay = 30
		}
		if input.MaxDelay <= 0 {
			input.MaxDelay = 60
		}
		if input.MinDelay > input.MaxDelay {
			httputil.BadRequest(w, "min_delay must not exceed max_delay")
			return
		}
	default:
		httputil.BadRequest(w, "timing_mode must be auto or manual")
		return
	}

	res := h.control.Start(r.Context(), worker.StartRequest{
		CampaignID: id,
		OwnerID:    owner,
		Kind:       kind,
		Mode:       mode,
		ManualMin:  input.MinDelay,
		ManualMax:  input.MaxDelay,
		PlanID:     input.PlanID,
	})

	switch res.Outcome {
	case worker.StartStarted:
		httputil.OK(w, map[string]any{
			"campaign_id":      id,
			"status":           "Running",
			"timing_mode":      mode,
			"settings":         res.Settings,
			"pending_contacts": res.PendingContacts,
			"executor_id":      res.ExecutorID,
		})
	case worker.StartAlreadyRunning:
		httputil.BadRequest(w, "campaign is already running")
	case worker.StartRejected:
		if len(res.ValidationErrors) > 0 {
			httputil.ErrorWithDetails(w, http.StatusBadRequest, res.Reason, map[string]any{
				"variables_found":   res.VariablesFound,
				"validation_errors": res.ValidationErrors,
			})
			return
		}
		httputil.BadRequest(w, res.Reason)
	case worker.StartNotFound:
		httputil.NotFound(w, "campaign not found")
	default:
		httputil.Error(w, http.StatusInternalServerError, res.Reason)
	}
}

// PauseCampaign handles POST /api/campaigns/{campaignID}/pause. An optional
// current_progress in the body overrides the server-side counter, matching
// what the dashboard displays; it is applied only when positive.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	var body struct {
		CurrentProgress int `json:"current_progress"`
	}
	// Body is optional on pause.
	decodeOptional(r, &body)

	res := h.control.Pause(r.Context(), id, body.CurrentProgress)
	if !res.OK {
		httputil.BadRequest(w, res.Reason)
		return
	}

	progress := body.CurrentProgress
	if camp, err := h.campaigns.Get(r.Context(), owner, id); err == nil {
		progress = camp.CurrentProgress
	}

	httputil.OK(w, map[string]any{
		"campaign_id":      id,
		"status":           "Paused",
		"current_progress": progress,
	})
}

// ResumeCampaign handles POST /api/campaigns/{campaignID}/resume: restarts a
// paused campaign on a fresh executor using the remaining pending entries.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "campaignID")

	var body struct {
		BrowserKind string `json:"browser_kind"`
	}
	decodeOptional(r, &body)

	kind, ok := parseBrowserKind(body.BrowserKind)
	if !ok {
		httputil.BadRequest(w, "browser_kind must be chrome or firefox")
		return
	}

	res := h.control.Resume(r.Context(), id, owner, kind)
	if !res.OK {
		httputil.BadRequest(w, res.Reason)
		return
	}

	remaining := 0
	if camp, err := h.campaigns.Get(r.Context(), owner, id); err == nil {
		remaining = camp.TotalContacts - camp.CurrentProgress
		if remaining < 0 {
			remaining = 0
		}
	}

	httputil.OK(w, map[string]any{
		"campaign_id": id,
		"status":      "Running",
		"remaining":   remaining,
	})
}

// StopCampaign handles POST /api/campaigns/{campaignID}/stop. Stop is
// terminal: the campaign cannot be started again.
func (h *Handlers) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	var body struct {
		CurrentProgress int `json:"current_progress"`
	}
	decodeOptional(r, &body)

	res := h.control.Stop(r.Context(), id, body.CurrentProgress)
	if !res.OK {
		httputil.BadRequest(w, res.Reason)
		return
	}

	httputil.OK(w, map[string]any{
		"campaign_id": id,
		"status":      "Stopped",
	})
}

// ForceCloseBrowsers handles POST /api/browsers/force-close: kills every
// managed browser session, or just one owner's when owner_id is given.
// Guarded by requireAdmin.
func (h *Handlers) ForceCloseBrowsers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerID string `json:"owner_id"`
	}
	decodeOptional(r, &body)

	var killed int
	if body.OwnerID != "" {
		killed = h.control.ForceCloseOwner(r.Context(), body.OwnerID)
	} else {
		killed = h.control.ForceCloseAll(r.Context())
	}

	httputil.OK(w, map[string]any{
		"processes_killed": killed,
		"timestamp":        time.Now().UTC(),
	})
}

// requireAdmin wraps operator endpoints behind the admin bearer token. An
// empty configured token disables the endpoints entirely.
func (h *Handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" || bearerToken(r) != h.adminToken {
			httputil.Unauthorized(w, "admin token required")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// parseBrowserKind maps the wire value onto a browser kind. Empty defaults
// to chrome; anything else must name a supported browser.
func parseBrowserKind(s string) (domain.BrowserKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return domain.BrowserChrome, true
	case "chrome":
		return domain.BrowserChrome, true
	case "firefox":
		return domain.BrowserFirefox, true
	default:
		return "", false
	}
}

// decodeOptional decodes a JSON body when one is present, ignoring absent or
// malformed bodies. Used by control endpoints whose bodies are optional.
func decodeOptional(r *http.Request, dst any) {
	if r.Body == nil {
		return
	}
	defer r.Body.Close()
	_ = json.NewDecoder(r.Body).Decode(dst)
}
