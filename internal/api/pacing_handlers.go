package api

import (
	"net/http"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pacing"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/httputil"
)

// GetPacingSettings handles GET /api/pacing/settings: the owner's advanced
// pacing overrides, if any have been saved.
func (h *Handlers) GetPacingSettings(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)

	ps, ok := h.pacing.OwnerSettings(r.Context(), owner)
	if !ok {
		httputil.OK(w, map[string]any{
			"configured": false,
			"settings":   nil,
		})
		return
	}

	httputil.OK(w, map[string]any{
		"configured": true,
		"settings":   ps,
	})
}

// PutPacingSettings handles PUT /api/pacing/settings: validates and saves
// the owner's advanced pacing overrides.
func (h *Handlers) PutPacingSettings(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)

	var ps domain.PacingSettings
	if !httputil.Decode(w, r, &ps) {
		return
	}
	ps.OwnerID = owner

	if err := pacing.ValidateSettings(&ps); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := h.pacing.SaveSettings(r.Context(), ps); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"status":   "saved",
		"settings": ps,
	})
}
