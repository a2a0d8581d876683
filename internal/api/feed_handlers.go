package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baseleldalil/Morsel-App-sub000/internal/feed"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/httputil"
)

// CreateFeedSource handles POST /api/feeds: registers a feed URL plus an
// optional body template. The feed is fetched once during registration so a
// dead URL fails here instead of at compose time.
func (h *Handlers) CreateFeedSource(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)

	var input struct {
		Name         string `json:"name"`
		FeedURL      string `json:"feed_url"`
		BodyTemplate string `json:"body_template"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}

	src, err := h.feeds.CreateSource(r.Context(), feed.Source{
		OwnerID:      owner,
		Name:         input.Name,
		FeedURL:      input.FeedURL,
		BodyTemplate: input.BodyTemplate,
	})
	if err != nil {
		if errors.Is(err, feed.ErrBadSource) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.Created(w, src)
}

// ListFeedSources handles GET /api/feeds.
func (h *Handlers) ListFeedSources(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)

	sources, err := h.feeds.Sources(r.Context(), owner)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"feeds": sources,
		"total": len(sources),
	})
}

// ComposeFromFeed handles POST /api/feeds/{sourceID}/compose: fetches the
// feed and renders its newest item into ready-to-send message content.
func (h *Handlers) ComposeFromFeed(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r)
	id := chi.URLParam(r, "sourceID")

	comp, err := h.feeds.Compose(r.Context(), owner, id)
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrNotFound):
			httputil.NotFound(w, "feed source not found")
		case errors.Is(err, feed.ErrEmptyFeed):
			httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, feed.ErrFetch):
			httputil.Error(w, http.StatusBadGateway, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.OK(w, comp)
}
