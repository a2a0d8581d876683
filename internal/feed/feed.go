// Package feed turns RSS/Atom feeds into campaign message content. An owner
// registers a feed source with a Liquid body template; Compose fetches the
// feed, takes its newest item, and renders the template with the item's
// fields. The result is plain messenger text, ready to become a campaign's
// message_content.
package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
)

var (
	// ErrNotFound means no feed source with that id belongs to the owner.
	ErrNotFound = errors.New("feed source not found")
	// ErrEmptyFeed means the feed parsed but carries no items to compose from.
	ErrEmptyFeed = errors.New("feed has no items")
	// ErrBadSource marks registration input the service refused: missing
	// URL, broken template, or a feed that does not parse.
	ErrBadSource = errors.New("feed source rejected")
	// ErrFetch wraps upstream failures while pulling a registered feed, so
	// callers can tell a broken feed host from a broken request.
	ErrFetch = errors.New("feed fetch failed")
)

// defaultBodyTemplate is used when a source was registered without one.
// Messenger text, not HTML: title, a trimmed summary, then the link.
const defaultBodyTemplate = `{{ item.title }}

{{ item.summary | truncate: 300 }}

{{ item.link }}`

// Source is an owner's registered feed plus the template that turns its
// items into message text.
type Source struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Name          string     `json:"name"`
	FeedURL       string     `json:"feed_url"`
	BodyTemplate  string     `json:"body_template"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	LastItemGUID  string     `json:"last_item_guid,omitempty"`
	ErrorCount    int        `json:"error_count"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Item is one normalized feed entry.
type Item struct {
	GUID       string    `json:"guid"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Link       string    `json:"link"`
	Published  time.Time `json:"published"`
	ImageURL   string    `json:"image_url,omitempty"`
	Author     string    `json:"author,omitempty"`
	Categories []string  `json:"categories,omitempty"`
}

// Composition is the rendered output of a source's newest item.
type Composition struct {
	SourceID       string `json:"source_id"`
	MessageContent string `json:"message_content"`
	Item           Item   `json:"item"`
}

// Service fetches feeds and composes message content from them.
type Service struct {
	db     *sql.DB
	parser *gofeed.Parser
	tpl    *Templates
	cfg    config.FeedConfig
}

// NewService creates a feed service backed by db.
func NewService(db *sql.DB, cfg config.FeedConfig) *Service {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10
	}
	return &Service{
		db:     db,
		parser: gofeed.NewParser(),
		tpl:    NewTemplates(),
		cfg:    cfg,
	}
}

// CreateSource registers a feed for the owner. The URL is validated by
// fetching it once and the template by parsing it, so a bad source is
// rejected before anything references it.
func (s *Service) CreateSource(ctx context.Context, src Source) (*Source, error) {
	if src.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrBadSource)
	}
	if src.FeedURL == "" {
		return nil, fmt.Errorf("%w: feed_url is required", ErrBadSource)
	}
	if src.BodyTemplate != "" {
		if err := s.tpl.Parse(src.BodyTemplate); err != nil {
			return nil, fmt.Errorf("%w: invalid body_template: %v", ErrBadSource, err)
		}
	}
	if _, err := s.fetch(ctx, src.FeedURL); err != nil {
		return nil, fmt.Errorf("%w: invalid feed URL: %v", ErrBadSource, err)
	}

	src.ID = uuid.New().String()
	if src.Name == "" {
		src.Name = src.FeedURL
	}
	src.CreatedAt = time.Now()
	src.UpdatedAt = src.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO morsel_feed_sources
			(id, owner_id, name, feed_url, body_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, src.ID, src.OwnerID, src.Name, src.FeedURL, src.BodyTemplate,
		src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create feed source: %w", err)
	}
	return &src, nil
}

const sourceColumns = `id, owner_id, name, feed_url, COALESCE(body_template, ''),
	last_fetched_at, COALESCE(last_item_guid, ''), error_count,
	COALESCE(last_error, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	err := row.Scan(
		&src.ID, &src.OwnerID, &src.Name, &src.FeedURL, &src.BodyTemplate,
		&src.LastFetchedAt, &src.LastItemGUID, &src.ErrorCount,
		&src.LastError, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// Sources lists the owner's registered feeds, newest first.
func (s *Service) Sources(ctx context.Context, ownerID string) ([]Source, error) {
	query := fmt.Sprintf(`SELECT %s FROM morsel_feed_sources
		WHERE owner_id = $1 ORDER BY created_at DESC`, sourceColumns)
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list feed sources: %w", err)
	}
	defer rows.Close()

	sources := []Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed source: %w", err)
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list feed sources: %w", err)
	}
	return sources, nil
}

// SourceByID fetches one owner-scoped source.
func (s *Service) SourceByID(ctx context.Context, ownerID, id string) (*Source, error) {
	query := fmt.Sprintf(`SELECT %s FROM morsel_feed_sources
		WHERE id = $1 AND owner_id = $2`, sourceColumns)
	src, err := scanSource(s.db.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed source: %w", err)
	}
	return src, nil
}

// Compose fetches the source's feed and renders its newest item through the
// body template. Fetch failures are recorded on the source row so repeated
// breakage is visible without log digging.
func (s *Service) Compose(ctx context.Context, ownerID, sourceID string) (*Composition, error) {
	src, err := s.SourceByID(ctx, ownerID, sourceID)
	if err != nil {
		return nil, err
	}

	parsed, err := s.fetch(ctx, src.FeedURL)
	if err != nil {
		s.recordFetchError(ctx, src.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if len(parsed.Items) == 0 {
		s.recordFetchError(ctx, src.ID, ErrEmptyFeed)
		return nil, ErrEmptyFeed
	}

	// Feeds list newest first; item zero is the latest.
	latest := parseItem(parsed.Items[0])

	body := src.BodyTemplate
	if body == "" {
		body = defaultBodyTemplate
	}
	content, err := s.tpl.Render(src.ID, body, itemContext(latest))
	if err != nil {
		return nil, fmt.Errorf("compose: render: %w", err)
	}

	s.recordFetchSuccess(ctx, src.ID, latest.GUID)

	return &Composition{
		SourceID:       src.ID,
		MessageContent: strings.TrimSpace(content),
		Item:           latest,
	}, nil
}

func (s *Service) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()
	return s.parser.ParseURLWithContext(url, fctx)
}

func (s *Service) recordFetchSuccess(ctx context.Context, sourceID, guid string) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE morsel_feed_sources
		SET last_fetched_at = NOW(), last_item_guid = $2,
		    error_count = 0, last_error = '', updated_at = NOW()
		WHERE id = $1
	`, sourceID, guid)
	if err != nil {
		// Bookkeeping only; the composition already succeeded.
		fmt.Printf("feed: record fetch success: %v\n", err)
	}
}

func (s *Service) recordFetchError(ctx context.Context, sourceID string, cause error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE morsel_feed_sources
		SET error_count = error_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, sourceID, cause.Error())
	if err != nil {
		fmt.Printf("feed: record fetch error: %v\n", err)
	}
}

// parseItem normalizes one gofeed item. GUID falls back to the link; the
// published date falls back through updated to now; the image comes from the
// item image or the first image enclosure.
func parseItem(item *gofeed.Item) Item {
	out := Item{
		GUID:    item.GUID,
		Title:   strings.TrimSpace(item.Title),
		Summary: stripHTML(item.Description),
		Link:    item.Link,
	}
	if out.Summary == "" {
		out.Summary = stripHTML(item.Content)
	}
	if out.GUID == "" {
		out.GUID = item.Link
	}

	switch {
	case item.PublishedParsed != nil:
		out.Published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		out.Published = *item.UpdatedParsed
	default:
		out.Published = time.Now()
	}

	if item.Image != nil {
		out.ImageURL = item.Image.URL
	} else {
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "image/") {
				out.ImageURL = enc.URL
				break
			}
		}
	}

	if len(item.Authors) > 0 {
		out.Author = item.Authors[0].Name
	} else if item.Author != nil {
		out.Author = item.Author.Name
	}

	out.Categories = append(out.Categories, item.Categories...)
	return out
}

// itemContext exposes the item to Liquid under the "item" namespace.
func itemContext(it Item) map[string]interface{} {
	return map[string]interface{}{
		"item": map[string]interface{}{
			"title":      it.Title,
			"summary":    it.Summary,
			"link":       it.Link,
			"image":      it.ImageURL,
			"author":     it.Author,
			"date":       it.Published.Format("January 2, 2006"),
			"categories": strings.Join(it.Categories, ", "),
		},
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML flattens feed HTML into single-spaced plain text.
func stripHTML(input string) string {
	text := tagPattern.ReplaceAllString(input, "")
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
