package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/require"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
)

const testFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example</title>
  <link>https://example.com</link>
  <description>Test feed</description>
  <item>
    <title>Newest post</title>
    <link>https://example.com/newest</link>
    <guid>post-2</guid>
    <description><![CDATA[<p>Second &amp; latest entry with some length to it</p>]]></description>
    <pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Older post</title>
    <link>https://example.com/older</link>
    <guid>post-1</guid>
    <description>First</description>
    <pubDate>Sun, 23 Aug 2026 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const emptyFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Empty</title>
  <link>https://example.com</link>
  <description>No items</description>
</channel>
</rss>`

func newFeedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, config.FeedConfig{TimeoutSeconds: 5, MaxItems: 10}), mock
}

func sourceRow(id, owner, url, template string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "feed_url", "body_template",
		"last_fetched_at", "last_item_guid", "error_count", "last_error",
		"created_at", "updated_at",
	}).AddRow(id, owner, "Source", url, template, nil, "", 0, "", now, now)
}

func TestCreateSourceValidatesFeed(t *testing.T) {
	srv := newFeedServer(t, testFeedXML)
	svc, mock := newTestService(t)

	mock.ExpectExec("INSERT INTO morsel_feed_sources").
		WillReturnResult(sqlmock.NewResult(1, 1))

	src, err := svc.CreateSource(context.Background(), Source{
		OwnerID: "owner-1",
		Name:    "Example",
		FeedURL: srv.URL,
	})
	require.NoError(t, err)
	require.NotEmpty(t, src.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSourceRejectsUnreachableURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // keep the URL, kill the listener
	svc, _ := newTestService(t)

	_, err := svc.CreateSource(context.Background(), Source{
		OwnerID: "owner-1",
		FeedURL: srv.URL,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid feed URL")
}

func TestCreateSourceRejectsBadTemplate(t *testing.T) {
	svc, _ := newTestService(t)

	// Unterminated tag fails at parse; no fetch, no insert.
	_, err := svc.CreateSource(context.Background(), Source{
		OwnerID:      "owner-1",
		FeedURL:      "http://irrelevant.invalid/feed",
		BodyTemplate: "{% if item.title %}oops",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid body_template")
}

func TestComposeRendersLatestItem(t *testing.T) {
	srv := newFeedServer(t, testFeedXML)
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM morsel_feed_sources").
		WillReturnRows(sourceRow("src-1", "owner-1", srv.URL,
			"New: {{ item.title }} {{ item.link }}"))
	mock.ExpectExec("UPDATE morsel_feed_sources").
		WillReturnResult(sqlmock.NewResult(0, 1))

	comp, err := svc.Compose(context.Background(), "owner-1", "src-1")
	require.NoError(t, err)
	require.Equal(t, "New: Newest post https://example.com/newest", comp.MessageContent)
	require.Equal(t, "post-2", comp.Item.GUID)
	require.Equal(t, "Second & latest entry with some length to it", comp.Item.Summary)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComposeDefaultTemplate(t *testing.T) {
	srv := newFeedServer(t, testFeedXML)
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM morsel_feed_sources").
		WillReturnRows(sourceRow("src-1", "owner-1", srv.URL, ""))
	mock.ExpectExec("UPDATE morsel_feed_sources").
		WillReturnResult(sqlmock.NewResult(0, 1))

	comp, err := svc.Compose(context.Background(), "owner-1", "src-1")
	require.NoError(t, err)
	require.Contains(t, comp.MessageContent, "Newest post")
	require.Contains(t, comp.MessageContent, "https://example.com/newest")
}

func TestComposeTruncateFilter(t *testing.T) {
	srv := newFeedServer(t, testFeedXML)
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM morsel_feed_sources").
		WillReturnRows(sourceRow("src-1", "owner-1", srv.URL,
			"{{ item.summary | truncate: 13 }}"))
	mock.ExpectExec("UPDATE morsel_feed_sources").
		WillReturnResult(sqlmock.NewResult(0, 1))

	comp, err := svc.Compose(context.Background(), "owner-1", "src-1")
	require.NoError(t, err)
	require.Equal(t, "Second & l...", comp.MessageContent)
}

func TestComposeEmptyFeed(t *testing.T) {
	srv := newFeedServer(t, emptyFeedXML)
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM morsel_feed_sources").
		WillReturnRows(sourceRow("src-1", "owner-1", srv.URL, ""))
	// Failure bookkeeping bumps the error count.
	mock.ExpectExec("UPDATE morsel_feed_sources").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.Compose(context.Background(), "owner-1", "src-1")
	require.ErrorIs(t, err, ErrEmptyFeed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComposeUnknownSource(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("FROM morsel_feed_sources").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Compose(context.Background(), "owner-1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseItemFallbacks(t *testing.T) {
	it := parseItem(&gofeed.Item{
		Title:       "  Spaced title  ",
		Link:        "https://example.com/x",
		Description: "<b>bold</b> text",
		Enclosures: []*gofeed.Enclosure{
			{Type: "audio/mpeg", URL: "https://example.com/a.mp3"},
			{Type: "image/png", URL: "https://example.com/cover.png"},
		},
	})

	require.Equal(t, "Spaced title", it.Title)
	// No GUID on the wire: the link stands in.
	require.Equal(t, "https://example.com/x", it.GUID)
	require.Equal(t, "bold text", it.Summary)
	require.Equal(t, "https://example.com/cover.png", it.ImageURL)
	// No dates at all: Published defaults to now.
	require.WithinDuration(t, time.Now(), it.Published, 5*time.Second)
}

func TestStripHTML(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<p>hello <b>world</b></p>", "hello world"},
		{"no tags", "no tags"},
		{"a &amp; b", "a & b"},
		{"  lots \n of \t space  ", "lots of space"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, stripHTML(c.in), "input %q", c.in)
	}
}

func TestTemplateCacheReuse(t *testing.T) {
	tpl := NewTemplates()
	ctx := map[string]interface{}{"item": map[string]interface{}{"title": "A"}}

	out, err := tpl.Render("k1", "{{ item.title }}", ctx)
	require.NoError(t, err)
	require.Equal(t, "A", out)

	// Cached parse serves the second render even with different data.
	ctx["item"].(map[string]interface{})["title"] = "B"
	out, err = tpl.Render("k1", "ignored because cached", ctx)
	require.NoError(t, err)
	require.Equal(t, "B", out)

	tpl.Invalidate("k1")
	out, err = tpl.Render("k1", "now: {{ item.title }}", ctx)
	require.NoError(t, err)
	require.Equal(t, "now: B", out)
}
