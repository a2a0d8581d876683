package feed

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Templates renders Liquid body templates with a small set of filters suited
// to messenger text. Parsed templates are cached per source.
type Templates struct {
	engine *liquid.Engine
	cache  sync.Map // cacheKey -> *liquid.Template
}

// NewTemplates builds the engine and registers the custom filters.
func NewTemplates() *Templates {
	t := &Templates{engine: liquid.NewEngine()}
	t.registerFilters()
	return t
}

func (t *Templates) registerFilters() {
	// Fallback value: {{ item.author | default: "the editors" }}
	t.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// Length cap with ellipsis: {{ item.summary | truncate: 300 }}
	t.engine.RegisterFilter("truncate", func(s string, length int) string {
		if length <= 0 || len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	// Collapse runs of whitespace into single spaces. Feed summaries often
	// arrive with layout newlines that look broken in a chat bubble.
	t.engine.RegisterFilter("clean", func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	})

	// Uppercase first letter only: {{ item.title | capitalize }}
	t.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	})
}

// Parse compiles the template and reports syntax errors.
func (t *Templates) Parse(src string) error {
	_, err := t.engine.ParseString(src)
	return err
}

// Render executes the template against ctx, caching the parse under
// cacheKey when one is given.
func (t *Templates) Render(cacheKey, src string, ctx map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := t.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(ctx)
		}
	}

	tpl, err := t.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	if cacheKey != "" {
		t.cache.Store(cacheKey, tpl)
	}
	return tpl.RenderString(ctx)
}

// Invalidate drops one cached template.
func (t *Templates) Invalidate(cacheKey string) {
	t.cache.Delete(cacheKey)
}
