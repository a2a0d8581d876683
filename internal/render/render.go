// Package render turns a campaign message template into the final text for
// one contact. It is a pure string pipeline: no I/O, no clocks, randomness
// injected. Expansion obeys a strict order so mixed templates behave
// predictably: double-brace placeholders, Arabic-named variables,
// random-choice groups, single-brace variables, then bare-word fallbacks.
// Tokens the pipeline does not recognize are left verbatim.
package render

import (
	"regexp"
	"strings"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
)

// arabicSynonyms maps the Arabic-script variable spellings onto canonical
// variable names. These expand before random-choice groups so a hyphen in
// surrounding text can never split them.
var arabicSynonyms = map[string]string{
	"الاسم_بالعربي":    "arabic_name",
	"الاسم_العربي":     "arabic_name",
	"اسم_عربي":         "arabic_name",
	"الاسم_انجليزي":    "english_name",
	"الاسم_بالانجليزي": "english_name",
	"اسم_انجليزي":      "english_name",
}

// braceToken matches either a full double-brace token or a single-brace
// token with no nested braces. The alternation keeps single-brace passes
// from chewing the inside of a {{...}} that survived the first pass.
var braceToken = regexp.MustCompile(`\{\{[^{}]*\}\}|\{([^{}]*)\}`)

// doubleToken matches {{ var }} with optional inner padding.
var doubleToken = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Render produces the final message text for one contact. rng drives
// random-choice groups only; passing a fixed-seed stream makes the output
// deterministic.
func Render(template string, c *domain.Contact, rng clock.Rand) string {
	v := contactVars(c)
	out := expandDouble(template, v)
	out = expandArabicNames(out, v)
	out = expandGroups(out, rng)
	out = expandSingle(out, v)
	out = expandBareWords(out, v)
	return out
}

// PickEntryBody selects which snapshot body an entry's contact receives.
// Unknown gender falls back to the male snapshot, which entry creation
// fills with the neutral body for non-gender campaigns.
func PickEntryBody(e *domain.WorkflowEntry, g domain.Gender) string {
	if g == domain.GenderFemale && e.FemaleMessage != "" {
		return e.FemaleMessage
	}
	if e.MaleMessage != "" {
		return e.MaleMessage
	}
	return e.FemaleMessage
}

// contactVars builds the substitution table for one contact. Keys are
// lowercase; lookups lower the token first so {Name}, {NAME} and
// {English_Name} all resolve.
func contactVars(c *domain.Contact) map[string]string {
	arabic, english := RouteName(c)
	return map[string]string{
		"name":         c.DisplayName(),
		"firstname":    c.GivenName(),
		"arabic_name":  arabic,
		"arabicname":   arabic,
		"english_name": english,
		"englishname":  english,
		"phone":        c.FormattedPhone,
	}
}

// RouteName resolves the arabic/english variable values for a contact.
// Explicit fields win; otherwise the display name is routed by script
// detection so imports that only carry first_name still fill one side.
func RouteName(c *domain.Contact) (arabic, english string) {
	arabic, english = c.ArabicName, c.EnglishName
	if name := c.DisplayName(); name != "" {
		if ContainsArabic(name) {
			if arabic == "" {
				arabic = name
			}
		} else if english == "" {
			english = name
		}
	}
	return arabic, english
}

func expandDouble(s string, v map[string]string) string {
	return doubleToken.ReplaceAllStringFunc(s, func(m string) string {
		sub := doubleToken.FindStringSubmatch(m)
		key := strings.ToLower(strings.TrimSpace(sub[1]))
		if val, ok := v[key]; ok {
			return val
		}
		return m
	})
}

// replaceSingle rewrites single-brace tokens via f, leaving double-brace
// leftovers and tokens f declines untouched.
func replaceSingle(s string, f func(inner string) (string, bool)) string {
	return braceToken.ReplaceAllStringFunc(s, func(m string) string {
		if strings.HasPrefix(m, "{{") {
			return m
		}
		if out, ok := f(m[1 : len(m)-1]); ok {
			return out
		}
		return m
	})
}

func expandArabicNames(s string, v map[string]string) string {
	return replaceSingle(s, func(inner string) (string, bool) {
		canonical, ok := arabicSynonyms[strings.TrimSpace(inner)]
		if !ok {
			return "", false
		}
		return v[canonical], true
	})
}

func expandGroups(s string, rng clock.Rand) string {
	return replaceSingle(s, func(inner string) (string, bool) {
		if !strings.Contains(inner, "-") {
			return "", false
		}
		var opts []string
		for _, o := range strings.Split(inner, "-") {
			if o = strings.TrimSpace(o); o != "" {
				opts = append(opts, o)
			}
		}
		if len(opts) == 0 {
			return "", false
		}
		if len(opts) == 1 {
			return opts[0], true
		}
		return opts[rng.Intn(len(opts))], true
	})
}

func expandSingle(s string, v map[string]string) string {
	return replaceSingle(s, func(inner string) (string, bool) {
		key := strings.ToLower(strings.TrimSpace(inner))
		val, ok := v[key]
		return val, ok
	})
}

// expandBareWords is the last-chance convenience pass: the two canonical
// names substitute even without braces.
func expandBareWords(s string, v map[string]string) string {
	if strings.Contains(s, "arabic_name") {
		s = strings.ReplaceAll(s, "arabic_name", v["arabic_name"])
	}
	if strings.Contains(s, "english_name") {
		s = strings.ReplaceAll(s, "english_name", v["english_name"])
	}
	return s
}
