package render

import (
	"regexp"
	"strings"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
)

// identLike matches tokens that read as variable names (Latin or Arabic
// identifiers). Single-brace text that does not look like an identifier is
// treated as literal prose, not a typoed variable.
var identLike = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)

// ValidationError describes one unusable token found during pre-flight.
type ValidationError struct {
	Variable string `json:"variable"`
	Message  string `json:"message"`
}

// Variables returns the deduplicated canonical variable names referenced by
// the template, in order of first appearance. Random-choice groups and
// unknown tokens are not variables and are omitted.
func Variables(template string) []string {
	var found []string
	seen := make(map[string]bool)
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
			found = append(found, key)
		}
	}

	for _, m := range doubleToken.FindAllStringSubmatch(template, -1) {
		key := strings.ToLower(strings.TrimSpace(m[1]))
		if knownVars[key] {
			add(key)
		}
	}
	for _, m := range braceToken.FindAllStringSubmatch(template, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			continue
		}
		if canonical, ok := arabicSynonyms[inner]; ok {
			add(canonical)
			continue
		}
		if strings.Contains(inner, "-") {
			continue
		}
		key := strings.ToLower(inner)
		if knownVars[key] {
			add(key)
		}
	}
	return found
}

var knownVars = map[string]bool{
	"name":         true,
	"firstname":    true,
	"arabic_name":  true,
	"arabicname":   true,
	"english_name": true,
	"englishname":  true,
	"phone":        true,
}

// Validate checks a template against a sample of the contacts it will be
// rendered for. It flags tokens that look like variables but are not
// recognized, recognized variables no sampled contact can fill, and
// random-choice groups with nothing to choose. An empty result means the
// template is safe to run.
func Validate(template string, sample []*domain.Contact) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	report := func(variable, message string) {
		if !seen[variable+"\x00"+message] {
			seen[variable+"\x00"+message] = true
			errs = append(errs, ValidationError{Variable: variable, Message: message})
		}
	}

	checkVar := func(token, key string) {
		if !knownVars[key] {
			report(token, "unknown variable")
			return
		}
		for _, c := range sample {
			if contactVars(c)[key] != "" {
				return
			}
		}
		report(token, "no selected contact provides a value")
	}

	for _, m := range doubleToken.FindAllStringSubmatch(template, -1) {
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			report(m[0], "empty placeholder")
			continue
		}
		checkVar(m[0], strings.ToLower(inner))
	}

	for _, m := range braceToken.FindAllStringSubmatch(template, -1) {
		if strings.HasPrefix(m[0], "{{") {
			continue // handled above
		}
		inner := strings.TrimSpace(m[1])
		if inner == "" {
			report(m[0], "empty placeholder")
			continue
		}
		if canonical, ok := arabicSynonyms[inner]; ok {
			checkVar(m[0], canonical)
			continue
		}
		if strings.Contains(inner, "-") {
			hasOption := false
			for _, o := range strings.Split(inner, "-") {
				if strings.TrimSpace(o) != "" {
					hasOption = true
					break
				}
			}
			if !hasOption {
				report(m[0], "random-choice group has no options")
			}
			continue
		}
		if identLike.MatchString(inner) {
			checkVar(m[0], strings.ToLower(inner))
		}
	}

	return errs
}
