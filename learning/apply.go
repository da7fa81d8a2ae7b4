package learning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var numberedPrefixPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)

// ApplyToResponse rewrites a response according to the user's synthesized
// preferences. Preferences apply in lookup-precedence order; each rewrite is
// idempotent, so applying the same preference twice changes nothing.
func (s *PreferenceStore) ApplyToResponse(text, userID string, scopes ...Scope) string {
	allowed := map[Scope]bool{}
	for _, sc := range scopes {
		allowed[sc] = true
	}
	for _, pref := range s.Preferences(userID) {
		if len(allowed) > 0 && !allowed[pref.Scope] {
			continue
		}
		text = applyPreference(text, pref)
	}
	return text
}

func applyPreference(text string, pref Preference) string {
	switch pref.Key {
	case "format":
		switch pref.Value {
		case "bullets":
			return toBullets(text)
		case "numbered":
			return toNumbered(text)
		}
	case "max_sentences":
		if n, err := strconv.Atoi(pref.Value); err == nil && n > 0 {
			return truncateSentences(text, n)
		}
	case "tone":
		switch pref.Value {
		case "casual":
			return toCasual(text)
		case "formal":
			return toFormal(text)
		}
	}
	return text
}

// toBullets turns paragraph sentences into one bullet per sentence. Text
// that is already a list passes through unchanged.
func toBullets(text string) string {
	if listPrefixPattern.MatchString(text) {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	lines := make([]string, len(sentences))
	for i, s := range sentences {
		lines[i] = "- " + s
	}
	return strings.Join(lines, "\n")
}

// toNumbered turns paragraph sentences into a numbered list.
func toNumbered(text string) string {
	if numberedPrefixPattern.MatchString(text) {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	lines := make([]string, len(sentences))
	for i, s := range sentences {
		lines[i] = fmt.Sprintf("%d. %s", i+1, strings.TrimPrefix(s, "- "))
	}
	return strings.Join(lines, "\n")
}

// truncateSentences keeps the first n sentences.
func truncateSentences(text string, n int) string {
	sentences := splitSentences(text)
	if len(sentences) <= n {
		return text
	}
	return strings.Join(sentences[:n], " ")
}

// toCasual replaces formal expansions with their contractions.
func toCasual(text string) string {
	for _, pair := range contractionPairs {
		text = replaceFold(text, pair[1], pair[0])
	}
	return text
}

// toFormal expands contractions.
func toFormal(text string) string {
	for _, pair := range contractionPairs {
		text = replaceFold(text, pair[0], pair[1])
	}
	return text
}

// replaceFold replaces whole-word, case-insensitive occurrences of old,
// preserving a leading capital.
func replaceFold(text, old, repl string) string {
	pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(old) + `\b`)
	if err != nil {
		return text
	}
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		if match != "" && match[0] >= 'A' && match[0] <= 'Z' {
			return strings.ToUpper(repl[:1]) + repl[1:]
		}
		return repl
	})
}
