package learning

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Scope bounds where a preference applies. Narrower scopes win at lookup.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeSession Scope = "session"
	ScopeTopic   Scope = "topic"
	ScopeTask    Scope = "task"
)

// rank orders scopes narrowest first for lookup precedence.
func (s Scope) rank() int {
	switch s {
	case ScopeTask:
		return 0
	case ScopeTopic:
		return 1
	case ScopeSession:
		return 2
	default:
		return 3
	}
}

// Preference is a synthesized, persistent user preference.
type Preference struct {
	UserID          string         `json:"user_id"`
	Type            CorrectionType `json:"type"`
	Key             string         `json:"key"`
	Value           string         `json:"value"`
	ConfidenceScore float64        `json:"confidence_score"`
	Priority        int            `json:"priority"`
	Scope           Scope          `json:"scope"`
	TimesApplied    int            `json:"times_applied"`
	TimesSuccessful int            `json:"times_successful"`
	TimesOverridden int            `json:"times_overridden"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

const (
	synthesisThreshold = 3
	rollingWindow      = 30 * 24 * time.Hour
)

var typePriority = map[CorrectionType]int{
	TypeFormatPreference: 70,
	TypeLengthAdjustment: 65,
	TypeToneAdjustment:   60,
	TypeContentAddition:  50,
	TypeContentRemoval:   50,
	TypeFactualError:     40,
}

// confidenceFor steps confidence up at 3, 5 and 10 occurrences.
func confidenceFor(occurrences int) float64 {
	switch {
	case occurrences >= 10:
		return 0.9
	case occurrences >= 5:
		return 0.8
	default:
		return 0.6
	}
}

// PreferenceStore accumulates corrections and synthesizes preferences once
// the same (user, type) pair recurs within the rolling window.
type PreferenceStore struct {
	mu          sync.Mutex
	corrections map[string][]Correction // by userID
	preferences map[string][]Preference // by userID
	now         func() time.Time
}

// NewPreferenceStore creates an empty in-memory store.
func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{
		corrections: make(map[string][]Correction),
		preferences: make(map[string][]Preference),
		now:         time.Now,
	}
}

// RecordCorrection stores a correction and returns the preference it
// synthesized or reinforced, if the occurrence threshold was reached.
func (s *PreferenceStore) RecordCorrection(c Correction, scope Scope) *Preference {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.corrections[c.UserID] = append(s.corrections[c.UserID], c)

	count := s.recentCount(c.UserID, c.Type)
	if count < synthesisThreshold {
		return nil
	}

	pref := Preference{
		UserID:          c.UserID,
		Type:            c.Type,
		Key:             preferenceKey(c.Type),
		Value:           preferenceValue(c),
		ConfidenceScore: confidenceFor(count),
		Priority:        typePriority[c.Type],
		Scope:           scope,
		UpdatedAt:       s.now().UTC(),
	}

	prefs := s.preferences[c.UserID]
	for i := range prefs {
		if prefs[i].Type == pref.Type && prefs[i].Scope == pref.Scope {
			pref.TimesApplied = prefs[i].TimesApplied
			pref.TimesSuccessful = prefs[i].TimesSuccessful
			pref.TimesOverridden = prefs[i].TimesOverridden
			prefs[i] = pref
			return &pref
		}
	}
	s.preferences[c.UserID] = append(prefs, pref)
	return &pref
}

// recentCount counts same-type corrections inside the rolling window.
func (s *PreferenceStore) recentCount(userID string, t CorrectionType) int {
	cutoff := s.now().UTC().Add(-rollingWindow)
	n := 0
	for _, c := range s.corrections[userID] {
		if c.Type == t && !c.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// Preferences returns a user's synthesized preferences ordered by lookup
// precedence: scope narrowest first, then priority, confidence, recency.
func (s *PreferenceStore) Preferences(userID string) []Preference {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Preference, len(s.preferences[userID]))
	copy(out, s.preferences[userID])
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Scope.rank() != out[j].Scope.rank() {
			return out[i].Scope.rank() < out[j].Scope.rank()
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].ConfidenceScore != out[j].ConfidenceScore {
			return out[i].ConfidenceScore > out[j].ConfidenceScore
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// MarkApplied bumps the applied counter for a user's preference of a type.
func (s *PreferenceStore) MarkApplied(userID string, t CorrectionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := s.preferences[userID]
	for i := range prefs {
		if prefs[i].Type == t {
			prefs[i].TimesApplied++
		}
	}
}

// preferenceKey names the rewrite parameter each correction type controls.
func preferenceKey(t CorrectionType) string {
	switch t {
	case TypeFormatPreference:
		return "format"
	case TypeLengthAdjustment:
		return "max_sentences"
	case TypeToneAdjustment:
		return "tone"
	default:
		return string(t)
	}
}

// preferenceValue derives the rewrite target from the corrected text: the
// human's edit shows the shape they wanted.
func preferenceValue(c Correction) string {
	switch c.Type {
	case TypeFormatPreference:
		if numberedPrefixPattern.MatchString(c.Corrected) {
			return "numbered"
		}
		if listPrefixPattern.MatchString(c.Corrected) {
			return "bullets"
		}
		return "paragraph"
	case TypeLengthAdjustment:
		n := len(splitSentences(c.Corrected))
		if n < 1 {
			n = 1
		}
		return strconv.Itoa(n)
	case TypeToneAdjustment:
		if countContractions(c.Corrected) > countContractions(c.Original) {
			return "casual"
		}
		return "formal"
	default:
		return ""
	}
}

// splitSentences breaks text on terminal punctuation. Good enough for
// truncation; not a linguistic segmenter.
func splitSentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}
