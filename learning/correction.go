// Package learning derives per-user output preferences from the corrections
// human reviewers make to generated deliverables.
package learning

import (
	"regexp"
	"strings"
	"time"
)

// CorrectionType classifies what a human changed about a generated output.
type CorrectionType string

const (
	TypeFormatPreference CorrectionType = "format_preference"
	TypeLengthAdjustment CorrectionType = "length_adjustment"
	TypeToneAdjustment   CorrectionType = "tone_adjustment"
	TypeContentAddition  CorrectionType = "content_addition"
	TypeContentRemoval   CorrectionType = "content_removal"
	TypeFactualError     CorrectionType = "factual_error"
)

// Correction is one AI-output-versus-human-edit pair.
type Correction struct {
	UserID    string         `json:"user_id"`
	Original  string         `json:"original"`
	Corrected string         `json:"corrected"`
	Type      CorrectionType `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
}

var listPrefixPattern = regexp.MustCompile(`(?m)^\s*([-*\x{2022}]|\d+[.)])\s+`)

// contractionPairs maps casual forms to their formal expansions. Tone
// detection and rewriting both use this list.
var contractionPairs = [][2]string{
	{"don't", "do not"},
	{"doesn't", "does not"},
	{"didn't", "did not"},
	{"can't", "cannot"},
	{"won't", "will not"},
	{"isn't", "is not"},
	{"aren't", "are not"},
	{"wasn't", "was not"},
	{"haven't", "have not"},
	{"hasn't", "has not"},
	{"it's", "it is"},
	{"that's", "that is"},
	{"we're", "we are"},
	{"you're", "you are"},
	{"they're", "they are"},
	{"i'm", "i am"},
	{"let's", "let us"},
	{"we'll", "we will"},
	{"you'll", "you will"},
}

// Classify determines the correction type from the original and corrected
// texts. Rules fire in order: list formatting changes, word-count ratio,
// contraction count shifts; anything else is a factual fix.
func Classify(original, corrected string) CorrectionType {
	origList := listPrefixPattern.MatchString(original)
	corrList := listPrefixPattern.MatchString(corrected)
	if origList != corrList {
		return TypeFormatPreference
	}

	origWords := len(strings.Fields(original))
	corrWords := len(strings.Fields(corrected))
	if origWords > 0 {
		ratio := float64(corrWords) / float64(origWords)
		switch {
		case ratio < 0.5:
			return TypeContentRemoval
		case ratio < 0.8:
			return TypeLengthAdjustment
		case ratio > 1.2:
			return TypeContentAddition
		}
	}

	if countContractions(original) != countContractions(corrected) {
		return TypeToneAdjustment
	}
	return TypeFactualError
}

// NewCorrection records and classifies one correction.
func NewCorrection(userID, original, corrected string) Correction {
	return Correction{
		UserID:    userID,
		Original:  original,
		Corrected: corrected,
		Type:      Classify(original, corrected),
		CreatedAt: time.Now().UTC(),
	}
}

func countContractions(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, pair := range contractionPairs {
		n += strings.Count(lower, pair[0])
	}
	return n
}
