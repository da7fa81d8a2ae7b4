package learning

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		original  string
		corrected string
		want      CorrectionType
	}{
		{
			"paragraph rewritten as bullets",
			"The design meets code. The cost is within budget.",
			"- The design meets code.\n- The cost is within budget.",
			TypeFormatPreference,
		},
		{
			"bullets flattened to paragraph",
			"- first point\n- second point",
			"Both points hold together as one paragraph of comparable size.",
			TypeFormatPreference,
		},
		{
			"moderate shortening",
			"one two three four five six seven eight nine ten",
			"one two three four five six seven",
			TypeLengthAdjustment,
		},
		{
			"heavy removal",
			"one two three four five six seven eight nine ten",
			"one two",
			TypeContentRemoval,
		},
		{
			"expansion",
			"one two three four five",
			"one two three four five six seven eight",
			TypeContentAddition,
		},
		{
			"formal made casual",
			"We do not recommend this approach.",
			"We don't recommend this approach.",
			TypeToneAdjustment,
		},
		{
			"fact fixed in place",
			"The beam span is twelve meters.",
			"The beam span is fourteen meters.",
			TypeFactualError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.original, tc.corrected); got != tc.want {
				t.Errorf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPreferenceSynthesisThreshold(t *testing.T) {
	store := NewPreferenceStore()
	correction := Correction{
		UserID:    "reviewer-1",
		Original:  "We do not agree.",
		Corrected: "We don't agree.",
		Type:      TypeToneAdjustment,
	}

	if p := store.RecordCorrection(correction, ScopeGlobal); p != nil {
		t.Fatalf("preference synthesized after 1 correction: %+v", p)
	}
	if p := store.RecordCorrection(correction, ScopeGlobal); p != nil {
		t.Fatalf("preference synthesized after 2 corrections: %+v", p)
	}
	p := store.RecordCorrection(correction, ScopeGlobal)
	if p == nil {
		t.Fatal("no preference after 3 corrections")
	}
	if p.ConfidenceScore != 0.6 {
		t.Errorf("confidence = %v, want 0.6", p.ConfidenceScore)
	}
	if p.Priority != 60 {
		t.Errorf("priority = %d, want 60", p.Priority)
	}
	if p.Key != "tone" || p.Value != "casual" {
		t.Errorf("key/value = %s/%s, want tone/casual", p.Key, p.Value)
	}

	// Confidence steps up at 5 and 10 occurrences.
	for i := 0; i < 2; i++ {
		p = store.RecordCorrection(correction, ScopeGlobal)
	}
	if p.ConfidenceScore != 0.8 {
		t.Errorf("confidence at 5 = %v, want 0.8", p.ConfidenceScore)
	}
	for i := 0; i < 5; i++ {
		p = store.RecordCorrection(correction, ScopeGlobal)
	}
	if p.ConfidenceScore != 0.9 {
		t.Errorf("confidence at 10 = %v, want 0.9", p.ConfidenceScore)
	}

	if got := len(store.Preferences("reviewer-1")); got != 1 {
		t.Errorf("preference count = %d, want 1 (reinforced, not duplicated)", got)
	}
}

func TestRollingWindowExcludesOldCorrections(t *testing.T) {
	store := NewPreferenceStore()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old := Correction{
		UserID:    "reviewer-2",
		Type:      TypeFormatPreference,
		Corrected: "- a bullet",
		CreatedAt: now.Add(-40 * 24 * time.Hour),
	}
	store.RecordCorrection(old, ScopeGlobal)
	store.RecordCorrection(old, ScopeGlobal)

	fresh := old
	fresh.CreatedAt = now
	if p := store.RecordCorrection(fresh, ScopeGlobal); p != nil {
		t.Fatalf("stale corrections counted toward threshold: %+v", p)
	}
}

func TestPreferenceOrderingScopeThenPriority(t *testing.T) {
	store := NewPreferenceStore()
	record := func(c Correction, scope Scope) {
		for i := 0; i < 3; i++ {
			store.RecordCorrection(c, scope)
		}
	}

	tone := Correction{UserID: "u", Type: TypeToneAdjustment, Original: "do not", Corrected: "don't"}
	format := Correction{UserID: "u", Type: TypeFormatPreference, Corrected: "- x"}

	record(tone, ScopeGlobal)
	record(format, ScopeGlobal)
	record(tone, ScopeTask)

	prefs := store.Preferences("u")
	if len(prefs) != 3 {
		t.Fatalf("preference count = %d, want 3", len(prefs))
	}
	if prefs[0].Scope != ScopeTask {
		t.Errorf("first preference scope = %s, want task", prefs[0].Scope)
	}
	// Within the same scope, format (70) outranks tone (60).
	if prefs[1].Type != TypeFormatPreference || prefs[2].Type != TypeToneAdjustment {
		t.Errorf("global ordering = %s, %s; want format then tone", prefs[1].Type, prefs[2].Type)
	}
}

func applyTwice(t *testing.T, store *PreferenceStore, text, userID string) string {
	t.Helper()
	once := store.ApplyToResponse(text, userID)
	twice := store.ApplyToResponse(once, userID)
	if once != twice {
		t.Errorf("apply is not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
	return once
}

func TestApplyBulletFormatIdempotent(t *testing.T) {
	store := NewPreferenceStore()
	c := Correction{UserID: "u", Type: TypeFormatPreference, Corrected: "- point"}
	for i := 0; i < 3; i++ {
		store.RecordCorrection(c, ScopeGlobal)
	}

	got := applyTwice(t, store, "First finding. Second finding.", "u")
	want := "- First finding.\n- Second finding."
	if got != want {
		t.Errorf("bullets = %q, want %q", got, want)
	}
}

func TestApplyNumberedFormat(t *testing.T) {
	store := NewPreferenceStore()
	c := Correction{UserID: "u", Type: TypeFormatPreference, Corrected: "1. point"}
	for i := 0; i < 3; i++ {
		store.RecordCorrection(c, ScopeGlobal)
	}

	got := applyTwice(t, store, "First finding. Second finding.", "u")
	want := "1. First finding.\n2. Second finding."
	if got != want {
		t.Errorf("numbered = %q, want %q", got, want)
	}
}

func TestApplySentenceTruncation(t *testing.T) {
	store := NewPreferenceStore()
	c := Correction{
		UserID:    "u",
		Type:      TypeLengthAdjustment,
		Original:  "one two three four five six seven eight nine ten",
		Corrected: "Keep this. And this.",
	}
	for i := 0; i < 3; i++ {
		store.RecordCorrection(c, ScopeGlobal)
	}

	got := applyTwice(t, store, "A. B. C. D.", "u")
	if got != "A. B." {
		t.Errorf("truncated = %q, want %q", got, "A. B.")
	}
	// Already-short text passes through.
	if short := store.ApplyToResponse("Just one.", "u"); short != "Just one." {
		t.Errorf("short text changed: %q", short)
	}
}

func TestApplyToneSwaps(t *testing.T) {
	store := NewPreferenceStore()
	casual := Correction{UserID: "u", Type: TypeToneAdjustment, Original: "We do not agree.", Corrected: "We don't agree."}
	for i := 0; i < 3; i++ {
		store.RecordCorrection(casual, ScopeGlobal)
	}

	got := applyTwice(t, store, "We do not accept this. It is not final.", "u")
	if !strings.Contains(got, "don't") {
		t.Errorf("casual rewrite missing contraction: %q", got)
	}

	formal := NewPreferenceStore()
	f := Correction{UserID: "u", Type: TypeToneAdjustment, Original: "We don't agree.", Corrected: "We do not agree."}
	for i := 0; i < 3; i++ {
		formal.RecordCorrection(f, ScopeGlobal)
	}
	got = applyTwice(t, formal, "We can't sign this. Don't wait.", "u")
	if strings.Contains(strings.ToLower(got), "can't") {
		t.Errorf("formal rewrite kept contraction: %q", got)
	}
	if !strings.Contains(got, "Do not wait") {
		t.Errorf("capitalization not preserved: %q", got)
	}
}

func TestApplyScopeFilter(t *testing.T) {
	store := NewPreferenceStore()
	c := Correction{UserID: "u", Type: TypeFormatPreference, Corrected: "- point"}
	for i := 0; i < 3; i++ {
		store.RecordCorrection(c, ScopeTask)
	}

	text := "First. Second."
	if got := store.ApplyToResponse(text, "u", ScopeGlobal); got != text {
		t.Errorf("task-scoped preference applied under global filter: %q", got)
	}
	if got := store.ApplyToResponse(text, "u", ScopeTask); got == text {
		t.Error("task-scoped preference not applied under task filter")
	}
}
