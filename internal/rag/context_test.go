package rag

import (
	"strings"
	"testing"
)

func fullPassage(chapter, verse int) Passage {
	return Passage{
		Chapter:         chapter,
		Verse:           verse,
		Sanskrit:        "कर्मण्येवाधिकारस्ते",
		Transliteration: "karmaṇy evādhikāras te",
		Synonyms:        "karmaṇi — in prescribed duties",
		Translation:     "You have a right to perform your prescribed duty.",
		Purport:         "The Lord here explains the principle of duty without attachment.",
	}
}

// TestBuildContext_Empty verifies that no passages produces the fixed
// empty-context sentinel rather than an empty string or an error.
func TestBuildContext_Empty(t *testing.T) {
	t.Parallel()

	got := BuildContext(nil, 0)
	if got != EmptyContext {
		t.Errorf("expected sentinel %q, got %q", EmptyContext, got)
	}
}

// TestBuildContext_LocatorHeader verifies that a passage with a locator is
// introduced by its chapter.verse header.
func TestBuildContext_LocatorHeader(t *testing.T) {
	t.Parallel()

	got := BuildContext([]Passage{fullPassage(2, 47)}, 0)

	if !strings.HasPrefix(got, "Bhagavad-gītā 2.47:") {
		t.Errorf("expected locator header, got: %q", got)
	}
}

// TestBuildContext_FieldOrderAndLabels verifies that the labeled fields
// render in fixed order regardless of which are present.
func TestBuildContext_FieldOrderAndLabels(t *testing.T) {
	t.Parallel()

	got := BuildContext([]Passage{fullPassage(2, 47)}, 0)

	labels := []string{"Sanskrit:", "Transliteration:", "Synonyms:", "Translation:", "Purport:"}
	last := -1
	for _, label := range labels {
		idx := strings.Index(got, label)
		if idx < 0 {
			t.Fatalf("label %q missing from context: %q", label, got)
		}
		if idx < last {
			t.Errorf("label %q out of order in context", label)
		}
		last = idx
	}
}

// TestBuildContext_MissingFieldsSkipped verifies that absent fields are
// skipped entirely — labels never appear with empty bodies.
func TestBuildContext_MissingFieldsSkipped(t *testing.T) {
	t.Parallel()

	p := Passage{Chapter: 9, Verse: 22, Translation: "I carry what they lack and preserve what they have."}
	got := BuildContext([]Passage{p}, 0)

	if strings.Contains(got, "Sanskrit:") || strings.Contains(got, "Purport:") {
		t.Errorf("expected absent fields to be skipped, got: %q", got)
	}
	if !strings.Contains(got, "Translation:") {
		t.Errorf("expected present field to render, got: %q", got)
	}
}

// TestBuildContext_NoFabricatedLocator verifies that a locator-less passage
// renders without any invented identifier.
func TestBuildContext_NoFabricatedLocator(t *testing.T) {
	t.Parallel()

	p := Passage{Translation: "A fragment without a known origin."}
	got := BuildContext([]Passage{p}, 0)

	if strings.Contains(got, "Bhagavad-gītā") {
		t.Errorf("expected no locator for locator-less passage, got: %q", got)
	}
	if !strings.Contains(got, "A fragment without a known origin.") {
		t.Errorf("expected passage text to render, got: %q", got)
	}
}

// TestBuildContext_Separator verifies that multiple passages are joined by
// the block separator in input order.
func TestBuildContext_Separator(t *testing.T) {
	t.Parallel()

	got := BuildContext([]Passage{fullPassage(2, 47), fullPassage(2, 48)}, 0)

	blocks := strings.Split(got, "\n\n---\n\n")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %q", len(blocks), got)
	}
	if !strings.HasPrefix(blocks[0], "Bhagavad-gītā 2.47:") {
		t.Errorf("first block should be 2.47, got: %q", blocks[0])
	}
	if !strings.HasPrefix(blocks[1], "Bhagavad-gītā 2.48:") {
		t.Errorf("second block should be 2.48, got: %q", blocks[1])
	}
}

// TestBuildContext_BudgetDropsTail verifies that when the budget runs out,
// whole lower-ranked passages are dropped — never truncated mid-passage.
func TestBuildContext_BudgetDropsTail(t *testing.T) {
	t.Parallel()

	passages := []Passage{
		{Chapter: 1, Verse: 1, Translation: strings.Repeat("alpha ", 50)},
		{Chapter: 1, Verse: 2, Translation: strings.Repeat("beta ", 50)},
		{Chapter: 1, Verse: 3, Translation: strings.Repeat("gamma ", 50)},
	}

	// Budget fits roughly one block.
	got := BuildContext(passages, 100)

	if !strings.Contains(got, "alpha") {
		t.Errorf("highest-ranked passage must survive, got: %q", got)
	}
	if strings.Contains(got, "gamma") {
		t.Errorf("lowest-ranked passage should be dropped under budget, got: %q", got)
	}
	if strings.Contains(got, "beta") && !strings.Contains(got, "Bhagavad-gītā 1.2:\nTranslation:") {
		t.Errorf("passages must be dropped whole, not truncated: %q", got)
	}
}

// TestBuildContext_FirstPassageAlwaysKept verifies that even an over-budget
// top passage is kept, so retrieval never degrades to the empty sentinel
// while results exist.
func TestBuildContext_FirstPassageAlwaysKept(t *testing.T) {
	t.Parallel()

	p := Passage{Chapter: 18, Verse: 66, Translation: strings.Repeat("surrender ", 500)}
	got := BuildContext([]Passage{p}, 10)

	if got == EmptyContext {
		t.Error("top passage must be kept even when over budget")
	}
}

// TestBuildContext_AllEmptyPassages verifies that passages with no text at
// all fall back to the empty-context sentinel.
func TestBuildContext_AllEmptyPassages(t *testing.T) {
	t.Parallel()

	got := BuildContext([]Passage{{Chapter: 1, Verse: 1}}, 0)
	if got != EmptyContext {
		t.Errorf("expected sentinel for textless passages, got %q", got)
	}
}
