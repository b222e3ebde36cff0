package rag

import (
	"fmt"
	"strings"

	"github.com/mentora-app/mentora-go/internal/budget"
)

// EmptyContext is the block handed to the model when retrieval produced no
// passages. It is not an error value: forwarding it lets the assistant say
// honestly that nothing relevant was found instead of inventing verses.
const EmptyContext = "No relevant passages found in the knowledge base."

// blockSeparator joins rendered passage blocks. Distinctive enough that the
// model can tell passages apart without mistaking the separator for content.
const blockSeparator = "\n\n---\n\n"

// BuildContext renders ranked passages into the single bounded text block
// handed to the generation model. Passages render in input order; once the
// estimated token total would exceed maxTokens, the remaining (lower-ranked)
// passages are dropped whole. maxTokens <= 0 applies
// [budget.DefaultMaxContextTokens].
//
// A passage without a locator renders unlabeled — no chapter/verse style
// identifier is ever invented for it.
func BuildContext(passages []Passage, maxTokens int) string {
	if len(passages) == 0 {
		return EmptyContext
	}
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}

	sepTokens := budget.Estimate(blockSeparator)

	var blocks []string
	total := 0
	for _, p := range passages {
		block := renderPassage(p)
		if block == "" {
			continue
		}
		cost := budget.Estimate(block)
		if len(blocks) > 0 {
			cost += sepTokens
		}
		if total+cost > maxTokens && len(blocks) > 0 {
			break
		}
		blocks = append(blocks, block)
		total += cost
	}

	if len(blocks) == 0 {
		return EmptyContext
	}
	return strings.Join(blocks, blockSeparator)
}

// renderPassage formats one passage: an optional locator header followed by
// whichever labeled text fields are present, in fixed order. Returns an
// empty string when the passage has no text at all.
func renderPassage(p Passage) string {
	var parts []string

	if p.Sanskrit != "" {
		parts = append(parts, "Sanskrit:\n"+p.Sanskrit)
	}
	if p.Transliteration != "" {
		parts = append(parts, "Transliteration:\n"+p.Transliteration)
	}
	if p.Synonyms != "" {
		parts = append(parts, "Synonyms:\n"+p.Synonyms)
	}
	if p.Translation != "" {
		parts = append(parts, "Translation:\n"+p.Translation)
	}
	if p.Purport != "" {
		parts = append(parts, "Purport:\n"+p.Purport)
	}

	if len(parts) == 0 {
		return ""
	}

	body := strings.Join(parts, "\n\n")
	if p.Chapter > 0 && p.Verse > 0 {
		return fmt.Sprintf("Bhagavad-gītā %d.%d:\n%s", p.Chapter, p.Verse, body)
	}
	return body
}
