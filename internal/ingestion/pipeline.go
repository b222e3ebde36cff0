// Package ingestion loads the verse corpus from its JSON export, embeds
// each verse, and upserts the results into the passage store. The pipeline
// is invoked by the `mentora ingest` CLI command and is safe to re-run:
// verse IDs are deterministic, so re-ingesting updates points in place.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/mentora-app/mentora-go/internal/rag"
)

// verseNamespace is the UUID namespace for deterministic verse point IDs.
// Derived once from a fixed name so IDs are stable across runs and machines.
var verseNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("mentora/bhagavad-gita"))

// Verse is one record of the corpus JSON export.
type Verse struct {
	// Chapter and Verse locate the record within the source text.
	Chapter int `json:"chapter"`
	Verse   int `json:"verse"`

	// Sanskrit is the verse in Devanagari script.
	Sanskrit string `json:"sanskrit"`

	// Transliteration is the romanised rendering.
	Transliteration string `json:"transliteration"`

	// Synonyms is the word-for-word gloss.
	Synonyms string `json:"synonyms"`

	// Translation is the English translation.
	Translation string `json:"translation"`

	// Purport is the commentary.
	Purport string `json:"purport"`
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of verses embedded and upserted per round
	// trip. Defaults to 32 if zero.
	BatchSize int
}

// Pipeline orchestrates the parse → embed → upsert flow for the corpus.
type Pipeline struct {
	// embedder converts verse text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded verses.
	store rag.PassageStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.PassageStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}, nil
}

// LoadFile reads and parses the corpus JSON export at path.
func LoadFile(path string) ([]Verse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()

	verses, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("ingestion: parse %s: %w", path, err)
	}
	return verses, nil
}

// Parse decodes a corpus JSON export: a top-level array of verse records.
// Records missing a chapter/verse locator are kept — retrieval renders them
// without one. Records with no text at all are rejected.
func Parse(r io.Reader) ([]Verse, error) {
	var verses []Verse
	if err := json.NewDecoder(r).Decode(&verses); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	for i, v := range verses {
		if embedText(v) == "" {
			return nil, fmt.Errorf("record %d (%d.%d) has no text", i, v.Chapter, v.Verse)
		}
	}

	return verses, nil
}

// Ingest embeds and stores all verses in batches. It processes batches
// sequentially and returns the first error encountered. Progress is
// reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, verses []Verse, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	total := 0
	for start := 0; start < len(verses); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(verses) {
			end = len(verses)
		}
		batch := verses[start:end]

		texts := make([]string, len(batch))
		for i, v := range batch {
			texts[i] = embedText(v)
		}

		embeddings, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("ingestion: embedding batch at %d failed: %w", start, err)
		}

		passages := make([]rag.Passage, len(batch))
		for i, v := range batch {
			passages[i] = rag.Passage{
				ID:              verseID(v),
				Chapter:         v.Chapter,
				Verse:           v.Verse,
				Sanskrit:        v.Sanskrit,
				Transliteration: v.Transliteration,
				Synonyms:        v.Synonyms,
				Translation:     v.Translation,
				Purport:         v.Purport,
			}
		}

		if err := p.store.Upsert(ctx, passages, embeddings); err != nil {
			return fmt.Errorf("ingestion: upsert batch at %d failed: %w", start, err)
		}

		total += len(batch)
		progress(fmt.Sprintf("ingested %d/%d verses", total, len(verses)))
	}

	return nil
}

// embedText builds the text that is embedded for a verse: the translation
// and purport carry the meaning a question will match against. Verses with
// neither fall back to the transliteration, then the Sanskrit.
func embedText(v Verse) string {
	var parts []string
	if t := strings.TrimSpace(v.Translation); t != "" {
		parts = append(parts, t)
	}
	if p := strings.TrimSpace(v.Purport); p != "" {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		if t := strings.TrimSpace(v.Transliteration); t != "" {
			parts = append(parts, t)
		} else if s := strings.TrimSpace(v.Sanskrit); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// verseID returns the deterministic point UUID for a verse. Locator-less
// records fall back to hashing their text so they still get a stable ID.
func verseID(v Verse) string {
	name := fmt.Sprintf("%d.%d", v.Chapter, v.Verse)
	if v.Chapter == 0 && v.Verse == 0 {
		name = embedText(v)
	}
	return uuid.NewSHA1(verseNamespace, []byte(name)).String()
}
