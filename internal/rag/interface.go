// Package rag defines the retrieval components of the Mentora pipeline:
// passage storage and similarity search over the embedded Gītā corpus,
// query embedding, and context assembly. Concrete backends (Qdrant, HTTP
// embedders) satisfy these interfaces so the chat pipeline never depends
// on a specific vendor.
package rag

import (
	"context"
)

// Passage is one atomic unit of the reference corpus: a single verse with
// its named text fields. Chapter and Verse form the structural locator;
// both are zero when a passage has no locator. Text fields that were not
// present at ingestion time stay empty — they are never synthesised.
type Passage struct {
	// ID is the unique identifier of the passage in the index.
	ID string

	// Chapter and Verse locate the passage within the source text
	// (e.g. 2.47). Both zero means the passage carries no locator.
	Chapter int
	Verse   int

	// Sanskrit is the verse in Devanagari script.
	Sanskrit string

	// Transliteration is the romanised rendering of the verse.
	Transliteration string

	// Synonyms is the word-for-word gloss.
	Synonyms string

	// Translation is the English translation of the verse.
	Translation string

	// Purport is the commentary on the verse.
	Purport string

	// Score is the cosine similarity assigned at retrieval time (0.0–1.0).
	// Zero for passages that did not come from a search.
	Score float32
}

// PassageRef identifies a retrieved passage and its similarity score.
// The pipeline attaches a list of these to each persisted user message so
// a conversation records which verses grounded the reply.
type PassageRef struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// PassageStore is the interface for persisting and searching passage
// embeddings. Implementations must be safe for concurrent use and must
// initialise their backing collection lazily and idempotently: concurrent
// first-time callers must all succeed.
type PassageStore interface {
	// Upsert stores or updates a batch of passages with their pre-computed
	// embeddings. embeddings[i] is the vector for passages[i].
	Upsert(ctx context.Context, passages []Passage, embeddings [][]float32) error

	// Search returns the topK passages nearest to the query embedding,
	// ordered by descending similarity.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Passage, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface the chat pipeline calls to fetch
// relevant passages for a user question. It combines embedding and vector
// search. Implementations must be safe for concurrent use.
type Retriever interface {
	// Retrieve returns the topK most relevant passages for the query.
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}
