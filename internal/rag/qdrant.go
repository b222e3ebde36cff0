package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for the Qdrant instance that
// backs the passage index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection holding the embedded corpus.
	Collection string

	// VectorSize is the dimensionality of the passage embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements PassageStore backed by a Qdrant collection.
// The collection is created lazily on first use; creation is idempotent so
// concurrent first-time callers (including other processes) never fail
// each other.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// mu guards ready. A sync.Once would pin a transient init failure
	// forever; a flag lets the next caller retry.
	mu    sync.Mutex
	ready bool
}

// NewQdrantStore creates a QdrantStore. The gRPC client is constructed
// eagerly so misconfiguration fails at startup, but the collection itself
// is only ensured on the first Search or Upsert.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ensureCollection creates the collection with the configured vector size
// and cosine distance if it does not already exist. A create that loses the
// race to a concurrent creator is treated as success: the failure is only
// surfaced if the collection still does not exist afterwards.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		s.ready = true
		return nil
	}

	createErr := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if createErr != nil {
		// Another initializer may have won the race between our existence
		// check and the create. Re-check before reporting failure.
		exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
		if err == nil && exists {
			s.ready = true
			return nil
		}
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, createErr)
	}

	s.ready = true
	return nil
}

// Upsert stores or updates a batch of passages with their embeddings.
// Embeddings must be pre-computed; this method never calls the Embedder.
func (s *QdrantStore) Upsert(ctx context.Context, passages []Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("qdrant: %d passages but %d embeddings", len(passages), len(embeddings))
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(passages))
	for i, p := range passages {
		payload := map[string]interface{}{}
		if p.Chapter > 0 && p.Verse > 0 {
			payload["chapter"] = p.Chapter
			payload["verse"] = p.Verse
		}
		if p.Sanskrit != "" {
			payload["sanskrit"] = p.Sanskrit
		}
		if p.Transliteration != "" {
			payload["transliteration"] = p.Transliteration
		}
		if p.Synonyms != "" {
			payload["synonyms"] = p.Synonyms
		}
		if p.Translation != "" {
			payload["translation"] = p.Translation
		}
		if p.Purport != "" {
			payload["purport"] = p.Purport
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the topK nearest
// passages, highest score first. Payload fields absent on a point stay
// empty on the returned Passage.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Passage, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		p := Passage{
			ID:    r.Id.GetUuid(),
			Score: r.Score,
		}
		if payload := r.Payload; payload != nil {
			if v, ok := payload["chapter"]; ok {
				p.Chapter = int(v.GetIntegerValue())
			}
			if v, ok := payload["verse"]; ok {
				p.Verse = int(v.GetIntegerValue())
			}
			if v, ok := payload["sanskrit"]; ok {
				p.Sanskrit = v.GetStringValue()
			}
			if v, ok := payload["transliteration"]; ok {
				p.Transliteration = v.GetStringValue()
			}
			if v, ok := payload["synonyms"]; ok {
				p.Synonyms = v.GetStringValue()
			}
			if v, ok := payload["translation"]; ok {
				p.Translation = v.GetStringValue()
			}
			if v, ok := payload["purport"]; ok {
				p.Purport = v.GetStringValue()
			}
		}
		passages = append(passages, p)
	}

	return passages, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
