package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// DBPinger probes the SQLite database backing the conversation store and the
// quota ledger. It satisfies the Pinger interface and is used by GET /api/ready.
type DBPinger struct {
	// db is the database connection pool to probe.
	db *sql.DB
}

// NewDBPinger constructs a DBPinger for the given database pool.
func NewDBPinger(db *sql.DB) *DBPinger {
	return &DBPinger{db: db}
}

// Name returns the dependency label used in readiness responses.
func (p *DBPinger) Name() string { return "sqlite" }

// Ping verifies the database connection is alive.
func (p *DBPinger) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
