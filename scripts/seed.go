// Seed script for loading demo data into a local synapse store.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/synapse/internal/config"
	"github.com/Harshitk-cp/synapse/internal/domain"
	"github.com/Harshitk-cp/synapse/internal/embedding"
	"github.com/Harshitk-cp/synapse/internal/engine"
	"github.com/Harshitk-cp/synapse/internal/storage/jsonfile"
	"github.com/Harshitk-cp/synapse/internal/storage/postgres"
	"github.com/Harshitk-cp/synapse/internal/storage/sqlitestore"
)

func main() {
	_ = config.Load()
	ctx := context.Background()

	storage, closeStorage, err := openStorage(ctx)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	if closeStorage != nil {
		defer closeStorage()
	}
	fmt.Printf("Seeding %s storage\n", config.StorageBackend())

	// Mock embeddings keep the script offline and deterministic. Query the
	// seeded data with SYNAPSE_EMBEDDING_PROVIDER=mock so the vectors match.
	eng := engine.New(storage, embedding.NewMockClient(), nil, zap.NewNop(), engine.DefaultConfig())
	if err := eng.Load(ctx); err != nil {
		log.Fatalf("Failed to load engine: %v", err)
	}

	memories := []engine.StoreRequest{
		{
			Agent: "planner", Text: "User prefers dark mode in every interface",
			Category: "preference", Importance: 0.8, Source: "user_explicit",
			Claim: &domain.Claim{Subject: "user", Predicate: "ui_theme", Value: "dark"},
		},
		{
			Agent: "planner", Text: "User's primary programming language is Go",
			Category: "fact", Importance: 0.7, Source: "user_implicit",
			Claim: &domain.Claim{Subject: "user", Predicate: "primary_language", Value: "Go"},
		},
		{
			Agent: "planner", Text: "PostgreSQL is the database for the search service",
			Category: "decision", Importance: 0.9, Tags: []string{"infra", "database"},
			Source: "user_explicit",
		},
		{
			Agent: "planner", Text: "The ingest pipeline streams events through a worker pool",
			Category: "decision", Importance: 0.7, Tags: []string{"infra", "architecture"},
			Source: "user_explicit",
		},
		{
			Agent: "researcher", Text: "pgvector HNSW indexes cut recall latency by roughly 40 percent",
			Category: "finding", Importance: 0.6, Tags: []string{"database", "benchmarks"},
			Source: "tool_output", SourceID: "bench-2041",
		},
		{
			Agent: "researcher", Text: "The staging cluster runs Kubernetes 1.30",
			Category: "fact", Importance: 0.5, Tags: []string{"infra"},
			Source: "tool_output", SourceID: "kubectl-version",
		},
	}

	var planner []string
	for _, req := range memories {
		res, err := eng.Store(ctx, req)
		if err != nil {
			log.Printf("Warning: failed to store memory: %v", err)
			continue
		}
		fmt.Printf("Stored [%s/%s]: %s\n", req.Agent, req.Category, truncate(req.Text, 50))
		if req.Agent == "planner" {
			planner = append(planner, res.ID)
		}
	}

	// A pair of competing claims demonstrates supersession: the newer value
	// wins and the older memory is retired, not deleted.
	first, err := eng.Store(ctx, engine.StoreRequest{
		Agent: "planner", Text: "User timezone is US/Eastern",
		Category: "fact", Source: "user_implicit",
		Claim: &domain.Claim{Subject: "user", Predicate: "timezone", Value: "US/Eastern"},
	})
	if err != nil {
		log.Fatalf("Failed to store timezone claim: %v", err)
	}
	second, err := eng.Store(ctx, engine.StoreRequest{
		Agent: "planner", Text: "User timezone is Europe/Berlin after the relocation",
		Category: "fact", Source: "user_explicit",
		Claim: &domain.Claim{Subject: "user", Predicate: "timezone", Value: "Europe/Berlin"},
	})
	if err != nil {
		log.Fatalf("Failed to store timezone claim: %v", err)
	}
	if old, err := eng.Get(first.ID); err == nil && old.Status == domain.StatusSuperseded {
		fmt.Printf("Claim conflict: %s superseded by %s\n", first.ID, second.ID)
	}

	// A quarantined tool observation waits for review instead of activating.
	held, err := eng.Store(ctx, engine.StoreRequest{
		Agent: "researcher", Text: "Flaky network test traced to an MTU mismatch on the edge router",
		Category: "finding", Source: "tool_output", SourceID: "ci-7731",
		Quarantine: true,
	})
	if err != nil {
		log.Fatalf("Failed to store quarantined memory: %v", err)
	}
	fmt.Printf("Quarantined for review: %s\n", held.ID)

	ep, err := eng.CreateEpisode(ctx, "search service kickoff", planner, []string{"sprint-12"})
	if err != nil {
		log.Fatalf("Failed to create episode: %v", err)
	}
	fmt.Printf("Created episode %q with %d memories\n", ep.Name, len(ep.MemoryIDs))

	report := eng.Health()
	fmt.Printf("\n=== Seed Complete ===\n")
	fmt.Printf("%d memories across %d agents, %d links\n",
		report.Total, len(report.ByAgent), report.Links)
	fmt.Println("\nTo inspect the seeded graph:")
	fmt.Println("  SYNAPSE_EMBEDDING_PROVIDER=mock go run ./cmd/synapse health")
	fmt.Println("  SYNAPSE_EMBEDDING_PROVIDER=mock go run ./cmd/synapse search \"database\" --agent planner")
	fmt.Println("  SYNAPSE_EMBEDDING_PROVIDER=mock go run ./cmd/synapse context \"user preferences\"")
}

func openStorage(ctx context.Context) (domain.Storage, func(), error) {
	switch backend := config.StorageBackend(); backend {
	case "json":
		s, err := jsonfile.New(config.DataDir())
		return s, nil, err
	case "sqlite":
		if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
			return nil, nil, err
		}
		s, err := sqlitestore.New(filepath.Join(config.DataDir(), "synapse.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		url := config.DatabaseURL()
		if url == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		s, err := postgres.New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
