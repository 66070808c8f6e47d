package seedstore

import (
	"context"
	"errors"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// startStore runs a PostgreSQL container with the repository migrations
// applied.
func startStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mer_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSaveLatestList(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	if _, err := s.Latest(ctx, "node-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: got %v, want ErrNotFound", err)
	}

	first := Record{NodeID: "node-a", SessionID: "s1", Digest: "d1", Bundle: `{"v":1}`, Concepts: 3, Episodes: 1}
	second := Record{NodeID: "node-a", SessionID: "s1", Digest: "d2", Bundle: `{"v":2}`, Concepts: 4, Episodes: 2}
	for _, r := range []Record{first, second} {
		inserted, err := s.Save(ctx, r)
		if err != nil || !inserted {
			t.Fatalf("save %s: inserted=%v err=%v", r.Digest, inserted, err)
		}
	}

	inserted, err := s.Save(ctx, second)
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if inserted {
		t.Error("same digest should not be stored twice")
	}

	latest, err := s.Latest(ctx, "node-a")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Digest != "d2" || latest.Bundle != `{"v":2}` || latest.Concepts != 4 {
		t.Errorf("got %+v", latest)
	}

	list, err := s.List(ctx, "node-a", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d records, want 2", len(list))
	}
	if list[0].Bundle != "" {
		t.Error("list should not load bundle bodies")
	}

	other, err := s.List(ctx, "node-b", 10)
	if err != nil || len(other) != 0 {
		t.Errorf("other node: got %v, %v", other, err)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := startStore(t)
	if err := s.Migrate(context.Background(), "../../migrations"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
