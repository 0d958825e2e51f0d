package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdnmon/internal/db"
	"cdnmon/internal/models"
)

func testRepo(t *testing.T) *db.Repository {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Migrate(conn))
	return db.NewRepository(conn)
}

func addServer(t *testing.T, repo *db.Repository, hostname, role, status string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := repo.CreateServer(ctx, models.Server{
		Hostname: hostname, IPAddress: "10.0.0.1", Port: 1985,
		Role: role, APIType: models.APITypeSRS,
	})
	require.NoError(t, err)
	if status != "" {
		require.NoError(t, repo.SetStatus(ctx, id, status, time.Now().UTC()))
	}
	return id
}

func TestBuildEmptyRegistry(t *testing.T) {
	b := NewBuilder(testRepo(t))
	snap, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snap.TotalServers)
	// Counters are pre-seeded so the response shape is stable.
	assert.Equal(t, 0, snap.StatusCounts[models.StatusUp])
	assert.Equal(t, 0, snap.RoleCounts[models.RoleEdge])
}

func TestBuildAggregatesLatestSamples(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	edge := addServer(t, repo, "edge-1", models.RoleEdge, models.StatusUp)
	origin := addServer(t, repo, "origin-1", models.RoleOrigin, models.StatusUp)
	down := addServer(t, repo, "edge-2", models.RoleEdge, models.StatusDown)

	// Stale sample for edge first; only the newer one may count.
	_, err := repo.AppendMetric(ctx, models.Metric{ServerID: edge, TS: base, ActiveConnections: 100, StreamCount: 9, BandwidthIn: 9, BandwidthOut: 9})
	require.NoError(t, err)
	_, err = repo.AppendMetric(ctx, models.Metric{ServerID: edge, TS: base.Add(time.Minute), ActiveConnections: 10, StreamCount: 2, BandwidthIn: 0.7, BandwidthOut: 1.2})
	require.NoError(t, err)
	_, err = repo.AppendMetric(ctx, models.Metric{ServerID: origin, TS: base.Add(time.Minute), ActiveConnections: 5, StreamCount: 1, BandwidthIn: 0.3, BandwidthOut: 0.8})
	require.NoError(t, err)
	// The down server's latest is a zeroed failure sample.
	_, err = repo.AppendMetric(ctx, models.Metric{ServerID: down, TS: base.Add(time.Minute), ErrorCount: 1})
	require.NoError(t, err)

	snap, err := NewBuilder(repo).Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.TotalServers)
	assert.Equal(t, 2, snap.StatusCounts[models.StatusUp])
	assert.Equal(t, 1, snap.StatusCounts[models.StatusDown])
	assert.Equal(t, 2, snap.RoleCounts[models.RoleEdge])
	assert.Equal(t, 1, snap.RoleCounts[models.RoleOrigin])
	assert.Equal(t, 15, snap.TotalConnections)
	assert.Equal(t, 3, snap.TotalStreams)
	assert.InDelta(t, 1.0, snap.TotalBandwidthIn, 0.0001)
	assert.InDelta(t, 2.0, snap.TotalBandwidthUp, 0.0001)
}

func TestBuildCountsServersWithoutSamples(t *testing.T) {
	repo := testRepo(t)
	addServer(t, repo, "lb-1", models.RoleLoadBalancer, "")

	snap, err := NewBuilder(repo).Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.TotalServers)
	assert.Equal(t, 1, snap.StatusCounts[models.StatusUnknown])
	assert.Equal(t, 1, snap.RoleCounts[models.RoleLoadBalancer])
	assert.Zero(t, snap.TotalConnections)
}
