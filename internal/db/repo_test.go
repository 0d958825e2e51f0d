package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdnmon/internal/models"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, Migrate(conn))
	return NewRepository(conn)
}

func seedServer(t *testing.T, repo *Repository, hostname string) models.Server {
	t.Helper()
	id, err := repo.CreateServer(context.Background(), models.Server{
		Hostname:  hostname,
		IPAddress: "10.0.0.1",
		Port:      1985,
		Role:      models.RoleEdge,
		APIType:   models.APITypeSRS,
	})
	require.NoError(t, err)
	s, err := repo.GetServer(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestCreateAndGetServer(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")

	assert.Equal(t, "edge-1", s.Hostname)
	assert.Equal(t, models.StatusUnknown, s.Status)
	assert.Nil(t, s.StatusChangedAt)
	assert.False(t, s.CreatedAt.IsZero())

	_, err := repo.GetServer(context.Background(), 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateHostnameRejected(t *testing.T) {
	repo := testRepo(t)
	seedServer(t, repo, "edge-1")
	_, err := repo.CreateServer(context.Background(), models.Server{Hostname: "edge-1", IPAddress: "10.0.0.2"})
	require.Error(t, err)
}

func TestSetStatus(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetStatus(context.Background(), s.ID, models.StatusDown, at))

	got, err := repo.GetServer(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDown, got.Status)
	require.NotNil(t, got.StatusChangedAt)
	assert.True(t, got.StatusChangedAt.Equal(at))
}

func TestMetricRoundTrip(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()

	cpu, mem := 25.0, 40.0
	_, err := repo.AppendMetric(ctx, models.Metric{
		ServerID:          s.ID,
		TS:                time.Now().UTC(),
		CPUUsage:          &cpu,
		MemoryUsage:       &mem,
		ActiveConnections: 12,
		StreamCount:       3,
		BandwidthIn:       0.7,
		BandwidthOut:      1.2,
	})
	require.NoError(t, err)

	m, err := repo.LatestMetric(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, m.CPUUsage)
	assert.InDelta(t, 25.0, *m.CPUUsage, 0.001)
	assert.Equal(t, 12, m.ActiveConnections)
	assert.InDelta(t, 1.2, m.BandwidthOut, 0.0001)
}

func TestFailureSampleKeepsNilGauges(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()

	_, err := repo.AppendMetric(ctx, models.Metric{ServerID: s.ID, TS: time.Now().UTC(), ErrorCount: 1})
	require.NoError(t, err)

	m, err := repo.LatestMetric(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, m.CPUUsage)
	assert.Nil(t, m.MemoryUsage)
	assert.Equal(t, 1, m.ErrorCount)
}

func TestLatestMetricPicksNewest(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := repo.AppendMetric(ctx, models.Metric{
			ServerID: s.ID, TS: base.Add(time.Duration(i) * time.Minute), ActiveConnections: i,
		})
		require.NoError(t, err)
	}

	m, err := repo.LatestMetric(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ActiveConnections)

	recent, err := repo.RecentMetrics(ctx, s.ID, base.Add(30*time.Second), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDeleteServerCascadesMetricsAndDetachesAlerts(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()

	_, err := repo.AppendMetric(ctx, models.Metric{ServerID: s.ID, TS: time.Now().UTC()})
	require.NoError(t, err)
	alertID, err := repo.AppendAlert(ctx, models.Alert{
		ServerID: &s.ID, AlertType: models.AlertServerDown,
		Severity: models.SeverityCritical, Message: "down",
	})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteServer(ctx, s.ID))

	n, err := repo.MetricCount(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Alert survives with the server reference detached.
	open, err := repo.ListOpenAlerts(ctx, nil, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, alertID, open[0].ID)
	assert.Nil(t, open[0].ServerID)
}

func TestAcknowledgeAlert(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()

	id, err := repo.AppendAlert(ctx, models.Alert{
		ServerID: &s.ID, AlertType: models.AlertCPUHigh,
		Severity: models.SeverityWarning, Message: "cpu",
	})
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AcknowledgeAlert(ctx, id, at))

	open, err := repo.ListOpenAlerts(ctx, &s.ID, "")
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := repo.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Acknowledged)
	require.NotNil(t, all[0].AcknowledgedAt)

	// Acknowledging again is a no-op, not an error.
	require.NoError(t, repo.AcknowledgeAlert(ctx, id, at.Add(time.Hour)))
	require.ErrorIs(t, repo.AcknowledgeAlert(ctx, 9999, at), ErrNotFound)
}

func TestListOpenAlertsFilters(t *testing.T) {
	repo := testRepo(t)
	a := seedServer(t, repo, "edge-1")
	b := seedServer(t, repo, "edge-2")
	ctx := context.Background()

	_, err := repo.AppendAlert(ctx, models.Alert{ServerID: &a.ID, AlertType: models.AlertCPUHigh, Severity: models.SeverityWarning, Message: "cpu"})
	require.NoError(t, err)
	_, err = repo.AppendAlert(ctx, models.Alert{ServerID: &a.ID, AlertType: models.AlertMemoryHigh, Severity: models.SeverityError, Message: "mem"})
	require.NoError(t, err)
	_, err = repo.AppendAlert(ctx, models.Alert{ServerID: &b.ID, AlertType: models.AlertCPUHigh, Severity: models.SeverityWarning, Message: "cpu"})
	require.NoError(t, err)

	open, err := repo.ListOpenAlerts(ctx, &a.ID, "")
	require.NoError(t, err)
	assert.Len(t, open, 2)

	open, err = repo.ListOpenAlerts(ctx, &a.ID, models.AlertCPUHigh)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertCPUHigh, open[0].AlertType)
}

func TestLatestPerServer(t *testing.T) {
	repo := testRepo(t)
	a := seedServer(t, repo, "edge-1")
	b := seedServer(t, repo, "origin-1")
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two samples for a; the rollup must use only the newest.
	_, err := repo.AppendMetric(ctx, models.Metric{ServerID: a.ID, TS: base, ActiveConnections: 5, StreamCount: 1, BandwidthIn: 0.1, BandwidthOut: 0.2})
	require.NoError(t, err)
	_, err = repo.AppendMetric(ctx, models.Metric{ServerID: a.ID, TS: base.Add(time.Minute), ActiveConnections: 8, StreamCount: 2, BandwidthIn: 0.7, BandwidthOut: 1.2})
	require.NoError(t, err)

	rollups, err := repo.LatestPerServer(ctx)
	require.NoError(t, err)
	require.Len(t, rollups, 2)

	byID := map[int64]ServerRollup{}
	for _, r := range rollups {
		byID[r.ServerID] = r
	}
	assert.Equal(t, 8, byID[a.ID].Connections)
	assert.Equal(t, 2, byID[a.ID].Streams)
	assert.InDelta(t, 1.2, byID[a.ID].BandwidthUp, 0.0001)

	// Server without samples still appears, zeroed.
	assert.Zero(t, byID[b.ID].Connections)
	assert.Equal(t, models.StatusUnknown, byID[b.ID].Status)
}

func TestDeleteOlderThan(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.AppendMetric(ctx, models.Metric{ServerID: s.ID, TS: cutoff.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = repo.AppendMetric(ctx, models.Metric{ServerID: s.ID, TS: cutoff.Add(time.Hour)})
	require.NoError(t, err)

	oldAcked, err := repo.AppendAlert(ctx, models.Alert{ServerID: &s.ID, AlertType: models.AlertCPUHigh, Severity: models.SeverityWarning, Message: "old", CreatedAt: cutoff.Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, repo.AcknowledgeAlert(ctx, oldAcked, cutoff.Add(-time.Minute)))
	_, err = repo.AppendAlert(ctx, models.Alert{ServerID: &s.ID, AlertType: models.AlertMemoryHigh, Severity: models.SeverityError, Message: "old but open", CreatedAt: cutoff.Add(-time.Hour)})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteOlderThan(ctx, cutoff))

	n, err := repo.MetricCount(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The expired open alert is kept, the acked one is swept.
	all, err := repo.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "old but open", all[0].Message)
}

func TestUpdateServer(t *testing.T) {
	repo := testRepo(t)
	s := seedServer(t, repo, "edge-1")
	ctx := context.Background()

	s.Role = models.RoleOrigin
	s.Port = 8080
	require.NoError(t, repo.UpdateServer(ctx, s))

	got, err := repo.GetServer(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOrigin, got.Role)
	assert.Equal(t, 8080, got.Port)

	missing := got
	missing.ID = 9999
	require.ErrorIs(t, repo.UpdateServer(ctx, missing), ErrNotFound)
}
