package stats

import (
	"context"

	"cdnmon/internal/db"
	"cdnmon/internal/models"
)

// Builder computes the cluster-wide rollup for dashboard reads. Each build
// is derived from a single latest-per-server read, so a server's status and
// its newest sample always come from the same point in time: a down server
// is never presented with another cycle's bandwidth.
type Builder struct {
	repo *db.Repository
}

func NewBuilder(repo *db.Repository) *Builder {
	return &Builder{repo: repo}
}

func (b *Builder) Build(ctx context.Context) (models.Snapshot, error) {
	rows, err := b.repo.LatestPerServer(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	snap := models.Snapshot{
		StatusCounts: map[string]int{
			models.StatusUp:      0,
			models.StatusDown:    0,
			models.StatusUnknown: 0,
		},
		RoleCounts: map[string]int{
			models.RoleOrigin:       0,
			models.RoleEdge:         0,
			models.RoleLoadBalancer: 0,
		},
	}
	for _, row := range rows {
		snap.TotalServers++
		snap.StatusCounts[row.Status]++
		snap.RoleCounts[row.Role]++
		snap.TotalConnections += row.Connections
		snap.TotalStreams += row.Streams
		snap.TotalBandwidthIn += row.BandwidthIn
		snap.TotalBandwidthUp += row.BandwidthUp
	}
	return snap, nil
}
