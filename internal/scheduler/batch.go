package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"linkgraph/internal/mesh"
	"linkgraph/internal/service"
)

// Updater reconciles every fetch topology
type Updater interface {
	UpdateAll(ctx context.Context) (*service.BatchResult, error)
}

// MeshBuilder rebuilds mesh topologies
type MeshBuilder interface {
	CreateMeshTopologies(ctx context.Context, organizationIDs []string, cutoff time.Duration) ([]mesh.OrgResult, error)
}

// Sweeper deletes expired entities
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// Snapshotter saves the daily snapshots
type Snapshotter interface {
	SaveSnapshots(ctx context.Context) (int, error)
}

// Batch wires the linkgraph components into scheduler steps. Nil
// components are left out.
type Batch struct {
	Updater       Updater
	Mesh          MeshBuilder
	Organizations []string
	MeshCutoff    time.Duration
	Sweeper       Sweeper
	Snapshots     Snapshotter
	Logger        *zap.Logger
}

// Register adds the batch steps to s in their required order
func (b Batch) Register(s *Scheduler) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if b.Updater != nil {
		if err := s.Register("update", func(ctx context.Context) error {
			res, err := b.Updater.UpdateAll(ctx)
			if err != nil {
				return err
			}
			logger.Info("topologies updated",
				zap.Int("ok", len(res.Results)),
				zap.Int("failed", len(res.Errors)))
			return res.Err()
		}); err != nil {
			return err
		}
	}

	if b.Mesh != nil && len(b.Organizations) > 0 {
		if err := s.Register("mesh", func(ctx context.Context) error {
			results, err := b.Mesh.CreateMeshTopologies(ctx, b.Organizations, b.MeshCutoff)
			if err != nil {
				return err
			}
			return mesh.Err(results)
		}); err != nil {
			return err
		}
	}

	if b.Sweeper != nil {
		if err := s.Register("sweep", func(ctx context.Context) error {
			_, err := b.Sweeper.Sweep(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	if b.Snapshots != nil {
		if err := s.Register("snapshot", func(ctx context.Context) error {
			_, err := b.Snapshots.SaveSnapshots(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	return nil
}
