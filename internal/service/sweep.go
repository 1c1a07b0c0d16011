package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linkgraph/internal/metrics"
)

const day = 24 * time.Hour

// SweepRepository defines the repository interface for expiry sweeps
type SweepRepository interface {
	DeleteDownLinks(ctx context.Context, modifiedBefore time.Time) (int64, error)
	DeleteOrphanNodes(ctx context.Context, modifiedBefore time.Time) (int64, error)
}

// SweepConfig holds the expiration windows in days. Zero disables a sweep.
type SweepConfig struct {
	LinkExpirationDays int
	NodeExpirationDays int
}

// SweepResult reports how many entities a sweep removed
type SweepResult struct {
	Links int64 `json:"links"`
	Nodes int64 `json:"nodes"`
}

// Sweeper purges long-down links and unconnected nodes
type Sweeper struct {
	repo    SweepRepository
	cfg     SweepConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewSweeper creates a new sweeper
func NewSweeper(repo SweepRepository, cfg SweepConfig, m *metrics.Collector, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("sweep"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// SweepLinks deletes down links not modified within the link expiration
func (s *Sweeper) SweepLinks(ctx context.Context) (int64, error) {
	if s.cfg.LinkExpirationDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(s.cfg.LinkExpirationDays) * day)
	n, err := s.repo.DeleteDownLinks(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep links: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired links deleted", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	s.metrics.AddSweepDeleted("link", n)
	return n, nil
}

// SweepNodes deletes nodes without links not modified within the node
// expiration. It only runs when link expiration is enabled too.
func (s *Sweeper) SweepNodes(ctx context.Context) (int64, error) {
	if s.cfg.LinkExpirationDays <= 0 || s.cfg.NodeExpirationDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(s.cfg.NodeExpirationDays) * day)
	n, err := s.repo.DeleteOrphanNodes(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep nodes: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired nodes deleted", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	s.metrics.AddSweepDeleted("node", n)
	return n, nil
}

// Sweep runs the link sweep and then the node sweep
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var err error
	if res.Links, err = s.SweepLinks(ctx); err != nil {
		return res, err
	}
	if res.Nodes, err = s.SweepNodes(ctx); err != nil {
		return res, err
	}
	return res, nil
}
