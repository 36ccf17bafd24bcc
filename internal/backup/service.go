package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/riya/internal/clock"
)

// ErrRunning is returned by Restore while the snapshot loop is active.
var ErrRunning = errors.New("backup service is running")

// Service takes periodic snapshots of the sqlite store.
type Service struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
}

// New validates cfg and creates the snapshot directory.
func New(cfg Config, clk clock.Clock, logger zerolog.Logger) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	if clk == nil {
		clk = clock.System()
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	return &Service{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With().Str("component", "backup").Logger(),
	}, nil
}

// Run snapshots every Interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup service already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Str("dir", s.cfg.Dir).Msg("backup service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := s.Snapshot(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("scheduled backup failed")
				continue
			}
			s.logger.Info().
				Str("path", res.Path).
				Int64("size", res.Size).
				Dur("duration", res.Duration).
				Bool("verified", res.Verified).
				Int("pruned", res.Pruned).
				Msg("scheduled backup completed")
		}
	}
}

// Snapshot writes a timestamped snapshot, verifies it when configured and
// prunes expired ones. A prune failure is logged, not returned.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	start := time.Now()
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	now := s.clock.Now().UTC()
	path := filepath.Join(s.cfg.Dir, fmt.Sprintf("riya-%s%s", now.Format("20060102-150405.000000"), snapshotExt))
	if err := snapshot(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	res := &Result{Path: path, Size: info.Size()}

	if s.cfg.Verify {
		if err := verify(ctx, path); err != nil {
			return res, fmt.Errorf("snapshot verification failed: %w", err)
		}
		res.Verified = true
	}

	res.Pruned, err = prune(s.cfg.Dir, s.cfg.Retention, s.clock.Now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to apply retention policy")
	}
	res.Duration = time.Since(start)
	return res, nil
}

// List returns the snapshots, newest first.
func (s *Service) List() ([]Info, error) {
	return list(s.cfg.Dir)
}

// Restore replaces the database with a snapshot. The current database is
// kept aside and put back if the restore fails. The store must be closed.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return ErrRunning
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("snapshot not found: %w", err)
	}

	aside := s.cfg.DBPath + ".pre-restore"
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		if err := snapshot(ctx, s.cfg.DBPath, aside); err != nil {
			return fmt.Errorf("save current database: %w", err)
		}
		defer func() { _ = os.Remove(aside) }()
	}

	if err := copyVerified(ctx, snapshotPath, s.cfg.DBPath); err != nil {
		if _, statErr := os.Stat(aside); statErr == nil {
			if rollbackErr := copyVerified(ctx, aside, s.cfg.DBPath); rollbackErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rollbackErr, err)
			}
			return fmt.Errorf("restore failed, rolled back: %w", err)
		}
		return err
	}

	s.logger.Info().Str("snapshot", snapshotPath).Msg("database restored")
	return nil
}

// Health reports whether snapshots are keeping up with the interval.
func (s *Service) Health() (*Health, error) {
	snapshots, err := s.List()
	if err != nil {
		return nil, err
	}

	h := &Health{
		Status:        "healthy",
		TotalBackups:  len(snapshots),
		DiskSpaceUsed: diskUsage(snapshots),
		Dir:           s.cfg.Dir,
	}
	if len(snapshots) == 0 {
		h.Message = "no backups yet"
		return h, nil
	}

	h.LastBackup = snapshots[0].Timestamp
	age := s.clock.Now().Sub(h.LastBackup)
	if age > 2*s.cfg.Interval {
		h.Status = "warning"
		h.Message = fmt.Sprintf("backup overdue by %v", (age - s.cfg.Interval).Round(time.Minute))
	} else {
		h.Message = fmt.Sprintf("last backup %v ago", age.Round(time.Minute))
	}
	return h, nil
}
