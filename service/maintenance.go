package service

import (
	"context"
	"time"
)

// Snapshot writes the current audit trail to the snapshot store
func (s *VerificationService) Snapshot(ctx context.Context) (string, error) {
	if s.snapshots == nil {
		return "", nil
	}
	trail, err := s.ledger.ExportAuditTrail(ctx)
	if err != nil {
		return "", err
	}
	return s.snapshots.SaveSnapshot(trail)
}

// PurgeAttempts deletes audit attempts older than retention
func (s *VerificationService) PurgeAttempts(retention time.Duration) (int64, error) {
	if s.audit == nil || retention <= 0 {
		return 0, nil
	}
	return s.audit.PurgeBefore(s.now().Add(-retention))
}

// StartMaintenance periodically snapshots the ledger and purges old audit
// attempts until ctx is cancelled. A zero interval disables that task.
func (s *VerificationService) StartMaintenance(ctx context.Context, snapshotInterval, retention time.Duration) {
	if snapshotInterval > 0 && s.snapshots != nil {
		go s.runPeriodic(ctx, snapshotInterval, func() {
			path, err := s.Snapshot(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to save audit snapshot")
				return
			}
			s.logger.Debug().Str("path", path).Msg("audit snapshot saved")
		})
	}

	if retention > 0 && s.audit != nil {
		go s.runPeriodic(ctx, time.Hour, func() {
			if _, err := s.PurgeAttempts(retention); err != nil {
				s.logger.Error().Err(err).Msg("failed to purge audit attempts")
			}
		})
	}
}

func (s *VerificationService) runPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
