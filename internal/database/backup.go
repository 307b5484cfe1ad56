package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cleanbook/internal/config"

	"github.com/rs/zerolog"
)

const (
	backupPrefix     = "cleanbook_"
	backupStampFmt   = "20060102_150405"
	defaultBackupGap = 24 * time.Hour
)

// BackupService snapshots a file-backed SQLite store with VACUUM INTO and
// prunes snapshots past the retention window. Schedule is either an
// interval ("6h") or a daily wall-clock time ("03:00").
type BackupService struct {
	db       *DB
	cfg      config.BackupConfig
	interval time.Duration
	hour     int
	minute   int
	daily    bool
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	s := &BackupService{db: db, cfg: cfg, interval: defaultBackupGap, logger: logger, now: time.Now}
	if err := s.parseSchedule(cfg.Schedule); err != nil {
		logger.Warn().Err(err).Str("schedule", cfg.Schedule).Msg("Invalid backup schedule, backing up every 24h")
	}
	return s
}

func (s *BackupService) parseSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}
	if d, err := time.ParseDuration(schedule); err == nil {
		if d <= 0 {
			return fmt.Errorf("backup interval must be positive")
		}
		s.interval = d
		return nil
	}
	var h, m int
	if _, err := fmt.Sscanf(schedule, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("expected a duration or HH:MM")
	}
	s.daily, s.hour, s.minute = true, h, m
	return nil
}

// untilNext is the wait before the next snapshot.
func (s *BackupService) untilNext(now time.Time) time.Duration {
	if !s.daily {
		return s.interval
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}
	if s.db.Driver() != DriverSQLite || s.db.Path() == "" || s.db.Path() == ":memory:" {
		s.logger.Info().Str("driver", s.db.Driver()).Msg("Backups only run for file-backed SQLite")
		return
	}

	run := func() {
		if _, err := s.Backup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Database backup failed")
			return
		}
		if _, err := s.Prune(); err != nil {
			s.logger.Warn().Err(err).Msg("Backup pruning failed")
		}
	}

	run()
	timer := time.NewTimer(s.untilNext(s.now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			run()
			timer.Reset(s.untilNext(s.now()))
		}
	}
}

// Backup writes a consistent snapshot and returns its path.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	path := filepath.Join(s.cfg.StoragePath, backupPrefix+s.now().UTC().Format(backupStampFmt)+".db")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("backup %s already exists", filepath.Base(path))
	}

	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", filepath.Base(path), err)
	}
	s.logger.Info().Str("path", path).Msg("Database backup written")
	return path, nil
}

// Prune deletes snapshots older than RetentionDays, judged by the
// timestamp in the file name. The newest snapshot is always kept.
func (s *BackupService) Prune() (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	type snapshot struct {
		name  string
		taken time.Time
	}
	var snaps []snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".db")
		taken, err := time.Parse(backupStampFmt, stamp)
		if err != nil {
			continue
		}
		snaps = append(snaps, snapshot{name: name, taken: taken})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].taken.After(snaps[j].taken) })

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for i, snap := range snaps {
		if i == 0 || !snap.taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, snap.name)); err != nil {
			s.logger.Warn().Err(err).Str("file", snap.name).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	return removed, nil
}
