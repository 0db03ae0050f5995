// Package maintenance holds the post-load housekeeping: invoking the
// database-side materialized view refresh and pruning aged download
// artifacts. Neither task is allowed to fail a load job.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/transitdelay-data/internal/common/db"
	"github.com/transitdelay-data/internal/common/logger"
)

// Maintenance handles database-side housekeeping operations.
type Maintenance struct {
	db     *db.DB
	logger logger.Logger
}

// New creates a new Maintenance instance
func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		db:     database,
		logger: logger,
	}
}

// RefreshMaterializedViews invokes the database-side refresh routine
// and logs per-view status. The routine's body lives in the database;
// this only drives it.
func (m *Maintenance) RefreshMaterializedViews(ctx context.Context) error {
	m.logger.Info("Refreshing materialized views")

	query := `SELECT * FROM public.refresh_materialized_views()`
	rows, err := m.db.DB().QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("executing refresh_materialized_views: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var viewName, refreshStatus string
		var duration string
		err := rows.Scan(&viewName, &refreshStatus, &duration)
		if err != nil {
			return fmt.Errorf("scanning refresh result: %w", err)
		}

		if refreshStatus == "SUCCESS" {
			m.logger.Info("Refreshed materialized view",
				"view", viewName,
				"duration", duration)
		} else {
			m.logger.Error("Failed to refresh materialized view",
				"view", viewName,
				"error", refreshStatus,
				"duration", duration)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating refresh results: %w", err)
	}

	return nil
}

// CleanupOldFiles removes top-level entries of dir whose base name
// matches pattern and whose modification time is older than maxAge.
// Entries named *_latest.pb are kept regardless of age. Returns the
// number of entries removed.
func CleanupOldFiles(dir, pattern string, maxAge time.Duration, log logger.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return removed, fmt.Errorf("bad cleanup pattern %q: %w", pattern, err)
		}
		if !matched {
			continue
		}
		if ok, _ := filepath.Match("*_latest.pb", name); ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn("Could not stat cleanup candidate", "name", name, "error", err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := os.RemoveAll(path); err != nil {
			log.Warn("Could not remove aged entry", "path", path, "error", err)
			continue
		}
		removed++
		log.Debug("Removed aged entry", "path", path, "mod_time", info.ModTime())
	}

	if removed > 0 {
		log.Info("Cleanup removed aged entries", "dir", dir, "pattern", pattern, "removed", removed)
	}
	return removed, nil
}
