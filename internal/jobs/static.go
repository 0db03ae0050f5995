// Package jobs wires the ingestion pipelines into run-to-completion
// jobs. Scheduling is external; each job runs once and reports.
package jobs

import (
	"context"
	"fmt"

	"github.com/transitdelay-data/internal/common/config"
	"github.com/transitdelay-data/internal/common/logger"
	"github.com/transitdelay-data/internal/common/maintenance"
	"github.com/transitdelay-data/internal/gtfsstatic/loader"
)

// DirectoryLoader loads a directory of GTFS files.
type DirectoryLoader interface {
	LoadDirectory(ctx context.Context, dir string) (*loader.Result, error)
}

// ArchiveFetcher downloads and unpacks the static archive, returning
// the extracted directory.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, url, baseDir string) (string, error)
}

// ViewRefresher drives the database-side materialized view refresh.
type ViewRefresher interface {
	RefreshMaterializedViews(ctx context.Context) error
}

// StaticJob loads the static GTFS schedule. Dependencies are injected;
// nil Fetcher means load from the configured source directory, nil
// Views disables the refresh step.
type StaticJob struct {
	Config  config.StaticConfig
	Loader  DirectoryLoader
	Fetcher ArchiveFetcher
	Views   ViewRefresher
	Logger  logger.Logger
	DryRun  bool
}

func (j *StaticJob) Run(ctx context.Context) (*Report, error) {
	report := newReport("static load")
	defer report.finish()

	dir, err := j.sourceDir(ctx)
	if err != nil {
		return nil, err
	}
	report.setField("source_dir", dir)

	if j.DryRun {
		j.Logger.Info("Dry run: skipping database load", "dir", dir)
		report.setField("dry_run", "true")
		return report, nil
	}

	result, err := j.Loader.LoadDirectory(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("loading static schedule: %w", err)
	}

	var inserted, filtered, skippedRows int
	for _, fr := range result.Files {
		inserted += fr.RowsInserted
		filtered += fr.RowsFiltered
		skippedRows += fr.RowsSkipped
		if fr.Status == loader.StatusFailed {
			report.FailedUnits++
		}
		report.FailedItems += fr.RowsFailed
	}
	report.setField("rows_inserted", inserted)
	report.setField("rows_filtered", filtered)
	report.setField("rows_skipped", skippedRows)
	report.setField("files_failed", report.FailedUnits)

	for table, count := range result.TableCounts {
		j.Logger.Info("Table count", "table", table, "rows", count)
	}

	// The refresh is reported on its own and never fails the load.
	if j.Views != nil {
		if err := j.Views.RefreshMaterializedViews(ctx); err != nil {
			j.Logger.Warn("Materialized view refresh failed", "error", err)
			report.setField("view_refresh", "failed")
		} else {
			report.setField("view_refresh", "ok")
		}
	}

	if j.Config.CleanupAge > 0 {
		removed, err := maintenance.CleanupOldFiles(j.Config.DownloadDir, "gtfs_*", j.Config.CleanupAge, j.Logger)
		if err != nil {
			j.Logger.Warn("Download cleanup failed", "error", err)
		} else if removed > 0 {
			report.setField("downloads_removed", removed)
		}
	}

	return report, nil
}

func (j *StaticJob) sourceDir(ctx context.Context) (string, error) {
	if j.Config.DownloadURL != "" && j.Fetcher != nil {
		dir, err := j.Fetcher.Fetch(ctx, j.Config.DownloadURL, j.Config.DownloadDir)
		if err != nil {
			return "", fmt.Errorf("downloading static archive: %w", err)
		}
		return dir, nil
	}
	if j.Config.SourceDir == "" {
		return "", fmt.Errorf("no source directory configured and no download URL set")
	}
	return j.Config.SourceDir, nil
}
