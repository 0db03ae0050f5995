package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/transitdelay-data/internal/common/config"
	"github.com/transitdelay-data/internal/common/logger"
	"github.com/transitdelay-data/internal/common/maintenance"
	"github.com/transitdelay-data/internal/gtfsrt/decoder"
	"github.com/transitdelay-data/internal/gtfsrt/persister"
)

// FeedSource obtains raw feed bytes over HTTP and snapshots them.
type FeedSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Save(raw []byte, dir, name string) (string, error)
}

// FeedPersister writes one decoded feed message.
type FeedPersister interface {
	PersistFeed(ctx context.Context, feedKind string, msg *decoder.FeedMessage) (*persister.Result, error)
}

// RealtimeJob ingests the configured realtime feeds. Feed kinds are
// independent: a fetch or decode failure discards only that kind.
type RealtimeJob struct {
	Config    config.RealtimeConfig
	Fetcher   FeedSource
	Persister FeedPersister
	Views     ViewRefresher
	Logger    logger.Logger
	DryRun    bool
}

func (j *RealtimeJob) Run(ctx context.Context) (*Report, error) {
	report := newReport("realtime load")
	defer report.finish()

	if len(j.Config.Feeds) == 0 {
		return nil, fmt.Errorf("no realtime feeds configured")
	}

	var persisted, failedEntities int
	for _, feed := range j.Config.Feeds {
		raw, err := j.feedBytes(ctx, feed)
		if err != nil {
			j.Logger.Error("Feed unavailable", "feed_kind", feed.Kind, "error", err)
			report.FailedUnits++
			continue
		}

		msg, err := decoder.Decode(raw)
		if err != nil {
			j.Logger.Error("Feed decode failed", "feed_kind", feed.Kind, "error", err)
			report.FailedUnits++
			continue
		}

		if j.DryRun {
			j.Logger.Info("Dry run: decoded feed, skipping persistence",
				"feed_kind", feed.Kind, "entities", len(msg.Entities))
			continue
		}

		result, err := j.Persister.PersistFeed(ctx, feed.Kind, msg)
		if err != nil {
			j.Logger.Error("Feed persist failed", "feed_kind", feed.Kind, "error", err)
			report.FailedUnits++
			continue
		}
		persisted += result.EntitiesPersisted
		failedEntities += result.EntitiesFailed
	}

	report.FailedItems = failedEntities
	report.setField("entities_persisted", persisted)
	report.setField("entities_failed", failedEntities)
	report.setField("feeds_failed", report.FailedUnits)
	if j.DryRun {
		report.setField("dry_run", "true")
		return report, nil
	}

	if j.Views != nil {
		if err := j.Views.RefreshMaterializedViews(ctx); err != nil {
			j.Logger.Warn("Materialized view refresh failed", "error", err)
			report.setField("view_refresh", "failed")
		} else {
			report.setField("view_refresh", "ok")
		}
	}

	if j.Config.CleanupAge > 0 {
		removed, err := maintenance.CleanupOldFiles(j.Config.SourceDir, "*.pb", j.Config.CleanupAge, j.Logger)
		if err != nil {
			j.Logger.Warn("Snapshot cleanup failed", "error", err)
		} else if removed > 0 {
			report.setField("snapshots_removed", removed)
		}
	}

	return report, nil
}

// feedBytes fetches from the feed URL when one is configured, falling
// back to the snapshot file on disk.
func (j *RealtimeJob) feedBytes(ctx context.Context, feed config.FeedEndpoint) ([]byte, error) {
	if feed.URL != "" && j.Fetcher != nil {
		raw, err := j.Fetcher.Fetch(ctx, feed.URL)
		if err != nil {
			return nil, err
		}
		if !j.DryRun && feed.File != "" {
			if _, err := j.Fetcher.Save(raw, j.Config.SourceDir, feed.File); err != nil {
				j.Logger.Warn("Could not save feed snapshot", "feed_kind", feed.Kind, "error", err)
			}
		}
		return raw, nil
	}

	path := filepath.Join(j.Config.SourceDir, feed.File)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed snapshot %s: %w", path, err)
	}
	return raw, nil
}
