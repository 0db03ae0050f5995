// Package loader drives the static schedule load: each declared GTFS
// file is read, normalized, filtered against rows already present, and
// bulk inserted. Files fail independently; one bad file never stops the
// run.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/transitdelay-data/internal/common/logger"
	"github.com/transitdelay-data/internal/gtfsstatic/parser"
	"github.com/transitdelay-data/internal/gtfsstatic/schema"
)

// Status of one file within a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInserted Status = "inserted"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// FileResult reports the outcome for one GTFS file.
type FileResult struct {
	File         string
	Table        string
	Status       Status
	RowsRead     int
	RowsSkipped  int // malformed rows dropped by the parser
	RowsFiltered int // rows already present, dropped by the conflict filter
	RowsInserted int
	RowsFailed   int // row-level insert failures after fallback
	Err          error
}

// Result reports the whole run.
type Result struct {
	Files       []FileResult
	TableCounts map[string]int64
}

// Failed reports whether any file failed or any row-level insert failed.
func (r *Result) Failed() bool {
	for _, f := range r.Files {
		if f.Status == StatusFailed || f.RowsFailed > 0 {
			return true
		}
	}
	return false
}

// InsertError marks a file whose batch insert failed wholesale, after
// the row-by-row fallback also failed.
type InsertError struct {
	Table string
	Err   error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("inserting into %s: %v", e.Table, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// Storage is the persistence surface the loader needs.
type Storage interface {
	// ExistingKeys returns the primary key tuples currently stored for
	// the table, each joined into a single string with keyJoin.
	ExistingKeys(ctx context.Context, spec schema.TableSpec) (map[string]struct{}, error)
	// InsertBatch inserts rows, returning how many landed and how many
	// individually failed. A non-nil error means the file is lost.
	InsertBatch(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]interface{}) (inserted, failed int, err error)
	// TableCount returns the current row count of a table.
	TableCount(ctx context.Context, table string) (int64, error)
}

type Loader struct {
	storage Storage
	logger  logger.Logger
}

func New(storage Storage, log logger.Logger) *Loader {
	return &Loader{storage: storage, logger: log}
}

// LoadDirectory loads every declared GTFS file found under dir, in
// dependency order, and returns the per-file report with post-load
// table counts.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (*Result, error) {
	specs := schema.Tables()
	if err := schema.Validate(specs); err != nil {
		return nil, fmt.Errorf("table declarations: %w", err)
	}

	result := &Result{TableCounts: make(map[string]int64)}

	for _, spec := range specs {
		fr := l.loadFile(ctx, filepath.Join(dir, spec.File), spec)
		result.Files = append(result.Files, fr)

		if fr.Status == StatusFailed {
			l.logger.Error("File load failed", "file", spec.File, "table", spec.Table, "error", fr.Err)
		} else {
			l.logger.Info("File processed",
				"file", spec.File,
				"status", string(fr.Status),
				"rows_read", fr.RowsRead,
				"rows_inserted", fr.RowsInserted,
				"rows_filtered", fr.RowsFiltered,
				"rows_skipped", fr.RowsSkipped)
		}
	}

	for _, spec := range specs {
		count, err := l.storage.TableCount(ctx, spec.Table)
		if err != nil {
			l.logger.Warn("Could not count table rows", "table", spec.Table, "error", err)
			continue
		}
		result.TableCounts[spec.Table] = count
	}

	return result, nil
}

func (l *Loader) loadFile(ctx context.Context, path string, spec schema.TableSpec) FileResult {
	fr := FileResult{File: spec.File, Table: spec.Table, Status: StatusPending}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if spec.Optional {
			fr.Status = StatusSkipped
			return fr
		}
		fr.Status = StatusFailed
		fr.Err = fmt.Errorf("required file missing: %s", spec.File)
		return fr
	}

	batch, err := parser.ReadFile(path, spec, l.logger)
	if err != nil {
		fr.Status = StatusFailed
		fr.Err = err
		return fr
	}
	fr.RowsRead = batch.RowsRead
	fr.RowsSkipped = batch.RowsSkipped

	rows := l.filterExisting(ctx, batch)
	fr.RowsFiltered = len(batch.Rows) - len(rows)

	if len(rows) == 0 {
		fr.Status = StatusInserted
		return fr
	}

	inserted, failed, err := l.storage.InsertBatch(ctx, spec, batch.Columns, rows)
	fr.RowsInserted = inserted
	fr.RowsFailed = failed
	if err != nil {
		fr.Status = StatusFailed
		fr.Err = &InsertError{Table: spec.Table, Err: err}
		return fr
	}

	fr.Status = StatusInserted
	return fr
}

// filterExisting drops candidate rows whose primary key tuple already
// exists. The filter degrades to pass-through when the key set cannot
// be read or a key column is missing from the file; the insert's
// ON CONFLICT clause still guards against duplicates then.
func (l *Loader) filterExisting(ctx context.Context, batch *parser.Batch) [][]interface{} {
	if len(batch.Rows) == 0 {
		return batch.Rows
	}

	if len(batch.MissingPK) > 0 {
		l.logger.Warn("Conflict filter degraded: key columns missing from file",
			"file", batch.Spec.File, "columns", strings.Join(batch.MissingPK, ","))
		return batch.Rows
	}

	pkIndexes := make([]int, 0, len(batch.Spec.PrimaryKey))
	for _, pk := range batch.Spec.PrimaryKey {
		for i, col := range batch.Columns {
			if col == pk {
				pkIndexes = append(pkIndexes, i)
				break
			}
		}
	}
	if len(pkIndexes) != len(batch.Spec.PrimaryKey) {
		l.logger.Warn("Conflict filter degraded: key columns not in batch", "file", batch.Spec.File)
		return batch.Rows
	}

	existing, err := l.storage.ExistingKeys(ctx, batch.Spec)
	if err != nil {
		l.logger.Warn("Conflict filter degraded: could not read existing keys",
			"table", batch.Spec.Table, "error", err)
		return batch.Rows
	}

	kept := batch.Rows[:0:0]
	for _, row := range batch.Rows {
		parts := make([]string, len(pkIndexes))
		for i, idx := range pkIndexes {
			parts[i] = keyString(row[idx])
		}
		if _, dup := existing[keyJoin(parts)]; dup {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

// keyJoin combines primary key parts into one set key. The unit
// separator cannot appear in GTFS identifiers.
func keyJoin(parts []string) string {
	return strings.Join(parts, "\x1f")
}

// keyString canonicalizes a key value so parsed CSV values and values
// scanned back from the database compare equal.
func keyString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}
