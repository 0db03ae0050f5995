package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/transitdelay-data/internal/common/db"
	"github.com/transitdelay-data/internal/gtfsstatic/schema"
)

const defaultBatchSize = 500

// PostgresStorage implements Storage over the gtfs_static schema.
type PostgresStorage struct {
	db        *db.DB
	batchSize int
}

func NewPostgresStorage(database *db.DB, batchSize int) *PostgresStorage {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &PostgresStorage{db: database, batchSize: batchSize}
}

func (s *PostgresStorage) ExistingKeys(ctx context.Context, spec schema.TableSpec) (map[string]struct{}, error) {
	quoted := make([]string, len(spec.PrimaryKey))
	for i, col := range spec.PrimaryKey {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(quoted, ", "),
		pq.QuoteIdentifier(schema.Schema),
		pq.QuoteIdentifier(spec.Table))

	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying existing keys for %s: %w", spec.Table, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	values := make([]interface{}, len(spec.PrimaryKey))
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning key row for %s: %w", spec.Table, err)
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = keyString(v)
		}
		keys[keyJoin(parts)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading key rows for %s: %w", spec.Table, err)
	}
	return keys, nil
}

// InsertBatch inserts in fixed-size chunks, one transaction each. A
// failed chunk is retried row by row so one bad row costs one row, not
// the chunk.
func (s *PostgresStorage) InsertBatch(ctx context.Context, spec schema.TableSpec, columns []string, rows [][]interface{}) (int, int, error) {
	var inserted, failed int

	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		n, err := s.insertChunk(ctx, spec, columns, chunk)
		if err == nil {
			inserted += n
			continue
		}

		s.db.Logger().Warn("Chunk insert failed, retrying row by row",
			"table", spec.Table, "rows", len(chunk), "error", err)

		n, f, err := s.insertRowByRow(ctx, spec, columns, chunk)
		if err != nil {
			return inserted, failed, err
		}
		inserted += n
		failed += f
	}

	return inserted, failed, nil
}

func (s *PostgresStorage) insertChunk(ctx context.Context, spec schema.TableSpec, columns []string, chunk [][]interface{}) (int, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query, args := buildInsert(spec.Table, columns, chunk)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing chunk: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStorage) insertRowByRow(ctx context.Context, spec schema.TableSpec, columns []string, chunk [][]interface{}) (int, int, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning fallback transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	var inserted, failed int
	for _, row := range chunk {
		query, args := buildInsert(spec.Table, columns, [][]interface{}{row})
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			failed++
			// The transaction is poisoned after an error; restart it so
			// the remaining rows still get their chance.
			tx.Rollback()
			tx, err = s.db.BeginTx(ctx)
			if err != nil {
				return inserted, failed, fmt.Errorf("restarting fallback transaction: %w", err)
			}
			continue
		}
		affected, _ := res.RowsAffected()
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return inserted, failed, fmt.Errorf("committing fallback rows: %w", err)
	}
	return inserted, failed, nil
}

func (s *PostgresStorage) TableCount(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s",
		pq.QuoteIdentifier(schema.Schema), pq.QuoteIdentifier(table))
	var count int64
	if err := s.db.DB().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return count, nil
}

// buildInsert produces a multi-row INSERT with $n placeholders and an
// ON CONFLICT DO NOTHING belt against duplicates the filter missed.
func buildInsert(table string, columns []string, rows [][]interface{}) (string, []interface{}) {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.%s (%s) VALUES ",
		pq.QuoteIdentifier(schema.Schema), pq.QuoteIdentifier(table),
		strings.Join(quoted, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	placeholder := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", placeholder)
			placeholder++
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	b.WriteString(" ON CONFLICT DO NOTHING")

	return b.String(), args
}
