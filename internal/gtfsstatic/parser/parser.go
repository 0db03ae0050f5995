// Package parser reads GTFS CSV files into column-aligned row batches
// ready for insertion. Values are converted per the declared column
// types; rows with malformed dates or service times are skipped and
// counted rather than failing the file.
package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/transitdelay-data/internal/common/logger"
	"github.com/transitdelay-data/internal/gtfsstatic/schema"
	"github.com/transitdelay-data/pkg/gtfs/gtfstime"
)

// Batch is the parsed contents of one GTFS file, aligned to the columns
// that will be inserted. Service time columns contribute a companion
// day-offset column immediately after the time column.
type Batch struct {
	Spec        schema.TableSpec
	Columns     []string
	Rows        [][]interface{}
	RowsRead    int
	RowsSkipped int
	// Declared primary key columns absent from the file header. A
	// non-empty list degrades the conflict filter downstream.
	MissingPK []string
}

// ReadFile parses the file at path against its declared spec.
func ReadFile(path string, spec schema.TableSpec, log logger.Logger) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", spec.File, err)
	}
	defer f.Close()

	return Read(f, spec, log)
}

// Read parses GTFS CSV content from r against its declared spec.
func Read(r io.Reader, spec schema.TableSpec, log logger.Logger) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", spec.File, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	// Map declared columns onto the file header. Undeclared file columns
	// are ignored; declared columns missing from the file are dropped
	// from the insert.
	headerIndex := make(map[string]int, len(header))
	for i, name := range header {
		headerIndex[strings.TrimSpace(name)] = i
	}

	type boundColumn struct {
		col   schema.Column
		index int
	}
	var bound []boundColumn
	var columns []string
	for _, col := range spec.Columns {
		idx, ok := headerIndex[col.Name]
		if !ok {
			continue
		}
		bound = append(bound, boundColumn{col: col, index: idx})
		columns = append(columns, col.Name)
		if col.Type == schema.TypeServiceTime {
			columns = append(columns, schema.DayOffsetColumn(col.Name))
		}
	}
	if len(bound) == 0 {
		return nil, fmt.Errorf("%s: no declared columns found in header", spec.File)
	}

	var missingPK []string
	for _, pk := range spec.PrimaryKey {
		if _, ok := headerIndex[pk]; !ok {
			missingPK = append(missingPK, pk)
		}
	}

	batch := &Batch{Spec: spec, Columns: columns, MissingPK: missingPK}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", spec.File, err)
		}

		batch.RowsRead++
		row := make([]interface{}, 0, len(columns))
		skip := false
		for _, bc := range bound {
			var raw string
			if bc.index < len(record) {
				raw = strings.TrimSpace(record[bc.index])
			}
			values, err := convert(raw, bc.col.Type)
			if err != nil {
				log.Debug("Skipping row with malformed value",
					"file", spec.File, "column", bc.col.Name, "value", raw, "error", err)
				skip = true
				break
			}
			row = append(row, values...)
		}
		if skip {
			batch.RowsSkipped++
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}

// convert parses one CSV field into its insert value(s). Service time
// fields produce two values (clock time, day offset). Unparseable
// numeric fields become NULL; malformed dates and service times return
// an error so the row can be skipped.
func convert(raw string, t schema.ColumnType) ([]interface{}, error) {
	if raw == "" {
		if t == schema.TypeServiceTime {
			return []interface{}{nil, nil}, nil
		}
		return []interface{}{nil}, nil
	}

	switch t {
	case schema.TypeText:
		return []interface{}{raw}, nil

	case schema.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return []interface{}{nil}, nil
		}
		return []interface{}{n}, nil

	case schema.TypeReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return []interface{}{nil}, nil
		}
		return []interface{}{f}, nil

	case schema.TypeDate:
		d, err := time.Parse("20060102", raw)
		if err != nil {
			return nil, fmt.Errorf("malformed date %q", raw)
		}
		return []interface{}{d}, nil

	case schema.TypeServiceTime:
		n, err := gtfstime.Normalize(raw)
		if err != nil {
			return nil, err
		}
		return []interface{}{n.Clock(), n.DayOffset}, nil
	}

	return []interface{}{raw}, nil
}
