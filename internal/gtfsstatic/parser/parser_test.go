package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitdelay-data/internal/gtfsstatic/schema"
)

func specFor(t *testing.T, file string) schema.TableSpec {
	t.Helper()
	for _, s := range schema.Tables() {
		if s.File == file {
			return s
		}
	}
	t.Fatalf("no spec for %s", file)
	return schema.TableSpec{}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestReadAlignsDeclaredColumns(t *testing.T) {
	csv := strings.Join([]string{
		"agency_name,agency_id,agency_timezone,ignored_extra",
		"TransLink,TL,America/Vancouver,x",
	}, "\n")

	batch, err := Read(strings.NewReader(csv), specFor(t, "agency.txt"), nopLogger{})
	require.NoError(t, err)

	// Declared order wins over header order; undeclared columns are dropped.
	assert.Equal(t, []string{"agency_id", "agency_name", "agency_timezone"}, batch.Columns)
	require.Len(t, batch.Rows, 1)
	assert.Equal(t, []interface{}{"TL", "TransLink", "America/Vancouver"}, batch.Rows[0])
	assert.Empty(t, batch.MissingPK)
}

func TestReadServiceTimesAddDayOffsets(t *testing.T) {
	csv := strings.Join([]string{
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t1,08:00:00,08:01:00,s1,1",
		"t1,25:35:00,25:36:00,s2,2",
	}, "\n")

	batch, err := Read(strings.NewReader(csv), specFor(t, "stop_times.txt"), nopLogger{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"trip_id",
		"arrival_time", "arrival_day_offset",
		"departure_time", "departure_day_offset",
		"stop_id", "stop_sequence",
	}, batch.Columns)

	require.Len(t, batch.Rows, 2)
	assert.Equal(t, []interface{}{"t1", "08:00:00", 0, "08:01:00", 0, "s1", int64(1)}, batch.Rows[0])
	assert.Equal(t, []interface{}{"t1", "01:35:00", 1, "01:36:00", 1, "s2", int64(2)}, batch.Rows[1])
}

func TestReadSkipsMalformedTimeRows(t *testing.T) {
	csv := strings.Join([]string{
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"t1,08:00:00,08:01:00,s1,1",
		"t1,not-a-time,08:05:00,s2,2",
		"t1,08:10:00,08:11:00,s3,3",
	}, "\n")

	batch, err := Read(strings.NewReader(csv), specFor(t, "stop_times.txt"), nopLogger{})
	require.NoError(t, err)

	assert.Equal(t, 3, batch.RowsRead)
	assert.Equal(t, 1, batch.RowsSkipped)
	require.Len(t, batch.Rows, 2)
}

func TestReadDatesAndNumericFallbacks(t *testing.T) {
	csv := strings.Join([]string{
		"service_id,monday,start_date,end_date,tuesday,wednesday,thursday,friday,saturday,sunday",
		"wk,1,20260101,20261231,not-a-number,0,0,0,0,0",
	}, "\n")

	batch, err := Read(strings.NewReader(csv), specFor(t, "calendar.txt"), nopLogger{})
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)

	row := batch.Rows[0]
	cols := batch.Columns
	byName := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		byName[c] = row[i]
	}

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), byName["start_date"])
	assert.Equal(t, int64(1), byName["monday"])
	// Unparseable numeric becomes NULL instead of failing the row.
	assert.Nil(t, byName["tuesday"])
}

func TestReadSkipsMalformedDateRows(t *testing.T) {
	csv := strings.Join([]string{
		"service_id,date,exception_type",
		"wk,20260301,1",
		"wk,2026-03-02,1",
	}, "\n")

	batch, err := Read(strings.NewReader(csv), specFor(t, "calendar_dates.txt"), nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.RowsSkipped)
	require.Len(t, batch.Rows, 1)
}

func TestReadReportsMissingPKColumns(t *testing.T) {
	csv := strings.Join([]string{
		"shape_id,shape_pt_lat,shape_pt_lon",
		"sh1,49.28,-123.12",
	}, "\n")

	batch, err := Read(strings.NewReader(csv), specFor(t, "shapes.txt"), nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shape_pt_sequence"}, batch.MissingPK)
}

func TestReadStripsBOM(t *testing.T) {
	csv := "\ufeffagency_id,agency_name\nTL,TransLink\n"

	batch, err := Read(strings.NewReader(csv), specFor(t, "agency.txt"), nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, []string{"agency_id", "agency_name"}, batch.Columns)
}
