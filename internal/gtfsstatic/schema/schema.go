// Package schema declares the GTFS static files this pipeline knows how
// to load: target table, columns, primary key and load order. The
// declarations replace runtime catalog introspection; the database tables
// are expected to match.
package schema

import "fmt"

// Schema is the Postgres schema holding all static tables.
const Schema = "gtfs_static"

// ColumnType selects the parser for a CSV field.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInteger
	TypeReal
	TypeDate        // YYYYMMDD
	TypeServiceTime // GTFS HH:MM:SS, hours may exceed 23
)

type Column struct {
	Name string
	Type ColumnType
}

// TableSpec describes one GTFS file and its target table.
type TableSpec struct {
	File       string
	Table      string
	Columns    []Column
	PrimaryKey []string
	Optional   bool
}

// Column looks up a declared column by name.
func (s TableSpec) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// DayOffsetColumn names the companion day-offset column for a service
// time column ("arrival_time" -> "arrival_day_offset").
func DayOffsetColumn(timeColumn string) string {
	base := timeColumn
	if n := len(base); n > len("_time") && base[n-len("_time"):] == "_time" {
		base = base[:n-len("_time")]
	}
	return base + "_day_offset"
}

// Tables returns the declared files in dependency order. Referenced
// tables load before the tables referencing them.
func Tables() []TableSpec {
	return []TableSpec{
		{
			File:  "agency.txt",
			Table: "gtfs_agency",
			Columns: []Column{
				{"agency_id", TypeText},
				{"agency_name", TypeText},
				{"agency_url", TypeText},
				{"agency_timezone", TypeText},
				{"agency_lang", TypeText},
				{"agency_phone", TypeText},
				{"agency_fare_url", TypeText},
			},
			PrimaryKey: []string{"agency_id"},
		},
		{
			File:  "routes.txt",
			Table: "gtfs_routes",
			Columns: []Column{
				{"route_id", TypeText},
				{"agency_id", TypeText},
				{"route_short_name", TypeText},
				{"route_long_name", TypeText},
				{"route_desc", TypeText},
				{"route_type", TypeInteger},
				{"route_url", TypeText},
				{"route_color", TypeText},
				{"route_text_color", TypeText},
			},
			PrimaryKey: []string{"route_id"},
		},
		{
			File:  "stops.txt",
			Table: "gtfs_stops",
			Columns: []Column{
				{"stop_id", TypeText},
				{"stop_code", TypeText},
				{"stop_name", TypeText},
				{"stop_desc", TypeText},
				{"stop_lat", TypeReal},
				{"stop_lon", TypeReal},
				{"zone_id", TypeText},
				{"stop_url", TypeText},
				{"location_type", TypeInteger},
				{"parent_station", TypeText},
				{"wheelchair_boarding", TypeInteger},
			},
			PrimaryKey: []string{"stop_id"},
		},
		{
			File:  "calendar.txt",
			Table: "gtfs_calendar",
			Columns: []Column{
				{"service_id", TypeText},
				{"monday", TypeInteger},
				{"tuesday", TypeInteger},
				{"wednesday", TypeInteger},
				{"thursday", TypeInteger},
				{"friday", TypeInteger},
				{"saturday", TypeInteger},
				{"sunday", TypeInteger},
				{"start_date", TypeDate},
				{"end_date", TypeDate},
			},
			PrimaryKey: []string{"service_id"},
		},
		{
			File:  "calendar_dates.txt",
			Table: "gtfs_calendar_dates",
			Columns: []Column{
				{"service_id", TypeText},
				{"date", TypeDate},
				{"exception_type", TypeInteger},
			},
			PrimaryKey: []string{"service_id", "date"},
		},
		{
			File:  "feed_info.txt",
			Table: "gtfs_feed_info",
			Columns: []Column{
				{"feed_publisher_name", TypeText},
				{"feed_publisher_url", TypeText},
				{"feed_lang", TypeText},
				{"feed_start_date", TypeDate},
				{"feed_end_date", TypeDate},
				{"feed_version", TypeText},
			},
			PrimaryKey: []string{"feed_publisher_name", "feed_version"},
			Optional:   true,
		},
		{
			File:  "shapes.txt",
			Table: "gtfs_shapes",
			Columns: []Column{
				{"shape_id", TypeText},
				{"shape_pt_lat", TypeReal},
				{"shape_pt_lon", TypeReal},
				{"shape_pt_sequence", TypeInteger},
				{"shape_dist_traveled", TypeReal},
			},
			PrimaryKey: []string{"shape_id", "shape_pt_sequence"},
		},
		{
			// Carrier extension published alongside the standard files.
			File:  "directions.txt",
			Table: "gtfs_directions",
			Columns: []Column{
				{"route_id", TypeText},
				{"direction_id", TypeInteger},
				{"direction", TypeText},
			},
			PrimaryKey: []string{"route_id", "direction_id"},
			Optional:   true,
		},
		{
			File:  "trips.txt",
			Table: "gtfs_trips_static",
			Columns: []Column{
				{"route_id", TypeText},
				{"service_id", TypeText},
				{"trip_id", TypeText},
				{"trip_headsign", TypeText},
				{"trip_short_name", TypeText},
				{"direction_id", TypeInteger},
				{"block_id", TypeText},
				{"shape_id", TypeText},
				{"wheelchair_accessible", TypeInteger},
				{"bikes_allowed", TypeInteger},
			},
			PrimaryKey: []string{"trip_id"},
		},
		{
			File:  "stop_times.txt",
			Table: "gtfs_stop_times",
			Columns: []Column{
				{"trip_id", TypeText},
				{"arrival_time", TypeServiceTime},
				{"departure_time", TypeServiceTime},
				{"stop_id", TypeText},
				{"stop_sequence", TypeInteger},
				{"stop_headsign", TypeText},
				{"pickup_type", TypeInteger},
				{"drop_off_type", TypeInteger},
				{"shape_dist_traveled", TypeReal},
				{"timepoint", TypeInteger},
			},
			PrimaryKey: []string{"trip_id", "stop_sequence"},
		},
		{
			File:  "transfers.txt",
			Table: "gtfs_transfers",
			Columns: []Column{
				{"from_stop_id", TypeText},
				{"to_stop_id", TypeText},
				{"transfer_type", TypeInteger},
				{"min_transfer_time", TypeInteger},
				{"from_trip_id", TypeText},
				{"to_trip_id", TypeText},
			},
			PrimaryKey: []string{"from_stop_id", "to_stop_id", "from_trip_id", "to_trip_id"},
			Optional:   true,
		},
	}
}

// Validate checks declaration consistency. Every primary key column must
// be declared, and file/table names must be unique.
func Validate(specs []TableSpec) error {
	seenFile := make(map[string]bool)
	seenTable := make(map[string]bool)
	for _, spec := range specs {
		if seenFile[spec.File] {
			return fmt.Errorf("duplicate file declaration %s", spec.File)
		}
		if seenTable[spec.Table] {
			return fmt.Errorf("duplicate table declaration %s", spec.Table)
		}
		seenFile[spec.File] = true
		seenTable[spec.Table] = true

		if len(spec.Columns) == 0 {
			return fmt.Errorf("%s: no columns declared", spec.File)
		}
		if len(spec.PrimaryKey) == 0 {
			return fmt.Errorf("%s: no primary key declared", spec.File)
		}
		for _, pk := range spec.PrimaryKey {
			if _, ok := spec.Column(pk); !ok {
				return fmt.Errorf("%s: primary key column %s is not declared", spec.File, pk)
			}
		}
	}
	return nil
}
