package persister

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/transitdelay-data/internal/common/db"
	"github.com/transitdelay-data/internal/gtfsrt/decoder"
)

// PostgresStore implements Store over the gtfs_realtime schema.
// Descriptor statements run on the pool connection (autocommit);
// EntityUnit wraps its writer in one transaction.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

func (s *PostgresStore) InsertFeedMessage(ctx context.Context, feedKind string, sizeBytes int) (int64, error) {
	var id int64
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_feed_messages (feed_type, file_size, processed_at)
		VALUES ($1, $2, NOW())
		RETURNING id`,
		feedKind, sizeBytes).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) InsertFeedHeader(ctx context.Context, feedMessageID int64, h decoder.Header) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_feed_headers
			(feed_message_id, gtfs_realtime_version, incrementality, timestamp_seconds)
		VALUES ($1, $2, $3, $4)`,
		feedMessageID, h.Version, h.Incrementality, h.Timestamp)
	return err
}

func (s *PostgresStore) FindTripDescriptor(ctx context.Context, key TripKey) (int64, bool, error) {
	var id int64
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT trip_descriptor_id FROM gtfs_realtime.gtfs_rt_trip_descriptors
		WHERE trip_id = $1 AND route_id = $2 AND direction_id = $3 AND start_date = $4
		LIMIT 1`,
		key.TripID, key.RouteID, key.DirectionID, key.StartDate).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *PostgresStore) InsertTripDescriptor(ctx context.Context, key TripKey, scheduleRelationship string) (int64, error) {
	var id int64
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_trip_descriptors
			(trip_id, route_id, direction_id, start_date, schedule_relationship)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING trip_descriptor_id`,
		key.TripID, key.RouteID, key.DirectionID, key.StartDate, scheduleRelationship).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) FindVehicleDescriptor(ctx context.Context, key VehicleKey) (int64, bool, error) {
	var id int64
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT vehicle_descriptor_id FROM gtfs_realtime.gtfs_rt_vehicle_descriptors
		WHERE vehicle_id = $1 AND label = $2
		LIMIT 1`,
		key.VehicleID, key.Label).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *PostgresStore) InsertVehicleDescriptor(ctx context.Context, key VehicleKey) (int64, error) {
	var id int64
	err := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_vehicle_descriptors (vehicle_id, label)
		VALUES ($1, $2)
		RETURNING vehicle_descriptor_id`,
		key.VehicleID, key.Label).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) EntityUnit(ctx context.Context, fn func(w EntityWriter) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning entity transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgEntityWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entity: %w", err)
	}
	return nil
}

type pgEntityWriter struct {
	tx *sql.Tx
}

func (w *pgEntityWriter) FindFeedEntity(ctx context.Context, feedMessageID int64, entityID string) (int64, bool, error) {
	var id int64
	err := w.tx.QueryRowContext(ctx, `
		SELECT id FROM gtfs_realtime.gtfs_rt_feed_entities
		WHERE feed_message_id = $1 AND entity_id = $2
		LIMIT 1`,
		feedMessageID, entityID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (w *pgEntityWriter) InsertFeedEntity(ctx context.Context, feedMessageID int64, entityID string, isDeleted bool, entityType string) (int64, error) {
	var id int64
	err := w.tx.QueryRowContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_feed_entities
			(feed_message_id, entity_id, is_deleted, entity_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		feedMessageID, entityID, isDeleted, entityType).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (w *pgEntityWriter) InsertTripUpdate(ctx context.Context, feedEntityID, tripDescriptorID, vehicleDescriptorID int64) (int64, error) {
	var id int64
	err := w.tx.QueryRowContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_trip_updates
			(feed_entity_id, trip_descriptor_id, vehicle_descriptor_id)
		VALUES ($1, $2, $3)
		RETURNING trip_update_id`,
		feedEntityID, tripDescriptorID, vehicleDescriptorID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (w *pgEntityWriter) InsertStopTimeUpdate(ctx context.Context, tripUpdateID int64, stu decoder.StopTimeUpdate) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_stop_time_updates
			(trip_update_id, stop_sequence, stop_id,
			 arrival_delay, arrival_time, departure_delay, departure_time,
			 schedule_relationship)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tripUpdateID, stu.StopSequence, stu.StopID,
		stu.ArrivalDelay, stu.ArrivalTime, stu.DepartureDelay, stu.DepartureTime,
		stu.ScheduleRelationship)
	return err
}

func (w *pgEntityWriter) InsertVehiclePosition(ctx context.Context, feedEntityID, tripDescriptorID, vehicleDescriptorID int64, vp *decoder.VehiclePosition) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_vehicle_positions
			(feed_entity_id, trip_descriptor_id, vehicle_descriptor_id,
			 latitude, longitude, current_stop_sequence, current_status,
			 timestamp_seconds, stop_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		feedEntityID, tripDescriptorID, vehicleDescriptorID,
		vp.Latitude, vp.Longitude, vp.CurrentStopSequence, vp.CurrentStatus,
		vp.Timestamp, vp.StopID)
	return err
}

func (w *pgEntityWriter) InsertAlert(ctx context.Context, feedEntityID int64, a *decoder.Alert) (int64, error) {
	var id int64
	err := w.tx.QueryRowContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_alerts
			(feed_entity_id, cause, effect, severity_level)
		VALUES ($1, $2, $3, $4)
		RETURNING alert_id`,
		feedEntityID, a.Cause, a.Effect, a.Severity).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (w *pgEntityWriter) InsertAlertActivePeriod(ctx context.Context, alertID int64, p decoder.ActivePeriod) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_alert_active_periods (alert_id, period_time)
		VALUES ($1, $2)`,
		alertID, p.Time)
	return err
}

func (w *pgEntityWriter) InsertAlertInformedEntity(ctx context.Context, alertID int64, ie decoder.InformedEntity) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_alert_informed_entities
			(alert_id, agency_id, route_id, route_type, stop_id)
		VALUES ($1, $2, $3, $4, $5)`,
		alertID, ie.AgencyID, ie.RouteID, ie.RouteType, ie.StopID)
	return err
}

func (w *pgEntityWriter) InsertAlertText(ctx context.Context, alertID int64, at decoder.AlertText) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO gtfs_realtime.gtfs_rt_alert_text (alert_id, text_type, text, language)
		VALUES ($1, $2, $3, $4)`,
		alertID, at.Type, at.Text, at.Language)
	return err
}
