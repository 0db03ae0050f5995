// Package persister writes decoded realtime feeds into the
// gtfs_realtime schema. The feed message and header commit first, then
// every entity runs in its own unit of work so one bad entity costs one
// entity. Trip and vehicle descriptors are deduplicated by natural key
// outside the entity units.
package persister

import (
	"context"
	"fmt"

	"github.com/transitdelay-data/internal/common/logger"
	"github.com/transitdelay-data/internal/gtfsrt/decoder"
)

// EntityError reports a single entity whose unit of work failed.
type EntityError struct {
	EntityID string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("persisting entity %s: %v", e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// TripKey is the natural key a trip descriptor deduplicates on. The
// schedule relationship is payload, not key.
type TripKey struct {
	TripID      string
	RouteID     string
	DirectionID int64
	StartDate   string
}

// VehicleKey is the natural key a vehicle descriptor deduplicates on.
type VehicleKey struct {
	VehicleID string
	Label     string
}

// Store is the persistence surface. Descriptor operations run on
// autocommit so a rolled-back entity cannot orphan cached ids; entity
// writes happen through the writer handed to EntityUnit and commit or
// roll back together.
type Store interface {
	InsertFeedMessage(ctx context.Context, feedKind string, sizeBytes int) (int64, error)
	InsertFeedHeader(ctx context.Context, feedMessageID int64, h decoder.Header) error

	FindTripDescriptor(ctx context.Context, key TripKey) (int64, bool, error)
	InsertTripDescriptor(ctx context.Context, key TripKey, scheduleRelationship string) (int64, error)
	FindVehicleDescriptor(ctx context.Context, key VehicleKey) (int64, bool, error)
	InsertVehicleDescriptor(ctx context.Context, key VehicleKey) (int64, error)

	EntityUnit(ctx context.Context, fn func(w EntityWriter) error) error
}

// EntityWriter is the transactional surface available inside one
// entity's unit of work.
type EntityWriter interface {
	FindFeedEntity(ctx context.Context, feedMessageID int64, entityID string) (int64, bool, error)
	InsertFeedEntity(ctx context.Context, feedMessageID int64, entityID string, isDeleted bool, entityType string) (int64, error)

	InsertTripUpdate(ctx context.Context, feedEntityID, tripDescriptorID, vehicleDescriptorID int64) (int64, error)
	InsertStopTimeUpdate(ctx context.Context, tripUpdateID int64, stu decoder.StopTimeUpdate) error

	InsertVehiclePosition(ctx context.Context, feedEntityID, tripDescriptorID, vehicleDescriptorID int64, vp *decoder.VehiclePosition) error

	InsertAlert(ctx context.Context, feedEntityID int64, a *decoder.Alert) (int64, error)
	InsertAlertActivePeriod(ctx context.Context, alertID int64, p decoder.ActivePeriod) error
	InsertAlertInformedEntity(ctx context.Context, alertID int64, ie decoder.InformedEntity) error
	InsertAlertText(ctx context.Context, alertID int64, at decoder.AlertText) error
}

// Result summarizes one persisted feed message.
type Result struct {
	FeedMessageID     int64
	EntitiesTotal     int
	EntitiesPersisted int
	EntitiesFailed    int
	FailedEntityIDs   []string
}

type Persister struct {
	store  Store
	logger logger.Logger

	tripCache    map[TripKey]int64
	vehicleCache map[VehicleKey]int64
}

func New(store Store, log logger.Logger) *Persister {
	return &Persister{
		store:        store,
		logger:       log,
		tripCache:    make(map[TripKey]int64),
		vehicleCache: make(map[VehicleKey]int64),
	}
}

// PersistFeed writes one decoded feed message. A header or message
// insert failure fails the whole feed; entity failures are isolated and
// reported in the result.
func (p *Persister) PersistFeed(ctx context.Context, feedKind string, msg *decoder.FeedMessage) (*Result, error) {
	feedMessageID, err := p.store.InsertFeedMessage(ctx, feedKind, msg.SizeBytes)
	if err != nil {
		return nil, fmt.Errorf("inserting feed message: %w", err)
	}
	if err := p.store.InsertFeedHeader(ctx, feedMessageID, msg.Header); err != nil {
		return nil, fmt.Errorf("inserting feed header: %w", err)
	}

	result := &Result{FeedMessageID: feedMessageID, EntitiesTotal: len(msg.Entities)}
	if len(msg.Entities) == 0 {
		p.logger.Warn("Feed carries no entities", "feed_kind", feedKind, "feed_message_id", feedMessageID)
		return result, nil
	}

	for _, entity := range msg.Entities {
		if err := p.persistEntity(ctx, feedMessageID, entity); err != nil {
			result.EntitiesFailed++
			result.FailedEntityIDs = append(result.FailedEntityIDs, entity.ID)
			p.logger.Error("Entity failed", "feed_kind", feedKind, "entity_id", entity.ID, "error", err)
			continue
		}
		result.EntitiesPersisted++
	}

	p.logger.Info("Feed persisted",
		"feed_kind", feedKind,
		"feed_message_id", feedMessageID,
		"entities", result.EntitiesPersisted,
		"failed", result.EntitiesFailed)

	return result, nil
}

func (p *Persister) persistEntity(ctx context.Context, feedMessageID int64, entity decoder.Entity) error {
	if entity.Kind == decoder.KindUnknown {
		// Record the entity row so the message stays complete, then
		// report it as failed.
		err := p.store.EntityUnit(ctx, func(w EntityWriter) error {
			_, err := findOrInsertEntity(ctx, w, feedMessageID, entity)
			return err
		})
		if err != nil {
			return &EntityError{EntityID: entity.ID, Err: err}
		}
		return &EntityError{EntityID: entity.ID, Err: fmt.Errorf("%s", entity.Reason)}
	}

	// Descriptors resolve before the entity transaction opens.
	var tripDescriptorID, vehicleDescriptorID int64
	var err error
	switch entity.Kind {
	case decoder.KindTripUpdate:
		tripDescriptorID, err = p.tripDescriptorID(ctx, entity.TripUpdate.Trip)
		if err == nil {
			vehicleDescriptorID, err = p.vehicleDescriptorID(ctx, entity.TripUpdate.Vehicle)
		}
	case decoder.KindVehiclePosition:
		tripDescriptorID, err = p.tripDescriptorID(ctx, entity.VehiclePosition.Trip)
		if err == nil {
			vehicleDescriptorID, err = p.vehicleDescriptorID(ctx, entity.VehiclePosition.Vehicle)
		}
	}
	if err != nil {
		return &EntityError{EntityID: entity.ID, Err: err}
	}

	err = p.store.EntityUnit(ctx, func(w EntityWriter) error {
		feedEntityID, err := findOrInsertEntity(ctx, w, feedMessageID, entity)
		if err != nil {
			return err
		}

		switch entity.Kind {
		case decoder.KindTripUpdate:
			tripUpdateID, err := w.InsertTripUpdate(ctx, feedEntityID, tripDescriptorID, vehicleDescriptorID)
			if err != nil {
				return err
			}
			for _, stu := range entity.TripUpdate.StopTimeUpdates {
				if err := w.InsertStopTimeUpdate(ctx, tripUpdateID, stu); err != nil {
					return err
				}
			}

		case decoder.KindVehiclePosition:
			if err := w.InsertVehiclePosition(ctx, feedEntityID, tripDescriptorID, vehicleDescriptorID, entity.VehiclePosition); err != nil {
				return err
			}

		case decoder.KindAlert:
			alertID, err := w.InsertAlert(ctx, feedEntityID, entity.Alert)
			if err != nil {
				return err
			}
			for _, period := range entity.Alert.ActivePeriods {
				if err := w.InsertAlertActivePeriod(ctx, alertID, period); err != nil {
					return err
				}
			}
			for _, informed := range entity.Alert.InformedEntities {
				if err := w.InsertAlertInformedEntity(ctx, alertID, informed); err != nil {
					return err
				}
			}
			for _, text := range entity.Alert.Texts {
				if err := w.InsertAlertText(ctx, alertID, text); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return &EntityError{EntityID: entity.ID, Err: err}
	}
	return nil
}

// findOrInsertEntity keeps entity rows idempotent on
// (feed_message_id, entity_id).
func findOrInsertEntity(ctx context.Context, w EntityWriter, feedMessageID int64, entity decoder.Entity) (int64, error) {
	if id, found, err := w.FindFeedEntity(ctx, feedMessageID, entity.ID); err != nil {
		return 0, err
	} else if found {
		return id, nil
	}
	return w.InsertFeedEntity(ctx, feedMessageID, entity.ID, entity.IsDeleted, entity.Kind.String())
}

func (p *Persister) tripDescriptorID(ctx context.Context, d decoder.TripDescriptor) (int64, error) {
	key := TripKey{TripID: d.TripID, RouteID: d.RouteID, DirectionID: d.DirectionID, StartDate: d.StartDate}
	if id, ok := p.tripCache[key]; ok {
		return id, nil
	}

	id, found, err := p.store.FindTripDescriptor(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("looking up trip descriptor: %w", err)
	}
	if !found {
		id, err = p.store.InsertTripDescriptor(ctx, key, d.ScheduleRelationship)
		if err != nil {
			return 0, fmt.Errorf("inserting trip descriptor: %w", err)
		}
	}

	p.tripCache[key] = id
	return id, nil
}

func (p *Persister) vehicleDescriptorID(ctx context.Context, d decoder.VehicleDescriptor) (int64, error) {
	key := VehicleKey{VehicleID: d.VehicleID, Label: d.Label}
	if id, ok := p.vehicleCache[key]; ok {
		return id, nil
	}

	id, found, err := p.store.FindVehicleDescriptor(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("looking up vehicle descriptor: %w", err)
	}
	if !found {
		id, err = p.store.InsertVehicleDescriptor(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("inserting vehicle descriptor: %w", err)
		}
	}

	p.vehicleCache[key] = id
	return id, nil
}
