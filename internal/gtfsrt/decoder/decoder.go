// Package decoder turns raw GTFS-realtime protobuf bytes into a typed
// feed tree. Every entity resolves to exactly one payload kind; entities
// carrying none or several are marked unknown and surface later as
// per-entity failures instead of poisoning the whole message.
package decoder

import (
	"fmt"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeError marks a feed whose bytes could not be decoded at all.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding feed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decoding feed: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind tags the single payload an entity carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindTripUpdate
	KindVehiclePosition
	KindAlert
)

func (k Kind) String() string {
	switch k {
	case KindTripUpdate:
		return "trip_update"
	case KindVehiclePosition:
		return "vehicle_position"
	case KindAlert:
		return "alert"
	}
	return "unknown"
}

type FeedMessage struct {
	Header    Header
	Entities  []Entity
	SizeBytes int
}

type Header struct {
	Version        string
	Incrementality string
	Timestamp      *int64
}

type Entity struct {
	ID        string
	IsDeleted bool
	Kind      Kind
	// Reason explains a KindUnknown tag.
	Reason          string
	TripUpdate      *TripUpdate
	VehiclePosition *VehiclePosition
	Alert           *Alert
}

// TripDescriptor carries the natural key used for descriptor
// deduplication. Absent proto fields take fixed fallbacks so the key is
// deterministic.
type TripDescriptor struct {
	TripID               string
	RouteID              string
	DirectionID          int64
	StartDate            string
	ScheduleRelationship string
}

type VehicleDescriptor struct {
	VehicleID string
	Label     string
}

type TripUpdate struct {
	Trip            TripDescriptor
	Vehicle         VehicleDescriptor
	StopTimeUpdates []StopTimeUpdate
}

type StopTimeUpdate struct {
	StopSequence         *int64
	StopID               *string
	ArrivalDelay         *int64
	ArrivalTime          *int64
	DepartureDelay       *int64
	DepartureTime        *int64
	ScheduleRelationship string
}

type VehiclePosition struct {
	Trip                TripDescriptor
	Vehicle             VehicleDescriptor
	Latitude            *float64
	Longitude           *float64
	CurrentStopSequence *int64
	CurrentStatus       string
	Timestamp           *int64
	StopID              *string
}

type Alert struct {
	Cause            string
	Effect           string
	Severity         string
	ActivePeriods    []ActivePeriod
	InformedEntities []InformedEntity
	Texts            []AlertText
}

// ActivePeriod keeps a single representative instant per period: the
// end when present, otherwise the start.
type ActivePeriod struct {
	Time *int64
}

type InformedEntity struct {
	AgencyID  *string
	RouteID   *string
	RouteType *int64
	StopID    *string
}

// AlertText is one translation of one alert text field. Type names the
// source field: url, header_text or description_text.
type AlertText struct {
	Type     string
	Text     *string
	Language string
}

// Decode unmarshals a FeedMessage. A missing header is fatal; an empty
// entity list is not.
func Decode(raw []byte) (*FeedMessage, error) {
	var pb gtfsrtpb.FeedMessage
	// AllowPartial: feeds missing proto2 required fields still decode;
	// absent descriptors get fixed fallbacks and a feed without a header
	// fails with a reasoned error instead of an unmarshal failure.
	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(raw, &pb); err != nil {
		return nil, &DecodeError{Reason: "protobuf unmarshal failed", Err: err}
	}

	header := pb.GetHeader()
	if header == nil {
		return nil, &DecodeError{Reason: "feed has no header"}
	}

	msg := &FeedMessage{
		Header: Header{
			Version:        headerVersion(header),
			Incrementality: header.GetIncrementality().String(),
			Timestamp:      optUint64(header.Timestamp),
		},
		SizeBytes: len(raw),
	}

	for _, e := range pb.GetEntity() {
		msg.Entities = append(msg.Entities, decodeEntity(e))
	}

	return msg, nil
}

func headerVersion(h *gtfsrtpb.FeedHeader) string {
	if v := h.GetGtfsRealtimeVersion(); v != "" {
		return v
	}
	return "2.0"
}

func decodeEntity(e *gtfsrtpb.FeedEntity) Entity {
	entity := Entity{
		ID:        e.GetId(),
		IsDeleted: e.GetIsDeleted(),
	}

	populated := 0
	if e.TripUpdate != nil {
		populated++
	}
	if e.Vehicle != nil {
		populated++
	}
	if e.Alert != nil {
		populated++
	}

	switch {
	case populated == 0:
		entity.Kind = KindUnknown
		entity.Reason = "entity carries no payload"
	case populated > 1:
		entity.Kind = KindUnknown
		entity.Reason = fmt.Sprintf("entity carries %d payloads", populated)
	case e.TripUpdate != nil:
		entity.Kind = KindTripUpdate
		entity.TripUpdate = decodeTripUpdate(e.TripUpdate)
	case e.Vehicle != nil:
		entity.Kind = KindVehiclePosition
		entity.VehiclePosition = decodeVehiclePosition(e.Vehicle)
	default:
		entity.Kind = KindAlert
		entity.Alert = decodeAlert(e.Alert)
	}

	return entity
}

func decodeTripDescriptor(t *gtfsrtpb.TripDescriptor) TripDescriptor {
	d := TripDescriptor{
		TripID:               "UNKNOWN",
		RouteID:              "UNKNOWN",
		DirectionID:          0,
		StartDate:            "20250101",
		ScheduleRelationship: "SCHEDULED",
	}
	if t == nil {
		return d
	}
	if t.TripId != nil {
		d.TripID = t.GetTripId()
	}
	if t.RouteId != nil {
		d.RouteID = t.GetRouteId()
	}
	if t.DirectionId != nil {
		d.DirectionID = int64(t.GetDirectionId())
	}
	if t.StartDate != nil {
		d.StartDate = t.GetStartDate()
	}
	if t.ScheduleRelationship != nil {
		d.ScheduleRelationship = t.GetScheduleRelationship().String()
	}
	return d
}

func decodeVehicleDescriptor(v *gtfsrtpb.VehicleDescriptor) VehicleDescriptor {
	d := VehicleDescriptor{VehicleID: "UNKNOWN", Label: "UNKNOWN"}
	if v == nil {
		return d
	}
	if v.Id != nil {
		d.VehicleID = v.GetId()
	}
	if v.Label != nil {
		d.Label = v.GetLabel()
	}
	return d
}

func decodeTripUpdate(tu *gtfsrtpb.TripUpdate) *TripUpdate {
	out := &TripUpdate{
		Trip:    decodeTripDescriptor(tu.GetTrip()),
		Vehicle: decodeVehicleDescriptor(tu.GetVehicle()),
	}

	for _, stu := range tu.GetStopTimeUpdate() {
		update := StopTimeUpdate{
			StopID:               stu.StopId,
			ScheduleRelationship: "SCHEDULED",
		}
		if stu.StopSequence != nil {
			update.StopSequence = optUint32(stu.StopSequence)
		}
		if a := stu.GetArrival(); a != nil {
			update.ArrivalDelay = optInt32(a.Delay)
			update.ArrivalTime = a.Time
		}
		if d := stu.GetDeparture(); d != nil {
			update.DepartureDelay = optInt32(d.Delay)
			update.DepartureTime = d.Time
		}
		if stu.ScheduleRelationship != nil {
			update.ScheduleRelationship = stu.GetScheduleRelationship().String()
		}
		out.StopTimeUpdates = append(out.StopTimeUpdates, update)
	}

	return out
}

func decodeVehiclePosition(vp *gtfsrtpb.VehiclePosition) *VehiclePosition {
	out := &VehiclePosition{
		Trip:          decodeTripDescriptor(vp.GetTrip()),
		Vehicle:       decodeVehicleDescriptor(vp.GetVehicle()),
		CurrentStatus: "IN_TRANSIT_TO",
		StopID:        vp.StopId,
		Timestamp:     optUint64(vp.Timestamp),
	}
	if pos := vp.GetPosition(); pos != nil {
		if pos.Latitude != nil {
			lat := float64(pos.GetLatitude())
			out.Latitude = &lat
		}
		if pos.Longitude != nil {
			lon := float64(pos.GetLongitude())
			out.Longitude = &lon
		}
	}
	if vp.CurrentStopSequence != nil {
		out.CurrentStopSequence = optUint32(vp.CurrentStopSequence)
	}
	if vp.CurrentStatus != nil {
		out.CurrentStatus = vp.GetCurrentStatus().String()
	}
	return out
}

func decodeAlert(a *gtfsrtpb.Alert) *Alert {
	out := &Alert{
		Cause:    "UNKNOWN_CAUSE",
		Effect:   "UNKNOWN_EFFECT",
		Severity: "UNKNOWN_SEVERITY",
	}
	if a.Cause != nil {
		out.Cause = a.GetCause().String()
	}
	if a.Effect != nil {
		out.Effect = a.GetEffect().String()
	}
	if a.SeverityLevel != nil {
		out.Severity = a.GetSeverityLevel().String()
	}

	for _, p := range a.GetActivePeriod() {
		var period ActivePeriod
		if p.Start != nil {
			period.Time = optUint64(p.Start)
		}
		if p.End != nil {
			period.Time = optUint64(p.End)
		}
		out.ActivePeriods = append(out.ActivePeriods, period)
	}

	for _, ie := range a.GetInformedEntity() {
		informed := InformedEntity{
			AgencyID: ie.AgencyId,
			RouteID:  ie.RouteId,
			StopID:   ie.StopId,
		}
		if ie.RouteType != nil {
			rt := int64(ie.GetRouteType())
			informed.RouteType = &rt
		}
		out.InformedEntities = append(out.InformedEntities, informed)
	}

	out.Texts = append(out.Texts, translations("url", a.GetUrl())...)
	out.Texts = append(out.Texts, translations("header_text", a.GetHeaderText())...)
	out.Texts = append(out.Texts, translations("description_text", a.GetDescriptionText())...)

	return out
}

func translations(textType string, ts *gtfsrtpb.TranslatedString) []AlertText {
	if ts == nil {
		return nil
	}
	var texts []AlertText
	for _, tr := range ts.GetTranslation() {
		at := AlertText{Type: textType, Text: tr.Text, Language: "en"}
		if tr.Language != nil {
			at.Language = tr.GetLanguage()
		}
		texts = append(texts, at)
	}
	return texts
}

func optUint64(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func optUint32(v *uint32) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func optInt32(v *int32) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
