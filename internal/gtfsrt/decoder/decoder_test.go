package decoder

import (
	"errors"
	"testing"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

// marshal allows partial messages so fixtures can omit proto2 required
// fields, which real feeds sometimes do.
func marshal(t *testing.T, msg *gtfsrtpb.FeedMessage) []byte {
	t.Helper()
	raw, err := (proto.MarshalOptions{AllowPartial: true}).Marshal(msg)
	require.NoError(t, err)
	return raw
}

func header() *gtfsrtpb.FeedHeader {
	return &gtfsrtpb.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Timestamp:           proto.Uint64(1766000000),
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xfe, 0xfd, 0x02, 0x01})
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDecodeRequiresHeader(t *testing.T) {
	_, err := Decode(marshal(t, &gtfsrtpb.FeedMessage{}))
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Contains(t, decodeErr.Reason, "header")
}

func TestDecodeEmptyFeed(t *testing.T) {
	msg, err := Decode(marshal(t, &gtfsrtpb.FeedMessage{Header: header()}))
	require.NoError(t, err)

	assert.Equal(t, "2.0", msg.Header.Version)
	assert.Equal(t, "FULL_DATASET", msg.Header.Incrementality)
	require.NotNil(t, msg.Header.Timestamp)
	assert.Equal(t, int64(1766000000), *msg.Header.Timestamp)
	assert.Empty(t, msg.Entities)
}

func TestDecodeTripUpdate(t *testing.T) {
	raw := marshal(t, &gtfsrtpb.FeedMessage{
		Header: header(),
		Entity: []*gtfsrtpb.FeedEntity{{
			Id: proto.String("e1"),
			TripUpdate: &gtfsrtpb.TripUpdate{
				Trip: &gtfsrtpb.TripDescriptor{
					TripId:      proto.String("t100"),
					RouteId:     proto.String("r7"),
					DirectionId: proto.Uint32(1),
					StartDate:   proto.String("20260823"),
				},
				Vehicle: &gtfsrtpb.VehicleDescriptor{
					Id:    proto.String("v9"),
					Label: proto.String("Bus 9"),
				},
				StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{
					{
						StopSequence: proto.Uint32(3),
						StopId:       proto.String("s3"),
						Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{
							Delay: proto.Int32(120),
							Time:  proto.Int64(1766000120),
						},
					},
					{
						StopSequence:         proto.Uint32(4),
						ScheduleRelationship: gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
					},
				},
			},
		}},
	})

	msg, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, msg.Entities, 1)

	e := msg.Entities[0]
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, KindTripUpdate, e.Kind)
	require.NotNil(t, e.TripUpdate)

	tu := e.TripUpdate
	assert.Equal(t, "t100", tu.Trip.TripID)
	assert.Equal(t, "r7", tu.Trip.RouteID)
	assert.Equal(t, int64(1), tu.Trip.DirectionID)
	assert.Equal(t, "20260823", tu.Trip.StartDate)
	assert.Equal(t, "SCHEDULED", tu.Trip.ScheduleRelationship)
	assert.Equal(t, "v9", tu.Vehicle.VehicleID)

	require.Len(t, tu.StopTimeUpdates, 2)
	first := tu.StopTimeUpdates[0]
	require.NotNil(t, first.ArrivalDelay)
	assert.Equal(t, int64(120), *first.ArrivalDelay)
	require.NotNil(t, first.ArrivalTime)
	assert.Equal(t, int64(1766000120), *first.ArrivalTime)
	assert.Nil(t, first.DepartureDelay)
	assert.Equal(t, "SCHEDULED", first.ScheduleRelationship)
	assert.Equal(t, "SKIPPED", tu.StopTimeUpdates[1].ScheduleRelationship)
}

func TestDecodeDescriptorDefaults(t *testing.T) {
	raw := marshal(t, &gtfsrtpb.FeedMessage{
		Header: header(),
		Entity: []*gtfsrtpb.FeedEntity{{
			Id:         proto.String("e1"),
			TripUpdate: &gtfsrtpb.TripUpdate{},
		}},
	})

	msg, err := Decode(raw)
	require.NoError(t, err)

	tu := msg.Entities[0].TripUpdate
	assert.Equal(t, "UNKNOWN", tu.Trip.TripID)
	assert.Equal(t, "UNKNOWN", tu.Trip.RouteID)
	assert.Equal(t, int64(0), tu.Trip.DirectionID)
	assert.Equal(t, "20250101", tu.Trip.StartDate)
	assert.Equal(t, "UNKNOWN", tu.Vehicle.VehicleID)
	assert.Equal(t, "UNKNOWN", tu.Vehicle.Label)
}

func TestDecodeVehiclePosition(t *testing.T) {
	raw := marshal(t, &gtfsrtpb.FeedMessage{
		Header: header(),
		Entity: []*gtfsrtpb.FeedEntity{{
			Id: proto.String("e2"),
			Vehicle: &gtfsrtpb.VehiclePosition{
				Trip:    &gtfsrtpb.TripDescriptor{TripId: proto.String("t100")},
				Vehicle: &gtfsrtpb.VehicleDescriptor{Id: proto.String("v9")},
				Position: &gtfsrtpb.Position{
					Latitude:  proto.Float32(49.25),
					Longitude: proto.Float32(-123.1),
				},
				CurrentStopSequence: proto.Uint32(5),
				CurrentStatus:       gtfsrtpb.VehiclePosition_STOPPED_AT.Enum(),
				Timestamp:           proto.Uint64(1766000200),
				StopId:              proto.String("s5"),
			},
		}},
	})

	msg, err := Decode(raw)
	require.NoError(t, err)

	e := msg.Entities[0]
	assert.Equal(t, KindVehiclePosition, e.Kind)
	vp := e.VehiclePosition
	require.NotNil(t, vp)
	require.NotNil(t, vp.Latitude)
	assert.InDelta(t, 49.25, *vp.Latitude, 0.0001)
	assert.Equal(t, "STOPPED_AT", vp.CurrentStatus)
	require.NotNil(t, vp.CurrentStopSequence)
	assert.Equal(t, int64(5), *vp.CurrentStopSequence)
	require.NotNil(t, vp.StopID)
	assert.Equal(t, "s5", *vp.StopID)
}

func TestDecodeAlert(t *testing.T) {
	raw := marshal(t, &gtfsrtpb.FeedMessage{
		Header: header(),
		Entity: []*gtfsrtpb.FeedEntity{{
			Id: proto.String("e3"),
			Alert: &gtfsrtpb.Alert{
				Cause:  gtfsrtpb.Alert_CONSTRUCTION.Enum(),
				Effect: gtfsrtpb.Alert_DETOUR.Enum(),
				ActivePeriod: []*gtfsrtpb.TimeRange{
					{Start: proto.Uint64(1766000000), End: proto.Uint64(1766100000)},
					{Start: proto.Uint64(1766200000)},
					{},
				},
				InformedEntity: []*gtfsrtpb.EntitySelector{
					{RouteId: proto.String("r7"), RouteType: proto.Int32(3)},
					{StopId: proto.String("s3")},
				},
				HeaderText: &gtfsrtpb.TranslatedString{
					Translation: []*gtfsrtpb.TranslatedString_Translation{
						{Text: proto.String("Detour on 7"), Language: proto.String("en")},
						{Text: proto.String("Desvío en la 7"), Language: proto.String("es")},
					},
				},
				Url: &gtfsrtpb.TranslatedString{
					Translation: []*gtfsrtpb.TranslatedString_Translation{
						{Text: proto.String("https://example.org/alert")},
					},
				},
			},
		}},
	})

	msg, err := Decode(raw)
	require.NoError(t, err)

	e := msg.Entities[0]
	assert.Equal(t, KindAlert, e.Kind)
	a := e.Alert
	require.NotNil(t, a)
	assert.Equal(t, "CONSTRUCTION", a.Cause)
	assert.Equal(t, "DETOUR", a.Effect)
	assert.Equal(t, "UNKNOWN_SEVERITY", a.Severity)

	// The end bound wins when both are set; an empty range stays nil.
	require.Len(t, a.ActivePeriods, 3)
	assert.Equal(t, int64(1766100000), *a.ActivePeriods[0].Time)
	assert.Equal(t, int64(1766200000), *a.ActivePeriods[1].Time)
	assert.Nil(t, a.ActivePeriods[2].Time)

	require.Len(t, a.InformedEntities, 2)
	assert.Equal(t, "r7", *a.InformedEntities[0].RouteID)
	assert.Equal(t, int64(3), *a.InformedEntities[0].RouteType)

	require.Len(t, a.Texts, 3)
	assert.Equal(t, "url", a.Texts[0].Type)
	assert.Equal(t, "en", a.Texts[0].Language)
	assert.Equal(t, "header_text", a.Texts[1].Type)
	assert.Equal(t, "Detour on 7", *a.Texts[1].Text)
	assert.Equal(t, "es", a.Texts[2].Language)
	for _, at := range a.Texts {
		assert.Contains(t, []string{"url", "header_text", "description_text"}, at.Type)
	}
}

func TestDecodeUnknownEntityVariants(t *testing.T) {
	raw := marshal(t, &gtfsrtpb.FeedMessage{
		Header: header(),
		Entity: []*gtfsrtpb.FeedEntity{
			{Id: proto.String("empty")},
			{
				Id:         proto.String("double"),
				TripUpdate: &gtfsrtpb.TripUpdate{},
				Alert:      &gtfsrtpb.Alert{},
			},
		},
	})

	msg, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, msg.Entities, 2)

	assert.Equal(t, KindUnknown, msg.Entities[0].Kind)
	assert.Contains(t, msg.Entities[0].Reason, "no payload")
	assert.Equal(t, KindUnknown, msg.Entities[1].Kind)
	assert.Contains(t, msg.Entities[1].Reason, "2 payloads")
}
