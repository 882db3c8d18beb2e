// Package telemetry packs and unpacks the location telemetry envelope
// carried in message fields. The binary layout (msgpack map, sensor IDs,
// field order, integer widths and scale factors) is an external contract
// shared with other implementations; none of it is an internal choice.
package telemetry

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/xerrors"
)

// FieldTelemetry is the message field number under which hosts embed a
// telemetry envelope.
const FieldTelemetry = 0x02

// Sensor IDs inside the envelope map.
const (
	sidTime     = 0x01
	sidLocation = 0x02
)

// Location is a decoded location telemetry reading. Values are in SI-ish
// units: degrees, meters, meters/second, milliseconds.
type Location struct {
	Latitude    float64
	Longitude   float64
	Altitude    float64
	Speed       float64
	Bearing     float64
	Accuracy    float64
	TimestampMs int64
}

// Pack encodes a location reading into the telemetry envelope. Latitude and
// longitude are degrees, accuracy and altitude meters, speed meters/second,
// bearing degrees, timestamp milliseconds.
func Pack(lat, lon, accuracy float64, timestampMs int64,
	altitude, speed, bearing float64) ([]byte, error) {

	seconds := timestampMs / 1000

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	err := enc.EncodeMapLen(2)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode envelope: %v", err)
	}

	err = enc.EncodeInt(sidTime)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode time key: %v", err)
	}

	err = enc.EncodeInt(seconds)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode time: %v", err)
	}

	err = enc.EncodeInt(sidLocation)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode location key: %v", err)
	}

	err = enc.EncodeArrayLen(7)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode location array: %v", err)
	}

	latE6 := math.Round(lat * 1e6)
	lonE6 := math.Round(lon * 1e6)
	altCm := math.Round(altitude * 100)
	speedCm := math.Round(speed * 100)
	bearingCd := math.Round(bearing * 100)
	accuracyCm := math.Round(accuracy * 100)

	// The scaled values must fit their wire widths; a wrapped value would
	// decode as a plausible but wrong reading on the other side.
	switch {
	case !fitsInt32(latE6) || !fitsInt32(lonE6):
		return nil, xerrors.Errorf("coordinates out of range: %f, %f", lat, lon)
	case !fitsInt32(altCm):
		return nil, xerrors.Errorf("altitude out of range: %f", altitude)
	case speedCm < 0 || speedCm > math.MaxUint32:
		return nil, xerrors.Errorf("speed out of range: %f", speed)
	case !fitsInt32(bearingCd):
		return nil, xerrors.Errorf("bearing out of range: %f", bearing)
	case accuracyCm < 0 || accuracyCm > math.MaxUint16:
		return nil, xerrors.Errorf("accuracy out of range: %f", accuracy)
	}

	fields := [][]byte{
		i32be(int32(latE6)),
		i32be(int32(lonE6)),
		i32be(int32(altCm)),
		u32be(uint32(speedCm)),
		i32be(int32(bearingCd)),
		u16be(uint16(accuracyCm)),
	}

	for _, field := range fields {
		err = enc.EncodeBytes(field)
		if err != nil {
			return nil, xerrors.Errorf("failed to encode location field: %v", err)
		}
	}

	err = enc.EncodeInt(seconds)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode location time: %v", err)
	}

	return buf.Bytes(), nil
}

// Unpack decodes a telemetry envelope. It returns nil for anything it cannot
// make sense of: garbage bytes, a non-map top level, a missing location
// sensor, a short location array, or elements of the wrong binary shape.
// Foreign envelopes may carry additional sensors; they are ignored. A
// missing time sensor is tolerated, the location array carries the timestamp
// too.
func Unpack(data []byte) *Location {
	var env map[int64]msgpack.RawMessage

	err := msgpack.Unmarshal(data, &env)
	if err != nil {
		return nil
	}

	rawLoc, ok := env[sidLocation]
	if !ok {
		return nil
	}

	var arr []interface{}

	err = msgpack.Unmarshal(rawLoc, &arr)
	if err != nil || len(arr) < 7 {
		return nil
	}

	lat, ok := asInt32(arr[0])
	if !ok {
		return nil
	}
	lon, ok := asInt32(arr[1])
	if !ok {
		return nil
	}
	alt, ok := asInt32(arr[2])
	if !ok {
		return nil
	}
	speed, ok := asUint32(arr[3])
	if !ok {
		return nil
	}
	bearing, ok := asInt32(arr[4])
	if !ok {
		return nil
	}
	accuracy, ok := asUint16(arr[5])
	if !ok {
		return nil
	}

	seconds, ok := asInt64(arr[6])
	if !ok {
		return nil
	}

	if rawTime, found := env[sidTime]; found {
		var t int64

		err = msgpack.Unmarshal(rawTime, &t)
		if err == nil {
			seconds = t
		}
	}

	return &Location{
		Latitude:    float64(lat) / 1e6,
		Longitude:   float64(lon) / 1e6,
		Altitude:    float64(alt) / 100,
		Speed:       float64(speed) / 100,
		Bearing:     float64(bearing) / 100,
		Accuracy:    float64(accuracy) / 100,
		TimestampMs: seconds * 1000,
	}
}

func fitsInt32(v float64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

func i32be(v int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return buf
}

func u32be(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func u16be(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}

func asInt32(v interface{}) (int32, bool) {
	raw, ok := v.([]byte)
	if !ok || len(raw) != 4 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(raw)), true
}

func asUint32(v interface{}) (uint32, bool) {
	raw, ok := v.([]byte)
	if !ok || len(raw) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(raw), true
}

func asUint16(v interface{}) (uint16, bool) {
	raw, ok := v.([]byte)
	if !ok || len(raw) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw), true
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
