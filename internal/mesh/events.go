package mesh

import (
	"encoding/binary"
	"time"
	"unicode/utf8"
)

// EventKind identifies an inbound notification from the radio. Values match
// the push codes the companion firmware sends on the wire.
type EventKind byte

const (
	EventDeviceInfo        EventKind = 0x01
	EventBattery           EventKind = 0x02
	EventTelemetryResponse EventKind = 0x03
	EventContactMessage    EventKind = 0x04
	EventChannelMessage    EventKind = 0x05
	EventNewContact        EventKind = 0x06
	EventAdvertisement     EventKind = 0x07
	EventStatusResponse    EventKind = 0x08

	// EventUnknown is not a wire code; it stands in for any code this
	// build does not recognize so subscribers can still see the frame.
	EventUnknown EventKind = 0xFF
)

// Kinds lists every kind a subscriber can register for, EventUnknown included.
func Kinds() []EventKind {
	return []EventKind{
		EventDeviceInfo,
		EventBattery,
		EventTelemetryResponse,
		EventContactMessage,
		EventChannelMessage,
		EventNewContact,
		EventAdvertisement,
		EventStatusResponse,
		EventUnknown,
	}
}

func (k EventKind) String() string {
	switch k {
	case EventDeviceInfo:
		return "DEVICE_INFO"
	case EventBattery:
		return "BATTERY"
	case EventTelemetryResponse:
		return "TELEMETRY_RESPONSE"
	case EventContactMessage:
		return "CONTACT_MSG_RECV"
	case EventChannelMessage:
		return "CHANNEL_MSG_RECV"
	case EventNewContact:
		return "NEW_CONTACT"
	case EventAdvertisement:
		return "ADVERTISEMENT"
	case EventStatusResponse:
		return "STATUS_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound notification. Payload stays the raw frame payload;
// interpretation is up to the receiver and entirely best effort.
type Event struct {
	Kind    EventKind
	Code    byte
	Payload []byte
	At      time.Time
}

// BatteryMillivolts decodes a battery payload (little-endian uint16 mV).
// ok is false when the payload is not the expected shape.
func (e Event) BatteryMillivolts() (uint16, bool) {
	if e.Kind != EventBattery || len(e.Payload) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(e.Payload[:2]), true
}

// Text returns the payload as a string when it is valid UTF-8 text.
func (e Event) Text() (string, bool) {
	if len(e.Payload) == 0 || !utf8.Valid(e.Payload) {
		return "", false
	}
	return string(e.Payload), true
}

func eventFromFrame(f *frame) Event {
	kind := EventKind(f.code)
	switch kind {
	case EventDeviceInfo, EventBattery, EventTelemetryResponse,
		EventContactMessage, EventChannelMessage, EventNewContact,
		EventAdvertisement, EventStatusResponse:
	default:
		kind = EventUnknown
	}
	return Event{
		Kind:    kind,
		Code:    f.code,
		Payload: f.payload,
		At:      time.Now(),
	}
}
