// SPDX-License-Identifier: MIT

package tapohub

import "encoding/json"

// EventKind is the kind of the most recent trigger-log entry of a child
// device.
type EventKind string

const (
	EventUnknown     EventKind = "unknown"
	EventSingleClick EventKind = "singleClick"
	EventDoubleClick EventKind = "doubleClick"
	EventRotation    EventKind = "rotation"
)

// EventDetail qualifies a rotation event.
type EventDetail string

const (
	DetailNoEvent       EventDetail = "NONE"
	DetailClockwise     EventDetail = "CLOCKWISE"
	DetailAnticlockwise EventDetail = "ANTICLOCKWISE"
)

// EventRecord is the parsed form of the most recent trigger-log entry.
type EventRecord struct {
	DeviceUID string
	Kind      EventKind
	Detail    EventDetail
	Timestamp int64 // epoch seconds as reported by the hub
}

type triggerLogEntry struct {
	ID        int    `json:"id"`
	Event     string `json:"event"`
	EventID   string `json:"eventId"`
	Timestamp int64  `json:"timestamp"`
	Params    *struct {
		RotateDegrees *int `json:"rotate_deg"`
	} `json:"params"`
}

var knownEvents = map[string]EventKind{
	string(EventSingleClick): EventSingleClick,
	string(EventDoubleClick): EventDoubleClick,
	string(EventRotation):    EventRotation,
}

// ParseTriggerLogEntry derives an EventRecord from a raw trigger-log entry.
// The rotation detail is computed from the signed rotation-degree parameter:
// negative means anticlockwise, everything else clockwise. Entries without a
// params object carry no detail.
func ParseTriggerLogEntry(raw json.RawMessage) (EventRecord, error) {
	var entry triggerLogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return EventRecord{}, err
	}
	record := EventRecord{
		Kind:      EventUnknown,
		Detail:    DetailNoEvent,
		Timestamp: entry.Timestamp,
	}
	if kind, ok := knownEvents[entry.Event]; ok {
		record.Kind = kind
	}
	if entry.Params != nil && entry.Params.RotateDegrees != nil {
		if *entry.Params.RotateDegrees < 0 {
			record.Detail = DetailAnticlockwise
		} else {
			record.Detail = DetailClockwise
		}
	}
	return record, nil
}
