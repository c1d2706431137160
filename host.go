// SPDX-License-Identifier: MIT

package tapohub

// The host automation framework owns the thing model. The module only talks
// back through these narrow interfaces, so any framework (or a test) can
// stand in.

// Status mirrors the host's coarse thing status.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "ONLINE"
	case StatusOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// StatusDetail qualifies an OFFLINE status.
type StatusDetail int

const (
	StatusDetailNone StatusDetail = iota
	StatusDetailCommunicationError
	StatusDetailConfigurationError
)

func (d StatusDetail) String() string {
	switch d {
	case StatusDetailCommunicationError:
		return "COMMUNICATION_ERROR"
	case StatusDetailConfigurationError:
		return "CONFIGURATION_ERROR"
	default:
		return "NONE"
	}
}

// Channel ids published for hub child devices.
const (
	ChannelEvent          = "button#last_event"
	ChannelEventDetail    = "button#event_details"
	ChannelEventTimestamp = "button#timestamp"
)

// Property keys published on accepted device info updates.
const (
	PropertyMACAddress      = "macAddress"
	PropertyFirmwareVersion = "firmwareVersion"
	PropertyHardwareVersion = "hardwareVersion"
	PropertyModelID         = "modelId"
	PropertySerialNumber    = "serialNumber"
)

// StatusSink receives thing status transitions.
type StatusSink interface {
	UpdateStatus(uid string, status Status, detail StatusDetail, message string)
}

// StateSink receives channel state updates.
type StateSink interface {
	PublishString(uid, channel, value string)
	PublishNumber(uid, channel string, value int64)
}

// PropertySink receives device property updates.
type PropertySink interface {
	UpdateProperties(uid string, properties map[string]string)
}

// Host bundles the callbacks a device or hub handler needs from the
// framework.
type Host interface {
	StatusSink
	StateSink
	PropertySink
}

// NopHost discards everything. Handy default when a sink is not wired.
type NopHost struct{}

func (NopHost) UpdateStatus(string, Status, StatusDetail, string) {}
func (NopHost) PublishString(string, string, string)              {}
func (NopHost) PublishNumber(string, string, int64)               {}
func (NopHost) UpdateProperties(string, map[string]string)        {}
