// SPDX-License-Identifier: MIT

package tapohub

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const deviceStartupDelay = 2 * time.Second

// Device is the handler of one child device behind a hub: it owns the
// device's connector, its polling jobs and the connection state machine that
// maps classified errors to host status transitions.
type Device struct {
	log       zerolog.Logger
	uid       string
	deviceID  string
	cfg       DeviceConfig
	hub       *Hub
	connector *Connector
	host      Host
	sched     *Scheduler

	mu         sync.Mutex
	status     Status
	lastError  DeviceError
	deviceInfo DeviceInfo
	startupJob *Job
	pollingJob *Job

	disposed atomic.Bool
}

func NewDevice(hub *Hub, cfg DeviceConfig, host Host, sched *Scheduler, logger *zerolog.Logger) *Device {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if host == nil {
		host = NopHost{}
	}
	d := &Device{
		uid:      "tapohub:device:" + cfg.DeviceID,
		deviceID: cfg.DeviceID,
		cfg:      cfg,
		hub:      hub,
		host:     host,
		sched:    sched,
	}
	d.log = logger.With().Str("uid", d.uid).Logger()
	if hub != nil {
		d.connector = newConnector(hub, d, d, logger)
	}
	return d
}

func (d *Device) UID() string {
	return d.uid
}

func (d *Device) DeviceID() string {
	return d.deviceID
}

// Initialize checks the configuration, activates the device and issues the
// initial info/status queries.
func (d *Device) Initialize() {
	configError := d.checkSettings()
	if !configError.HasError() {
		d.activate()
	} else {
		d.updateStatus(StatusOffline, StatusDetailConfigurationError, configError.Message)
		return
	}

	// get initial status
	d.QueryDeviceInfo(false)
	d.QueryDeviceStatus(false)
}

// Dispose cancels all jobs and drops the session. Idempotent; an in-flight
// poll may still complete and is ignored by updateStatus.
func (d *Device) Dispose() {
	d.disposed.Store(true)
	d.mu.Lock()
	startup, polling := d.startupJob, d.pollingJob
	d.mu.Unlock()
	startup.Cancel()
	polling.Cancel()
	if d.connector != nil {
		d.connector.Logout()
	}
}

// activate reports UNKNOWN and defers the first connect a little, giving the
// host time to finish thing initialization.
func (d *Device) activate() {
	d.updateStatus(StatusUnknown, StatusDetailNone, "")
	d.mu.Lock()
	d.startupJob = d.sched.Schedule(deviceStartupDelay, d.delayedStartUp)
	d.mu.Unlock()
}

func (d *Device) delayedStartUp() {
	if d.disposed.Load() {
		return
	}
	d.Connect()
	d.startPollingScheduler()
}

func (d *Device) startPollingScheduler() {
	if d.disposed.Load() {
		return
	}
	interval := time.Duration(d.cfg.PollingInterval) * time.Second
	if interval > 0 {
		d.log.Debug().Dur("interval", interval).Msg("starting polling scheduler")
		job := d.sched.ScheduleWithFixedDelay(interval, interval, d.pollingSchedulerAction)
		d.mu.Lock()
		d.pollingJob = job
		d.mu.Unlock()
		// Dispose may have run since the check above; it cannot have seen
		// this handle, so cancel it here
		if d.disposed.Load() {
			job.Cancel()
		}
	} else {
		d.log.Debug().Msg("polling scheduler disabled with config '0'")
		d.mu.Lock()
		polling := d.pollingJob
		d.mu.Unlock()
		polling.Cancel()
	}
}

func (d *Device) pollingSchedulerAction() {
	d.log.Trace().Msg("scheduler action")
	d.QueryDeviceStatus(false)
}

// checkSettings detects local configuration faults before any network
// activity.
func (d *Device) checkSettings() DeviceError {
	if d.hub == nil || d.connector == nil {
		return NewDeviceError(ErrNoHub)
	}
	if !d.hub.Credentials().Set() {
		return NewDeviceError(ErrCredentialsNotSet)
	}
	return DeviceError{}
}

/* error handling */

// LastError returns the device's last-known error.
func (d *Device) LastError() DeviceError {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}

// SetError records the error and re-evaluates the connection state.
func (d *Device) SetError(te DeviceError) {
	d.mu.Lock()
	d.lastError = te
	d.mu.Unlock()
	d.HandleConnectionState()
}

func (d *Device) resetError() {
	d.mu.Lock()
	d.lastError = DeviceError{}
	d.mu.Unlock()
}

/* queries */

// QueryDeviceInfo refreshes the device info. When not logged in it triggers
// a (re)connect instead.
func (d *Device) QueryDeviceInfo(force bool) {
	d.resetError()
	if d.connector.LoggedIn() {
		d.connector.QueryChildInfo(force)
	} else {
		d.log.Debug().Msg("tried to query device info but not logged in")
		d.Connect()
	}
}

// QueryDeviceStatus refreshes the most recent trigger-log event. When not
// logged in it triggers a (re)connect instead.
func (d *Device) QueryDeviceStatus(force bool) {
	d.resetError()
	if d.connector.LoggedIn() {
		d.connector.QueryChildStatus(force)
	} else {
		d.log.Debug().Msg("tried to query device status but not logged in")
		d.Connect()
	}
}

/* connection */

// Connect logs in to the hub and, on success, refreshes the device info.
func (d *Device) Connect() bool {
	d.resetError()
	loginSuccess := d.connector.Login()
	if loginSuccess {
		d.connector.QueryChildInfo(false)
	} else {
		d.updateStatus(StatusOffline, StatusDetailCommunicationError, d.LastError().Message)
	}
	return loginSuccess
}

// Disconnect drops the session so the next query logs in again.
func (d *Device) Disconnect() {
	d.connector.Logout()
}

// HandleConnectionState drives the status transition for the last-known
// error. Reauth codes never surface as a status, they only trigger a
// reconnect.
func (d *Device) HandleConnectionState() {
	lastError := d.LastError()
	switch Classify(lastError.Code) {
	case CategorySuccess:
		if d.CurrentStatus() != StatusOnline {
			d.updateStatus(StatusOnline, StatusDetailNone, "")
		}
	case CategoryReauth:
		d.Connect()
	case CategoryCommunication:
		d.updateStatus(StatusOffline, StatusDetailCommunicationError, lastError.Message)
		d.Disconnect()
	case CategoryConfiguration:
		d.updateStatus(StatusOffline, StatusDetailConfigurationError, lastError.Message)
	default:
		d.updateStatus(StatusUnknown, StatusDetailNone, lastError.Message)
	}
}

/* device info and events */

// DeviceInfo returns the last accepted info snapshot.
func (d *Device) DeviceInfo() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceInfo
}

// SetDeviceInfo applies an info update after verifying that it came from the
// expected device. A mismatch forces a configuration-error status instead,
// which catches IP addresses being reused between devices.
func (d *Device) SetDeviceInfo(deviceInfo DeviceInfo) {
	d.mu.Lock()
	d.deviceInfo = deviceInfo
	d.mu.Unlock()
	if d.isExpectedDevice(deviceInfo) {
		d.devicePropertiesChanged(deviceInfo)
		d.HandleConnectionState()
	} else {
		d.updateStatus(StatusOffline, StatusDetailConfigurationError,
			fmt.Sprintf("found type:'%s' with mac:'%s'. Check IP-Address",
				deviceInfo.Model, deviceInfo.RepresentationProperty()))
	}
}

// isExpectedDevice compares the configured identity against the received
// one. The received MAC sometimes comes with and sometimes without
// separators, so both sides are normalized first. Without a configured MAC
// the model decides.
func (d *Device) isExpectedDevice(deviceInfo DeviceInfo) bool {
	expected := d.cfg.MAC
	if strings.TrimSpace(expected) == "" {
		return strings.EqualFold(d.cfg.Model, deviceInfo.Model)
	}
	return unformatMAC(expected) == unformatMAC(deviceInfo.RepresentationProperty())
}

// SetEventData publishes the parsed trigger-log event to the host channels
// and to the hub's event feed.
func (d *Device) SetEventData(eventData EventRecord) {
	eventData.DeviceUID = d.uid
	d.host.PublishString(d.uid, ChannelEvent, string(eventData.Kind))
	d.host.PublishString(d.uid, ChannelEventDetail, string(eventData.Detail))
	d.host.PublishNumber(d.uid, ChannelEventTimestamp, eventData.Timestamp)
	if d.hub != nil {
		d.hub.publishEvent(eventData)
	}
}

func (d *Device) devicePropertiesChanged(deviceInfo DeviceInfo) {
	d.host.UpdateProperties(d.uid, map[string]string{
		PropertyMACAddress:      deviceInfo.MAC,
		PropertyFirmwareVersion: deviceInfo.FWVersion,
		PropertyHardwareVersion: deviceInfo.HWVersion,
		PropertyModelID:         deviceInfo.Model,
		PropertySerialNumber:    deviceInfo.Serial(),
	})
}

/* status */

// CurrentStatus returns the last status reported to the host.
func (d *Device) CurrentStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Device) updateStatus(status Status, detail StatusDetail, message string) {
	if d.disposed.Load() {
		return
	}
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
	d.log.Debug().Stringer("status", status).Stringer("detail", detail).Str("message", message).Msg("status update")
	d.host.UpdateStatus(d.uid, status, detail, message)
}

// unformatMAC strips separators so MACs from different sources compare
// equal.
func unformatMAC(mac string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", ":", "", ".", "", " ", "").Replace(mac))
}
