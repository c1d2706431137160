// SPDX-License-Identifier: MIT

package tapohub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/channels"
	"github.com/rs/zerolog"
)

const hubStartupDelay = 1 * time.Second

// Hub is the bridge handler for one Tapo hub: it owns the hub-level
// connector and session, the re-login and discovery schedulers, and an event
// feed aggregating the trigger-log events of all child devices.
type Hub struct {
	log       zerolog.Logger
	uid       string
	cfg       HubConfig
	host      Host
	sched     *Scheduler
	connector *Connector
	events    *channels.InfiniteChannel

	mu           sync.Mutex
	status       Status
	lastError    DeviceError
	eventsClosed bool
	startupJob   *Job
	reloginJob   *Job
	discoveryJob *Job
	onDiscovery  func([]DeviceInfo)

	disposed atomic.Bool
}

func NewHub(cfg HubConfig, host Host, sched *Scheduler, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if host == nil {
		host = NopHost{}
	}
	if sched == nil {
		sched = NewScheduler()
	}
	h := &Hub{
		uid:    "tapohub:hub:" + cfg.IPAddress,
		cfg:    cfg,
		host:   host,
		sched:  sched,
		events: channels.NewInfiniteChannel(),
	}
	h.log = logger.With().Str("uid", h.uid).Logger()
	h.connector = newConnector(h, nil, h, logger)
	return h
}

func (h *Hub) UID() string {
	return h.uid
}

func (h *Hub) IPAddress() string {
	return h.cfg.IPAddress
}

func (h *Hub) Credentials() Credentials {
	return h.cfg.Credentials
}

func (h *Hub) Scheduler() *Scheduler {
	return h.sched
}

// Initialize reports UNKNOWN and defers login and scheduler startup a
// little, giving the host time to finish bridge initialization.
func (h *Hub) Initialize() {
	h.updateStatus(StatusUnknown, StatusDetailNone, "")
	h.mu.Lock()
	h.startupJob = h.sched.Schedule(hubStartupDelay, h.delayedStartUp)
	h.mu.Unlock()
}

// Dispose cancels all jobs, drops the session and closes the event feed.
// Idempotent.
func (h *Hub) Dispose() {
	if h.disposed.Swap(true) {
		return
	}
	h.mu.Lock()
	startup, relogin, discovery := h.startupJob, h.reloginJob, h.discoveryJob
	h.mu.Unlock()
	startup.Cancel()
	relogin.Cancel()
	discovery.Cancel()
	h.connector.Logout()
	h.mu.Lock()
	h.eventsClosed = true
	h.mu.Unlock()
	h.events.Close()
}

func (h *Hub) delayedStartUp() {
	if h.disposed.Load() {
		return
	}
	h.Login()
	h.startReloginScheduler()
	h.startDiscoveryScheduler()
}

func (h *Hub) startReloginScheduler() {
	if h.disposed.Load() {
		return
	}
	interval := time.Duration(h.cfg.ReconnectInterval) * time.Minute
	if interval > 0 {
		h.log.Debug().Dur("interval", interval).Msg("starting relogin scheduler")
		job := h.sched.ScheduleWithFixedDelay(interval, interval, func() { h.Login() })
		h.mu.Lock()
		h.reloginJob = job
		h.mu.Unlock()
		// Dispose may have run since the check above; it cannot have seen
		// this handle, so cancel it here
		if h.disposed.Load() {
			job.Cancel()
		}
	} else {
		h.log.Debug().Msg("relogin scheduler disabled with config '0'")
		h.mu.Lock()
		relogin := h.reloginJob
		h.mu.Unlock()
		relogin.Cancel()
	}
}

func (h *Hub) startDiscoveryScheduler() {
	if h.disposed.Load() {
		return
	}
	interval := time.Duration(h.cfg.DiscoveryInterval) * time.Minute
	if interval > 0 {
		h.log.Debug().Dur("interval", interval).Msg("starting discovery scheduler")
		job := h.sched.ScheduleWithFixedDelay(0, interval, h.discoverDevices)
		h.mu.Lock()
		h.discoveryJob = job
		h.mu.Unlock()
		if h.disposed.Load() {
			job.Cancel()
		}
	} else {
		h.log.Debug().Msg("discovery scheduler disabled with config '0'")
		h.mu.Lock()
		discovery := h.discoveryJob
		h.mu.Unlock()
		discovery.Cancel()
	}
}

// SetDiscoveryFunc registers the callback the discovery scheduler feeds with
// enumerated children.
func (h *Hub) SetDiscoveryFunc(fn func([]DeviceInfo)) {
	h.mu.Lock()
	h.onDiscovery = fn
	h.mu.Unlock()
}

func (h *Hub) discoverDevices() {
	h.mu.Lock()
	fn := h.onDiscovery
	h.mu.Unlock()
	if fn == nil {
		return
	}
	fn(h.GetDeviceList())
}

/* error handling */

// LastError returns the hub's last-known error.
func (h *Hub) LastError() DeviceError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastError
}

// SetError records the error. Unlike a device, the hub does not re-evaluate
// its status here; Login drives the hub status.
func (h *Hub) SetError(te DeviceError) {
	h.mu.Lock()
	h.lastError = te
	h.mu.Unlock()
}

func (h *Hub) resetError() {
	h.mu.Lock()
	h.lastError = DeviceError{}
	h.mu.Unlock()
}

/* communications */

// Login logs in to the hub. Missing credentials short-circuit to a
// configuration-error status without any network activity.
func (h *Hub) Login() bool {
	h.resetError()
	if !h.cfg.Credentials.Set() {
		h.updateStatus(StatusOffline, StatusDetailConfigurationError, "credentials not set")
		return false
	}
	h.log.Debug().Str("username", h.cfg.Credentials.Username).Msg("login")
	if h.connector.Login() {
		h.updateStatus(StatusOnline, StatusDetailNone, "")
		return true
	}
	h.updateStatus(StatusOffline, StatusDetailCommunicationError, h.LastError().Message)
	return false
}

// GetDeviceList enumerates the hub's children, logging in first when
// needed. On failure the hub error is set and an empty list returned.
func (h *Hub) GetDeviceList() []DeviceInfo {
	h.log.Trace().Msg("query device list")
	h.resetError()
	if h.Login() {
		return h.connector.GetDeviceList()
	}
	return nil
}

/* event feed */

// Events returns the feed of child trigger-log events. The channel is
// closed on Dispose.
func (h *Hub) Events() <-chan any {
	return h.events.Out()
}

func (h *Hub) publishEvent(eventData EventRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.eventsClosed {
		return
	}
	h.events.In() <- eventData
}

/* status */

// CurrentStatus returns the last status reported to the host.
func (h *Hub) CurrentStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Hub) updateStatus(status Status, detail StatusDetail, message string) {
	if h.disposed.Load() {
		return
	}
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	h.log.Debug().Stringer("status", status).Stringer("detail", detail).Str("message", message).Msg("status update")
	h.host.UpdateStatus(h.uid, status, detail, message)
}
