// SPDX-License-Identifier: MIT

package tapohub

import (
	"strings"
	"testing"
	"time"
)

func TestDeviceWithoutHub(t *testing.T) {
	host := newRecordingHost()
	d := NewDevice(nil, testDeviceConfig(), host, NewScheduler(), nil)
	d.Initialize()
	last, ok := host.lastStatus()
	if !ok || last.status != StatusOffline || last.detail != StatusDetailConfigurationError {
		t.Fatalf("want OFFLINE/CONFIGURATION_ERROR, got %+v", last)
	}
	if last.message != ErrNoHub.Error() {
		t.Errorf("message %q", last.message)
	}
}

func TestDeviceWithoutCredentials(t *testing.T) {
	f := newFakeHub(t)
	host := newRecordingHost()
	hub := NewHub(HubConfig{IPAddress: f.Addr()}, host, NewScheduler(), nil)
	d := NewDevice(hub, testDeviceConfig(), host, hub.Scheduler(), nil)
	d.Initialize()
	last, ok := host.lastStatus()
	if !ok || last.status != StatusOffline || last.detail != StatusDetailConfigurationError {
		t.Fatalf("want OFFLINE/CONFIGURATION_ERROR, got %+v", last)
	}
	if last.message != ErrCredentialsNotSet.Error() {
		t.Errorf("message %q", last.message)
	}
	if got := f.handshakeCount(); got != 0 {
		t.Errorf("configuration check must not touch the network, got %d handshakes", got)
	}
}

func TestSetDeviceInfoAcceptsMACVariants(t *testing.T) {
	// the hub reports MACs with varying separator styles, all of them must
	// match the configured one
	for _, mac := range []string{"3C52A1001122", "3C-52-A1-00-11-22", "3c:52:a1:00:11:22", "3c52.a100.1122"} {
		t.Run(mac, func(t *testing.T) {
			host := newRecordingHost()
			d := NewDevice(nil, testDeviceConfig(), host, NewScheduler(), nil)
			d.SetDeviceInfo(DeviceInfo{DeviceID: testDeviceID, Model: testModel, MAC: mac})
			last, ok := host.lastStatus()
			if !ok || last.status != StatusOnline {
				t.Errorf("want ONLINE for mac %q, got %+v", mac, last)
			}
		})
	}
}

func TestSetDeviceInfoMismatch(t *testing.T) {
	host := newRecordingHost()
	d := NewDevice(nil, testDeviceConfig(), host, NewScheduler(), nil)
	d.SetDeviceInfo(DeviceInfo{DeviceID: "F00D", Model: "P110", MAC: "FFFFFFFFFFFF"})
	last, ok := host.lastStatus()
	if !ok || last.status != StatusOffline || last.detail != StatusDetailConfigurationError {
		t.Fatalf("want OFFLINE/CONFIGURATION_ERROR, got %+v", last)
	}
	if !strings.Contains(last.message, "Check IP-Address") {
		t.Errorf("message %q", last.message)
	}
	if len(host.properties) != 0 {
		t.Error("mismatching device must not publish properties")
	}
}

func TestSetDeviceInfoModelFallback(t *testing.T) {
	// without a configured MAC the model decides, case-insensitively
	cfg := testDeviceConfig()
	cfg.MAC = ""
	host := newRecordingHost()
	d := NewDevice(nil, cfg, host, NewScheduler(), nil)
	d.SetDeviceInfo(DeviceInfo{DeviceID: testDeviceID, Model: "s200b", MAC: "0000AB12CD34"})
	last, ok := host.lastStatus()
	if !ok || last.status != StatusOnline {
		t.Errorf("want ONLINE on model match, got %+v", last)
	}
}

func TestHandleConnectionStateUnknownCode(t *testing.T) {
	f := newFakeHub(t)
	host := newRecordingHost()
	_, d := newTestDevice(t, f, host)
	d.SetError(NewDeviceError(ErrorCode(31337)))
	last, ok := host.lastStatus()
	if !ok || last.status != StatusUnknown {
		t.Errorf("unknown code must report UNKNOWN, got %+v", last)
	}
}

func TestDeviceDisposeIdempotent(t *testing.T) {
	f := newFakeHub(t)
	f.setChildInfo(defaultChildInfo())
	host := newRecordingHost()
	_, d := newTestDevice(t, f, host)
	if !d.Connect() {
		t.Fatalf("connect failed: %v", d.LastError())
	}

	d.Dispose()
	d.Dispose()
	if d.connector.LoggedIn() {
		t.Error("dispose must drop the session")
	}

	before := len(host.statuses)
	d.SetError(NewDeviceError(StatusCommunicationError))
	if len(host.statuses) != before {
		t.Error("a disposed device must not report status changes")
	}
}

func TestDeviceDisposeDuringStartup(t *testing.T) {
	// a startup callback already in flight when Dispose runs must not
	// re-arm the polling job or touch the network
	f := newFakeHub(t)
	f.setChildInfo(defaultChildInfo())
	host := newRecordingHost()
	hub := newTestHub(t, f, host)
	cfg := testDeviceConfig()
	cfg.PollingInterval = 1
	d := NewDevice(hub, cfg, host, hub.Scheduler(), nil)

	d.Dispose()
	d.delayedStartUp()

	d.mu.Lock()
	job := d.pollingJob
	d.mu.Unlock()
	if job != nil {
		t.Error("disposed device must not arm a polling job")
	}
	if got := f.handshakeCount(); got != 0 {
		t.Errorf("disposed device must not connect, got %d handshakes", got)
	}

	done := make(chan struct{})
	go func() {
		hub.Scheduler().Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler still has jobs after dispose")
	}
}

func TestUnformatMAC(t *testing.T) {
	cases := map[string]string{
		"aa:bb:cc:dd:ee:ff": "AABBCCDDEEFF",
		"AA-BB-CC-DD-EE-FF": "AABBCCDDEEFF",
		"aabb.ccdd.eeff":    "AABBCCDDEEFF",
		"AABBCCDDEEFF":      "AABBCCDDEEFF",
		"aa bb cc dd ee ff": "AABBCCDDEEFF",
	}
	for in, want := range cases {
		if got := unformatMAC(in); got != want {
			t.Errorf("unformatMAC(%q) = %q, want %q", in, got, want)
		}
	}
}
