// SPDX-License-Identifier: MIT

package tapohub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// errorSink is where a connector reports classified failures: the owning
// device, or the hub itself for the hub-level connector.
type errorSink interface {
	SetError(DeviceError)
}

// Connector translates device/hub operations into securePassthrough requests
// against one hub. Each connector owns its own session and query gate; info
// and status queries share a single gate.
type Connector struct {
	log     zerolog.Logger
	session *PassthroughSession
	device  *Device // nil for the hub-level connector
	owner   errorSink
	gate    Gate

	mu         sync.Mutex
	deviceInfo DeviceInfo
}

func newConnector(hub *Hub, device *Device, owner errorSink, logger *zerolog.Logger) *Connector {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	uid := hub.UID()
	if device != nil {
		uid = device.UID()
	}
	return &Connector{
		log:     logger.With().Str("uid", uid).Logger(),
		session: NewPassthroughSession(hub.IPAddress(), hub.Credentials(), logger),
		device:  device,
		owner:   owner,
	}
}

// Login logs in to the hub, reporting a classified error to the owner on
// failure. Repeated calls within the login gap window are no-ops.
func (c *Connector) Login() bool {
	ok, err := c.session.Login()
	if err != nil {
		c.log.Debug().Err(err).Msg("login failed")
		c.routeError(err)
		return false
	}
	return ok
}

func (c *Connector) Logout() {
	c.session.Logout()
}

func (c *Connector) LoggedIn() bool {
	return c.session.LoggedIn()
}

// DeviceInfo returns the most recent info snapshot, which is empty when the
// last query did not produce a usable one.
func (c *Connector) DeviceInfo() DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceInfo
}

func (c *Connector) setDeviceInfo(info DeviceInfo) {
	c.mu.Lock()
	c.deviceInfo = info
	c.mu.Unlock()
}

func (c *Connector) handleError(te DeviceError) {
	c.owner.SetError(te)
}

// routeError classifies a transport error. Device-reported codes pass
// through, everything else (undecryptable or malformed responses included)
// degrades to an HTTP response error.
func (c *Connector) routeError(err error) {
	var code ErrorCode
	if errors.As(err, &code) {
		c.handleError(NewDeviceErrorWithMessage(code, err.Error()))
		return
	}
	c.handleError(NewDeviceErrorWithMessage(ErrHTTPResponse, err.Error()))
}

// QueryChildInfo queries get_device_info for the owning child device and
// refreshes its DeviceInfo. force bypasses the query gap.
func (c *Connector) QueryChildInfo(force bool) {
	deviceID := c.device.DeviceID()
	c.log.Trace().Str("device_id", deviceID).Msg("query child info")
	if !c.gate.TryPass(time.Now(), sendMinGap, force) {
		c.log.Debug().Msg("command not sent because of min gap")
		return
	}
	request, err := NewChildControlRequest("get_device_info", deviceID, nil)
	if err != nil {
		c.routeError(err)
		return
	}
	payload, err := json.Marshal(request)
	if err != nil {
		c.routeError(err)
		return
	}
	response, err := c.session.SecurePassthrough(payload)
	if err != nil {
		c.routeError(err)
		return
	}
	c.childInfoFromResponse(response)
}

func (c *Connector) childInfoFromResponse(responseBody []byte) {
	result := c.jsonFromResponse(responseBody)
	childResult := nestedObject(result, "responseData", "result")
	if _, ok := childResult["device_id"]; ok {
		var info DeviceInfo
		if err := reparse(childResult, &info); err != nil {
			c.routeError(err)
			return
		}
		c.setDeviceInfo(info)
		c.device.SetDeviceInfo(info)
	} else {
		c.setDeviceInfo(DeviceInfo{})
		c.device.HandleConnectionState()
	}
}

// QueryChildStatus queries the most recent trigger-log entry of the owning
// child device. force bypasses the query gap.
func (c *Connector) QueryChildStatus(force bool) {
	deviceID := c.device.DeviceID()
	c.log.Trace().Str("device_id", deviceID).Msg("query child status")
	if !c.gate.TryPass(time.Now(), sendMinGap, force) {
		c.log.Debug().Msg("command not sent because of min gap")
		return
	}
	params := GetTriggerLogsParams{
		PageSize: 1,
		StartID:  0,
		DeviceID: deviceID,
	}
	request, err := NewChildControlRequest("get_trigger_logs", deviceID, params)
	if err != nil {
		c.routeError(err)
		return
	}
	payload, err := json.Marshal(request)
	if err != nil {
		c.routeError(err)
		return
	}
	response, err := c.session.SecurePassthrough(payload)
	if err != nil {
		c.routeError(err)
		return
	}
	c.childStatusFromResponse(response)
}

func (c *Connector) childStatusFromResponse(responseBody []byte) {
	result := c.jsonFromResponse(responseBody)
	childResult := nestedObject(result, "responseData", "result")
	logs, ok := childResult["logs"].([]any)
	if !ok || len(logs) == 0 {
		c.device.HandleConnectionState()
		return
	}
	raw, err := json.Marshal(logs[0])
	if err != nil {
		c.routeError(err)
		return
	}
	record, err := ParseTriggerLogEntry(raw)
	if err != nil {
		c.routeError(err)
		return
	}
	c.device.SetEventData(record)
}

// GetDeviceList enumerates the children of the hub. On any failure the error
// is routed to the owner and an empty list is returned, the caller never
// fails.
func (c *Connector) GetDeviceList() []DeviceInfo {
	request := NewGetChildDeviceListRequest()
	payload, err := json.Marshal(request)
	if err != nil {
		c.routeError(err)
		return nil
	}
	response, err := c.session.SecurePassthrough(payload)
	if err != nil {
		c.routeError(err)
		return nil
	}
	var listResp struct {
		ErrorCode ErrorCode       `json:"error_code"`
		Result    ChildDeviceList `json:"result"`
	}
	if err := json.Unmarshal(response, &listResp); err != nil {
		c.log.Trace().Str("body", string(response)).Msg("unexpected json response")
		c.handleError(NewDeviceError(ErrHTTPResponse))
		return nil
	}
	if listResp.ErrorCode != 0 {
		c.handleError(NewDeviceErrorWithMessage(listResp.ErrorCode, "device answers with errorcode"))
		c.log.Trace().Str("body", string(response)).Msg("hub returns error")
		return nil
	}
	return listResp.Result.ChildDeviceList
}

// jsonFromResponse unwraps a decrypted inner response. On success it returns
// the result object (or the whole object when no result is present). On a
// device error the error is reported and the raw object is returned anyway:
// callers check for the fields they need and fail closed. An unparseable
// body reports an HTTP response error and yields an empty object.
func (c *Connector) jsonFromResponse(responseBody []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(responseBody, &obj); err == nil && obj != nil {
		errorCode := jsonInt(obj, "error_code")
		if errorCode == 0 {
			c.log.Trace().Str("body", string(responseBody)).Msg("received result")
			if result, ok := obj["result"].(map[string]any); ok {
				return result
			}
			return obj
		}
		te := NewDeviceErrorWithMessage(ErrorCode(errorCode), "device answers with errorcode")
		c.log.Debug().Int("error_code", errorCode).Str("message", te.Message).Msg("device answers with errorcode")
		c.handleError(te)
		return obj
	}
	c.log.Debug().Str("body", string(responseBody)).Msg("unparseable response")
	c.handleError(NewDeviceError(ErrHTTPResponse))
	return map[string]any{}
}

func jsonInt(obj map[string]any, key string) int {
	if v, ok := obj[key].(float64); ok {
		return int(v)
	}
	return 0
}

// nestedObject walks a path of object keys, returning an empty object as
// soon as a step is missing.
func nestedObject(obj map[string]any, path ...string) map[string]any {
	for _, key := range path {
		next, ok := obj[key].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		obj = next
	}
	return obj
}

// reparse converts a generic JSON object into a typed struct.
func reparse(obj map[string]any, dst any) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
