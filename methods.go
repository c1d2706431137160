// SPDX-License-Identifier: MIT

package tapohub

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"
)

type HandshakeRequest struct {
	Method          string `json:"method"`
	RequestTimeMils int64  `json:"requestTimeMils"`
	Params          struct {
		Key string `json:"key"`
	} `json:"params"`
}

type HandshakeResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
	Result    struct {
		Key string `json:"key"`
	} `json:"result"`
}

func NewHandshakeRequest(key string) *HandshakeRequest {
	r := HandshakeRequest{
		Method:          "handshake",
		RequestTimeMils: time.Now().UnixMilli(),
	}
	r.Params.Key = key
	return &r
}

type LoginDeviceRequest struct {
	Method          string `json:"method"`
	RequestTimeMils int64  `json:"requestTimeMils"`
	Params          struct {
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"params"`
}

type LoginDeviceResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
	Result    struct {
		Token string `json:"token"`
	} `json:"result"`
}

// NewLoginDeviceRequest builds a login_device request. The username is sent
// as base64 over the hex SHA1 digest, the password as plain base64.
func NewLoginDeviceRequest(username, password string) *LoginDeviceRequest {
	r := LoginDeviceRequest{
		Method:          "login_device",
		RequestTimeMils: time.Now().UnixMilli(),
	}
	tmp := sha1.Sum([]byte(username))
	hexsha := make([]byte, hex.EncodedLen(len(tmp)))
	hex.Encode(hexsha, tmp[:])
	r.Params.Username = base64.StdEncoding.EncodeToString(hexsha)
	r.Params.Password = base64.StdEncoding.EncodeToString([]byte(password))
	return &r
}

type SecurePassthroughRequest struct {
	Method string `json:"method"`
	Params struct {
		Request string `json:"request"`
	} `json:"params"`
}

type SecurePassthroughResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
	Result    struct {
		Response string `json:"response"`
	} `json:"result"`
}

func NewSecurePassthroughRequest(innerRequest string) *SecurePassthroughRequest {
	r := SecurePassthroughRequest{
		Method: "securePassthrough",
	}
	r.Params.Request = innerRequest
	return &r
}

// ChildControlRequest targets a child device behind the hub. The child
// method and its parameters travel in requestData, the hub routes on
// device_id.
type ChildControlRequest struct {
	Method string `json:"method"`
	Params struct {
		RequestData struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params,omitempty"`
		} `json:"requestData"`
		DeviceID string `json:"device_id"`
	} `json:"params"`
	RequestTimeMils int64 `json:"requestTimeMils"`
}

func NewChildControlRequest(childMethod, deviceID string, params any) (*ChildControlRequest, error) {
	r := ChildControlRequest{
		Method:          "control_child",
		RequestTimeMils: time.Now().UnixMilli(),
	}
	r.Params.RequestData.Method = childMethod
	r.Params.DeviceID = deviceID
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		r.Params.RequestData.Params = b
	}
	return &r, nil
}

type GetTriggerLogsParams struct {
	PageSize int    `json:"page_size"`
	StartID  int    `json:"start_id"`
	DeviceID string `json:"device_id"`
}

type GetChildDeviceListRequest struct {
	Method          string `json:"method"`
	RequestTimeMils int64  `json:"requestTimeMils"`
}

func NewGetChildDeviceListRequest() *GetChildDeviceListRequest {
	return &GetChildDeviceListRequest{
		Method:          "get_child_device_list",
		RequestTimeMils: time.Now().UnixMilli(),
	}
}

// DeviceInfo is a snapshot of the attributes a child device reports through
// get_device_info. It is replaced wholesale on every successful info query.
type DeviceInfo struct {
	DeviceID  string `json:"device_id"`
	Model     string `json:"model"`
	MAC       string `json:"mac"`
	FWVersion string `json:"fw_ver"`
	HWVersion string `json:"hw_ver"`
	HWID      string `json:"hw_id"`
	OEMID     string `json:"oem_id"`
	Type      string `json:"type"`
	Category  string `json:"category"`
	Nickname  string `json:"nickname"`
	RSSI      int    `json:"rssi"`
	Status    string `json:"status"`
}

// RepresentationProperty returns the value used to verify device identity,
// the MAC address as reported by the device.
func (i DeviceInfo) RepresentationProperty() string {
	return i.MAC
}

// Serial returns the hardware id the host publishes as serial number.
func (i DeviceInfo) Serial() string {
	return i.HWID
}

// ChildDeviceList is the result payload of get_child_device_list.
type ChildDeviceList struct {
	ChildDeviceList []DeviceInfo `json:"child_device_list"`
	StartIndex      int          `json:"start_index"`
	Sum             int          `json:"sum"`
}
