// SPDX-License-Identifier: MIT

package tapohub

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const cloudBaseURL = "https://wap.tplinkcloud.com"

// CloudClient is a tp-link cloud client, used as login fallback when the hub
// cannot be reached on the local network.
type CloudClient struct {
	log          zerolog.Logger
	terminalUUID uuid.UUID
	timeout      time.Duration
	token        string
}

func NewCloudClient(logger *zerolog.Logger) *CloudClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CloudClient{
		log:          *logger,
		terminalUUID: uuid.New(),
		timeout:      defaultTimeout,
	}
}

func (c *CloudClient) buildLoginRequest(username, password string) ([]byte, error) {
	type loginRequest struct {
		Method string `json:"method"`
		URL    string `json:"url"`
		Params struct {
			AppType       string `json:"appType"`
			CloudUserName string `json:"cloudUserName"`
			CloudPassword string `json:"cloudPassword"`
			TerminalUUID  string `json:"terminalUUID"`
		} `json:"params"`
	}
	r := loginRequest{
		Method: "login",
		URL:    cloudBaseURL,
	}
	r.Params.AppType = "Kasa_Android"
	r.Params.CloudUserName = username
	r.Params.CloudPassword = password
	r.Params.TerminalUUID = c.terminalUUID.String()
	b, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal failed: %w", err)
	}
	return b, nil
}

func (c *CloudClient) buildDeviceListRequest() ([]byte, error) {
	type deviceListRequest struct {
		Method string `json:"method"`
		Token  string `json:"token"`
	}
	r := deviceListRequest{
		Method: "getDeviceList",
		Token:  c.token,
	}
	b, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("JSON marshal failed: %w", err)
	}
	return b, nil
}

func (c *CloudClient) post(cloudURL string, data []byte) ([]byte, error) {
	u, err := url.Parse(cloudURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	params := url.Values{}
	params.Add("appName", "Kasa_Android")
	params.Add("termID", c.terminalUUID.String())
	params.Add("appVer", "1.4.4.607")
	params.Add("ospf", "Android+6.0.1")
	params.Add("netType", "wifi")
	params.Add("locale", "en_US")
	if c.token != "" {
		params.Add("token", c.token)
	}
	u.RawQuery = params.Encode()

	client := http.Client{Timeout: c.timeout}
	resp, err := client.Post(u.String(), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("POST failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected HTTP 200 OK, got %s", resp.Status)
	}
	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return respData, nil
}

// Login authenticates against the tp-link cloud and stores the returned
// token for subsequent calls.
func (c *CloudClient) Login(username, password string) error {
	lr, err := c.buildLoginRequest(username, password)
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	resp, err := c.post(cloudBaseURL, lr)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}

	loginResp := struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			AccountID   string `json:"accountId"`
			RegTime     string `json:"regTime"`
			CountryCode string `json:"countryCode"`
			Nickname    string `json:"nickname"`
			Email       string `json:"email"`
			Token       string `json:"token"`
		}
	}{}
	if err := json.Unmarshal(resp, &loginResp); err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}
	if loginResp.ErrorCode != 0 {
		return fmt.Errorf("cloud login failed: %w", ErrorCode(loginResp.ErrorCode))
	}
	c.token = loginResp.Result.Token
	return nil
}

// DeviceList returns the devices registered to the cloud account.
func (c *CloudClient) DeviceList() ([]CloudDevice, error) {
	lr, err := c.buildDeviceListRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to build device list request: %w", err)
	}
	resp, err := c.post(cloudBaseURL, lr)
	if err != nil {
		return nil, fmt.Errorf("device list request failed: %w", err)
	}
	deviceListResp := struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			DeviceList []CloudDevice `json:"deviceList"`
		}
	}{}
	if err := json.Unmarshal(resp, &deviceListResp); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if deviceListResp.ErrorCode != 0 {
		return nil, fmt.Errorf("cloud device list failed: %w", ErrorCode(deviceListResp.ErrorCode))
	}
	devices := deviceListResp.Result.DeviceList
	for idx, d := range devices {
		decodedAlias, err := base64.StdEncoding.DecodeString(d.Alias)
		if err != nil {
			return nil, fmt.Errorf("failed to decode alias: %w", err)
		}
		d.DecodedAlias = string(decodedAlias)
		devices[idx] = d
	}
	return devices, nil
}

// Tapo uses a non-standard MAC representation, a 12-char hex string with no
// separators. Custom unmarshalling here it goes.
type tapoMAC net.HardwareAddr

func (tm tapoMAC) String() string {
	h := net.HardwareAddr(tm)
	return h.String()
}

func stripQuotes(s string) (string, error) {
	if len(s) < 2 || (s[0] != '"' && s[len(s)-1] != '"') {
		return s, errors.New("not a properly double-quoted string")
	}
	return s[1 : len(s)-1], nil
}

func (tm *tapoMAC) UnmarshalJSON(b []byte) error {
	s, err := stripQuotes(string(b))
	if err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(decoded) != 6 {
		return fmt.Errorf("invalid MAC length, want 6 bytes, got %d", len(decoded))
	}
	*tm = tapoMAC(decoded)
	return nil
}

func (tm tapoMAC) MarshalJSON() ([]byte, error) {
	return []byte("\"" + tm.String() + "\""), nil
}

// CloudDevice is a device entry as returned by the cloud device list.
type CloudDevice struct {
	DeviceType   string  `json:"deviceType"`
	Role         int     `json:"role"`
	FwVer        string  `json:"fwVer"`
	AppServerURL string  `json:"appServerUrl"`
	DeviceRegion string  `json:"deviceRegion"`
	DeviceID     string  `json:"deviceId"`
	DeviceName   string  `json:"deviceName"`
	DeviceHwVer  string  `json:"deviceHwVer"`
	Alias        string  `json:"alias"`
	DeviceMAC    tapoMAC `json:"deviceMac"`
	OemID        string  `json:"oemId"`
	DeviceModel  string  `json:"deviceModel"`
	HwID         string  `json:"hwId"`
	FwID         string  `json:"fwId"`
	IsSameRegion bool    `json:"isSameRegion"`
	Status       int     `json:"status"`
	// Computed values
	DecodedAlias string
}
