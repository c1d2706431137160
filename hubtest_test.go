// SPDX-License-Identifier: MIT

package tapohub

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mergermarket/go-pkcs7"
)

// fakeHub emulates the device side of the passthrough protocol: it answers
// the handshake with an RSA-encrypted AES key/IV and serves encrypted
// securePassthrough requests from canned child data.
type fakeHub struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	key        []byte
	iv         []byte
	cookie     string
	token      string
	handshakes int
	logins     int

	childInfo       map[string]any
	triggerLogs     []any
	childList       []DeviceInfo
	infoErrorCode   int
	statusErrorCode int
	listErrorCode   int
}

func newFakeHub(t *testing.T) *fakeHub {
	f := &fakeHub{
		t:      t,
		cookie: "8A4BBE43",
		token:  "0123456789abcdef",
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

// Addr returns host:port of the fake hub, usable as HubConfig.IPAddress.
func (f *fakeHub) Addr() string {
	return f.srv.Listener.Addr().String()
}

func (f *fakeHub) handshakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshakes
}

func (f *fakeHub) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeHub) setChildInfo(info map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.childInfo = info
}

func (f *fakeHub) setInfoErrorCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoErrorCode = code
}

func (f *fakeHub) setTriggerLogs(logs []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerLogs = logs
}

func (f *fakeHub) setStatusErrorCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErrorCode = code
}

func (f *fakeHub) setListErrorCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErrorCode = code
}

func (f *fakeHub) setChildList(list []DeviceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.childList = list
}

func (f *fakeHub) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		f.t.Errorf("failed to read request body: %v", err)
		return
	}
	var outer map[string]any
	if err := json.Unmarshal(body, &outer); err != nil {
		f.t.Errorf("unparseable request: %v", err)
		return
	}
	switch outer["method"] {
	case "handshake":
		f.handleHandshake(w, outer)
	case "securePassthrough":
		f.handlePassthrough(w, outer)
	default:
		f.t.Errorf("unexpected method %v", outer["method"])
	}
}

func (f *fakeHub) handleHandshake(w http.ResponseWriter, outer map[string]any) {
	params := outer["params"].(map[string]any)
	block, _ := pem.Decode([]byte(params["key"].(string)))
	if block == nil {
		f.t.Error("handshake key is not PEM")
		return
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		f.t.Errorf("failed to parse public key: %v", err)
		return
	}
	keyAndIV := make([]byte, 32)
	if _, err := rand.Read(keyAndIV); err != nil {
		f.t.Errorf("failed to generate session key: %v", err)
		return
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub.(*rsa.PublicKey), keyAndIV)
	if err != nil {
		f.t.Errorf("failed to encrypt session key: %v", err)
		return
	}
	f.mu.Lock()
	f.key = keyAndIV[:16]
	f.iv = keyAndIV[16:]
	f.handshakes++
	cookie := f.cookie
	f.mu.Unlock()

	w.Header().Add("Set-Cookie", "TP_SESSIONID="+cookie+";TIMEOUT=86400")
	writeJSON(f.t, w, map[string]any{
		"error_code": 0,
		"result":     map[string]any{"key": base64.StdEncoding.EncodeToString(encrypted)},
	})
}

func (f *fakeHub) handlePassthrough(w http.ResponseWriter, outer map[string]any) {
	params := outer["params"].(map[string]any)
	inner, err := f.decrypt(params["request"].(string))
	if err != nil {
		f.t.Errorf("failed to decrypt request: %v", err)
		return
	}
	var request map[string]any
	if err := json.Unmarshal(inner, &request); err != nil {
		f.t.Errorf("unparseable inner request: %v", err)
		return
	}
	var response map[string]any
	switch request["method"] {
	case "login_device":
		f.mu.Lock()
		f.logins++
		token := f.token
		f.mu.Unlock()
		response = map[string]any{"error_code": 0, "result": map[string]any{"token": token}}
	case "control_child":
		response = f.handleControlChild(request)
	case "get_child_device_list":
		response = f.handleChildDeviceList()
	default:
		f.t.Errorf("unexpected inner method %v", request["method"])
		return
	}
	responseBytes, err := json.Marshal(response)
	if err != nil {
		f.t.Errorf("failed to marshal inner response: %v", err)
		return
	}
	encrypted, err := f.encrypt(responseBytes)
	if err != nil {
		f.t.Errorf("failed to encrypt inner response: %v", err)
		return
	}
	writeJSON(f.t, w, map[string]any{
		"error_code": 0,
		"result":     map[string]any{"response": encrypted},
	})
}

func (f *fakeHub) handleControlChild(request map[string]any) map[string]any {
	requestData := nestedObject(request, "params", "requestData")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch requestData["method"] {
	case "get_device_info":
		if f.infoErrorCode != 0 {
			return map[string]any{"error_code": f.infoErrorCode}
		}
		return map[string]any{
			"error_code": 0,
			"result": map[string]any{
				"responseData": map[string]any{"result": f.childInfo},
			},
		}
	case "get_trigger_logs":
		if f.statusErrorCode != 0 {
			return map[string]any{"error_code": f.statusErrorCode}
		}
		result := map[string]any{"start_id": 0, "sum": len(f.triggerLogs)}
		if f.triggerLogs != nil {
			result["logs"] = f.triggerLogs
		}
		return map[string]any{
			"error_code": 0,
			"result": map[string]any{
				"responseData": map[string]any{"result": result},
			},
		}
	default:
		f.t.Errorf("unexpected child method %v", requestData["method"])
		return map[string]any{"error_code": int(StatusIncorrectRequest)}
	}
}

func (f *fakeHub) handleChildDeviceList() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErrorCode != 0 {
		return map[string]any{"error_code": f.listErrorCode}
	}
	return map[string]any{
		"error_code": 0,
		"result": map[string]any{
			"child_device_list": f.childList,
			"start_index":       0,
			"sum":               len(f.childList),
		},
	}
}

func (f *fakeHub) sessionKey() (key, iv []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, f.iv
}

func (f *fakeHub) encrypt(plaintext []byte) (string, error) {
	key, iv := f.sessionKey()
	padded, err := pkcs7.Pad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (f *fakeHub) decrypt(encrypted string) ([]byte, error) {
	key, iv := f.sessionKey()
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7.Unpad(plaintext, aes.BlockSize)
}

func writeJSON(t *testing.T, w http.ResponseWriter, obj any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		t.Errorf("failed to write response: %v", err)
	}
}

// recordingHost captures everything the module reports back to the host.
type recordingHost struct {
	mu         sync.Mutex
	statuses   []statusUpdate
	strings    map[string]string
	numbers    map[string]int64
	properties map[string]string
}

type statusUpdate struct {
	status  Status
	detail  StatusDetail
	message string
}

func newRecordingHost() *recordingHost {
	return &recordingHost{
		strings:    make(map[string]string),
		numbers:    make(map[string]int64),
		properties: make(map[string]string),
	}
}

func (h *recordingHost) UpdateStatus(_ string, status Status, detail StatusDetail, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, statusUpdate{status, detail, message})
}

func (h *recordingHost) PublishString(_, channel, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strings[channel] = value
}

func (h *recordingHost) PublishNumber(_, channel string, value int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.numbers[channel] = value
}

func (h *recordingHost) UpdateProperties(_ string, properties map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range properties {
		h.properties[k] = v
	}
}

func (h *recordingHost) lastStatus() (statusUpdate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.statuses) == 0 {
		return statusUpdate{}, false
	}
	return h.statuses[len(h.statuses)-1], true
}

// resetGaps makes the min-gap throttles permissive for the duration of a
// test, so repeated operations are not suppressed.
func resetGaps(t *testing.T) {
	t.Helper()
	oldLogin, oldSend := loginMinGap, sendMinGap
	loginMinGap, sendMinGap = 0, 0
	t.Cleanup(func() {
		loginMinGap, sendMinGap = oldLogin, oldSend
	})
}

func newTestHub(t *testing.T, f *fakeHub, host Host) *Hub {
	t.Helper()
	cfg := HubConfig{
		IPAddress:   f.Addr(),
		Credentials: Credentials{Username: "user@example.com", Password: "secret"},
	}
	return NewHub(cfg, host, NewScheduler(), nil)
}
