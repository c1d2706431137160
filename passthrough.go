// SPDX-License-Identifier: MIT

package tapohub

// Passthrough protocol: an RSA handshake establishes a session cookie and an
// AES key/IV pair, then every request travels AES-CBC encrypted inside a
// securePassthrough envelope. See
// https://k4czp3r.xyz/reverse-engineering/tp-link/tapo/2020/10/15/reverse-engineering-tp-link-tapo.html

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mergermarket/go-pkcs7"
	"github.com/rs/zerolog"
)

var defaultTimeout = 10 * time.Second

// This is returned when a Tapo device returns an HTTP 403.
var ErrForbidden = errors.New("Forbidden")

const sessionCookieName = "TP_SESSIONID"

// PassthroughSession owns the handshake cookie and session token of one hub
// connection and encrypts/decrypts securePassthrough payloads. The session
// is logged in when both cookie and token are set; a cookie without token is
// a valid intermediate state during login.
type PassthroughSession struct {
	log         zerolog.Logger
	ipAddress   string
	credentials Credentials
	client      *http.Client
	loginGate   Gate

	mu     sync.Mutex
	cookie string
	token  string
	key    []byte
	iv     []byte
}

func NewPassthroughSession(ipAddress string, credentials Credentials, logger *zerolog.Logger) *PassthroughSession {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PassthroughSession{
		log:         logger.With().Str("ip", ipAddress).Logger(),
		ipAddress:   ipAddress,
		credentials: credentials,
		client:      &http.Client{Timeout: defaultTimeout},
	}
}

// LoggedIn reports whether both cookie and token are set.
func (s *PassthroughSession) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookie != "" && s.token != ""
}

// Ping checks network reachability of the hub with a bounded timeout.
func (s *PassthroughSession) Ping() bool {
	addr := s.ipAddress
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "80")
	}
	conn, err := net.DialTimeout("tcp", addr, pingTimeout)
	if err != nil {
		s.log.Debug().Err(err).Msg("no ping from device")
		return false
	}
	conn.Close()
	return true
}

// Login performs the handshake and token exchange. Calls within the login
// gap window are no-ops that report the current login state. The returned
// error carries an ErrorCode where the failure came from the device.
func (s *PassthroughSession) Login() (bool, error) {
	if !s.loginGate.TryPass(time.Now(), loginMinGap, false) {
		s.log.Trace().Msg("login suppressed by min gap")
		return s.LoggedIn(), nil
	}
	s.Logout()

	if !s.Ping() {
		return false, fmt.Errorf("no ping while login: %w", ErrDeviceOffline)
	}
	if err := s.handshake(); err != nil {
		return false, fmt.Errorf("handshake failed: %w", err)
	}
	token, err := s.queryToken()
	if err != nil {
		return false, fmt.Errorf("token request failed: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.LoggedIn(), nil
}

// Logout clears cookie, token and cipher state. Idempotent.
func (s *PassthroughSession) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookie = ""
	s.token = ""
	s.key = nil
	s.iv = nil
}

// handshake sends our public key and stores the session cookie and the AES
// key/IV the device returns.
func (s *PassthroughSession) handshake() error {
	privKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return fmt.Errorf("failed to generate RSA key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	request := NewHandshakeRequest(string(pubPEM))
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal handshake payload: %w", err)
	}
	resp, err := s.client.Post(s.deviceURL(), "application/json", bytes.NewReader(requestBytes))
	if err != nil {
		return fmt.Errorf("http POST failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return ErrForbidden
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expected 200 OK, got %s. Error message: %s", resp.Status, body)
	}
	var hsResp HandshakeResponse
	if err := json.Unmarshal(body, &hsResp); err != nil {
		return fmt.Errorf("failed to unmarshal handshake response: %w", err)
	}
	if hsResp.ErrorCode != 0 {
		return hsResp.ErrorCode
	}
	encryptedKey, err := base64.StdEncoding.DecodeString(hsResp.Result.Key)
	if err != nil {
		return fmt.Errorf("failed to base64-decode session key: %w", err)
	}
	keyAndIV, err := rsa.DecryptPKCS1v15(rand.Reader, privKey, encryptedKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt session key: %w", err)
	}
	if len(keyAndIV) != 32 {
		return fmt.Errorf("invalid session key length, want 32 bytes, got %d", len(keyAndIV))
	}

	var cookie string
	for _, c := range parseBrokenCookies(resp) {
		if c.Name == sessionCookieName {
			cookie = c.Value
		}
	}
	if cookie == "" {
		return fmt.Errorf("no %s cookie in handshake response", sessionCookieName)
	}

	s.mu.Lock()
	s.cookie = cookie
	s.key = keyAndIV[:16]
	s.iv = keyAndIV[16:]
	s.mu.Unlock()
	return nil
}

// queryToken exchanges the credentials for a session token over the already
// established encrypted channel.
func (s *PassthroughSession) queryToken() (string, error) {
	request := NewLoginDeviceRequest(s.credentials.Username, s.credentials.Password)
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal login_device payload: %w", err)
	}
	response, err := s.SecurePassthrough(requestBytes)
	if err != nil {
		return "", err
	}
	var loginResp LoginDeviceResponse
	if err := json.Unmarshal(response, &loginResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal login_device response: %w", err)
	}
	if loginResp.ErrorCode != 0 {
		return "", loginResp.ErrorCode
	}
	return loginResp.Result.Token, nil
}

// Encrypt encrypts an inner payload for the securePassthrough envelope.
func (s *PassthroughSession) Encrypt(plaintext []byte) (string, error) {
	s.mu.Lock()
	key, iv := s.key, s.iv
	s.mu.Unlock()
	if key == nil {
		return "", fmt.Errorf("no session key, handshake first")
	}
	padded, err := pkcs7.Pad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("failed to pad payload: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts the response field of a securePassthrough envelope.
func (s *PassthroughSession) Decrypt(encrypted string) ([]byte, error) {
	s.mu.Lock()
	key, iv := s.key, s.iv
	s.mu.Unlock()
	if key == nil {
		return nil, fmt.Errorf("no session key, handshake first")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to base64-decode response: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	unpadded, err := pkcs7.Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to unpad payload: %w", err)
	}
	return unpadded, nil
}

// SecurePassthrough sends an encrypted inner payload and returns the
// decrypted inner response. A non-zero outer error code is returned as an
// ErrorCode error.
func (s *PassthroughSession) SecurePassthrough(payload []byte) ([]byte, error) {
	encrypted, err := s.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	request := NewSecurePassthroughRequest(encrypted)
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal securePassthrough payload: %w", err)
	}
	body, err := s.post(requestBytes)
	if err != nil {
		return nil, err
	}
	var ptResp SecurePassthroughResponse
	if err := json.Unmarshal(body, &ptResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal securePassthrough response: %w", err)
	}
	if ptResp.ErrorCode != 0 {
		return nil, ptResp.ErrorCode
	}
	decrypted, err := s.Decrypt(ptResp.Result.Response)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt response: %w", err)
	}
	return decrypted, nil
}

// post sends a raw JSON payload to the device endpoint, attaching session
// cookie and token when present.
func (s *PassthroughSession) post(payload []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, s.deviceURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("http new request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.mu.Lock()
	if s.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: s.cookie})
	}
	s.mu.Unlock()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http POST failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrForbidden
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expected 200 OK, got %s. Error message: %s", resp.Status, body)
	}
	return body, nil
}

func (s *PassthroughSession) deviceURL() string {
	u := url.URL{
		Scheme: "http",
		Host:   s.ipAddress,
		Path:   "/app",
	}
	s.mu.Lock()
	if s.token != "" {
		u.RawQuery = url.Values{"token": []string{s.token}}.Encode()
	}
	s.mu.Unlock()
	return u.String()
}

func parseBrokenCookies(r *http.Response) []*http.Cookie {
	// Tapo's HTTP cookies are malformed, so here we go with custom parsing...
	cookieCount := len(r.Header["Set-Cookie"])
	cookies := make([]*http.Cookie, 0, cookieCount)
	for _, line := range r.Header["Set-Cookie"] {
		parts := strings.Split(textproto.TrimString(line), ";")
		for _, part := range parts {
			name, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			cookies = append(cookies, &http.Cookie{
				Name:  textproto.TrimString(name),
				Value: value,
				Raw:   line,
			})
		}
	}
	return cookies
}
