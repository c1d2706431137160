// SPDX-License-Identifier: MIT

package tapohub

import "fmt"

// ErrorCode is a Tapo result code. Positive and small negative values come
// from the device itself, the -9xxx range is produced locally by this module.
type ErrorCode int

const (
	StatusSuccess                     ErrorCode = 0
	StatusJSONFormattingError         ErrorCode = -1003
	StatusInvalidPublicKeyLength      ErrorCode = -1010
	StatusInvalidTerminalUUID         ErrorCode = -1012
	StatusInvalidRequestOrCredentials ErrorCode = -1501
	StatusIncorrectRequest            ErrorCode = 1002
	StatusCommunicationError          ErrorCode = 1003
	StatusSessionTimeout              ErrorCode = 9999

	// local error codes, never sent by a device
	ErrDeviceOffline     ErrorCode = -9001
	ErrHTTPResponse      ErrorCode = -9002
	ErrNoHub             ErrorCode = -9003
	ErrCredentialsNotSet ErrorCode = -9004
	ErrDeviceMismatch    ErrorCode = -9005
)

func (e ErrorCode) Error() string {
	switch e {
	case StatusSuccess:
		return "Success"
	case StatusJSONFormattingError:
		return "JSON formatting error"
	case StatusInvalidPublicKeyLength:
		return "Invalid Public Key Length"
	case StatusInvalidTerminalUUID:
		return "Invalid terminalUUID"
	case StatusInvalidRequestOrCredentials:
		return "Invalid Request or Credentials"
	case StatusIncorrectRequest:
		return "Incorrect Request"
	case StatusCommunicationError:
		return "Communication error"
	case StatusSessionTimeout:
		return "Session timeout"
	case ErrDeviceOffline:
		return "Device offline"
	case ErrHTTPResponse:
		return "Invalid HTTP response"
	case ErrNoHub:
		return "No hub configured"
	case ErrCredentialsNotSet:
		return "Credentials not set"
	case ErrDeviceMismatch:
		return "Device does not match configuration"
	default:
		return fmt.Sprintf("Unknown error: %d", int(e))
	}
}

// Category groups error codes by the recovery action they require.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySuccess
	CategoryReauth
	CategoryCommunication
	CategoryConfiguration
)

func (c Category) String() string {
	switch c {
	case CategorySuccess:
		return "success"
	case CategoryReauth:
		return "reauth"
	case CategoryCommunication:
		return "communication"
	case CategoryConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

var reauthErrors = map[ErrorCode]struct{}{
	StatusSessionTimeout:      {},
	StatusInvalidTerminalUUID: {},
}

var communicationErrors = map[ErrorCode]struct{}{
	StatusIncorrectRequest:    {},
	StatusCommunicationError:  {},
	StatusJSONFormattingError: {},
	ErrDeviceOffline:          {},
	ErrHTTPResponse:           {},
}

var configurationErrors = map[ErrorCode]struct{}{
	StatusInvalidRequestOrCredentials: {},
	StatusInvalidPublicKeyLength:      {},
	ErrNoHub:                          {},
	ErrCredentialsNotSet:              {},
	ErrDeviceMismatch:                 {},
}

// Classify maps an error code to its category. Codes outside all known sets
// degrade to CategoryUnknown, never to an error.
func Classify(code ErrorCode) Category {
	if code == StatusSuccess {
		return CategorySuccess
	}
	if _, ok := reauthErrors[code]; ok {
		return CategoryReauth
	}
	if _, ok := communicationErrors[code]; ok {
		return CategoryCommunication
	}
	if _, ok := configurationErrors[code]; ok {
		return CategoryConfiguration
	}
	return CategoryUnknown
}

// DeviceError is the last-known error of a device or hub. The zero value
// means "no error".
type DeviceError struct {
	Code    ErrorCode
	Message string
}

func NewDeviceError(code ErrorCode) DeviceError {
	return DeviceError{Code: code, Message: code.Error()}
}

func NewDeviceErrorWithMessage(code ErrorCode, message string) DeviceError {
	return DeviceError{Code: code, Message: message}
}

func (e DeviceError) HasError() bool {
	return e.Code != StatusSuccess
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("Error (%d): %s", int(e.Code), e.Message)
}
