package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrMalformedResponse is returned when a successful response cannot be parsed at all.
var ErrMalformedResponse = errors.New("malformed service response")

// ErrTokenCheckUnsupported is returned when the service has no token check endpoint.
var ErrTokenCheckUnsupported = errors.New("service does not support token checks")

// maxReadableBody is the longest plain-text body shown to users verbatim.
const maxReadableBody = 500

// ServiceError is a non-success response from the processing service.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service returned HTTP %d: %s", e.Status, e.Message())
}

// Message returns the text to show a user: the body itself when it is
// human readable, otherwise a generic message for the status code.
func (e *ServiceError) Message() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return statusMessage(e.Status)
	}

	if body[0] == '{' || body[0] == '[' {
		if msg := jsonMessage(body); msg != "" {
			return msg
		}
		return statusMessage(e.Status)
	}

	if isReadable(body) {
		return body
	}
	return statusMessage(e.Status)
}

// Field returns a top-level string field of a JSON body, also looking inside
// a FastAPI style "detail" object.
func (e *ServiceError) Field(name string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(e.Body), &obj); err != nil {
		return ""
	}
	if v := rawString(obj[name]); v != "" {
		return v
	}
	var detail map[string]json.RawMessage
	if err := json.Unmarshal(obj["detail"], &detail); err == nil {
		return rawString(detail[name])
	}
	return ""
}

// NetworkError means no response was received at all.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// IsNetworkError reports whether err is, or wraps, a NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func jsonMessage(body string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return ""
	}

	if msg := rawString(obj["detail"]); msg != "" {
		return msg
	}

	// FastAPI validation errors: {"detail": [{"msg": "..."}]}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(obj["detail"], &items); err == nil {
		var msgs []string
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	if msg := rawString(obj["message"]); msg != "" {
		return msg
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(obj["error"], &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	return ""
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func isReadable(body string) bool {
	if len(body) > maxReadableBody || !utf8.ValidString(body) {
		return false
	}
	if strings.HasPrefix(body, "<") {
		return false // HTML error pages
	}
	for _, r := range body {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}

func statusMessage(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "The service rejected the file (HTTP 400)."
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Sprintf("Not authorized by the service (HTTP %d).", status)
	case status == http.StatusNotFound:
		return "The service does not know this resource (HTTP 404)."
	case status == http.StatusConflict:
		return "The service reports this image is already protected (HTTP 409)."
	case status == http.StatusRequestEntityTooLarge:
		return "The file is too large for the service (HTTP 413)."
	case status == http.StatusTooManyRequests:
		return "The service is rate limiting requests, try again shortly (HTTP 429)."
	case status >= 500:
		return fmt.Sprintf("The processing service failed (HTTP %d).", status)
	default:
		return fmt.Sprintf("Request failed (HTTP %d).", status)
	}
}
