package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Unreachable means the request produced no HTTP response at all.
type Unreachable struct {
	Err error
}

func (e *Unreachable) Error() string { return "no response from server" }
func (e *Unreachable) Unwrap() error { return e.Err }

// Timeout means the call exceeded its deadline before a response
// arrived.
type Timeout struct {
	Err error
}

func (e *Timeout) Error() string { return "request timed out" }
func (e *Timeout) Unwrap() error { return e.Err }

// ClientError is a 4xx response. Detail carries the backend's
// structured explanation when the body had one, else the status text.
type ClientError struct {
	Status int
	Detail string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Detail)
}

// ServerError is a 5xx response.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Status, http.StatusText(e.Status))
}

// classifyTransport maps a failed round trip (no response) to the
// Timeout / Unreachable taxonomy.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Timeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Timeout{Err: err}
	}
	return &Unreachable{Err: err}
}

// errorBody is the shape backends use for structured error responses.
// FastAPI-style bodies use "detail"; some handlers use "message".
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// classifyStatus maps a non-2xx response to the ClientError /
// ServerError taxonomy, extracting detail text when the body is
// structured.
func classifyStatus(status int, body []byte) error {
	if status >= http.StatusInternalServerError {
		return &ServerError{Status: status}
	}

	detail := ""
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Detail != "":
			detail = eb.Detail
		case eb.Message != "":
			detail = eb.Message
		}
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	return &ClientError{Status: status, Detail: detail}
}
