// Package ipc provides the control socket through which a running
// waybridge instance answers status queries from the command line.
// Requests and responses are single-line JSON objects over a unix
// socket, one response per request.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/bnema/waybridge/internal/window"
)

// CommandType identifies a control command.
type CommandType string

const (
	// CommandGetStatus asks for a summary of the running bridge.
	CommandGetStatus CommandType = "GET_STATUS"
	// CommandListWindows asks for the current window table.
	CommandListWindows CommandType = "LIST_WINDOWS"
)

// Response status values.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Request is a command sent by a client.
type Request struct {
	Command CommandType `json:"command"`
}

// Response is the answer to a single request.
type Response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusData summarizes a running bridge for GET_STATUS.
type StatusData struct {
	Version       string  `json:"version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Windows       int     `json:"windows"`
	GuestDisplay  string  `json:"guest_display"`
	HostDisplay   string  `json:"host_display"`
	Scale         float64 `json:"scale"`
}

// WindowsData carries the window table for LIST_WINDOWS.
type WindowsData struct {
	Windows []window.Info `json:"windows"`
}

// ParseRequest decodes a single request line.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("request has no command")
	}
	return &req, nil
}

// NewOKResponse builds a success response around the given payload.
func NewOKResponse(data interface{}) (*Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}
	return &Response{Status: StatusOK, Data: raw}, nil
}

// NewErrorResponse builds a failure response carrying the given message.
func NewErrorResponse(msg string) *Response {
	return &Response{Status: StatusError, Error: msg}
}

// Marshal encodes the response for the wire.
func (r *Response) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}
