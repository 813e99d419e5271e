package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/bnema/waybridge/internal/window"
)

// Client issues control commands to a running waybridge instance.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the given control socket.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// roundTrip sends one command and reads one response.
func (c *Client) roundTrip(cmd CommandType) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s (is waybridge running?): %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	data, err := json.Marshal(Request{Command: cmd})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Status == StatusError {
		return nil, fmt.Errorf("waybridge error: %s", resp.Error)
	}
	return &resp, nil
}

// GetStatus queries the running bridge for its status summary.
func (c *Client) GetStatus() (*StatusData, error) {
	resp, err := c.roundTrip(CommandGetStatus)
	if err != nil {
		return nil, err
	}

	var status StatusData
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status data: %w", err)
	}
	return &status, nil
}

// ListWindows queries the running bridge for its window table.
func (c *Client) ListWindows() ([]window.Info, error) {
	resp, err := c.roundTrip(CommandListWindows)
	if err != nil {
		return nil, err
	}

	var data WindowsData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse window list: %w", err)
	}
	return data.Windows, nil
}

// Ping reports whether a bridge instance is answering on the socket.
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}
