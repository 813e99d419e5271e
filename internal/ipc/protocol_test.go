package ipc

import (
	"encoding/json"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    CommandType
		wantErr bool
	}{
		{
			name: "status command",
			line: `{"command":"GET_STATUS"}`,
			want: CommandGetStatus,
		},
		{
			name: "window list command",
			line: `{"command":"LIST_WINDOWS"}`,
			want: CommandListWindows,
		},
		{
			name:    "missing command",
			line:    `{}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			line:    `{"command":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRequest(%q) expected error, got %+v", tt.line, req)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest(%q) error = %v", tt.line, err)
			}
			if req.Command != tt.want {
				t.Errorf("Expected command %s, got %s", tt.want, req.Command)
			}
		})
	}
}

func TestNewOKResponse(t *testing.T) {
	resp, err := NewOKResponse(StatusData{Windows: 3, GuestDisplay: ":0", Scale: 2})
	if err != nil {
		t.Fatalf("NewOKResponse() error = %v", err)
	}

	if resp.Status != StatusOK {
		t.Errorf("Expected status %s, got %s", StatusOK, resp.Status)
	}

	wire, err := resp.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("Failed to decode wire form: %v", err)
	}

	var status StatusData
	if err := json.Unmarshal(decoded.Data, &status); err != nil {
		t.Fatalf("Failed to decode status payload: %v", err)
	}

	if status.Windows != 3 {
		t.Errorf("Expected 3 windows, got %d", status.Windows)
	}
	if status.GuestDisplay != ":0" {
		t.Errorf("Expected guest display :0, got %s", status.GuestDisplay)
	}
	if status.Scale != 2 {
		t.Errorf("Expected scale 2, got %v", status.Scale)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("no such window")

	if resp.Status != StatusError {
		t.Errorf("Expected status %s, got %s", StatusError, resp.Status)
	}
	if resp.Error != "no such window" {
		t.Errorf("Expected error message to round trip, got %q", resp.Error)
	}
	if resp.Data != nil {
		t.Errorf("Error responses should carry no data, got %s", resp.Data)
	}
}
