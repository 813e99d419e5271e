package xwm

import (
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMotifHintsDecorated(t *testing.T) {
	tests := []struct {
		name      string
		raw       []uint32
		decorated bool
	}{
		{"no property", nil, true},
		{"decorations disabled", []uint32{2, 0, 0, 0, 0}, false},
		{"decorations enabled", []uint32{2, 0, 1, 0, 0}, true},
		{"only functions flagged", []uint32{1, 0, 0, 0, 0}, true},
		{"truncated property", []uint32{2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseMotifHints(tt.raw)
			assert.Equal(t, tt.decorated, h.Decorated())
		})
	}
}

func TestAtomTableAssignment(t *testing.T) {
	values := make([]xproto.Atom, len(atomNames))
	for i := range values {
		values[i] = xproto.Atom(i + 100)
	}

	var atoms Atoms
	atoms.assign(values)

	require.Equal(t, xproto.Atom(100), atoms.WmProtocols,
		"first atom name must land in the first field")
	require.Equal(t, xproto.Atom(99+len(atomNames)), atoms.ClipboardManager,
		"last atom name must land in the last field")

	// The pairing atom drives window-surface association, so a shifted
	// table would break every mapped window.
	for i, name := range atomNames {
		if name == "WL_SURFACE_ID" {
			assert.Equal(t, xproto.Atom(i+100), atoms.WlSurfaceID)
		}
		if name == "INCR" {
			assert.Equal(t, xproto.Atom(i+100), atoms.Incr)
		}
	}
}
