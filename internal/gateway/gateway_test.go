package gateway

import (
	"path/filepath"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"

	"github.com/bnema/waybridge/internal/host"
	"github.com/bnema/waybridge/internal/window"
	"github.com/bnema/waybridge/internal/xwm"
)

// Atom numbers above the predefined range so tests cannot collide with
// xproto.AtomWmName and friends.
func testAtoms() xwm.Atoms {
	return xwm.Atoms{
		WmProtocols:          1001,
		MotifWmHints:         1002,
		NetWmName:            1003,
		NetWmState:           1004,
		NetWmStateMaxVert:    1005,
		NetWmStateMaxHorz:    1006,
		NetWmStateFullscreen: 1007,
	}
}

func TestDecodeStates(t *testing.T) {
	tests := []struct {
		name   string
		states []uint32
		want   window.HostStates
	}{
		{"empty", nil, window.HostStates{}},
		{"maximized", []uint32{host.ToplevelStateMaximized}, window.HostStates{Maximized: true}},
		{"fullscreen active", []uint32{host.ToplevelStateFullscreen, host.ToplevelStateActivated},
			window.HostStates{Fullscreen: true, Activated: true}},
		{"resizing while maximized", []uint32{host.ToplevelStateResizing, host.ToplevelStateMaximized, host.ToplevelStateActivated},
			window.HostStates{Maximized: true, Resizing: true, Activated: true}},
		{"unknown values ignored", []uint32{99, host.ToplevelStateActivated, 1234},
			window.HostStates{Activated: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeStates(tt.states))
		})
	}
}

func TestConfigMask(t *testing.T) {
	tests := []struct {
		name string
		mask uint16
		want window.ConfigMask
	}{
		{"nothing", 0, 0},
		{"x only", xproto.ConfigWindowX, window.MaskX},
		{"position", xproto.ConfigWindowX | xproto.ConfigWindowY, window.MaskX | window.MaskY},
		{"size", xproto.ConfigWindowWidth | xproto.ConfigWindowHeight, window.MaskWidth | window.MaskHeight},
		{"everything", xproto.ConfigWindowX | xproto.ConfigWindowY | xproto.ConfigWindowWidth | xproto.ConfigWindowHeight,
			window.MaskX | window.MaskY | window.MaskWidth | window.MaskHeight},
		{"stacking bits dropped", xproto.ConfigWindowBorderWidth | xproto.ConfigWindowSibling | xproto.ConfigWindowStackMode, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, configMask(tt.mask))
		})
	}
}

func TestPropKindFor(t *testing.T) {
	atoms := testAtoms()
	tests := []struct {
		name    string
		atom    xproto.Atom
		want    window.PropKind
		tracked bool
	}{
		{"net wm name", atoms.NetWmName, window.PropTitle, true},
		{"legacy wm name", xproto.AtomWmName, window.PropTitle, true},
		{"class", xproto.AtomWmClass, window.PropClass, true},
		{"normal hints", xproto.AtomWmNormalHints, window.PropNormalHints, true},
		{"wm hints", xproto.AtomWmHints, window.PropHints, true},
		{"protocols", atoms.WmProtocols, window.PropProtocols, true},
		{"motif hints", atoms.MotifWmHints, window.PropMotif, true},
		{"transient for", xproto.AtomWmTransientFor, window.PropTransient, true},
		{"untracked", 4242, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := propKindFor(atoms, tt.atom)
			assert.Equal(t, tt.tracked, ok)
			if tt.tracked {
				assert.Equal(t, tt.want, kind)
			}
		})
	}
}

func TestStateAtomFor(t *testing.T) {
	atoms := testAtoms()
	assert.Equal(t, window.StateAtomFullscreen, stateAtomFor(atoms, atoms.NetWmStateFullscreen))
	assert.Equal(t, window.StateAtomMaximizedVert, stateAtomFor(atoms, atoms.NetWmStateMaxVert))
	assert.Equal(t, window.StateAtomMaximizedHorz, stateAtomFor(atoms, atoms.NetWmStateMaxHorz))
	assert.Equal(t, window.StateAtomNone, stateAtomFor(atoms, 4242))

	// Client messages pad unused slots with zero.
	assert.Equal(t, window.StateAtomNone, stateAtomFor(atoms, 0))
}

func TestGuestSocketPath(t *testing.T) {
	t.Run("absolute passthrough", func(t *testing.T) {
		assert.Equal(t, "/somewhere/else/wl-0", guestSocketPath("/somewhere/else/wl-0"))
	})

	t.Run("joins runtime dir", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		assert.Equal(t, "/run/user/1000/waybridge-0", guestSocketPath("waybridge-0"))
	})

	t.Run("temp dir fallback", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "")
		got := guestSocketPath("waybridge-0")
		assert.True(t, filepath.IsAbs(got))
		assert.Equal(t, "waybridge-0", filepath.Base(got))
	})
}

func TestWaylandDisplayEnv(t *testing.T) {
	t.Run("inside runtime dir", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		assert.Equal(t, "waybridge-0", waylandDisplayEnv("/run/user/1000/waybridge-0"))
	})

	t.Run("nested inside runtime dir", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		assert.Equal(t, "wl/waybridge-0", waylandDisplayEnv("/run/user/1000/wl/waybridge-0"))
	})

	t.Run("outside runtime dir stays absolute", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		assert.Equal(t, "/tmp/waybridge-0", waylandDisplayEnv("/tmp/waybridge-0"))
	})

	t.Run("sibling with shared prefix stays absolute", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		assert.Equal(t, "/run/user/10/waybridge-0", waylandDisplayEnv("/run/user/10/waybridge-0"))
	})

	t.Run("no runtime dir stays absolute", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "")
		assert.Equal(t, "/tmp/waybridge-0", waylandDisplayEnv("/tmp/waybridge-0"))
	})
}
