package host

import (
	"fmt"

	"github.com/bnema/waybridge/internal/logger"
)

// Client bundles the bound host globals the gateway works with. Missing
// wl_compositor, wl_shm or xdg_wm_base is fatal; the rest degrade.
type Client struct {
	Display     *Display
	Registry    *Registry
	Compositor  *Compositor
	Shm         *Shm
	WmBase      *WmBase
	Viewporter  *Viewporter
	Seat        *Seat
	DataManager *DataDeviceManager
	DataDevice  *DataDevice

	// OnOutputChange fires whenever an output's description settles,
	// including mode or scale changes on outputs bound at connect time.
	// OnOutputRemove fires when the compositor withdraws one. Both run on
	// the goroutine driving Display dispatch.
	OnOutputChange func(name uint32, o *Output)
	OnOutputRemove func(name uint32)

	outputs map[uint32]*Output
}

// NewClient connects to the host compositor and binds every needed global,
// driving the connection synchronously; call Display.Run afterwards to go
// asynchronous.
func NewClient() (*Client, error) {
	display, err := Connect()
	if err != nil {
		return nil, err
	}

	c := &Client{
		Display: display,
		outputs: make(map[uint32]*Output),
	}

	registry, err := display.GetRegistry()
	if err != nil {
		return nil, err
	}
	c.Registry = registry

	// First roundtrip: collect the advertised globals.
	if err := display.RoundtripSync(); err != nil {
		return nil, fmt.Errorf("registry roundtrip: %w", err)
	}

	if err := c.bindGlobals(); err != nil {
		return nil, err
	}

	// Second roundtrip: shm formats, output modes and seat capabilities
	// arrive in response to the binds.
	if err := display.RoundtripSync(); err != nil {
		return nil, fmt.Errorf("bind roundtrip: %w", err)
	}

	if c.Seat != nil && c.DataManager != nil {
		dev, err := c.DataManager.GetDevice(c.Seat)
		if err != nil {
			return nil, err
		}
		c.DataDevice = dev
	}

	// Late globals, typically outputs being plugged in.
	registry.OnGlobal = func(g Global) {
		if g.Interface == "wl_output" {
			c.bindOutput(g)
		}
	}
	registry.OnGlobalRemove = func(name uint32) {
		if o, ok := c.outputs[name]; ok {
			delete(c.outputs, name)
			c.Display.Unregister(o.ID())
			if c.OnOutputRemove != nil {
				c.OnOutputRemove(name)
			}
		}
	}

	return c, nil
}

func (c *Client) bindGlobals() error {
	c.Compositor = NewCompositor(c.Display)
	if err := c.Registry.BindInterface("wl_compositor", c.Compositor, 4); err != nil {
		return err
	}

	c.Shm = NewShm(c.Display)
	if err := c.Registry.BindInterface("wl_shm", c.Shm, 1); err != nil {
		return err
	}

	c.WmBase = NewWmBase(c.Display)
	if err := c.Registry.BindInterface("xdg_wm_base", c.WmBase, 1); err != nil {
		return err
	}

	c.Viewporter = NewViewporter(c.Display)
	if err := c.Registry.BindInterface("wp_viewporter", c.Viewporter, 1); err != nil {
		logger.Warn("host offers no wp_viewporter; fractional scaling degraded")
		c.Viewporter = nil
	}

	c.Seat = NewSeat(c.Display)
	if err := c.Registry.BindInterface("wl_seat", c.Seat, 5); err != nil {
		logger.Warn("host offers no wl_seat; interactive move/resize and clipboard disabled")
		c.Seat = nil
	}

	c.DataManager = NewDataDeviceManager(c.Display)
	if err := c.Registry.BindInterface("wl_data_device_manager", c.DataManager, 1); err != nil {
		logger.Warn("host offers no wl_data_device_manager; clipboard disabled")
		c.DataManager = nil
	}

	for _, g := range c.Registry.globals {
		if g.Interface == "wl_output" {
			c.bindOutput(g)
		}
	}
	return nil
}

func (c *Client) bindOutput(g Global) {
	o := NewOutput(c.Display)
	if err := c.Registry.Bind(g, o, 2); err != nil {
		logger.Error("bind wl_output failed", "name", g.Name, "error", err)
		return
	}
	name := g.Name
	o.OnDone = func(OutputInfo) {
		if c.OnOutputChange != nil {
			c.OnOutputChange(name, o)
		}
	}
	c.outputs[name] = o
}

// Outputs returns the currently known host outputs.
func (c *Client) Outputs() []*Output {
	outs := make([]*Output, 0, len(c.outputs))
	for _, o := range c.outputs {
		outs = append(outs, o)
	}
	return outs
}

// EachOutput calls fn for every known output with its registry name.
func (c *Client) EachOutput(fn func(name uint32, o *Output)) {
	for name, o := range c.outputs {
		fn(name, o)
	}
}

// PrimaryOutput returns the output windows are centered against: the one
// at origin when present, else any.
func (c *Client) PrimaryOutput() *Output {
	var any *Output
	for _, o := range c.outputs {
		any = o
		if o.Info.X == 0 && o.Info.Y == 0 {
			return o
		}
	}
	return any
}

// InputSerial returns the newest input serial, 0 when no seat exists.
func (c *Client) InputSerial() uint32 {
	if c.Seat == nil {
		return 0
	}
	return c.Seat.LastSerial
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.Display.Close()
}
