package host

// OutputInfo is the accumulated description of one host output. Fields
// update across a burst of events and become coherent at the done event.
type OutputInfo struct {
	X, Y          int32
	PhysW, PhysH  int32
	Width, Height int32 // current mode, pixels
	Refresh       int32 // mHz
	Scale         int32
	Make, Model   string
	Name          string
}

// Output wraps wl_output and tracks its advertised geometry.
type Output struct {
	BaseProxy

	Info    OutputInfo
	pending OutputInfo

	// OnDone fires when a burst of property events completes.
	OnDone func(info OutputInfo)
}

const (
	outputGeometryEvent    = 0
	outputModeEvent        = 1
	outputDoneEvent        = 2
	outputScaleEvent       = 3
	outputNameEvent        = 4
	outputDescriptionEvent = 5
)

const outputModeCurrent = 0x1

// NewOutput returns an unbound wl_output wrapper.
func NewOutput(d *Display) *Output {
	o := &Output{}
	o.attach(d)
	o.pending.Scale = 1
	return o
}

// Dispatch handles wl_output events.
func (o *Output) Dispatch(ev *Event) {
	switch ev.Opcode {
	case outputGeometryEvent:
		o.pending.X = ev.Int32()
		o.pending.Y = ev.Int32()
		o.pending.PhysW = ev.Int32()
		o.pending.PhysH = ev.Int32()
		_ = ev.Int32() // subpixel
		o.pending.Make = ev.String()
		o.pending.Model = ev.String()
	case outputModeEvent:
		flags := ev.Uint32()
		w := ev.Int32()
		h := ev.Int32()
		refresh := ev.Int32()
		if flags&outputModeCurrent != 0 {
			o.pending.Width = w
			o.pending.Height = h
			o.pending.Refresh = refresh
		}
	case outputScaleEvent:
		o.pending.Scale = ev.Int32()
	case outputNameEvent:
		o.pending.Name = ev.String()
	case outputDoneEvent:
		o.Info = o.pending
		if o.OnDone != nil {
			o.OnDone(o.Info)
		}
	}
}

// LogicalSize returns the output size in logical units, its pixel mode
// divided by its scale.
func (o *Output) LogicalSize() (int32, int32) {
	scale := o.Info.Scale
	if scale < 1 {
		scale = 1
	}
	return o.Info.Width / scale, o.Info.Height / scale
}
