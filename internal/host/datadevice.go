package host

// DataDeviceManager wraps wl_data_device_manager.
type DataDeviceManager struct {
	BaseProxy
}

const (
	dataDeviceManagerCreateSourceOpcode = 0
	dataDeviceManagerGetDeviceOpcode    = 1
)

// NewDataDeviceManager returns an unbound wrapper.
func NewDataDeviceManager(d *Display) *DataDeviceManager {
	m := &DataDeviceManager{}
	m.attach(d)
	return m
}

// CreateSource makes a fresh data source for claiming the selection.
func (m *DataDeviceManager) CreateSource() (*DataSource, error) {
	s := &DataSource{}
	s.attach(m.Display())
	m.Display().Register(s)
	if err := m.Display().SendRequest(m, dataDeviceManagerCreateSourceOpcode, s.ID()); err != nil {
		return nil, err
	}
	return s, nil
}

// GetDevice binds the seat's data device.
func (m *DataDeviceManager) GetDevice(seat *Seat) (*DataDevice, error) {
	d := &DataDevice{}
	d.attach(m.Display())
	m.Display().Register(d)
	if err := m.Display().SendRequest(m, dataDeviceManagerGetDeviceOpcode, d.ID(), seat); err != nil {
		return nil, err
	}
	return d, nil
}

// Dispatch handles wl_data_device_manager events (there are none).
func (m *DataDeviceManager) Dispatch(ev *Event) {
	// No events defined for wl_data_device_manager
}

// DataSource wraps wl_data_source: the gateway's own clipboard offers.
type DataSource struct {
	BaseProxy

	// OnSend asks the gateway to write the named mime type into fd and
	// close it.
	OnSend func(mime string, fd int)
	// OnCancelled means another client took the selection over.
	OnCancelled func()
}

const (
	dataSourceOfferOpcode   = 0
	dataSourceDestroyOpcode = 1
)

const (
	dataSourceTargetEvent    = 0
	dataSourceSendEvent      = 1
	dataSourceCancelledEvent = 2
)

// Offer advertises one mime type on the source.
func (s *DataSource) Offer(mime string) error {
	return s.Display().SendRequest(s, dataSourceOfferOpcode, mime)
}

// Destroy releases the source.
func (s *DataSource) Destroy() error {
	err := s.Display().SendRequest(s, dataSourceDestroyOpcode)
	s.Display().Unregister(s.ID())
	return err
}

// Dispatch handles wl_data_source events.
func (s *DataSource) Dispatch(ev *Event) {
	switch ev.Opcode {
	case dataSourceTargetEvent:
		_ = ev.String()
	case dataSourceSendEvent:
		mime := ev.String()
		fd := ev.Fd()
		if ev.Err() != nil {
			if fd >= 0 {
				closeFd(fd)
			}
			return
		}
		if s.OnSend != nil {
			s.OnSend(mime, fd)
		} else if fd >= 0 {
			closeFd(fd)
		}
	case dataSourceCancelledEvent:
		if s.OnCancelled != nil {
			s.OnCancelled()
		}
	}
}

// DataDevice wraps wl_data_device for one seat.
type DataDevice struct {
	BaseProxy

	// OnSelection fires with the offer now holding the clipboard, nil when
	// the clipboard emptied.
	OnSelection func(offer *DataOffer)

	// pendingOffer accumulates mime types between data_offer and the
	// selection event that adopts it.
	pendingOffer *DataOffer
}

const (
	dataDeviceSetSelectionOpcode = 1
	dataDeviceReleaseOpcode      = 2
)

const (
	dataDeviceDataOfferEvent = 0
	dataDeviceEnterEvent     = 1
	dataDeviceLeaveEvent     = 2
	dataDeviceMotionEvent    = 3
	dataDeviceDropEvent      = 4
	dataDeviceSelectionEvent = 5
)

// SetSelection claims the clipboard with source, using an input serial.
// A nil source clears the gateway's claim.
func (d *DataDevice) SetSelection(source *DataSource, serial uint32) error {
	var p Proxy
	if source != nil {
		p = source
	}
	return d.Display().SendRequest(d, dataDeviceSetSelectionOpcode, p, serial)
}

// Dispatch handles wl_data_device events. Drag-and-drop events are
// acknowledged and dropped; only the selection path is bridged.
func (d *DataDevice) Dispatch(ev *Event) {
	switch ev.Opcode {
	case dataDeviceDataOfferEvent:
		id := ev.Uint32()
		offer := &DataOffer{}
		offer.attach(d.Display())
		d.Display().RegisterServerID(offer, id)
		d.pendingOffer = offer
	case dataDeviceSelectionEvent:
		id := ev.Uint32()
		if id == 0 {
			if d.OnSelection != nil {
				d.OnSelection(nil)
			}
			return
		}
		offer := d.pendingOffer
		if offer == nil || offer.ID() != id {
			return
		}
		d.pendingOffer = nil
		if d.OnSelection != nil {
			d.OnSelection(offer)
		}
	case dataDeviceEnterEvent, dataDeviceLeaveEvent, dataDeviceMotionEvent, dataDeviceDropEvent:
		// Drag and drop is not bridged.
	}
}

// DataOffer wraps wl_data_offer: clipboard content offered by another
// client.
type DataOffer struct {
	BaseProxy

	Mimes []string
}

const (
	dataOfferReceiveOpcode = 1
	dataOfferDestroyOpcode = 2
)

const dataOfferOfferEvent = 0

// Receive asks for the offer's content in the given mime type, written to
// fd. The caller keeps the read end.
func (o *DataOffer) Receive(mime string, fd int) error {
	return o.Display().SendRequest(o, dataOfferReceiveOpcode, mime, FD(fd))
}

// Destroy releases the offer.
func (o *DataOffer) Destroy() error {
	err := o.Display().SendRequest(o, dataOfferDestroyOpcode)
	o.Display().Unregister(o.ID())
	return err
}

// Offers reports whether the offer carries the mime type.
func (o *DataOffer) Offers(mime string) bool {
	for _, m := range o.Mimes {
		if m == mime {
			return true
		}
	}
	return false
}

// Dispatch handles wl_data_offer events.
func (o *DataOffer) Dispatch(ev *Event) {
	if ev.Opcode == dataOfferOfferEvent {
		mime := ev.String()
		if ev.Err() == nil {
			o.Mimes = append(o.Mimes, mime)
		}
	}
}
