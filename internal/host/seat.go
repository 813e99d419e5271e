package host

// Seat capability bits.
const (
	SeatCapabilityPointer  = 1
	SeatCapabilityKeyboard = 2
)

// Seat wraps wl_seat. The gateway never forwards input; the seat exists to
// harvest serials, which interactive move/resize and clipboard claims
// require.
type Seat struct {
	BaseProxy

	Capabilities uint32
	Name         string

	keyboard *Keyboard

	// LastSerial is the most recent input serial seen on any device of
	// this seat.
	LastSerial uint32
}

const (
	seatGetKeyboardOpcode = 1
)

const (
	seatCapabilitiesEvent = 0
	seatNameEvent         = 1
)

// NewSeat returns an unbound wl_seat wrapper.
func NewSeat(d *Display) *Seat {
	s := &Seat{}
	s.attach(d)
	return s
}

// Dispatch handles wl_seat events.
func (s *Seat) Dispatch(ev *Event) {
	switch ev.Opcode {
	case seatCapabilitiesEvent:
		s.Capabilities = ev.Uint32()
		if s.Capabilities&SeatCapabilityKeyboard != 0 && s.keyboard == nil {
			kb, err := s.GetKeyboard()
			if err == nil {
				s.keyboard = kb
			}
		}
	case seatNameEvent:
		s.Name = ev.String()
	}
}

// GetKeyboard binds the seat's keyboard for serial harvesting.
func (s *Seat) GetKeyboard() (*Keyboard, error) {
	kb := &Keyboard{seat: s}
	kb.attach(s.Display())
	s.Display().Register(kb)
	if err := s.Display().SendRequest(s, seatGetKeyboardOpcode, kb.ID()); err != nil {
		return nil, err
	}
	return kb, nil
}

// Keyboard wraps wl_keyboard, recording serials and dropping everything
// else on the floor.
type Keyboard struct {
	BaseProxy
	seat *Seat
}

const (
	keyboardKeymapEvent    = 0
	keyboardEnterEvent     = 1
	keyboardLeaveEvent     = 2
	keyboardKeyEvent       = 3
	keyboardModifiersEvent = 4
)

// Dispatch handles wl_keyboard events.
func (k *Keyboard) Dispatch(ev *Event) {
	switch ev.Opcode {
	case keyboardKeymapEvent:
		_ = ev.Uint32() // format
		fd := ev.Fd()
		_ = ev.Uint32() // size
		if fd >= 0 {
			closeFd(fd)
		}
	case keyboardEnterEvent, keyboardLeaveEvent:
		k.seat.LastSerial = ev.Uint32()
	case keyboardKeyEvent:
		k.seat.LastSerial = ev.Uint32()
	case keyboardModifiersEvent:
		k.seat.LastSerial = ev.Uint32()
	}
}
