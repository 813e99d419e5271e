package host

// Shm wraps wl_shm.
type Shm struct {
	BaseProxy

	// Formats collects the pixel formats the compositor announces.
	Formats []uint32
}

const shmCreatePoolOpcode = 0

const shmFormatEvent = 0

// NewShm returns an unbound wl_shm wrapper.
func NewShm(d *Display) *Shm {
	s := &Shm{}
	s.attach(d)
	return s
}

// CreatePool shares size bytes of fd with the compositor.
func (s *Shm) CreatePool(fd int, size int32) (*ShmPool, error) {
	p := &ShmPool{}
	p.attach(s.Display())
	s.Display().Register(p)
	if err := s.Display().SendRequest(s, shmCreatePoolOpcode, p.ID(), FD(fd), size); err != nil {
		return nil, err
	}
	return p, nil
}

// Supports reports whether the compositor announced the format.
func (s *Shm) Supports(format uint32) bool {
	for _, f := range s.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Dispatch handles wl_shm events.
func (s *Shm) Dispatch(ev *Event) {
	if ev.Opcode == shmFormatEvent {
		s.Formats = append(s.Formats, ev.Uint32())
	}
}

// ShmPool wraps wl_shm_pool.
type ShmPool struct {
	BaseProxy
}

const (
	shmPoolCreateBufferOpcode = 0
	shmPoolDestroyOpcode      = 1
	shmPoolResizeOpcode       = 2
)

// CreateBuffer carves a buffer out of the pool.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32, format uint32) (*Buffer, error) {
	b := &Buffer{}
	b.attach(p.Display())
	p.Display().Register(b)
	if err := p.Display().SendRequest(p, shmPoolCreateBufferOpcode,
		b.ID(), offset, width, height, stride, format); err != nil {
		return nil, err
	}
	return b, nil
}

// Destroy releases the pool object. Buffers created from it survive until
// destroyed themselves.
func (p *ShmPool) Destroy() error {
	err := p.Display().SendRequest(p, shmPoolDestroyOpcode)
	p.Display().Unregister(p.ID())
	return err
}

// Resize grows the pool after the backing file grew.
func (p *ShmPool) Resize(size int32) error {
	return p.Display().SendRequest(p, shmPoolResizeOpcode, size)
}

// Dispatch handles wl_shm_pool events (there are none).
func (p *ShmPool) Dispatch(ev *Event) {
	// No events defined for wl_shm_pool
}

// Buffer wraps a host wl_buffer.
type Buffer struct {
	BaseProxy

	// OnRelease fires when the compositor is done reading the buffer.
	OnRelease func()
}

const bufferDestroyOpcode = 0

const bufferReleaseEvent = 0

// Destroy releases the buffer object.
func (b *Buffer) Destroy() error {
	err := b.Display().SendRequest(b, bufferDestroyOpcode)
	b.Display().Unregister(b.ID())
	return err
}

// Dispatch handles wl_buffer events.
func (b *Buffer) Dispatch(ev *Event) {
	if ev.Opcode == bufferReleaseEvent && b.OnRelease != nil {
		b.OnRelease()
	}
}
