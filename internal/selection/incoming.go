package selection

import (
	"os"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// mimeBinding pairs an offered host mime type with the X conversion
// target that produces it.
type mimeBinding struct {
	mime   string
	target xproto.Atom
}

type convKind int

const (
	convTargets convKind = iota
	convData
)

// conversion is one transfer pulled from the X owner through the
// transfer window property. Conversions run one at a time because they
// share that property.
type conversion struct {
	kind   convKind
	target xproto.Atom
	mime   string
	fd     int
	gen    int
	incr   bool
	buf    []byte
}

// fetchTargets queues a TARGETS conversion against the current X owner.
func (b *Bridge) fetchTargets() {
	b.convQ = append(b.convQ, &conversion{kind: convTargets, target: b.atoms.Targets})
	b.pumpConversions()
}

// hostSend queues a paste for the host: the compositor wants mime written
// into fd. Runs on the loop, posted from the data source callback.
func (b *Bridge) hostSend(gen int, mime string, fd int) {
	if gen != b.sourceGen {
		unix.Close(fd)
		return
	}
	target, ok := b.lookupMime(mime)
	if !ok {
		b.log.Debug("host asked for unoffered mime", "mime", mime)
		unix.Close(fd)
		return
	}
	b.convQ = append(b.convQ, &conversion{kind: convData, target: target, mime: mime, fd: fd, gen: gen})
	b.pumpConversions()
}

// hostCancelled drops the bridge's host claim after another host client
// took the clipboard over. The new owner's offer follows as a selection
// event on the data device.
func (b *Bridge) hostCancelled(gen int) {
	if gen != b.sourceGen || b.source == nil {
		return
	}
	if err := b.source.Destroy(); err != nil {
		b.log.Debug("cancelled source destroy failed", "error", err)
	}
	b.source = nil
	b.bindings = nil
	b.sourceGen++
}

// pumpConversions starts the next queued conversion once the transfer
// property is free, dropping pastes whose source has been replaced.
func (b *Bridge) pumpConversions() {
	for b.conv == nil && len(b.convQ) > 0 {
		j := b.convQ[0]
		b.convQ = b.convQ[1:]
		if j.kind == convData && j.gen != b.sourceGen {
			unix.Close(j.fd)
			continue
		}
		b.conv = j
		b.x.ConvertSelection(b.helper, b.atoms.Clipboard, j.target, b.atoms.Property, b.time)
		return
	}
}

// SelectionNotify resolves the conversion in flight against the X owner.
func (b *Bridge) SelectionNotify(ev xproto.SelectionNotifyEvent) {
	if ev.Time != 0 {
		b.time = ev.Time
	}
	j := b.conv
	if j == nil || ev.Requestor != b.helper || ev.Selection != b.atoms.Clipboard {
		return
	}
	if ev.Property == xproto.AtomNone {
		b.completeConversion(j, nil, false)
		return
	}
	reply, err := b.x.ReadProperty(b.helper, b.atoms.Property, true)
	if err != nil {
		b.log.Debug("conversion property read failed", "error", err)
		b.completeConversion(j, nil, false)
		return
	}
	if reply.Type == b.atoms.Incr {
		if j.kind == convTargets {
			// A target list never reasonably needs INCR; treat one as a
			// refusal rather than growing the receive path for it.
			b.completeConversion(j, nil, false)
			return
		}
		// Deleting the INCR property above told the owner to start
		// sending chunks.
		j.incr = true
		return
	}
	if j.kind == convTargets && reply.Format != 32 {
		b.completeConversion(j, nil, false)
		return
	}
	b.completeConversion(j, reply.Value, true)
}

// incomingChunk appends one INCR chunk the X owner wrote onto the
// transfer window. A zero-length chunk ends the transfer.
func (b *Bridge) incomingChunk(ev xproto.PropertyNotifyEvent) {
	j := b.conv
	if j == nil || !j.incr || ev.Atom != b.atoms.Property {
		return
	}
	reply, err := b.x.ReadProperty(b.helper, b.atoms.Property, true)
	if err != nil {
		b.log.Debug("incr chunk read failed", "error", err)
		b.completeConversion(j, nil, false)
		return
	}
	if len(reply.Value) == 0 {
		b.completeConversion(j, j.buf, true)
		return
	}
	j.buf = append(j.buf, reply.Value...)
}

func (b *Bridge) completeConversion(j *conversion, data []byte, ok bool) {
	b.conv = nil
	switch j.kind {
	case convTargets:
		if ok {
			b.adoptTargets(parseAtoms(data))
		} else {
			b.log.Debug("targets conversion refused", "owner", b.xOwner)
		}
	case convData:
		if !ok || j.gen != b.sourceGen {
			// Close without writing; the host reader sees an empty paste.
			unix.Close(j.fd)
			break
		}
		go writeAndClose(b.log, j.fd, data)
	}
	b.pumpConversions()
}

// adoptTargets maps the X owner's conversion targets onto host mime
// types and claims the host clipboard with them.
func (b *Bridge) adoptTargets(atoms []xproto.Atom) {
	textTarget := xproto.Atom(xproto.AtomNone)
	var unknown []xproto.Atom
	var binds []mimeBinding
	have := make(map[string]bool)
	add := func(mime string, target xproto.Atom) {
		if mime == "" || have[mime] {
			return
		}
		have[mime] = true
		binds = append(binds, mimeBinding{mime: mime, target: target})
	}
	for _, atom := range atoms {
		switch atom {
		case b.atoms.Targets, b.atoms.Timestamp, b.atoms.Multiple, b.atoms.Incr, xproto.AtomNone:
			// Protocol plumbing, not content.
		case b.atoms.Utf8String:
			add(mimeTextUTF8, atom)
		case xproto.AtomString:
			add(mimeText, atom)
		case b.atoms.Text:
			textTarget = atom
		default:
			unknown = append(unknown, atom)
		}
	}
	if len(unknown) > 0 {
		names, err := b.x.AtomNames(unknown)
		if err != nil {
			b.log.Warn("target atom name lookup failed", "error", err)
		} else {
			for i, name := range names {
				if strings.ContainsRune(name, '/') {
					add(name, unknown[i])
				}
			}
		}
	}
	if !have[mimeTextUTF8] && !have[mimeText] && textTarget != xproto.AtomNone {
		add(mimeText, textTarget)
	}
	if len(binds) == 0 {
		b.log.Debug("x owner offers no usable targets", "owner", b.xOwner)
		return
	}
	b.claimHost(binds)
}

// claimHost replaces the bridge's host clipboard claim with one backed
// by the current X owner.
func (b *Bridge) claimHost(binds []mimeBinding) {
	if b.source != nil {
		if err := b.source.Destroy(); err != nil {
			b.log.Debug("stale source destroy failed", "error", err)
		}
		b.source = nil
	}
	b.sourceGen++
	gen := b.sourceGen
	src, err := b.host.CreateSource(
		func(mime string, fd int) {
			b.loop.Post(func() { b.hostSend(gen, mime, fd) })
		},
		func() {
			b.loop.Post(func() { b.hostCancelled(gen) })
		},
	)
	if err != nil {
		b.log.Error("host source creation failed", "error", err)
		return
	}
	for _, bind := range binds {
		if err := src.Offer(bind.mime); err != nil {
			b.log.Error("host offer failed", "mime", bind.mime, "error", err)
		}
	}
	if err := b.host.SetSelection(src); err != nil {
		b.log.Error("host selection claim failed", "error", err)
		if derr := src.Destroy(); derr != nil {
			b.log.Debug("source destroy failed", "error", derr)
		}
		return
	}
	b.source = src
	b.bindings = binds
	b.log.Debug("claimed host clipboard for x owner", "owner", b.xOwner, "mimes", len(binds))
}

func (b *Bridge) lookupMime(mime string) (xproto.Atom, bool) {
	for _, bind := range b.bindings {
		if bind.mime == mime {
			return bind.target, true
		}
	}
	return xproto.AtomNone, false
}

// abortConversions fails the conversion in flight and drains the queue,
// closing the host file descriptors waiting on them.
func (b *Bridge) abortConversions() {
	if j := b.conv; j != nil {
		b.conv = nil
		if j.kind == convData {
			unix.Close(j.fd)
		}
	}
	for _, j := range b.convQ {
		if j.kind == convData {
			unix.Close(j.fd)
		}
	}
	b.convQ = nil
}

func parseAtoms(data []byte) []xproto.Atom {
	atoms := make([]xproto.Atom, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		atoms = append(atoms, xproto.Atom(xgb.Get32(data[i:])))
	}
	return atoms
}

// writeAndClose streams one paste into the host pipe off the loop; pipe
// buffers are smaller than clipboard payloads can be.
func writeAndClose(logg *log.Logger, fd int, data []byte) {
	f := os.NewFile(uintptr(fd), "selection-send")
	if f == nil {
		return
	}
	if _, err := f.Write(data); err != nil {
		logg.Debug("host paste write failed", "error", err)
	}
	f.Close()
}
