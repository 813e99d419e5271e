package selection

import (
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/sys/unix"
)

// targetPair binds an advertised conversion target to the host mime type
// backing it and the property type used when replying.
type targetPair struct {
	atom xproto.Atom
	typ  xproto.Atom
	mime string
}

// transferKey identifies one conversion slot; ICCCM keys transfers by
// requestor window and property.
type transferKey struct {
	requestor xproto.Window
	property  xproto.Atom
}

// outgoing is one conversion being served to an X requestor.
type outgoing struct {
	req   xproto.SelectionRequestEvent
	typ   xproto.Atom
	epoch int
	data  []byte
	sent  int
	incr  bool
}

// SelectionRequest answers a guest client asking for the clipboard the
// bridge owns on behalf of the host.
func (b *Bridge) SelectionRequest(ev xproto.SelectionRequestEvent) {
	if ev.Time != 0 {
		b.time = ev.Time
	}
	if ev.Selection != b.atoms.Clipboard || b.offer == nil {
		b.x.NotifySelection(ev, xproto.AtomNone)
		return
	}
	if ev.Property == xproto.AtomNone {
		// Obsolete requestors leave the property unset; ICCCM says to
		// reuse the target name.
		ev.Property = ev.Target
	}
	switch ev.Target {
	case b.atoms.Targets:
		b.serveTargets(ev)
		return
	case b.atoms.Timestamp:
		b.serveTimestamp(ev)
		return
	case b.atoms.Multiple:
		b.x.NotifySelection(ev, xproto.AtomNone)
		return
	}
	pair, ok := b.lookupTarget(ev.Target)
	if !ok {
		b.log.Debug("conversion target not offered", "target", ev.Target)
		b.x.NotifySelection(ev, xproto.AtomNone)
		return
	}
	b.startOutgoing(ev, pair)
}

func (b *Bridge) startOutgoing(ev xproto.SelectionRequestEvent, pair targetPair) {
	key := transferKey{requestor: ev.Requestor, property: ev.Property}
	if old := b.outgoing[key]; old != nil {
		if old.epoch == b.epoch {
			b.x.NotifySelection(ev, xproto.AtomNone)
			return
		}
		// A transfer from a previous ownership epoch is still parked on
		// this slot; the requestor asking again means it gave up on it.
		b.finishOutgoing(key, old)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		b.log.Error("selection pipe failed", "error", err)
		b.x.NotifySelection(ev, xproto.AtomNone)
		return
	}
	o := &outgoing{req: ev, typ: pair.typ, epoch: b.epoch}
	b.outgoing[key] = o
	if err := b.offer.Receive(pair.mime, p[1]); err != nil {
		b.log.Error("host receive failed", "mime", pair.mime, "error", err)
		unix.Close(p[0])
		unix.Close(p[1])
		delete(b.outgoing, key)
		b.x.NotifySelection(ev, xproto.AtomNone)
		return
	}
	unix.Close(p[1])
	go b.readOffer(key, o.epoch, p[0])
}

// readOffer drains one paste from the host on its own goroutine and
// hands the bytes back to the loop.
func (b *Bridge) readOffer(key transferKey, epoch int, fd int) {
	f := os.NewFile(uintptr(fd), "selection-offer")
	data, err := io.ReadAll(f)
	f.Close()
	b.loop.Post(func() { b.offerRead(key, epoch, data, err) })
}

func (b *Bridge) offerRead(key transferKey, epoch int, data []byte, err error) {
	o := b.outgoing[key]
	if o == nil || o.epoch != epoch {
		return
	}
	if err != nil || epoch != b.epoch {
		// The pipe broke or ownership moved on mid-read; a partial
		// payload must not be delivered as if it were complete.
		delete(b.outgoing, key)
		b.x.NotifySelection(o.req, xproto.AtomNone)
		return
	}
	if len(data) <= b.chunk {
		b.x.WriteProperty(o.req.Requestor, o.req.Property, o.typ, 8, data)
		b.x.NotifySelection(o.req, o.req.Property)
		delete(b.outgoing, key)
		return
	}
	o.data = data
	o.incr = true
	b.watch(o.req.Requestor)
	var size [4]byte
	xgb.Put32(size[:], uint32(len(data)))
	b.x.WriteProperty(o.req.Requestor, o.req.Property, b.atoms.Incr, 32, size[:])
	b.x.NotifySelection(o.req, o.req.Property)
}

// outgoingAck advances an INCR cycle when the requestor deletes the
// property, acknowledging the previous chunk.
func (b *Bridge) outgoingAck(ev xproto.PropertyNotifyEvent) {
	key := transferKey{requestor: ev.Window, property: ev.Atom}
	o := b.outgoing[key]
	if o == nil || !o.incr {
		return
	}
	if o.sent >= len(o.data) {
		// A zero-length write of the data type ends the transfer.
		b.x.WriteProperty(o.req.Requestor, o.req.Property, o.typ, 8, nil)
		b.finishOutgoing(key, o)
		return
	}
	n := len(o.data) - o.sent
	if n > b.chunk {
		n = b.chunk
	}
	b.x.WriteProperty(o.req.Requestor, o.req.Property, o.typ, 8, o.data[o.sent:o.sent+n])
	o.sent += n
}

func (b *Bridge) finishOutgoing(key transferKey, o *outgoing) {
	if o.incr {
		b.unwatch(key.requestor)
	}
	delete(b.outgoing, key)
}

func (b *Bridge) serveTargets(ev xproto.SelectionRequestEvent) {
	list := make([]xproto.Atom, 0, len(b.targets)+2)
	list = append(list, b.atoms.Targets, b.atoms.Timestamp)
	for _, pair := range b.targets {
		list = append(list, pair.atom)
	}
	data := make([]byte, 4*len(list))
	for i, atom := range list {
		xgb.Put32(data[i*4:], uint32(atom))
	}
	b.x.WriteProperty(ev.Requestor, ev.Property, xproto.AtomAtom, 32, data)
	b.x.NotifySelection(ev, ev.Property)
}

func (b *Bridge) serveTimestamp(ev xproto.SelectionRequestEvent) {
	var data [4]byte
	xgb.Put32(data[:], uint32(b.claimTime))
	b.x.WriteProperty(ev.Requestor, ev.Property, xproto.AtomInteger, 32, data[:])
	b.x.NotifySelection(ev, ev.Property)
}

func (b *Bridge) lookupTarget(target xproto.Atom) (targetPair, bool) {
	for _, pair := range b.targets {
		if pair.atom == target {
			return pair, true
		}
	}
	return targetPair{}, false
}

// buildTargets derives the advertised conversion targets from the offer's
// mime types. Text mimes fan out to the classic text targets; every mime
// is also offered under its own name.
func (b *Bridge) buildTargets() {
	seen := make(map[xproto.Atom]bool)
	add := func(atom, typ xproto.Atom, mime string) {
		if atom == xproto.AtomNone || seen[atom] {
			return
		}
		seen[atom] = true
		b.targets = append(b.targets, targetPair{atom: atom, typ: typ, mime: mime})
	}
	mimes := b.offer.MimeTypes()
	utf8, plain := "", ""
	for _, mime := range mimes {
		switch mime {
		case mimeTextUTF8:
			utf8 = mime
		case "UTF8_STRING":
			// GTK cross-advertises the X target name as a mime type.
			if utf8 == "" {
				utf8 = mime
			}
		case mimeText:
			plain = mime
		}
	}
	switch {
	case utf8 != "":
		add(b.atoms.Utf8String, b.atoms.Utf8String, utf8)
		add(b.atoms.Text, b.atoms.Utf8String, utf8)
		add(xproto.AtomString, xproto.AtomString, utf8)
	case plain != "":
		add(xproto.AtomString, xproto.AtomString, plain)
		add(b.atoms.Text, xproto.AtomString, plain)
	}
	var names []string
	for _, mime := range mimes {
		if strings.ContainsRune(mime, '/') {
			names = append(names, mime)
		}
	}
	if len(names) == 0 {
		return
	}
	atoms, err := b.x.InternAtoms(names)
	if err != nil {
		b.log.Warn("mime atom intern failed", "error", err)
		return
	}
	for i, atom := range atoms {
		add(atom, atom, names[i])
	}
}
