// Package selection keeps the clipboard in sync between guest X clients
// and the host compositor. Ownership follows the most recent copy on
// either side: a host offer claims the X CLIPBOARD selection and answers
// guest conversion requests, while an X owner claims the host clipboard
// through a data source and feeds pastes back over a pipe. Payloads above
// the chunk limit cross the X side with the INCR protocol in both
// directions.
package selection

import (
	"fmt"

	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/charmbracelet/log"

	"github.com/bnema/waybridge/internal/dispatch"
	"github.com/bnema/waybridge/internal/logger"
)

// DefaultChunkSize bounds single property writes; larger payloads switch
// to INCR.
const DefaultChunkSize = 64 * 1024

const (
	mimeTextUTF8 = "text/plain;charset=utf-8"
	mimeText     = "text/plain"
)

// XConn is the X side of the bridge, satisfied by xwm.Conn.
type XConn interface {
	HelperWindow() (xproto.Window, error)
	WatchSelection(helper xproto.Window, selection xproto.Atom)
	SelectionOwner(selection xproto.Atom) xproto.Window
	ClaimSelection(win xproto.Window, selection xproto.Atom, t xproto.Timestamp)
	DisownSelection(selection xproto.Atom, t xproto.Timestamp)
	ConvertSelection(requestor xproto.Window, selection, target, prop xproto.Atom, t xproto.Timestamp)
	ReadProperty(win xproto.Window, prop xproto.Atom, del bool) (*xproto.GetPropertyReply, error)
	WriteProperty(win xproto.Window, prop, typ xproto.Atom, format byte, data []byte)
	NotifySelection(req xproto.SelectionRequestEvent, prop xproto.Atom)
	WatchProperties(win xproto.Window)
	UnwatchProperties(win xproto.Window)
	InternAtoms(names []string) ([]xproto.Atom, error)
	AtomNames(atoms []xproto.Atom) ([]string, error)
}

// Offer is clipboard content held by another host client.
type Offer interface {
	MimeTypes() []string
	Receive(mime string, fd int) error
	Destroy() error
}

// Source is one claim the bridge holds on the host clipboard.
type Source interface {
	Offer(mime string) error
	Destroy() error
}

// Host claims and releases the host compositor clipboard.
type Host interface {
	// CreateSource builds a fresh claim. send fires with a write end to
	// fill and close for every paste; cancelled fires when another host
	// client takes the clipboard over. Both may be called from any
	// goroutine.
	CreateSource(send func(mime string, fd int), cancelled func()) (Source, error)
	// SetSelection installs src as the host clipboard content. A nil src
	// withdraws the claim.
	SetSelection(src Source) error
}

// AtomSet names the protocol atoms the bridge speaks. Property is the
// landing slot on the transfer window for conversions pulled from X
// owners.
type AtomSet struct {
	Clipboard  xproto.Atom
	Targets    xproto.Atom
	Timestamp  xproto.Atom
	Multiple   xproto.Atom
	Incr       xproto.Atom
	Utf8String xproto.Atom
	Text       xproto.Atom
	Property   xproto.Atom
}

// Bridge mirrors clipboard ownership between the two sides. All methods
// must run on the dispatch loop.
type Bridge struct {
	x     XConn
	host  Host
	atoms AtomSet
	loop  *dispatch.Loop
	log   *log.Logger
	chunk int

	helper xproto.Window

	// time tracks the latest server timestamp seen on selection traffic,
	// for claims and conversion requests.
	time xproto.Timestamp

	// epoch advances on every ownership change. Transfers stamped with an
	// older epoch abort instead of serving stale bytes.
	epoch int

	// The host side owns: offer backs conversion requests from X clients.
	offer     Offer
	targets   []targetPair
	claimTime xproto.Timestamp
	claimedX  bool
	outgoing  map[transferKey]*outgoing
	watched   map[xproto.Window]int

	// An X client owns: source feeds the host compositor.
	xOwner    xproto.Window
	source    Source
	sourceGen int
	bindings  []mimeBinding
	conv      *conversion
	convQ     []*conversion
}

// New builds an idle bridge. Start wires it to the X server.
func New(x XConn, host Host, atoms AtomSet, loop *dispatch.Loop, chunkSize int) *Bridge {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Bridge{
		x:        x,
		host:     host,
		atoms:    atoms,
		loop:     loop,
		log:      logger.With("component", "selection"),
		chunk:    chunkSize,
		outgoing: make(map[transferKey]*outgoing),
		watched:  make(map[xproto.Window]int),
	}
}

// Start creates the transfer window, subscribes to ownership changes and
// adopts a preexisting X owner if there is one. Must run on the loop.
func (b *Bridge) Start() error {
	win, err := b.x.HelperWindow()
	if err != nil {
		return fmt.Errorf("selection transfer window: %w", err)
	}
	b.helper = win
	b.x.WatchSelection(win, b.atoms.Clipboard)
	if owner := b.x.SelectionOwner(b.atoms.Clipboard); owner != xproto.WindowNone && owner != win {
		b.xOwner = owner
		b.fetchTargets()
	}
	return nil
}

// Close aborts in-flight transfers and withdraws both claims.
func (b *Bridge) Close() {
	b.epoch++
	b.dropOffer()
	b.abortConversions()
	b.sourceGen++
	b.releaseHostClaim()
	for key, o := range b.outgoing {
		if o.incr {
			b.unwatch(key.requestor)
		} else {
			b.x.NotifySelection(o.req, xproto.AtomNone)
		}
		delete(b.outgoing, key)
	}
	if b.claimedX {
		b.x.DisownSelection(b.atoms.Clipboard, b.time)
		b.claimedX = false
	}
}

// HostSelection adopts the offer now holding the host clipboard; nil
// means the host side emptied. The gateway calls this on the loop for
// every data device selection event.
func (b *Bridge) HostSelection(offer Offer) {
	if b.source != nil {
		// The compositor announces every selection to every data device,
		// including the one that just claimed it. Drop our own echo.
		if offer != nil {
			if err := offer.Destroy(); err != nil {
				b.log.Debug("echo offer destroy failed", "error", err)
			}
		}
		return
	}
	b.epoch++
	b.dropOffer()
	if offer == nil {
		if b.claimedX {
			b.x.DisownSelection(b.atoms.Clipboard, b.time)
			b.claimedX = false
		}
		return
	}
	b.offer = offer
	b.buildTargets()
	b.claimTime = b.time
	b.x.ClaimSelection(b.helper, b.atoms.Clipboard, b.time)
	b.log.Debug("claimed X clipboard for host offer", "mimes", len(offer.MimeTypes()))
}

// SelectionOwnerChanged reacts to XFixes ownership events on CLIPBOARD.
func (b *Bridge) SelectionOwnerChanged(ev xfixes.SelectionNotifyEvent) {
	if ev.Selection != b.atoms.Clipboard {
		return
	}
	if ev.Timestamp != 0 {
		b.time = ev.Timestamp
	}
	if ev.Owner == b.helper {
		b.claimedX = true
		b.xOwner = ev.Owner
		return
	}
	b.claimedX = false
	b.epoch++
	b.dropOffer()
	b.abortConversions()
	b.sourceGen++
	b.xOwner = ev.Owner
	if ev.Owner == xproto.WindowNone {
		b.releaseHostClaim()
		return
	}
	b.fetchTargets()
}

// SelectionClear is the core-protocol notice that another client took the
// selection from the transfer window. The XFixes event carries the new
// owner and drives the actual handover.
func (b *Bridge) SelectionClear(ev xproto.SelectionClearEvent) {
	if ev.Selection == b.atoms.Clipboard {
		b.claimedX = false
	}
}

// PropertyNotify routes property traffic for both transfer directions:
// new values on the transfer window are INCR chunks from an X owner,
// deletes on requestor windows acknowledge chunks the bridge wrote.
func (b *Bridge) PropertyNotify(ev xproto.PropertyNotifyEvent) {
	if ev.Time != 0 {
		b.time = ev.Time
	}
	if ev.Window == b.helper {
		if ev.State == xproto.PropertyNewValue {
			b.incomingChunk(ev)
		}
		return
	}
	if ev.State == xproto.PropertyDelete {
		b.outgoingAck(ev)
	}
}

func (b *Bridge) dropOffer() {
	if b.offer != nil {
		if err := b.offer.Destroy(); err != nil {
			b.log.Debug("offer destroy failed", "error", err)
		}
		b.offer = nil
	}
	b.targets = nil
}

func (b *Bridge) releaseHostClaim() {
	if b.source == nil {
		return
	}
	if err := b.host.SetSelection(nil); err != nil {
		b.log.Debug("host selection release failed", "error", err)
	}
	if err := b.source.Destroy(); err != nil {
		b.log.Debug("host source destroy failed", "error", err)
	}
	b.source = nil
	b.bindings = nil
}

// watch subscribes to property events on a requestor window, refcounted
// so overlapping transfers to one client keep the subscription alive.
func (b *Bridge) watch(win xproto.Window) {
	if b.watched[win] == 0 {
		b.x.WatchProperties(win)
	}
	b.watched[win]++
}

func (b *Bridge) unwatch(win xproto.Window) {
	n := b.watched[win]
	if n <= 1 {
		delete(b.watched, win)
		if n == 1 {
			b.x.UnwatchProperties(win)
		}
		return
	}
	b.watched[win] = n - 1
}
