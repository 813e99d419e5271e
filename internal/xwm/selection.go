package xwm

import (
	"fmt"

	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
)

// Selection transfer primitives. The bridge in internal/selection drives
// these; nothing here keeps state.

// WatchSelection subscribes helper to XFixes ownership notifications for
// the selection.
func (c *Conn) WatchSelection(helper xproto.Window, selection xproto.Atom) {
	mask := uint32(xfixes.SelectionEventMaskSetSelectionOwner |
		xfixes.SelectionEventMaskSelectionWindowDestroy |
		xfixes.SelectionEventMaskSelectionClientClose)
	xfixes.SelectSelectionInput(c.conn, helper, selection, mask)
}

// SelectionOwner returns the current owner window, 0 when unowned.
func (c *Conn) SelectionOwner(selection xproto.Atom) xproto.Window {
	reply, err := xproto.GetSelectionOwner(c.conn, selection).Reply()
	if err != nil {
		return 0
	}
	return reply.Owner
}

// ClaimSelection makes win the selection owner.
func (c *Conn) ClaimSelection(win xproto.Window, selection xproto.Atom, t xproto.Timestamp) {
	xproto.SetSelectionOwner(c.conn, win, selection, t)
}

// DisownSelection releases the selection.
func (c *Conn) DisownSelection(selection xproto.Atom, t xproto.Timestamp) {
	xproto.SetSelectionOwner(c.conn, xproto.WindowNone, selection, t)
}

// ConvertSelection asks the owner to deliver the target into prop on
// requestor.
func (c *Conn) ConvertSelection(requestor xproto.Window, selection, target, prop xproto.Atom, t xproto.Timestamp) {
	xproto.ConvertSelection(c.conn, requestor, selection, target, prop, t)
}

// ReadProperty fetches a whole property, optionally deleting it, which is
// how INCR chunks are acknowledged.
func (c *Conn) ReadProperty(win xproto.Window, prop xproto.Atom, del bool) (*xproto.GetPropertyReply, error) {
	return xproto.GetProperty(c.conn, del, win, prop,
		xproto.GetPropertyTypeAny, 0, 0x1fffffff).Reply()
}

// DeleteProperty removes a property, which signals the INCR sender to
// produce the next chunk.
func (c *Conn) DeleteProperty(win xproto.Window, prop xproto.Atom) {
	xproto.DeleteProperty(c.conn, win, prop)
}

// WriteProperty replaces a property. Format is 8, 16 or 32 and data length
// must be a multiple of the format size.
func (c *Conn) WriteProperty(win xproto.Window, prop, typ xproto.Atom, format byte, data []byte) {
	units := uint32(len(data))
	switch format {
	case 16:
		units /= 2
	case 32:
		units /= 4
	}
	xproto.ChangeProperty(c.conn, xproto.PropModeReplace, win, prop, typ,
		format, units, data)
}

// NotifySelection answers a SelectionRequest. Property 0 refuses the
// conversion.
func (c *Conn) NotifySelection(req xproto.SelectionRequestEvent, prop xproto.Atom) {
	ev := xproto.SelectionNotifyEvent{
		Time:      req.Time,
		Requestor: req.Requestor,
		Selection: req.Selection,
		Target:    req.Target,
		Property:  prop,
	}
	xproto.SendEvent(c.conn, false, req.Requestor, xproto.EventMaskNoEvent,
		string(ev.Bytes()))
}

// WatchProperties subscribes to property changes on a foreign window,
// which is how incremental sends observe the requestor's acknowledging
// deletes.
func (c *Conn) WatchProperties(win xproto.Window) {
	xproto.ChangeWindowAttributes(c.conn, win, xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange})
}

// UnwatchProperties drops the subscription again.
func (c *Conn) UnwatchProperties(win xproto.Window) {
	xproto.ChangeWindowAttributes(c.conn, win, xproto.CwEventMask, []uint32{0})
}

// InternAtoms resolves names to atoms with pipelined requests, one round
// trip for the whole batch.
func (c *Conn) InternAtoms(names []string) ([]xproto.Atom, error) {
	cookies := make([]xproto.InternAtomCookie, len(names))
	for i, name := range names {
		cookies[i] = xproto.InternAtom(c.conn, false, uint16(len(name)), name)
	}
	atoms := make([]xproto.Atom, len(names))
	for i, ck := range cookies {
		reply, err := ck.Reply()
		if err != nil {
			return nil, fmt.Errorf("intern atom %s: %w", names[i], err)
		}
		atoms[i] = reply.Atom
	}
	return atoms, nil
}

// AtomNames resolves atoms to names, batched the same way.
func (c *Conn) AtomNames(atoms []xproto.Atom) ([]string, error) {
	cookies := make([]xproto.GetAtomNameCookie, len(atoms))
	for i, atom := range atoms {
		cookies[i] = xproto.GetAtomName(c.conn, atom)
	}
	names := make([]string, len(atoms))
	for i, ck := range cookies {
		reply, err := ck.Reply()
		if err != nil {
			return nil, fmt.Errorf("name atom %d: %w", atoms[i], err)
		}
		names[i] = reply.Name
	}
	return names, nil
}
