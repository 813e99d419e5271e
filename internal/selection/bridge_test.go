package selection

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/waybridge/internal/dispatch"
)

const (
	testRequestor xproto.Window = 0x300001
	testProp      xproto.Atom   = 0x600
	atomPNG       xproto.Atom   = 150
)

func testAtoms() AtomSet {
	return AtomSet{
		Clipboard:  100,
		Targets:    101,
		Timestamp:  102,
		Multiple:   103,
		Incr:       104,
		Utf8String: 105,
		Text:       106,
		Property:   107,
	}
}

type claimCall struct {
	win xproto.Window
	sel xproto.Atom
}

type convertCall struct {
	target xproto.Atom
	prop   xproto.Atom
}

type writeCall struct {
	win    xproto.Window
	prop   xproto.Atom
	typ    xproto.Atom
	format byte
	data   []byte
}

type notifyCall struct {
	requestor xproto.Window
	property  xproto.Atom
	target    xproto.Atom
}

type propKey struct {
	win  xproto.Window
	prop xproto.Atom
}

type fakeProp struct {
	typ    xproto.Atom
	format byte
	value  []byte
}

type fakeX struct {
	helper xproto.Window
	owner  xproto.Window

	watchedSels []xproto.Atom
	claims      []claimCall
	disowns     int
	converts    []convertCall
	writes      []writeCall
	notifies    []notifyCall
	watched     []xproto.Window
	unwatched   []xproto.Window
	props       map[propKey]fakeProp
	atomsByName map[string]xproto.Atom
	namesByAtom map[xproto.Atom]string
	nextAtom    xproto.Atom
}

func newFakeX() *fakeX {
	return &fakeX{
		helper:      0x700001,
		props:       make(map[propKey]fakeProp),
		atomsByName: make(map[string]xproto.Atom),
		namesByAtom: make(map[xproto.Atom]string),
		nextAtom:    200,
	}
}

func (f *fakeX) knownAtom(name string, atom xproto.Atom) {
	f.atomsByName[name] = atom
	f.namesByAtom[atom] = name
}

func (f *fakeX) HelperWindow() (xproto.Window, error) { return f.helper, nil }

func (f *fakeX) WatchSelection(helper xproto.Window, sel xproto.Atom) {
	f.watchedSels = append(f.watchedSels, sel)
}

func (f *fakeX) SelectionOwner(sel xproto.Atom) xproto.Window { return f.owner }

func (f *fakeX) ClaimSelection(win xproto.Window, sel xproto.Atom, t xproto.Timestamp) {
	f.claims = append(f.claims, claimCall{win: win, sel: sel})
}

func (f *fakeX) DisownSelection(sel xproto.Atom, t xproto.Timestamp) { f.disowns++ }

func (f *fakeX) ConvertSelection(req xproto.Window, sel, target, prop xproto.Atom, t xproto.Timestamp) {
	f.converts = append(f.converts, convertCall{target: target, prop: prop})
}

func (f *fakeX) ReadProperty(win xproto.Window, prop xproto.Atom, del bool) (*xproto.GetPropertyReply, error) {
	key := propKey{win: win, prop: prop}
	p, ok := f.props[key]
	if !ok {
		return nil, fmt.Errorf("no property %d on window %d", prop, win)
	}
	if del {
		delete(f.props, key)
	}
	return &xproto.GetPropertyReply{Type: p.typ, Format: p.format, Value: p.value}, nil
}

func (f *fakeX) WriteProperty(win xproto.Window, prop, typ xproto.Atom, format byte, data []byte) {
	f.writes = append(f.writes, writeCall{
		win: win, prop: prop, typ: typ, format: format,
		data: append([]byte(nil), data...),
	})
}

func (f *fakeX) NotifySelection(req xproto.SelectionRequestEvent, prop xproto.Atom) {
	f.notifies = append(f.notifies, notifyCall{requestor: req.Requestor, property: prop, target: req.Target})
}

func (f *fakeX) WatchProperties(win xproto.Window) { f.watched = append(f.watched, win) }

func (f *fakeX) UnwatchProperties(win xproto.Window) { f.unwatched = append(f.unwatched, win) }

func (f *fakeX) InternAtoms(names []string) ([]xproto.Atom, error) {
	out := make([]xproto.Atom, len(names))
	for i, name := range names {
		atom, ok := f.atomsByName[name]
		if !ok {
			atom = f.nextAtom
			f.nextAtom++
			f.atomsByName[name] = atom
			f.namesByAtom[atom] = name
		}
		out[i] = atom
	}
	return out, nil
}

func (f *fakeX) AtomNames(atoms []xproto.Atom) ([]string, error) {
	out := make([]string, len(atoms))
	for i, atom := range atoms {
		name, ok := f.namesByAtom[atom]
		if !ok {
			return nil, fmt.Errorf("unknown atom %d", atom)
		}
		out[i] = name
	}
	return out, nil
}

type receiveCall struct {
	mime string
	fd   int
}

type fakeOffer struct {
	mimes     []string
	receives  []receiveCall
	destroyed bool
}

func (o *fakeOffer) MimeTypes() []string { return o.mimes }

// Receive dups the write end the way fd passing over the host socket
// would, so the bridge closing its copy does not end the stream.
func (o *fakeOffer) Receive(mime string, fd int) error {
	dup, err := unix.Dup(fd)
	if err != nil {
		return err
	}
	o.receives = append(o.receives, receiveCall{mime: mime, fd: dup})
	return nil
}

func (o *fakeOffer) Destroy() error {
	o.destroyed = true
	return nil
}

type fakeSource struct {
	offers    []string
	destroyed bool
	send      func(mime string, fd int)
	cancelled func()
}

func (s *fakeSource) Offer(mime string) error {
	s.offers = append(s.offers, mime)
	return nil
}

func (s *fakeSource) Destroy() error {
	s.destroyed = true
	return nil
}

type fakeHost struct {
	sources    []*fakeSource
	selections []Source
}

func (h *fakeHost) CreateSource(send func(mime string, fd int), cancelled func()) (Source, error) {
	s := &fakeSource{send: send, cancelled: cancelled}
	h.sources = append(h.sources, s)
	return s, nil
}

func (h *fakeHost) SetSelection(src Source) error {
	h.selections = append(h.selections, src)
	return nil
}

type rig struct {
	t     *testing.T
	loop  *dispatch.Loop
	x     *fakeX
	host  *fakeHost
	b     *Bridge
	atoms AtomSet
}

func newRig(t *testing.T, chunk int) *rig {
	t.Helper()
	loop := dispatch.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	fx := newFakeX()
	fh := &fakeHost{}
	atoms := testAtoms()
	return &rig{
		t:     t,
		loop:  loop,
		x:     fx,
		host:  fh,
		b:     New(fx, fh, atoms, loop, chunk),
		atoms: atoms,
	}
}

func (r *rig) start() {
	r.t.Helper()
	var err error
	r.do(func() { err = r.b.Start() })
	require.NoError(r.t, err, "bridge start should succeed")
}

// do runs fn on the loop and waits; fakes are only touched there.
func (r *rig) do(fn func()) {
	r.loop.PostAndWait(fn)
}

func (r *rig) writesTo(win xproto.Window) []writeCall {
	var out []writeCall
	r.do(func() {
		for _, w := range r.x.writes {
			if w.win == win {
				out = append(out, w)
			}
		}
	})
	return out
}

func (r *rig) notifiesTo(win xproto.Window) []notifyCall {
	var out []notifyCall
	r.do(func() {
		for _, n := range r.x.notifies {
			if n.requestor == win {
				out = append(out, n)
			}
		}
	})
	return out
}

func (r *rig) converts() []convertCall {
	var out []convertCall
	r.do(func() { out = append([]convertCall(nil), r.x.converts...) })
	return out
}

func (r *rig) internedAtom(name string) xproto.Atom {
	var atom xproto.Atom
	r.do(func() { atom = r.x.atomsByName[name] })
	return atom
}

func atomsBytes(atoms ...xproto.Atom) []byte {
	data := make([]byte, 4*len(atoms))
	for i, a := range atoms {
		xgb.Put32(data[i*4:], uint32(a))
	}
	return data
}

func u32Bytes(v uint32) []byte {
	var b [4]byte
	xgb.Put32(b[:], v)
	return b[:]
}

func decodeAtoms(t *testing.T, data []byte) []xproto.Atom {
	t.Helper()
	require.Zero(t, len(data)%4, "atom property data must be 32-bit aligned")
	out := make([]xproto.Atom, 0, len(data)/4)
	for i := 0; i < len(data); i += 4 {
		out = append(out, xproto.Atom(xgb.Get32(data[i:])))
	}
	return out
}

func selReq(r *rig, target xproto.Atom) xproto.SelectionRequestEvent {
	return xproto.SelectionRequestEvent{
		Owner:     r.x.helper,
		Requestor: testRequestor,
		Selection: r.atoms.Clipboard,
		Target:    target,
		Property:  testProp,
		Time:      1000,
	}
}

// feedOffer writes payload into the last recorded receive pipe and
// closes it.
func feedOffer(t *testing.T, r *rig, offer *fakeOffer, payload []byte) {
	t.Helper()
	var recv receiveCall
	r.do(func() {
		if n := len(offer.receives); n > 0 {
			recv = offer.receives[n-1]
		}
	})
	require.NotZero(t, recv.fd, "a receive should have been issued to the offer")
	f := os.NewFile(uintptr(recv.fd), "offer-feed")
	_, err := f.Write(payload)
	require.NoError(t, err, "feeding the offer pipe should succeed")
	require.NoError(t, f.Close(), "closing the offer pipe should succeed")
}

func readAllWithin(t *testing.T, f *os.File) []byte {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(f)
		ch <- result{data: data, err: err}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err, "pipe read should succeed")
		return res.data
	case <-time.After(2 * time.Second):
		t.Fatal("pipe read timed out")
		return nil
	}
}

func TestHostOfferClaimsClipboardAndServesTargets(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	offer := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(offer) })

	var claims []claimCall
	r.do(func() { claims = append([]claimCall(nil), r.x.claims...) })
	require.Len(t, claims, 1, "a host offer should claim the X clipboard")
	assert.Equal(t, r.x.helper, claims[0].win, "the claim should use the transfer window")
	assert.Equal(t, r.atoms.Clipboard, claims[0].sel)

	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Targets)) })

	writes := r.writesTo(testRequestor)
	require.Len(t, writes, 1, "TARGETS should be answered with one property write")
	assert.Equal(t, xproto.Atom(xproto.AtomAtom), writes[0].typ)
	assert.Equal(t, byte(32), writes[0].format)
	mimeAtom := r.internedAtom(mimeTextUTF8)
	assert.Equal(t,
		[]xproto.Atom{r.atoms.Targets, r.atoms.Timestamp, r.atoms.Utf8String, r.atoms.Text, xproto.AtomString, mimeAtom},
		decodeAtoms(t, writes[0].data),
		"utf-8 text should fan out to the classic text targets plus its mime atom")

	notifies := r.notifiesTo(testRequestor)
	require.Len(t, notifies, 1)
	assert.Equal(t, testProp, notifies[0].property, "the notify should confirm the requested property")
}

func TestPlainTextOfferAdvertisesStringTargets(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	offer := &fakeOffer{mimes: []string{mimeText}}
	r.do(func() { r.b.HostSelection(offer) })
	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Targets)) })

	writes := r.writesTo(testRequestor)
	require.Len(t, writes, 1)
	mimeAtom := r.internedAtom(mimeText)
	assert.Equal(t,
		[]xproto.Atom{r.atoms.Targets, r.atoms.Timestamp, xproto.AtomString, r.atoms.Text, mimeAtom},
		decodeAtoms(t, writes[0].data),
		"plain text without a charset should advertise STRING, not UTF8_STRING")
}

func TestSmallPasteServedInOneWrite(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	offer := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(offer) })
	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Utf8String)) })

	payload := []byte("pasted from the host")
	feedOffer(t, r, offer, payload)

	require.Eventually(t, func() bool {
		return len(r.writesTo(testRequestor)) == 1
	}, 2*time.Second, 5*time.Millisecond, "the paste should reach the requestor")

	writes := r.writesTo(testRequestor)
	assert.Equal(t, r.atoms.Utf8String, writes[0].typ)
	assert.Equal(t, byte(8), writes[0].format)
	assert.Equal(t, payload, writes[0].data)

	notifies := r.notifiesTo(testRequestor)
	require.Len(t, notifies, 1)
	assert.Equal(t, testProp, notifies[0].property)

	var watched int
	r.do(func() { watched = len(r.x.watched) })
	assert.Zero(t, watched, "small payloads should not start INCR")
}

func TestLargePasteUsesIncr(t *testing.T) {
	const chunk = 64 * 1024
	r := newRig(t, chunk)
	r.start()

	offer := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(offer) })
	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Utf8String)) })

	payload := make([]byte, 4*chunk)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	feedOffer(t, r, offer, payload)

	require.Eventually(t, func() bool {
		return len(r.writesTo(testRequestor)) == 1
	}, 2*time.Second, 5*time.Millisecond, "the INCR declaration should be written")

	writes := r.writesTo(testRequestor)
	assert.Equal(t, r.atoms.Incr, writes[0].typ, "oversized payloads should declare INCR")
	assert.Equal(t, byte(32), writes[0].format)
	require.Len(t, writes[0].data, 4)
	assert.Equal(t, uint32(len(payload)), xgb.Get32(writes[0].data), "the declaration should carry the total size")

	var watched []xproto.Window
	r.do(func() { watched = append([]xproto.Window(nil), r.x.watched...) })
	assert.Equal(t, []xproto.Window{testRequestor}, watched, "the requestor should be watched for delete acks")

	del := xproto.PropertyNotifyEvent{
		Window: testRequestor,
		Atom:   testProp,
		State:  xproto.PropertyDelete,
		Time:   1500,
	}
	for i := 0; i < 4; i++ {
		r.do(func() { r.b.PropertyNotify(del) })
	}

	writes = r.writesTo(testRequestor)
	require.Len(t, writes, 5, "four chunks should follow the declaration")
	var got []byte
	for _, w := range writes[1:] {
		assert.Equal(t, r.atoms.Utf8String, w.typ)
		assert.Equal(t, byte(8), w.format)
		assert.Len(t, w.data, chunk, "each chunk should fill the configured size")
		got = append(got, w.data...)
	}
	assert.Equal(t, payload, got, "reassembled chunks should match the payload")

	r.do(func() { r.b.PropertyNotify(del) })
	writes = r.writesTo(testRequestor)
	require.Len(t, writes, 6, "a final delete should produce the terminator")
	assert.Equal(t, r.atoms.Utf8String, writes[5].typ)
	assert.Empty(t, writes[5].data, "the terminator must be zero length")

	var unwatched []xproto.Window
	r.do(func() { unwatched = append([]xproto.Window(nil), r.x.unwatched...) })
	assert.Equal(t, []xproto.Window{testRequestor}, unwatched, "the watch should be dropped after the transfer")
}

func TestTimestampRequestServesClaimTime(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	r.do(func() {
		r.b.SelectionOwnerChanged(xfixes.SelectionNotifyEvent{
			Selection: r.atoms.Clipboard,
			Owner:     xproto.WindowNone,
			Timestamp: 1234,
		})
	})
	offer := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(offer) })
	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Timestamp)) })

	writes := r.writesTo(testRequestor)
	require.Len(t, writes, 1)
	assert.Equal(t, xproto.Atom(xproto.AtomInteger), writes[0].typ)
	require.Len(t, writes[0].data, 4)
	assert.Equal(t, uint32(1234), xgb.Get32(writes[0].data), "TIMESTAMP should report the claim time")
}

func TestUnsupportedTargetsAreRefused(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	offer := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(offer) })
	r.do(func() { r.b.SelectionRequest(selReq(r, 0x999)) })
	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Multiple)) })

	notifies := r.notifiesTo(testRequestor)
	require.Len(t, notifies, 2)
	assert.Equal(t, xproto.Atom(xproto.AtomNone), notifies[0].property, "an unoffered target should be refused")
	assert.Equal(t, xproto.Atom(xproto.AtomNone), notifies[1].property, "MULTIPLE should be refused")
	assert.Empty(t, r.writesTo(testRequestor), "refusals must not write properties")
}

func TestRequestWithoutOfferIsRefused(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Utf8String)) })

	notifies := r.notifiesTo(testRequestor)
	require.Len(t, notifies, 1)
	assert.Equal(t, xproto.Atom(xproto.AtomNone), notifies[0].property)
}

func TestObsoleteRequestorFallsBackToTargetProperty(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	offer := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(offer) })

	req := selReq(r, r.atoms.Targets)
	req.Property = xproto.AtomNone
	r.do(func() { r.b.SelectionRequest(req) })

	writes := r.writesTo(testRequestor)
	require.Len(t, writes, 1)
	assert.Equal(t, r.atoms.Targets, writes[0].prop, "with no property the target atom doubles as one")
	notifies := r.notifiesTo(testRequestor)
	require.Len(t, notifies, 1)
	assert.Equal(t, r.atoms.Targets, notifies[0].property)
}

// adoptOwner replies to the pending TARGETS conversion and returns the
// host source created for the X owner.
func adoptOwner(r *rig, targets ...xproto.Atom) *fakeSource {
	r.t.Helper()
	r.do(func() {
		r.x.props[propKey{win: r.x.helper, prop: r.atoms.Property}] = fakeProp{
			typ: xproto.AtomAtom, format: 32, value: atomsBytes(targets...),
		}
		r.b.SelectionNotify(xproto.SelectionNotifyEvent{
			Requestor: r.x.helper,
			Selection: r.atoms.Clipboard,
			Target:    r.atoms.Targets,
			Property:  r.atoms.Property,
			Time:      2000,
		})
	})
	var src *fakeSource
	r.do(func() {
		if n := len(r.host.sources); n > 0 {
			src = r.host.sources[n-1]
		}
	})
	require.NotNil(r.t, src, "adopting an X owner should create a host source")
	return src
}

func TestXOwnerClaimsHostClipboard(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.x.knownAtom("image/png", atomPNG)
	r.start()

	converts := r.converts()
	require.Len(t, converts, 1, "a preexisting X owner should be probed for targets")
	assert.Equal(t, r.atoms.Targets, converts[0].target)
	assert.Equal(t, r.atoms.Property, converts[0].prop)

	src := adoptOwner(r, r.atoms.Utf8String, xproto.AtomString, r.atoms.Targets, atomPNG)

	var offers []string
	var selections []Source
	r.do(func() {
		offers = append([]string(nil), src.offers...)
		selections = append([]Source(nil), r.host.selections...)
	})
	assert.Equal(t, []string{mimeTextUTF8, mimeText, "image/png"}, offers,
		"text targets should map to text mimes and mime-named atoms pass through")
	require.Len(t, selections, 1)
	require.Same(t, Source(src), selections[0], "the new source should hold the host clipboard")
}

func TestPasteFromXOwnerIsDelivered(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.start()
	src := adoptOwner(r, r.atoms.Utf8String)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	readEnd := os.NewFile(uintptr(p[0]), "host-read")
	defer readEnd.Close()

	src.send(mimeTextUTF8, p[1])
	require.Eventually(t, func() bool {
		return len(r.converts()) == 2
	}, 2*time.Second, 5*time.Millisecond, "the paste should trigger a conversion")
	assert.Equal(t, r.atoms.Utf8String, r.converts()[1].target)

	payload := []byte("typed in the guest")
	r.do(func() {
		r.x.props[propKey{win: r.x.helper, prop: r.atoms.Property}] = fakeProp{
			typ: r.atoms.Utf8String, format: 8, value: payload,
		}
		r.b.SelectionNotify(xproto.SelectionNotifyEvent{
			Requestor: r.x.helper,
			Selection: r.atoms.Clipboard,
			Target:    r.atoms.Utf8String,
			Property:  r.atoms.Property,
			Time:      2100,
		})
	})

	assert.Equal(t, payload, readAllWithin(t, readEnd), "the host should receive the owner's bytes")
}

func TestIncrPasteFromXOwnerIsReassembled(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.start()
	src := adoptOwner(r, r.atoms.Utf8String)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	readEnd := os.NewFile(uintptr(p[0]), "host-read")
	defer readEnd.Close()

	src.send(mimeTextUTF8, p[1])
	require.Eventually(t, func() bool {
		return len(r.converts()) == 2
	}, 2*time.Second, 5*time.Millisecond, "the paste should trigger a conversion")

	chunkA := []byte("first half of a long payload | ")
	chunkB := []byte("second half of a long payload")
	key := propKey{win: r.x.helper, prop: r.atoms.Property}

	r.do(func() {
		r.x.props[key] = fakeProp{typ: r.atoms.Incr, format: 32, value: u32Bytes(uint32(len(chunkA) + len(chunkB)))}
		r.b.SelectionNotify(xproto.SelectionNotifyEvent{
			Requestor: r.x.helper,
			Selection: r.atoms.Clipboard,
			Target:    r.atoms.Utf8String,
			Property:  r.atoms.Property,
			Time:      2200,
		})
	})

	newValue := xproto.PropertyNotifyEvent{
		Window: r.x.helper,
		Atom:   r.atoms.Property,
		State:  xproto.PropertyNewValue,
		Time:   2300,
	}
	for _, chunk := range [][]byte{chunkA, chunkB, nil} {
		chunk := chunk
		r.do(func() {
			r.x.props[key] = fakeProp{typ: r.atoms.Utf8String, format: 8, value: chunk}
			r.b.PropertyNotify(newValue)
		})
	}

	expected := append(append([]byte(nil), chunkA...), chunkB...)
	assert.Equal(t, expected, readAllWithin(t, readEnd), "INCR chunks should be concatenated in order")
}

func TestPastesAreServedOneAtATime(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.x.knownAtom("image/png", atomPNG)
	r.start()
	src := adoptOwner(r, r.atoms.Utf8String, atomPNG)

	var text, img [2]int
	require.NoError(t, unix.Pipe2(text[:], unix.O_CLOEXEC))
	require.NoError(t, unix.Pipe2(img[:], unix.O_CLOEXEC))
	textRead := os.NewFile(uintptr(text[0]), "text-read")
	imgRead := os.NewFile(uintptr(img[0]), "img-read")
	defer textRead.Close()
	defer imgRead.Close()

	src.send(mimeTextUTF8, text[1])
	src.send("image/png", img[1])

	var queued int
	require.Eventually(t, func() bool {
		r.do(func() { queued = len(r.b.convQ) })
		return queued == 1
	}, 2*time.Second, 5*time.Millisecond, "the second paste should wait in the queue")
	require.Len(t, r.converts(), 2, "only one conversion may be in flight")

	textPayload := []byte("text body")
	r.do(func() {
		r.x.props[propKey{win: r.x.helper, prop: r.atoms.Property}] = fakeProp{
			typ: r.atoms.Utf8String, format: 8, value: textPayload,
		}
		r.b.SelectionNotify(xproto.SelectionNotifyEvent{
			Requestor: r.x.helper,
			Selection: r.atoms.Clipboard,
			Target:    r.atoms.Utf8String,
			Property:  r.atoms.Property,
			Time:      2400,
		})
	})

	converts := r.converts()
	require.Len(t, converts, 3, "finishing one conversion should start the next")
	assert.Equal(t, atomPNG, converts[2].target, "queued pastes should run in order")
	assert.Equal(t, textPayload, readAllWithin(t, textRead))

	imgPayload := []byte{0x89, 'P', 'N', 'G'}
	r.do(func() {
		r.x.props[propKey{win: r.x.helper, prop: r.atoms.Property}] = fakeProp{
			typ: atomPNG, format: 8, value: imgPayload,
		}
		r.b.SelectionNotify(xproto.SelectionNotifyEvent{
			Requestor: r.x.helper,
			Selection: r.atoms.Clipboard,
			Target:    atomPNG,
			Property:  r.atoms.Property,
			Time:      2500,
		})
	})
	assert.Equal(t, imgPayload, readAllWithin(t, imgRead))
}

func TestRefusedConversionDeliversEmptyPaste(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.start()
	src := adoptOwner(r, r.atoms.Utf8String)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	readEnd := os.NewFile(uintptr(p[0]), "host-read")
	defer readEnd.Close()

	src.send(mimeTextUTF8, p[1])
	require.Eventually(t, func() bool {
		return len(r.converts()) == 2
	}, 2*time.Second, 5*time.Millisecond, "the paste should trigger a conversion")

	r.do(func() {
		r.b.SelectionNotify(xproto.SelectionNotifyEvent{
			Requestor: r.x.helper,
			Selection: r.atoms.Clipboard,
			Target:    r.atoms.Utf8String,
			Property:  xproto.AtomNone,
			Time:      2600,
		})
	})

	assert.Empty(t, readAllWithin(t, readEnd), "a refused conversion should close the pipe without bytes")
}

func TestOwnEchoOfferIsIgnored(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.start()
	adoptOwner(r, r.atoms.Utf8String)

	echo := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(echo) })

	var destroyed, intact bool
	var claims int
	r.do(func() {
		destroyed = echo.destroyed
		claims = len(r.x.claims)
		intact = r.b.source != nil
	})
	assert.True(t, destroyed, "the echoed offer should be destroyed")
	assert.Zero(t, claims, "an echo must not claim the X clipboard")
	assert.True(t, intact, "the host claim should survive its own echo")
}

func TestClearedXOwnerReleasesHostClaim(t *testing.T) {
	r := newRig(t, 0)
	r.x.owner = 0x400001
	r.start()
	src := adoptOwner(r, r.atoms.Utf8String)

	r.do(func() {
		r.b.SelectionOwnerChanged(xfixes.SelectionNotifyEvent{
			Selection: r.atoms.Clipboard,
			Owner:     xproto.WindowNone,
			Timestamp: 3000,
		})
	})

	var selections []Source
	var destroyed bool
	r.do(func() {
		selections = append([]Source(nil), r.host.selections...)
		destroyed = src.destroyed
	})
	require.Len(t, selections, 2)
	assert.Nil(t, selections[1], "clearing the X selection should release the host claim")
	assert.True(t, destroyed, "the stale source should be destroyed")
}

func TestOwnershipChangeAbortsPendingServe(t *testing.T) {
	r := newRig(t, 0)
	r.start()

	first := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(first) })
	r.do(func() { r.b.SelectionRequest(selReq(r, r.atoms.Utf8String)) })

	second := &fakeOffer{mimes: []string{mimeTextUTF8}}
	r.do(func() { r.b.HostSelection(second) })

	var firstDestroyed bool
	r.do(func() { firstDestroyed = first.destroyed })
	assert.True(t, firstDestroyed, "the replaced offer should be destroyed")

	// The old transfer's payload arrives only now; it must be refused
	// rather than served as current clipboard content.
	feedOffer(t, r, first, []byte("stale bytes"))

	require.Eventually(t, func() bool {
		return len(r.notifiesTo(testRequestor)) == 1
	}, 2*time.Second, 5*time.Millisecond, "the stale transfer should be resolved")
	notifies := r.notifiesTo(testRequestor)
	assert.Equal(t, xproto.Atom(xproto.AtomNone), notifies[0].property, "stale data must be refused")
	assert.Empty(t, r.writesTo(testRequestor), "stale data must not be written")
}
