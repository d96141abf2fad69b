package panel

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// busEvent is one recorded transport action: a command byte, a data byte or a
// reset.
type busEvent struct {
	kind string // "cmd", "data", "reset"
	b    byte
}

// fakeTransport records the byte traffic a Driver produces.
type fakeTransport struct {
	events  []busEvent
	dataSel bool
	busy    bool
}

func (f *fakeTransport) SelectCommandMode() { f.dataSel = false }
func (f *fakeTransport) SelectDataMode()    { f.dataSel = true }

func (f *fakeTransport) TransferByte(b byte) {
	kind := "cmd"
	if f.dataSel {
		kind = "data"
	}
	f.events = append(f.events, busEvent{kind: kind, b: b})
}

func (f *fakeTransport) Reset()     { f.events = append(f.events, busEvent{kind: "reset"}) }
func (f *fakeTransport) Busy() bool { return f.busy }

// commands extracts the command bytes in emission order.
func (f *fakeTransport) commands() []byte {
	var out []byte
	for _, e := range f.events {
		if e.kind == "cmd" {
			out = append(out, e.b)
		}
	}
	return out
}

// paramsAfter returns the data bytes that directly follow the first emission
// of cmd.
func (f *fakeTransport) paramsAfter(cmd byte) []byte {
	var out []byte
	collecting := false
	for _, e := range f.events {
		switch {
		case e.kind == "cmd" && e.b == cmd:
			collecting = true
		case e.kind == "cmd" || e.kind == "reset":
			if collecting {
				return out
			}
		case collecting:
			out = append(out, e.b)
		}
	}
	return out
}

func TestInitializeSequence(t *testing.T) {
	tr := &fakeTransport{}
	d := New(tr, clockwork.NewFakeClock())

	d.Initialize()

	require.NotEmpty(t, tr.events)
	assert.Equal(t, "reset", tr.events[0].kind, "init must start with a hardware reset")

	want := []byte{0x01, 0x00, 0x06, 0x04, 0x30, 0x41, 0x50, 0x60, 0x61, 0x82, 0xE5, 0x10}
	assert.Equal(t, want, tr.commands())

	assert.Equal(t, []byte{0x37, 0x00}, tr.paramsAfter(0x01))
	assert.Equal(t, []byte{0xCF, 0x08}, tr.paramsAfter(0x00))
	assert.Equal(t, []byte{0xC7, 0xCC, 0x28}, tr.paramsAfter(0x06))
	assert.Equal(t, []byte{0x02, 0x80, 0x01, 0x80}, tr.paramsAfter(0x61), "resolution must encode 640x384")
	assert.Equal(t, []byte{0x77}, tr.paramsAfter(0x50))
	assert.Equal(t, []byte{0x1E}, tr.paramsAfter(0x82))
	assert.Equal(t, []byte{0x03}, tr.paramsAfter(0xE5))
}

func TestPrepareChannel(t *testing.T) {
	tr := &fakeTransport{}
	d := New(tr, clockwork.NewFakeClock())

	d.PrepareChannel(ChannelBlackWhite)
	d.PrepareChannel(ChannelRed)

	assert.Equal(t, []byte{0x10, 0x13}, tr.commands())
}

func TestWriteDataByte(t *testing.T) {
	tr := &fakeTransport{}
	d := New(tr, clockwork.NewFakeClock())

	d.WriteDataByte(0x33)

	require.Len(t, tr.events, 1)
	assert.Equal(t, busEvent{kind: "data", b: 0x33}, tr.events[0])
}

func TestRefreshAlwaysObservesSettleDelay(t *testing.T) {
	tr := &fakeTransport{} // busy never asserted
	fc := clockwork.NewFakeClock()
	d := New(tr, fc)

	done := make(chan struct{})
	go func() {
		d.Refresh()
		close(done)
	}()

	// Busy deasserts immediately; the driver must still sit out the full
	// settle delay before returning.
	fc.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("Refresh returned before the settle delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	fc.Advance(4 * time.Second)
	<-done

	assert.Equal(t, []byte{0x12}, tr.commands())
}

func TestRefreshCapsBusyWait(t *testing.T) {
	tr := &fakeTransport{busy: true}
	fc := clockwork.NewFakeClock()
	d := New(tr, fc)

	done := make(chan struct{})
	go func() {
		d.Refresh()
		close(done)
	}()

	// First sleeper is the busy poll; push past the cap so waitIdle gives
	// up, then past the settle delay.
	fc.BlockUntil(1)
	fc.Advance(11 * time.Second)
	fc.BlockUntil(1)
	fc.Advance(4 * time.Second)
	<-done

	assert.Equal(t, []byte{0x12}, tr.commands())
}

func TestSleepSequence(t *testing.T) {
	tr := &fakeTransport{}
	d := New(tr, clockwork.NewFakeClock())

	d.Sleep()

	assert.Equal(t, []byte{0x02, 0x07}, tr.commands())
	assert.Equal(t, []byte{0xA5}, tr.paramsAfter(0x07), "deep sleep requires the check code")
}

func TestChannelProperties(t *testing.T) {
	assert.Equal(t, byte(0x10), ChannelBlackWhite.PrepareCommand())
	assert.Equal(t, byte(0x13), ChannelRed.PrepareCommand())
	assert.Equal(t, byte(0x33), ChannelBlackWhite.PadByte())
	assert.Equal(t, byte(0xFF), ChannelRed.PadByte())
	assert.Equal(t, "bw", ChannelBlackWhite.String())
	assert.Equal(t, "red", ChannelRed.String())
	assert.Equal(t, 122880, TotalBytes)
}
