// Package panel drives the 640x384 tri-color e-paper module. It owns the
// full register init sequence, per-channel prepare commands and the refresh
// protocol; all byte traffic goes through a Transport so the driver can be
// exercised without hardware.
package panel

import (
	"time"

	"github.com/jonboulle/clockwork"

	"epdframe/internal/log"
)

// Panel command bytes. These must match the controller exactly; there is no
// acknowledgment on the bus to catch a wrong value.
const (
	cmdPowerSetting     = 0x01
	cmdPanelSetting     = 0x00
	cmdBoosterSoftStart = 0x06
	cmdPowerOn          = 0x04
	cmdPowerOff         = 0x02
	cmdDeepSleep        = 0x07
	cmdPLLControl       = 0x30
	cmdTemperatureCal   = 0x41
	cmdVCOMDataInterval = 0x50
	cmdTCONSetting      = 0x60
	cmdResolution       = 0x61
	cmdVCMDCSetting     = 0x82
	cmdFlashMode        = 0xE5
	cmdDataBlackWhite   = 0x10
	cmdDataRed          = 0x13
	cmdRefresh          = 0x12
)

const (
	// refreshSettle is the fixed post-refresh delay. The busy line is not
	// trustworthy on this module, so the driver always waits this long even
	// when busy deasserts earlier.
	refreshSettle = 3100 * time.Millisecond

	// busyWaitCap bounds the busy poll before the fixed settle delay.
	busyWaitCap = 10 * time.Second

	busyPollInterval = 100 * time.Millisecond

	// powerOnWait bounds the idle wait after the power-on command.
	powerOnWait = 2 * time.Second
)

// Transport is the byte-level bus the driver writes through.
type Transport interface {
	SelectCommandMode()
	SelectDataMode()
	TransferByte(b byte)
	Reset()
	Busy() bool
}

// Driver sequences panel commands over a Transport. None of its operations
// can fail observably: the bus carries no acknowledgment, so a misbehaving
// panel is only ever diagnosed from the physical output.
type Driver struct {
	tr    Transport
	clock clockwork.Clock
}

// New returns a Driver. A nil clock selects the real clock.
func New(tr Transport, clock clockwork.Clock) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Driver{tr: tr, clock: clock}
}

// Initialize resets the panel and walks the full register setup, finishing
// with the black/white prepare command so the panel is ready for channel
// data. It must run before every full-image update; the panel does not
// retain a ready state across power cycles.
func (d *Driver) Initialize() {
	d.tr.Reset()

	d.sendCommand(cmdPowerSetting, 0x37, 0x00)
	d.sendCommand(cmdPanelSetting, 0xCF, 0x08)
	d.sendCommand(cmdBoosterSoftStart, 0xC7, 0xCC, 0x28)

	d.sendCommand(cmdPowerOn)
	d.waitIdle(powerOnWait)

	d.sendCommand(cmdPLLControl, 0x3C)
	d.sendCommand(cmdTemperatureCal, 0x00)
	d.sendCommand(cmdVCOMDataInterval, 0x77)
	d.sendCommand(cmdTCONSetting, 0x22)
	// 0x02 0x80 0x01 0x80 = 640x384
	d.sendCommand(cmdResolution, 0x02, 0x80, 0x01, 0x80)
	d.sendCommand(cmdVCMDCSetting, 0x1E)
	d.sendCommand(cmdFlashMode, 0x03)

	d.sendCommand(cmdDataBlackWhite)
}

// PrepareChannel selects which channel memory subsequent data bytes write
// into.
func (d *Driver) PrepareChannel(ch Channel) {
	d.sendCommand(ch.PrepareCommand())
}

// WriteDataByte forwards one data byte to the panel.
func (d *Driver) WriteDataByte(b byte) {
	d.tr.SelectDataMode()
	d.tr.TransferByte(b)
}

// Refresh renders the loaded channel memories to the physical display. The
// busy poll is capped and only an optimization; the fixed settle delay below
// it is the real completion guarantee.
func (d *Driver) Refresh() {
	d.sendCommand(cmdRefresh)
	d.waitIdle(busyWaitCap)
	d.clock.Sleep(refreshSettle)
	log.Debug("panel refresh complete")
}

// Sleep powers the panel down into deep sleep. Initialize wakes it again.
func (d *Driver) Sleep() {
	d.sendCommand(cmdPowerOff)
	d.waitIdle(busyWaitCap)
	d.sendCommand(cmdDeepSleep, 0xA5)
}

func (d *Driver) sendCommand(cmd byte, params ...byte) {
	d.tr.SelectCommandMode()
	d.tr.TransferByte(cmd)
	for _, p := range params {
		d.tr.SelectDataMode()
		d.tr.TransferByte(p)
	}
}

// waitIdle polls the busy input until it deasserts or the deadline passes.
// The line is unreliable on this module, so timing out is not an error.
func (d *Driver) waitIdle(limit time.Duration) {
	deadline := d.clock.Now().Add(limit)
	for d.tr.Busy() {
		if !d.clock.Now().Before(deadline) {
			log.Debug("busy wait capped", "limit", limit.String())
			return
		}
		d.clock.Sleep(busyPollInterval)
	}
}
