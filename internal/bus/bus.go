// Package bus implements the bit-banged serial bus between the controller
// and the e-paper panel: clock, data, chip-select and data/command lines plus
// a reset output and a busy input, all driven through periph.io GPIO.
//
// There is no hardware SPI peripheral involved; every byte is shifted out
// MSB-first with one clock pulse per bit. The panel samples the data line on
// the rising clock edge.
package bus

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"epdframe/internal/config"
)

// Bus owns all six panel lines. It is not safe for concurrent use; the
// single update sequence is the only writer by construction.
type Bus struct {
	clk  gpio.PinOut
	data gpio.PinOut
	cs   gpio.PinOut
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn
}

// New wires a Bus from already-configured pins. Output pins must be in
// output mode, busy in input mode. Used directly by tests; production code
// goes through Open.
func New(clk, data, cs, dc, rst gpio.PinOut, busy gpio.PinIn) *Bus {
	return &Bus{clk: clk, data: data, cs: cs, dc: dc, rst: rst, busy: busy}
}

// Open initializes the periph.io host and resolves the configured BCM pin
// numbers. Outputs start at their idle levels: clock low, chip-select high,
// reset high.
func Open(pins config.PinConfig) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("bus: periph host init failed: %w", err)
	}

	out := func(num int, initial gpio.Level) (gpio.PinOut, error) {
		name := fmt.Sprintf("GPIO%d", num)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("bus: gpio %s not found", name)
		}
		if err := p.Out(initial); err != nil {
			return nil, fmt.Errorf("bus: gpio %s Out failed: %w", name, err)
		}
		return p, nil
	}

	clk, err := out(pins.Clock, gpio.Low)
	if err != nil {
		return nil, err
	}
	data, err := out(pins.Data, gpio.Low)
	if err != nil {
		return nil, err
	}
	cs, err := out(pins.CS, gpio.High)
	if err != nil {
		return nil, err
	}
	dc, err := out(pins.DC, gpio.Low)
	if err != nil {
		return nil, err
	}
	rst, err := out(pins.Reset, gpio.High)
	if err != nil {
		return nil, err
	}

	busyName := fmt.Sprintf("GPIO%d", pins.Busy)
	busy := gpioreg.ByName(busyName)
	if busy == nil {
		return nil, fmt.Errorf("bus: gpio %s not found", busyName)
	}
	if err := busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("bus: gpio %s In failed: %w", busyName, err)
	}

	return New(clk, data, cs, dc, rst, busy), nil
}

// SelectCommandMode drives the data/command line low so the next transferred
// byte is interpreted as a command.
func (b *Bus) SelectCommandMode() {
	digitalWrite(b.dc, false)
}

// SelectDataMode drives the data/command line high so subsequent bytes are
// interpreted as data.
func (b *Bus) SelectDataMode() {
	digitalWrite(b.dc, true)
}

// TransferByte shifts one byte onto the bus, MSB first. Chip-select is held
// low for the whole byte. Pin errors are swallowed: the bus has no
// acknowledgment path, so there is nothing useful to report.
func (b *Bus) TransferByte(v byte) {
	digitalWrite(b.cs, false)
	for bit := 0; bit < 8; bit++ {
		digitalWrite(b.data, v&0x80 != 0)
		digitalWrite(b.clk, true)
		digitalWrite(b.clk, false)
		v <<= 1
	}
	digitalWrite(b.cs, true)
}

// Reset drives the reset line high, low, high with fixed settle delays,
// forcing the panel into its post-reset state.
func (b *Bus) Reset() {
	digitalWrite(b.rst, true)
	time.Sleep(50 * time.Millisecond)
	digitalWrite(b.rst, false)
	time.Sleep(5 * time.Millisecond)
	digitalWrite(b.rst, true)
	time.Sleep(50 * time.Millisecond)
}

// Busy reports whether the panel currently signals busy. The line is
// active-low: low means the controller is still working. Callers must treat
// this as advisory only.
func (b *Bus) Busy() bool {
	return b.busy.Read() == gpio.Low
}

func digitalWrite(pin gpio.PinOut, value bool) {
	if value {
		_ = pin.Out(gpio.High)
	} else {
		_ = pin.Out(gpio.Low)
	}
}
