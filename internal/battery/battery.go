// Package battery reads the charge state of the device battery so each wake
// can log it. The reading is ephemeral diagnostics only; nothing is stored.
package battery

import (
	"context"
	"errors"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Status is one battery reading.
type Status struct {
	// Percent is the battery level in 0-100%.
	Percent int
	// VoltageMv is the battery voltage in millivolts, 0 when unknown.
	VoltageMv int
}

// Reader abstracts how battery information is obtained, so development
// machines without the I2C controller still run.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// i2cReader talks to a PiSugar-class battery controller over I2C:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0-100)
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader constructs an I2C-backed Reader. busName "" selects the
// default bus (/dev/i2c-1 on a Raspberry Pi). The connection is opened per
// read; the device sleeps most of the time, so keeping the bus open buys
// nothing.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Status{}, err
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(0x22)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(0x23)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(0x2A)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// noneReader reports no battery. Used where the controller is absent.
type noneReader struct{}

func (noneReader) Read(context.Context) (Status, error) {
	return Status{}, errors.New("battery: no reader available")
}

// DefaultReader probes the I2C controller once and falls back to a no-op
// reader when it is unreachable, so callers can log best-effort.
func DefaultReader() Reader {
	if runtime.GOOS != "linux" {
		return noneReader{}
	}
	const defaultAddr = 0x57
	r := NewI2CReader("", defaultAddr)
	if _, err := r.Read(context.Background()); err != nil {
		return noneReader{}
	}
	return r
}
