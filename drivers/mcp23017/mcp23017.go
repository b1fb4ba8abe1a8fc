// Package mcp23017 drives the Microchip MCP23017 16-bit I/O expander over
// the twi engine.
//
// Single-pin updates (PinMode, DigitalWrite, PullUp) are issued as one
// read-modify-write transaction so concurrent callers never lose each other's
// bits. With interrupts enabled, HandleInterrupt is meant to be called from
// the INT pin handler: it queues a two-byte GPIOA/GPIOB read at high priority
// and the result is delivered to the OnGPIO callback.
//
//	d := mcp23017.New(engine)
//	_ = d.Configure(mcp23017.Config{Interrupts: true})
//	_ = d.PinMode(8, mcp23017.Output)
//	_ = d.DigitalWrite(8, true)
package mcp23017

import (
	"context"
	"time"

	"twiengine/errcode"
	"twiengine/twi"
	"twiengine/x/mathx"

	"tinygo.org/x/drivers"
)

// Bus is what the driver needs from the bus engine: plain transfers for
// whole-register access, atomic masked writes and the transaction queue.
type Bus interface {
	drivers.I2C
	WriteMasked(ctx context.Context, addr, reg, data, mask uint8) error
	EnqueueRead(r *twi.ReadRequest, prio int) error
}

// Mode is a pin direction.
type Mode uint8

const (
	Input Mode = iota
	Output
	InputPullup
)

// Config controls device setup. All fields are optional.
type Config struct {
	// Address defaults to BaseAddress if zero.
	Address uint16
	// Interrupts enables interrupt-on-change for all 16 pins and selects
	// byte mode (IOCON.SEQOP) so repeated reads alternate GPIOA/GPIOB.
	Interrupts bool
	// Mirror ties INTA and INTB into one line.
	Mirror bool
	// ActiveHigh drives INT high on interrupt (default active-low).
	ActiveHigh bool
	// OpenDrain configures INT as open-drain (overrides ActiveHigh).
	OpenDrain bool
	// IRQPriority is the queue level of interrupt reads. Default 0.
	IRQPriority int
	// Timeout bounds each blocking masked write. Default 250 ms.
	Timeout time.Duration
}

// Device is one MCP23017 on the bus.
type Device struct {
	bus     Bus
	Address uint16

	cfg    Config
	irq    twi.ReadRequest
	irqBuf [2]byte
	onGPIO func(ab uint16, err error)
}

// New creates a Device. It does not touch the hardware.
func New(bus Bus) *Device {
	return &Device{bus: bus, Address: BaseAddress}
}

// Configure applies cfg and runs the setup sequence: every pin an input, then,
// with interrupts, IOCON, interrupt-on-change against the previous value and
// GPINTEN for both ports.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 250 * time.Millisecond
	}
	if cfg.IRQPriority < 0 || cfg.IRQPriority >= twi.QueueLevels {
		return errcode.InvalidPriority
	}
	d.cfg = cfg
	d.irq = twi.ReadRequest{
		Addr: uint8(d.Address),
		Reg:  GPIOA,
		Dst:  d.irqBuf[:],
		Done: d.irqDone,
	}

	if err := d.bus.Tx(d.Address, []byte{IODIRA, 0xFF, 0xFF}, nil); err != nil {
		return err
	}
	if !cfg.Interrupts {
		return nil
	}
	iocon := byte(ioconSEQOP)
	if cfg.Mirror {
		iocon |= ioconMIRROR
	}
	if cfg.OpenDrain {
		iocon |= ioconODR
	} else if cfg.ActiveHigh {
		iocon |= ioconINTPOL
	}
	for _, w := range [][]byte{
		{IOCON, iocon},
		{INTCONA, 0x00, 0x00},
		{GPINTENA, 0xFF, 0xFF},
	} {
		if err := d.bus.Tx(d.Address, w, nil); err != nil {
			return err
		}
	}
	return nil
}

func checkPin(pin uint8) error {
	if pin >= Pins {
		return errcode.InvalidPin
	}
	return nil
}

// masked performs one read-modify-write of the bank register for pin.
func (d *Device) masked(regA, pin uint8, on bool) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	off, n := bank(pin)
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()
	return d.bus.WriteMasked(ctx, uint8(d.Address), regA+off,
		mathx.SetBit(uint8(0), n, on), mathx.Bit[uint8](n))
}

func (d *Device) timeout() time.Duration {
	if d.cfg.Timeout > 0 {
		return d.cfg.Timeout
	}
	return 250 * time.Millisecond
}

// PinMode sets the direction of pin; InputPullup also enables its pull-up.
func (d *Device) PinMode(pin uint8, m Mode) error {
	if err := d.masked(IODIRA, pin, m != Output); err != nil {
		return err
	}
	if m == InputPullup {
		return d.PullUp(pin, true)
	}
	return nil
}

// DigitalWrite sets the output latch of pin.
func (d *Device) DigitalWrite(pin uint8, high bool) error {
	return d.masked(OLATA, pin, high)
}

// PullUp enables or disables the 100k pull-up of pin.
func (d *Device) PullUp(pin uint8, on bool) error {
	return d.masked(GPPUA, pin, on)
}

// DigitalRead returns the level of pin.
func (d *Device) DigitalRead(pin uint8) (bool, error) {
	if err := checkPin(pin); err != nil {
		return false, err
	}
	off, n := bank(pin)
	var v [1]byte
	if err := d.bus.Tx(d.Address, []byte{GPIOA + off}, v[:]); err != nil {
		return false, err
	}
	return mathx.HasBit(v[0], n), nil
}

// ReadGPIOAB returns both ports, A in the low byte.
func (d *Device) ReadGPIOAB() (uint16, error) {
	var v [2]byte
	if err := d.bus.Tx(d.Address, []byte{GPIOA}, v[:]); err != nil {
		return 0, err
	}
	return uint16(v[1])<<8 | uint16(v[0]), nil
}

// WriteGPIOAB writes both output latches, A from the low byte.
func (d *Device) WriteGPIOAB(ab uint16) error {
	return d.bus.Tx(d.Address, []byte{GPIOA, byte(ab), byte(ab >> 8)}, nil)
}

// OnGPIO installs the callback for interrupt-driven reads. It runs on the
// engine event loop and must not block or call blocking bus operations.
func (d *Device) OnGPIO(fn func(ab uint16, err error)) { d.onGPIO = fn }

// HandleInterrupt queues a read of both GPIO ports. A read already pending in
// the slot covers this change too, so an occupied slot is not an error.
func (d *Device) HandleInterrupt() error {
	if d.irq.Dst == nil {
		return errcode.Wrap("mcp23017", errcode.InvalidParams)
	}
	err := d.bus.EnqueueRead(&d.irq, d.cfg.IRQPriority)
	if errcode.Of(err) == errcode.SlotOccupied {
		return nil
	}
	return err
}

func (d *Device) irqDone(res twi.Result) {
	fn := d.onGPIO
	if fn == nil {
		return
	}
	if res.Err != nil || res.N < 2 {
		if res.Err == nil {
			res.Err = errcode.BusError
		}
		fn(0, res.Err)
		return
	}
	fn(uint16(d.irqBuf[1])<<8|uint16(d.irqBuf[0]), nil)
}
