package twi

import (
	"context"
	"errors"

	"twiengine/errcode"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// Ensure compile-time conformance with drivers.I2C
var _ drivers.I2C = (*Engine)(nil)

// Tx adapts the engine to tinygo.org/x/drivers.I2C. Each call is bounded by
// Config.TxTimeout; on timeout the transfer may still complete on the bus.
//
//   - w only: blocking write
//   - r only: blocking read
//   - one-byte w and r: unitary register read (one bus ownership)
//   - longer w with r: Unsupported, since the engine has no single
//     transaction for it; the bus is not touched
func (e *Engine) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return errcode.Wrap("tx", errcode.InvalidAddress)
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.TxTimeout)
	defer cancel()

	a := uint8(addr)
	var err error
	switch {
	case len(w) == 0 && len(r) == 0:
		err = errcode.InvalidLength
	case len(r) == 0:
		err = e.Write(ctx, a, w, true)
	case len(w) == 0:
		_, err = e.ReadInto(ctx, a, r)
	case len(w) == 1:
		_, err = e.ReadRegister(ctx, a, w[0], r)
	default:
		err = errcode.Unsupported
	}
	return txErr(err)
}

func txErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errcode.Wrap("tx", errcode.Timeout)
	}
	return errcode.Wrap("tx", errcode.Of(err))
}

// periphBus adapts the engine to periph.io's i2c.Bus.
type periphBus struct {
	e    *Engine
	name string
}

// Ensure compile-time conformance with periph i2c.Bus
var _ i2c.Bus = (*periphBus)(nil)

// Periph returns a periph.io i2c.Bus view of the engine, so periph device
// drivers (and i2c.Dev) can share the bus with native callers.
func (e *Engine) Periph(name string) i2c.Bus {
	return &periphBus{e: e, name: name}
}

func (b *periphBus) String() string                    { return b.name }
func (b *periphBus) Tx(addr uint16, w, r []byte) error { return b.e.Tx(addr, w, r) }
func (b *periphBus) SetSpeed(f physic.Frequency) error { return b.e.SetSpeed(f) }
