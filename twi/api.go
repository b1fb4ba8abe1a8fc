package twi

import (
	"context"

	"twiengine/errcode"
)

func checkAddr(addr uint8) error {
	if addr > 0x7F {
		return errcode.InvalidAddress
	}
	return nil
}

// checkLength rejects transfers that cannot fit the shared buffer, and empty
// transfers, before any bus activity.
func checkLength(n int) error {
	if n > BufferLength {
		return errcode.BufferOverflow
	}
	if n == 0 {
		return errcode.InvalidLength
	}
	return nil
}

func checkRequest(addr uint8, n int) error {
	if err := checkLength(n); err != nil {
		return err
	}
	return checkAddr(addr)
}

// Write sends data to the 7-bit address addr. It waits for the bus to become
// Ready, claims it and starts the transfer. With wait set it returns the
// outcome (nil, AddressNack, DataNack, ArbitrationLost or BusError); without
// it a nil return only means the transfer was accepted.
func (e *Engine) Write(ctx context.Context, addr uint8, data []byte, wait bool) error {
	if err := checkRequest(addr, len(data)); err != nil {
		return err
	}
	if err := e.lockReady(ctx); err != nil {
		return err
	}
	t := e.claim(MasterTransmit, addr, nil)
	e.buf.Load(data)
	e.ctrl.Start()
	e.mu.Unlock()

	if !wait {
		return nil
	}
	res, err := t.wait(ctx)
	if err != nil {
		return err
	}
	return res.Err
}

// ReadInto reads len(dst) bytes from addr, blocking until the transfer ends.
// It returns the number of bytes actually received, which is short when the
// transfer terminated early, together with the recorded bus error.
func (e *Engine) ReadInto(ctx context.Context, addr uint8, dst []byte) (int, error) {
	if err := checkRequest(addr, len(dst)); err != nil {
		return 0, err
	}
	if err := e.lockReady(ctx); err != nil {
		return 0, err
	}
	t := e.startRead(addr, dst, nil)
	e.mu.Unlock()
	return waitResult(ctx, t)
}

// TryReadInto starts a read of len(dst) bytes if the bus is Ready and returns
// errcode.Busy otherwise. dst is filled when the transfer completes; callers
// observe completion by polling State or LastError.
func (e *Engine) TryReadInto(addr uint8, dst []byte) error {
	if err := checkRequest(addr, len(dst)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return errcode.Busy
	}
	e.startRead(addr, dst, nil)
	return nil
}

// TryReadRegister starts the unitary register-address-then-read sequence if
// the bus is Ready and returns errcode.Busy otherwise.
func (e *Engine) TryReadRegister(addr, reg uint8, dst []byte) error {
	if err := checkRequest(addr, len(dst)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return errcode.Busy
	}
	e.startReadRegister(addr, reg, dst, nil)
	return nil
}

// ReadRegister is the blocking form of TryReadRegister.
func (e *Engine) ReadRegister(ctx context.Context, addr, reg uint8, dst []byte) (int, error) {
	if err := checkRequest(addr, len(dst)); err != nil {
		return 0, err
	}
	if err := e.lockReady(ctx); err != nil {
		return 0, err
	}
	t := e.startReadRegister(addr, reg, dst, nil)
	e.mu.Unlock()
	return waitResult(ctx, t)
}

// TryReadModifyWrite claims the bus for an atomic masked update of one
// register: the register is read, merged as (old &^ mask) | (data & mask),
// and written back without the bus leaving this transaction's ownership.
// It returns errcode.Busy if the bus is not Ready.
func (e *Engine) TryReadModifyWrite(addr, reg, data, mask uint8) error {
	if err := checkAddr(addr); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return errcode.Busy
	}
	e.startReadModifyWrite(addr, reg, data, mask, nil)
	return nil
}

// WriteMasked is the blocking form of TryReadModifyWrite: it waits for the bus,
// performs the update and returns its outcome.
func (e *Engine) WriteMasked(ctx context.Context, addr, reg, data, mask uint8) error {
	if err := checkAddr(addr); err != nil {
		return err
	}
	if err := e.lockReady(ctx); err != nil {
		return err
	}
	t := e.startReadModifyWrite(addr, reg, data, mask, nil)
	e.mu.Unlock()
	_, err := waitResult(ctx, t)
	return err
}

func waitResult(ctx context.Context, t *txn) (int, error) {
	res, err := t.wait(ctx)
	if err != nil {
		return 0, err
	}
	return res.N, res.Err
}

// caller holds lock; bus is Ready
func (e *Engine) startRead(addr uint8, dst []byte, notify func(Result)) *txn {
	t := e.claim(MasterReceive, addr, notify)
	t.dst = dst
	e.slarw |= dirRead
	e.buf.Reset(len(dst))
	e.ctrl.Start()
	return t
}

// caller holds lock; bus is Ready
func (e *Engine) startReadRegister(addr, reg uint8, dst []byte, notify func(Result)) *txn {
	t := e.claim(MasterTransmitThenReceive, addr, notify)
	t.dst = dst
	e.reg = reg
	e.buf.Reset(len(dst))
	e.ctrl.Start()
	return t
}

// caller holds lock; bus is Ready
func (e *Engine) startReadModifyWrite(addr, reg, data, mask uint8, notify func(Result)) *txn {
	t := e.claim(MasterReadModifyWrite, addr, notify)
	e.reg = reg
	e.data = data
	e.mask = mask
	e.buf.Reset(1)
	e.ctrl.Start()
	return t
}
