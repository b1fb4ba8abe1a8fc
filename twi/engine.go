// Package twi is an interrupt-driven bus-master engine for a two-wire serial
// bus (I2C/TWI). A Controller performs the physical bus phases and reports
// each completed phase as an Event; the Engine steps a finite-state machine on
// every event, drives the next phase, and on every return to Ready dispatches
// the highest-priority queued transaction.
//
// Foreground callers claim the bus with an atomic Ready->busy transition under
// the engine lock. Blocking calls park until the bus returns to Ready with the
// result of their own transaction; non-blocking calls fail fast with
// errcode.Busy. A transaction cannot be aborted once started: a context passed
// to a blocking call only bounds the caller's wait.
//
// Usage:
//
//	e := twi.New(ctrl, twi.Config{})
//	_ = e.Init()
//	go e.Run(ctx)
//	err := e.Write(ctx, 0x20, []byte{0x00, 0xFF}, true)
package twi

import (
	"context"
	"sync"

	"twiengine/errcode"
	"twiengine/x/mathx"

	"periph.io/x/conn/v3/physic"
)

// Controller is the hardware side of the bus. Every method except Configure,
// Stop and Release completes asynchronously by delivering exactly one Event on
// Events(). Methods are called with the engine lock held and must not block.
type Controller interface {
	// Configure enables the bus unit at the given SCL rate and discards any
	// phase in progress.
	Configure(freq physic.Frequency) error
	// Start sends a start condition, or a repeated start when the bus is
	// still owned.
	Start()
	// Stop sends a stop condition and returns once it has been executed.
	Stop()
	// Release lets go of the bus without a stop condition.
	Release()
	// Transmit sends one byte (address or data).
	Transmit(b byte)
	// Receive clocks in one byte, answering with ACK or NACK.
	Receive(ack bool)
	// Events delivers completed phases in hardware order.
	Events() <-chan Event
}

// Result is the outcome of one transaction: bytes moved and the error record
// observed at its completion.
type Result struct {
	N   int
	Err error
}

// Stats are cumulative engine counters.
type Stats struct {
	Transactions    uint32 // claims
	Completed       uint32
	Dispatched      uint32 // claims made from the queue
	AddressNacks    uint32
	DataNacks       uint32
	ArbitrationLost uint32
	BusErrors       uint32
	Faults          uint32 // transactions ended by any of the four above
}

// txn is one claimed transaction.
type txn struct {
	dst    []byte // receive destination, filled at completion
	res    Result
	done   chan struct{}
	notify func(Result)
}

func (t *txn) wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Engine owns the bus state, the shared buffer and the transaction queue.
type Engine struct {
	ctrl Controller
	cfg  Config

	mu    sync.Mutex
	state State
	fault errcode.Code // error record of the current/last transaction
	buf   Buffer
	slarw byte
	reg   byte
	data  byte // read-modify-write payload
	mask  byte // read-modify-write mask
	cur   *txn
	idle  chan struct{} // closed while Ready
	queue queue
	stats Stats
}

// New returns an engine bound to ctrl. Call Init before first use.
func New(ctrl Controller, cfg Config) *Engine {
	idle := make(chan struct{})
	close(idle)
	return &Engine{
		ctrl: ctrl,
		cfg:  cfg.withDefaults(),
		idle: idle,
	}
}

// Init configures the controller, sets the bus Ready and clears every queue
// slot, regardless of prior state. A transaction still in flight is completed
// with errcode.Reset.
func (e *Engine) Init() error {
	e.mu.Lock()
	err := e.ctrl.Configure(e.cfg.Frequency)
	var fns []func()
	if e.cur != nil {
		e.fault = errcode.Reset
		fns = e.complete()
	}
	if e.state != Ready {
		e.state = Ready
		close(e.idle)
	}
	e.fault = ""
	e.buf.Reset(0)
	e.queue = queue{}
	e.mu.Unlock()
	runAll(fns)
	return err
}

// Run is the interrupt context: it consumes controller events in order until
// ctx is cancelled or the event channel is closed.
func (e *Engine) Run(ctx context.Context) error {
	evs := e.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			e.HandleEvent(ev)
		}
	}
}

// HandleEvent steps the state machine for one completed bus phase.
// Completion callbacks run after the engine lock is released.
func (e *Engine) HandleEvent(ev Event) {
	e.mu.Lock()
	fns := e.step(ev)
	e.mu.Unlock()
	runAll(fns)
}

// State returns the current bus state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the error record: the bus error observed by the current
// or most recently completed transaction, or nil. It is reset when the next
// transaction claims the bus, including one dispatched from the queue.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fault == "" {
		return nil
	}
	return e.fault
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// SetSpeed reconfigures the controller. The bus must be Ready.
func (e *Engine) SetSpeed(f physic.Frequency) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return errcode.Busy
	}
	if err := e.ctrl.Configure(f); err != nil {
		return err
	}
	e.cfg.Frequency = f
	return nil
}

// caller holds lock
func (e *Engine) step(ev Event) []func() {
	more := false
	switch ev.Phase {
	case MRDataAck, MRDataNack:
		if e.state == MasterReceive || e.state == MasterReadModifyWrite {
			e.buf.Store(ev.Data)
		}
		more = e.buf.WantMore()
	case MRSlaAck:
		more = e.buf.WantMore()
	case MTSlaAck, MTDataAck:
		more = e.buf.Pending()
	}

	st, act, code := next(e.state, ev.Phase, more)
	if errcode.IsBusFault(code) {
		e.record(code)
	}
	e.state = st

	switch act {
	case actAddress:
		e.ctrl.Transmit(e.slarw)
	case actRegister:
		e.ctrl.Transmit(e.reg)
	case actData:
		e.ctrl.Transmit(e.buf.Next())
	case actAck:
		e.ctrl.Receive(true)
	case actNack:
		e.ctrl.Receive(false)
	case actTurnaround:
		if !e.cfg.RepeatedStart {
			e.ctrl.Stop()
		}
		e.slarw |= dirRead
		e.ctrl.Start()
	case actRewrite:
		// The read byte is replaced in place by [reg, merged] for the write phase.
		old := e.buf.data[0]
		e.buf.data[0] = e.reg
		e.buf.data[1] = mathx.Merge(old, e.data, e.mask)
		e.buf.Reset(2)
		e.slarw &^= dirRead
		e.ctrl.Start()
	case actStop:
		e.ctrl.Stop()
		return e.finish()
	case actRelease:
		e.ctrl.Release()
		return e.finish()
	}
	return nil
}

// caller holds lock
func (e *Engine) record(c errcode.Code) {
	e.fault = c
	e.stats.Faults++
	switch c {
	case errcode.AddressNack:
		e.stats.AddressNacks++
	case errcode.DataNack:
		e.stats.DataNacks++
	case errcode.ArbitrationLost:
		e.stats.ArbitrationLost++
	case errcode.BusError:
		e.stats.BusErrors++
	}
}

// finish returns the bus to Ready and attempts one queue dispatch before the
// handler returns. caller holds lock
func (e *Engine) finish() []func() {
	fns := e.complete()
	e.state = Ready
	close(e.idle)
	e.dispatch()
	return fns
}

// complete publishes the result of the current transaction. caller holds lock
func (e *Engine) complete() []func() {
	t := e.cur
	if t == nil {
		return nil
	}
	e.cur = nil
	e.stats.Completed++
	if e.fault != "" {
		t.res.Err = e.fault
	}
	if t.dst != nil {
		t.res.N = copy(t.dst, e.buf.Bytes())
	} else {
		t.res.N = e.buf.Len()
	}
	close(t.done)
	if t.notify == nil {
		return nil
	}
	fn, res := t.notify, t.res
	return []func(){func() { fn(res) }}
}

// claim performs the Ready->busy transition. caller holds lock and has
// checked that the bus is Ready.
func (e *Engine) claim(s State, addr uint8, notify func(Result)) *txn {
	e.state = s
	e.idle = make(chan struct{})
	e.fault = ""
	e.slarw = addr<<1 | dirWrite
	e.stats.Transactions++
	t := &txn{done: make(chan struct{}), notify: notify}
	e.cur = t
	return t
}

// lockReady waits until the bus is Ready and returns with the lock held.
func (e *Engine) lockReady(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.state == Ready {
			return nil
		}
		idle := e.idle
		e.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
