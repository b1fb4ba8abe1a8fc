package expander

import (
	"context"
	"sync/atomic"
)

// IRQPin is the MCU input wired to the expander INT output.
type IRQPin interface {
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// irqWorker moves INT edges out of interrupt context. The handler only does a
// non-blocking send; the worker goroutine schedules the queued GPIO read.
type irqWorker struct {
	// Written by ISR; MUST NOT block the ISR:
	isrQ chan struct{}

	fire func() error

	drops   uint32 // ISR drop counter
	handled uint32
	failed  uint32
}

func newIRQWorker(buf int, fire func() error) *irqWorker {
	if buf <= 0 {
		buf = 8
	}
	return &irqWorker{
		isrQ: make(chan struct{}, buf),
		fire: fire,
	}
}

func (w *irqWorker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.isrQ:
				w.handle()
			}
		}
	}()
}

// Attach installs the ISR on pin and returns the function that removes it.
func (w *irqWorker) Attach(pin IRQPin) (func(), error) {
	handler := func() {
		select {
		case w.isrQ <- struct{}{}:
		default:
			atomic.AddUint32(&w.drops, 1) // protect ISR path
		}
	}
	if err := pin.SetIRQ(handler); err != nil {
		return nil, err
	}
	return func() { _ = pin.ClearIRQ() }, nil
}

func (w *irqWorker) handle() {
	atomic.AddUint32(&w.handled, 1)
	if err := w.fire(); err != nil {
		atomic.AddUint32(&w.failed, 1)
		println("[expander] irq: schedule read failed:", err.Error())
	}
}

func (w *irqWorker) ISRDrops() uint32 { return atomic.LoadUint32(&w.drops) }
func (w *irqWorker) Handled() uint32  { return atomic.LoadUint32(&w.handled) }

// Failed counts edges whose read could not be scheduled, typically because
// the previous interrupt read still holds the queue slot.
func (w *irqWorker) Failed() uint32 { return atomic.LoadUint32(&w.failed) }
