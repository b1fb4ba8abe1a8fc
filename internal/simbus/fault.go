package simbus

import "twiengine/twi"

// FaultKind selects the condition injected into a transfer.
type FaultKind uint8

const (
	FaultBusError    FaultKind = iota + 1 // illegal start/stop on the wire
	FaultArbLost                          // another master won the bus
	FaultAddressNack                      // next address phase is refused
	FaultDataNack                         // a transmitted data byte is refused
)

func (k FaultKind) String() string {
	switch k {
	case FaultBusError:
		return "bus_error"
	case FaultArbLost:
		return "arb_lost"
	case FaultAddressNack:
		return "address_nack"
	case FaultDataNack:
		return "data_nack"
	}
	return "unknown"
}

// Fault is a one-shot condition. It fires on the first phase at which After
// data bytes have already moved since the last (repeated) start; After 0
// means the address phase. FaultAddressNack ignores After and fires on the
// next address phase; FaultDataNack only fires on a transmitted byte.
type Fault struct {
	Kind  FaultKind
	After int
}

// Inject queues f. Faults fire in the order they were injected.
func (b *Bus) Inject(f Fault) {
	b.mu.Lock()
	b.faults = append(b.faults, f)
	b.mu.Unlock()
}

// takeFault removes and converts the first fault that applies to the phase
// being executed. caller holds lock
func (b *Bus) takeFault(addrPhase, read bool) (twi.Event, bool) {
	for i, f := range b.faults {
		ev, ok := b.applies(f, addrPhase, read)
		if !ok {
			continue
		}
		b.faults = append(b.faults[:i], b.faults[i+1:]...)
		return ev, true
	}
	return twi.Event{}, false
}

// caller holds lock
func (b *Bus) applies(f Fault, addrPhase, read bool) (twi.Event, bool) {
	switch f.Kind {
	case FaultAddressNack:
		if !addrPhase {
			return twi.Event{}, false
		}
		b.log("NACK")
		b.cur = nil
		if read {
			return twi.Event{Phase: twi.MRSlaNack}, true
		}
		return twi.Event{Phase: twi.MTSlaNack}, true
	case FaultDataNack:
		if addrPhase || read || b.count < f.After {
			return twi.Event{}, false
		}
		b.count++
		b.log("NACK")
		return twi.Event{Phase: twi.MTDataNack}, true
	}
	if b.count < f.After || (f.After > 0 && addrPhase) {
		return twi.Event{}, false
	}
	switch f.Kind {
	case FaultBusError:
		b.log("BERR")
		return twi.Event{Phase: twi.BusError}, true
	case FaultArbLost:
		b.log("ARB")
		b.endTransfer()
		b.owned = false
		return twi.Event{Phase: twi.ArbLost}, true
	}
	return twi.Event{}, false
}
