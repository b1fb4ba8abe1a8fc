// Package simbus is a software TWI controller for host builds and self-test
// images. It implements twi.Controller: every bus command is resolved against
// the attached slave models and answered with the phase event the hardware
// would raise, so the engine runs unmodified without a physical bus.
package simbus

import (
	"sync"
	"time"

	"twiengine/twi"
	"twiengine/x/conv"

	"periph.io/x/conn/v3/physic"
)

// Slave is a device model attached to the simulated bus.
type Slave interface {
	// Select is the address phase; false answers NACK.
	Select(read bool) bool
	// Write takes one data byte; false answers NACK.
	Write(b byte) bool
	// Read supplies the next byte.
	Read() byte
	// Stop ends the transfer (stop, repeated start or release).
	Stop()
}

// Config controls the simulated hardware. All fields are optional.
type Config struct {
	// CPU is the core clock used to derive the bit-rate divider. Default 16 MHz.
	CPU physic.Frequency
	// Latency delays every phase event. Zero delivers it immediately.
	Latency time.Duration
}

// Ensure the simulator satisfies the engine contract at compile time.
var _ twi.Controller = (*Bus)(nil)

// Bus is the simulated controller plus the wire it drives.
type Bus struct {
	cfg    Config
	events chan twi.Event

	mu       sync.Mutex
	slaves   map[uint8]Slave
	faults   []Fault
	freq     physic.Frequency
	twbr     uint8
	epoch    uint32 // bumped by Configure; delayed events from older epochs are dropped
	owned    bool
	wantAddr bool
	read     bool
	cur      Slave
	count    int // data bytes moved since the last (repeated) start
	trace    []string
}

// New returns an unconfigured bus; the engine configures it on Init.
func New(cfg Config) *Bus {
	if cfg.CPU <= 0 {
		cfg.CPU = 16 * physic.MegaHertz
	}
	return &Bus{
		cfg:    cfg,
		events: make(chan twi.Event, 4),
		slaves: map[uint8]Slave{},
	}
}

// Attach places s at the 7-bit address addr, replacing any previous slave.
func (b *Bus) Attach(addr uint8, s Slave) {
	b.mu.Lock()
	b.slaves[addr&0x7F] = s
	b.mu.Unlock()
}

// Detach removes the slave at addr; later address phases are NACKed.
func (b *Bus) Detach(addr uint8) {
	b.mu.Lock()
	delete(b.slaves, addr&0x7F)
	b.mu.Unlock()
}

// Frequency returns the configured SCL rate and bit-rate divider.
func (b *Bus) Frequency() (physic.Frequency, uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freq, b.twbr
}

// Trace returns the wire log: "S" start, "Sr" repeated start, "P" stop,
// "R" release, "W:0x20"/"R:0x20" address phases, "0x12" written bytes,
// "0x12+"/"0x12-" received bytes answered with ACK/NACK, "NACK" for a
// byte the slave refused, "ARB"/"BERR" for injected faults.
func (b *Bus) Trace() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.trace...)
}

// ---- twi.Controller ----

func (b *Bus) Configure(freq physic.Frequency) error {
	twbr, err := twi.BitRate(b.cfg.CPU, freq)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freq, b.twbr = freq, twbr
	b.epoch++
	if b.cur != nil {
		b.cur.Stop()
	}
	b.cur, b.owned, b.wantAddr = nil, false, false
	for {
		select {
		case <-b.events:
		default:
			return nil
		}
	}
}

func (b *Bus) Events() <-chan twi.Event { return b.events }

func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = 0
	b.wantAddr = true
	if b.owned {
		b.log("Sr")
		b.endTransfer()
		b.push(twi.Event{Phase: twi.RepStart})
		return
	}
	b.owned = true
	b.log("S")
	b.push(twi.Event{Phase: twi.Start})
}

func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log("P")
	b.endTransfer()
	b.owned = false
}

func (b *Bus) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log("R")
	b.endTransfer()
	b.owned = false
}

func (b *Bus) Transmit(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wantAddr {
		b.address(v)
		return
	}
	if ev, ok := b.takeFault(false, false); ok {
		b.push(ev)
		return
	}
	b.log(string(conv.AppendHex8(nil, v)))
	b.count++
	if b.cur == nil || !b.cur.Write(v) {
		b.log("NACK")
		b.push(twi.Event{Phase: twi.MTDataNack})
		return
	}
	b.push(twi.Event{Phase: twi.MTDataAck})
}

func (b *Bus) Receive(ack bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev, ok := b.takeFault(false, true); ok {
		b.push(ev)
		return
	}
	var v byte = 0xFF // released SDA reads high
	if b.cur != nil {
		v = b.cur.Read()
	}
	b.count++
	tok := conv.AppendHex8(nil, v)
	if ack {
		b.log(string(append(tok, '+')))
		b.push(twi.Event{Phase: twi.MRDataAck, Data: v})
		return
	}
	b.log(string(append(tok, '-')))
	b.push(twi.Event{Phase: twi.MRDataNack, Data: v})
}

// caller holds lock
func (b *Bus) address(v byte) {
	b.wantAddr = false
	b.read = v&1 == 1
	addr := v >> 1
	tok := []byte("W:")
	if b.read {
		tok = []byte("R:")
	}
	b.log(string(conv.AppendHex8(tok, addr)))

	if ev, ok := b.takeFault(true, b.read); ok {
		b.push(ev)
		return
	}
	s := b.slaves[addr]
	if s == nil || !s.Select(b.read) {
		b.cur = nil
		b.log("NACK")
		if b.read {
			b.push(twi.Event{Phase: twi.MRSlaNack})
		} else {
			b.push(twi.Event{Phase: twi.MTSlaNack})
		}
		return
	}
	b.cur = s
	if b.read {
		b.push(twi.Event{Phase: twi.MRSlaAck})
	} else {
		b.push(twi.Event{Phase: twi.MTSlaAck})
	}
}

// caller holds lock
func (b *Bus) endTransfer() {
	if b.cur != nil {
		b.cur.Stop()
		b.cur = nil
	}
}

// caller holds lock
func (b *Bus) log(tok string) { b.trace = append(b.trace, tok) }

// push delivers ev, immediately or after the configured latency.
// caller holds lock
func (b *Bus) push(ev twi.Event) {
	if b.cfg.Latency <= 0 {
		b.events <- ev
		return
	}
	epoch := b.epoch
	time.AfterFunc(b.cfg.Latency, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if epoch == b.epoch {
			b.events <- ev
		}
	})
}
