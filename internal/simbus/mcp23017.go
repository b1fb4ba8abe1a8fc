package simbus

import (
	"sync"

	"twiengine/x/mathx"
)

// MCP23017 register addresses in the power-on bank layout (BANK=0, A/B paired).
const (
	mcpIODIRA   = 0x00
	mcpIPOLA    = 0x02
	mcpGPINTENA = 0x04
	mcpDEFVALA  = 0x06
	mcpINTCONA  = 0x08
	mcpIOCON    = 0x0A
	mcpIOCONB   = 0x0B
	mcpGPPUA    = 0x0C
	mcpINTFA    = 0x0E
	mcpINTCAPA  = 0x10
	mcpGPIOA    = 0x12
	mcpOLATA    = 0x14
	mcpRegs     = 0x16

	mcpSEQOP = 1 << 5
)

// MCP23017 models the 16-bit port expander closely enough for its driver:
// pointer auto-increment (or A/B toggling with IOCON.SEQOP), GPIO writes
// landing in OLAT, input levels with polarity inversion, and
// interrupt-on-change with INTF/INTCAP latching.
type MCP23017 struct {
	mu     sync.Mutex
	regs   [mcpRegs]byte
	ptr    int
	first  bool
	levels [2]byte // external pin levels, port A and B
	onInt  func()
}

// NewMCP23017 returns the device in its power-on state: all pins inputs.
func NewMCP23017() *MCP23017 {
	d := &MCP23017{}
	d.regs[mcpIODIRA] = 0xFF
	d.regs[mcpIODIRA+1] = 0xFF
	return d
}

// OnInterrupt installs fn as the INT line. It runs on the goroutine that
// changed the inputs, outside the device lock.
func (d *MCP23017) OnInterrupt(fn func()) {
	d.mu.Lock()
	d.onInt = fn
	d.mu.Unlock()
}

// SetIRQ and ClearIRQ expose the INT line as an interrupt-capable pin.
func (d *MCP23017) SetIRQ(handler func()) error { d.OnInterrupt(handler); return nil }
func (d *MCP23017) ClearIRQ() error             { d.OnInterrupt(nil); return nil }

// Reg returns the raw register r.
func (d *MCP23017) Reg(r byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(r) >= mcpRegs {
		return 0
	}
	return d.regs[r]
}

// Outputs returns the levels driven on the output pins (bit n = pin n).
func (d *MCP23017) Outputs() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := d.regs[mcpOLATA] &^ d.regs[mcpIODIRA]
	b := d.regs[mcpOLATA+1] &^ d.regs[mcpIODIRA+1]
	return uint16(a) | uint16(b)<<8
}

// SetInputs drives the external pin levels (bit n = pin n) and raises INT
// when an enabled input changes.
func (d *MCP23017) SetInputs(levels uint16) {
	d.mu.Lock()
	fired := false
	for port := 0; port < 2; port++ {
		old := d.levels[port]
		nv := byte(levels >> (8 * port))
		d.levels[port] = nv

		en := d.regs[mcpGPINTENA+port] & d.regs[mcpIODIRA+port]
		intcon := d.regs[mcpINTCONA+port]
		// INTCON selects compare-to-DEFVAL over change-from-previous.
		trig := mathx.Merge(old^nv, nv^d.regs[mcpDEFVALA+port], intcon) & en
		if trig == 0 {
			continue
		}
		if d.regs[mcpINTFA+port] == 0 {
			d.regs[mcpINTCAPA+port] = d.port(port)
		}
		d.regs[mcpINTFA+port] |= trig
		fired = true
	}
	fn := d.onInt
	d.mu.Unlock()
	if fired && fn != nil {
		fn()
	}
}

// port is the GPIO read value. caller holds lock
func (d *MCP23017) port(p int) byte {
	// inputs read the (polarity-adjusted) pin, outputs read the latch
	return mathx.Merge(d.regs[mcpOLATA+p], d.levels[p]^d.regs[mcpIPOLA+p], d.regs[mcpIODIRA+p])
}

func (d *MCP23017) Select(read bool) bool {
	d.mu.Lock()
	d.first = !read
	d.mu.Unlock()
	return true
}

func (d *MCP23017) Write(b byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.first {
		d.first = false
		d.ptr = int(b)
		return true
	}
	switch r := d.ptr; {
	case r >= mcpRegs:
	case r == mcpIOCON || r == mcpIOCONB:
		d.regs[mcpIOCON], d.regs[mcpIOCONB] = b, b
	case r == mcpINTFA, r == mcpINTFA+1, r == mcpINTCAPA, r == mcpINTCAPA+1:
		// read-only
	case r == mcpGPIOA, r == mcpGPIOA+1:
		d.regs[mcpOLATA+r-mcpGPIOA] = b
	default:
		d.regs[r] = b
	}
	d.advance()
	return true
}

func (d *MCP23017) Read() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var v byte
	switch r := d.ptr; {
	case r >= mcpRegs:
	case r == mcpGPIOA, r == mcpGPIOA+1:
		v = d.port(r - mcpGPIOA)
		d.regs[mcpINTFA+r-mcpGPIOA] = 0
	case r == mcpINTCAPA, r == mcpINTCAPA+1:
		v = d.regs[r]
		d.regs[mcpINTFA+r-mcpINTCAPA] = 0
	default:
		v = d.regs[r]
	}
	d.advance()
	return v
}

func (d *MCP23017) Stop() {}

// advance moves the register pointer after each data byte. caller holds lock
func (d *MCP23017) advance() {
	if d.ptr >= mcpRegs {
		return
	}
	if d.regs[mcpIOCON]&mcpSEQOP != 0 {
		d.ptr ^= 1
		return
	}
	d.ptr = (d.ptr + 1) % mcpRegs
}
