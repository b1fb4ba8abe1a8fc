package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"twiengine/drivers/mcp23017"
	"twiengine/errcode"
	"twiengine/internal/simbus"
	"twiengine/twi"
)

const memAddr = 0x50

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Split(strings.TrimSuffix(s.b.String(), "\n"), "\n")
}

func (s *syncBuffer) last() string {
	l := s.lines()
	return l[len(l)-1]
}

func (s *syncBuffer) reset() {
	s.mu.Lock()
	s.b.Reset()
	s.mu.Unlock()
}

type fixture struct {
	c    *Console
	out  *syncBuffer
	e    *twi.Engine
	sim  *simbus.Bus
	mem  *simbus.Memory
	chip *simbus.MCP23017
}

// newFixture runs an engine over a simulated bus carrying a register file at
// memAddr and, with expander set, a configured MCP23017 at its base address.
func newFixture(t *testing.T, expander bool) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sim := simbus.New(simbus.Config{})
	mem := simbus.NewMemory(16)
	sim.Attach(memAddr, mem)
	e := twi.New(sim, twi.Config{})
	if err := e.Init(); err != nil {
		t.Fatal(err)
	}
	go e.Run(ctx)

	f := &fixture{out: &syncBuffer{}, e: e, sim: sim, mem: mem}
	var dev *mcp23017.Device
	if expander {
		f.chip = simbus.NewMCP23017()
		sim.Attach(mcp23017.BaseAddress, f.chip)
		dev = mcp23017.New(e)
		if err := dev.Configure(mcp23017.Config{}); err != nil {
			t.Fatal(err)
		}
	}
	f.c = New(e, dev, f.out)
	go f.c.pump(ctx)
	return f
}

// run executes line and returns the answer line.
func (f *fixture) run(t *testing.T, line string) string {
	t.Helper()
	f.out.reset()
	_ = f.c.Exec(context.Background(), line)
	return f.out.last()
}

func (f *fixture) expect(t *testing.T, line, want string) {
	t.Helper()
	if got := f.run(t, line); got != want {
		t.Fatalf("%q -> %q, want %q", line, got, want)
	}
}

func TestWriteAndReadBack(t *testing.T) {
	f := newFixture(t, false)

	f.expect(t, "write 0x50 0x00 0x11 0x22 0x33", "status 0 ok")
	f.expect(t, "readreg 0x50 0 2", "ok 0x11 0x22")
	// A plain read continues at the register pointer; 80 is 0x50.
	f.expect(t, "read 80 1", "ok 0x33")
	f.expect(t, "send 0x50 0x0A 0x44", "status 0 ok")
	waitReady(t, f.e)
	if got := f.mem.Reg(0x0A); got != 0x44 {
		t.Fatalf("reg 0x0A = %#x", got)
	}
}

func TestWrite_Statuses(t *testing.T) {
	f := newFixture(t, false)

	f.expect(t, "write 0x51 1", "status 2 address_nack")
	f.expect(t, "write 0x50 1 2 3 4 5 6 7 8 9", "status 1 buffer_overflow")

	f.sim.Inject(simbus.Fault{Kind: simbus.FaultDataNack, After: 1})
	f.expect(t, "write 0x50 1 2 3", "status 3 data_nack")

	err := f.c.Exec(context.Background(), "write 0x51 1")
	if !errors.Is(err, errcode.AddressNack) {
		t.Fatalf("Exec error = %v", err)
	}
}

func TestRead_ShortCountListsReceived(t *testing.T) {
	f := newFixture(t, false)
	f.mem.SetReg(0, 0xA1)
	f.mem.SetReg(1, 0xA2)

	f.sim.Inject(simbus.Fault{Kind: simbus.FaultBusError, After: 2})
	f.expect(t, "read 0x50 3", "error bus_error 0xA1 0xA2")

	// Nothing received: the code alone.
	f.expect(t, "readreg 0x51 0 2", "error address_nack")
}

func TestParseErrors(t *testing.T) {
	f := newFixture(t, false)

	for line, want := range map[string]string{
		"bogus":               "error unsupported",
		"read 0x50":           "error invalid_params",
		"read 0x80 1":         "error invalid_address",
		"read 0x50 9":         "error invalid_length",
		"read 0x50 0":         "error invalid_length",
		"write 0x50 0x100":    "error invalid_params",
		"write 0x50 'open":    "error invalid_params",
		"enqread 4 0x50 0 1":  "queue -2 invalid_priority",
		"enqread x 0x50 0 1":  "error invalid_priority",
		"speed 0":             "error invalid_params",
		"pin mode 1 in":       "error unsupported",
		"gpio":                "error unsupported",
		"state extra":         "error invalid_params",
		"rmw 0x50 1 2 0x1FF":  "error invalid_params",
		"tryread 0x50 0b1001": "error invalid_length",
	} {
		f.expect(t, line, want)
	}

	// Blank lines and comments produce nothing.
	f.out.reset()
	for _, line := range []string{"", "   ", "# comment"} {
		if err := f.c.Exec(context.Background(), line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	if got := f.out.last(); got != "" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestReadModifyWrite(t *testing.T) {
	f := newFixture(t, false)
	f.mem.SetReg(5, 0xF0)

	f.expect(t, "rmw 0x50 5 0x0F 0x0F", "ok")
	if got := f.mem.Reg(5); got != 0xFF {
		t.Fatalf("reg 5 = %#x, want 0xff", got)
	}
	f.expect(t, "rmw 0x50 5 0 0b10000000", "ok")
	if got := f.mem.Reg(5); got != 0x7F {
		t.Fatalf("reg 5 = %#x, want 0x7f", got)
	}
}

func waitReady(t *testing.T, e *twi.Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for e.State() != twi.Ready {
		if time.Now().After(deadline) {
			t.Fatalf("bus stuck in %v", e.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTryAndFetch(t *testing.T) {
	f := newFixture(t, false)
	f.mem.SetReg(3, 0xAB)
	f.mem.SetReg(4, 0xCD)

	f.expect(t, "tryreg 0x50 3 2", "try 0 ok")
	waitReady(t, f.e)
	f.expect(t, "fetch", "ok 0xAB 0xCD")

	f.expect(t, "tryrmw 0x50 3 0x00 0x0F", "try 0 ok")
	waitReady(t, f.e)
	f.expect(t, "fetch", "ok")
	if got := f.mem.Reg(3); got != 0xA0 {
		t.Fatalf("reg 3 = %#x", got)
	}

	f.expect(t, "tryread 0x51 1", "try 0 ok")
	waitReady(t, f.e)
	f.expect(t, "fetch", "error address_nack")
	f.expect(t, "err", "ok address_nack")
}

func TestTry_Busy(t *testing.T) {
	// Engine without an event loop: the first claim never completes.
	sim := simbus.New(simbus.Config{})
	sim.Attach(memAddr, simbus.NewMemory(4))
	e := twi.New(sim, twi.Config{})
	if err := e.Init(); err != nil {
		t.Fatal(err)
	}
	out := &syncBuffer{}
	c := New(e, nil, out)

	_ = c.Exec(context.Background(), "tryread 0x50 1")
	_ = c.Exec(context.Background(), "tryread 0x50 1")
	_ = c.Exec(context.Background(), "fetch")
	_ = c.Exec(context.Background(), "state")
	want := []string{"try 0 ok", "try -1 busy", "error busy", "ok master_receive"}
	if got := out.lines(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestEnqueue_ReportsCompletion(t *testing.T) {
	f := newFixture(t, false)
	f.mem.SetReg(8, 0x5A)
	f.mem.SetReg(9, 0x0F)

	// The completion note may overtake the queue answer.
	enqueue := func(line string, want ...string) {
		t.Helper()
		f.out.reset()
		_ = f.c.Exec(context.Background(), line)
		for _, w := range want {
			waitLine(t, f.out, w)
		}
	}
	enqueue("enqread 1 0x50 8 1", "queue 0 ok", "done read p1 ok 0x5A")
	enqueue("enqwrite 2 0x50 9 0xF0 0xF0", "queue 0 ok", "done write p2 ok")
	if got := f.mem.Reg(9); got != 0xFF {
		t.Fatalf("reg 9 = %#x", got)
	}
	enqueue("enqread 0 0x51 0 1", "queue 0 ok", "done read p0 address_nack")

	waitReady(t, f.e)
	f.expect(t, "pending", "ok")
	if f.c.Dropped() != 0 {
		t.Fatalf("dropped %d notes", f.c.Dropped())
	}
}

func TestEnqueue_SlotOccupied(t *testing.T) {
	sim := simbus.New(simbus.Config{})
	sim.Attach(memAddr, simbus.NewMemory(4))
	e := twi.New(sim, twi.Config{})
	if err := e.Init(); err != nil {
		t.Fatal(err)
	}
	out := &syncBuffer{}
	c := New(e, nil, out)

	// Hold the bus so queued requests stay pending.
	_ = c.Exec(context.Background(), "tryread 0x50 1")
	_ = c.Exec(context.Background(), "enqread 3 0x50 0 1")
	_ = c.Exec(context.Background(), "enqread 3 0x50 1 1")
	_ = c.Exec(context.Background(), "enqwrite 0 0x50 1 1 1")
	_ = c.Exec(context.Background(), "pending")
	want := []string{"try 0 ok", "queue 0 ok", "queue -1 slot_occupied", "queue 0 ok", "ok w0 r3"}
	if got := out.lines(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func waitLine(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		for _, l := range out.lines() {
			if l == want {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no %q in %q", want, out.lines())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineCommands(t *testing.T) {
	f := newFixture(t, false)

	f.expect(t, "state", "ok ready")
	f.expect(t, "err", "ok none")
	f.expect(t, "write 0x50 0 1", "status 0 ok")
	f.expect(t, "stats", "ok tx=1 done=1 queued=0 anack=0 dnack=0 arb=0 berr=0 faults=0")
	f.expect(t, "speed 400", "ok")
	if _, twbr := f.sim.Frequency(); twbr != 12 {
		t.Fatalf("twbr = %d, want 12", twbr)
	}
	f.expect(t, "speed 1000", "error invalid_params")
	f.expect(t, "init", "ok")
	f.expect(t, "state", "ok ready")

	if got := f.run(t, "help"); got != "ok" {
		t.Fatalf("help ends with %q", got)
	}
	if n := len(f.out.lines()); n != len(commands)+1 {
		t.Fatalf("help printed %d lines for %d commands", n, len(commands))
	}
}

func TestExpanderCommands(t *testing.T) {
	f := newFixture(t, true)

	f.expect(t, "pin mode 3 out", "ok")
	f.expect(t, "pin set 3 1", "ok")
	if got := f.chip.Outputs(); got != 1<<3 {
		t.Fatalf("outputs = %#x", got)
	}
	f.expect(t, "pin get 3", "ok 1")
	f.expect(t, "pin pull 9 on", "ok")
	if got := f.chip.Reg(mcp23017.GPPUB); got != 1<<1 {
		t.Fatalf("GPPUB = %#x", got)
	}

	f.chip.SetInputs(0x1200)
	f.expect(t, "gpio", "ok 0x1208")
	f.expect(t, "gpio 0", "ok")
	if got := f.chip.Outputs(); got != 0 {
		t.Fatalf("outputs = %#x", got)
	}

	f.expect(t, "pin set 16 1", "error invalid_pin")
	f.expect(t, "pin mode 1 sideways", "error invalid_params")
	f.expect(t, "pin blink 1", "error unsupported")
}

func TestServe(t *testing.T) {
	f := newFixture(t, false)
	in := strings.NewReader("state\n# comment\n\nwrite 0x50 0 7\nreadreg 0x50 0 1\n")

	if err := f.c.Serve(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	want := []string{"ok ready", "status 0 ok", "ok 0x07"}
	if got := f.out.lines(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("output = %q, want %q", got, want)
	}
}
