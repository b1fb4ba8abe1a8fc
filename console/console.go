// Package console is a line-oriented operator shell over a twi.Engine and an
// optional MCP23017. Lines are split shell-style; numbers take 0x/0b/0o
// prefixes. Every command answers with one line (help lists the commands
// first):
//
//	status <n> <code>   Write outcome (0 ok, 1 length, 2 address NACK, 3 data NACK, 4 other)
//	try <n> <code>      non-blocking claim (0 accepted, -1 busy, -2 error)
//	queue <n> <code>    enqueue (0 accepted, -1 slot occupied, -2 invalid)
//	ok [values...]      success of any other command
//	error <code> [...]  failure of any other command; a short read lists the
//	                    bytes received before the error
//
// Queued transactions report asynchronously with a "done" line.
package console

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"twiengine/drivers/mcp23017"
	"twiengine/errcode"
	"twiengine/twi"
	"twiengine/x/conv"

	"github.com/google/shlex"
)

// Console executes commands against one engine.
type Console struct {
	e   *twi.Engine
	dev *mcp23017.Device // nil: pin/gpio commands unsupported

	mu  sync.Mutex // serialises out
	out io.Writer

	// Timeout bounds every blocking command. Default 1 s.
	Timeout time.Duration

	// tryBuf receives the data of the last accepted try read; it is only
	// rewritten by a claim, which needs the bus Ready.
	tryBuf [twi.BufferLength]byte
	tryN   int

	notes chan []byte
	drops atomic.Uint32 // notes lost to a full channel
}

// New returns a console writing to out. dev may be nil.
func New(e *twi.Engine, dev *mcp23017.Device, out io.Writer) *Console {
	return &Console{
		e:       e,
		dev:     dev,
		out:     out,
		Timeout: time.Second,
		notes:   make(chan []byte, 8),
	}
}

type command struct {
	args  string
	min   int // positional arguments, not counting the name
	max   int // -1 unbounded
	run   func(c *Console, ctx context.Context, args []string) error
	usage string
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":     {"", 0, 0, (*Console).help, "list commands"},
		"write":    {"<addr> <byte>...", 2, -1, (*Console).write, "blocking write"},
		"send":     {"<addr> <byte>...", 2, -1, (*Console).send, "write without waiting"},
		"read":     {"<addr> <n>", 2, 2, (*Console).read, "blocking read"},
		"readreg":  {"<addr> <reg> <n>", 3, 3, (*Console).readReg, "register read"},
		"rmw":      {"<addr> <reg> <data> <mask>", 4, 4, (*Console).rmw, "masked register write"},
		"tryread":  {"<addr> <n>", 2, 2, (*Console).tryRead, "non-blocking read"},
		"tryreg":   {"<addr> <reg> <n>", 3, 3, (*Console).tryReg, "non-blocking register read"},
		"tryrmw":   {"<addr> <reg> <data> <mask>", 4, 4, (*Console).tryRMW, "non-blocking masked write"},
		"fetch":    {"", 0, 0, (*Console).fetch, "data of the last try read"},
		"enqread":  {"<prio> <addr> <reg> <n>", 4, 4, (*Console).enqRead, "queue a register read"},
		"enqwrite": {"<prio> <addr> <reg> <data> <mask>", 5, 5, (*Console).enqWrite, "queue a masked write"},
		"pending":  {"", 0, 0, (*Console).pending, "occupied queue slots"},
		"state":    {"", 0, 0, (*Console).state, "bus state"},
		"err":      {"", 0, 0, (*Console).lastErr, "error record"},
		"stats":    {"", 0, 0, (*Console).stats, "engine counters"},
		"init":     {"", 0, 0, (*Console).reset, "reset the engine"},
		"speed":    {"<khz>", 1, 1, (*Console).speed, "set SCL rate"},
		"pin":      {"mode|set|get|pull <pin> [value]", 2, 3, (*Console).pin, "expander pin"},
		"gpio":     {"[ab]", 0, 1, (*Console).gpio, "expander ports"},
	}
}

// Exec runs one command line. The answer is written to out; the returned
// error is the command's failure, or nil.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields, err := shlex.Split(line)
	if err != nil {
		return c.fail(errcode.InvalidParams)
	}
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cmd, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return c.fail(errcode.Unsupported)
	}
	args := fields[1:]
	if len(args) < cmd.min || (cmd.max >= 0 && len(args) > cmd.max) {
		return c.fail(errcode.InvalidParams)
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	return cmd.run(c, ctx, args)
}

// Serve executes lines from r until EOF or ctx is cancelled. Asynchronous
// completions are printed as they arrive.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pump(ctx)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = c.Exec(ctx, sc.Text())
	}
	return sc.Err()
}

// pump prints queued completion notes.
func (c *Console) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.notes:
			c.emit(n)
		}
	}
}

// note is called from completion callbacks on the engine event loop; it must
// not block.
func (c *Console) note(line []byte) {
	select {
	case c.notes <- line:
	default:
		c.drops.Add(1)
	}
}

// Dropped returns the number of completion notes lost to a full channel.
func (c *Console) Dropped() uint32 { return c.drops.Load() }

// ---- output ----

func (c *Console) emit(line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.out.Write(append(line, '\n'))
}

func (c *Console) ok(vals ...byte) error {
	b := []byte("ok")
	for _, v := range vals {
		b = conv.AppendHex8(append(b, ' '), v)
	}
	c.emit(b)
	return nil
}

// fail reports err, followed by any bytes a short read did receive.
func (c *Console) fail(err error, got ...byte) error {
	b := append([]byte("error "), string(errcode.Of(err))...)
	for _, v := range got {
		b = conv.AppendHex8(append(b, ' '), v)
	}
	c.emit(b)
	return err
}

func (c *Console) status(kind string, n int64, err error) error {
	b := conv.AppendInt(append([]byte(kind), ' '), n)
	b = append(append(b, ' '), string(errcode.Of(err))...)
	c.emit(b)
	return err
}

// ---- argument parsing ----

func parseByte(s string) (uint8, error) { return conv.ParseUint8(s) }

func parseAddr(s string) (uint8, error) {
	v, err := conv.ParseUint8(s)
	if err != nil {
		return 0, err
	}
	if v > 0x7F {
		return 0, errcode.InvalidAddress
	}
	return v, nil
}

func parseCount(s string) (int, error) {
	v, err := conv.ParseUint(s, 16)
	if err != nil {
		return 0, err
	}
	if v == 0 || v > twi.BufferLength {
		return 0, errcode.InvalidLength
	}
	return int(v), nil
}

func parseBytes(ss []string) ([]byte, error) {
	out := make([]byte, 0, len(ss))
	for _, s := range ss {
		v, err := parseByte(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseRMW reads <addr> <reg> <data> <mask>.
func parseRMW(args []string) (addr uint8, rmw [3]uint8, err error) {
	if addr, err = parseAddr(args[0]); err != nil {
		return
	}
	for i := range rmw {
		if rmw[i], err = parseByte(args[1+i]); err != nil {
			return
		}
	}
	return
}
