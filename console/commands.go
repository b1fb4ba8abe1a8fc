package console

import (
	"context"
	"maps"
	"slices"

	"twiengine/drivers/mcp23017"
	"twiengine/errcode"
	"twiengine/twi"
	"twiengine/x/conv"

	"periph.io/x/conn/v3/physic"
)

func (c *Console) help(_ context.Context, _ []string) error {
	for _, name := range slices.Sorted(maps.Keys(commands)) {
		cmd := commands[name]
		line := append([]byte("  "), name...)
		if cmd.args != "" {
			line = append(append(line, ' '), cmd.args...)
		}
		line = append(append(line, "  - "...), cmd.usage...)
		c.emit(line)
	}
	return c.ok()
}

// ---- blocking ----

func (c *Console) write(ctx context.Context, args []string) error {
	return c.writeBytes(ctx, args, true)
}

func (c *Console) send(ctx context.Context, args []string) error {
	return c.writeBytes(ctx, args, false)
}

func (c *Console) writeBytes(ctx context.Context, args []string, wait bool) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return c.fail(err)
	}
	data, err := parseBytes(args[1:])
	if err != nil {
		return c.fail(err)
	}
	err = c.e.Write(ctx, addr, data, wait)
	return c.status("status", int64(twi.WriteStatus(err)), err)
}

func (c *Console) read(ctx context.Context, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return c.fail(err)
	}
	n, err := parseCount(args[1])
	if err != nil {
		return c.fail(err)
	}
	dst := make([]byte, n)
	got, err := c.e.ReadInto(ctx, addr, dst)
	if err != nil {
		return c.fail(err, dst[:got]...)
	}
	return c.ok(dst[:got]...)
}

func (c *Console) readReg(ctx context.Context, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return c.fail(err)
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return c.fail(err)
	}
	n, err := parseCount(args[2])
	if err != nil {
		return c.fail(err)
	}
	dst := make([]byte, n)
	got, err := c.e.ReadRegister(ctx, addr, reg, dst)
	if err != nil {
		return c.fail(err, dst[:got]...)
	}
	return c.ok(dst[:got]...)
}

func (c *Console) rmw(ctx context.Context, args []string) error {
	addr, v, err := parseRMW(args)
	if err != nil {
		return c.fail(err)
	}
	if err := c.e.WriteMasked(ctx, addr, v[0], v[1], v[2]); err != nil {
		return c.fail(err)
	}
	return c.ok()
}

// ---- non-blocking ----

func (c *Console) tryRead(_ context.Context, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return c.fail(err)
	}
	n, err := parseCount(args[1])
	if err != nil {
		return c.fail(err)
	}
	err = c.e.TryReadInto(addr, c.tryBuf[:n])
	if err == nil {
		c.tryN = n
	}
	return c.status("try", int64(twi.TryStatus(err)), err)
}

func (c *Console) tryReg(_ context.Context, args []string) error {
	addr, err := parseAddr(args[0])
	if err != nil {
		return c.fail(err)
	}
	reg, err := parseByte(args[1])
	if err != nil {
		return c.fail(err)
	}
	n, err := parseCount(args[2])
	if err != nil {
		return c.fail(err)
	}
	err = c.e.TryReadRegister(addr, reg, c.tryBuf[:n])
	if err == nil {
		c.tryN = n
	}
	return c.status("try", int64(twi.TryStatus(err)), err)
}

func (c *Console) tryRMW(_ context.Context, args []string) error {
	addr, v, err := parseRMW(args)
	if err != nil {
		return c.fail(err)
	}
	err = c.e.TryReadModifyWrite(addr, v[0], v[1], v[2])
	if err == nil {
		c.tryN = 0
	}
	return c.status("try", int64(twi.TryStatus(err)), err)
}

// fetch reports the last try transaction once the bus is Ready again.
func (c *Console) fetch(_ context.Context, _ []string) error {
	if c.e.State() != twi.Ready {
		return c.fail(errcode.Busy)
	}
	if err := c.e.LastError(); err != nil {
		return c.fail(err)
	}
	return c.ok(c.tryBuf[:c.tryN]...)
}

// ---- queue ----

func parsePrio(s string) (int, error) {
	v, err := conv.ParseUint(s, 8)
	if err != nil {
		return 0, errcode.InvalidPriority
	}
	return int(v), nil
}

func (c *Console) enqRead(_ context.Context, args []string) error {
	prio, err := parsePrio(args[0])
	if err != nil {
		return c.fail(err)
	}
	addr, err := parseAddr(args[1])
	if err != nil {
		return c.fail(err)
	}
	reg, err := parseByte(args[2])
	if err != nil {
		return c.fail(err)
	}
	n, err := parseCount(args[3])
	if err != nil {
		return c.fail(err)
	}
	req := &twi.ReadRequest{Addr: addr, Reg: reg, Dst: make([]byte, n)}
	req.Done = func(res twi.Result) {
		c.note(doneLine("read", prio, res, req.Dst[:res.N]))
	}
	err = c.e.EnqueueRead(req, prio)
	return c.status("queue", int64(twi.QueueStatus(err)), err)
}

func (c *Console) enqWrite(_ context.Context, args []string) error {
	prio, err := parsePrio(args[0])
	if err != nil {
		return c.fail(err)
	}
	addr, v, err := parseRMW(args[1:])
	if err != nil {
		return c.fail(err)
	}
	w := &twi.MaskedWrite{Addr: addr, Reg: v[0], Data: v[1], Mask: v[2]}
	w.Done = func(res twi.Result) {
		c.note(doneLine("write", prio, res, nil))
	}
	err = c.e.EnqueueMaskedWrite(w, prio)
	return c.status("queue", int64(twi.QueueStatus(err)), err)
}

// doneLine formats "done <kind> p<prio> <code> [bytes...]".
func doneLine(kind string, prio int, res twi.Result, data []byte) []byte {
	b := append([]byte("done "), kind...)
	b = conv.AppendInt(append(b, " p"...), int64(prio))
	b = append(append(b, ' '), string(errcode.Of(res.Err))...)
	for _, v := range data {
		b = conv.AppendHex8(append(b, ' '), v)
	}
	return b
}

// pending lists occupied slots as "r<level>" and "w<level>".
func (c *Console) pending(_ context.Context, _ []string) error {
	b := []byte("ok")
	for p := 0; p < twi.QueueLevels; p++ {
		r, w := c.e.Pending(p)
		if r {
			b = conv.AppendInt(append(b, " r"...), int64(p))
		}
		if w {
			b = conv.AppendInt(append(b, " w"...), int64(p))
		}
	}
	c.emit(b)
	return nil
}

// ---- engine ----

func (c *Console) state(_ context.Context, _ []string) error {
	c.emit(append([]byte("ok "), c.e.State().String()...))
	return nil
}

func (c *Console) lastErr(_ context.Context, _ []string) error {
	code := "none"
	if err := c.e.LastError(); err != nil {
		code = string(errcode.Of(err))
	}
	c.emit(append([]byte("ok "), code...))
	return nil
}

func (c *Console) stats(_ context.Context, _ []string) error {
	c.emit(AppendStats([]byte("ok"), c.e.Stats()))
	return nil
}

// AppendStats appends the counters of s as " key=value" pairs.
func AppendStats(b []byte, s twi.Stats) []byte {
	for _, kv := range [...]struct {
		k string
		v uint32
	}{
		{"tx", s.Transactions},
		{"done", s.Completed},
		{"queued", s.Dispatched},
		{"anack", s.AddressNacks},
		{"dnack", s.DataNacks},
		{"arb", s.ArbitrationLost},
		{"berr", s.BusErrors},
		{"faults", s.Faults},
	} {
		b = append(append(append(b, ' '), kv.k...), '=')
		b = conv.AppendUint(b, uint64(kv.v))
	}
	return b
}

func (c *Console) reset(_ context.Context, _ []string) error {
	if err := c.e.Init(); err != nil {
		return c.fail(err)
	}
	return c.ok()
}

func (c *Console) speed(_ context.Context, args []string) error {
	khz, err := conv.ParseUint(args[0], 16)
	if err != nil || khz == 0 {
		return c.fail(errcode.InvalidParams)
	}
	if err := c.e.SetSpeed(physic.Frequency(khz) * physic.KiloHertz); err != nil {
		return c.fail(err)
	}
	return c.ok()
}

// ---- expander ----

func (c *Console) pin(_ context.Context, args []string) error {
	if c.dev == nil {
		return c.fail(errcode.Unsupported)
	}
	p, err := conv.ParseUint8(args[1])
	if err != nil {
		return c.fail(errcode.InvalidPin)
	}
	value := ""
	if len(args) == 3 {
		value = args[2]
	}

	switch args[0] {
	case "mode":
		m, ok := parseMode(value)
		if !ok {
			return c.fail(errcode.InvalidParams)
		}
		err = c.dev.PinMode(p, m)
	case "set", "pull":
		on, ok := parseLevel(value)
		if !ok {
			return c.fail(errcode.InvalidParams)
		}
		if args[0] == "set" {
			err = c.dev.DigitalWrite(p, on)
		} else {
			err = c.dev.PullUp(p, on)
		}
	case "get":
		var on bool
		if on, err = c.dev.DigitalRead(p); err == nil {
			level := byte('0')
			if on {
				level = '1'
			}
			c.emit([]byte{'o', 'k', ' ', level})
			return nil
		}
	default:
		return c.fail(errcode.Unsupported)
	}
	if err != nil {
		return c.fail(err)
	}
	return c.ok()
}

func (c *Console) gpio(_ context.Context, args []string) error {
	if c.dev == nil {
		return c.fail(errcode.Unsupported)
	}
	if len(args) == 1 {
		ab, err := conv.ParseUint(args[0], 16)
		if err != nil {
			return c.fail(err)
		}
		if err := c.dev.WriteGPIOAB(uint16(ab)); err != nil {
			return c.fail(err)
		}
		return c.ok()
	}
	ab, err := c.dev.ReadGPIOAB()
	if err != nil {
		return c.fail(err)
	}
	c.emit(conv.AppendHex16([]byte("ok "), ab))
	return nil
}

func parseMode(s string) (mcp23017.Mode, bool) {
	switch s {
	case "in", "input":
		return mcp23017.Input, true
	case "out", "output":
		return mcp23017.Output, true
	case "pullup", "input_pullup":
		return mcp23017.InputPullup, true
	}
	return 0, false
}

func parseLevel(s string) (bool, bool) {
	switch s {
	case "1", "on", "high":
		return true, true
	case "0", "off", "low":
		return false, true
	}
	return false, false
}
