// Package expander exposes one MCP23017 on the in-process bus.
//
// Topics (id is Config.ID):
//
//	expander/<id>/ctl/<method>  requests: pin_mode, write, read, pull, read_all, write_all
//	expander/<id>/gpio          retained {"ab", "hex", "ts_ms"}: last known port value
//	expander/<id>/state         retained {"level", "status", "error"?, "irq"?, "ts_ms"}
//
// With an INT pin attached, every interrupt schedules a priority read of both
// ports; the result is published on the gpio topic. A failed read leaves the
// last known value in place and only reports the error on the state topic.
package expander

import (
	"context"

	"twiengine/bus"
	"twiengine/drivers/mcp23017"
	"twiengine/errcode"
	"twiengine/x/conv"
	"twiengine/x/timex"
)

// Config controls the service. All fields are optional.
type Config struct {
	// ID is the topic index of this expander. Default 0.
	ID int
	// Device is passed to mcp23017.Device.Configure. Interrupts is forced on
	// when an INT pin is given to Run.
	Device mcp23017.Config
	// IRQBuffer is the ISR queue depth. Default 8.
	IRQBuffer int
}

type gpioRead struct {
	ab  uint16
	err error
}

type service struct {
	conn *bus.Connection
	dev  *mcp23017.Device
	cfg  Config

	irq   *irqWorker
	reads chan gpioRead
}

// Topic returns expander/<id> with rest appended.
func Topic(id int, rest ...bus.Token) bus.Topic {
	return bus.T("expander", id).Append(rest...)
}

// Run configures dev, attaches the optional INT pin and serves requests until
// ctx is cancelled. A configuration failure is published on the state topic
// and returned.
func Run(ctx context.Context, conn *bus.Connection, dev *mcp23017.Device, pin IRQPin, cfg Config) error {
	s := &service{
		conn:  conn,
		dev:   dev,
		cfg:   cfg,
		reads: make(chan gpioRead, 4),
	}
	if pin != nil {
		cfg.Device.Interrupts = true
	}
	if err := dev.Configure(cfg.Device); err != nil {
		s.publishState("error", "configure_failed", err)
		return err
	}

	ctrlSub := conn.Subscribe(Topic(cfg.ID, "ctl", "+"))
	defer conn.Unsubscribe(ctrlSub)

	if pin != nil {
		dev.OnGPIO(s.onGPIO)
		s.irq = newIRQWorker(cfg.IRQBuffer, dev.HandleInterrupt)
		s.irq.Start(ctx)
		detach, err := s.irq.Attach(pin)
		if err != nil {
			s.publishState("error", "irq_attach_failed", err)
			return err
		}
		defer detach()
	}
	s.publishState("ready", "configured", nil)
	println("[expander] ready id", cfg.ID)

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return nil
		case msg, ok := <-ctrlSub.Channel():
			if !ok {
				return nil
			}
			s.handleControl(msg)
		case r := <-s.reads:
			s.handleRead(r, "irq_read_failed")
		}
	}
}

// onGPIO runs on the engine event loop; it must not block.
func (s *service) onGPIO(ab uint16, err error) {
	select {
	case s.reads <- gpioRead{ab: ab, err: err}:
	default:
	}
}

func (s *service) handleRead(r gpioRead, status string) {
	if r.err != nil {
		// Keep the last known value; report only.
		s.publishState("error", status, r.err)
		return
	}
	s.conn.Publish(s.conn.NewMessage(Topic(s.cfg.ID, "gpio"), map[string]any{
		"ab":    int(r.ab),
		"hex":   string(conv.AppendHex16(nil, r.ab)),
		"ts_ms": timex.NowMs(),
	}, true))
}

func (s *service) handleControl(msg *bus.Message) {
	// expander/<id>/ctl/<method>
	method, _ := msg.Topic.At(3).(string)
	args, _ := msg.Payload.(map[string]any)

	switch method {
	case "read_all":
		ab, err := s.dev.ReadGPIOAB()
		s.handleRead(gpioRead{ab: ab, err: err}, "read_failed")
		s.reply(msg, err, map[string]any{"ab": int(ab)})
		return
	case "write_all":
		ab, ok := intArg(args, "ab")
		if !ok || ab < 0 || ab > 0xFFFF {
			s.reply(msg, errcode.InvalidParams, nil)
			return
		}
		s.reply(msg, s.dev.WriteGPIOAB(uint16(ab)), nil)
		return
	}

	pin, ok := intArg(args, "pin")
	if !ok || pin < 0 || pin >= mcpPins {
		s.reply(msg, errcode.InvalidPin, nil)
		return
	}
	p := uint8(pin)

	switch method {
	case "pin_mode":
		mode, ok := parseMode(args["mode"])
		if !ok {
			s.reply(msg, errcode.InvalidParams, nil)
			return
		}
		s.reply(msg, s.dev.PinMode(p, mode), nil)
	case "write":
		s.reply(msg, s.dev.DigitalWrite(p, boolArg(args, "level")), nil)
	case "pull":
		s.reply(msg, s.dev.PullUp(p, boolArg(args, "on")), nil)
	case "read":
		on, err := s.dev.DigitalRead(p)
		level := 0
		if on {
			level = 1
		}
		s.reply(msg, err, map[string]any{"level": level})
	default:
		s.reply(msg, errcode.Unsupported, nil)
	}
}

const mcpPins = mcp23017.Pins

// ---- helpers ----

func (s *service) publishState(level, status string, err error) {
	payload := map[string]any{"level": level, "status": status, "ts_ms": timex.NowMs()}
	if err != nil {
		payload["error"] = string(errcode.Of(err))
	}
	if s.irq != nil {
		payload["irq"] = map[string]any{
			"handled": int(s.irq.Handled()),
			"drops":   int(s.irq.ISRDrops()),
			"failed":  int(s.irq.Failed()),
		}
	}
	s.conn.Publish(s.conn.NewMessage(Topic(s.cfg.ID, "state"), payload, true))
}

// reply answers req with {"ok": true, extra...} or {"ok": false, "error": code}.
func (s *service) reply(req *bus.Message, err error, extra map[string]any) {
	if !req.CanReply() {
		return
	}
	if err != nil {
		s.conn.Reply(req, map[string]any{"ok": false, "error": string(errcode.Of(err))}, false)
		return
	}
	m := map[string]any{"ok": true}
	for k, v := range extra {
		m[k] = v
	}
	s.conn.Reply(req, m, false)
}

func parseMode(v any) (mcp23017.Mode, bool) {
	switch v {
	case "input":
		return mcp23017.Input, true
	case "output":
		return mcp23017.Output, true
	case "input_pullup":
		return mcp23017.InputPullup, true
	}
	return 0, false
}

func intArg(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func boolArg(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}
