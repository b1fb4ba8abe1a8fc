package main

import (
	"context"
	"time"

	"twiengine/bus"
	"twiengine/drivers/mcp23017"
	"twiengine/internal/simbus"
	"twiengine/services/expander"
	"twiengine/services/heartbeat"
	"twiengine/twi"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot")
	ctx := context.Background()

	sim := simbus.New(simbus.Config{Latency: 50 * time.Microsecond})
	chip := simbus.NewMCP23017()
	sim.Attach(mcp23017.BaseAddress, chip)

	e := twi.New(sim, twi.Config{})
	if err := e.Init(); err != nil {
		println("[main] twi init failed:", err.Error())
		return
	}
	go e.Run(ctx)

	b := bus.NewBus(4)
	ui := b.NewConnection("ui")
	state := ui.Subscribe(expander.Topic(0, "state"))

	hb := &heartbeat.Service{Source: e, Interval: 5 * time.Second}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		println("[main] heartbeat:", err.Error())
	}
	go expander.Run(ctx, b.NewConnection("expander"), mcp23017.New(e), chip, expander.Config{})

	select {
	case m := <-state.Channel():
		if p, _ := m.Payload.(map[string]any); p["level"] != "ready" {
			println("[main] expander not ready")
			return
		}
	case <-time.After(2 * time.Second):
		println("[main] expander start timed out")
		return
	}
	ui.Unsubscribe(state)

	if selfTest(ctx, ui, chip) {
		println("[main] self-test PASS")
	} else {
		println("[main] self-test FAIL")
	}

	// Blink pin 0 and mirror it onto input pin 8.
	level := false
	for {
		level = !level
		if !call(ctx, ui, "write", map[string]any{"pin": 0, "level": level}) {
			println("[main] write failed")
		}
		if level {
			chip.SetInputs(1 << 8)
		} else {
			chip.SetInputs(0)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// selfTest drives pin 0 as an output and pin 8 as an interrupting input
// through the expander service.
func selfTest(ctx context.Context, ui *bus.Connection, chip *simbus.MCP23017) bool {
	gpio := ui.Subscribe(expander.Topic(0, "gpio"))
	defer ui.Unsubscribe(gpio)

	if !call(ctx, ui, "pin_mode", map[string]any{"pin": 0, "mode": "output"}) ||
		!call(ctx, ui, "write", map[string]any{"pin": 0, "level": true}) {
		return false
	}
	if chip.Outputs() != 0x0001 {
		println("[selftest] output mismatch")
		return false
	}

	chip.SetInputs(1 << 8)
	select {
	case m := <-gpio.Channel():
		ab, _ := m.Payload.(map[string]any)["ab"].(int)
		if ab&(1<<8) == 0 {
			println("[selftest] interrupt read missed pin 8")
			return false
		}
	case <-time.After(time.Second):
		println("[selftest] no interrupt read")
		return false
	}
	return call(ctx, ui, "write", map[string]any{"pin": 0, "level": false})
}

func call(ctx context.Context, ui *bus.Connection, method string, args map[string]any) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	reply, err := ui.RequestWait(ctx, ui.NewMessage(expander.Topic(0, "ctl", method), args, false))
	if err != nil {
		println("[main]", method, "error:", err.Error())
		return false
	}
	p, _ := reply.Payload.(map[string]any)
	if p["ok"] != true {
		e, _ := p["error"].(string)
		println("[main]", method, "failed:", e)
		return false
	}
	return true
}
