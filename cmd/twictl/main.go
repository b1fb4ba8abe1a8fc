// Command twictl runs the bus console on stdin/stdout against a simulated
// bus carrying a 256-byte register file at 0x50 and an MCP23017 at 0x20.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"twiengine/console"
	"twiengine/drivers/mcp23017"
	"twiengine/internal/simbus"
	"twiengine/twi"

	"periph.io/x/conn/v3/physic"
)

func main() {
	khz := flag.Uint("khz", 100, "SCL rate in kHz")
	repStart := flag.Bool("rs", false, "bare repeated start between register address and read")
	latency := flag.Duration("latency", 0, "simulated time per bus phase")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sim := simbus.New(simbus.Config{Latency: *latency})
	sim.Attach(0x50, simbus.NewMemory(256))
	chip := simbus.NewMCP23017()
	sim.Attach(mcp23017.BaseAddress, chip)

	e := twi.New(sim, twi.Config{
		Frequency:     physic.Frequency(*khz) * physic.KiloHertz,
		RepeatedStart: *repStart,
		TxTimeout:     time.Second,
	})
	if err := e.Init(); err != nil {
		println("[twictl] init:", err.Error())
		os.Exit(1)
	}
	go e.Run(ctx)

	dev := mcp23017.New(e)
	if err := dev.Configure(mcp23017.Config{}); err != nil {
		println("[twictl] mcp23017:", err.Error())
		os.Exit(1)
	}

	c := console.New(e, dev, os.Stdout)
	if err := c.Serve(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		println("[twictl]", err.Error())
		os.Exit(1)
	}
}
