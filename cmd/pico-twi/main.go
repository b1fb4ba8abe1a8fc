//go:build rp2040

// Command pico-twi is a self-test image: the bus console served over UART0
// against a simulated bus with a register file at 0x50 and an MCP23017.
package main

import (
	"context"
	"machine"
	"time"

	"twiengine/console"
	"twiengine/drivers/mcp23017"
	"twiengine/internal/simbus"
	"twiengine/twi"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// uartReader adapts the context-aware receive of uartx to io.Reader.
type uartReader struct {
	ctx context.Context
	u   *uartx.UART
}

func (r uartReader) Read(p []byte) (int, error) { return r.u.RecvSomeContext(r.ctx, p) }

func main() {
	time.Sleep(1500 * time.Millisecond)
	println("[pico-twi] boot …")
	ctx := context.Background()

	hw := uartx.UART0
	_ = hw.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.Pin(0),
		RX:       machine.Pin(1),
	})

	sim := simbus.New(simbus.Config{})
	sim.Attach(0x50, simbus.NewMemory(64))
	sim.Attach(mcp23017.BaseAddress, simbus.NewMCP23017())

	e := twi.New(sim, twi.Config{})
	if err := e.Init(); err != nil {
		println("[pico-twi] init failed:", err.Error())
		return
	}
	go e.Run(ctx)

	dev := mcp23017.New(e)
	if err := dev.Configure(mcp23017.Config{}); err != nil {
		println("[pico-twi] mcp23017:", err.Error())
	}

	c := console.New(e, dev, hw)
	_, _ = hw.Write([]byte("twi console ready, type help\r\n"))
	for {
		if err := c.Serve(ctx, uartReader{ctx: ctx, u: hw}); err != nil {
			println("[pico-twi] console:", err.Error())
		}
		time.Sleep(100 * time.Millisecond)
	}
}
