package mcp23017

// BaseAddress is the 7-bit address with A2..A0 tied low.
const BaseAddress = 0x20

// Address returns the bus address for the hardware strap value hw (A2..A0).
func Address(hw uint8) uint16 { return BaseAddress | uint16(hw&7) }

// Register map, IOCON.BANK=0 (A/B registers paired).
const (
	IODIRA   = 0x00
	IODIRB   = 0x01
	IPOLA    = 0x02
	IPOLB    = 0x03
	GPINTENA = 0x04
	GPINTENB = 0x05
	DEFVALA  = 0x06
	DEFVALB  = 0x07
	INTCONA  = 0x08
	INTCONB  = 0x09
	IOCON    = 0x0A // mirrored at 0x0B
	GPPUA    = 0x0C
	GPPUB    = 0x0D
	INTFA    = 0x0E
	INTFB    = 0x0F
	INTCAPA  = 0x10
	INTCAPB  = 0x11
	GPIOA    = 0x12
	GPIOB    = 0x13
	OLATA    = 0x14
	OLATB    = 0x15
)

// IOCON bits.
const (
	ioconINTPOL = 1 << 1
	ioconODR    = 1 << 2
	ioconSEQOP  = 1 << 5 // sequential addressing disabled: pointer toggles within an A/B pair
	ioconMIRROR = 1 << 6
)

// Pins is the number of GPIO pins; 0..7 are port A, 8..15 port B.
const Pins = 16

// bank returns the port-B offset (0 or 1) and bit number for pin.
func bank(pin uint8) (off uint8, n uint) {
	return pin / 8, uint(pin % 8)
}
