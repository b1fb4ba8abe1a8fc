package twi

import (
	"time"

	"twiengine/errcode"

	"periph.io/x/conn/v3/physic"
)

// DefaultFrequency is the standard-mode SCL rate.
const DefaultFrequency = 100 * physic.KiloHertz

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Frequency is the SCL rate handed to the controller. Default 100 kHz.
	Frequency physic.Frequency
	// RepeatedStart issues a bare repeated start between the register-address
	// phase and the read phase of a register read. The default is a full
	// stop/start pair.
	RepeatedStart bool
	// TxTimeout bounds the wait of the drivers.I2C / periph adapters.
	// Default 250 ms.
	TxTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Frequency <= 0 {
		c.Frequency = DefaultFrequency
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = 250 * time.Millisecond
	}
	return c
}

// minBitRate is the lowest divider at which the TWI unit works as a master.
const minBitRate = 10

// BitRate returns the TWBR divider for the given CPU clock and SCL rate,
// from SCL = CPU / (16 + 2*TWBR) with the prescaler at 1.
func BitRate(cpu, scl physic.Frequency) (uint8, error) {
	if cpu <= 0 || scl <= 0 {
		return 0, errcode.InvalidParams
	}
	div := int64(cpu / scl)
	twbr := (div - 16) / 2
	if twbr < minBitRate || twbr > 0xFF {
		return 0, errcode.InvalidParams
	}
	return uint8(twbr), nil
}
