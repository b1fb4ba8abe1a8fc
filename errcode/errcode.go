package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	// Synchronous rejects; no bus activity has taken place.
	BufferOverflow  Code = "buffer_overflow"
	InvalidLength   Code = "invalid_length"
	InvalidAddress  Code = "invalid_address"
	SlotOccupied    Code = "slot_occupied"
	InvalidPriority Code = "invalid_priority"
	InvalidPin      Code = "invalid_pin"

	// Recorded by the bus event handler.
	AddressNack     Code = "address_nack"
	DataNack        Code = "data_nack"
	ArbitrationLost Code = "arbitration_lost"
	BusError        Code = "bus_error"

	// Transaction abandoned by re-initialisation.
	Reset Code = "reset"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap returns an *E for op carrying c as both code and cause, so that
// errors.Is(err, c) holds. A nil or OK code yields nil.
func Wrap(op string, c Code) error {
	if c == "" || c == OK {
		return nil
	}
	return &E{C: c, Op: op, Err: c}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// IsBusFault reports whether c was observed on the wire (as opposed to a
// synchronous reject raised before any bus activity).
func IsBusFault(c Code) bool {
	switch c {
	case AddressNack, DataNack, ArbitrationLost, BusError:
		return true
	}
	return false
}
