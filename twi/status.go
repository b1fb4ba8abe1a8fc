package twi

import "twiengine/errcode"

// Numeric status codes of the classic C interface, for callers that report
// over a byte-oriented channel.

// WriteStatus maps a Write outcome to
// 0 success, 1 length rejected, 2 address NACK, 3 data NACK, 4 other bus error.
func WriteStatus(err error) uint8 {
	switch errcode.Of(err) {
	case errcode.OK:
		return 0
	case errcode.BufferOverflow, errcode.InvalidLength:
		return 1
	case errcode.AddressNack:
		return 2
	case errcode.DataNack:
		return 3
	}
	return 4
}

// TryStatus maps a non-blocking claim outcome to 0 accepted, -1 busy,
// -2 other error.
func TryStatus(err error) int8 {
	switch errcode.Of(err) {
	case errcode.OK:
		return 0
	case errcode.Busy:
		return -1
	}
	return -2
}

// QueueStatus maps an enqueue outcome to 0 accepted, -1 slot occupied,
// -2 invalid priority (or otherwise invalid request).
func QueueStatus(err error) int8 {
	switch errcode.Of(err) {
	case errcode.OK:
		return 0
	case errcode.SlotOccupied:
		return -1
	}
	return -2
}
