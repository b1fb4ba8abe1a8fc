package twi

import "twiengine/errcode"

// action is the hardware side effect chosen for one phase event.
type action uint8

const (
	actNone       action = iota
	actAddress           // transmit SLA+R/W
	actRegister          // transmit the register address
	actData              // transmit the next buffered byte
	actAck               // receive the next byte and acknowledge it
	actNack              // receive the next byte, NACK it (last byte)
	actTurnaround        // flip SLA to read and restart
	actRewrite           // merge the read byte, flip SLA to write, repeated start
	actStop              // stop condition, Ready, dispatch
	actRelease           // release the bus without a stop, Ready, dispatch
)

func (a action) String() string {
	switch a {
	case actNone:
		return "none"
	case actAddress:
		return "address"
	case actRegister:
		return "register"
	case actData:
		return "data"
	case actAck:
		return "ack"
	case actNack:
		return "nack"
	case actTurnaround:
		return "turnaround"
	case actRewrite:
		return "rewrite"
	case actStop:
		return "stop"
	case actRelease:
		return "release"
	}
	return "unknown"
}

// next is the bus transition function. more is the buffer condition for the
// phase: bytes left to send on MT acks, "ACK the next byte" on MR phases.
// A non-empty code is recorded in the error record.
func next(s State, p Phase, more bool) (State, action, errcode.Code) {
	if s == Ready {
		return Ready, actNone, ""
	}
	switch p {
	case Start, RepStart:
		return s, actAddress, ""
	case NoInfo:
		return s, actNone, ""
	case ArbLost:
		return Ready, actRelease, errcode.ArbitrationLost
	case MTSlaAck, MTSlaNack, MTDataAck, MTDataNack:
		return transmitPhase(s, p, more)
	case MRSlaAck, MRSlaNack, MRDataAck, MRDataNack:
		return receivePhase(s, p, more)
	}
	// BusError and anything unrecognised.
	return Ready, actStop, errcode.BusError
}

func transmitPhase(s State, p Phase, more bool) (State, action, errcode.Code) {
	if s == MasterReceive {
		return Ready, actStop, errcode.BusError
	}
	switch p {
	case MTSlaNack:
		return Ready, actStop, errcode.AddressNack
	case MTDataNack:
		return Ready, actStop, errcode.DataNack
	}
	if s == MasterTransmit {
		if more {
			return s, actData, ""
		}
		return Ready, actStop, ""
	}
	// Register phase of a register read or read-modify-write.
	if p == MTSlaAck {
		return s, actRegister, ""
	}
	if s == MasterTransmitThenReceive {
		return MasterReceive, actTurnaround, ""
	}
	return s, actTurnaround, ""
}

func receivePhase(s State, p Phase, more bool) (State, action, errcode.Code) {
	if s != MasterReceive && s != MasterReadModifyWrite {
		return Ready, actStop, errcode.BusError
	}
	switch p {
	case MRSlaNack:
		return Ready, actStop, errcode.AddressNack
	case MRDataNack:
		if s == MasterReadModifyWrite {
			return MasterTransmit, actRewrite, ""
		}
		return Ready, actStop, ""
	}
	if more {
		return s, actAck, ""
	}
	return s, actNack, ""
}
