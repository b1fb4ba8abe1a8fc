package twi

// State is the bus ownership token. Exactly one value holds at any instant;
// every state other than Ready means a transaction owns the bus.
type State uint8

const (
	Ready State = iota
	MasterTransmit
	MasterReceive
	MasterTransmitThenReceive // register read: address phase, then turnaround to receive
	MasterReadModifyWrite     // one-byte register read, masked merge, two-byte write back
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case MasterTransmit:
		return "master_transmit"
	case MasterReceive:
		return "master_receive"
	case MasterTransmitThenReceive:
		return "master_transmit_then_receive"
	case MasterReadModifyWrite:
		return "master_read_modify_write"
	}
	return "unknown"
}

// Phase is the status code reported by the controller when a bus phase
// completes. Values match the AVR TWSR master-mode status codes.
type Phase uint8

const (
	BusError   Phase = 0x00 // illegal start/stop
	Start      Phase = 0x08
	RepStart   Phase = 0x10
	MTSlaAck   Phase = 0x18
	MTSlaNack  Phase = 0x20
	MTDataAck  Phase = 0x28
	MTDataNack Phase = 0x30
	ArbLost    Phase = 0x38 // shared by transmit and receive
	MRSlaAck   Phase = 0x40
	MRSlaNack  Phase = 0x48
	MRDataAck  Phase = 0x50
	MRDataNack Phase = 0x58
	NoInfo     Phase = 0xF8
)

func (p Phase) String() string {
	switch p {
	case BusError:
		return "bus_error"
	case Start:
		return "start"
	case RepStart:
		return "rep_start"
	case MTSlaAck:
		return "mt_sla_ack"
	case MTSlaNack:
		return "mt_sla_nack"
	case MTDataAck:
		return "mt_data_ack"
	case MTDataNack:
		return "mt_data_nack"
	case ArbLost:
		return "arb_lost"
	case MRSlaAck:
		return "mr_sla_ack"
	case MRSlaNack:
		return "mr_sla_nack"
	case MRDataAck:
		return "mr_data_ack"
	case MRDataNack:
		return "mr_data_nack"
	case NoInfo:
		return "no_info"
	}
	return "unknown"
}

// Event is one "byte phase complete" signal from the controller.
// Data carries the received byte for MRDataAck and MRDataNack.
type Event struct {
	Phase Phase
	Data  byte
}

// Direction bit of the SLA+R/W byte.
const (
	dirWrite byte = 0
	dirRead  byte = 1
)
