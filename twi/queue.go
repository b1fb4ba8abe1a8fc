package twi

import "twiengine/errcode"

// QueueLevels is the number of priority levels; 0 is the highest.
const QueueLevels = 4

// ReadRequest is a register read awaiting dispatch. The request is owned by
// the caller and must stay untouched until Done runs (or, without Done, until
// the caller has observed completion).
type ReadRequest struct {
	Addr uint8
	Reg  uint8
	Dst  []byte // 1..BufferLength bytes, filled at completion
	// Done, if set, runs on the event loop once the transaction completes.
	// It must not block.
	Done func(Result)
}

// MaskedWrite is a register read-modify-write awaiting dispatch.
type MaskedWrite struct {
	Addr uint8
	Reg  uint8
	Data uint8
	Mask uint8 // only bits set here are modified
	Done func(Result)
}

// queue holds at most one pending read and one pending masked write per level.
type queue struct {
	reads  [QueueLevels]*ReadRequest
	writes [QueueLevels]*MaskedWrite
}

func checkPriority(prio int) error {
	if prio < 0 || prio >= QueueLevels {
		return errcode.InvalidPriority
	}
	return nil
}

// EnqueueRead places r in the read slot of level prio. A second request for an
// occupied slot is rejected with errcode.SlotOccupied; the pending one is left
// intact. If the bus is Ready the highest-priority request is dispatched at once.
func (e *Engine) EnqueueRead(r *ReadRequest, prio int) error {
	if err := checkPriority(prio); err != nil {
		return err
	}
	if r == nil {
		return errcode.InvalidParams
	}
	if err := checkRequest(r.Addr, len(r.Dst)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.reads[prio] != nil {
		return errcode.SlotOccupied
	}
	e.queue.reads[prio] = r
	if e.state == Ready {
		e.dispatch()
	}
	return nil
}

// EnqueueMaskedWrite places w in the write slot of level prio, with the same
// rules as EnqueueRead.
func (e *Engine) EnqueueMaskedWrite(w *MaskedWrite, prio int) error {
	if err := checkPriority(prio); err != nil {
		return err
	}
	if w == nil {
		return errcode.InvalidParams
	}
	if err := checkAddr(w.Addr); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue.writes[prio] != nil {
		return errcode.SlotOccupied
	}
	e.queue.writes[prio] = w
	if e.state == Ready {
		e.dispatch()
	}
	return nil
}

// Pending reports which slots of level prio are occupied.
func (e *Engine) Pending(prio int) (read, write bool) {
	if checkPriority(prio) != nil {
		return false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.reads[prio] != nil, e.queue.writes[prio] != nil
}

// dispatch starts the first pending request found scanning levels from 0,
// the read slot before the write slot of each level. At most one request is
// dispatched per call; lower levels can starve under sustained traffic at
// higher ones. caller holds lock
func (e *Engine) dispatch() {
	if e.state != Ready {
		return
	}
	for p := 0; p < QueueLevels; p++ {
		if r := e.queue.reads[p]; r != nil {
			e.startReadRegister(r.Addr, r.Reg, r.Dst, r.Done)
			e.queue.reads[p] = nil
			e.stats.Dispatched++
			return
		}
		if w := e.queue.writes[p]; w != nil {
			e.startReadModifyWrite(w.Addr, w.Reg, w.Data, w.Mask, w.Done)
			e.queue.writes[p] = nil
			e.stats.Dispatched++
			return
		}
	}
}
