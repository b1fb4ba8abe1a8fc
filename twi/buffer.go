package twi

// BufferLength bounds any single physical transfer.
const BufferLength = 8

// Buffer is the fixed byte store shared by the active transaction and the
// event handler. It is only touched with the engine lock held.
type Buffer struct {
	data [BufferLength]byte
	idx  int // next byte to send, or next slot to fill
	end  int // bytes to send (transmit) or bytes expected (receive)
}

// Reset rewinds the buffer for a transfer of n bytes.
func (b *Buffer) Reset(n int) {
	b.idx = 0
	b.end = n
}

// Load copies p in for transmission.
func (b *Buffer) Load(p []byte) {
	b.Reset(copy(b.data[:], p))
}

// Pending reports whether bytes remain to be transmitted.
func (b *Buffer) Pending() bool { return b.idx < b.end }

// Next returns the next byte to transmit.
func (b *Buffer) Next() byte {
	c := b.data[b.idx]
	b.idx++
	return c
}

// Store appends a received byte. Bytes past capacity are dropped.
func (b *Buffer) Store(c byte) {
	if b.idx < len(b.data) {
		b.data[b.idx] = c
		b.idx++
	}
}

// WantMore reports whether the next received byte should be acknowledged.
// The controller sends the configured ACK/NACK in response to the byte it is
// about to receive, so NACK is armed once all but the last byte are stored.
func (b *Buffer) WantMore() bool { return b.idx < b.end-1 }

// Len is the number of bytes sent or received so far.
func (b *Buffer) Len() int { return b.idx }

// Bytes returns the bytes received so far.
func (b *Buffer) Bytes() []byte { return b.data[:b.idx] }
