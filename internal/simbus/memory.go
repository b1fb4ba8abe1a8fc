package simbus

import "sync"

// Memory is a generic register-file slave: the first byte written after an
// address phase sets the register pointer; later writes store and advance it;
// reads return and advance it. The pointer wraps at the end of the file.
type Memory struct {
	mu    sync.Mutex
	regs  []byte
	ptr   int
	first bool // next written byte is the pointer
}

// NewMemory returns a zeroed register file of size bytes (1..256).
func NewMemory(size int) *Memory {
	if size < 1 {
		size = 1
	}
	if size > 256 {
		size = 256
	}
	return &Memory{regs: make([]byte, size)}
}

// Reg returns the value of register r.
func (m *Memory) Reg(r byte) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[int(r)%len(m.regs)]
}

// SetReg sets register r without bus traffic.
func (m *Memory) SetReg(r, v byte) {
	m.mu.Lock()
	m.regs[int(r)%len(m.regs)] = v
	m.mu.Unlock()
}

func (m *Memory) Select(read bool) bool {
	m.mu.Lock()
	m.first = !read
	m.mu.Unlock()
	return true
}

func (m *Memory) Write(b byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.first {
		m.first = false
		m.ptr = int(b) % len(m.regs)
		return true
	}
	m.regs[m.ptr] = b
	m.ptr = (m.ptr + 1) % len(m.regs)
	return true
}

func (m *Memory) Read() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.regs[m.ptr]
	m.ptr = (m.ptr + 1) % len(m.regs)
	return v
}

func (m *Memory) Stop() {}
