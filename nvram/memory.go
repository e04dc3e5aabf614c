package nvram

import (
	"bytes"
	"sync"
)

// Memory is an in-process record for tests and dry runs. FailNext makes the
// following Persist call fail without touching the stored record.
type Memory struct {
	mu       sync.Mutex
	record   []byte
	failNext error
	writes   int
}

func NewMemory(initial []byte) *Memory {
	return &Memory{record: bytes.Clone(initial)}
}

func (m *Memory) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.record), nil
}

func (m *Memory) Persist(record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.record = bytes.Clone(record)
	m.writes++
	return nil
}

func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Writes counts successful Persist calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
