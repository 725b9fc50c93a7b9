package actuator

import (
	"errors"
	"sync"
)

// MockDriver records the phase sequence it is asked to perform. It backs
// tests and the "none" servo driver mode (running the daemon on a bench
// without hardware attached).
type MockDriver struct {
	mu     sync.Mutex
	phases []string

	// FailOn, when non-empty, makes the named phase return FailErr.
	FailOn  string
	FailErr error
}

var errMockFault = errors.New("simulated hardware fault")

func (m *MockDriver) MoveToRest() error     { return m.record("rest") }
func (m *MockDriver) MoveToDispense() error { return m.record("dispense") }
func (m *MockDriver) Release() error        { return m.record("release") }

func (m *MockDriver) record(phase string) error {
	m.mu.Lock()
	m.phases = append(m.phases, phase)
	fail := m.FailOn == phase
	m.mu.Unlock()
	if fail {
		if m.FailErr != nil {
			return m.FailErr
		}
		return errMockFault
	}
	return nil
}

// Phases returns a copy of the recorded phase sequence.
func (m *MockDriver) Phases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.phases))
	copy(out, m.phases)
	return out
}
