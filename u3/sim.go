package u3

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Sim is an in-memory U3 that stands in for hardware: analog inputs are
// pseudo-random voltages in [0, 5) and the internal temperature wanders
// between 295 and 305 kelvin. Valve lines hold whatever state they were
// last driven to, starting closed (high). A fixed seed makes the reading
// stream reproducible.
type Sim struct {
	mu  sync.Mutex
	rng *rand.Rand
	fio map[int]bool
}

// OpenSim creates a simulated device. Seed 0 seeds from the clock.
func OpenSim(seed int64) *Sim {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fio := make(map[int]bool)
	for i := FirstValveFIO; i <= LastValveFIO; i++ {
		fio[i] = true
	}
	return &Sim{
		rng: rand.New(rand.NewSource(seed)),
		fio: fio,
	}
}

func (s *Sim) Config() (ConfigInfo, error) {
	return ConfigInfo{
		DeviceName:      "U3-HV",
		SerialNumber:    320048582,
		FirmwareVersion: "1.46",
		HardwareVersion: "1.30",
		LocalID:         1,
	}, nil
}

func (s *Sim) AIN(channel int) (float64, error) {
	if channel < 0 || channel > 3 {
		return 0, fmt.Errorf("analog channel %d out of range", channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 5.0, nil
}

func (s *Sim) Temperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 295.0 + s.rng.Float64()*10.0, nil
}

func (s *Sim) FIOState(fio int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.fio[fio]
	if !ok {
		return false, fmt.Errorf("FIO%d is not a valve line", fio)
	}
	return state, nil
}

func (s *Sim) SetFIOState(fio int, high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fio[fio]; !ok {
		return fmt.Errorf("FIO%d is not a valve line", fio)
	}
	s.fio[fio] = high
	return nil
}

func (s *Sim) Close() error {
	return nil
}

var _ Device = (*Sim)(nil)
