package backend

import (
	"testing"

	"github.com/labjack-tools/labjacker/sensors"
)

// The session goroutine registers headings and inserts samples while the UI
// polls the same dataset, so concurrent access must be safe. Run with the
// race detector to catch regressions here.
func TestDatasetConcurrentReadsDuringInserts(t *testing.T) {
	ds := &Dataset{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			ds.SetHeadings(
				[]string{"vdiff (V)"},
				[]sensors.Unit{sensors.Volts},
				[]int{i},
			)
			ds.Insert(Sample{
				StartTimestampNS: int64(i) * 1000,
				EndTimestampNS:   int64(i)*1000 + 1000,
				Series:           i,
				Value:            float64(i),
				Unit:             sensors.Volts,
			})
		}
	}()
	for {
		select {
		case <-done:
			if !ds.Initialized() {
				t.Error("expected dataset to be initialized after inserts")
			}
			if _, ok := ds.ByName("vdiff (V)"); !ok {
				t.Error("expected to find the inserted series")
			}
			return
		default:
			ds.Initialized()
			ds.Domain()
			if s, ok := ds.ByName("vdiff (V)"); ok {
				s.ValuesBetween(0, 1000)
			}
		}
	}
}
