package backend

import (
	"testing"

	"github.com/labjack-tools/labjacker/sensors"
)

func makeTestSeries(t *testing.T, interval, sampleCount int64) *Series {
	s := NewSeries("pressure (psig)", sensors.PSI)
	for i := int64(0); i < sampleCount; i++ {
		sample := Sample{
			StartTimestampNS: i * interval,
			EndTimestampNS:   (i + 1) * interval,
			Value:            float64(i),
		}
		ok := s.Insert(sample)
		if !ok {
			t.Errorf("inserting non-overlapping samples should always be okay, but sample %d failed", i)
		}
	}
	return s
}

func TestSeries(t *testing.T) {
	interval := int64(1000)
	sampleCount := int64(10)
	s := makeTestSeries(t, interval, sampleCount)
	halfSample := interval / 2
	for i := int64(0); i < sampleCount*2; i++ {
		max, mean, min, ok := s.ValuesBetween(i*halfSample, (i+1)*halfSample)
		if !ok {
			t.Errorf("querying values in range should always be okay, value %d was not", i)
		}
		if min != mean || mean != max {
			t.Errorf("min, mean, and max should all be equal within one sample, value %d has %f %f %f", i, min, mean, max)
		}
		if expected := float64(i / 2); mean != expected {
			t.Errorf("query %d: expected value %f, got %f", i, expected, mean)
		}
	}
}

func TestSeriesWeightedMean(t *testing.T) {
	interval := int64(1000)
	s := makeTestSeries(t, interval, 10)
	// The interval [500,2500) covers half of sample 0, all of sample 1, and
	// half of sample 2.
	max, mean, min, ok := s.ValuesBetween(500, 2500)
	if !ok {
		t.Fatalf("querying values in range should be okay")
	}
	if min != 0 || max != 2 {
		t.Errorf("expected extrema [0,2], got [%f,%f]", min, max)
	}
	if expected := (0*500 + 1*1000 + 2*500) / 2000.0; mean != expected {
		t.Errorf("expected weighted mean %f, got %f", expected, mean)
	}
}

func TestSeriesRejectsOverlap(t *testing.T) {
	s := makeTestSeries(t, 1000, 10)
	if s.Insert(Sample{StartTimestampNS: 500, EndTimestampNS: 1500, Value: 42}) {
		t.Errorf("expected overlapping sample to be rejected")
	}
	if _, _, _, ok := s.ValuesBetween(20_000, 30_000); ok {
		t.Errorf("expected out-of-domain query to fail")
	}
}

func TestSeriesLast(t *testing.T) {
	s := NewSeries("vdiff (V)", sensors.Volts)
	if _, ok := s.Last(); ok {
		t.Errorf("expected empty series to have no last sample")
	}
	s.Insert(Sample{StartTimestampNS: 0, EndTimestampNS: 1000, Value: 1.5})
	s.Insert(Sample{StartTimestampNS: 1000, EndTimestampNS: 2000, Value: 2.5})
	last, ok := s.Last()
	if !ok {
		t.Fatalf("expected populated series to have a last sample")
	}
	if last.Value != 2.5 || last.EndTimestampNS != 2000 {
		t.Errorf("unexpected last sample: %+v", last)
	}
	rMin, rMax := s.ValueRange()
	if rMin != 1.5 || rMax != 2.5 {
		t.Errorf("expected value range [1.5,2.5], got [%f,%f]", rMin, rMax)
	}
}
