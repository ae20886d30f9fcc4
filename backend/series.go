package backend

import (
	"sort"
	"sync"

	"github.com/labjack-tools/labjacker/sensors"
)

// Series represents one data set in a visualization.
type Series struct {
	lock                 sync.RWMutex
	startTimestamps      []int64
	endTimestamps        []int64
	values               []float64
	rangeMax, rangeMin   float64
	domainMin, domainMax int64
	name                 string
	unit                 sensors.Unit
	initialized          bool
}

func NewSeries(name string, unit sensors.Unit) *Series {
	return &Series{name: name, unit: unit}
}

func (s *Series) Name() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.name
}

func (s *Series) Unit() sensors.Unit {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.unit
}

func (s *Series) Initialized() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.initialized
}

func (s *Series) Domain() (min int64, max int64) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.domainMin, s.domainMax
}

func (s *Series) ValueRange() (min float64, max float64) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.rangeMin, s.rangeMax
}

// Last returns the most recently inserted sample, if any.
func (s *Series) Last() (Sample, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if len(s.values) < 1 {
		return Sample{}, false
	}
	idx := len(s.values) - 1
	return Sample{
		StartTimestampNS: s.startTimestamps[idx],
		EndTimestampNS:   s.endTimestamps[idx],
		Value:            s.values[idx],
		Unit:             s.unit,
	}, true
}

// Insert adds a value at a given timestamp to the series. In the event
// that the series already contains a value at that time, nothing is added
// and the method returns false. Otherwise, the method returns true.
func (s *Series) Insert(sample Sample) (inserted bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.initialized {
		s.domainMin = sample.StartTimestampNS
		s.domainMax = sample.StartTimestampNS
		s.initialized = true
	}
	if len(s.endTimestamps) > 0 && s.endTimestamps[len(s.endTimestamps)-1] > sample.StartTimestampNS {
		// Reject samples with times overlapping the existing data in the series.
		return false
	}
	s.domainMin = min(sample.StartTimestampNS, s.domainMin)
	s.domainMax = max(sample.EndTimestampNS, s.domainMax)

	if len(s.startTimestamps) < 1 {
		s.rangeMax = sample.Value
		s.rangeMin = sample.Value
	} else {
		s.rangeMax = max(s.rangeMax, sample.Value)
		s.rangeMin = min(s.rangeMin, sample.Value)
	}
	s.startTimestamps = append(s.startTimestamps, sample.StartTimestampNS)
	s.endTimestamps = append(s.endTimestamps, sample.EndTimestampNS)
	s.values = append(s.values, sample.Value)
	return true
}

// ValuesBetween returns statistics about the measured values in the half-open time
// interval [timestampA,timestampB). The mean is weighted by how long each sample's
// measurement interval overlaps the queried interval. If timestampB is less than
// timestampA, the half open interval [timestampB,timestampA) will be queried. If
// the interval extends beyond the domain of the data, all data return values will
// be zero and the ok return value will be false.
func (s *Series) ValuesBetween(timestampA, timestampB int64) (maximum, mean, minimum float64, ok bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if len(s.startTimestamps) < 1 {
		return 0, 0, 0, false
	}
	if timestampB < timestampA {
		timestampA, timestampB = timestampB, timestampA
	}
	indexA := sort.Search(len(s.startTimestamps), func(i int) bool {
		return timestampA < s.endTimestamps[i]
	})
	if indexA == len(s.startTimestamps) {
		return 0, 0, 0, false
	}
	indexB := sort.Search(len(s.startTimestamps), func(i int) bool {
		return timestampB < s.endTimestamps[i]
	})
	if indexB == len(s.startTimestamps) {
		lastEnd := s.endTimestamps[len(s.endTimestamps)-1]
		if timestampB > lastEnd {
			return 0, 0, 0, false
		}
		// If the last timestamp is exactly equal to the end of the final time, then we can proceed.
		indexB--
	}
	if indexA == indexB {
		v := s.values[indexA]
		return v, v, v, true
	}
	values := s.values[indexA : indexB+1]
	hasExtrema := false
	var weightedSum float64
	var coveredNS int64
	for i, v := range values {
		sampleStart := s.startTimestamps[indexA+i]
		sampleEnd := s.endTimestamps[indexA+i]
		overlap := min(sampleEnd, timestampB) - max(sampleStart, timestampA)
		if overlap <= 0 {
			continue
		}
		weightedSum += v * float64(overlap)
		coveredNS += overlap
		if hasExtrema {
			maximum = max(maximum, v)
			minimum = min(minimum, v)
		} else {
			maximum = v
			minimum = v
			hasExtrema = true
		}
	}
	if coveredNS == 0 {
		return 0, 0, 0, false
	}
	mean = weightedSum / float64(coveredNS)
	return maximum, mean, minimum, true
}
