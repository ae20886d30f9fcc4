package backend

import (
	"sync"

	"github.com/labjack-tools/labjacker/sensors"
)

type DataSeries interface {
	Name() string
	Unit() sensors.Unit
	Initialized() bool
	Domain() (min int64, max int64)
	Insert(sample Sample) (inserted bool)
	ValuesBetween(timestampA, timestampB int64) (maximum, mean, minimum float64, ok bool)
	ValueRange() (min float64, max float64)
	Last() (Sample, bool)
}

// Dataset is shared between the session goroutine and the UI, so the series
// list is guarded. Individual series synchronize their own sample data.
type Dataset struct {
	lock   sync.RWMutex
	series []DataSeries
	// seriesMapping maps from series identifiers used by the backend to
	// the index of a series in this structure.
	seriesMapping map[int]int
}

func (d *Dataset) Initialized() bool {
	d.lock.RLock()
	defer d.lock.RUnlock()
	if len(d.series) < 1 {
		return false
	}
	init := true
	for _, s := range d.series {
		init = init && s.Initialized()
	}
	return init
}

func (d *Dataset) Domain() (dMin int64, dMax int64) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	for i, s := range d.series {
		sMin, sMax := s.Domain()
		if i == 0 {
			dMin, dMax = sMin, sMax
			continue
		}
		dMin = min(sMin, dMin)
		dMax = max(sMax, dMax)
	}
	return dMin, dMax
}

// SetHeadings populates the headings for a dataset. It must be invoked at least once
// prior to the first call to [Insert]. It may be invoked additional times to register
// new data series with their headings.
//
// The series slice provides the backend's ID for each heading, which is likely to differ
// from the index used to store the data in this type.
func (d *Dataset) SetHeadings(headings []string, units []sensors.Unit, series []int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.seriesMapping == nil {
		d.seriesMapping = make(map[int]int)
	}
	for i, identifier := range series {
		d.seriesMapping[identifier] = len(d.series)
		d.series = append(d.series, NewSeries(headings[i], units[i]))
	}
}

// Insert the sample. Will panic if the sample's Series does not have a heading previously
// registered via [SetHeadings].
func (d *Dataset) Insert(sample Sample) {
	d.lock.RLock()
	s := d.series[d.seriesMapping[sample.Series]]
	d.lock.RUnlock()
	s.Insert(sample)
}

// ByName returns the series with the given name, if present.
func (d *Dataset) ByName(name string) (DataSeries, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	for _, s := range d.series {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}
