// Package sensors defines the reading abstraction shared by the sampler
// binary and the UI, plus adapters exposing each U3 channel as a sensor.
package sensors

import (
	"github.com/labjack-tools/labjacker/u3"
)

type Unit uint8

func (u Unit) String() string {
	switch u {
	case Volts:
		return "V"
	case Celsius:
		return "degC"
	case PSI:
		return "psig"
	case State:
		return "state"
	default:
		return "?"
	}
}

const (
	Volts Unit = iota
	Celsius
	PSI
	State
	Unknown
)

const kelvinToCelsius = -273.15

type Sensor interface {
	Name() string
	Unit() Unit
	Read() (float64, error)
}

// ain exposes one analog input channel.
type ain struct {
	dev     u3.Device
	channel int
}

func (a ain) Name() string           { return names[a.channel] }
func (a ain) Unit() Unit             { return Volts }
func (a ain) Read() (float64, error) { return a.dev.AIN(a.channel) }

var names = []string{"ain0", "ain1", "ain2", "ain3"}

// diff reports the voltage difference between two analog channels. The
// pressure transducer is wired across AIN0 and AIN1, so the interesting
// signal is AIN1 - AIN0.
type diff struct {
	dev      u3.Device
	pos, neg int
}

func (d diff) Name() string { return "vdiff" }
func (d diff) Unit() Unit   { return Volts }

func (d diff) Read() (float64, error) {
	neg, err := d.dev.AIN(d.neg)
	if err != nil {
		return 0, err
	}
	pos, err := d.dev.AIN(d.pos)
	if err != nil {
		return 0, err
	}
	return pos - neg, nil
}

// temperature exposes the internal sensor in celsius.
type temperature struct {
	dev u3.Device
}

func (t temperature) Name() string { return "temperature" }
func (t temperature) Unit() Unit   { return Celsius }

func (t temperature) Read() (float64, error) {
	kelvin, err := t.dev.Temperature()
	if err != nil {
		return 0, err
	}
	return kelvin + kelvinToCelsius, nil
}

// fioLine exposes a valve line as 0 (open) or 1 (closed).
type fioLine struct {
	dev u3.Device
	fio int
}

func (f fioLine) Name() string {
	return "fio" + string(rune('0'+f.fio))
}

func (f fioLine) Unit() Unit { return State }

func (f fioLine) Read() (float64, error) {
	high, err := f.dev.FIOState(f.fio)
	if err != nil {
		return 0, err
	}
	if high {
		return 1, nil
	}
	return 0, nil
}

// ForDevice returns the full channel set the application samples, in the
// column order the CSV stream uses.
func ForDevice(dev u3.Device) []Sensor {
	list := []Sensor{
		temperature{dev: dev},
		ain{dev: dev, channel: 0},
		ain{dev: dev, channel: 1},
		diff{dev: dev, pos: 1, neg: 0},
	}
	for fio := u3.FirstValveFIO; fio <= u3.LastValveFIO; fio++ {
		list = append(list, fioLine{dev: dev, fio: fio})
	}
	return list
}
