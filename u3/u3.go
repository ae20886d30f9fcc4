// Package u3 provides access to a LabJack U3 data-acquisition device.
// The real device is reached through the vendor's exodriver shared
// library; a simulated device with the same interface is available on
// every platform for working without hardware attached.
package u3

// ConfigInfo describes the connected device.
type ConfigInfo struct {
	DeviceName      string
	SerialNumber    uint32
	FirmwareVersion string
	HardwareVersion string
	LocalID         byte
}

// Device is the capability the rest of the application consumes:
// analog inputs, the internal temperature sensor, and the FIO digital
// lines driving the valves.
type Device interface {
	// Config reports the device identity.
	Config() (ConfigInfo, error)
	// AIN reads an analog input channel, in volts.
	AIN(channel int) (float64, error)
	// Temperature reads the internal sensor, in kelvin.
	Temperature() (float64, error)
	// FIOState reads a digital line. High (true) means the attached
	// valve is closed.
	FIOState(fio int) (bool, error)
	// SetFIOState drives a digital line.
	SetFIOState(fio int, high bool) error
	Close() error
}

// Valve lines occupy FIO4 through FIO7; FIO0-FIO3 are configured as
// analog inputs.
const (
	FirstValveFIO = 4
	LastValveFIO  = 7
)
