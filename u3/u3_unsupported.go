//go:build !linux || !cgo

package u3

import "fmt"

// Open fails on platforms without exodriver support. The simulated
// device remains available everywhere.
func Open() (Device, error) {
	return nil, fmt.Errorf("U3 hardware access requires the LabJack exodriver, which is only supported on linux")
}
