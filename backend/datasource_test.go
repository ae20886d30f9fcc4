package backend

import (
	"errors"
	"strings"
	"testing"

	"github.com/labjack-tools/labjacker/calibration"
	"github.com/labjack-tools/labjacker/sensors"
)

func TestSplitHeading(t *testing.T) {
	for _, tc := range []struct {
		heading string
		name    string
		unit    sensors.Unit
	}{
		{heading: "ain0 (V)", name: "ain0", unit: sensors.Volts},
		{heading: "vdiff (V)", name: "vdiff", unit: sensors.Volts},
		{heading: "temperature (degC)", name: "temperature", unit: sensors.Celsius},
		{heading: "pressure (psig)", name: "pressure", unit: sensors.PSI},
		{heading: "fio4", name: "fio4", unit: sensors.State},
		{heading: "mystery (furlongs)", name: "mystery", unit: sensors.Unknown},
	} {
		name, unit := splitHeading(tc.heading)
		if name != tc.name || unit != tc.unit {
			t.Errorf("splitHeading(%q) = %q, %v; expected %q, %v", tc.heading, name, unit, tc.name, tc.unit)
		}
	}
}

func TestParseDeviceLine(t *testing.T) {
	cfg, err := parseDeviceLine("# device U3-HV serial 320048582 firmware 1.46 hardware 1.30")
	if err != nil {
		t.Fatalf("failed parsing device line: %v", err)
	}
	if cfg.DeviceName != "U3-HV" {
		t.Errorf("expected device name U3-HV, got %q", cfg.DeviceName)
	}
	if cfg.SerialNumber != 320048582 {
		t.Errorf("expected serial 320048582, got %d", cfg.SerialNumber)
	}
	if cfg.FirmwareVersion != "1.46" || cfg.HardwareVersion != "1.30" {
		t.Errorf("unexpected versions %q %q", cfg.FirmwareVersion, cfg.HardwareVersion)
	}
	for _, malformed := range []string{
		"# device",
		"# device U3-HV serial notanumber firmware 1.46 hardware 1.30",
		"# device U3-HV firmware 1.46 serial 320048582 hardware 1.30",
	} {
		if _, err := parseDeviceLine(malformed); err == nil {
			t.Errorf("expected %q to fail parsing", malformed)
		}
	}
}

func testColumns() map[string]int {
	return map[string]int{
		"temperature": 0,
		"ain0":        1,
		"ain1":        2,
		"vdiff":       3,
		"fio4":        4,
		"fio5":        5,
		"fio6":        6,
		"fio7":        7,
	}
}

func testDatasource(t *testing.T) *Datasource {
	t.Helper()
	return &Datasource{converter: calibration.NewConverter(calibration.Default())}
}

func TestAssembleReading(t *testing.T) {
	ds := testDatasource(t)
	row := Row{
		StartTimestampNS: 1000,
		EndTimestampNS:   2000,
		Cells: []Value{
			{F: 25.5, OK: true},
			{F: 2.5, OK: true},
			{F: 7.52, OK: true},
			{F: 5.02, OK: true},
			{F: 1, OK: true},
			{F: 1, OK: true},
			{F: 0, OK: true},
			{F: 1, OK: true},
		},
	}
	reading, readErr := ds.assembleReading(row, testColumns())
	if readErr != "" {
		t.Errorf("expected complete row to have no read error, got %q", readErr)
	}
	if !reading.Pressure.OK {
		t.Fatalf("expected pressure to be computed")
	}
	expected := (5.0221 * 5.02) - 24.036
	if diff := reading.Pressure.F - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected pressure %f, got %f", expected, reading.Pressure.F)
	}
	if closed, known := reading.ValveClosed(6); !known || closed {
		t.Errorf("expected valve on FIO6 to be known open")
	}
	if closed, known := reading.ValveClosed(7); !known || !closed {
		t.Errorf("expected valve on FIO7 to be known closed")
	}
}

func TestAssembleReadingVDiffFallback(t *testing.T) {
	ds := testDatasource(t)
	row := Row{
		Cells: []Value{
			{F: 25.5, OK: true},
			{F: 2.5, OK: true},
			{F: 7.52, OK: true},
			{}, // vdiff read failed
			{F: 1, OK: true},
			{F: 1, OK: true},
			{F: 1, OK: true},
			{F: 1, OK: true},
		},
	}
	reading, readErr := ds.assembleReading(row, testColumns())
	if readErr == "" {
		t.Errorf("expected a read error for the failed vdiff channel")
	}
	if !reading.Pressure.OK {
		t.Fatalf("expected pressure computed from ain1-ain0")
	}
	expected := (5.0221 * (7.52 - 2.5)) - 24.036
	if diff := reading.Pressure.F - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected pressure %f, got %f", expected, reading.Pressure.F)
	}
}

type failingReader struct {
	err error
}

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }
func (f failingReader) Close() error             { return nil }

func TestReadSourceReportsStreamFailure(t *testing.T) {
	ds := testDatasource(t)
	input := make(chan InputData, 4)
	streamErr := errors.New("sensor process exited: exit status 1")
	ds.readSource(failingReader{err: streamErr}, input)
	in := <-input
	if in.Kind != KindError {
		t.Fatalf("expected a stream error input, got kind %d", in.Kind)
	}
	if !errors.Is(in.Err, streamErr) {
		t.Errorf("expected error wrapping %v, got %v", streamErr, in.Err)
	}
}

func TestReadSourceReportsEmptyStream(t *testing.T) {
	ds := testDatasource(t)
	input := make(chan InputData, 4)
	ds.readSource(strings.NewReader(""), input)
	in := <-input
	if in.Kind != KindError || in.Err == nil {
		t.Fatalf("expected an error input for an empty stream, got kind %d err %v", in.Kind, in.Err)
	}
}

func TestAssembleReadingAllChannelsFailed(t *testing.T) {
	ds := testDatasource(t)
	row := Row{Cells: make([]Value, 8)}
	reading, readErr := ds.assembleReading(row, testColumns())
	if readErr == "" {
		t.Errorf("expected a read error when every channel fails")
	}
	if reading.Pressure.OK {
		t.Errorf("expected no pressure without any voltage readings")
	}
	if _, known := reading.ValveClosed(4); known {
		t.Errorf("expected unknown valve state for failed FIO read")
	}
}
