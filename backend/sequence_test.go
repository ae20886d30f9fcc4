package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSequenceStepsReturnValvesToStart(t *testing.T) {
	steps := sequenceSteps(time.Second)
	toggles := map[int]int{}
	for _, step := range steps {
		if step.valve != 0 {
			toggles[step.valve]++
		}
	}
	for valve := 1; valve <= 4; valve++ {
		if toggles[valve]%2 != 0 {
			t.Errorf("valve %d is toggled %d times, leaving it open after the sequence", valve, toggles[valve])
		}
	}
	if steps[0].msg != "sequence starting ..." || !steps[0].logState {
		t.Errorf("expected the first step to log the initial state")
	}
}

func TestSequenceConfigValidate(t *testing.T) {
	valid := SequenceConfig{
		SampleName:   "sample-a",
		StepInterval: 30 * time.Second,
		LoopCount:    2,
		LogPath:      "out.csv",
	}
	if err := valid.validate(); err != nil {
		t.Errorf("expected valid config to pass, got: %v", err)
	}
	for name, mangle := range map[string]func(*SequenceConfig){
		"missing log path":    func(c *SequenceConfig) { c.LogPath = "" },
		"missing sample name": func(c *SequenceConfig) { c.SampleName = "" },
		"zero interval":       func(c *SequenceConfig) { c.StepInterval = 0 },
		"zero loop count":     func(c *SequenceConfig) { c.LoopCount = 0 },
	} {
		cfg := valid
		mangle(&cfg)
		if err := cfg.validate(); err == nil {
			t.Errorf("expected config with %s to fail validation", name)
		}
	}
}

func TestSequencerRunning(t *testing.T) {
	s := &Sequencer{}
	if s.Running() {
		t.Error("new sequencer reports a running sequence")
	}
	s.addRunning(1)
	if !s.Running() {
		t.Error("expected an active sequence to be reported as running")
	}
	s.addRunning(-1)
	if s.Running() {
		t.Error("expected a finished sequence to clear the running state")
	}
}

func closedReading() Reading {
	var r Reading
	for i := range r.Valves {
		r.Valves[i] = Value{F: 1, OK: true}
	}
	return r
}

func TestCheckInitialState(t *testing.T) {
	if err := checkInitialState(closedReading()); err != nil {
		t.Errorf("expected all-closed valves to pass, got: %v", err)
	}
	open := closedReading()
	open.Valves[1] = Value{F: 0, OK: true}
	if err := checkInitialState(open); err == nil {
		t.Errorf("expected an open valve to fail the check")
	}
	unknown := closedReading()
	unknown.Valves[3] = Value{}
	if err := checkInitialState(unknown); err == nil {
		t.Errorf("expected an unknown valve state to fail the check")
	}
}

func TestAppendLogState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequence.csv")
	reading := closedReading()
	reading.Pressure = Value{F: 1.18298, OK: true}
	reading.AIN0 = Value{F: 2.5, OK: true}
	reading.AIN1 = Value{F: 7.52, OK: true}
	reading.VDiff = Value{F: 5.02, OK: true}
	reading.Valves[0] = Value{F: 0, OK: true}

	if err := appendLogState(path, "2026-08-29 10:00:00", "sample-a", reading); err != nil {
		t.Fatalf("failed writing state log: %v", err)
	}
	if err := appendLogState(path, "2026-08-29 10:00:30", "sample-a", reading); err != nil {
		t.Fatalf("failed appending state log: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed reading state log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines", len(lines))
	}
	expectedHeader := "date,sample_name,pressure,voltage_0,voltage_1,voltage_diff,valve_state_1,valve_state_2,valve_state_3,valve_state_4"
	if lines[0] != expectedHeader {
		t.Errorf("unexpected header %q", lines[0])
	}
	expectedRow := "2026-08-29 10:00:00,sample-a,1.18298,2.50000,7.52000,5.02000,Open,Closed,Closed,Closed"
	if lines[1] != expectedRow {
		t.Errorf("expected row %q, got %q", expectedRow, lines[1])
	}
}

func TestAppendLogStateAbsentValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequence.csv")
	var reading Reading
	if err := appendLogState(path, "2026-08-29 10:00:00", "sample-a", reading); err != nil {
		t.Fatalf("failed writing state log: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed reading state log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	expectedRow := "2026-08-29 10:00:00,sample-a,,,,,,,,"
	if lines[1] != expectedRow {
		t.Errorf("expected row %q, got %q", expectedRow, lines[1])
	}
}
