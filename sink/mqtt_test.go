package sink

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/labjack-tools/labjacker/backend"
	"github.com/labjack-tools/labjacker/u3"
)

func TestPayloadFor(t *testing.T) {
	device := u3.ConfigInfo{
		DeviceName:   "U3-HV",
		SerialNumber: 320048582,
	}
	r := backend.Reading{
		EndTimestampNS: 1234,
		Pressure:       backend.Value{F: 1.18, OK: true},
		VDiff:          backend.Value{F: 5.02, OK: true},
	}
	r.Valves[0] = backend.Value{F: 1, OK: true}
	r.Valves[1] = backend.Value{F: 0, OK: true}

	payload, err := json.Marshal(payloadFor(device, r))
	if err != nil {
		t.Fatalf("failed marshaling payload: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("failed decoding payload: %v", err)
	}
	if decoded["device"] != "U3-HV" {
		t.Errorf("expected device U3-HV, got %v", decoded["device"])
	}
	if decoded["pressure_psig"] != 1.18 {
		t.Errorf("expected pressure 1.18, got %v", decoded["pressure_psig"])
	}
	if decoded["ain0_v"] != nil {
		t.Errorf("expected absent ain0 to be null, got %v", decoded["ain0_v"])
	}
	valves, ok := decoded["valves"].(map[string]any)
	if !ok {
		t.Fatalf("expected valves object, got %T", decoded["valves"])
	}
	if valves["fio4"] != "Closed" {
		t.Errorf("expected fio4 Closed, got %v", valves["fio4"])
	}
	if valves["fio5"] != "Open" {
		t.Errorf("expected fio5 Open, got %v", valves["fio5"])
	}
	if valves["fio6"] != nil {
		t.Errorf("expected unknown fio6 to be null, got %v", valves["fio6"])
	}
	if !strings.Contains(string(payload), `"serial":320048582`) {
		t.Errorf("expected serial in payload, got %s", payload)
	}
}
