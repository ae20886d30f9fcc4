package sensors

import (
	"testing"

	"github.com/labjack-tools/labjacker/u3"
)

func TestForDeviceChannelSet(t *testing.T) {
	dev := u3.OpenSim(3)
	list := ForDevice(dev)
	wantNames := []string{"temperature", "ain0", "ain1", "vdiff", "fio4", "fio5", "fio6", "fio7"}
	if len(list) != len(wantNames) {
		t.Fatalf("got %d sensors, want %d", len(list), len(wantNames))
	}
	for i, s := range list {
		if s.Name() != wantNames[i] {
			t.Errorf("sensor %d named %q, want %q", i, s.Name(), wantNames[i])
		}
	}
	if list[0].Unit() != Celsius {
		t.Errorf("temperature unit = %v, want Celsius", list[0].Unit())
	}
	if list[3].Unit() != Volts {
		t.Errorf("vdiff unit = %v, want Volts", list[3].Unit())
	}
	if list[4].Unit() != State {
		t.Errorf("fio4 unit = %v, want State", list[4].Unit())
	}
}

func TestTemperatureInCelsius(t *testing.T) {
	dev := u3.OpenSim(9)
	temp := ForDevice(dev)[0]
	for i := 0; i < 50; i++ {
		c, err := temp.Read()
		if err != nil {
			t.Fatal(err)
		}
		// Sim emits 295-305 K.
		if c < 21.8 || c > 31.9 {
			t.Errorf("temperature %g degC outside expected simulated range", c)
		}
	}
}

func TestValveLineReading(t *testing.T) {
	dev := u3.OpenSim(4)
	fio4 := ForDevice(dev)[4]
	v, err := fio4.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("fio4 initial reading = %g, want 1 (closed)", v)
	}
	if err := dev.SetFIOState(4, false); err != nil {
		t.Fatal(err)
	}
	v, err = fio4.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("fio4 after opening = %g, want 0", v)
	}
}
