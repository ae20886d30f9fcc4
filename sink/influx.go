// Package sink forwards completed readings to external recording systems.
// Sinks are optional and failures are reported to the caller for logging,
// never treated as fatal.
package sink

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/labjack-tools/labjacker/backend"
	"github.com/labjack-tools/labjacker/env"
	"github.com/labjack-tools/labjacker/u3"
)

// InfluxSink records readings to an InfluxDB 2.x bucket.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

var _ backend.Recorder = (*InfluxSink)(nil)

func NewInfluxSink(cfg env.Config) *InfluxSink {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
	}
}

func (s *InfluxSink) Record(ctx context.Context, device u3.ConfigInfo, r backend.Reading) error {
	fields := map[string]interface{}{}
	addField := func(name string, v backend.Value) {
		if v.OK {
			fields[name] = v.F
		}
	}
	addField("pressure_psig", r.Pressure)
	addField("vdiff_v", r.VDiff)
	addField("ain0_v", r.AIN0)
	addField("ain1_v", r.AIN1)
	addField("temperature_c", r.Temperature)
	for fio := u3.FirstValveFIO; fio <= u3.LastValveFIO; fio++ {
		if closed, known := r.ValveClosed(fio); known {
			state := 0
			if closed {
				state = 1
			}
			fields["fio"+strconv.Itoa(fio)] = state
		}
	}
	if len(fields) == 0 {
		return nil
	}
	point := influxdb2.NewPoint(
		"labjacker",
		map[string]string{
			"device": device.DeviceName,
			"serial": strconv.FormatUint(uint64(device.SerialNumber), 10),
		},
		fields,
		time.Unix(0, r.EndTimestampNS),
	)
	return s.writeAPI.WritePoint(ctx, point)
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
