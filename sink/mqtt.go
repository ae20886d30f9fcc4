package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/labjack-tools/labjacker/backend"
	"github.com/labjack-tools/labjacker/env"
	"github.com/labjack-tools/labjacker/u3"
)

// MQTTSink publishes each reading as a JSON payload to a single topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

var _ backend.Recorder = (*MQTTSink)(nil)

func NewMQTTSink(cfg env.Config) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed connecting to MQTT broker %q: %w", cfg.MQTTBroker, token.Error())
	}
	return &MQTTSink{client: client, topic: cfg.MQTTTopic}, nil
}

// readingPayload is the published JSON shape. Absent channels are null.
type readingPayload struct {
	Device      string             `json:"device"`
	Serial      uint32             `json:"serial"`
	TimestampNS int64              `json:"timestamp_ns"`
	Pressure    *float64           `json:"pressure_psig"`
	VDiff       *float64           `json:"vdiff_v"`
	AIN0        *float64           `json:"ain0_v"`
	AIN1        *float64           `json:"ain1_v"`
	Temperature *float64           `json:"temperature_c"`
	Valves      map[string]*string `json:"valves"`
}

func optional(v backend.Value) *float64 {
	if !v.OK {
		return nil
	}
	f := v.F
	return &f
}

func payloadFor(device u3.ConfigInfo, r backend.Reading) readingPayload {
	p := readingPayload{
		Device:      device.DeviceName,
		Serial:      device.SerialNumber,
		TimestampNS: r.EndTimestampNS,
		Pressure:    optional(r.Pressure),
		VDiff:       optional(r.VDiff),
		AIN0:        optional(r.AIN0),
		AIN1:        optional(r.AIN1),
		Temperature: optional(r.Temperature),
		Valves:      map[string]*string{},
	}
	for fio := u3.FirstValveFIO; fio <= u3.LastValveFIO; fio++ {
		key := "fio" + strconv.Itoa(fio)
		if closed, known := r.ValveClosed(fio); known {
			state := "Open"
			if closed {
				state = "Closed"
			}
			p.Valves[key] = &state
		} else {
			p.Valves[key] = nil
		}
	}
	return p
}

func (s *MQTTSink) Record(ctx context.Context, device u3.ConfigInfo, r backend.Reading) error {
	payload, err := json.Marshal(payloadFor(device, r))
	if err != nil {
		return fmt.Errorf("failed marshaling reading: %w", err)
	}
	if token := s.client.Publish(s.topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed publishing reading: %w", token.Error())
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
