// Package env loads optional process configuration from the environment,
// overlaid with a .env file when one is present beside the working
// directory. Everything here has a usable zero value so that the app runs
// with no configuration at all.
package env

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// InfluxURL and friends configure the optional InfluxDB recording
	// sink. The sink is enabled only when both URL and bucket are set.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// MQTTBroker and MQTTTopic configure the optional MQTT recording
	// sink, enabled when both are set.
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string

	// CalibrationPath overrides the default calibration file location.
	CalibrationPath string

	// SampleInterval overrides the sampler polling interval.
	SampleInterval time.Duration
}

func (c Config) InfluxEnabled() bool {
	return c.InfluxURL != "" && c.InfluxBucket != ""
}

func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != "" && c.MQTTTopic != ""
}

// Load reads the .env file (if any) and the process environment. A missing
// .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed loading .env file: %w", err)
	}
	cfg := Config{
		InfluxURL:       os.Getenv("LABJACKER_INFLUX_URL"),
		InfluxToken:     os.Getenv("LABJACKER_INFLUX_TOKEN"),
		InfluxOrg:       os.Getenv("LABJACKER_INFLUX_ORG"),
		InfluxBucket:    os.Getenv("LABJACKER_INFLUX_BUCKET"),
		MQTTBroker:      os.Getenv("LABJACKER_MQTT_BROKER"),
		MQTTClientID:    os.Getenv("LABJACKER_MQTT_CLIENT_ID"),
		MQTTTopic:       os.Getenv("LABJACKER_MQTT_TOPIC"),
		CalibrationPath: os.Getenv("LABJACKER_CALIBRATION"),
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "labjacker"
	}
	if interval := os.Getenv("LABJACKER_SAMPLE_INTERVAL"); interval != "" {
		dur, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("malformed LABJACKER_SAMPLE_INTERVAL %q: %w", interval, err)
		}
		cfg.SampleInterval = dur
	}
	return cfg, nil
}
