package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/ngbs"
)

// Measurement names.
const (
	MeasurementThermostat = "thermostat"
	MeasurementCommand    = "thermostat_command"
)

// RecordThermostat writes one thermostat record. It satisfies
// thermostat.Recorder, so every fresh record a device receives is stored.
//
// Tags: device_id, thermostat_id. Fields: temperature, humidity, target,
// valve, cooling, eco, dew_protection.
func (c *Client) RecordThermostat(deviceID string, t ngbs.Thermostat) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(thermostatPoint(deviceID, t, c.now()))
}

func thermostatPoint(deviceID string, t ngbs.Thermostat, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementThermostat,
		map[string]string{
			"device_id":     deviceID,
			"thermostat_id": t.ID,
		},
		map[string]interface{}{
			"temperature":    t.Temperature,
			"humidity":       t.Humidity,
			"target":         t.Target,
			"valve":          t.Valve,
			"cooling":        t.Cooling,
			"eco":            t.Eco,
			"dew_protection": t.DewProtection,
		},
		ts,
	)
}

// RecordCommand writes the outcome of a capability command.
// code is the ngbs error code, empty on success.
func (c *Client) RecordCommand(deviceID, command, code string, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(commandPoint(deviceID, command, code, elapsed, c.now()))
}

func commandPoint(deviceID, command, code string, elapsed time.Duration, ts time.Time) *write.Point {
	tags := map[string]string{
		"device_id": deviceID,
		"command":   command,
	}
	if code != "" {
		tags["code"] = code
	}
	return write.NewPoint(
		MeasurementCommand,
		tags,
		map[string]interface{}{
			"ok":         code == "",
			"elapsed_ms": elapsed.Milliseconds(),
		},
		ts,
	)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
