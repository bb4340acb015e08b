// Package influxdb stores thermostat telemetry in InfluxDB v2.
//
// Every fresh thermostat record a paired device receives (measured
// temperature, humidity, target, valve state) is written as a point of the
// "thermostat" measurement; capability commands are written to
// "thermostat_command" with their outcome.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry switched off
//	}
//	defer client.Close()
//
//	dev, _ := thermostat.New(thermostat.Config{..., Recorder: client})
//
// Writes are non-blocking and batched (batch_size, flush_interval);
// asynchronous failures reach the SetOnError callback.
package influxdb
