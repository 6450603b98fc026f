// Package influxdb mirrors run telemetry into InfluxDB.
//
// Flat files in the run directory are the record of a run; InfluxDB is an
// optional live view for dashboards. Two measurements are written:
//
//	ppms_conditions  tags: sequence, lab   fields: temperature_k, field_oe
//	nmr_repeat       tags: sequence, command, lab   fields: repeat, rms_a, rms_b
//
// Writes are non-blocking and batched per batch_size / flush_interval.
// Asynchronous write failures are delivered to the SetOnError callback.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	envEngine.SetTelemetry(client)
package influxdb
