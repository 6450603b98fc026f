package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementConditions = "ppms_conditions"
	MeasurementRepeat     = "nmr_repeat"
)

// WriteConditions records one environment sample. It satisfies
// environment.Telemetry.
//
// Tags: sequence (the sample's tag). Fields: temperature_k, field_oe.
func (c *Client) WriteConditions(tag string, temperature, field float64, at time.Time) {
	c.WritePointWithTime(MeasurementConditions,
		map[string]string{"sequence": tag},
		map[string]any{
			"temperature_k": temperature,
			"field_oe":      field,
		},
		at,
	)
}

// WriteRepeat records the signal level of one NMR repeat. It satisfies
// scheduler.RepeatTelemetry.
//
// Tags: sequence, command. Fields: repeat, rms_a, rms_b.
func (c *Client) WriteRepeat(sequence string, index, repeat int, rmsA, rmsB float64, at time.Time) {
	c.WritePointWithTime(MeasurementRepeat,
		map[string]string{
			"sequence": sequence,
			"command":  strconv.Itoa(index),
		},
		map[string]any{
			"repeat": repeat,
			"rms_a":  rmsA,
			"rms_b":  rmsB,
		},
		at,
	)
}

// WritePointWithTime writes a custom point. Writes on a disconnected client
// are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	c.mu.RLock()
	connected, labID := c.connected, c.labID
	c.mu.RUnlock()
	if !connected {
		return
	}

	if labID != "" {
		merged := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			merged[k] = v
		}
		merged["lab"] = labID
		tags = merged
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
