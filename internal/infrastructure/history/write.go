package history

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Measurement name for entity value points.
const valueMeasurement = "entity_values"

// Record queues a value change for a single entity key.
//
// The write is batched and asynchronous. Non-numeric, non-boolean,
// non-string values are dropped silently since InfluxDB fields cannot
// hold structured data.
func (c *Client) Record(uniqueID, domain, key string, value any) {
	if !c.IsConnected() {
		return
	}

	field, ok := fieldValue(value)
	if !ok {
		return
	}

	point := influxdb2.NewPoint(
		valueMeasurement,
		map[string]string{
			"unique_id": uniqueID,
			"domain":    domain,
			"key":       key,
		},
		map[string]any{"value": field},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// fieldValue narrows a raw entity value to an InfluxDB-compatible
// field type.
func fieldValue(value any) (any, bool) {
	switch v := value.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, true
	default:
		return nil, false
	}
}
