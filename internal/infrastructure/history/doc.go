// Package history records entity value changes to InfluxDB.
//
// Recording is fire-and-forget: points are batched by the non-blocking
// write API and flushed on an interval, so the entity write path is
// never delayed by the time-series store. When history is disabled or
// the server is unreachable, the runtime operates without it.
package history
