// Package bus provides the event channel used to route entity updates.
//
// Two implementations share the same Fire/Subscribe shape:
//
//   - Client: MQTT-backed, for deployments where the external consumer
//     and other processes observe entity traffic. Event names map to
//     topics under the configured root; payloads are JSON objects.
//   - Memory: in-process, used when no broker is configured and in tests.
//     Dispatch is synchronous and exact-name only.
//
// The entity runtime consumes either through its own small Bus interface;
// neither implementation is aware of entity semantics.
package bus
