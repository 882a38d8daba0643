// Package entity implements the virtual-entity synchronization runtime.
//
// A host application declares domains (behavioral classes of entity) and
// creates entities through a Factory. Each entity owns an authoritative
// in-memory value set for its declared configuration keys, backed by a
// durable row in the persistence backend and kept in sync with an
// external consumer when one is attached.
//
// The runtime reconciles three independent timelines: compile-time
// declared defaults, durable storage, and live runtime mutation. On the
// ready transition each entity loads its persisted row, compares the
// stored base state against its current defaults, and resets the row
// when the declaration has drifted. Writes to settable keys update
// memory immediately and persist through a per-entity write queue;
// reactive keys are recomputed on a schedule and on bound-entity update
// events. Auxiliary per-entity data lives in a lazily-loaded locals
// cache that is never transmitted to the consumer.
package entity
