package entity

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Hash returns a deterministic digest over the sorted union of all
// registered entity unique ids and device ids. Sorting makes the hash
// independent of registration order, so the external consumer can
// compare digests to detect drift. Pure query; never mutates state.
func (rt *Runtime) Hash() string {
	rt.mu.RLock()
	ids := make([]string, 0, len(rt.engines)+len(rt.devices))
	for id := range rt.engines {
		ids = append(ids, id)
	}
	for id := range rt.devices {
		ids = append(ids, id)
	}
	rt.mu.RUnlock()

	sort.Strings(ids)
	h := xxhash.New()
	for _, id := range ids {
		_, _ = h.WriteString(id)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Dump groups every entity's exported value set by domain, each group
// sorted by unique id, for bulk transmission to the external consumer.
// Pure query; never mutates state.
func (rt *Runtime) Dump() map[string][]map[string]any {
	rt.mu.RLock()
	type entry struct {
		uniqueID string
		engine   *Engine
	}
	byDomain := make(map[string][]entry)
	for id, eng := range rt.engines {
		name := eng.domain.Name
		byDomain[name] = append(byDomain[name], entry{uniqueID: id, engine: eng})
	}
	rt.mu.RUnlock()

	out := make(map[string][]map[string]any, len(byDomain))
	for name, entries := range byDomain {
		sort.Slice(entries, func(i, j int) bool { return entries[i].uniqueID < entries[j].uniqueID })
		exports := make([]map[string]any, 0, len(entries))
		for _, ent := range entries {
			export := ent.engine.Export()
			export["unique_id"] = ent.uniqueID
			exports = append(exports, export)
		}
		out[name] = exports
	}
	return out
}
