package entity

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SynthesizeUniqueID derives a stable unique id from the owning
// application, the entity's domain and a suggested display id.
//
// The same inputs always produce the same id, so entities re-created
// across restarts resolve to their persisted rows without the caller
// storing the id anywhere.
func SynthesizeUniqueID(app, domain, suggestedID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(app)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(suggestedID)
	return fmt.Sprintf("%s.%s.%016x", app, domain, h.Sum64())
}
