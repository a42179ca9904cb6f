package cachebay

import "github.com/lockvoid/cachebay/internal/graph"

// Snapshot is the serializable form of a Cache's store (spec §6): records,
// versions, the global clock, and canonical ::meta sidecars (already part
// of records, since Canonical stores meta as ordinary records under the
// "<canonicalKey>::meta" id). Keyers, interfaces, and connection
// configuration are supplied at construction and are not part of Snapshot.
type Snapshot struct {
	Records  map[graph.RecordId]graph.Record
	Versions map[graph.RecordId]uint64
	Clock    uint64
}

// Dehydrate captures the current store as a Snapshot. The returned maps
// must not be mutated by the caller.
func (c *Cache) Dehydrate() Snapshot {
	records, versions, clock := c.g.Snapshot()
	return Snapshot{Records: records, Versions: versions, Clock: clock}
}

// Hydrate replaces the store atomically with snap's contents. Records are
// trusted and not re-validated; any pending change notification is reset,
// and any in-flight optimistic transaction is discarded along with it.
func (c *Cache) Hydrate(snap Snapshot) {
	c.g.ReplaceAll(snap.Records, snap.Versions, snap.Clock)
	c.opt.ResetBase(snap.Records)
}
