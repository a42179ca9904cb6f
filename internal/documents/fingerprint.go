package documents

import (
	"hash/fnv"
	"sort"

	"github.com/lockvoid/cachebay/internal/graph"
)

// fingerprint is a deterministic function of a subtree's own record id plus
// the versions of everything it (transitively) reads; spec §4.6 only
// requires collision-resistance and stability (§9 open question), so a
// content hash over sorted (id, version) pairs satisfies it without
// depending on any corpus library that models structural hashing.
type fingerprint struct {
	versions map[graph.RecordId]uint64
}

func newFingerprint() *fingerprint {
	return &fingerprint{versions: map[graph.RecordId]uint64{}}
}

func (f *fingerprint) observe(id graph.RecordId, version uint64) {
	f.versions[id] = version
}

// sum folds ids into a single deterministic uint64, independent of the
// order ids were observed in (map iteration order is not stable in Go).
func (f *fingerprint) sum(ids ...graph.RecordId) uint64 {
	sorted := append([]graph.RecordId{}, ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0})
		writeUint64(h, f.versions[id])
	}
	return h.Sum64()
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
}
