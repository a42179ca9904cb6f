// Package graph implements the versioned key→record store described in
// spec §4.3: a single-owner, cooperatively-scheduled map from RecordId to
// Record with batched change notification. It is the leaf dependency of
// the cache core — canonical, optimistic, and documents all sit on top
// of it.
package graph

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

// RecordId identifies a record in the store (spec §3).
type RecordId string

// Root is the singleton root record id, always present once a Graph exists.
const Root RecordId = "@"

// Ref is a pointer-like reference to a single child record.
type Ref struct {
	ID RecordId
}

// RefList is a pointer-like reference to an ordered sequence of child records.
type RefList struct {
	IDs []RecordId
}

// Record is a mapping from field-storage-key to field-value (spec §3).
type Record map[string]interface{}

// Keyer computes the entity id portion of a RecordId for a __typename, or
// reports false when the object should be embedded instead of normalized.
type Keyer func(obj map[string]interface{}) (id string, ok bool)

// Config declares per-type identity rules: custom keyers and interface
// membership (so AudioPost/VideoPost sharing an id both resolve to Post:<id>).
type Config struct {
	Keyers     map[string]Keyer
	Interfaces map[string]string // concrete typename -> canonical (parent) typename
}

// DefaultKeyer reads the "id" field and stringifies it.
func DefaultKeyer(obj map[string]interface{}) (string, bool) {
	v, ok := obj["id"]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

func (c *Config) keyerFor(typename string) Keyer {
	if c != nil && c.Keyers != nil {
		if k, ok := c.Keyers[typename]; ok {
			return k
		}
	}
	return DefaultKeyer
}

func (c *Config) canonicalTypename(typename string) string {
	if c != nil && c.Interfaces != nil {
		if parent, ok := c.Interfaces[typename]; ok {
			return parent
		}
	}
	return typename
}

// Scheduler defers a function call; callers plug in their own runtime's
// microtask queue (spec §9 "do not bind to any particular runtime").
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a plain function to a Scheduler.
type SchedulerFunc func(fn func())

func (f SchedulerFunc) Schedule(fn func()) { f(fn) }

// ManualScheduler never invokes the deferred flush itself; it relies on
// the caller to call Graph.Flush (Normalize already does, once per call —
// spec §5). This is the default because scheduleLocked runs under g.mu:
// a scheduler that ran fn synchronously would call Flush while the lock
// is still held and deadlock on the very first write.
var ManualScheduler Scheduler = SchedulerFunc(func(fn func()) {})

// Graph is a versioned record store with batched change notification.
type Graph struct {
	mu sync.Mutex

	cfg       *Config
	onChange  func(map[RecordId]struct{})
	scheduler Scheduler

	records  map[RecordId]Record
	versions map[RecordId]uint64
	clock    uint64
	pending  map[RecordId]struct{}

	armed      bool
	inCallback bool
}

// Option configures a Graph at construction time.
type Option func(*Graph)

// WithScheduler overrides the micro-deferral scheduler (default:
// ManualScheduler). A custom Scheduler that runs fn synchronously must not
// do so from inside the call to Schedule, since Schedule is invoked while
// g.mu is held; hop to a goroutine or a true microtask queue instead.
func WithScheduler(s Scheduler) Option {
	return func(g *Graph) { g.scheduler = s }
}

// New creates a Graph whose root record "@" always exists (spec invariant).
func New(cfg *Config, onChange func(map[RecordId]struct{}), opts ...Option) *Graph {
	g := &Graph{
		cfg:       cfg,
		onChange:  onChange,
		scheduler: ManualScheduler,
		records:   map[RecordId]Record{},
		versions:  map[RecordId]uint64{},
		pending:   map[RecordId]struct{}{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.clock++
	g.records[Root] = Record{"__typename": "Query"}
	g.versions[Root] = g.clock
	return g
}

// Identify computes the RecordId for an object, honoring interface mapping.
// It returns false when the object should be embedded rather than normalized.
func (g *Graph) Identify(obj map[string]interface{}) (RecordId, bool) {
	typename, _ := obj["__typename"].(string)
	if typename == "" {
		return "", false
	}
	id, ok := g.cfg.keyerFor(typename)(obj)
	if !ok || id == "" {
		return "", false
	}
	return RecordId(g.cfg.canonicalTypename(typename) + ":" + id), true
}

// PutRecord shallow-merges partial into the existing record (creating it if
// absent). It returns whether anything changed. Same-value writes never
// bump versions (spec invariant).
func (g *Graph) PutRecord(id RecordId, partial Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inCallback {
		panic("graph: putRecord called reentrantly from within onChange")
	}

	rec, exists := g.records[id]
	created := !exists
	if !exists {
		rec = Record{}
		g.records[id] = rec
	}

	changed := created
	var changedKeys []string
	for k, v := range partial {
		old, had := rec[k]
		if !had || !reflect.DeepEqual(old, v) {
			rec[k] = v
			changed = true
			changedKeys = append(changedKeys, k)
		}
	}

	if !changed {
		return false
	}

	g.clock++
	g.versions[id] = g.clock
	g.pending[id] = struct{}{}

	if id == Root {
		for _, k := range changedKeys {
			g.pending[RecordId(string(Root)+"."+k)] = struct{}{}
		}
	}

	g.scheduleLocked()
	return true
}

// GetRecord returns the raw record (refs unexpanded) or false if absent.
func (g *Graph) GetRecord(id RecordId) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[id]
	return rec, ok
}

// GetVersion returns the record's current clock value, or 0 if absent.
func (g *Graph) GetVersion(id RecordId) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.versions[id]
}

// RemoveRecord deletes a record, resets its version to 0, and marks it pending.
func (g *Graph) RemoveRecord(id RecordId) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inCallback {
		panic("graph: removeRecord called reentrantly from within onChange")
	}
	delete(g.records, id)
	delete(g.versions, id)
	g.pending[id] = struct{}{}
	g.scheduleLocked()
}

// Keys returns all known RecordIds, sorted for deterministic enumeration.
func (g *Graph) Keys() []RecordId {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]RecordId, 0, len(g.records))
	for k := range g.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Inspect renders a deterministic diagnostic dump of the store.
func (g *Graph) Inspect() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg := spew.ConfigState{SortKeys: true, DisableMethods: true, Indent: "  "}
	var b strings.Builder
	keys := make([]RecordId, 0, len(g.records))
	for k := range g.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, id := range keys {
		fmt.Fprintf(&b, "%s@%d: %s\n", id, g.versions[id], cfg.Sdump(g.records[id]))
	}
	return b.String()
}

// EvictAll clears everything, resets the clock, and drops pending changes
// without delivering a final notification.
func (g *Graph) EvictAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = map[RecordId]Record{}
	g.versions = map[RecordId]uint64{}
	g.clock = 0
	g.pending = map[RecordId]struct{}{}
	g.armed = false

	g.clock++
	g.records[Root] = Record{"__typename": "Query"}
	g.versions[Root] = g.clock
}

// Flush synchronously delivers onChange(pendingChanges) and clears the set.
func (g *Graph) Flush() {
	g.mu.Lock()
	if len(g.pending) == 0 {
		g.armed = false
		g.mu.Unlock()
		return
	}
	changes := g.pending
	g.pending = map[RecordId]struct{}{}
	g.armed = false
	g.inCallback = true
	g.mu.Unlock()

	g.onChange(changes)

	g.mu.Lock()
	g.inCallback = false
	g.mu.Unlock()
}

func (g *Graph) scheduleLocked() {
	if g.armed {
		return
	}
	g.armed = true
	g.scheduler.Schedule(g.Flush)
}

// ReplaceAll atomically replaces the store's contents (used by hydrate).
// pendingChanges is reset; records are trusted and not re-validated.
func (g *Graph) ReplaceAll(records map[RecordId]Record, versions map[RecordId]uint64, clock uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = records
	g.versions = versions
	g.clock = clock
	g.pending = map[RecordId]struct{}{}
	g.armed = false
}

// Snapshot returns the records/versions/clock triple for dehydration. The
// caller must not mutate the returned maps.
func (g *Graph) Snapshot() (map[RecordId]Record, map[RecordId]uint64, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records, g.versions, g.clock
}
