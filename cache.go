// Package cachebay implements a normalized, reactive GraphQL client cache
// (spec §1-§2): entities and connections are stored once in a versioned
// record graph, documents are compiled into plans, and reads are served
// from either the concrete page that last landed or a canonical merged
// view kept current across pagination and optimistic edits.
package cachebay

import (
	"github.com/lockvoid/cachebay/internal/canonical"
	"github.com/lockvoid/cachebay/internal/documents"
	"github.com/lockvoid/cachebay/internal/graph"
	"github.com/lockvoid/cachebay/internal/optimistic"
	"github.com/lockvoid/cachebay/internal/planner"
	"github.com/lockvoid/cachebay/logger"
)

// Keyer computes the entity-identity portion of a RecordId for objects of
// a given __typename; see graph.Keyer.
type Keyer = graph.Keyer

// RecordId is re-exported so callers can store/compare ids without
// importing internal/graph directly.
type RecordId = graph.RecordId

// Cache is the top-level entry point (spec §6 External Interfaces). It
// owns the record graph and wires Canonical/Optimistic/Documents together
// behind normalize/materialize/invalidate/identify/modifyOptimistic/
// dehydrate/hydrate.
type Cache struct {
	g    *graph.Graph
	opt  *optimistic.Engine
	can  *canonical.Engine
	docs *documents.Documents
	log  logger.Logger

	onChange func(map[graph.RecordId]struct{})
}

// Option configures a Cache at construction time.
type Option func(*cacheConfig)

type cacheConfig struct {
	keyers     map[string]Keyer
	interfaces map[string]string
	logger     logger.Logger
	onChange   func(map[graph.RecordId]struct{})
	scheduler  graph.Scheduler
}

// WithKeyer registers a custom identity function for a __typename.
func WithKeyer(typename string, k Keyer) Option {
	return func(c *cacheConfig) {
		if c.keyers == nil {
			c.keyers = map[string]Keyer{}
		}
		c.keyers[typename] = k
	}
}

// WithInterface declares that concrete is a member of the interface
// canonical, so concrete and its siblings resolve to the same entity id.
func WithInterface(concrete, canonicalTypename string) Option {
	return func(c *cacheConfig) {
		if c.interfaces == nil {
			c.interfaces = map[string]string{}
		}
		c.interfaces[concrete] = canonicalTypename
	}
}

// WithLogger overrides the default stdout logger.
func WithLogger(l logger.Logger) Option {
	return func(c *cacheConfig) { c.logger = l }
}

// WithOnChange registers the callback invoked after each batch of writes,
// with the set of changed RecordIds and field-level pseudo keys (spec §6).
func WithOnChange(fn func(changed map[graph.RecordId]struct{})) Option {
	return func(c *cacheConfig) { c.onChange = fn }
}

// WithScheduler overrides the micro-deferral scheduler used to batch
// change notifications (default: graph.ManualScheduler, which never flushes
// on its own, so delivery happens only on Flush).
func WithScheduler(s graph.Scheduler) Option {
	return func(c *cacheConfig) { c.scheduler = s }
}

// New constructs a Cache. Normalize calls Flush at the end of every call
// (spec §5), so each Normalize delivers its own onChange batch before it
// returns, whatever the scheduler. The scheduler only decides when writes
// made outside Normalize (optimistic edits) are delivered; with the default
// scheduler they wait for the next Flush or Normalize.
func New(opts ...Option) *Cache {
	cfg := &cacheConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.New()
	}

	gcfg := &graph.Config{Keyers: cfg.keyers, Interfaces: cfg.interfaces}

	c := &Cache{log: cfg.logger, onChange: cfg.onChange}

	var gopts []graph.Option
	if cfg.scheduler != nil {
		gopts = append(gopts, graph.WithScheduler(cfg.scheduler))
	}
	c.g = graph.New(gcfg, c.dispatchChange, gopts...)

	c.opt = optimistic.New(c.g)
	c.can = canonical.New(c.g, c.opt.ApplyBase, c.can2Replay)
	p := planner.New()
	c.docs = documents.New(p, c.g, c.can, c.opt)

	return c
}

func (c *Cache) dispatchChange(changed map[graph.RecordId]struct{}) {
	if c.onChange != nil {
		c.onChange(changed)
	}
}

// can2Replay is handed to Canonical as its ReplayFunc: after a canonical
// connection record is rebuilt, the optimistic overlay must replay its
// active patches over the fresh base value (spec §4.7).
func (c *Cache) can2Replay(ids []graph.RecordId) {
	c.opt.ReplayKeys(ids)
}

// Identify reports the RecordId an object would normalize under, or
// false if it would be embedded instead (spec §6).
func (c *Cache) Identify(obj map[string]interface{}) (RecordId, bool) {
	return c.g.Identify(obj)
}

// Normalize writes a response into the cache (spec §4.5, §6).
func (c *Cache) Normalize(in documents.NormalizeInput) error {
	return c.docs.Normalize(in)
}

// NormalizeFromCache re-feeds a previously-materialized (non-network)
// response through the normalizer, routing connection pages through
// Canonical's cache-origin merge instead of the network path: existing
// leader/after/before bookkeeping is preserved rather than reset (spec
// §4.4 "mergeFromCache"). Use this to re-derive canonical unions from
// records that arrived via a persisted/restored source rather than a live
// fetch — in.Origin is overridden to documents.OriginCache regardless of
// what the caller set.
func (c *Cache) NormalizeFromCache(in documents.NormalizeInput) error {
	in.Origin = documents.OriginCache
	return c.docs.Normalize(in)
}

// Materialize reads a result tree back out of the cache (spec §4.6, §6).
func (c *Cache) Materialize(in documents.MaterializeInput) (documents.MaterializeResult, error) {
	return c.docs.Materialize(in)
}

// Invalidate drops a single cached materialize result (spec §4.6, §6).
func (c *Cache) Invalidate(in documents.MaterializeInput) error {
	return c.docs.Invalidate(in)
}

// ReadFragment is sugar over Materialize with an entity id and a fragment
// plan (spec §6).
func (c *Cache) ReadFragment(document interface{}, fragmentName string, id RecordId, vars map[string]interface{}) (documents.MaterializeResult, error) {
	return c.Materialize(documents.MaterializeInput{
		Document:     document,
		FragmentName: fragmentName,
		Variables:    vars,
		EntityId:     id,
	})
}

// WriteFragment is sugar over Normalize with an entity id and a fragment
// plan (spec §6).
func (c *Cache) WriteFragment(document interface{}, fragmentName string, id RecordId, vars map[string]interface{}, data map[string]interface{}) error {
	return c.Normalize(documents.NormalizeInput{
		Document:     document,
		FragmentName: fragmentName,
		Variables:    vars,
		Data:         data,
		EntityId:     id,
	})
}

// OptimisticHandle lets a caller commit or revert an optimistic
// transaction started by ModifyOptimistic (spec §4.7, §6).
type OptimisticHandle struct {
	c   *Cache
	txn string
}

// Commit finalizes the transaction: its patch is dropped without undoing
// committed state, since the real response should already have landed via
// Normalize.
func (h OptimisticHandle) Commit() { h.c.opt.Commit(h.txn) }

// Revert undoes the transaction's patch, restoring the pre-patch view.
func (h OptimisticHandle) Revert() { h.c.opt.Revert(h.txn) }

// ModifyOptimistic applies a client-only patch on top of the current base
// view and returns a handle to commit or revert it (spec §4.7).
func (c *Cache) ModifyOptimistic(fn func(*optimistic.Writer)) OptimisticHandle {
	return OptimisticHandle{c: c, txn: c.opt.Modify(fn)}
}

// EvictAll clears every record and version and suppresses any pending
// notification (spec §7). Any in-flight optimistic transaction is
// discarded along with the state it patched.
func (c *Cache) EvictAll() {
	c.g.EvictAll()
	records, _, _ := c.g.Snapshot()
	c.opt.ResetBase(records)
}

// Flush forces synchronous delivery of any pending change notification.
func (c *Cache) Flush() {
	c.g.Flush()
}
