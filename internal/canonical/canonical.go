// Package canonical maintains the @connection.* union records derived from
// concrete @.* page records (spec §4.4): one merged, deduplicated,
// anchored view per logical Relay connection.
package canonical

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lockvoid/cachebay/internal/cerrors"
	"github.com/lockvoid/cachebay/internal/graph"
)

// Mode mirrors compiler.ConnectionMode without importing compiler (keeps
// canonical a leaf of graph only).
type Mode string

const (
	ModeInfinite Mode = "infinite"
	ModePage     Mode = "page"
)

type origin string

const (
	originNetwork origin = "network"
	originCache   origin = "cache"
)

// hint classifies a page's position relative to the connection.
type hint string

const (
	hintLeader hint = "leader"
	hintAfter  hint = "after"
	hintBefore hint = "before"
)

// meta is the per-canonical-connection sidecar (spec §3 "Canonical meta").
type meta struct {
	Pages  []string          `json:"pages"`
	Leader string            `json:"leader"`
	Hints  map[string]string `json:"hints"`
	Origin map[string]string `json:"origin"`
}

// UpdateParams describes one concrete page's contribution to a canonical
// connection (spec §4.4).
type UpdateParams struct {
	CanonicalKey graph.RecordId
	Mode         Mode
	Variables    map[string]interface{}
	PageKey      graph.RecordId
	PageSnapshot graph.Record
	PageEdgeRefs []graph.RecordId
}

// ReplayFunc is invoked after every canonical update so the optimistic
// overlay can re-apply its patches (spec §4.4, §4.7).
type ReplayFunc func(connections []graph.RecordId)

// WriteFunc commits a base (non-optimistic) record write. Canonical routes
// every write through it instead of the Graph directly so the optimistic
// overlay (spec §4.7) can track canonical records as base state too.
type WriteFunc func(id graph.RecordId, partial graph.Record)

// Engine maintains canonical connection records over a Graph.
type Engine struct {
	g      *graph.Graph
	write  WriteFunc
	replay ReplayFunc
}

// New creates a canonical Engine backed by g. write commits base record
// writes (typically optimistic.Engine.ApplyBase); replay notifies the
// optimistic overlay after every canonical recompute. Both may be nil, in
// which case write falls back to g.PutRecord and replay is a no-op.
func New(g *graph.Graph, write WriteFunc, replay ReplayFunc) *Engine {
	if write == nil {
		write = func(id graph.RecordId, partial graph.Record) { g.PutRecord(id, partial) }
	}
	if replay == nil {
		replay = func([]graph.RecordId) {}
	}
	return &Engine{g: g, write: write, replay: replay}
}

func metaID(canonicalKey graph.RecordId) graph.RecordId {
	return graph.RecordId(string(canonicalKey) + "::meta")
}

// UpdateConnection applies a network-origin page update.
func (e *Engine) UpdateConnection(p UpdateParams) error {
	return e.apply(p, originNetwork)
}

// MergeFromCache applies a cache-origin page update (never resets the leader).
func (e *Engine) MergeFromCache(p UpdateParams) error {
	return e.apply(p, originCache)
}

func (e *Engine) apply(p UpdateParams, o origin) error {
	if tn, _ := p.PageSnapshot["__typename"].(string); tn == "" {
		return cerrors.New(cerrors.InvalidPage, "canonical update for %s: page %s has no __typename", p.CanonicalKey, p.PageKey)
	}

	if p.Mode == ModePage {
		e.applyPageMode(p)
		e.replay([]graph.RecordId{p.CanonicalKey})
		return nil
	}

	e.applyInfiniteMode(p, o)
	e.replay([]graph.RecordId{p.CanonicalKey})
	return nil
}

// StageUpdate records a network-origin page's meta bookkeeping without
// rebuilding the canonical record. A normalize call that touches several
// canonical keys stages each page as it walks the response and finishes
// with a single RebuildMany, instead of rebuilding once per page (spec
// §4.4).
func (e *Engine) StageUpdate(p UpdateParams) error {
	return e.stage(p, originNetwork)
}

// StageMergeFromCache is the cache-origin counterpart of StageUpdate.
func (e *Engine) StageMergeFromCache(p UpdateParams) error {
	return e.stage(p, originCache)
}

func (e *Engine) stage(p UpdateParams, o origin) error {
	if tn, _ := p.PageSnapshot["__typename"].(string); tn == "" {
		return cerrors.New(cerrors.InvalidPage, "canonical update for %s: page %s has no __typename", p.CanonicalKey, p.PageKey)
	}

	if p.Mode == ModePage {
		e.applyPageMode(p)
		e.replay([]graph.RecordId{p.CanonicalKey})
		return nil
	}

	e.updateMeta(p, o)
	return nil
}

// applyPageMode replaces the canonical record wholesale with a shallow copy
// of the incoming page; no meta sidecar is kept (spec §4.4 mode "page").
func (e *Engine) applyPageMode(p UpdateParams) {
	rec := graph.Record{}
	for k, v := range p.PageSnapshot {
		if k == "__typename" {
			continue
		}
		rec[k] = v
	}
	rec["__typename"] = p.PageSnapshot["__typename"]
	e.write(p.CanonicalKey, rec)
}

func classify(vars map[string]interface{}) hint {
	if v, ok := vars["after"]; ok && v != nil {
		return hintAfter
	}
	if v, ok := vars["before"]; ok && v != nil {
		return hintBefore
	}
	return hintLeader
}

func (e *Engine) loadMeta(canonicalKey graph.RecordId) *meta {
	rec, ok := e.g.GetRecord(metaID(canonicalKey))
	if !ok {
		return &meta{Hints: map[string]string{}, Origin: map[string]string{}}
	}
	m := &meta{Hints: map[string]string{}, Origin: map[string]string{}}
	if pages, ok := rec["pages"].([]string); ok {
		m.Pages = append([]string{}, pages...)
	}
	if leader, ok := rec["leader"].(string); ok {
		m.Leader = leader
	}
	if hints, ok := rec["hints"].(map[string]string); ok {
		for k, v := range hints {
			m.Hints[k] = v
		}
	}
	if orig, ok := rec["origin"].(map[string]string); ok {
		for k, v := range orig {
			m.Origin[k] = v
		}
	}
	return m
}

func (e *Engine) saveMeta(canonicalKey graph.RecordId, m *meta) {
	e.write(metaID(canonicalKey), graph.Record{
		"pages":  append([]string{}, m.Pages...),
		"leader": m.Leader,
		"hints":  copyStringMap(m.Hints),
		"origin": copyStringMap(m.Origin),
	})
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// applyInfiniteMode implements the leader/after/before classification and
// meta bookkeeping of spec §4.4, then rebuilds immediately.
func (e *Engine) applyInfiniteMode(p UpdateParams, o origin) {
	e.updateMeta(p, o)
	m := e.loadMeta(p.CanonicalKey)
	e.rebuildCanonical(p.CanonicalKey, m, p.PageSnapshot)
}

// updateMeta applies the leader/after/before classification to the
// canonical's meta sidecar without rebuilding the canonical record itself;
// StageUpdate/StageMergeFromCache use this to defer the (expensive) rebuild
// until a whole normalize batch's canonical keys are known (spec §4.4).
func (e *Engine) updateMeta(p UpdateParams, o origin) {
	m := e.loadMeta(p.CanonicalKey)
	pageKey := string(p.PageKey)
	h := classify(p.Variables)

	switch {
	case o == originNetwork && h == hintLeader:
		m.Pages = []string{pageKey}
		m.Leader = pageKey
		m.Hints = map[string]string{pageKey: string(hintLeader)}
		m.Origin = map[string]string{pageKey: string(originNetwork)}

	case o == originNetwork && h == hintAfter:
		if idx := indexOf(m.Pages, pageKey); idx == -1 {
			m.Pages = append(m.Pages, pageKey)
			m.Hints[pageKey] = string(hintAfter)
			m.Origin[pageKey] = string(originNetwork)
		} else {
			m.Origin[pageKey] = string(originNetwork)
		}

	case o == originNetwork && h == hintBefore:
		if idx := indexOf(m.Pages, pageKey); idx == -1 {
			leaderIdx := indexOf(m.Pages, m.Leader)
			if leaderIdx == -1 {
				leaderIdx = 0
			}
			m.Pages = insertAt(m.Pages, leaderIdx, pageKey)
			m.Hints[pageKey] = string(hintBefore)
		}
		m.Origin[pageKey] = string(originNetwork)

	case o == originCache:
		e.mergeCachePage(m, pageKey, h)
		if m.Origin[pageKey] != string(originNetwork) {
			m.Origin[pageKey] = string(originCache)
		}
	}

	e.saveMeta(p.CanonicalKey, m)
}

// mergeCachePage inserts a cache-origin page at the position implied by its
// hint without ever resetting existing meta (spec §4.4 mergeFromCache).
func (e *Engine) mergeCachePage(m *meta, pageKey string, h hint) {
	if indexOf(m.Pages, pageKey) != -1 {
		if h == hintLeader {
			m.Leader = pageKey
			m.Hints[pageKey] = string(hintLeader)
		}
		return
	}

	switch h {
	case hintLeader:
		if m.Leader == "" {
			m.Pages = append([]string{pageKey}, m.Pages...)
			m.Leader = pageKey
		} else {
			// A leader already exists; the later call wins (spec §4.4).
			m.Pages = append([]string{pageKey}, removeFromSlice(m.Pages, m.Leader)...)
			m.Leader = pageKey
		}
		m.Hints[pageKey] = string(hintLeader)
	case hintBefore:
		leaderIdx := indexOf(m.Pages, m.Leader)
		if leaderIdx == -1 {
			leaderIdx = 0
		}
		m.Pages = insertAt(m.Pages, leaderIdx, pageKey)
		m.Hints[pageKey] = string(hintBefore)
	case hintAfter:
		m.Pages = append(m.Pages, pageKey)
		m.Hints[pageKey] = string(hintAfter)
	}
}

func insertAt(s []string, idx int, v string) []string {
	out := make([]string, 0, len(s)+1)
	out = append(out, s[:idx]...)
	out = append(out, v)
	out = append(out, s[idx:]...)
	return out
}

func removeFromSlice(s []string, v string) []string {
	out := make([]string, 0, len(s))
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// rebuildCanonical recomputes the canonical edges, pageInfo, and scalar
// fields from meta.Pages order (spec §4.4, §8 "Canonical union property").
func (e *Engine) rebuildCanonical(canonicalKey graph.RecordId, m *meta, triggeringPage graph.Record) {
	edgeOrder, typename := e.dedupEdges(m.Pages)

	e.write(canonicalKey, graph.Record{
		"__typename": typename,
		"edges":      graph.RefList{IDs: edgeOrder},
	})

	e.rebuildPageInfo(canonicalKey, m)
	e.copyScalars(canonicalKey, triggeringPage)
}

// dedupEdges concatenates each page's edges in meta order, deduping by node
// RecordId (first occurrence wins for position; its content is refreshed
// from the latest occurrence — spec §8 "Dedup-metadata refresh").
func (e *Engine) dedupEdges(pages []string) (edgeOrder []graph.RecordId, typename string) {
	seenNode := map[graph.RecordId]graph.RecordId{}

	for _, pageKey := range pages {
		page, ok := e.g.GetRecord(graph.RecordId(pageKey))
		if !ok {
			continue
		}
		if typename == "" {
			if tn, ok := page["__typename"].(string); ok {
				typename = tn
			}
		}
		refs, _ := page["edges"].(graph.RefList)
		for _, edgeID := range refs.IDs {
			edgeRec, ok := e.g.GetRecord(edgeID)
			if !ok {
				continue
			}
			nodeRef, ok := edgeRec["node"].(graph.Ref)
			if !ok {
				continue
			}
			if kept, seen := seenNode[nodeRef.ID]; seen {
				refresh := graph.Record{}
				for k, v := range edgeRec {
					if k == "node" {
						continue
					}
					refresh[k] = v
				}
				e.write(kept, refresh)
				continue
			}
			seenNode[nodeRef.ID] = edgeID
			edgeOrder = append(edgeOrder, edgeID)
		}
	}
	return edgeOrder, typename
}

// rebuildPageInfo derives canonical pageInfo from the head and tail pages
// (spec §4.4, §3 invariants).
func (e *Engine) rebuildPageInfo(canonicalKey graph.RecordId, m *meta) {
	if len(m.Pages) == 0 {
		return
	}
	headPage, _ := e.g.GetRecord(graph.RecordId(m.Pages[0]))
	tailPage, _ := e.g.GetRecord(graph.RecordId(m.Pages[len(m.Pages)-1]))

	headInfo := pageInfoOf(e.g, headPage)
	tailInfo := pageInfoOf(e.g, tailPage)

	merged := graph.Record{}
	for k, v := range tailInfo {
		merged[k] = v
	}
	for k, v := range headInfo {
		merged[k] = v // head-preferred for fields present on both (spec §9 open question)
	}
	if v, ok := tailInfo["endCursor"]; ok {
		merged["endCursor"] = v
	}
	if v, ok := tailInfo["hasNextPage"]; ok {
		merged["hasNextPage"] = v
	}
	if v, ok := headInfo["startCursor"]; ok {
		merged["startCursor"] = v
	}
	if v, ok := headInfo["hasPreviousPage"]; ok {
		merged["hasPreviousPage"] = v
	}

	pageInfoID := graph.RecordId(string(canonicalKey) + ".pageInfo")
	e.write(pageInfoID, merged)
	e.write(canonicalKey, graph.Record{"pageInfo": graph.Ref{ID: pageInfoID}})
}

func pageInfoOf(g *graph.Graph, page graph.Record) graph.Record {
	ref, ok := page["pageInfo"].(graph.Ref)
	if !ok {
		return graph.Record{}
	}
	rec, ok := g.GetRecord(ref.ID)
	if !ok {
		return graph.Record{}
	}
	return rec
}

// copyScalars copies non-edge, non-pageInfo fields (totalCount,
// aggregations, …) from the page that triggered this update onto the
// canonical record (spec §4.4).
func (e *Engine) copyScalars(canonicalKey graph.RecordId, page graph.Record) {
	rec := graph.Record{}
	for k, v := range page {
		switch k {
		case "edges", "pageInfo", "__typename":
			continue
		}
		rec[k] = v
	}
	if len(rec) > 0 {
		e.write(canonicalKey, rec)
	}
}

// RebuildMany finishes a batch of StageUpdate/StageMergeFromCache calls:
// for every canonical key touched it rebuilds the canonical record from its
// now-final meta, running independent keys concurrently with an errgroup
// the way schemabuilder/pagination.go parallelizes independent filter/sort
// work, then replays the optimistic overlay once for all of them. pages maps
// each canonical key to the last page snapshot staged for it in this batch,
// used by copyScalars. Concurrent workers only touch distinct canonical keys
// so there's no cross-goroutine mutation of the same record; the replay,
// which rewrites every tracked record, runs after all workers finish.
func (e *Engine) RebuildMany(pages map[graph.RecordId]graph.Record) error {
	keys := make([]graph.RecordId, 0, len(pages))
	for key := range pages {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var g errgroup.Group
	for _, key := range keys {
		key := key
		page := pages[key]
		g.Go(func() error {
			m := e.loadMeta(key)
			e.rebuildCanonical(key, m, page)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.replay(keys)
	return nil
}
