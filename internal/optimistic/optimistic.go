// Package optimistic layers transactional, client-only patches on top of
// the versioned Graph store (spec §4.7): every committed base write is
// replayed through the active patch stack before it reaches readers, and
// reverting a patch restores the pre-patch view without touching the base
// values underneath it.
package optimistic

import (
	"strings"
	"sync"

	"github.com/lockvoid/cachebay/internal/graph"
)

type entityPatch struct {
	id     graph.RecordId
	fields graph.Record
}

// connPatch accumulates one transaction's operations against a single
// connection, applied in remove -> prepend -> append -> reorder order
// (spec §4.7) whenever the connection is replayed.
type connPatch struct {
	removeNodeIDs  []graph.RecordId
	prependNodes   []graph.RecordId
	appendNodes    []graph.RecordId
	reorder        []graph.RecordId
	pageInfoFields graph.Record
}

// patch is one Modify transaction's full set of edits.
type patch struct {
	id          string
	entities    []entityPatch
	connections map[graph.RecordId]*connPatch
}

// Writer records one transaction's edits; it is only valid inside the
// callback passed to Engine.Modify.
type Writer struct {
	p *patch
}

// SetEntity patches fields onto an entity (or any plain record), overlaid
// on whatever the base value is or becomes.
func (w *Writer) SetEntity(id graph.RecordId, fields graph.Record) {
	w.p.entities = append(w.p.entities, entityPatch{id: id, fields: fields})
}

func (w *Writer) conn(key graph.RecordId) *connPatch {
	cp, ok := w.p.connections[key]
	if !ok {
		cp = &connPatch{}
		w.p.connections[key] = cp
	}
	return cp
}

// AddNodeStart prepends node to the connection identified by key.
func (w *Writer) AddNodeStart(key graph.RecordId, node graph.RecordId) {
	cp := w.conn(key)
	cp.prependNodes = append(cp.prependNodes, node)
}

// AddNodeEnd appends node to the connection identified by key.
func (w *Writer) AddNodeEnd(key graph.RecordId, node graph.RecordId) {
	cp := w.conn(key)
	cp.appendNodes = append(cp.appendNodes, node)
}

// RemoveNode removes node from the connection identified by key. Removing a
// node that is not present in the connection is a silent no-op (spec §4.7).
func (w *Writer) RemoveNode(key graph.RecordId, node graph.RecordId) {
	cp := w.conn(key)
	cp.removeNodeIDs = append(cp.removeNodeIDs, node)
}

// Reorder replaces the connection's edge order with order. Node ids in
// order that are absent from the connection are ignored; edges present in
// the connection but absent from order are appended after, in their prior
// relative order (spec §4.7).
func (w *Writer) Reorder(key graph.RecordId, order []graph.RecordId) {
	cp := w.conn(key)
	cp.reorder = append([]graph.RecordId{}, order...)
}

// PatchPageInfo overlays fields onto the connection's pageInfo.
func (w *Writer) PatchPageInfo(key graph.RecordId, fields graph.Record) {
	cp := w.conn(key)
	if cp.pageInfoFields == nil {
		cp.pageInfoFields = graph.Record{}
	}
	for k, v := range fields {
		cp.pageInfoFields[k] = v
	}
}

// Engine applies and replays optimistic patches over a Graph. The Graph
// itself always reflects base-plus-active-patches; nothing outside this
// package needs to know a patch exists.
type Engine struct {
	mu sync.Mutex

	g    *graph.Graph
	base map[graph.RecordId]graph.Record

	order   []string
	patches map[string]*patch

	nextTxn int
}

// New creates an optimistic Engine layered over g. g's root and any records
// already present are treated as pre-existing base state.
func New(g *graph.Graph) *Engine {
	return &Engine{
		g:       g,
		base:    map[graph.RecordId]graph.Record{},
		patches: map[string]*patch{},
	}
}

// ApplyBase is the single path non-optimistic writers (normalize, canonical
// rebuild) use to commit real data. It merges partial into the tracked base
// snapshot, then replays the active patch stack on top before writing the
// combined view to the Graph (spec §4.7 "every base update replays active
// patches").
func (e *Engine) ApplyBase(id graph.RecordId, partial graph.Record) {
	e.mu.Lock()
	rec, ok := e.base[id]
	if !ok {
		rec = graph.Record{}
	}
	merged := graph.Record{}
	for k, v := range rec {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	e.base[id] = merged

	overlaid, extra := e.overlayEntity(id, merged)
	e.mu.Unlock()

	e.g.PutRecord(id, overlaid)
	flushPending(e.g, extra)
}

// Modify opens a transaction, lets fn record edits through a Writer, applies
// it immediately on top of current base state, and returns a transaction id
// usable with Commit/Revert.
func (e *Engine) Modify(fn func(w *Writer)) string {
	e.mu.Lock()
	e.nextTxn++
	id := txnID(e.nextTxn)
	p := &patch{id: id, connections: map[graph.RecordId]*connPatch{}}
	e.mu.Unlock()

	fn(&Writer{p: p})

	e.mu.Lock()
	e.patches[id] = p
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.replayAll()
	return id
}

// Commit discards a transaction's patch without reverting the Graph to its
// pre-patch state; callers use this once a mutation's real response has
// already landed via ApplyBase and superseded the optimistic guess.
func (e *Engine) Commit(id string) {
	e.drop(id)
}

// Revert discards a transaction's patch and restores the view the Graph
// would have had without it.
func (e *Engine) Revert(id string) {
	e.drop(id)
}

// ResetBase discards every active patch and reseeds tracked base state from
// records, without touching the Graph itself; hydrate calls this right
// after replacing the Graph's contents wholesale (spec §6) so optimistic
// bookkeeping doesn't resurrect patches from before the snapshot.
func (e *Engine) ResetBase(records map[graph.RecordId]graph.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := make(map[graph.RecordId]graph.Record, len(records))
	for id, rec := range records {
		cp := graph.Record{}
		for k, v := range rec {
			cp[k] = v
		}
		base[id] = cp
	}
	e.base = base
	e.patches = map[string]*patch{}
	e.order = nil
}

// ReplayKeys re-applies the active patch stack after something outside
// ApplyBase changed base state directly underneath it — Canonical uses this
// as its ReplayFunc once a canonical connection record is rebuilt (spec
// §4.7). The keys themselves don't narrow the work: a patch's effects can
// touch records beyond the ones that changed, so a full replay is correct
// and ApplyBase already keeps this cheap in the common case.
func (e *Engine) ReplayKeys(ids []graph.RecordId) {
	e.replayAll()
}

func (e *Engine) drop(id string) {
	e.mu.Lock()
	if _, ok := e.patches[id]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.patches, id)
	for i, x := range e.order {
		if x == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.replayAll()
}

func txnID(n int) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "tx0"
	}
	buf := []byte{}
	for n > 0 {
		buf = append([]byte{digits[n%36]}, buf...)
		n /= 36
	}
	return "tx" + string(buf)
}

// replayAll recomputes every record touched by base writes or by any active
// patch and writes the combined view to the Graph.
func (e *Engine) replayAll() {
	e.mu.Lock()
	touched := map[graph.RecordId]struct{}{}
	for id := range e.base {
		touched[id] = struct{}{}
	}
	for _, p := range e.patches {
		for _, ep := range p.entities {
			touched[ep.id] = struct{}{}
		}
		for key := range p.connections {
			touched[key] = struct{}{}
		}
	}

	writes := make(map[graph.RecordId]graph.Record, len(touched))
	var extra []pendingWrite
	for id := range touched {
		base := e.base[id]
		rec, ex := e.overlayEntity(id, base)
		writes[id] = rec
		extra = append(extra, ex...)
	}
	e.mu.Unlock()

	for id, rec := range writes {
		e.g.PutRecord(id, rec)
	}
	flushPending(e.g, extra)
}

type pendingWrite struct {
	id  graph.RecordId
	rec graph.Record
}

func flushPending(g *graph.Graph, writes []pendingWrite) {
	for _, w := range writes {
		g.PutRecord(w.id, w.rec)
	}
}

// overlayEntity applies every active transaction's entity and connection
// patches for id on top of base, in transaction order. Caller must hold e.mu.
// It returns the merged record plus any supporting records (synthetic
// edges, patched pageInfo) that must also be written.
func (e *Engine) overlayEntity(id graph.RecordId, base graph.Record) (graph.Record, []pendingWrite) {
	merged := graph.Record{}
	for k, v := range base {
		merged[k] = v
	}

	var edges []graph.RecordId
	if rl, ok := merged["edges"].(graph.RefList); ok {
		edges = make([]graph.RecordId, len(rl.IDs))
		for i, ref := range rl.IDs {
			edges[i] = ref
		}
	}
	isConnection := false
	var extra []pendingWrite

	for _, txID := range e.order {
		p := e.patches[txID]
		for _, ep := range p.entities {
			if ep.id != id {
				continue
			}
			for k, v := range ep.fields {
				merged[k] = v
			}
		}
		cp, ok := p.connections[id]
		if !ok {
			continue
		}
		isConnection = true
		edges = e.applyConnPatch(edges, cp, id)
		for _, node := range cp.prependNodes {
			extra = append(extra, pendingWrite{id: optimisticEdgeID(id, node), rec: graph.Record{"node": graph.Ref{ID: node}}})
		}
		for _, node := range cp.appendNodes {
			extra = append(extra, pendingWrite{id: optimisticEdgeID(id, node), rec: graph.Record{"node": graph.Ref{ID: node}}})
		}
		if cp.pageInfoFields != nil {
			extra = append(extra, e.pageInfoWrite(id, cp.pageInfoFields))
		}
	}

	if isConnection {
		refs := make([]graph.RecordId, len(edges))
		copy(refs, edges)
		merged["edges"] = graph.RefList{IDs: refs}
	}

	return merged, extra
}

// pageInfoWrite computes the pending write that patches fields onto the
// connection's pageInfo sub-record; pageInfo is addressed by its own
// RecordId so this bypasses the entity merge above.
func (e *Engine) pageInfoWrite(connKey graph.RecordId, fields graph.Record) pendingWrite {
	pageInfoID := graph.RecordId(string(connKey) + ".pageInfo")
	rec, _ := e.g.GetRecord(pageInfoID)
	merged := graph.Record{}
	for k, v := range rec {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return pendingWrite{id: pageInfoID, rec: merged}
}

func (e *Engine) edgeNodeID(edgeID graph.RecordId) (graph.RecordId, bool) {
	edgeRec, ok := e.g.GetRecord(edgeID)
	if !ok {
		// synthetic optimistic edges aren't written to the Graph until the
		// caller's replay pass completes; decode the node id from the
		// synthetic id itself instead.
		if node, ok := decodeOptimisticEdgeID(edgeID); ok {
			return node, true
		}
		return "", false
	}
	ref, ok := edgeRec["node"].(graph.Ref)
	if !ok {
		return "", false
	}
	return ref.ID, true
}

func optimisticEdgeID(connKey, node graph.RecordId) graph.RecordId {
	return graph.RecordId(string(connKey) + ".edges:optimistic." + string(node))
}

func decodeOptimisticEdgeID(edgeID graph.RecordId) (graph.RecordId, bool) {
	s := string(edgeID)
	const marker = ".edges:optimistic."
	idx := strings.Index(s, marker)
	if idx == -1 {
		return "", false
	}
	return graph.RecordId(s[idx+len(marker):]), true
}

// applyConnPatch runs one transaction's remove -> prepend -> append ->
// reorder steps against edges, synthesizing edge records for newly added
// nodes (spec §4.7). References to node ids absent from edges are silent
// no-ops for removal and reorder.
func (e *Engine) applyConnPatch(edges []graph.RecordId, cp *connPatch, connKey graph.RecordId) []graph.RecordId {
	if len(cp.removeNodeIDs) > 0 {
		remove := map[graph.RecordId]bool{}
		for _, n := range cp.removeNodeIDs {
			remove[n] = true
		}
		filtered := make([]graph.RecordId, 0, len(edges))
		for _, edgeID := range edges {
			if node, ok := e.edgeNodeID(edgeID); ok && remove[node] {
				continue
			}
			filtered = append(filtered, edgeID)
		}
		edges = filtered
	}

	out := make([]graph.RecordId, 0, len(edges)+len(cp.prependNodes)+len(cp.appendNodes))
	for _, prepend := range cp.prependNodes {
		out = append(out, optimisticEdgeID(connKey, prepend))
	}
	out = append(out, edges...)
	for _, appnd := range cp.appendNodes {
		out = append(out, optimisticEdgeID(connKey, appnd))
	}

	if len(cp.reorder) > 0 {
		out = e.reorderEdges(out, cp.reorder)
	}

	return out
}

// reorderEdges reorders edgeIDs by the node order in wantNodeOrder. Edges
// whose node is absent from wantNodeOrder keep their relative order and are
// appended after the matched ones.
func (e *Engine) reorderEdges(edgeIDs []graph.RecordId, wantNodeOrder []graph.RecordId) []graph.RecordId {
	position := map[graph.RecordId]int{}
	for i, n := range wantNodeOrder {
		position[n] = i
	}

	matched := make([]graph.RecordId, len(wantNodeOrder))
	matchedSet := make([]bool, len(wantNodeOrder))
	var rest []graph.RecordId

	for _, edgeID := range edgeIDs {
		node, ok := e.edgeNodeID(edgeID)
		if !ok {
			rest = append(rest, edgeID)
			continue
		}
		idx, wanted := position[node]
		if !wanted {
			rest = append(rest, edgeID)
			continue
		}
		matched[idx] = edgeID
		matchedSet[idx] = true
	}

	ordered := make([]graph.RecordId, 0, len(edgeIDs))
	for i, edgeID := range matched {
		if matchedSet[i] {
			ordered = append(ordered, edgeID)
		}
	}
	return append(ordered, rest...)
}
