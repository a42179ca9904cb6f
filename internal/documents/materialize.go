package documents

import (
	"sync"

	"github.com/lockvoid/cachebay/internal/cerrors"
	"github.com/lockvoid/cachebay/internal/compiler"
	"github.com/lockvoid/cachebay/internal/graph"
	"github.com/lockvoid/cachebay/internal/stablejson"
)

// Source reports which layer satisfied a materialize call (spec §4.6).
type Source string

const (
	SourceStrict    Source = "strict"
	SourceCanonical Source = "canonical"
	SourceNone      Source = "none"
)

// Ok reports strict/canonical availability independently of which mode the
// caller actually requested (spec §4.6).
type Ok struct {
	Strict    bool
	Canonical bool
}

// MaterializeInput configures one materialize call. Boolean knobs are named
// so their Go zero value matches the spec's stated default: canonical
// substitution, fingerprinting, and result caching all default to "on",
// so they are spelled as Disable* fields.
type MaterializeInput struct {
	Document     interface{}
	FragmentName string
	Variables    map[string]interface{}

	DisableCanonical   bool
	DisableFingerprint bool
	DisableCache       bool
	PreferCache        bool
	Force              bool

	// EntityId, when set, reads a fragment rooted at an existing entity
	// instead of the document's root (spec §6 readFragment).
	EntityId graph.RecordId
}

// MaterializeResult is the output of a materialize call (spec §4.6).
type MaterializeResult struct {
	Data         interface{}
	Source       Source
	Ok           Ok
	Dependencies []string
	Hot          bool
}

type materializeCacheKey struct {
	plan         *compiler.Plan
	vars         string
	canonical    bool
	fingerprint  bool
	entityId     graph.RecordId
	fragmentName string
}

type cacheEntry struct {
	result     MaterializeResult
	depVersion map[string]uint64
}

// Materializer walks a compiled Plan against the Graph to produce result
// trees, with fingerprinting, dependency tracking, and a small materialize
// result cache keyed by (plan identity, variables, mode, entity).
type Materializer struct {
	g *graph.Graph

	mu    sync.Mutex
	cache map[materializeCacheKey]*cacheEntry
}

func newMaterializer(g *graph.Graph) *Materializer {
	return &Materializer{g: g, cache: map[materializeCacheKey]*cacheEntry{}}
}

func stableVars(vars map[string]interface{}) string {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return stablejson.Stringify(vars)
}

func (m *Materializer) cacheKeyFor(plan *compiler.Plan, in MaterializeInput) materializeCacheKey {
	return materializeCacheKey{
		plan:         plan,
		vars:         stableVars(in.Variables),
		canonical:    !in.DisableCanonical,
		fingerprint:  !in.DisableFingerprint,
		entityId:     in.EntityId,
		fragmentName: in.FragmentName,
	}
}

// invalidate drops the single cache entry matching the discriminators;
// missing entries are ignored silently (spec §4.6).
func (m *Materializer) invalidate(plan *compiler.Plan, in MaterializeInput) {
	key := m.cacheKeyFor(plan, in)
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

func (m *Materializer) lookup(key materializeCacheKey) (MaterializeResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[key]
	if !ok {
		return MaterializeResult{}, false
	}
	for id, v := range entry.depVersion {
		if m.g.GetVersion(graph.RecordId(id)) != v {
			return MaterializeResult{}, false
		}
	}
	result := entry.result
	result.Hot = true
	return result, true
}

func (m *Materializer) store(key materializeCacheKey, result MaterializeResult, deps []string) {
	depVersion := make(map[string]uint64, len(deps))
	for _, dep := range deps {
		depVersion[dep] = m.g.GetVersion(graph.RecordId(dep))
	}
	m.mu.Lock()
	m.cache[key] = &cacheEntry{result: result, depVersion: depVersion}
	m.mu.Unlock()
}

// walkResult is the internal accumulator for one materialized subtree.
type walkResult struct {
	data          interface{}
	missing       bool
	usedCanonical bool
	ids           []graph.RecordId
}

func (m *Materializer) materialize(plan *compiler.Plan, in MaterializeInput) (MaterializeResult, error) {
	key := m.cacheKeyFor(plan, in)

	if in.PreferCache && !in.Force {
		if result, ok := m.lookup(key); ok {
			return result, nil
		}
	}

	root := in.EntityId
	if root == "" {
		root = graph.Root
	}

	strictDS, strictFP := newDepSet(), newFingerprint()
	strictWalk, err := m.walkObject(root, plan.Root, in.Variables, false, strictDS, strictFP, !in.DisableFingerprint)
	if err != nil {
		return MaterializeResult{}, err
	}

	canonicalAllowed := !in.DisableCanonical
	ds, fp := newDepSet(), newFingerprint()
	walk, err := m.walkObject(root, plan.Root, in.Variables, canonicalAllowed, ds, fp, !in.DisableFingerprint)
	if err != nil {
		return MaterializeResult{}, err
	}

	result := MaterializeResult{
		Ok:           Ok{Strict: !strictWalk.missing, Canonical: !walk.missing},
		Dependencies: ds.slice(),
	}

	if walk.missing {
		result.Source = SourceNone
		result.Data = nil
		return result, nil
	}

	if walk.usedCanonical {
		result.Source = SourceCanonical
	} else {
		result.Source = SourceStrict
	}
	result.Data = walk.data

	if !in.DisableCache {
		m.store(key, result, result.Dependencies)
	}

	return result, nil
}

// walkObject resolves fields against the record at parent, recursing through
// refs/refLists/connections (spec §4.6). canonicalAllowed gates connection
// substitution; withFingerprint controls whether __version gets assigned.
func (m *Materializer) walkObject(parent graph.RecordId, fields []*compiler.PlanField, vars map[string]interface{}, canonicalAllowed bool, ds *depSet, fp *fingerprint, withFingerprint bool) (walkResult, error) {
	ds.addRecord(parent)
	rec, ok := m.g.GetRecord(parent)
	if !ok {
		return walkResult{missing: true}, nil
	}
	fp.observe(parent, m.g.GetVersion(parent))

	data := map[string]interface{}{}
	missing := false
	usedCanonical := false
	ids := []graph.RecordId{parent}

	for _, pf := range fields {
		storageKey, err := pf.StorageKey(vars)
		if err != nil {
			return walkResult{}, err
		}
		ds.addPseudo(fieldPseudoKey(parent, storageKey))

		if pf.IsConnection {
			connData, connMissing, connUsedCanonical, connIDs, err := m.walkConnectionField(parent, storageKey, pf, vars, canonicalAllowed, ds, fp, withFingerprint)
			if err != nil {
				return walkResult{}, err
			}
			if connMissing {
				missing = true
			} else {
				data[pf.ResponseKey] = connData
			}
			usedCanonical = usedCanonical || connUsedCanonical
			ids = append(ids, connIDs...)
			continue
		}

		raw, exists := rec[storageKey]
		if !exists {
			missing = true
			continue
		}

		switch v := raw.(type) {
		case graph.Ref:
			if len(pf.SelectionSet) == 0 {
				data[pf.ResponseKey] = string(v.ID)
				continue
			}
			child, err := m.walkObject(v.ID, pf.SelectionSet, vars, canonicalAllowed, ds, fp, withFingerprint)
			if err != nil {
				return walkResult{}, err
			}
			if child.missing {
				missing = true
			} else {
				data[pf.ResponseKey] = child.data
			}
			usedCanonical = usedCanonical || child.usedCanonical
			ids = append(ids, child.ids...)

		case graph.RefList:
			list := make([]interface{}, 0, len(v.IDs))
			for _, id := range v.IDs {
				child, err := m.walkObject(id, pf.SelectionSet, vars, canonicalAllowed, ds, fp, withFingerprint)
				if err != nil {
					return walkResult{}, err
				}
				if child.missing {
					missing = true
					continue
				}
				list = append(list, child.data)
				usedCanonical = usedCanonical || child.usedCanonical
				ids = append(ids, child.ids...)
			}
			data[pf.ResponseKey] = list

		default:
			data[pf.ResponseKey] = v
		}
	}

	if withFingerprint {
		data["__version"] = fp.sum(ids...)
	}

	return walkResult{data: data, missing: missing, usedCanonical: usedCanonical, ids: ids}, nil
}

// walkConnectionField resolves a connection field, preferring the canonical
// union record over the concrete page when canonicalAllowed (spec §4.6).
func (m *Materializer) walkConnectionField(parent graph.RecordId, storageKey string, pf *compiler.PlanField, vars map[string]interface{}, canonicalAllowed bool, ds *depSet, fp *fingerprint, withFingerprint bool) (interface{}, bool, bool, []graph.RecordId, error) {
	pageKey := pageKeyFor(parent, storageKey)

	if canonicalAllowed {
		canonicalKey, err := canonicalKeyFor(parent, pf, vars)
		if err != nil {
			return nil, false, false, nil, err
		}
		ds.addPseudo(string(canonicalKey) + ".pageInfo")
		data, miss, ids, err := m.walkConnectionRecord(canonicalKey, pf, vars, canonicalAllowed, ds, fp, withFingerprint)
		if err != nil {
			return nil, false, false, nil, err
		}
		if !miss {
			return data, false, true, ids, nil
		}
	}

	data, miss, ids, err := m.walkConnectionRecord(pageKey, pf, vars, canonicalAllowed, ds, fp, withFingerprint)
	if err != nil {
		return nil, false, false, nil, err
	}
	return data, miss, false, ids, nil
}

// walkConnectionRecord materializes a page or canonical record's edges,
// pageInfo, and extra scalars (totalCount, aggregations, …).
func (m *Materializer) walkConnectionRecord(recID graph.RecordId, pf *compiler.PlanField, vars map[string]interface{}, canonicalAllowed bool, ds *depSet, fp *fingerprint, withFingerprint bool) (interface{}, bool, []graph.RecordId, error) {
	rec, ok := m.g.GetRecord(recID)
	if !ok {
		return nil, true, nil, nil
	}
	ds.addRecord(recID)
	fp.observe(recID, m.g.GetVersion(recID))

	out := map[string]interface{}{"__typename": rec["__typename"]}
	missing := false
	ids := []graph.RecordId{recID}

	if edgesPF := pf.SelectionMap["edges"]; edgesPF != nil {
		refs, _ := rec["edges"].(graph.RefList)
		edgesOut := make([]interface{}, 0, len(refs.IDs))
		for _, edgeID := range refs.IDs {
			child, err := m.walkObject(edgeID, edgesPF.SelectionSet, vars, canonicalAllowed, ds, fp, withFingerprint)
			if err != nil {
				return nil, false, nil, err
			}
			if child.missing {
				missing = true
				continue
			}
			edgesOut = append(edgesOut, child.data)
			ids = append(ids, child.ids...)
		}
		out["edges"] = edgesOut
	}

	if pageInfoPF := pf.SelectionMap["pageInfo"]; pageInfoPF != nil {
		pageInfoID := graph.RecordId(string(recID) + ".pageInfo")
		child, err := m.walkObject(pageInfoID, pageInfoPF.SelectionSet, vars, canonicalAllowed, ds, fp, withFingerprint)
		if err != nil {
			return nil, false, nil, err
		}
		if child.missing {
			missing = true
		} else {
			out["pageInfo"] = child.data
			ids = append(ids, child.ids...)
		}
	}

	for _, pf2 := range pf.SelectionSet {
		switch pf2.ResponseKey {
		case "edges", "pageInfo", "__typename":
			continue
		}
		sk, err := pf2.StorageKey(vars)
		if err != nil {
			return nil, false, nil, err
		}
		if val, exists := rec[sk]; exists {
			out[pf2.ResponseKey] = val
		}
	}

	if withFingerprint {
		out["__version"] = fp.sum(ids...)
	}

	return out, missing, ids, nil
}

func pageKeyFor(parent graph.RecordId, storageKey string) graph.RecordId {
	if parent == graph.Root {
		return graph.RecordId("@." + storageKey)
	}
	return graph.RecordId("@." + string(parent) + "." + storageKey)
}

func canonicalKeyFor(parent graph.RecordId, pf *compiler.PlanField, vars map[string]interface{}) (graph.RecordId, error) {
	canonArgs, err := pf.CanonicalArgsString(vars)
	if err != nil {
		return "", cerrors.Wrap(cerrors.InvalidPage, err, "computing canonical args for %s", pf.ConnectionKey)
	}
	suffix := pf.ConnectionKey + "(" + canonArgs + ")"
	if parent == graph.Root {
		return graph.RecordId("@connection." + suffix), nil
	}
	return graph.RecordId("@connection." + string(parent) + "." + suffix), nil
}
