// Package documents implements normalize/materialize (spec §4.5, §4.6): it
// is the only component that walks a compiled Plan against real response
// data, and the only writer of page/canonical connection records.
package documents

import (
	"strconv"

	"github.com/lockvoid/cachebay/internal/canonical"
	"github.com/lockvoid/cachebay/internal/compiler"
	"github.com/lockvoid/cachebay/internal/graph"
	"github.com/lockvoid/cachebay/internal/optimistic"
	"github.com/lockvoid/cachebay/internal/planner"
)

// Documents ties Planner, Graph, Canonical, and Optimistic together to
// implement normalize/materialize/invalidate (spec §2).
type Documents struct {
	planner *planner.Planner
	g       *graph.Graph
	canon   *canonical.Engine
	opt     *optimistic.Engine
	mat     *Materializer
}

// New creates a Documents instance over the given subsystems.
func New(p *planner.Planner, g *graph.Graph, canon *canonical.Engine, opt *optimistic.Engine) *Documents {
	return &Documents{planner: p, g: g, canon: canon, opt: opt, mat: newMaterializer(g)}
}

// Origin distinguishes a page that just landed from the network from one
// that is being re-fed from a previously-cached/persisted response (spec
// §4.4 "mergeFromCache"). Network origin resets a connection's leader on a
// fresh leader-classified page; cache origin never does.
type Origin int

const (
	OriginNetwork Origin = iota
	OriginCache
)

// NormalizeInput is the input to Normalize (spec §4.5).
type NormalizeInput struct {
	Document     interface{}
	FragmentName string
	Variables    map[string]interface{}
	Data         map[string]interface{}
	EntityId     graph.RecordId // writeFragment target; empty means root
	Origin       Origin         // default OriginNetwork
}

// Normalize writes a response into the graph through a compiled Plan (spec
// §4.5). Writes batch into one Graph change notification per call.
func (d *Documents) Normalize(in NormalizeInput) error {
	plan, err := d.planner.GetPlan(in.Document, in.FragmentName)
	if err != nil {
		return err
	}

	root := in.EntityId
	if root == "" {
		root = graph.Root
	}

	touched := map[graph.RecordId]graph.Record{}
	if err := d.normalizeSelection(plan.Root, root, in.Data, in.Variables, plan.Operation, in.Origin, touched); err != nil {
		return err
	}

	if len(touched) > 0 {
		if err := d.canon.RebuildMany(touched); err != nil {
			return err
		}
	}

	d.g.Flush()
	return nil
}

// Materialize reads a result tree back out (spec §4.6).
func (d *Documents) Materialize(in MaterializeInput) (MaterializeResult, error) {
	plan, err := d.planner.GetPlan(in.Document, in.FragmentName)
	if err != nil {
		return MaterializeResult{}, err
	}
	return d.mat.materialize(plan, in)
}

// Invalidate drops a single cached materialize result (spec §4.6).
func (d *Documents) Invalidate(in MaterializeInput) error {
	plan, err := d.planner.GetPlan(in.Document, in.FragmentName)
	if err != nil {
		return err
	}
	d.mat.invalidate(plan, in)
	return nil
}

func (d *Documents) writeBase(id graph.RecordId, partial graph.Record) {
	d.opt.ApplyBase(id, partial)
}

// normalizeSelection writes every plain (non-connection) field from obj
// into a single record at parent, and recurses into connection fields to
// build their page/edge/pageInfo sub-records (spec §4.5).
func (d *Documents) normalizeSelection(fields []*compiler.PlanField, parent graph.RecordId, obj map[string]interface{}, vars map[string]interface{}, operation compiler.Operation, origin Origin, touched map[graph.RecordId]graph.Record) error {
	if obj == nil {
		return nil
	}

	rec := graph.Record{}
	for _, pf := range fields {
		raw, present := obj[pf.ResponseKey]
		if !present {
			continue
		}

		storageKey, err := pf.StorageKey(vars)
		if err != nil {
			return err
		}

		if pf.IsConnection {
			ref, err := d.normalizeConnection(parent, storageKey, pf, vars, raw, operation, origin, touched)
			if err != nil {
				return err
			}
			rec[storageKey] = ref
			continue
		}

		val, err := d.normalizeValue(raw, pf, vars, operation, origin, touched)
		if err != nil {
			return err
		}
		rec[storageKey] = val
	}

	if len(rec) > 0 {
		d.writeBase(parent, rec)
	}
	return nil
}

// normalizeValue writes raw into the store if it identifies as an entity
// (or a homogeneous array of entities), otherwise stores it inline.
func (d *Documents) normalizeValue(raw interface{}, pf *compiler.PlanField, vars map[string]interface{}, operation compiler.Operation, origin Origin, touched map[graph.RecordId]graph.Record) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil

	case map[string]interface{}:
		if id, ok := d.g.Identify(v); ok {
			if err := d.normalizeSelection(pf.SelectionSet, id, v, vars, operation, origin, touched); err != nil {
				return nil, err
			}
			return graph.Ref{ID: id}, nil
		}
		return v, nil

	case []interface{}:
		if len(v) == 0 {
			return graph.RefList{}, nil
		}
		refs := make([]graph.RecordId, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return v, nil // mixed/non-entity array: embed as-is
			}
			id, ok := d.g.Identify(m)
			if !ok {
				return v, nil
			}
			if err := d.normalizeSelection(pf.SelectionSet, id, m, vars, operation, origin, touched); err != nil {
				return nil, err
			}
			refs = append(refs, id)
		}
		return graph.RefList{IDs: refs}, nil

	default:
		return v, nil
	}
}

// normalizeConnection writes a connection field's page, edges, and pageInfo
// sub-records, then feeds the page into Canonical unless the owning
// operation is a mutation or subscription (spec §4.5).
func (d *Documents) normalizeConnection(parent graph.RecordId, storageKey string, pf *compiler.PlanField, vars map[string]interface{}, raw interface{}, operation compiler.Operation, origin Origin, touched map[graph.RecordId]graph.Record) (graph.Ref, error) {
	page, ok := raw.(map[string]interface{})
	if !ok || page == nil {
		return graph.Ref{}, nil
	}

	pageKey := pageKeyFor(parent, storageKey)
	pageRec := graph.Record{"__typename": firstString(page["__typename"], pf.FieldName)}

	var edgeRefs []graph.RecordId
	if edgesPF := pf.SelectionMap["edges"]; edgesPF != nil {
		if edgesRaw, ok := page["edges"].([]interface{}); ok {
			edgeRefs = make([]graph.RecordId, 0, len(edgesRaw))
			for i, edgeRaw := range edgesRaw {
				edgeMap, ok := edgeRaw.(map[string]interface{})
				if !ok {
					continue
				}
				edgeID := graph.RecordId(string(pageKey) + ".edges:" + strconv.Itoa(i))
				if err := d.normalizeSelection(edgesPF.SelectionSet, edgeID, edgeMap, vars, operation, origin, touched); err != nil {
					return graph.Ref{}, err
				}
				edgeRefs = append(edgeRefs, edgeID)
			}
		}
		pageRec["edges"] = graph.RefList{IDs: edgeRefs}
	}

	if pageInfoPF := pf.SelectionMap["pageInfo"]; pageInfoPF != nil {
		pageInfoID := graph.RecordId(string(pageKey) + ".pageInfo")
		if pageInfoRaw, ok := page["pageInfo"].(map[string]interface{}); ok {
			if err := d.normalizeSelection(pageInfoPF.SelectionSet, pageInfoID, pageInfoRaw, vars, operation, origin, touched); err != nil {
				return graph.Ref{}, err
			}
		} else {
			d.writeBase(pageInfoID, graph.Record{"__typename": "PageInfo"})
		}
		pageRec["pageInfo"] = graph.Ref{ID: pageInfoID}
	}

	for _, pf2 := range pf.SelectionSet {
		switch pf2.ResponseKey {
		case "edges", "pageInfo", "__typename":
			continue
		}
		raw2, present := page[pf2.ResponseKey]
		if !present {
			continue
		}
		sk, err := pf2.StorageKey(vars)
		if err != nil {
			return graph.Ref{}, err
		}
		val, err := d.normalizeValue(raw2, pf2, vars, operation, origin, touched)
		if err != nil {
			return graph.Ref{}, err
		}
		pageRec[sk] = val
	}

	d.writeBase(pageKey, pageRec)

	if operation != compiler.OperationMutation && operation != compiler.OperationSubscription {
		canonicalKey, err := canonicalKeyFor(parent, pf, vars)
		if err != nil {
			return graph.Ref{}, err
		}

		mode := canonical.ModeInfinite
		if pf.ConnectionMode == compiler.ConnectionModePage {
			mode = canonical.ModePage
		}

		storedPage, _ := d.g.GetRecord(pageKey)
		params := canonical.UpdateParams{
			CanonicalKey: canonicalKey,
			Mode:         mode,
			Variables:    vars,
			PageKey:      pageKey,
			PageSnapshot: storedPage,
			PageEdgeRefs: edgeRefs,
		}

		var stageErr error
		if origin == OriginCache {
			stageErr = d.canon.StageMergeFromCache(params)
		} else {
			stageErr = d.canon.StageUpdate(params)
		}
		if stageErr != nil {
			return graph.Ref{}, stageErr
		}

		if mode == canonical.ModeInfinite {
			touched[canonicalKey] = storedPage
		}
	}

	return graph.Ref{ID: pageKey}, nil
}

func firstString(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
