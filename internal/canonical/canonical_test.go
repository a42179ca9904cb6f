package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockvoid/cachebay/internal/canonical"
	"github.com/lockvoid/cachebay/internal/graph"
)

func newFixture() (*graph.Graph, *canonical.Engine) {
	g := graph.New(&graph.Config{}, func(map[graph.RecordId]struct{}) {})
	can := canonical.New(g, nil, nil)
	return g, can
}

// putPage writes a page record plus its edges (each wrapping a User node)
// and a pageInfo sub-record, mirroring what documents.normalize produces.
func putPage(g *graph.Graph, pageKey graph.RecordId, nodeIDs []string, startCursor, endCursor string, hasNext, hasPrev bool) []graph.RecordId {
	var edgeRefs []graph.RecordId
	for i, nodeID := range nodeIDs {
		g.PutRecord(graph.RecordId(nodeID), graph.Record{"__typename": "User", "id": nodeID})
		edgeID := graph.RecordId(string(pageKey) + ".edges:" + string(rune('0'+i)))
		g.PutRecord(edgeID, graph.Record{"node": graph.Ref{ID: graph.RecordId(nodeID)}, "cursor": nodeID})
		edgeRefs = append(edgeRefs, edgeID)
	}
	pageInfoID := graph.RecordId(string(pageKey) + ".pageInfo")
	g.PutRecord(pageInfoID, graph.Record{
		"__typename": "PageInfo", "startCursor": startCursor, "endCursor": endCursor,
		"hasNextPage": hasNext, "hasPreviousPage": hasPrev,
	})
	g.PutRecord(pageKey, graph.Record{
		"__typename": "UserConnection",
		"edges":      graph.RefList{IDs: edgeRefs},
		"pageInfo":   graph.Ref{ID: pageInfoID},
	})
	g.Flush()
	return edgeRefs
}

func edgeNodeIDs(t *testing.T, g *graph.Graph, canonicalKey graph.RecordId) []string {
	rec, ok := g.GetRecord(canonicalKey)
	require.True(t, ok)
	refs, _ := rec["edges"].(graph.RefList)
	out := make([]string, len(refs.IDs))
	for i, edgeID := range refs.IDs {
		edgeRec, ok := g.GetRecord(edgeID)
		require.True(t, ok)
		ref, ok := edgeRec["node"].(graph.Ref)
		require.True(t, ok)
		out[i] = string(ref.ID)
	}
	return out
}

func TestUpdateConnection_RootAppend(t *testing.T) {
	g, can := newFixture()
	const canKey graph.RecordId = `@connection.users({"role":"admin"})`

	pageA := graph.RecordId(`@.users({"role":"admin","first":2})`)
	edgesA := putPage(g, pageA, []string{"User:u1", "User:u2"}, "u1", "u2", true, false)
	recA, _ := g.GetRecord(pageA)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"role": "admin", "first": 2},
		PageKey:   pageA, PageSnapshot: recA, PageEdgeRefs: edgesA,
	}))

	pageB := graph.RecordId(`@.users({"role":"admin","first":2,"after":"u2"})`)
	edgesB := putPage(g, pageB, []string{"User:u3"}, "u3", "u3", false, true)
	recB, _ := g.GetRecord(pageB)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"role": "admin", "first": 2, "after": "u2"},
		PageKey:   pageB, PageSnapshot: recB, PageEdgeRefs: edgesB,
	}))

	require.Equal(t, []string{"User:u1", "User:u2", "User:u3"}, edgeNodeIDs(t, g, canKey))

	pageInfo, ok := g.GetRecord(canKey + ".pageInfo")
	require.True(t, ok)
	require.Equal(t, "u1", pageInfo["startCursor"])
	require.Equal(t, "u3", pageInfo["endCursor"])
}

func TestUpdateConnection_LeaderRefetchCollapses(t *testing.T) {
	g, can := newFixture()
	const canKey graph.RecordId = `@connection.users({"role":"admin"})`

	pageA := graph.RecordId(`@.users({"role":"admin","first":2})`)
	varsA := map[string]interface{}{"role": "admin", "first": 2}
	edgesA := putPage(g, pageA, []string{"User:u1", "User:u2"}, "u1", "u2", true, false)
	recA, _ := g.GetRecord(pageA)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite, Variables: varsA,
		PageKey: pageA, PageSnapshot: recA, PageEdgeRefs: edgesA,
	}))

	pageB := graph.RecordId(`@.users({"role":"admin","first":2,"after":"u2"})`)
	edgesB := putPage(g, pageB, []string{"User:u3"}, "u3", "u3", false, true)
	recB, _ := g.GetRecord(pageB)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"role": "admin", "first": 2, "after": "u2"},
		PageKey:   pageB, PageSnapshot: recB, PageEdgeRefs: edgesB,
	}))
	require.Equal(t, []string{"User:u1", "User:u2", "User:u3"}, edgeNodeIDs(t, g, canKey))

	// Leader refetch (no after/before) resets meta.pages to [pageA].
	edgesA2 := putPage(g, pageA, []string{"User:u1", "User:u2"}, "u1", "u2", true, false)
	recA2, _ := g.GetRecord(pageA)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite, Variables: varsA,
		PageKey: pageA, PageSnapshot: recA2, PageEdgeRefs: edgesA2,
	}))

	require.Equal(t, []string{"User:u1", "User:u2"}, edgeNodeIDs(t, g, canKey))
}

func TestUpdateConnection_BeforePageMergesAhead(t *testing.T) {
	g, can := newFixture()
	const canKey graph.RecordId = `@connection.users({})`

	p1 := graph.RecordId(`@.users({"last":3})`)
	edges1 := putPage(g, p1, []string{"User:4", "User:5", "User:6"}, "p4", "p6", false, true)
	rec1, _ := g.GetRecord(p1)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"last": 3},
		PageKey:   p1, PageSnapshot: rec1, PageEdgeRefs: edges1,
	}))

	p0 := graph.RecordId(`@.users({"before":"p4","last":3})`)
	edges0 := putPage(g, p0, []string{"User:1", "User:2", "User:3"}, "p1", "p3", true, false)
	rec0, _ := g.GetRecord(p0)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"before": "p4", "last": 3},
		PageKey:   p0, PageSnapshot: rec0, PageEdgeRefs: edges0,
	}))

	require.Equal(t, []string{"User:1", "User:2", "User:3", "User:4", "User:5", "User:6"}, edgeNodeIDs(t, g, canKey))

	pageInfo, ok := g.GetRecord(canKey + ".pageInfo")
	require.True(t, ok)
	require.Equal(t, "p1", pageInfo["startCursor"])
	require.Equal(t, "p6", pageInfo["endCursor"])
}

func TestUpdateConnection_DedupRefreshesMetadataFromLaterPage(t *testing.T) {
	g, can := newFixture()
	const canKey graph.RecordId = `@connection.users({})`

	p1 := graph.RecordId(`@.users({"first":2})`)
	edges1 := putPage(g, p1, []string{"User:n1", "User:n2"}, "c1", "c2", true, false)
	rec1, _ := g.GetRecord(p1)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"first": 2},
		PageKey:   p1, PageSnapshot: rec1, PageEdgeRefs: edges1,
	}))
	keptEdge := edges1[1] // edge for User:n2 from p1

	p2 := graph.RecordId(`@.users({"first":2,"after":"c2"})`)
	edges2 := putPage(g, p2, []string{"User:n2", "User:n3"}, "c2b", "c3", false, true)
	g.PutRecord(edges2[0], graph.Record{"cursor": "c2-refreshed"})
	g.Flush()
	rec2, _ := g.GetRecord(p2)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModeInfinite,
		Variables: map[string]interface{}{"first": 2, "after": "c2"},
		PageKey:   p2, PageSnapshot: rec2, PageEdgeRefs: edges2,
	}))

	// n2's edge reference is still the one from p1 (position preserved)...
	rec, _ := g.GetRecord(canKey)
	refs := rec["edges"].(graph.RefList)
	require.Equal(t, keptEdge, refs.IDs[1])

	// ...but its cursor now reflects p2's later occurrence.
	keptRec, _ := g.GetRecord(keptEdge)
	require.Equal(t, "c2-refreshed", keptRec["cursor"])
}

func TestUpdateConnection_MissingTypenameIsInvalidPage(t *testing.T) {
	g, can := newFixture()
	g.PutRecord("@.users({})", graph.Record{"edges": graph.RefList{}})
	g.Flush()
	rec, _ := g.GetRecord("@.users({})")

	err := can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: "@connection.users({})",
		Mode:         canonical.ModeInfinite,
		PageKey:      "@.users({})",
		PageSnapshot: rec,
	})
	require.Error(t, err)
}

func TestUpdateConnection_PageModeReplacesWholesale(t *testing.T) {
	g, can := newFixture()
	const canKey graph.RecordId = `@connection.users({"page":1})`

	page := graph.RecordId(`@.users({"page":1})`)
	edges := putPage(g, page, []string{"User:a", "User:b"}, "a", "b", true, false)
	rec, _ := g.GetRecord(page)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModePage,
		PageKey: page, PageSnapshot: rec, PageEdgeRefs: edges,
	}))
	require.Equal(t, []string{"User:a", "User:b"}, edgeNodeIDs(t, g, canKey))

	page2 := graph.RecordId(`@.users({"page":2})`)
	edges2 := putPage(g, page2, []string{"User:c"}, "c", "c", false, false)
	rec2, _ := g.GetRecord(page2)
	require.NoError(t, can.UpdateConnection(canonical.UpdateParams{
		CanonicalKey: canKey, Mode: canonical.ModePage,
		PageKey: page2, PageSnapshot: rec2, PageEdgeRefs: edges2,
	}))
	// page mode replaces wholesale: previous page's edges are gone.
	require.Equal(t, []string{"User:c"}, edgeNodeIDs(t, g, canKey))
}
