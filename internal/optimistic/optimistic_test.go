package optimistic_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockvoid/cachebay/internal/graph"
	"github.com/lockvoid/cachebay/internal/optimistic"
)

func newFixture() (*graph.Graph, *optimistic.Engine) {
	g := graph.New(&graph.Config{}, func(map[graph.RecordId]struct{}) {})
	return g, optimistic.New(g)
}

func connEdgeNodeIDs(t *testing.T, g *graph.Graph, connKey graph.RecordId) []string {
	rec, ok := g.GetRecord(connKey)
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

func seedConn(opt *optimistic.Engine, connKey graph.RecordId, nodeIDs []string) {
	var edgeRefs []graph.RecordId
	for _, n := range nodeIDs {
		opt.ApplyBase(graph.RecordId(n), graph.Record{"__typename": "User", "id": n})
		edgeID := graph.RecordId(string(connKey) + ".edges:" + n)
		opt.ApplyBase(edgeID, graph.Record{"node": graph.Ref{ID: graph.RecordId(n)}})
		edgeRefs = append(edgeRefs, edgeID)
	}
	opt.ApplyBase(connKey, graph.Record{"__typename": "UserConnection", "edges": graph.RefList{IDs: edgeRefs}})
}

func TestModifyOptimistic_PrependRemoveThenRevert(t *testing.T) {
	g, opt := newFixture()
	const connKey graph.RecordId = "@connection.users({})"
	seedConn(opt, connKey, []string{"User:1", "User:2", "User:3"})

	require.Equal(t, []string{"User:1", "User:2", "User:3"}, connEdgeNodeIDs(t, g, connKey))

	txn := opt.Modify(func(w *optimistic.Writer) {
		w.AddNodeStart(connKey, "User:9")
		w.RemoveNode(connKey, "User:2")
	})
	require.Equal(t, []string{"User:9", "User:1", "User:3"}, connEdgeNodeIDs(t, g, connKey))

	opt.Revert(txn)
	require.Equal(t, []string{"User:1", "User:2", "User:3"}, connEdgeNodeIDs(t, g, connKey))
}

func TestModifyOptimistic_CommitKeepsPatchedViewAfterBaseReplay(t *testing.T) {
	g, opt := newFixture()
	const connKey graph.RecordId = "@connection.users({})"
	seedConn(opt, connKey, []string{"User:1", "User:2", "User:3"})

	txn := opt.Modify(func(w *optimistic.Writer) {
		w.AddNodeEnd(connKey, "User:4")
	})
	require.Equal(t, []string{"User:1", "User:2", "User:3", "User:4"}, connEdgeNodeIDs(t, g, connKey))

	opt.Commit(txn)
	// Commit drops the patch without reverting committed state; a further
	// base write should not resurrect the patch's effect.
	opt.ApplyBase("User:1", graph.Record{"name": "Ada"})
	rec, _ := g.GetRecord("User:1")
	require.Equal(t, "Ada", rec["name"])
}

func TestModifyOptimistic_SetEntityOverlaysOnTopOfBase(t *testing.T) {
	g, opt := newFixture()
	opt.ApplyBase("User:1", graph.Record{"__typename": "User", "id": "1", "name": "Ada"})

	txn := opt.Modify(func(w *optimistic.Writer) {
		w.SetEntity("User:1", graph.Record{"name": "Ada (pending)"})
	})
	rec, _ := g.GetRecord("User:1")
	require.Equal(t, "Ada (pending)", rec["name"])

	opt.Revert(txn)
	rec, _ = g.GetRecord("User:1")
	require.Equal(t, "Ada", rec["name"])
}

func TestModifyOptimistic_RemovingAbsentNodeIsNoOp(t *testing.T) {
	g, opt := newFixture()
	const connKey graph.RecordId = "@connection.users({})"
	seedConn(opt, connKey, []string{"User:1", "User:2"})

	opt.Modify(func(w *optimistic.Writer) {
		w.RemoveNode(connKey, "User:999")
	})
	require.Equal(t, []string{"User:1", "User:2"}, connEdgeNodeIDs(t, g, connKey))
}

func TestModifyOptimistic_ReorderPlacesUnmatchedAfter(t *testing.T) {
	g, opt := newFixture()
	const connKey graph.RecordId = "@connection.users({})"
	seedConn(opt, connKey, []string{"User:1", "User:2", "User:3"})

	opt.Modify(func(w *optimistic.Writer) {
		w.Reorder(connKey, []graph.RecordId{"User:3", "User:1"})
	})
	require.Equal(t, []string{"User:3", "User:1", "User:2"}, connEdgeNodeIDs(t, g, connKey))
}

func TestModifyOptimistic_BaseUpdateReplaysActivePatches(t *testing.T) {
	g, opt := newFixture()
	const connKey graph.RecordId = "@connection.users({})"
	seedConn(opt, connKey, []string{"User:1", "User:2"})

	opt.Modify(func(w *optimistic.Writer) {
		w.AddNodeStart(connKey, "User:9")
	})
	require.Equal(t, []string{"User:9", "User:1", "User:2"}, connEdgeNodeIDs(t, g, connKey))

	// A fresh base page arrives (e.g. canonical rebuild); the prepend must
	// survive replay over the new base edge list.
	edgeRefs := []graph.RecordId{graph.RecordId(string(connKey) + ".edges:User:1"), graph.RecordId(string(connKey) + ".edges:User:2"), graph.RecordId(string(connKey) + ".edges:User:3")}
	opt.ApplyBase("User:3", graph.Record{"__typename": "User", "id": "3"})
	opt.ApplyBase(edgeRefs[2], graph.Record{"node": graph.Ref{ID: "User:3"}})
	opt.ApplyBase(connKey, graph.Record{"edges": graph.RefList{IDs: edgeRefs}})

	require.Equal(t, []string{"User:9", "User:1", "User:2", "User:3"}, connEdgeNodeIDs(t, g, connKey))
}
