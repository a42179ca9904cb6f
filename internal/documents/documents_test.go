package documents_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockvoid/cachebay/internal/canonical"
	"github.com/lockvoid/cachebay/internal/documents"
	"github.com/lockvoid/cachebay/internal/graph"
	"github.com/lockvoid/cachebay/internal/optimistic"
	"github.com/lockvoid/cachebay/internal/planner"
	"github.com/lockvoid/cachebay/internal/testutil"
)

func newFixture() (*graph.Graph, *documents.Documents) {
	g := graph.New(&graph.Config{}, func(map[graph.RecordId]struct{}) {})
	opt := optimistic.New(g)
	can := canonical.New(g, opt.ApplyBase, opt.ReplayKeys)
	docs := documents.New(planner.New(), g, can, opt)
	return g, docs
}

func TestNormalizeMaterialize_UserById(t *testing.T) {
	g, docs := newFixture()

	err := docs.Normalize(documents.NormalizeInput{
		Document:  `query($id: ID) { user(id: $id) { id email } }`,
		Variables: map[string]interface{}{"id": "u1"},
		Data: map[string]interface{}{
			"user": map[string]interface{}{"__typename": "User", "id": "u1", "email": "a@x"},
		},
	})
	require.NoError(t, err)

	rec, ok := g.GetRecord("User:u1")
	require.True(t, ok)
	require.Equal(t, "a@x", rec["email"])

	result, err := docs.Materialize(documents.MaterializeInput{
		Document:  `query($id: ID) { user(id: $id) { id email } }`,
		Variables: map[string]interface{}{"id": "u1"},
	})
	require.NoError(t, err)
	require.Equal(t, documents.SourceStrict, result.Source)

	data := result.Data.(map[string]interface{})
	user := data["user"].(map[string]interface{})
	require.Equal(t, "u1", user["id"])
	require.Equal(t, "a@x", user["email"])
	require.Contains(t, user, "__version")
	require.Contains(t, data, "__version")

	require.Contains(t, result.Dependencies, `@.user({"id":"u1"})`)
	require.Contains(t, result.Dependencies, "User:u1")

	snap := testutil.NewSnapshotter(t)
	snap.Snapshot("user_by_id", map[string]interface{}{"id": user["id"], "email": user["email"]})
}

func TestMaterialize_MissingLinkReportsSourceNone(t *testing.T) {
	g, docs := newFixture()
	// Write only the root link, never the entity itself.
	g.PutRecord(graph.Root, graph.Record{`user({"id":"u2"})`: graph.Ref{ID: "User:u2"}})
	g.Flush()

	result, err := docs.Materialize(documents.MaterializeInput{
		Document:  `query($id: ID) { user(id: $id) { id email } }`,
		Variables: map[string]interface{}{"id": "u2"},
	})
	require.NoError(t, err)
	require.Equal(t, documents.SourceNone, result.Source)
	require.Nil(t, result.Data)
	require.Contains(t, result.Dependencies, `@.user({"id":"u2"})`)
	require.Contains(t, result.Dependencies, "User:u2")
}

const usersDoc = `
	query($role: String, $after: String, $before: String) {
		users(role: $role, after: $after, before: $before, first: 2) @connection(key: "users", filters: ["role"]) {
			edges { node { id } cursor }
			pageInfo { startCursor endCursor hasNextPage hasPreviousPage }
		}
	}
`

func usersPage(ids ...string) map[string]interface{} {
	edges := make([]interface{}, len(ids))
	for i, id := range ids {
		edges[i] = map[string]interface{}{
			"__typename": "UserEdge",
			"cursor":     id,
			"node":       map[string]interface{}{"__typename": "User", "id": id},
		}
	}
	return map[string]interface{}{
		"__typename": "UserConnection",
		"edges":      edges,
		"pageInfo": map[string]interface{}{
			"__typename":      "PageInfo",
			"startCursor":     ids[0],
			"endCursor":       ids[len(ids)-1],
			"hasNextPage":     true,
			"hasPreviousPage": false,
		},
	}
}

func TestNormalizeMaterialize_ConnectionAppendAcrossPages(t *testing.T) {
	_, docs := newFixture()

	err := docs.Normalize(documents.NormalizeInput{
		Document:  usersDoc,
		Variables: map[string]interface{}{"role": "admin"},
		Data:      map[string]interface{}{"users": usersPage("u1", "u2")},
	})
	require.NoError(t, err)

	err = docs.Normalize(documents.NormalizeInput{
		Document:  usersDoc,
		Variables: map[string]interface{}{"role": "admin", "after": "u2"},
		Data:      map[string]interface{}{"users": usersPage("u3")},
	})
	require.NoError(t, err)

	result, err := docs.Materialize(documents.MaterializeInput{
		Document:  usersDoc,
		Variables: map[string]interface{}{"role": "admin"},
	})
	require.NoError(t, err)
	require.Equal(t, documents.SourceCanonical, result.Source)

	data := result.Data.(map[string]interface{})
	usersOut := data["users"].(map[string]interface{})
	edges := usersOut["edges"].([]interface{})
	require.Len(t, edges, 3)

	var ids []string
	for _, e := range edges {
		ids = append(ids, e.(map[string]interface{})["node"].(map[string]interface{})["id"].(string))
	}
	require.Equal(t, []string{"u1", "u2", "u3"}, ids)

	pageInfo := usersOut["pageInfo"].(map[string]interface{})
	require.Equal(t, "u1", pageInfo["startCursor"])
	require.Equal(t, "u3", pageInfo["endCursor"])
}

func TestNormalizeMaterialize_CacheOriginMergeNeverResetsLeader(t *testing.T) {
	_, docs := newFixture()

	require.NoError(t, docs.Normalize(documents.NormalizeInput{
		Document:  usersDoc,
		Variables: map[string]interface{}{"role": "admin"},
		Data:      map[string]interface{}{"users": usersPage("u2", "u3")},
	}))

	// A page restored from a persisted cache (not a fresh network fetch)
	// is classified "before" the existing leader and must merge ahead of
	// it instead of resetting the connection (spec §4.4 mergeFromCache).
	require.NoError(t, docs.Normalize(documents.NormalizeInput{
		Document:  usersDoc,
		Variables: map[string]interface{}{"role": "admin", "before": "u2"},
		Data:      map[string]interface{}{"users": usersPage("u1")},
		Origin:    documents.OriginCache,
	}))

	result, err := docs.Materialize(documents.MaterializeInput{
		Document:  usersDoc,
		Variables: map[string]interface{}{"role": "admin"},
	})
	require.NoError(t, err)

	data := result.Data.(map[string]interface{})
	edges := data["users"].(map[string]interface{})["edges"].([]interface{})
	var ids []string
	for _, e := range edges {
		ids = append(ids, e.(map[string]interface{})["node"].(map[string]interface{})["id"].(string))
	}
	require.Equal(t, []string{"u1", "u2", "u3"}, ids)
}

func TestMaterialize_PreferCacheReturnsHotReferenceUntilInvalidated(t *testing.T) {
	_, docs := newFixture()
	require.NoError(t, docs.Normalize(documents.NormalizeInput{
		Document:  `query($id: ID) { user(id: $id) { id email } }`,
		Variables: map[string]interface{}{"id": "u1"},
		Data: map[string]interface{}{
			"user": map[string]interface{}{"__typename": "User", "id": "u1", "email": "a@x"},
		},
	}))

	in := documents.MaterializeInput{
		Document:    `query($id: ID) { user(id: $id) { id email } }`,
		Variables:   map[string]interface{}{"id": "u1"},
		PreferCache: true,
	}

	first, err := docs.Materialize(in)
	require.NoError(t, err)
	require.False(t, first.Hot)

	second, err := docs.Materialize(in)
	require.NoError(t, err)
	require.True(t, second.Hot)

	require.NoError(t, docs.Invalidate(in))

	third, err := docs.Materialize(in)
	require.NoError(t, err)
	require.False(t, third.Hot)
}

func TestMaterialize_FingerprintStability(t *testing.T) {
	_, docs := newFixture()
	in := documents.NormalizeInput{
		Document:  `query($id: ID) { user(id: $id) { id email } }`,
		Variables: map[string]interface{}{"id": "u1"},
		Data: map[string]interface{}{
			"user": map[string]interface{}{"__typename": "User", "id": "u1", "email": "a@x"},
		},
	}
	require.NoError(t, docs.Normalize(in))

	matIn := documents.MaterializeInput{Document: in.Document, Variables: in.Variables}
	r1, err := docs.Materialize(matIn)
	require.NoError(t, err)
	r2, err := docs.Materialize(matIn)
	require.NoError(t, err)
	require.Equal(t, r1.Data.(map[string]interface{})["__version"], r2.Data.(map[string]interface{})["__version"])

	in.Data["user"].(map[string]interface{})["email"] = "b@y"
	require.NoError(t, docs.Normalize(in))
	r3, err := docs.Materialize(matIn)
	require.NoError(t, err)
	require.NotEqual(t, r1.Data.(map[string]interface{})["__version"], r3.Data.(map[string]interface{})["__version"])
	require.NotEqual(t,
		r1.Data.(map[string]interface{})["user"].(map[string]interface{})["__version"],
		r3.Data.(map[string]interface{})["user"].(map[string]interface{})["__version"])
}
