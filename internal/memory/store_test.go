package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/vectormath"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	store, err := NewStore(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testVectors(text string) (vectormath.Rich, vectormath.Fast) {
	g := NewLocalGateway()
	rich, fast, _ := g.Generate(context.Background(), text)
	return rich, fast
}

func TestInsertAndGetRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("the mitochondria is the powerhouse of the cell")
	rec := &Record{
		Content:    "the mitochondria is the powerhouse of the cell",
		Kind:       KindFact,
		Topic:      "biology",
		Hashtags:   []string{"biology", "school"},
		Importance: 0.7,
		RichVector: rich,
		FastVector: fast,
	}
	require.NoError(t, store.InsertRecord(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, KindFact, got.Kind)
	assert.Equal(t, "biology", got.Topic)
	assert.Equal(t, []string{"biology", "school"}, got.Hashtags)
	assert.InDelta(t, 0.7, got.Importance, 0.001)
	assert.Len(t, got.RichVector, RichDimensions)
	assert.Len(t, got.FastVector, FastDimensions)
}

func TestGetRecordMissing(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.GetRecord(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateRecordTags(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("drink more water")
	rec := &Record{Content: "drink more water", Kind: KindGoal, Hashtags: []string{"health"}, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	require.NoError(t, store.UpdateRecordTags(ctx, rec.ID, []string{"habits", "health"}, time.Now()))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"habits", "health"}, got.Hashtags)
	assert.Equal(t, "drink more water", got.Content)
}

func TestTouchRecordBumpsUpdatedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("call mom on sunday")
	rec := &Record{Content: "call mom on sunday", Kind: KindGoal, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	later := rec.UpdatedAt.Add(time.Hour)
	require.NoError(t, store.TouchRecord(ctx, rec.ID, later))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(rec.UpdatedAt))
	assert.Equal(t, rec.Content, got.Content)
}

func TestAddEdgeIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := Edge{SourceID: "a", TargetID: "b", Weight: 0.9, Kind: EdgeStrong, VisualPriority: 90}

	inserted, err := store.AddEdge(ctx, e)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.AddEdge(ctx, e)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same edge must be a no-op")

	edges, err := store.EdgesFrom(ctx, "a")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "b", edges[0].TargetID)
	assert.Equal(t, EdgeStrong, edges[0].Kind)
	assert.Equal(t, 90, edges[0].VisualPriority)
}

func TestEdgesAreDirectional(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.AddEdge(ctx, Edge{SourceID: "a", TargetID: "b", Weight: 0.6, Kind: EdgeWeak})
	require.NoError(t, err)

	from, err := store.EdgesFrom(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, from)

	to, err := store.EdgesTo(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, to, 1)
}

func TestCreateRecordWithLink(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("learn spanish")
	existing := &Record{Content: "learn spanish", Kind: KindGoal, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, existing))

	rich2, fast2 := testVectors("practice spanish verbs daily")
	rec := &Record{Content: "practice spanish verbs daily", Kind: KindGoal, RichVector: rich2, FastVector: fast2}
	require.NoError(t, store.CreateRecordWithLink(ctx, rec, existing.ID, 0.78))

	edges, err := store.EdgesFrom(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeWeak, edges[0].Kind)
	assert.InDelta(t, 0.78, edges[0].Weight, 0.001)
	assert.Equal(t, 78, edges[0].VisualPriority)

	back, err := store.EdgesFrom(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, rec.ID, back[0].TargetID)

	got, err := store.GetRecord(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConnectionCount)
}

func TestSearchRichReturnsNearest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	texts := []string{
		"the eiffel tower is in paris",
		"my dentist appointment is on tuesday",
		"quantum computers use qubits",
	}
	ids := make(map[string]string)
	for _, txt := range texts {
		rich, fast := testVectors(txt)
		rec := &Record{Content: txt, Kind: KindFact, RichVector: rich, FastVector: fast}
		require.NoError(t, store.InsertRecord(ctx, rec))
		ids[txt] = rec.ID
	}

	query, _ := testVectors("the eiffel tower is in paris")
	results, err := store.SearchRich(ctx, query, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, ids["the eiffel tower is in paris"], results[0].ID)
	assert.Less(t, results[0].ApproxDistance, 0.01)
}

func TestCentroidRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	coord := make(vectormath.Rich, RichDimensions)
	coord[0] = 1

	c := Centroid{ClusterID: "cluster-1", Coordinate: coord, NodeCount: 3, AvgImportance: 0.5, LastUpdated: time.Now()}
	require.NoError(t, store.UpsertCentroid(ctx, c))

	got, err := store.GetCentroid(ctx, "cluster-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.NodeCount)
	assert.InDelta(t, 0.5, got.AvgImportance, 0.001)
	assert.InDelta(t, 1.0, float64(got.Coordinate[0]), 0.001)

	// full recompute overwrites
	c.NodeCount = 4
	require.NoError(t, store.UpsertCentroid(ctx, c))
	got, err = store.GetCentroid(ctx, "cluster-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.NodeCount)

	missing, err := store.GetCentroid(ctx, "cluster-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEntityLookupIsCaseInsensitive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	e := &Entity{Name: "Sarah", Type: EntityPerson, MentionCount: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertEntity(ctx, e))

	got, err := store.GetEntity(ctx, "sarah", EntityPerson)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Sarah", got.Name, "original casing is preserved")

	// same name, different type is a different entity
	other, err := store.GetEntity(ctx, "sarah", EntityPlace)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestKeywordCandidates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("kubernetes upgrade scheduled for friday")
	rec := &Record{Content: "kubernetes upgrade scheduled for friday", Kind: KindFact, Hashtags: []string{"infra"}, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	rich2, fast2 := testVectors("buy birthday present")
	other := &Record{Content: "buy birthday present", Kind: KindGoal, RichVector: rich2, FastVector: fast2}
	require.NoError(t, store.InsertRecord(ctx, other))

	hits, err := store.KeywordCandidates(ctx, []string{"kubernetes"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].ID)

	// hashtag match counts too
	hits, err = store.KeywordCandidates(ctx, []string{"infra"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = store.KeywordCandidates(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFeedbackRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddFeedback(ctx, Feedback{NodeID: "n1", Action: FeedbackAccepted}))
	require.NoError(t, store.AddFeedback(ctx, Feedback{NodeID: "n2", Action: FeedbackRejected}))

	got, err := store.RecentFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	actions := map[string]FeedbackAction{}
	for _, f := range got {
		actions[f.NodeID] = f.Action
	}
	assert.Equal(t, FeedbackAccepted, actions["n1"])
	assert.Equal(t, FeedbackRejected, actions["n2"])
}

func TestCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rich, fast := testVectors("one thing")
	require.NoError(t, store.InsertRecord(ctx, &Record{Content: "one thing", Kind: KindFact, RichVector: rich, FastVector: fast}))

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
