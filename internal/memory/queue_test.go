package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/vectormath"
)

// blockingEnricher counts how many Elaborate calls run at once.
type blockingEnricher struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	hold    time.Duration
}

func (e *blockingEnricher) Elaborate(ctx context.Context, text string, kind Kind) (json.RawMessage, error) {
	e.mu.Lock()
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	e.mu.Unlock()

	time.Sleep(e.hold)

	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	return json.RawMessage(`{"question":"q","answer":"a"}`), nil
}

func TestQueueBoundsConcurrency(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, txt := range []string{"alpha fact", "beta fact", "gamma fact", "delta fact", "epsilon fact", "zeta fact"} {
		rich, fast := testVectors(txt)
		rec := &Record{Content: txt, Kind: KindFact, RichVector: rich, FastVector: fast}
		require.NoError(t, store.InsertRecord(ctx, rec))
		ids = append(ids, rec.ID)
	}

	enricher := &blockingEnricher{hold: 30 * time.Millisecond}
	q := NewEnrichmentQueue(store, enricher, nil, NewNotificationBus(), zap.NewNop())
	defer q.Close()

	for _, id := range ids {
		q.Enqueue(Task{Kind: TaskEnrich, RecordID: id})
	}
	q.Wait()

	assert.LessOrEqual(t, enricher.maxSeen, 2, "at most two tasks may run concurrently")
	assert.GreaterOrEqual(t, enricher.maxSeen, 1)
}

func TestQueueEnrichStoresPayload(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("the speed of light is constant")
	rec := &Record{Content: "the speed of light is constant", Kind: KindFact, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	q := NewEnrichmentQueue(store, &blockingEnricher{}, nil, NewNotificationBus(), zap.NewNop())
	defer q.Close()

	q.Enqueue(Task{Kind: TaskEnrich, RecordID: rec.ID})
	q.Wait()

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"q","answer":"a"}`, string(got.Enrichment))
}

func TestQueueEnrichSkipsFeelings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("feeling great today")
	rec := &Record{Content: "feeling great today", Kind: KindFeeling, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	q := NewEnrichmentQueue(store, &blockingEnricher{}, nil, NewNotificationBus(), zap.NewNop())
	defer q.Close()

	q.Enqueue(Task{Kind: TaskEnrich, RecordID: rec.ID})
	q.Wait()

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Enrichment)
}

// failingEnricher always errors; used to prove failure isolation.
type failingEnricher struct{}

func (failingEnricher) Elaborate(ctx context.Context, text string, kind Kind) (json.RawMessage, error) {
	return nil, &ProviderError{Provider: "enrichment", Err: assert.AnError}
}

func TestQueueTaskFailureIsIsolated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("water boils at one hundred degrees")
	rec := &Record{Content: "water boils at one hundred degrees", Kind: KindFact, ClusterID: "c1", RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	q := NewEnrichmentQueue(store, failingEnricher{}, nil, NewNotificationBus(), zap.NewNop())
	defer q.Close()

	// the failing enrich must not stop the centroid task behind it
	q.Enqueue(Task{Kind: TaskEnrich, RecordID: rec.ID})
	q.Enqueue(Task{Kind: TaskUpdateCentroid, RecordID: rec.ID})
	q.Wait()

	centroid, err := store.GetCentroid(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, centroid)
	assert.Equal(t, 1, centroid.NodeCount)
}

func TestQueueComputeEdgesLinksNeighborhood(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("golang channels are typed conduits")
	a := &Record{Content: "golang channels are typed conduits", Kind: KindFact, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, a))

	// same text, so identical local embedding and similarity 1.0
	b := &Record{Content: "golang channels are typed conduits", Kind: KindFact, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, b))

	q := NewEnrichmentQueue(store, &blockingEnricher{}, nil, NewNotificationBus(), zap.NewNop())
	defer q.Close()

	q.Enqueue(Task{Kind: TaskComputeEdges, RecordID: a.ID})
	q.Wait()

	edges, err := store.EdgesFrom(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, b.ID, edges[0].TargetID)
	assert.Equal(t, EdgeStrong, edges[0].Kind)
	assert.Equal(t, 100, edges[0].VisualPriority)

	back, err := store.EdgesFrom(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, a.ID, back[0].TargetID)

	gotA, err := store.GetRecord(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotA.ConnectionCount)
	gotB, err := store.GetRecord(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotB.ConnectionCount)

	// re-running converges instead of double counting
	q.Enqueue(Task{Kind: TaskComputeEdges, RecordID: a.ID})
	q.Wait()

	gotB, err = store.GetRecord(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotB.ConnectionCount)
}

func TestQueueLinkRelationsAddsNarrativeEdge(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fastAxis := func(i int) vectormath.Fast {
		v := make(vectormath.Fast, FastDimensions)
		v[i] = 1
		return v
	}

	// orthogonal embeddings, so any edge must come from the narrative link
	a := &Record{Content: "marathon training plan for the spring race", Kind: KindGoal, RichVector: richAxis(0), FastVector: fastAxis(0)}
	require.NoError(t, store.InsertRecord(ctx, a))
	b := &Record{Content: "legs are sore because marathon training ramped up", Kind: KindFeeling, RichVector: richAxis(1), FastVector: fastAxis(1)}
	require.NoError(t, store.InsertRecord(ctx, b))

	q := NewEnrichmentQueue(store, &blockingEnricher{}, nil, NewNotificationBus(), zap.NewNop())
	defer q.Close()

	q.Enqueue(Task{Kind: TaskComputeEdges, RecordID: b.ID})
	q.Wait()

	edges, err := store.EdgesFrom(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, a.ID, edges[0].TargetID)
	assert.Equal(t, EdgeWeak, edges[0].Kind)
	assert.InDelta(t, 0.6, edges[0].Weight, 0.001)
	assert.Equal(t, 60, edges[0].VisualPriority)

	back, err := store.EdgesFrom(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, b.ID, back[0].TargetID)
}

func TestQueueDrainSignalsRefresh(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rich, fast := testVectors("honey never spoils")
	rec := &Record{Content: "honey never spoils", Kind: KindFact, RichVector: rich, FastVector: fast}
	require.NoError(t, store.InsertRecord(ctx, rec))

	bus := NewNotificationBus()
	refresh := bus.Subscribe()

	q := NewEnrichmentQueue(store, &blockingEnricher{}, nil, bus, zap.NewNop())
	defer q.Close()

	q.Enqueue(Task{Kind: TaskEnrich, RecordID: rec.ID})
	q.Wait()

	select {
	case <-refresh:
	case <-time.After(time.Second):
		t.Fatal("expected a refresh signal after the queue drained")
	}
}
