package memory

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/merge"
	"github.com/engramhq/engram/internal/vectormath"
)

// stubGateway returns canned embeddings per input text so tests control
// the exact similarity the pipeline observes.
type stubGateway struct {
	rich map[string]vectormath.Rich
	fast map[string]vectormath.Fast
}

func newStubGateway() *stubGateway {
	return &stubGateway{rich: map[string]vectormath.Rich{}, fast: map[string]vectormath.Fast{}}
}

func (g *stubGateway) set(text string, rich vectormath.Rich) {
	g.rich[text] = rich
	fast := make(vectormath.Fast, FastDimensions)
	copy(fast, rich[:FastDimensions])
	g.fast[text] = vectormath.Normalize(fast)
}

func (g *stubGateway) Generate(ctx context.Context, text string) (vectormath.Rich, vectormath.Fast, error) {
	rich, ok := g.rich[text]
	if !ok {
		// default: orthogonal to everything seeded
		rich = richAxis(2)
		fast := make(vectormath.Fast, FastDimensions)
		copy(fast, rich[:FastDimensions])
		return rich, fast, nil
	}
	return rich, g.fast[text], nil
}

// richAxis returns the unit vector along one dimension.
func richAxis(i int) vectormath.Rich {
	v := make(vectormath.Rich, RichDimensions)
	v[i] = 1
	return v
}

// richAt returns a unit vector whose cosine against richAxis(0) is sim.
func richAt(sim float64) vectormath.Rich {
	v := make(vectormath.Rich, RichDimensions)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func newTestDedup(t *testing.T, gateway EmbeddingGateway) (*Deduplicator, *Store) {
	t.Helper()
	store := setupTestStore(t)
	bus := NewNotificationBus()
	return NewDeduplicator(store, gateway, nil, nil, bus, zap.NewNop()), store
}

func TestSaveWithDedupExactDuplicateKeepsOld(t *testing.T) {
	gw := newStubGateway()
	gw.set("remember to water the plants", richAxis(0))
	d, _ := newTestDedup(t, gw)
	ctx := context.Background()

	first, err := d.SaveWithDedup(ctx, CaptureInput{Content: "remember to water the plants", Kind: KindGoal})
	require.NoError(t, err)
	assert.Equal(t, merge.CreateNew, first.Action)

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: "remember to water the plants", Kind: KindGoal})
	require.NoError(t, err)
	assert.Equal(t, merge.KeepOld, second.Action)
	assert.Equal(t, first.RecordID, second.RecordID)
}

func TestSaveWithDedupDuplicateWithNewTagsMerges(t *testing.T) {
	gw := newStubGateway()
	gw.set("remember to water the plants", richAxis(0))
	d, store := newTestDedup(t, gw)
	ctx := context.Background()

	first, err := d.SaveWithDedup(ctx, CaptureInput{Content: "remember to water the plants", Kind: KindGoal, Hashtags: []string{"home"}})
	require.NoError(t, err)

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: "remember to water the plants", Kind: KindGoal, Hashtags: []string{"chores"}})
	require.NoError(t, err)
	assert.Equal(t, merge.MergeTags, second.Action)

	got, err := store.GetRecord(ctx, first.RecordID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"home", "chores"}, got.Hashtags)
}

func TestSaveWithDedupRicherRephraseReplaces(t *testing.T) {
	gw := newStubGateway()
	gw.set("paris has a big tower", richAxis(0))
	richer := "the eiffel tower in paris is over three hundred meters tall and was built in 1889"
	gw.set(richer, richAt(0.93))
	d, store := newTestDedup(t, gw)
	ctx := context.Background()

	first, err := d.SaveWithDedup(ctx, CaptureInput{Content: "paris has a big tower", Kind: KindFact})
	require.NoError(t, err)

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: richer, Kind: KindFact})
	require.NoError(t, err)
	assert.Equal(t, merge.Replace, second.Action)
	assert.Equal(t, first.RecordID, second.RecordID)

	got, err := store.GetRecord(ctx, first.RecordID)
	require.NoError(t, err)
	assert.Equal(t, richer, got.Content)
	// replacement swaps the stored embedding too
	assert.InDelta(t, 0.93, float64(got.RichVector[0]), 0.001)
}

func TestSaveWithDedupRelatedRicherCombinesContent(t *testing.T) {
	gw := newStubGateway()
	gw.set("meeting with sarah", richAxis(0))
	richer := "the quarterly planning meeting with sarah covers roadmap budget and the hiring plan"
	gw.set(richer, richAt(0.80))
	combined := "meeting with sarah\n\n" + richer
	gw.set(combined, richAt(0.80))
	d, store := newTestDedup(t, gw)
	ctx := context.Background()

	first, err := d.SaveWithDedup(ctx, CaptureInput{Content: "meeting with sarah", Kind: KindFact})
	require.NoError(t, err)

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: richer, Kind: KindFact})
	require.NoError(t, err)
	assert.Equal(t, merge.MergeContent, second.Action)

	got, err := store.GetRecord(ctx, first.RecordID)
	require.NoError(t, err)
	assert.Equal(t, combined, got.Content)
}

func TestSaveWithDedupRelatedDistinctLinksInstead(t *testing.T) {
	gw := newStubGateway()
	gw.set("learn to play guitar chords", richAxis(0))
	gw.set("practice piano scales", richAt(0.78))
	d, store := newTestDedup(t, gw)
	ctx := context.Background()

	first, err := d.SaveWithDedup(ctx, CaptureInput{Content: "learn to play guitar chords", Kind: KindGoal})
	require.NoError(t, err)

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: "practice piano scales", Kind: KindGoal})
	require.NoError(t, err)
	assert.Equal(t, merge.CreateNew, second.Action)
	assert.NotEqual(t, first.RecordID, second.RecordID)

	edges, err := store.EdgesFrom(ctx, second.RecordID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, first.RecordID, edges[0].TargetID)
	assert.Equal(t, EdgeWeak, edges[0].Kind)

	back, err := store.EdgesFrom(ctx, first.RecordID)
	require.NoError(t, err)
	require.Len(t, back, 1)
}

func TestSaveWithDedupDistinctCreatesUnlinked(t *testing.T) {
	gw := newStubGateway()
	gw.set("the capital of japan is tokyo", richAxis(0))
	gw.set("feeling anxious about the deadline", richAt(0.30))
	d, store := newTestDedup(t, gw)
	ctx := context.Background()

	_, err := d.SaveWithDedup(ctx, CaptureInput{Content: "the capital of japan is tokyo", Kind: KindFact})
	require.NoError(t, err)

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: "feeling anxious about the deadline", Kind: KindFeeling})
	require.NoError(t, err)
	assert.Equal(t, merge.CreateNew, second.Action)

	edges, err := store.EdgesFrom(ctx, second.RecordID)
	require.NoError(t, err)
	assert.Empty(t, edges)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSaveWithDedupNormalizesStoredEmbeddings(t *testing.T) {
	gw := newStubGateway()
	// a raw (3,4) vector from the provider, magnitude 5
	raw := make(vectormath.Rich, RichDimensions)
	raw[0], raw[1] = 3, 4
	gw.rich["pythagoras lived on samos"] = raw
	rawFast := make(vectormath.Fast, FastDimensions)
	rawFast[0], rawFast[1] = 3, 4
	gw.fast["pythagoras lived on samos"] = rawFast

	d, store := newTestDedup(t, gw)
	ctx := context.Background()

	res, err := d.SaveWithDedup(ctx, CaptureInput{Content: "pythagoras lived on samos", Kind: KindFact})
	require.NoError(t, err)

	got, err := store.GetRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectormath.Magnitude(got.RichVector), 1e-3,
		"stored rich embedding must be unit length")
	assert.InDelta(t, 1.0, vectormath.Magnitude(got.FastVector), 1e-3,
		"stored fast embedding must be unit length")
}

// countingEnricher records how many Elaborate calls it has served.
type countingEnricher struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEnricher) Elaborate(ctx context.Context, text string, kind Kind) (json.RawMessage, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return nil, nil
}

func (e *countingEnricher) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestSaveWithDedupKeepOldStillEnqueuesEnrichment(t *testing.T) {
	gw := newStubGateway()
	gw.set("remember to water the plants", richAxis(0))

	store := setupTestStore(t)
	bus := NewNotificationBus()
	enricher := &countingEnricher{}
	q := NewEnrichmentQueue(store, enricher, nil, bus, zap.NewNop())
	defer q.Close()
	d := NewDeduplicator(store, gw, q, nil, bus, zap.NewNop())
	ctx := context.Background()

	_, err := d.SaveWithDedup(ctx, CaptureInput{Content: "remember to water the plants", Kind: KindGoal})
	require.NoError(t, err)
	q.Wait()
	baseline := enricher.count()

	second, err := d.SaveWithDedup(ctx, CaptureInput{Content: "remember to water the plants", Kind: KindGoal})
	require.NoError(t, err)
	assert.Equal(t, merge.KeepOld, second.Action)
	q.Wait()

	assert.Greater(t, enricher.count(), baseline,
		"a duplicate capture still refreshes enrichment for the kept record")
}

// failingGateway simulates an unreachable embedding provider.
type failingGateway struct{}

func (failingGateway) Generate(ctx context.Context, text string) (vectormath.Rich, vectormath.Fast, error) {
	return nil, nil, &ProviderError{Provider: "embedding", Err: assert.AnError}
}

func TestSaveWithDedupProviderFailureAborts(t *testing.T) {
	d, store := newTestDedup(t, failingGateway{})
	ctx := context.Background()

	_, err := d.SaveWithDedup(ctx, CaptureInput{Content: "anything", Kind: KindFact})
	require.Error(t, err)

	var provErr *ProviderError
	assert.ErrorAs(t, err, &provErr)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a provider failure must not leave partial writes")
}
