package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/vectormath"
)

// TaskKind identifies the unit of background work.
type TaskKind string

const (
	TaskComputeEdges   TaskKind = "compute_edges"
	TaskUpdateCentroid TaskKind = "update_centroid"
	TaskEnrich         TaskKind = "enrich"
	TaskLinkEntities   TaskKind = "link_entities"
)

// Task is one queued unit of enrichment work, addressed by record id.
type Task struct {
	Kind     TaskKind
	RecordID string
}

// Edge formation parameters: how many rich-tier neighbors are examined
// and the similarity floors for weak and strong links.
const (
	edgeNeighborK   = 12
	edgeMinWeight   = 0.55
	edgeStrongAbove = 0.85
)

// queueDepth bounds Enqueue before it starts shedding.
const queueDepth = 256

// workerCount is the fixed pool size; two tasks at most run at once.
const workerCount = 2

// EnrichmentQueue runs graph and content enrichment behind capture.
// Tasks are FIFO, failures are isolated per task, and a running task is
// never cancelled. When the queue drains to empty it signals a single
// refresh so the presentation layer sees the whole batch at once.
type EnrichmentQueue struct {
	store    *Store
	enricher ContentEnrichmentProvider
	linker   *EntityLinker
	bus      *NotificationBus
	logger   *zap.Logger

	tasks       chan Task
	wg          sync.WaitGroup
	mu          sync.Mutex
	outstanding int
	idle        *sync.Cond
	closeOnce   sync.Once
}

func NewEnrichmentQueue(store *Store, enricher ContentEnrichmentProvider, linker *EntityLinker, bus *NotificationBus, logger *zap.Logger) *EnrichmentQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &EnrichmentQueue{
		store:    store,
		enricher: enricher,
		linker:   linker,
		bus:      bus,
		logger:   logger,
		tasks:    make(chan Task, queueDepth),
	}
	q.idle = sync.NewCond(&q.mu)
	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue submits a task without blocking. When the buffer is full the
// task is dropped and logged; enrichment is best-effort and the record
// itself is already durable.
func (q *EnrichmentQueue) Enqueue(t Task) {
	q.mu.Lock()
	q.outstanding++
	q.mu.Unlock()

	select {
	case q.tasks <- t:
	default:
		q.taskDone()
		q.logger.Warn("enrichment queue full, dropping task",
			zap.String("kind", string(t.Kind)), zap.String("record_id", t.RecordID))
	}
}

// Wait blocks until every enqueued task has finished. Test hook and
// shutdown aid.
func (q *EnrichmentQueue) Wait() {
	q.mu.Lock()
	for q.outstanding > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (q *EnrichmentQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.tasks)
		q.wg.Wait()
	})
}

func (q *EnrichmentQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
		q.taskDone()
	}
}

func (q *EnrichmentQueue) taskDone() {
	q.mu.Lock()
	q.outstanding--
	drained := q.outstanding == 0
	if drained {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
	if drained && q.bus != nil {
		q.bus.SignalRefresh()
	}
}

func (q *EnrichmentQueue) run(t Task) {
	// Tasks run to completion once started; a fresh context keeps them
	// independent of the capture call that scheduled them.
	ctx := context.Background()

	var err error
	switch t.Kind {
	case TaskComputeEdges:
		err = q.computeEdges(ctx, t.RecordID)
	case TaskUpdateCentroid:
		err = q.updateCentroid(ctx, t.RecordID)
	case TaskEnrich:
		err = q.enrich(ctx, t.RecordID)
	case TaskLinkEntities:
		err = q.linkEntities(ctx, t.RecordID)
	}
	if err != nil {
		taskErr := &BackgroundTaskError{Task: string(t.Kind), RecordID: t.RecordID, Err: err}
		q.logger.Warn("background task failed", zap.Error(taskErr))
	}
}

// computeEdges links a record to its rich-tier neighborhood. Edge
// inserts are idempotent, so re-running for the same record converges
// rather than double-counting.
func (q *EnrichmentQueue) computeEdges(ctx context.Context, recordID string) error {
	rec, err := q.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil // deleted since enqueue
	}

	neighbors, err := q.store.SearchRich(ctx, rec.RichVector, edgeNeighborK+1)
	if err != nil {
		return err
	}

	now := time.Now()
	created := 0
	for _, n := range neighbors {
		if n.ID == rec.ID {
			continue
		}
		other, err := q.store.GetRecord(ctx, n.ID)
		if err != nil || other == nil {
			continue
		}
		sim := vectormath.CosineFull(rec.RichVector, other.RichVector)
		if sim <= edgeMinWeight {
			continue
		}
		kind := EdgeWeak
		if sim > edgeStrongAbove {
			kind = EdgeStrong
		}
		vp := int(sim*100 + 0.5)

		fwd, err := q.store.AddEdge(ctx, Edge{SourceID: rec.ID, TargetID: other.ID, Weight: sim, Kind: kind, VisualPriority: vp, CreatedAt: now})
		if err != nil {
			return err
		}
		rev, err := q.store.AddEdge(ctx, Edge{SourceID: other.ID, TargetID: rec.ID, Weight: sim, Kind: kind, VisualPriority: vp, CreatedAt: now})
		if err != nil {
			return err
		}
		if fwd {
			created++
		}
		if rev {
			if err := q.store.IncrementConnectionCount(ctx, other.ID); err != nil {
				return err
			}
		}
	}

	narrative, err := q.linkRelations(ctx, rec, now)
	if err != nil {
		return err
	}
	created += narrative

	if created > 0 {
		edges, err := q.store.EdgesFrom(ctx, rec.ID)
		if err != nil {
			return err
		}
		if err := q.store.SetConnectionCount(ctx, rec.ID, len(edges)); err != nil {
			return err
		}
	}
	return nil
}

// relationWeight is the fixed weight of a narrative edge; it sits in the
// weak band since the link is textual, not semantic.
const relationWeight = 0.6

// linkRelations adds weak edges for narrative references in the record's
// text ("because X", "reminds me of Y"), resolved by keyword lookup.
func (q *EnrichmentQueue) linkRelations(ctx context.Context, rec *Record, now time.Time) (int, error) {
	created := 0
	for _, rel := range ExtractRelations(rec.Content) {
		keywords := extractKeywords(rel.Phrase)
		if len(keywords) == 0 {
			continue
		}
		candidates, err := q.store.KeywordCandidates(ctx, keywords, 3)
		if err != nil {
			return created, err
		}
		for _, other := range candidates {
			if other.ID == rec.ID {
				continue
			}
			vp := int(relationWeight * 100)
			fwd, err := q.store.AddEdge(ctx, Edge{SourceID: rec.ID, TargetID: other.ID, Weight: relationWeight, Kind: EdgeWeak, VisualPriority: vp, CreatedAt: now})
			if err != nil {
				return created, err
			}
			rev, err := q.store.AddEdge(ctx, Edge{SourceID: other.ID, TargetID: rec.ID, Weight: relationWeight, Kind: EdgeWeak, VisualPriority: vp, CreatedAt: now})
			if err != nil {
				return created, err
			}
			if fwd {
				created++
			}
			if rev {
				if err := q.store.IncrementConnectionCount(ctx, other.ID); err != nil {
					return created, err
				}
			}
			break // first candidate per relation is enough
		}
	}
	return created, nil
}

// updateCentroid fully recomputes the record's cluster centroid from all
// current members. Last writer wins; there is no incremental path.
func (q *EnrichmentQueue) updateCentroid(ctx context.Context, recordID string) error {
	rec, err := q.store.GetRecord(ctx, recordID)
	if err != nil || rec == nil || rec.ClusterID == "" {
		return err
	}

	members, err := q.store.ClusterMembers(ctx, rec.ClusterID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	coord := make(vectormath.Rich, RichDimensions)
	var totalImportance float64
	counted := 0
	for _, m := range members {
		if len(m.RichVector) != RichDimensions {
			continue
		}
		for i, x := range m.RichVector {
			coord[i] += x
		}
		totalImportance += m.Importance
		counted++
	}
	if counted == 0 {
		return nil
	}
	for i := range coord {
		coord[i] /= float32(counted)
	}

	return q.store.UpsertCentroid(ctx, Centroid{
		ClusterID:     rec.ClusterID,
		Coordinate:    coord,
		NodeCount:     len(members),
		AvgImportance: totalImportance / float64(len(members)),
		LastUpdated:   time.Now(),
	})
}

// enrich asks the content provider to elaborate a fact or goal. An empty
// payload means the provider had nothing useful; only real failures are
// reported.
func (q *EnrichmentQueue) enrich(ctx context.Context, recordID string) error {
	rec, err := q.store.GetRecord(ctx, recordID)
	if err != nil || rec == nil {
		return err
	}
	if rec.Kind != KindFact && rec.Kind != KindGoal {
		return nil
	}

	payload, err := q.enricher.Elaborate(ctx, rec.Content, rec.Kind)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return q.store.SetEnrichment(ctx, rec.ID, payload)
}

func (q *EnrichmentQueue) linkEntities(ctx context.Context, recordID string) error {
	if q.linker == nil {
		return nil
	}
	rec, err := q.store.GetRecord(ctx, recordID)
	if err != nil || rec == nil {
		return err
	}
	_, err = q.linker.ExtractAndLink(ctx, rec)
	return err
}
