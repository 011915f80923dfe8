package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/merge"
	"github.com/engramhq/engram/internal/vectormath"
)

// candidateK is how many approximate neighbors get re-scored precisely
// before the merge decision.
const candidateK = 5

// CaptureInput is a thought as received from a capture surface, before
// any embedding or dedup work.
type CaptureInput struct {
	Content        string
	Kind           Kind
	Topic          string
	Sentiment      string
	Hashtags       []string
	Importance     float64
	ConversationID string
	ClusterID      string
}

// SaveResult reports what the dedup pipeline did with a capture.
type SaveResult struct {
	Action     merge.Action
	RecordID   string
	Similarity float64
	Message    string
}

// Deduplicator runs the capture pipeline: embed, find the closest stored
// record, decide, apply, then hand follow-up work to the background
// queue. All collaborators are injected.
type Deduplicator struct {
	store   *Store
	gateway EmbeddingGateway
	queue   *EnrichmentQueue
	linker  *EntityLinker
	bus     *NotificationBus
	logger  *zap.Logger
}

func NewDeduplicator(store *Store, gateway EmbeddingGateway, queue *EnrichmentQueue, linker *EntityLinker, bus *NotificationBus, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{
		store:   store,
		gateway: gateway,
		queue:   queue,
		linker:  linker,
		bus:     bus,
		logger:  logger,
	}
}

// SaveWithDedup captures a thought. Provider failures abort the whole
// save with no partial writes; index failures fail open and the thought
// is stored as new.
func (d *Deduplicator) SaveWithDedup(ctx context.Context, input CaptureInput) (*SaveResult, error) {
	rich, fast, err := d.gateway.Generate(ctx, input.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to embed capture: %w", err)
	}
	rich = vectormath.Normalize(rich)
	fast = vectormath.Normalize(fast)

	match, similarity := d.closestMatch(ctx, rich)

	if match == nil || similarity < merge.Related {
		return d.createNew(ctx, input, rich, fast, "", 0)
	}

	decision := merge.AnalyzeMerge(match.Content, input.Content, match.Hashtags, input.Hashtags, similarity)
	d.logger.Debug("merge decision",
		zap.String("action", string(decision.Action)),
		zap.String("match_id", match.ID),
		zap.Float64("similarity", similarity),
		zap.String("reason", decision.Reason))

	now := time.Now()
	switch decision.Action {
	case merge.KeepOld:
		if err := d.store.TouchRecord(ctx, match.ID, now); err != nil {
			return nil, err
		}
		d.afterMutation(ctx, match.ID, match.Kind)
		return &SaveResult{Action: merge.KeepOld, RecordID: match.ID, Similarity: similarity,
			Message: "already captured: " + decision.Reason}, nil

	case merge.MergeTags:
		if err := d.store.UpdateRecordTags(ctx, match.ID, decision.SuggestedTags, now); err != nil {
			return nil, err
		}
		d.afterMutation(ctx, match.ID, match.Kind)
		return &SaveResult{Action: merge.MergeTags, RecordID: match.ID, Similarity: similarity,
			Message: "merged tags into existing memory"}, nil

	case merge.Replace:
		if err := d.store.ReplaceRecordContent(ctx, match.ID, decision.SuggestedContent, decision.SuggestedTags, rich, fast, now); err != nil {
			return nil, err
		}
		d.afterMutation(ctx, match.ID, input.Kind)
		return &SaveResult{Action: merge.Replace, RecordID: match.ID, Similarity: similarity,
			Message: "replaced with richer version"}, nil

	case merge.MergeContent:
		// Combined text needs its own embeddings. A provider failure here
		// aborts the whole save; the stored record is untouched.
		mergedRich, mergedFast, err := d.gateway.Generate(ctx, decision.SuggestedContent)
		if err != nil {
			return nil, fmt.Errorf("failed to embed merged content: %w", err)
		}
		mergedRich = vectormath.Normalize(mergedRich)
		mergedFast = vectormath.Normalize(mergedFast)
		if err := d.store.ReplaceRecordContent(ctx, match.ID, decision.SuggestedContent, decision.SuggestedTags, mergedRich, mergedFast, now); err != nil {
			return nil, err
		}
		d.afterMutation(ctx, match.ID, input.Kind)
		return &SaveResult{Action: merge.MergeContent, RecordID: match.ID, Similarity: similarity,
			Message: "combined with related memory"}, nil

	default: // CreateNew
		weakLink := ""
		if decision.WeakLink {
			weakLink = match.ID
		}
		return d.createNew(ctx, input, rich, fast, weakLink, similarity)
	}
}

// closestMatch re-scores the approximate neighbors with the full cosine
// and returns the best stored record. An index failure is logged and
// treated as no candidates.
func (d *Deduplicator) closestMatch(ctx context.Context, query vectormath.Rich) (*Record, float64) {
	neighbors, err := d.store.SearchRich(ctx, query, candidateK)
	if err != nil {
		var idxErr *IndexQueryError
		if errors.As(err, &idxErr) {
			d.logger.Warn("neighbor lookup failed, storing as new", zap.Error(err))
			return nil, 0
		}
		d.logger.Warn("neighbor lookup failed, storing as new", zap.Error(err))
		return nil, 0
	}

	var best *Record
	bestSim := -1.0
	for _, n := range neighbors {
		rec, err := d.store.GetRecord(ctx, n.ID)
		if err != nil || rec == nil {
			continue
		}
		sim := vectormath.CosineFull(query, rec.RichVector)
		if sim > bestSim {
			best = rec
			bestSim = sim
		}
	}
	return best, bestSim
}

func (d *Deduplicator) createNew(ctx context.Context, input CaptureInput, rich vectormath.Rich, fast vectormath.Fast, weakLinkID string, similarity float64) (*SaveResult, error) {
	rec := &Record{
		Content:        input.Content,
		Kind:           input.Kind,
		Topic:          input.Topic,
		Sentiment:      input.Sentiment,
		Hashtags:       input.Hashtags,
		Importance:     input.Importance,
		ConversationID: input.ConversationID,
		ClusterID:      input.ClusterID,
		RichVector:     rich,
		FastVector:     fast,
	}

	var err error
	if weakLinkID != "" {
		err = d.store.CreateRecordWithLink(ctx, rec, weakLinkID, similarity)
	} else {
		err = d.store.InsertRecord(ctx, rec)
	}
	if err != nil {
		return nil, err
	}

	d.afterMutation(ctx, rec.ID, input.Kind)

	msg := "saved"
	if weakLinkID != "" {
		msg = "saved and linked to a related memory"
	}
	return &SaveResult{Action: merge.CreateNew, RecordID: rec.ID, Similarity: similarity, Message: msg}, nil
}

// afterMutation schedules the background work a new or rewritten record
// needs and signals the presentation layer.
func (d *Deduplicator) afterMutation(ctx context.Context, recordID string, kind Kind) {
	if d.queue != nil {
		d.queue.Enqueue(Task{Kind: TaskComputeEdges, RecordID: recordID})
		d.queue.Enqueue(Task{Kind: TaskUpdateCentroid, RecordID: recordID})
		if kind == KindFact || kind == KindGoal {
			d.queue.Enqueue(Task{Kind: TaskEnrich, RecordID: recordID})
		}
		d.queue.Enqueue(Task{Kind: TaskLinkEntities, RecordID: recordID})
	}
	d.bus.SignalRefresh()
}
