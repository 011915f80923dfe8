package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/vectormath"
)

// PerformanceTier trades suggestion latency and depth against resource
// use on the host.
type PerformanceTier string

const (
	TierPremium  PerformanceTier = "premium"
	TierStandard PerformanceTier = "standard"
	TierEco      PerformanceTier = "eco"
)

type tierConfig struct {
	debounce        time.Duration
	maxResults      int
	semanticEnabled bool
}

var tierConfigs = map[PerformanceTier]tierConfig{
	TierPremium:  {debounce: 150 * time.Millisecond, maxResults: 5, semanticEnabled: true},
	TierStandard: {debounce: 300 * time.Millisecond, maxResults: 3, semanticEnabled: true},
	TierEco:      {debounce: 500 * time.Millisecond, maxResults: 2, semanticEnabled: false},
}

// Ambient pipeline constants: the fast keyword stage fires on every
// debounced input; the semantic stage waits for a longer idle window and
// only runs on inputs long enough to carry meaning.
const (
	keywordConfidence  = 0.95
	semanticConfidence = 0.85
	semanticMinInput   = 15
	semanticIdle       = 2000 * time.Millisecond
	semanticTopK       = 3
	predictionCap      = 5
	feedbackRingCap    = 100
)

// AmbientEngine watches live input and publishes memory suggestions.
// Predictions are ephemeral; only feedback is durable. All collaborators
// are injected and publish is the single output path.
type AmbientEngine struct {
	store   *Store
	embed   FastEmbedder
	publish func([]Prediction)
	logger  *zap.Logger

	embedCache *ristretto.Cache

	mu         sync.Mutex
	tier       PerformanceTier
	generation uint64
	lastInput  string
	current    []Prediction
	feedback   []Feedback
	rejected   map[string]bool

	debounceTimer *time.Timer
	semanticTimer *time.Timer
}

// FastEmbedder produces the lightweight on-device embedding tier used by
// the ambient semantic stage. Never a network call.
type FastEmbedder interface {
	Fast(text string) vectormath.Fast
}

func NewAmbientEngine(store *Store, embed FastEmbedder, publish func([]Prediction), logger *zap.Logger) *AmbientEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publish == nil {
		publish = func([]Prediction) {}
	}
	// Cache recent input embeddings; typing often re-triggers on the
	// same prefix after small edits.
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	return &AmbientEngine{
		store:      store,
		embed:      embed,
		publish:    publish,
		logger:     logger,
		embedCache: cache,
		tier:       TierStandard,
		rejected:   make(map[string]bool),
	}
}

// SetTier switches the performance profile. Takes effect on the next
// input event.
func (a *AmbientEngine) SetTier(t PerformanceTier) {
	if _, ok := tierConfigs[t]; !ok {
		return
	}
	a.mu.Lock()
	a.tier = t
	a.mu.Unlock()
}

// Tier returns the active performance profile.
func (a *AmbientEngine) Tier() PerformanceTier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tier
}

// OnInput feeds the engine one live-input snapshot. Each call supersedes
// any pending work from earlier snapshots: only the latest input ever
// produces predictions. A snapshot identical to the previous one is
// ignored so editor re-triggers neither re-dispatch stage 1 nor cancel
// a pending semantic timer.
func (a *AmbientEngine) OnInput(text string) {
	a.mu.Lock()
	if text == a.lastInput {
		a.mu.Unlock()
		return
	}
	a.lastInput = text
	a.generation++
	gen := a.generation
	cfg := tierConfigs[a.tier]

	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	if a.semanticTimer != nil {
		a.semanticTimer.Stop()
	}

	a.debounceTimer = time.AfterFunc(cfg.debounce, func() {
		a.runKeywordStage(gen, text, cfg)
	})
	if cfg.semanticEnabled && len(text) > semanticMinInput {
		a.semanticTimer = time.AfterFunc(semanticIdle, func() {
			a.runSemanticStage(gen, text)
		})
	}
	a.mu.Unlock()
}

// Current returns the latest published prediction set.
func (a *AmbientEngine) Current() []Prediction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Prediction, len(a.current))
	copy(out, a.current)
	return out
}

// RecordFeedback persists a verdict and mirrors it in the session ring.
// Rejected nodes stop appearing in predictions for the rest of the
// session.
func (a *AmbientEngine) RecordFeedback(ctx context.Context, nodeID string, action FeedbackAction) error {
	f := Feedback{NodeID: nodeID, Action: action, Timestamp: time.Now()}
	if err := a.store.AddFeedback(ctx, f); err != nil {
		return err
	}

	a.mu.Lock()
	a.feedback = append(a.feedback, f)
	if len(a.feedback) > feedbackRingCap {
		a.feedback = a.feedback[len(a.feedback)-feedbackRingCap:]
	}
	if action == FeedbackRejected {
		a.rejected[nodeID] = true
		kept := a.current[:0]
		for _, p := range a.current {
			if p.NodeID != nodeID {
				kept = append(kept, p)
			}
		}
		a.current = kept
	}
	a.mu.Unlock()
	return nil
}

// SessionFeedback returns the in-memory feedback ring, oldest first.
func (a *AmbientEngine) SessionFeedback() []Feedback {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Feedback, len(a.feedback))
	copy(out, a.feedback)
	return out
}

// Close cancels any pending stage timers.
func (a *AmbientEngine) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	if a.semanticTimer != nil {
		a.semanticTimer.Stop()
	}
}

// Suggest runs both stages synchronously for one-shot surfaces (CLI,
// RPC) where debouncing makes no sense. Tier caps and rejection
// suppression still apply.
func (a *AmbientEngine) Suggest(ctx context.Context, text string) ([]Prediction, error) {
	a.mu.Lock()
	cfg := tierConfigs[a.tier]
	a.mu.Unlock()

	now := time.Now()
	seen := make(map[string]bool)
	var preds []Prediction

	for _, rec := range a.keywordMatches(ctx, text, cfg.maxResults) {
		shared := sharedKeyword(rec.rec, rec.keywords)
		preds = append(preds, Prediction{
			ID:          generateID(),
			NodeID:      rec.rec.ID,
			Kind:        PredictionKeyword,
			Confidence:  keywordConfidence,
			Reason:      "mentions " + shared,
			TriggerText: text,
			Timestamp:   now,
		})
		seen[rec.rec.ID] = true
	}

	if cfg.semanticEnabled && len(text) > semanticMinInput {
		neighbors, err := a.store.SearchFast(ctx, a.cachedFastEmbed(text), semanticTopK)
		if err != nil {
			return preds, err
		}
		for _, n := range neighbors {
			if len(preds) >= predictionCap {
				break
			}
			if seen[n.ID] || a.isRejected(n.ID) {
				continue
			}
			seen[n.ID] = true
			preds = append(preds, Prediction{
				ID:          generateID(),
				NodeID:      n.ID,
				Kind:        PredictionSemantic,
				Confidence:  semanticConfidence,
				Reason:      "semantically related",
				TriggerText: text,
				Timestamp:   now,
			})
		}
	}
	return preds, nil
}

type keywordMatch struct {
	rec      *Record
	keywords []string
}

func (a *AmbientEngine) keywordMatches(ctx context.Context, text string, max int) []keywordMatch {
	keywords := extractKeywords(text)
	if len(keywords) == 0 {
		return nil
	}
	candidates, err := a.store.KeywordCandidates(ctx, keywords, max+5)
	if err != nil {
		a.logger.Warn("keyword lookup failed", zap.Error(err))
		return nil
	}
	var out []keywordMatch
	for _, rec := range candidates {
		if len(out) >= max {
			break
		}
		if a.isRejected(rec.ID) || sharedKeyword(rec, keywords) == "" || nearVerbatim(text, rec.Content) {
			continue
		}
		out = append(out, keywordMatch{rec: rec, keywords: keywords})
	}
	return out
}

func (a *AmbientEngine) isRejected(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rejected[id]
}

// runKeywordStage is the cheap path: shared content words against stored
// records, no embedding work. It replaces the current prediction set.
func (a *AmbientEngine) runKeywordStage(gen uint64, text string, cfg tierConfig) {
	if a.stale(gen) {
		return
	}
	keywords := extractKeywords(text)
	if len(keywords) == 0 {
		a.publishSet(gen, nil)
		return
	}

	ctx := context.Background()
	candidates, err := a.store.KeywordCandidates(ctx, keywords, cfg.maxResults+5)
	if err != nil {
		a.logger.Warn("keyword stage failed", zap.Error(err))
		return
	}

	now := time.Now()
	var preds []Prediction
	for _, rec := range candidates {
		if len(preds) >= cfg.maxResults {
			break
		}
		// rejected nodes are filtered before truncation so they never
		// cost a slot
		shared := sharedKeyword(rec, keywords)
		if shared == "" || a.isRejected(rec.ID) || nearVerbatim(text, rec.Content) {
			continue
		}
		preds = append(preds, Prediction{
			ID:          generateID(),
			NodeID:      rec.ID,
			Kind:        PredictionKeyword,
			Confidence:  keywordConfidence,
			Reason:      "mentions " + shared,
			TriggerText: text,
			Timestamp:   now,
		})
	}
	a.publishSet(gen, preds)
}

// runSemanticStage adds embedding-based matches after the idle window.
// Results are additive on top of whatever the keyword stage published,
// capped and deduplicated by node.
func (a *AmbientEngine) runSemanticStage(gen uint64, text string) {
	if a.stale(gen) {
		return
	}

	query := a.cachedFastEmbed(text)
	neighbors, err := a.store.SearchFast(context.Background(), query, semanticTopK)
	if err != nil {
		a.logger.Warn("semantic stage failed", zap.Error(err))
		return
	}

	now := time.Now()
	var additions []Prediction
	for _, n := range neighbors {
		additions = append(additions, Prediction{
			ID:          generateID(),
			NodeID:      n.ID,
			Kind:        PredictionSemantic,
			Confidence:  semanticConfidence,
			Reason:      "semantically related",
			TriggerText: text,
			Timestamp:   now,
		})
	}

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	merged := a.current
	seen := make(map[string]bool, len(merged))
	for _, p := range merged {
		seen[p.NodeID] = true
	}
	for _, p := range additions {
		if len(merged) >= predictionCap {
			break
		}
		if seen[p.NodeID] || a.rejected[p.NodeID] {
			continue
		}
		seen[p.NodeID] = true
		merged = append(merged, p)
	}
	a.current = merged
	out := make([]Prediction, len(merged))
	copy(out, merged)
	a.mu.Unlock()

	a.publish(out)
}

func (a *AmbientEngine) cachedFastEmbed(text string) vectormath.Fast {
	if v, ok := a.embedCache.Get(text); ok {
		if fast, ok := v.(vectormath.Fast); ok {
			return fast
		}
	}
	fast := a.embed.Fast(text)
	a.embedCache.Set(text, fast, int64(len(fast)*4))
	return fast
}

func (a *AmbientEngine) stale(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return gen != a.generation
}

func (a *AmbientEngine) publishSet(gen uint64, preds []Prediction) {
	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	kept := preds[:0]
	for _, p := range preds {
		if !a.rejected[p.NodeID] {
			kept = append(kept, p)
		}
	}
	a.current = kept
	out := make([]Prediction, len(kept))
	copy(out, kept)
	a.mu.Unlock()

	a.publish(out)
}

// nearVerbatim reports whether the candidate is essentially the text
// being typed. Suggesting the memory the user is currently re-typing
// is noise; a short query matching inside a longer memory is not.
func nearVerbatim(input, content string) bool {
	in := strings.TrimSpace(strings.ToLower(input))
	ct := strings.TrimSpace(strings.ToLower(content))
	if in == "" || ct == "" {
		return false
	}
	shorter, longer := in, ct
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	return strings.Contains(longer, shorter) && len(shorter)*10 >= len(longer)*8
}

func sharedKeyword(rec *Record, keywords []string) string {
	content := strings.ToLower(rec.Content)
	tags := strings.ToLower(strings.Join(rec.Hashtags, " "))
	for _, kw := range keywords {
		if strings.Contains(content, kw) || strings.Contains(tags, kw) {
			return kw
		}
	}
	return ""
}
