package acceptance

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/merge"
)

// TestContext carries engine state across the steps of one scenario.
type TestContext struct {
	ctx context.Context

	dataDir string
	store   *memory.Store
	dedup   *memory.Deduplicator
	queue   *memory.EnrichmentQueue
	linker  *memory.EntityLinker
	ambient *memory.AmbientEngine

	lastSave    *memory.SaveResult
	firstSaveID string
	predictions []memory.Prediction
}

func NewTestContext() *TestContext {
	return &TestContext{ctx: context.Background()}
}

func (tc *TestContext) cleanup(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
	if tc.queue != nil {
		tc.queue.Close()
		tc.queue = nil
	}
	if tc.ambient != nil {
		tc.ambient.Close()
		tc.ambient = nil
	}
	if tc.store != nil {
		tc.store.Close()
		tc.store = nil
	}
	if tc.dataDir != "" {
		os.RemoveAll(tc.dataDir)
		tc.dataDir = ""
	}
	return ctx, err
}

func (tc *TestContext) freshEngine() error {
	dir, err := os.MkdirTemp("", "engram-acceptance-*")
	if err != nil {
		return err
	}
	tc.dataDir = dir
	os.Setenv("ENGRAM_DATA_DIR", dir)

	logger := zap.NewNop()
	store, err := memory.NewStore(logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	gateway := memory.NewLocalGateway()
	bus := memory.NewNotificationBus()
	linker := memory.NewEntityLinker(store, memory.RuleBasedExtractor{}, logger)
	queue := memory.NewEnrichmentQueue(store, memory.NoopEnricher{}, linker, bus, logger)

	tc.store = store
	tc.linker = linker
	tc.queue = queue
	tc.dedup = memory.NewDeduplicator(store, gateway, queue, linker, bus, logger)
	tc.ambient = memory.NewAmbientEngine(store, gateway, nil, logger)
	tc.lastSave = nil
	tc.firstSaveID = ""
	tc.predictions = nil
	return nil
}

func (tc *TestContext) capture(content string) error {
	return tc.captureFull(content, memory.KindFact, nil)
}

func (tc *TestContext) captureWithTags(content, tags string) error {
	var list []string
	for _, t := range strings.Split(tags, ",") {
		if s := strings.TrimSpace(t); s != "" {
			list = append(list, s)
		}
	}
	return tc.captureFull(content, memory.KindFact, list)
}

func (tc *TestContext) captureWithKind(content, kind string) error {
	return tc.captureFull(content, memory.Kind(kind), nil)
}

func (tc *TestContext) captureFull(content string, kind memory.Kind, tags []string) error {
	result, err := tc.dedup.SaveWithDedup(tc.ctx, memory.CaptureInput{
		Content:  content,
		Kind:     kind,
		Hashtags: tags,
	})
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}
	tc.queue.Wait()
	tc.lastSave = result
	if tc.firstSaveID == "" {
		tc.firstSaveID = result.RecordID
	}
	return nil
}

func (tc *TestContext) checkSaveAction(want string) error {
	if tc.lastSave == nil {
		return fmt.Errorf("no capture has run")
	}
	if string(tc.lastSave.Action) != want {
		return fmt.Errorf("expected action %s, got %s (%s)", want, tc.lastSave.Action, tc.lastSave.Message)
	}
	return nil
}

func (tc *TestContext) checkStoreCount(want int) error {
	got, err := tc.store.Count(tc.ctx)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %d memories, got %d", want, got)
	}
	return nil
}

func (tc *TestContext) checkStoredTags(tags string) error {
	rec, err := tc.store.GetRecord(tc.ctx, tc.lastSave.RecordID)
	if err != nil || rec == nil {
		return fmt.Errorf("failed to load record: %v", err)
	}
	have := make(map[string]bool)
	for _, t := range rec.Hashtags {
		have[strings.ToLower(t)] = true
	}
	for _, want := range strings.Split(tags, ",") {
		want = strings.ToLower(strings.TrimSpace(want))
		if !have[want] {
			return fmt.Errorf("tag %q missing from %v", want, rec.Hashtags)
		}
	}
	return nil
}

func (tc *TestContext) checkStoredContent(substr string) error {
	rec, err := tc.store.GetRecord(tc.ctx, tc.lastSave.RecordID)
	if err != nil || rec == nil {
		return fmt.Errorf("failed to load record: %v", err)
	}
	if !strings.Contains(rec.Content, substr) {
		return fmt.Errorf("content %q does not contain %q", rec.Content, substr)
	}
	return nil
}

func (tc *TestContext) checkWeakLink() error {
	if tc.lastSave == nil || tc.lastSave.Action != merge.CreateNew {
		return fmt.Errorf("expected the last save to be CREATE_NEW")
	}
	edges, err := tc.store.EdgesFrom(tc.ctx, tc.lastSave.RecordID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if e.TargetID == tc.firstSaveID && e.Kind == memory.EdgeWeak {
			return nil
		}
	}
	return fmt.Errorf("no weak edge from %s to %s", tc.lastSave.RecordID, tc.firstSaveID)
}

func (tc *TestContext) suggest(text string) error {
	preds, err := tc.ambient.Suggest(tc.ctx, text)
	if err != nil {
		return fmt.Errorf("suggest failed: %w", err)
	}
	tc.predictions = preds
	return nil
}

func (tc *TestContext) checkSuggestionFor(substr string) error {
	for _, p := range tc.predictions {
		rec, err := tc.store.GetRecord(tc.ctx, p.NodeID)
		if err != nil || rec == nil {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Content), strings.ToLower(substr)) {
			return nil
		}
	}
	return fmt.Errorf("no suggestion mentions %q among %d predictions", substr, len(tc.predictions))
}

func (tc *TestContext) checkNoSuggestions() error {
	if len(tc.predictions) != 0 {
		return fmt.Errorf("expected no suggestions, got %d", len(tc.predictions))
	}
	return nil
}

func (tc *TestContext) rejectSuggestion(substr string) error {
	for _, p := range tc.predictions {
		rec, err := tc.store.GetRecord(tc.ctx, p.NodeID)
		if err != nil || rec == nil {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Content), strings.ToLower(substr)) {
			return tc.ambient.RecordFeedback(tc.ctx, p.NodeID, memory.FeedbackRejected)
		}
	}
	return fmt.Errorf("no suggestion mentions %q to reject", substr)
}

func (tc *TestContext) entityLinkingHasRun() error {
	tc.queue.Wait()
	return nil
}

func (tc *TestContext) checkEntityExists(name, typ string) error {
	e, err := tc.store.GetEntity(tc.ctx, name, memory.EntityType(typ))
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("entity %q (%s) not found", name, typ)
	}
	return nil
}

func (tc *TestContext) checkEntityMentions(name string, want int) error {
	for _, typ := range []memory.EntityType{memory.EntityPerson, memory.EntityDate, memory.EntityPlace, memory.EntityEvent, memory.EntityConcept} {
		e, err := tc.store.GetEntity(tc.ctx, name, typ)
		if err != nil {
			return err
		}
		if e != nil {
			if e.MentionCount != want {
				return fmt.Errorf("entity %q has %d mentions, want %d", name, e.MentionCount, want)
			}
			return nil
		}
	}
	return fmt.Errorf("entity %q not found", name)
}
