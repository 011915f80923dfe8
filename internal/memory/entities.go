package memory

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EntityLinker turns extraction output into durable knowledge-graph
// state: one entity per (case-insensitive name, type), with properties
// shallow-merged across sightings and every surface form recorded as a
// mention.
type EntityLinker struct {
	store     *Store
	extractor EntityExtractionProvider
	logger    *zap.Logger
}

func NewEntityLinker(store *Store, extractor EntityExtractionProvider, logger *zap.Logger) *EntityLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityLinker{store: store, extractor: extractor, logger: logger}
}

// ExtractAndLink pulls entities out of a record, upserts each one, and
// returns the linked entities in their post-upsert state. A provider
// failure aborts the whole pass; a single bad entity is skipped and
// logged so the rest still land.
func (l *EntityLinker) ExtractAndLink(ctx context.Context, rec *Record) ([]Entity, error) {
	extracted, err := l.extractor.Extract(ctx, rec.Content, nil)
	if err != nil {
		return nil, err
	}

	linked := make([]Entity, 0, len(extracted))
	for _, ext := range extracted {
		name := strings.TrimSpace(ext.Name)
		if name == "" {
			continue
		}
		entity, err := l.upsert(ctx, rec, ext, name)
		if err != nil {
			l.logger.Warn("entity upsert failed",
				zap.String("entity", name), zap.Error(err))
			continue
		}
		linked = append(linked, *entity)
	}
	return linked, nil
}

func (l *EntityLinker) upsert(ctx context.Context, rec *Record, ext ExtractedEntity, name string) (*Entity, error) {
	typ := normalizeEntityType(ext.RawType)
	now := time.Now()

	existing, err := l.store.GetEntity(ctx, name, typ)
	if err != nil {
		return nil, err
	}

	var entity *Entity
	if existing == nil {
		entity = &Entity{
			Name:                 name,
			Type:                 typ,
			Properties:           ext.Properties,
			FirstMentionRecordID: rec.ID,
			LastMentionRecordID:  rec.ID,
			MentionCount:         1,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := l.store.InsertEntity(ctx, entity); err != nil {
			return nil, err
		}
	} else {
		merged := ShallowMerge(existing.Properties, ext.Properties)
		if err := l.store.UpdateEntityOnMention(ctx, existing.ID, merged, rec.ID, now); err != nil {
			return nil, err
		}
		entity = existing
		entity.Properties = merged
		entity.LastMentionRecordID = rec.ID
		entity.MentionCount++
		entity.UpdatedAt = now
	}

	mentions := ext.Mentions
	if len(mentions) == 0 {
		mentions = []string{name}
	}
	for _, text := range mentions {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		m := &Mention{
			EntityID:    entity.ID,
			RecordID:    rec.ID,
			MentionText: text,
			Context:     mentionContext(rec.Content, text),
		}
		if err := l.store.AddMention(ctx, m); err != nil {
			return entity, err
		}
	}
	return entity, nil
}

// normalizeEntityType folds provider output into the closed taxonomy.
// Anything unrecognized becomes a concept rather than failing.
func normalizeEntityType(raw string) EntityType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "person", "people", "name":
		return EntityPerson
	case "date", "time", "datetime":
		return EntityDate
	case "place", "location", "city", "country":
		return EntityPlace
	case "event", "meeting", "appointment":
		return EntityEvent
	default:
		return EntityConcept
	}
}

// ShallowMerge overlays updates onto base one key deep; an updated key
// wins wholesale, nested values are never merged recursively.
func ShallowMerge(base, updates map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// mentionContext returns the first sentence containing the mention, or
// the leading 200 characters when sentence splitting finds nothing.
func mentionContext(content, mention string) string {
	lower := strings.ToLower(mention)
	for _, sentence := range splitSentences(content) {
		if strings.Contains(strings.ToLower(sentence), lower) {
			return strings.TrimSpace(sentence)
		}
	}
	if len(content) > 200 {
		return content[:200]
	}
	return content
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}
