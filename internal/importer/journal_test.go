package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/memory"
)

func setupTestDedup(t *testing.T) (*memory.Deduplicator, *memory.Store) {
	t.Helper()
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	store, err := memory.NewStore(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	dedup := memory.NewDeduplicator(store, memory.NewLocalGateway(), nil, nil, memory.NewNotificationBus(), zap.NewNop())
	return dedup, store
}

func writeExport(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestImportJournalFile(t *testing.T) {
	dedup, store := setupTestDedup(t)
	path := writeExport(t, "journal.json", `[
		{"content": "the eiffel tower is 330 meters tall", "kind": "fact", "tags": ["travel"]},
		{"content": "want to run a marathon next year", "tags": ["fitness"]},
		{"content": "   "},
		{"content": "feeling grateful for the weekend"}
	]`)

	result, err := NewJournalImporter(dedup).ImportFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Errors)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImportIsIdempotent(t *testing.T) {
	dedup, store := setupTestDedup(t)
	path := writeExport(t, "journal.json", `[
		{"content": "the eiffel tower is 330 meters tall", "kind": "fact"}
	]`)

	imp := NewJournalImporter(dedup)
	ctx := context.Background()

	first, err := imp.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	second, err := imp.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Merged)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-importing the same export must not duplicate")
}

func TestImportMalformedFile(t *testing.T) {
	dedup, _ := setupTestDedup(t)
	path := writeExport(t, "bad.json", `{not json`)

	_, err := NewJournalImporter(dedup).ImportFile(context.Background(), path)
	require.Error(t, err)
}

func TestInferKind(t *testing.T) {
	cases := map[string]memory.Kind{
		"want to learn the piano":        memory.KindGoal,
		"TODO clean the garage":          memory.KindGoal,
		"i feel overwhelmed by email":    memory.KindFeeling,
		"the capital of peru is lima":    memory.KindFact,
		"mercury is the smallest planet": memory.KindFact,
	}
	for content, want := range cases {
		assert.Equal(t, want, InferKind(content), "content %q", content)
	}
}

func TestImportChatLog(t *testing.T) {
	dedup, store := setupTestDedup(t)
	path := writeExport(t, "chat.json", `{
		"conversations": [{
			"id": "conv-1",
			"title": "sourdough basics",
			"messages": [
				{"role": "user", "text": "hi"},
				{"role": "assistant", "text": "Hello! How can I help today with anything at all?"},
				{"role": "user", "text": "how long should i proof sourdough at room temperature"},
				{"role": "assistant", "text": "Proof sourdough for four to six hours at room temperature, or overnight in the fridge for more flavor development and an easier schedule."}
			]
		}]
	}`)

	result, err := NewChatLogImporter(dedup).ImportFile(context.Background(), path)
	require.NoError(t, err)

	// the greeting exchange is filtered, the real one lands
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)

	recs, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Content, "proof sourdough")
	assert.Equal(t, "sourdough basics", recs[0].Topic)
	assert.Equal(t, "conv-1", recs[0].ConversationID)
	assert.Contains(t, recs[0].Hashtags, "imported")
}
