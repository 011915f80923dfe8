// Package importer bulk-loads existing notes into the memory engine.
// Every entry goes through the full dedup pipeline, so re-importing the
// same export converges instead of duplicating.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/memory"
	"github.com/engramhq/engram/internal/merge"
)

// JournalEntry is one item of a JSON journal export.
type JournalEntry struct {
	Content   string   `json:"content"`
	Kind      string   `json:"kind,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Result tracks what an import run did.
type Result struct {
	Processed int
	Created   int
	Merged    int
	Skipped   int
	Errors    []string
	Duration  time.Duration
}

// JournalImporter loads JSON journal exports: a top-level array of
// entries with content, optional kind, tags and topic.
type JournalImporter struct {
	dedup *memory.Deduplicator
}

func NewJournalImporter(dedup *memory.Deduplicator) *JournalImporter {
	return &JournalImporter{dedup: dedup}
}

// ImportFile runs one export file through the dedup pipeline.
func (i *JournalImporter) ImportFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var entries []JournalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	result := &Result{}
	for _, entry := range entries {
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			result.Skipped++
			continue
		}
		result.Processed++

		saved, err := i.dedup.SaveWithDedup(ctx, memory.CaptureInput{
			Content:  content,
			Kind:     resolveKind(entry.Kind, content),
			Topic:    entry.Topic,
			Hashtags: entry.Tags,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%q: %v", firstWords(content, 6), err))
			continue
		}
		if saved.Action == merge.CreateNew {
			result.Created++
		} else {
			result.Merged++
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// ImportDirectory imports every .json file under a directory. A bad file
// is reported and skipped; the walk continues.
func (i *JournalImporter) ImportDirectory(ctx context.Context, dir string) (*Result, error) {
	combined := &Result{}
	start := time.Now()

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".json") {
			return nil
		}
		result, err := i.ImportFile(ctx, path)
		if err != nil {
			combined.Errors = append(combined.Errors, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		combined.Processed += result.Processed
		combined.Created += result.Created
		combined.Merged += result.Merged
		combined.Skipped += result.Skipped
		combined.Errors = append(combined.Errors, result.Errors...)
		return nil
	})

	combined.Duration = time.Since(start)
	return combined, err
}

// resolveKind honors an explicit kind and otherwise infers one from the
// text itself.
func resolveKind(declared, content string) memory.Kind {
	switch memory.Kind(strings.ToLower(declared)) {
	case memory.KindFact:
		return memory.KindFact
	case memory.KindFeeling:
		return memory.KindFeeling
	case memory.KindGoal:
		return memory.KindGoal
	}
	return InferKind(content)
}

var (
	goalMarkers    = []string{"todo", "want to", "plan to", "need to", "goal:", "remember to", "should "}
	feelingMarkers = []string{"i feel", "feeling", "i'm so", "im so", "anxious", "excited", "grateful", "frustrated"}
)

// InferKind guesses a capture kind from phrasing. Facts are the default.
func InferKind(content string) memory.Kind {
	lower := strings.ToLower(content)
	for _, m := range goalMarkers {
		if strings.HasPrefix(lower, m) || strings.Contains(lower, " "+m) {
			return memory.KindGoal
		}
	}
	for _, m := range feelingMarkers {
		if strings.Contains(lower, m) {
			return memory.KindFeeling
		}
	}
	return memory.KindFact
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
