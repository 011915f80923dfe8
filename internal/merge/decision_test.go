package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeMerge_decisionTable(t *testing.T) {
	shortText := "I love coffee"
	richText := "I love coffee, especially a flat white in the morning before standup"

	tests := []struct {
		name     string
		oldText  string
		newText  string
		oldTags  []string
		newTags  []string
		sim      float64
		want     Action
		weakLink bool
	}{
		{
			name: "near duplicate identical text no new tags keeps old",
			oldText: shortText, newText: shortText,
			sim: 0.99, want: KeepOld,
		},
		{
			name: "near duplicate with new tags merges tags",
			oldText: shortText, newText: shortText,
			oldTags: []string{"drinks"}, newTags: []string{"morning"},
			sim: 0.99, want: MergeTags,
		},
		{
			name: "boundary 0.98 with identical text is near-duplicate branch",
			oldText: shortText, newText: shortText,
			sim: 0.98, want: KeepOld,
		},
		{
			name: "high similarity richer new replaces",
			oldText: shortText, newText: richText,
			sim: 0.93, want: Replace,
		},
		{
			name: "boundary 0.92 not richer merges tags",
			oldText: richText, newText: shortText,
			sim: 0.92, want: MergeTags,
		},
		{
			name: "similar band richer new replaces",
			oldText: shortText, newText: richText,
			sim: 0.88, want: Replace,
		},
		{
			name: "boundary 0.85 richer old merges tags",
			oldText: richText, newText: shortText,
			sim: 0.85, want: MergeTags,
		},
		{
			name: "similar band neither richer merges tags",
			oldText: shortText, newText: "I like tea",
			sim: 0.86, want: MergeTags,
		},
		{
			name: "related band richer new merges content",
			oldText: shortText, newText: richText,
			sim: 0.80, want: MergeContent,
		},
		{
			name: "boundary 0.75 not richer creates new with weak link",
			oldText: richText, newText: shortText,
			sim: 0.75, want: CreateNew, weakLink: true,
		},
		{
			name: "below related band creates new without link",
			oldText: shortText, newText: "The sprint review moved to Thursday",
			sim: 0.40, want: CreateNew,
		},
		{
			name: "just below 0.75 creates new",
			oldText: shortText, newText: richText,
			sim: 0.7499, want: CreateNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeMerge(tt.oldText, tt.newText, tt.oldTags, tt.newTags, tt.sim)
			assert.Equal(t, tt.want, got.Action)
			assert.Equal(t, tt.weakLink, got.WeakLink)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestAnalyzeMerge_deterministic(t *testing.T) {
	a := AnalyzeMerge("Paris is the capital of France",
		"Paris, France's capital, has 2M people",
		[]string{"geo"}, []string{"geo", "facts"}, 0.88)
	for i := 0; i < 5; i++ {
		b := AnalyzeMerge("Paris is the capital of France",
			"Paris, France's capital, has 2M people",
			[]string{"geo"}, []string{"geo", "facts"}, 0.88)
		assert.Equal(t, a, b)
	}
	// richer new text in the 0.85 band replaces
	assert.Equal(t, Replace, a.Action)
	assert.Equal(t, "Paris, France's capital, has 2M people", a.SuggestedContent)
}

func TestAnalyzeMerge_highSimButLowTextSimSkipsNearDuplicateRow(t *testing.T) {
	// Semantically near-identical but phrased very differently: falls
	// through to the 0.92 row rather than KEEP_OLD.
	got := AnalyzeMerge("The deploy broke login", "Login stopped working right after we shipped the new release today", nil, nil, 0.985)
	assert.Equal(t, Replace, got.Action)
}

func TestAnalyzeMerge_suggestedTagsAreUnion(t *testing.T) {
	got := AnalyzeMerge("same thought", "same thought here", []string{"A", "b"}, []string{"B", "c"}, 0.93)
	assert.Equal(t, MergeTags, got.Action)
	assert.Equal(t, []string{"A", "b", "c"}, got.SuggestedTags)
}

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, TextSimilarity("", ""))
	assert.Equal(t, 1.0, TextSimilarity("abc", "abc"))
	assert.Equal(t, 0.0, TextSimilarity("abc", "xyz"))
	assert.InDelta(t, 0.75, TextSimilarity("abcd", "abcx"), 1e-9)
}

func TestTagOverlap(t *testing.T) {
	assert.Equal(t, 0.0, TagOverlap(nil, nil))
	assert.Equal(t, 1.0, TagOverlap([]string{"a", "B"}, []string{"A", "b"}))
	assert.InDelta(t, 1.0/3.0, TagOverlap([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestMergeContent_combinesBothTexts(t *testing.T) {
	got := AnalyzeMerge("short note", "a much longer related note that clearly adds several new words of detail", nil, nil, 0.78)
	assert.Equal(t, MergeContent, got.Action)
	assert.Contains(t, got.SuggestedContent, "short note")
	assert.Contains(t, got.SuggestedContent, "new words of detail")
}
