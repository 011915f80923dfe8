// Package merge decides what to do with a newly captured thought that is
// semantically close to an existing record. AnalyzeMerge is pure: no I/O,
// no clock, no randomness, so the full decision table is unit-testable.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Action is the outcome of comparing new input to its closest stored match.
type Action string

const (
	KeepOld      Action = "KEEP_OLD"
	Replace      Action = "REPLACE"
	MergeTags    Action = "MERGE_TAGS"
	MergeContent Action = "MERGE_CONTENT"
	CreateNew    Action = "CREATE_NEW"
)

// Decision is the result of AnalyzeMerge.
type Decision struct {
	Action           Action
	Confidence       float64
	Reason           string
	SuggestedContent string
	SuggestedTags    []string
	// WeakLink is set when a CREATE_NEW outcome should still carry a weak
	// edge to the near-match (the 0.75 related band).
	WeakLink bool
}

// Similarity thresholds. Boundaries are inclusive and the table is
// applied top-down, first match wins. Two revisions of these constants
// existed historically (0.90/0.70); 0.92/0.75 is canonical.
const (
	NearDuplicate  = 0.98
	HighSimilarity = 0.92
	Similar        = 0.85
	Related        = 0.75
)

// richerFactor: new text counts as richer when it has >1.2x the words.
const richerFactor = 1.2

// AnalyzeMerge maps (text pair, tag sets, semantic similarity) to a merge
// decision. semanticSimilarity is the precise cosine between the stored
// rich vector and the new one.
func AnalyzeMerge(oldText, newText string, oldTags, newTags []string, semanticSimilarity float64) Decision {
	textSim := TextSimilarity(oldText, newText)
	oldWords := float64(len(strings.Fields(oldText)))
	newWords := float64(len(strings.Fields(newText)))
	richerNew := newWords > richerFactor*oldWords
	richerOld := oldWords > richerFactor*newWords

	lengthRatio := 0.0
	if len(oldText) > 0 {
		lengthRatio = float64(len(newText)) / float64(len(oldText))
	} else if len(newText) > 0 {
		richerNew = true
	}

	union := unionTags(oldTags, newTags)

	switch {
	case semanticSimilarity >= NearDuplicate && textSim > 0.95:
		if hasNewTags(oldTags, newTags) {
			return Decision{
				Action:        MergeTags,
				Confidence:    semanticSimilarity,
				Reason:        "near-duplicate with new tags",
				SuggestedTags: union,
			}
		}
		return Decision{
			Action:     KeepOld,
			Confidence: semanticSimilarity,
			Reason:     "near-duplicate, nothing new to keep",
		}

	case semanticSimilarity >= HighSimilarity:
		if richerNew {
			return Decision{
				Action:           Replace,
				Confidence:       semanticSimilarity,
				Reason:           "same thought, richer phrasing",
				SuggestedContent: newText,
				SuggestedTags:    union,
			}
		}
		return Decision{
			Action:        MergeTags,
			Confidence:    semanticSimilarity,
			Reason:        "same thought, keep established phrasing",
			SuggestedTags: union,
		}

	case semanticSimilarity >= Similar:
		if richerNew || lengthRatio > 1.3 {
			return Decision{
				Action:           Replace,
				Confidence:       semanticSimilarity,
				Reason:           "close thought, new version adds detail",
				SuggestedContent: newText,
				SuggestedTags:    union,
			}
		}
		reason := "close thought, merging tags"
		if richerOld {
			reason = "close thought, stored version is fuller"
		}
		return Decision{
			Action:        MergeTags,
			Confidence:    semanticSimilarity,
			Reason:        reason,
			SuggestedTags: union,
		}

	case semanticSimilarity >= Related:
		if richerNew {
			return Decision{
				Action:           MergeContent,
				Confidence:       semanticSimilarity,
				Reason:           "related thought, combining both",
				SuggestedContent: combineContent(oldText, newText),
				SuggestedTags:    union,
			}
		}
		return Decision{
			Action:     CreateNew,
			Confidence: semanticSimilarity,
			Reason:     "related but distinct, linking instead of merging",
			WeakLink:   true,
		}
	}

	return Decision{
		Action:     CreateNew,
		Confidence: semanticSimilarity,
		Reason:     fmt.Sprintf("distinct thought (similarity %.2f)", semanticSimilarity),
	}
}

// TextSimilarity is 1 minus the length-normalized Levenshtein distance.
// Two empty strings are identical (1.0).
func TextSimilarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max)
}

// TagOverlap is the Jaccard index of the two tag sets, case-insensitive.
func TagOverlap(a, b []string) float64 {
	sa := tagSet(a)
	sb := tagSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tagSet(tags []string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			m[t] = true
		}
	}
	return m
}

func hasNewTags(oldTags, newTags []string) bool {
	old := tagSet(oldTags)
	for t := range tagSet(newTags) {
		if !old[t] {
			return true
		}
	}
	return false
}

// unionTags merges both tag sets, preserving the first-seen original
// casing, sorted for deterministic output.
func unionTags(a, b []string) []string {
	seen := make(map[string]string)
	for _, t := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; !ok {
			seen[key] = strings.TrimSpace(t)
		}
	}
	out := make([]string, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func combineContent(oldText, newText string) string {
	return strings.TrimSpace(oldText) + "\n\n" + strings.TrimSpace(newText)
}
