package memory

import (
	"math"
	"strings"
)

// localEmbedder produces deterministic on-device embeddings via feature
// hashing: word n-grams, character trigrams, and a few structural
// signals. It backs the fast tier (and the rich tier in offline mode) so
// capture and ambient suggestions keep working without network access.
type localEmbedder struct {
	dimensions int
	ngramSizes []int
	stopwords  map[string]bool
}

func newLocalEmbedder(dimensions int) *localEmbedder {
	return &localEmbedder{
		dimensions: dimensions,
		ngramSizes: []int{1, 2, 3},
		stopwords:  stopwords,
	}
}

func (e *localEmbedder) Dimensions() int { return e.dimensions }

func (e *localEmbedder) Embed(text string) []float32 {
	v := make([]float32, e.dimensions)
	lowered := strings.ToLower(text)
	words := tokenize(lowered)
	if len(words) == 0 {
		return v
	}

	ngramDims := e.dimensions * 7 / 10
	charDims := e.dimensions * 2 / 10
	e.addNgramFeatures(v[:ngramDims], words)
	e.addCharFeatures(v[ngramDims:ngramDims+charDims], lowered)
	e.addStructuralFeatures(v[ngramDims+charDims:], lowered, words)

	unitize(v)
	return v
}

func (e *localEmbedder) addNgramFeatures(v []float32, words []string) {
	dims := len(v)
	if dims == 0 {
		return
	}
	for _, n := range e.ngramSizes {
		weight := 1.0 / float32(n)
		for i := 0; i+n <= len(words); i++ {
			if n == 1 && e.stopwords[words[i]] {
				continue
			}
			ngram := strings.Join(words[i:i+n], " ")
			posWeight := float32(1.0)
			if i < 3 || i >= len(words)-3 {
				posWeight = 1.5
			}
			v[hashString(ngram)%dims] += weight * posWeight
			v[hashString(ngram+"#alt")%dims] -= weight * posWeight * 0.5
		}
	}
}

func (e *localEmbedder) addCharFeatures(v []float32, text string) {
	dims := len(v)
	if dims == 0 {
		return
	}
	for i := 0; i+3 <= len(text); i++ {
		v[hashString("c3:"+text[i:i+3])%dims] += 0.1
	}
}

func (e *localEmbedder) addStructuralFeatures(v []float32, text string, words []string) {
	if len(v) < 4 {
		return
	}
	v[0] = float32(math.Log(float64(len(text) + 1)))
	v[1] = float32(math.Log(float64(len(words) + 1)))
	if strings.Contains(text, "?") {
		v[2] = 1.0
	}
	totalLen := 0
	for _, w := range words {
		totalLen += len(w)
	}
	v[3] = float32(totalLen) / float32(len(words))
}

// tokenize splits text into words, stripping punctuation and single
// characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '.', ',', '!', '?', ';', ':', '\'', '"', '(', ')', '[', ']', '{', '}', '\n', '\t', ' ':
			return true
		}
		return false
	})
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}

// extractKeywords returns lowercased, stopword-filtered, deduplicated
// content words in first-seen order. Used by the ambient fast path.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range tokenize(strings.ToLower(text)) {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

func unitize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
}

var stopwords = buildStopwords()

func buildStopwords() map[string]bool {
	words := []string{
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
		"of", "with", "by", "from", "as", "is", "was", "are", "were", "been",
		"be", "have", "has", "had", "do", "does", "did", "will", "would",
		"could", "should", "may", "might", "must", "shall", "can", "it",
		"its", "this", "that", "these", "those", "i", "you", "he", "she",
		"we", "they", "what", "which", "who", "whom", "whose", "where",
		"when", "why", "how", "all", "each", "every", "both", "few", "more",
		"most", "other", "some", "such", "no", "nor", "not", "only", "own",
		"same", "so", "than", "too", "very", "just", "also", "now", "here",
		"my", "me", "our", "us", "about", "really",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
