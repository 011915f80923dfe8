package memory

import (
	"regexp"
	"strings"
)

// Relation is a narrative link found in captured text ("because X",
// "after Y"). The phrase is used as a keyword probe to find the record
// it refers to; the reason keeps the full snippet for display.
type Relation struct {
	Phrase string
	Reason string
}

var relationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbecause\s+(.+?)(?:\.|,|;|\s+and\s+|\s+so\s+|$)`),
	regexp.MustCompile(`(?i)\bafter\s+(.+?)(?:\.|,|;|$)`),
	regexp.MustCompile(`(?i)\bled\s+to\s+(.+?)(?:\.|,|;|$)`),
	regexp.MustCompile(`(?i)\bdue\s+to\s+(.+?)(?:\.|,|;|$)`),
	regexp.MustCompile(`(?i)\bsince\s+(.+?)(?:\.|,|;|$)`),
	regexp.MustCompile(`(?i)\breminds\s+me\s+of\s+(.+?)(?:\.|,|;|$)`),
}

const (
	relationMaxPhrase = 200
	relationMinPhrase = 3
)

// ExtractRelations finds narrative references in content, deduplicated
// by phrase.
func ExtractRelations(content string) []Relation {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []Relation
	for _, re := range relationPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			if len(m) < 2 {
				continue
			}
			phrase := strings.TrimSpace(m[1])
			if len(phrase) > relationMaxPhrase {
				phrase = phrase[:relationMaxPhrase]
			}
			if len(phrase) < relationMinPhrase {
				continue
			}
			key := strings.ToLower(phrase)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Relation{Phrase: phrase, Reason: strings.TrimSpace(m[0])})
		}
	}
	return out
}
