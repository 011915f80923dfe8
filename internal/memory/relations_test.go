package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractRelations(t *testing.T) {
	rels := ExtractRelations("Skipped the gym because my knee was sore. This reminds me of the marathon training block.")
	assert.Len(t, rels, 2)
	assert.Equal(t, "my knee was sore", rels[0].Phrase)
	assert.Equal(t, "the marathon training block", rels[1].Phrase)
	assert.Contains(t, rels[0].Reason, "because")
}

func TestExtractRelationsDedupes(t *testing.T) {
	rels := ExtractRelations("stayed home because of rain. practice cancelled because of rain.")
	assert.Len(t, rels, 1)
}

func TestExtractRelationsEmpty(t *testing.T) {
	assert.Nil(t, ExtractRelations(""))
	assert.Nil(t, ExtractRelations("plain statement with no connectives"))
}
