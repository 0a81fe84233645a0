package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectTaskType(t *testing.T) {
	assert.Equal(t, "RETRIEVAL_QUERY", SelectTaskType(ContentTypeMemory, true))
	assert.Equal(t, "RETRIEVAL_DOCUMENT", SelectTaskType(ContentTypeMemory, false))
	assert.Equal(t, "FACT_VERIFICATION", SelectTaskType(ContentTypeClaim, false))
	assert.Equal(t, "QUESTION_ANSWERING", SelectTaskType(ContentTypeQuestion, true))
	assert.Equal(t, "SEMANTIC_SIMILARITY", SelectTaskType("other", false))
}

func TestForContentTunesGenAIOnly(t *testing.T) {
	g := &GenAIEngine{model: "text-embedding-004", taskType: "SEMANTIC_SIMILARITY"}
	tuned := ForContent(g, ContentTypeMemory, false).(*GenAIEngine)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", tuned.taskType)
	assert.Equal(t, "SEMANTIC_SIMILARITY", g.taskType, "original untouched")
	assert.Equal(t, int32(64), *(&GenAIEngine{dimensions: 64}).config().OutputDimensionality)

	lex := NewLexicalEngine(32)
	assert.Same(t, lex, ForContent(lex, ContentTypeMemory, true))
	_, err := lex.Embed(context.Background(), "x")
	assert.NoError(t, err)
}
