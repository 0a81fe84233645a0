package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argent/internal/embedding"
	"argent/internal/faults"
)

func TestSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	idx := NewLocalIndex(embedding.NewLexicalEngine(1024), 0.3, 0)

	require.NoError(t, idx.Index(ctx, "p1", "ember", "m1", "The player found a brass key under the mat"))
	require.NoError(t, idx.Index(ctx, "p1", "ember", "m2", "The player asked about the weather in Lisbon"))
	require.NoError(t, idx.Index(ctx, "p1", "miro", "m3", "The brass key opens the vault"))

	hits, err := idx.Search(ctx, "p1", "ember", "where is the brass key", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].ID)
}

func TestReindexReplacesAndLimitEvictsOldest(t *testing.T) {
	ctx := context.Background()
	idx := NewLocalIndex(embedding.NewLexicalEngine(64), -1, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Index(ctx, "p1", "ember", fmt.Sprintf("m%d", i), fmt.Sprintf("note %d", i)))
	}
	require.NoError(t, idx.Index(ctx, "p1", "ember", "m4", "rewritten note"))

	hits, err := idx.Search(ctx, "p1", "ember", "note", 10)
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{"m2", "m3", "m4"}, ids)
}

type failing struct{ embedding.Engine }

func (failing) Embed(context.Context, string) ([]float32, error) { return nil, errors.New("quota") }

func TestEngineFailureIsExternal(t *testing.T) {
	idx := NewLocalIndex(failing{embedding.NewLexicalEngine(8)}, 0, 0)
	err := idx.Index(context.Background(), "p1", "ember", "m1", "x")

	var ext *faults.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "memory", ext.Service)
	assert.True(t, faults.IsRetryable(err))
}

func TestEmptyIndexReturnsNothing(t *testing.T) {
	hits, err := NewLocalIndex(embedding.NewLexicalEngine(8), 0, 0).Search(context.Background(), "p1", "ember", "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
