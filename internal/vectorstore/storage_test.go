package vectorstore

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/embedding/hash"
)

func TestCosineBounds(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{-3, 0.5, 2}
	c := []float64{-1, -2, -3}

	assert.InDelta(t, 1.0, Cosine(a, a), 1e-12)
	assert.InDelta(t, -1.0, Cosine(a, c), 1e-12)
	sim := Cosine(a, b)
	assert.GreaterOrEqual(t, sim, -1.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestCosineZeroVectorIsZero(t *testing.T) {
	zero := make([]float64, 4)
	sim := Cosine(zero, []float64{1, 2, 3, 4})
	assert.False(t, math.IsNaN(sim))
	assert.Equal(t, 0.0, sim)
	assert.Equal(t, 0.0, Cosine(zero, zero))
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestRankOrdersAndTruncates(t *testing.T) {
	records := []domain.Record{
		{ID: "far", Vector: []float64{0, 1}},
		{ID: "near", Vector: []float64{1, 0.1}},
		{ID: "mid", Vector: []float64{1, 1}},
	}
	got := Rank([]float64{1, 0}, records, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestRankTiesKeepInsertionOrder(t *testing.T) {
	records := []domain.Record{
		{ID: "first", Vector: []float64{1, 0}},
		{ID: "second", Vector: []float64{2, 0}},
		{ID: "third", Vector: []float64{3, 0}},
	}
	got := Rank([]float64{1, 0}, records, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestRankEmptyAndNonPositiveLimit(t *testing.T) {
	assert.Empty(t, Rank([]float64{1}, nil, 3))
	assert.NotNil(t, Rank([]float64{1}, nil, 3))
	assert.Empty(t, Rank([]float64{1}, []domain.Record{{ID: "a", Vector: []float64{1}}}, 0))
}

func TestRecordIDIsContentDerived(t *testing.T) {
	id := RecordID("Refunds take 5 business days.")
	assert.Len(t, id, 16)
	assert.Equal(t, id, RecordID("Refunds take 5 business days."))
	assert.NotEqual(t, id, RecordID("Refunds take 6 business days."))
}

func TestNewRecordValidates(t *testing.T) {
	emb, err := hash.NewEmbedder(8)
	require.NoError(t, err)

	_, err = NewRecord(context.Background(), emb, 8, "   ", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewRecord(context.Background(), emb, 16, "text", nil)
	assert.ErrorIs(t, err, domain.ErrEmbedding)

	meta := map[string]any{"title": "faq"}
	rec, err := NewRecord(context.Background(), emb, 8, "text", meta)
	require.NoError(t, err)
	meta["title"] = "changed"
	assert.Equal(t, "faq", rec.Metadata["title"])
	assert.Len(t, rec.Vector, 8)
}

func TestIndexRejectsInconsistentRecords(t *testing.T) {
	_, err := NewIndex(2, []domain.Record{{ID: "a", Vector: []float64{1}}})
	assert.Error(t, err)

	_, err = NewIndex(1, []domain.Record{{ID: "a", Vector: []float64{1}}, {ID: "a", Vector: []float64{2}}})
	assert.Error(t, err)

	_, err = NewIndex(0, nil)
	assert.Error(t, err)
}

func TestIndexInsertIsIdempotentAndRollsBack(t *testing.T) {
	ix, err := NewIndex(1, nil)
	require.NoError(t, err)

	added, err := ix.Insert(domain.Record{ID: "a", Vector: []float64{1}}, nil)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = ix.Insert(domain.Record{ID: "a", Vector: []float64{1}}, nil)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = ix.Insert(domain.Record{ID: "b", Vector: []float64{1}}, func([]domain.Record) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, ix.Len())

	added, err = ix.Insert(domain.Record{ID: "b", Vector: []float64{1}}, nil)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, ix.Len())
}

func TestIndexSearchResultsAreCopies(t *testing.T) {
	ix, err := NewIndex(2, []domain.Record{
		{ID: "a", Text: "a", Metadata: map[string]any{"title": "faq"}, Vector: []float64{1, 0}},
	})
	require.NoError(t, err)

	res := ix.Search([]float64{1, 0}, 1)
	require.Len(t, res, 1)
	res[0].Metadata["title"] = "changed"
	res[0].Vector[0] = 42

	again := ix.Search([]float64{1, 0}, 1)
	require.Len(t, again, 1)
	assert.Equal(t, "faq", again[0].Metadata["title"])
	assert.Equal(t, 1.0, again[0].Vector[0])

	recs := ix.Records()
	recs[0].Metadata["title"] = "changed"
	assert.Equal(t, "faq", ix.Records()[0].Metadata["title"])
}

func TestIndexReplaceSwapsCollection(t *testing.T) {
	ix, err := NewIndex(2, []domain.Record{{ID: "a", Vector: []float64{1, 0}}})
	require.NoError(t, err)

	require.NoError(t, ix.Replace([]domain.Record{
		{ID: "a", Vector: []float64{1, 0}},
		{ID: "b", Vector: []float64{0, 1}},
	}))
	assert.Equal(t, 2, ix.Len())

	err = ix.Replace([]domain.Record{{ID: "c", Vector: []float64{1}}})
	assert.Error(t, err)
	assert.Equal(t, 2, ix.Len(), "a rejected collection leaves the index unchanged")

	added, err := ix.Insert(domain.Record{ID: "b", Vector: []float64{0, 1}}, nil)
	require.NoError(t, err)
	assert.False(t, added)
}
