package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
	"autoreply/internal/embedding/hash"
)

func newEmbedder(t *testing.T) *hash.Embedder {
	t.Helper()
	emb, err := hash.NewEmbedder(hash.DefaultDimension)
	require.NoError(t, err)
	return emb
}

func TestOpenInitializesEmptyCollection(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectorstore")
	s, err := Open(dir, newEmbedder(t))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	res, err := s.Search(context.Background(), "hello", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestAddPersistsSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, newEmbedder(t))
	require.NoError(t, err)

	id, err := s.Add(context.Background(), "Refunds take 5 business days.", map[string]any{"title": "faq"})
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, id, raw[0]["id"])
	assert.Equal(t, "Refunds take 5 business days.", raw[0]["text"])
	assert.Equal(t, map[string]any{"title": "faq"}, raw[0]["metadata"])
	assert.Len(t, raw[0]["vector"], hash.DefaultDimension)
}

func TestReopenRestoresRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newEmbedder(t)

	s, err := Open(dir, emb)
	require.NoError(t, err)
	id, err := s.Add(ctx, "Refunds take 5 business days.", map[string]any{"title": "faq"})
	require.NoError(t, err)

	reopened, err := Open(dir, emb)
	require.NoError(t, err)
	res, err := reopened.Search(ctx, "How long for a refund?", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, id, res[0].ID)
	assert.Equal(t, "faq", res[0].Metadata["title"])
}

func TestSearchOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), newEmbedder(t))
	require.NoError(t, err)

	for _, text := range []string{"Shipping is free over $50.", "We are open 9 to 5.", "Returns accepted for 30 days."} {
		_, err := s.Add(ctx, text, nil)
		require.NoError(t, err)
	}

	res, err := s.Search(ctx, "when are you open?", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)

	all, err := s.Search(ctx, "when are you open?", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
}

func TestAddIsIdempotentByContent(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), newEmbedder(t))
	require.NoError(t, err)

	a, err := s.Add(ctx, "same", nil)
	require.NoError(t, err)
	b, err := s.Add(ctx, "same", nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, s.Len())
}

func TestOpenMalformedCollection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))

	_, err := Open(dir, newEmbedder(t))
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestOpenRejectsWrongDimension(t *testing.T) {
	dir := t.TempDir()
	doc := `[{"id":"x","text":"t","metadata":{},"vector":[0.1,0.2]}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644))

	_, err := Open(dir, newEmbedder(t))
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestAddFailsWhenSnapshotCannotBeWritten(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir, newEmbedder(t))
	require.NoError(t, err)

	// a directory in place of the collection makes the rename fail
	require.NoError(t, os.Remove(s.Path()))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Path(), "blocker"), 0o755))

	_, err = s.Add(ctx, "will not persist", nil)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentAddsLoseNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newEmbedder(t)
	s, err := Open(dir, emb)
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Add(ctx, fmt.Sprintf("snippet number %d", i), map[string]any{"n": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reopened, err := Open(dir, emb)
	require.NoError(t, err)
	assert.Equal(t, writers, reopened.Len())
}

func TestHandlesSharingDirectorySeeEachOthersWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newEmbedder(t)

	cli, err := Open(dir, emb)
	require.NoError(t, err)
	srv, err := Open(dir, emb)
	require.NoError(t, err)

	cliID, err := cli.Add(ctx, "ingested from the command line", map[string]any{"title": "cli"})
	require.NoError(t, err)

	res, err := srv.Search(ctx, "command line", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, cliID, res[0].ID)

	srvID, err := srv.Add(ctx, "added through the admin endpoint", map[string]any{"title": "admin"})
	require.NoError(t, err)

	reopened, err := Open(dir, emb)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	res, err = cli.Search(ctx, "admin endpoint", 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(res))
	for _, r := range res {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{cliID, srvID}, ids)
}

func TestConcurrentHandlesLoseNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newEmbedder(t)

	const handles, perHandle = 4, 8
	var wg sync.WaitGroup
	for h := 0; h < handles; h++ {
		s, err := Open(dir, emb)
		require.NoError(t, err)
		wg.Add(1)
		go func(h int, s *Storage) {
			defer wg.Done()
			for i := 0; i < perHandle; i++ {
				_, err := s.Add(ctx, fmt.Sprintf("handle %d snippet %d", h, i), nil)
				assert.NoError(t, err)
			}
		}(h, s)
	}
	wg.Wait()

	reopened, err := Open(dir, emb)
	require.NoError(t, err)
	assert.Equal(t, handles*perHandle, reopened.Len())
}

func TestMutatingSearchResultsLeavesStoreIntact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newEmbedder(t)
	s, err := Open(dir, emb)
	require.NoError(t, err)

	_, err = s.Add(ctx, "Refunds take 5 business days.", map[string]any{"title": "faq"})
	require.NoError(t, err)
	res, err := s.Search(ctx, "refund", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	original := res[0].Vector[0]
	res[0].Metadata["title"] = "changed"
	res[0].Vector[0] = 42

	_, err = s.Add(ctx, "Shipping is free over $50.", nil)
	require.NoError(t, err)

	reopened, err := Open(dir, emb)
	require.NoError(t, err)
	res, err = reopened.Search(ctx, "Refunds take 5 business days.", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "faq", res[0].Metadata["title"])
	assert.Equal(t, original, res[0].Vector[0])
}
