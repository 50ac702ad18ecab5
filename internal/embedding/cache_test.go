package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	data    map[string][]float32
	failGet bool
}

func (m *mapCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, vec []float32) error {
	m.data[key] = vec
	return nil
}

type countingEmbedder struct {
	calls [][]string
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCachedEmbedder_EmbedsOnlyMisses(t *testing.T) {
	next := &countingEmbedder{}
	cache := &mapCache{data: map[string][]float32{}}
	e := NewCachedEmbedder(next, cache, DefaultModel, nil)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, first)

	second, err := e.Embed(ctx, []string{"ccc", "a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}, {1}, {2}}, second)

	require.Len(t, next.calls, 2)
	assert.Equal(t, []string{"ccc"}, next.calls[1])

	_, err = e.Embed(ctx, []string{"bb", "a"})
	require.NoError(t, err)
	assert.Len(t, next.calls, 2, "fully cached request never reaches the service")
}

func TestCachedEmbedder_KeysAreModelScoped(t *testing.T) {
	cache := &mapCache{data: map[string][]float32{}}
	a := NewCachedEmbedder(&countingEmbedder{}, cache, "model-a", nil)
	b := NewCachedEmbedder(&countingEmbedder{}, cache, "model-b", nil)
	assert.NotEqual(t, a.key("milk"), b.key("milk"))
}

func TestCachedEmbedder_CacheFailureFallsThrough(t *testing.T) {
	next := &countingEmbedder{}
	e := NewCachedEmbedder(next, &mapCache{data: map[string][]float32{}, failGet: true}, DefaultModel, nil)

	vecs, err := e.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}}, vecs)
	assert.Len(t, next.calls, 1)
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, 1e-7}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
