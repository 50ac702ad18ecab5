package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeOpenAI answers /embeddings with vectors [len(text), index] in reverse
// index order, failing the first rateLimited requests with 429.
func fakeOpenAI(t *testing.T, rateLimited int32) (*httptest.Server, *atomic.Int32, *[]embeddingRequest) {
	t.Helper()
	var calls atomic.Int32
	var reqs []embeddingRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if n <= rateLimited {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reqs = append(reqs, req)

		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len([]rune(req.Input[i]))), float64(i)},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &reqs
}

func newTestEmbedder(t *testing.T, srv *httptest.Server, batchSize int) *OpenAIEmbedder {
	t.Helper()
	client, err := NewClient(ClientOptions{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	e := NewOpenAIEmbedder(client, "", batchSize, nil)
	e.retryInitial = 5 * time.Millisecond
	e.maxElapsed = 2 * time.Second
	return e
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(ClientOptions{APIKey: "  "})
	assert.Error(t, err)
}

func TestEmbed_BatchSizeAboveDefaultIsOneCall(t *testing.T) {
	srv, calls, reqs := fakeOpenAI(t, 0)
	e := newTestEmbedder(t, srv, DefaultBatchSize+100)

	texts := make([]string, DefaultBatchSize+100)
	for i := range texts {
		texts[i] = "молоко"
	}
	vecs, err := e.Embed(t.Context(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, *reqs, 1)
	assert.Len(t, (*reqs)[0].Input, len(texts))
}

func TestEmbed_BatchesAndKeepsInputOrder(t *testing.T) {
	srv, calls, reqs := fakeOpenAI(t, 0)
	e := newTestEmbedder(t, srv, 2)

	vecs, err := e.Embed(t.Context(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, [][]float32{{1, 0}, {2, 1}, {3, 0}}, vecs)

	require.Len(t, *reqs, 2)
	assert.Equal(t, DefaultModel, (*reqs)[0].Model)
	assert.Equal(t, []string{"ccc"}, (*reqs)[1].Input)
}

func TestEmbed_EmptyInputMakesNoRequest(t *testing.T) {
	srv, calls, _ := fakeOpenAI(t, 0)
	e := newTestEmbedder(t, srv, 10)

	vecs, err := e.Embed(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, calls.Load())
}

func TestEmbed_RetriesRateLimit(t *testing.T) {
	srv, calls, _ := fakeOpenAI(t, 2)
	e := newTestEmbedder(t, srv, 10)

	vecs, err := e.Embed(t.Context(), []string{"молоко"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{6, 0}}, vecs)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_OtherErrorsArePermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad input"}}`))
	}))
	t.Cleanup(srv.Close)
	e := newTestEmbedder(t, srv, 10)

	_, err := e.Embed(t.Context(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
