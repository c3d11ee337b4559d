package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoexplain/internal/retry"
)

func fastRetry() OpenAIOption {
	return WithRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2})
}

// chatServer answers with statuses in order, then with answer
func chatServer(t *testing.T, statuses []int, answer string) (*httptest.Server, *atomic.Int32, func() chatRequest) {
	t.Helper()
	var (
		calls atomic.Int32
		mu    sync.Mutex
		last  chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "bad path "+r.URL.Path, http.StatusNotFound)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		last = req
		mu.Unlock()
		if n <= len(statuses) {
			http.Error(w, "try later", statuses[n-1])
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  ` + answer + `  \n"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, func() chatRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestPrompts(t *testing.T) {
	assert.Contains(t, SystemPrompt(), "explains codebases to students")

	got := UserPrompt("  ctx body \n", " what is this? ")
	assert.Contains(t, got, "<CONTEXT>\nctx body\n</CONTEXT>")
	assert.Contains(t, got, "The student's question: what is this?\n\n")
	assert.Contains(t, got, "mention file paths.")
}

func TestOpenAICompatible_Success(t *testing.T) {
	srv, calls, lastRequest := chatServer(t, nil, "It is a CLI.")
	g := NewOpenAICompatible(srv.URL+"/", "key", DefaultParams("test-model"), fastRetry())

	answer, err := g.Generate(context.Background(), "ctx", "q")
	require.NoError(t, err)
	assert.Equal(t, "It is a CLI.", answer)
	assert.Equal(t, int32(1), calls.Load())

	last := lastRequest()
	assert.Equal(t, "test-model", last.Model)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, "system", last.Messages[0].Role)
	assert.Equal(t, "user", last.Messages[1].Role)
	assert.Equal(t, DefaultMaxTokens, last.MaxTokens)
	assert.InDelta(t, DefaultTemperature, last.Temperature, 1e-9)
	assert.InDelta(t, DefaultTopP, last.TopP, 1e-9)
}

func TestOpenAICompatible_RetriesTransient(t *testing.T) {
	srv, calls, _ := chatServer(t, []int{http.StatusTooManyRequests, http.StatusBadGateway}, "ok")
	g := NewOpenAICompatible(srv.URL, "", Params{}, fastRetry())

	answer, err := g.Generate(context.Background(), "ctx", "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAICompatible_GivesUpAfterThree(t *testing.T) {
	srv, calls, _ := chatServer(t, []int{500, 500, 500, 500}, "never")
	g := NewOpenAICompatible(srv.URL, "", Params{}, fastRetry())

	_, err := g.Generate(context.Background(), "ctx", "q")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAICompatible_NoRetryOnClientError(t *testing.T) {
	srv, calls, _ := chatServer(t, []int{http.StatusUnauthorized}, "never")
	g := NewOpenAICompatible(srv.URL, "", Params{}, fastRetry())

	_, err := g.Generate(context.Background(), "ctx", "q")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Transient())
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAICompatible_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICompatible(srv.URL, "", Params{}, fastRetry()).Generate(context.Background(), "c", "q")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew(t *testing.T) {
	g, err := New(context.Background(), Config{})
	require.NoError(t, err)
	oc, ok := g.(*OpenAICompatible)
	require.True(t, ok)
	assert.Equal(t, DefaultBaseURL+"/v1/chat/completions", oc.endpoint)
	assert.Equal(t, DefaultModel, oc.params.Model)

	_, err = New(context.Background(), Config{Backend: BackendGemini})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(context.Background(), Config{Backend: "bard"})
	assert.Error(t, err)
}
