// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

// =============================================================================
// TEST HELPERS
// =============================================================================

// sseChunk renders one streaming chunk the way OpenRouter does.
func sseChunk(content, finish string) string {
	var fr any
	if finish != "" {
		fr = finish
	}
	payload, _ := json.Marshal(map[string]any{
		"id":     "gen-1",
		"model":  "test-model",
		"object": "chat.completion.chunk",
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         map[string]any{"role": "assistant", "content": content},
			"finish_reason": fr,
		}},
	})
	return "data: " + string(payload) + "\n\n"
}

func completionBody(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"id":     "gen-1",
		"model":  "test-model",
		"object": "chat.completion",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
	})
	return string(payload)
}

// fragmentServer serves the same reply either streamed as the given
// fragments or as a single completion, depending on the request.
func fragmentServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, completionBody(strings.Join(fragments, "")))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		io.WriteString(w, ": OPENROUTER PROCESSING\n\n")
		io.WriteString(w, sseChunk("", ""))
		for i, f := range fragments {
			finish := ""
			if i == len(fragments)-1 {
				finish = "stop"
			}
			io.WriteString(w, sseChunk(f, finish))
			if flusher != nil {
				flusher.Flush()
			}
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(url string) *OpenRouterClient {
	return NewOpenRouterClient(testKey).WithBaseURL(url).WithLogger(discardLogger())
}

func userRequest(text string) ChatRequest {
	return ChatRequest{Model: "test-model", Messages: []ChatMessage{{Role: "user", Content: text}}}
}

// =============================================================================
// COMPLETE TESTS
// =============================================================================

func TestComplete_SendsRequest(t *testing.T) {
	var gotPath, gotAuth, gotReferer, gotTitle string
	var gotPayload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		io.WriteString(w, completionBody("ok"))
	}))
	defer srv.Close()

	temp := 0.0
	client := testClient(srv.URL).WithSiteURL("https://example.com").WithSiteName("echo")
	resp, err := client.Complete(context.Background(), ChatRequest{
		Model:       "openai/gpt-4.1",
		Messages:    []ChatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 2, resp.CompletionTokens)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer "+testKey, gotAuth)
	assert.Equal(t, "https://example.com", gotReferer)
	assert.Equal(t, "echo", gotTitle)

	assert.Equal(t, "openai/gpt-4.1", gotPayload["model"])
	assert.Equal(t, false, gotPayload["stream"])
	assert.Contains(t, gotPayload, "temperature", "explicit zero temperature must be sent")
	assert.EqualValues(t, 64, gotPayload["max_tokens"])
	assert.Len(t, gotPayload["messages"], 2)
}

func TestComplete_NotConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := NewOpenRouterClient("  ").WithBaseURL(srv.URL)
	_, err := client.Complete(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.Stream(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Zero(t, hits.Load(), "no request should be sent without a key")
}

func TestComplete_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":{"code":401,"message":"No auth credentials found"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrAuthFailed)
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, "401", re.Code)
				assert.Equal(t, "No auth credentials found", re.Message)
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"key disabled"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrAuthFailed)
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"slow down"}}`,
			header: map[string]string{"Retry-After": "7"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrRateLimited)
				var rl *RateLimitError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
				assert.Equal(t, "slow down", rl.Message)
			},
		},
		{
			name:   "payment required",
			status: http.StatusPaymentRequired,
			body:   `{"error":{"code":402,"message":"insufficient credits"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInsufficientCredits)
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, 402, re.Status)
			},
		},
		{
			name:   "server error with string code",
			status: http.StatusBadGateway,
			body:   `{"error":{"code":"upstream_error","message":"provider down"}}`,
			check: func(t *testing.T, err error) {
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, http.StatusBadGateway, re.Status)
				assert.Equal(t, "upstream_error", re.Code)
				assert.Equal(t, "provider down", re.Message)
				assert.NotErrorIs(t, err, ErrNetwork)
			},
		},
		{
			name:   "unstructured body",
			status: http.StatusInternalServerError,
			body:   "oops",
			check: func(t *testing.T, err error) {
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, "oops", re.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).Complete(context.Background(), userRequest("hi"))
			require.Error(t, err)
			tt.check(t, err)

			// Streaming requests map the same statuses before any fragment.
			_, err = testClient(srv.URL).Stream(context.Background(), userRequest("hi"))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestComplete_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Complete(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestComplete_DeadlineIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient(srv.URL).Complete(ctx, userRequest("hi"))
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestComplete_NoLocalRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStream_ConcatenationMatchesComplete(t *testing.T) {
	fragments := []string{"The ", "quick ", "brown ", "fox", "."}
	srv := fragmentServer(t, fragments)
	client := testClient(srv.URL)

	stream, err := client.Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)

	var got []string
	text, err := Collect(stream, func(f string) { got = append(got, f) })
	require.NoError(t, err)
	assert.Equal(t, fragments, got)

	full, err := client.Complete(context.Background(), userRequest("go"))
	require.NoError(t, err)
	assert.Equal(t, full.Content, text)
}

func TestStream_FragmentsAreNonEmpty(t *testing.T) {
	srv := fragmentServer(t, []string{"a", "b"})

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)
	defer stream.Close()

	count := 0
	for stream.Next() {
		assert.NotEmpty(t, stream.Fragment())
		count++
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, 2, count)

	// Exhausted streams stay exhausted.
	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err())
}

func TestStream_SendsStreamingHeaders(t *testing.T) {
	var accept string
	var streamFlag any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		streamFlag = payload["stream"]
		io.WriteString(w, sseChunk("x", "stop"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)
	_, err = Collect(stream, nil)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", accept)
	assert.Equal(t, true, streamFlag)
}

func TestStream_TruncatedAfterFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("hel", ""))
		io.WriteString(w, sseChunk("lo", ""))
		// Connection closes without finish_reason or [DONE].
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)

	text, err := Collect(stream, nil)
	require.Error(t, err)
	assert.Equal(t, "hello", text)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	partial, n, ok := PartialText(err)
	require.True(t, ok)
	assert.Equal(t, "hello", partial)
	assert.Equal(t, 2, n)
}

func TestStream_FinishReasonWithoutDoneIsClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("done", "stop"))
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)
	text, err := Collect(stream, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestStream_MidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("partial ", ""))
		io.WriteString(w, `data: {"id":"gen-1","error":{"code":"server_error","message":"Provider disconnected"},"choices":[{"index":0,"delta":{"content":""},"finish_reason":"error"}]}`+"\n\n")
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)

	text, err := Collect(stream, nil)
	assert.Equal(t, "partial ", text)

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Fragments)
	assert.Equal(t, "partial ", se.Partial)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "server_error", re.Code)
	assert.Equal(t, "Provider disconnected", re.Message)
}

func TestStream_ErrorBeforeAnyFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ": keepalive\n\n")
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)

	_, err = Collect(stream, nil)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, se.Fragments)
	assert.Empty(t, se.Partial)
}

func TestStream_Cancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseChunk("first", ""))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := testClient(srv.URL).Stream(ctx, userRequest("go"))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	assert.Equal(t, "first", stream.Fragment())

	cancel()
	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	assert.NotErrorIs(t, stream.Err(), ErrNetwork)

	partial, n, ok := PartialText(stream.Err())
	require.True(t, ok)
	assert.Equal(t, "first", partial)
	assert.Equal(t, 1, n)
}

// stallingServer streams one fragment and then goes quiet until the
// client gives up.
func stallingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("first", ""))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

// assertDeadlineMidStream checks a stream whose deadline passes after the
// first fragment: the error is a network error carrying that fragment.
func assertDeadlineMidStream(t *testing.T, ctx context.Context, stream FragmentStream) {
	t.Helper()
	defer stream.Close()

	require.True(t, stream.Next())
	assert.Equal(t, "first", stream.Fragment())

	<-ctx.Done()
	assert.False(t, stream.Next())

	err := stream.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, "network", Kind(err))

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Fragments)
	assert.Equal(t, "first", se.Partial)
}

func TestStream_DeadlineMidStreamIsNetworkError(t *testing.T) {
	srv := stallingServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	stream, err := testClient(srv.URL).Stream(ctx, userRequest("go"))
	require.NoError(t, err)
	assertDeadlineMidStream(t, ctx, stream)
}

func TestStream_SkipsMalformedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {not json\n\n")
		io.WriteString(w, sseChunk("ok", "stop"))
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)
	text, err := Collect(stream, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader(t *testing.T) {
	input := ": comment\r\n" +
		"event: message\r\n" +
		"data: line one\r\n" +
		"data: line two\r\n" +
		"\r\n" +
		"id: 5\n" +
		"data:tight\n" +
		"\n" +
		"data: trailing"

	r := NewSSEReader(strings.NewReader(input))

	typ, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "message", typ)
	assert.Equal(t, "line one\nline two", string(data))

	typ, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Empty(t, typ)
	assert.Equal(t, "tight", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

// =============================================================================
// MODEL LIST TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		io.WriteString(w, `{"data":[
			{"id":"openai/gpt-4.1","name":"OpenAI: GPT-4.1","context_length":1047576,
			 "pricing":{"prompt":"0.000002","completion":"0.000008"}},
			{"id":"meta-llama/llama-3-8b-instruct:free","name":"Llama 3 8B (free)","context_length":8192,
			 "pricing":{"prompt":"0","completion":"0"}},
			{"id":"","name":"broken"}
		]}`)
	}))
	defer srv.Close()

	models, err := testClient(srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "openai/gpt-4.1", models[0].ID)
	assert.Equal(t, 1047576, models[0].ContextSize)

	d := models[0].Descriptor()
	assert.Equal(t, "OpenAI: GPT-4.1", d.Label)
	assert.InDelta(t, 0.000002, d.PromptPrice, 1e-12)
	assert.False(t, d.IsFree())
	assert.True(t, models[1].Descriptor().IsFree())
}

func TestListModels_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"code":500,"message":"boom"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ListModels(context.Background())
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 500, re.Status)
}

func TestKind(t *testing.T) {
	tests := map[string]error{
		"auth":       fmt.Errorf("%w: x", ErrAuthFailed),
		"rate_limit": &RateLimitError{},
		"network":    &StreamError{Err: fmt.Errorf("%w: eof", ErrNetwork)},
		"canceled":   context.Canceled,
		"remote_502": &RemoteError{Status: 502},
		"unknown":    errors.New("x"),
	}
	for want, err := range tests {
		assert.Equal(t, want, Kind(err))
	}
}
