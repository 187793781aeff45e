// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE line (1MB).
const MaxChunkSize = 1024 * 1024

var doneMarker = []byte("[DONE]")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the OpenRouter streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	apiErrorResponse
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// GetFinishReason returns the finish reason if streaming is complete.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return ""
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxChunkSize)
	return &SSEReader{scanner: scanner}
}

// ReadEvent reads the next SSE event from the stream and returns its
// type and data. Multi-line data fields are joined with "\n". Comment
// lines (":" prefix, used by OpenRouter as keepalives) and id/retry
// fields are ignored. Returns io.EOF when the stream ends between events.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			continue
		}

		switch {
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			data = bytes.TrimPrefix(data, []byte(" "))
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	// A final event without its trailing blank line still counts.
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream performs a streaming chat completion request.
func (c *OpenRouterClient) Stream(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req.Stream = true
	httpReq, err := c.newChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, err := readResponse(resp)
		if err != nil {
			return nil, transportError(ctx, err)
		}
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, body)
	}

	c.logger.Debug("stream opened", slog.String("model", req.Model))
	return newSSEStream(ctx, resp.Body, c.logger), nil
}

// sseStream adapts an SSE body to FragmentStream.
type sseStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *SSEReader
	logger *slog.Logger

	current   string
	partial   strings.Builder
	fragments int
	finished  bool // a finish_reason was seen
	done      bool
	err       error

	closeOnce sync.Once
}

func newSSEStream(ctx context.Context, body io.ReadCloser, logger *slog.Logger) *sseStream {
	return &sseStream{
		ctx:    ctx,
		body:   body,
		reader: NewSSEReader(body),
		logger: logger,
	}
}

// Next advances to the next non-empty fragment.
func (s *sseStream) Next() bool {
	if s.done {
		return false
	}
	s.current = ""

	for {
		if err := s.ctx.Err(); err != nil {
			return s.fail(transportError(s.ctx, err))
		}

		_, data, err := s.reader.ReadEvent()
		if errors.Is(err, io.EOF) {
			if s.finished {
				return s.end()
			}
			return s.fail(transportError(s.ctx, io.ErrUnexpectedEOF))
		}
		if err != nil {
			return s.fail(transportError(s.ctx, err))
		}

		if bytes.Equal(bytes.TrimSpace(data), doneMarker) {
			return s.end()
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.logger.Debug("skipping malformed stream chunk", slog.String("error", err.Error()))
			continue
		}
		if chunk.Error != nil {
			return s.fail(&RemoteError{Code: chunk.code(), Message: chunk.Error.Message})
		}

		switch reason := chunk.GetFinishReason(); reason {
		case "":
		case "error":
			return s.fail(&RemoteError{Message: "stream terminated with finish_reason=error"})
		default:
			s.finished = true
		}

		if content := chunk.GetContent(); content != "" {
			s.current = content
			s.partial.WriteString(content)
			s.fragments++
			return true
		}
	}
}

// Fragment returns the fragment produced by the last successful Next.
func (s *sseStream) Fragment() string {
	return s.current
}

// Err returns nil after a clean end, or the *StreamError that ended it.
func (s *sseStream) Err() error {
	return s.err
}

// Close releases the response body. It is safe to call more than once.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.body.Close()
	})
	return err
}

func (s *sseStream) end() bool {
	s.done = true
	s.current = ""
	s.Close()
	return false
}

func (s *sseStream) fail(err error) bool {
	s.err = &StreamError{
		Fragments: s.fragments,
		Partial:   s.partial.String(),
		Err:       err,
	}
	s.logger.Debug("stream failed", slog.Int("fragments", s.fragments), slog.String("error", err.Error()))
	return s.end()
}

// =============================================================================
// HELPERS
// =============================================================================

// Collect drains a stream, calling onFragment for each fragment, and
// returns the concatenated text. On failure the returned text is the
// partial reply and the error is the stream's *StreamError.
func Collect(stream FragmentStream, onFragment func(string)) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		frag := stream.Fragment()
		sb.WriteString(frag)
		if onFragment != nil {
			onFragment(frag)
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}

// PartialText extracts the text a failed stream delivered, if any.
func PartialText(err error) (string, int, bool) {
	var se *StreamError
	if !errors.As(err, &se) {
		return "", 0, false
	}
	return se.Partial, se.Fragments, true
}

// Kind classifies err into one of: auth, rate_limit, network, canceled,
// remote_<status> or unknown. Used in log attributes.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return fmt.Sprintf("remote_%d", re.Status)
	}
	return "unknown"
}
