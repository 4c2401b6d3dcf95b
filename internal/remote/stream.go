// internal/remote/stream.go
package remote

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultStreamTimeout bounds the whole streaming read loop. There is
// no external cancellation: the deadline is the only way out of a stuck
// stream, and whatever arrived before it fires is kept.
const DefaultStreamTimeout = 120 * time.Second

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// stream runs one streaming exchange, decoding newline-delimited event
// frames until a finish marker, the done sentinel, end of stream, or
// the read deadline. On deadline it returns StreamTimeoutError carrying
// the partial text.
func (c *Client) stream(messages []Message) (string, []json.RawMessage, error) {
	resp, err := c.post(messages, true)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", nil, &HTTPError{Code: resp.StatusCode, Body: string(raw)}
	}

	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			// The reader may have already returned; don't strand the
			// goroutine on an unwanted send.
			select {
			case lines <- scanner.Text():
			case <-quit:
				return
			}
		}
	}()

	deadline := time.NewTimer(c.streamTimeout)
	defer deadline.Stop()

	var text strings.Builder
	var frames []json.RawMessage
	var pending string

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// Stream ended without an explicit stop marker; keep
				// what we have.
				return text.String(), frames, nil
			}
			if line == "" {
				continue
			}
			// A "data: " prefix starts a new frame; anything else
			// continues the previous, partially delivered one.
			if rest, found := strings.CutPrefix(line, "data: "); found {
				pending = rest
			} else {
				pending += line
			}

			var frame streamFrame
			if err := json.Unmarshal([]byte(pending), &frame); err != nil {
				if pending == "[DONE]" {
					return text.String(), frames, nil
				}
				continue
			}
			frames = append(frames, json.RawMessage(pending))
			if len(frame.Choices) == 0 {
				continue
			}
			choice := frame.Choices[0]
			if choice.Delta.Content != nil {
				text.WriteString(*choice.Delta.Content)
			}
			if choice.FinishReason != nil {
				if *choice.FinishReason != "stop" {
					c.log.Warn("stream finished with unexpected reason",
						"session_id", string(c.sess.ID), "reason", *choice.FinishReason)
				}
				return text.String(), frames, nil
			}

		case <-deadline.C:
			// Unblock the scanner goroutine before salvaging.
			resp.Body.Close()
			return "", frames, &StreamTimeoutError{Partial: text.String()}
		}
	}
}
