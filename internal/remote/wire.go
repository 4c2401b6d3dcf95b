// internal/remote/wire.go
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Message is one entry of the outbound context window, in the wire
// format the completion API expects.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Usage is the token accounting the API reports for one exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrBusy signals that another exchange for the session is in flight
// and the gate could not be acquired within the model's timeout.
var ErrBusy = errors.New("remote: client busy")

// HTTPError is a non-200 response from the completion API.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote: http status %d: %s", e.Code, e.Body)
}

// ResponseInvalidError is a 200 response whose body does not carry the
// expected reply field.
type ResponseInvalidError struct {
	Body string
}

func (e *ResponseInvalidError) Error() string {
	return "remote: unparseable response body: " + e.Body
}

// StreamTimeoutError is raised when the streaming read loop exceeds its
// budget. Partial holds everything accumulated before the deadline and
// is salvaged, not discarded.
type StreamTimeoutError struct {
	Partial string
}

func (e *StreamTimeoutError) Error() string {
	return "remote: stream read deadline exceeded"
}

// endpointURL resolves the model's endpoint against its base URL.
func endpointURL(base, endpoint string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return u.ResolveReference(ref).String(), nil
}

// post issues the completion request. The caller closes the response
// body. A timeout <= 0 waits forever.
func (c *Client) post(messages []Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model.ModelType,
		Messages: messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if !stream && c.model.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.model.Timeout)*time.Second)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.model.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send request: %w", err)
	}
	// Tie the context's lifetime to the body.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

// complete runs one non-streaming exchange and extracts the assistant
// text plus usage counters.
func (c *Client) complete(messages []Message) (string, *chatResponse, error) {
	resp, err := c.post(messages, false)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, &HTTPError{Code: resp.StatusCode, Body: string(raw)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", nil, &ResponseInvalidError{Body: string(raw)}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return "", nil, &ResponseInvalidError{Body: string(raw)}
	}
	return *parsed.Choices[0].Message.Content, &parsed, nil
}
