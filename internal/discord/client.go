// Package discord is a minimal Discord REST client plus the watchdog's
// command monitor and event notifier. The watchdog polls the REST API; it
// does not hold a gateway connection.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the Discord REST API root.
	DefaultBaseURL = "https://discord.com/api/v10"

	maxResponseBodyBytes = 64 * 1024
)

// RetryConfig controls retry behavior for REST calls.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry policy used for chat traffic.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// ChannelMessage is the subset of a Discord message the watchdog reads.
type ChannelMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
}

// Client is a retrying Discord REST client authenticated as a bot.
type Client struct {
	ctx        context.Context
	baseURL    string
	httpClient *http.Client
	token      string
	config     RetryConfig
}

// NewClient creates a Client. If httpClient is nil, a default client with a
// 10s request timeout is used.
func NewClient(ctx context.Context, token string, httpClient *http.Client, config RetryConfig) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		ctx:        ctx,
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		token:      token,
		config:     config,
	}
}

// SetBaseURL overrides the API root. Used by tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// SendMessage posts a message to a channel.
func (c *Client) SendMessage(channelID, content string) error {
	body := map[string]string{"content": content}
	resp, err := c.post("/channels/"+url.PathEscape(channelID)+"/messages", body)
	if err != nil {
		return fmt.Errorf("send message to channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		return fmt.Errorf("send message to channel %s: status %d: %s", channelID, resp.StatusCode, raw)
	}
	return nil
}

// MessagesAfter fetches messages in a channel newer than afterID, newest
// first (Discord's native order). An empty afterID fetches the single most
// recent message, used to establish the initial cursor.
func (c *Client) MessagesAfter(channelID, afterID string) ([]ChannelMessage, error) {
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if afterID != "" {
		path += "?after=" + url.QueryEscape(afterID)
	} else {
		path += "?limit=1"
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		return nil, fmt.Errorf("fetch messages for channel %s: status %d: %s", channelID, resp.StatusCode, raw)
	}

	var messages []ChannelMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode messages for channel %s: %w", channelID, err)
	}
	return messages, nil
}

func (c *Client) post(path string, body interface{}) (*http.Response, error) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonBytes)), nil
	}
	return c.do(req)
}

// do executes a request with bot auth and bounded exponential backoff on
// transport errors, 5xx responses and rate limiting.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bot "+c.token)

	var lastErr error
	backoff := c.config.Backoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return nil, c.ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > c.config.MaxBackoff {
					backoff = c.config.MaxBackoff
				}
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					lastErr = err
					continue
				}
				req.Body = body
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			if resp.StatusCode == http.StatusTooManyRequests {
				log.Printf("[Discord] Rate limited, backing off")
			}
			lastErr = &RetryableError{StatusCode: resp.StatusCode}
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// RetryableError marks a response the client retried and gave up on.
type RetryableError struct {
	StatusCode int
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: status %d", e.StatusCode)
}
