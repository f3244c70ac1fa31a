package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}
}

func newTestServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(context.Background(), "test-token", server.Client(), testRetryConfig())
	client.SetBaseURL(server.URL)
	return client
}

func TestSendMessage(t *testing.T) {
	var gotPath, gotAuth, gotContent string
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotContent = body["content"]
		fmt.Fprint(w, `{"id":"123"}`)
	})

	if err := client.SendMessage("chan1", "server is online"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if gotPath != "/channels/chan1/messages" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotAuth != "Bot test-token" {
		t.Errorf("Expected bot auth header, got %q", gotAuth)
	}
	if gotContent != "server is online" {
		t.Errorf("Expected message content, got %q", gotContent)
	}
}

func TestSendMessageRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	var bodies []string
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id":"123"}`)
	})

	if err := client.SendMessage("chan1", "hello"); err != nil {
		t.Fatalf("SendMessage should succeed after retries: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
	// The body must be re-readable on each retry.
	for i, body := range bodies {
		if body != bodies[0] {
			t.Errorf("Attempt %d got different body %q", i, body)
		}
	}
}

func TestSendMessageRetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"123"}`)
	})

	if err := client.SendMessage("chan1", "hello"); err != nil {
		t.Fatalf("SendMessage should succeed after rate limit: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts.Load())
	}
}

func TestSendMessageGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.SendMessage("chan1", "hello")
	if err == nil {
		t.Fatal("Expected failure after exhausting retries")
	}
	if attempts.Load() != 3 { // initial + 2 retries
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestSendMessageDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	err := client.SendMessage("chan1", "hello")
	if err == nil {
		t.Fatal("Expected error for 403")
	}
	if attempts.Load() != 1 {
		t.Errorf("4xx responses must not be retried, got %d attempts", attempts.Load())
	}
}

func TestMessagesAfterCursor(t *testing.T) {
	var gotQuery string
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[{"id":"102","content":"/status","author":{"id":"u1","bot":false}},
			{"id":"101","content":"/start","author":{"id":"u1","bot":false}}]`)
	})

	messages, err := client.MessagesAfter("chan1", "100")
	if err != nil {
		t.Fatalf("MessagesAfter failed: %v", err)
	}
	if gotQuery != "after=100" {
		t.Errorf("Expected after=100 query, got %q", gotQuery)
	}
	if len(messages) != 2 || messages[0].ID != "102" {
		t.Errorf("Unexpected messages %+v", messages)
	}
}

func TestMessagesAfterEmptyCursorFetchesLatest(t *testing.T) {
	var gotQuery string
	client := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `[]`)
	})

	if _, err := client.MessagesAfter("chan1", ""); err != nil {
		t.Fatalf("MessagesAfter failed: %v", err)
	}
	if gotQuery != "limit=1" {
		t.Errorf("Expected limit=1 query for cursor bootstrap, got %q", gotQuery)
	}
}

func TestRetryCanceledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(ctx, "test-token", server.Client(), RetryConfig{
		MaxRetries: 5,
		Backoff:    time.Hour, // the context cancel must win, not the backoff
		MaxBackoff: time.Hour,
	})
	client.SetBaseURL(server.URL)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.SendMessage("chan1", "hello")
	}()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Expected error after context cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendMessage did not return after context cancel")
	}
}
