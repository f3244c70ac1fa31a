// Package dockerapi is a minimal Docker Engine API client covering the three
// container operations the watchdog needs: start, stop and inspect.
package dockerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/wvh-ops/watchdogd/internal/lifecycle"
	"github.com/wvh-ops/watchdogd/internal/otelx"
)

const (
	// DefaultSocketPath is the Docker control socket on Linux hosts.
	DefaultSocketPath = "/var/run/docker.sock"

	// apiVersion pins the Engine API version the client speaks.
	apiVersion = "v1.43"

	// DefaultOperationTimeout bounds start and stop calls.
	DefaultOperationTimeout = 30 * time.Second

	// DefaultInspectTimeout bounds inspect calls.
	DefaultInspectTimeout = 5 * time.Second

	maxResponseBodyBytes = 16 * 1024
)

// ClientConfig holds tunables for the runtime client.
type ClientConfig struct {
	SocketPath       string
	OperationTimeout time.Duration
	InspectTimeout   time.Duration
}

// Client talks to the container runtime over its local control socket.
// All operations enforce bounded timeouts and return typed RuntimeErrors.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	operationTimeout time.Duration
	inspectTimeout   time.Duration
}

// NewClient creates a Client against the runtime's unix control socket.
func NewClient(cfg ClientConfig) *Client {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return newClient("http://docker", httpClient, cfg)
}

// NewClientWithHTTP creates a Client against an arbitrary base URL with the
// given HTTP client. Used by tests and TCP-exposed runtimes.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, cfg ClientConfig) *Client {
	return newClient(baseURL, httpClient, cfg)
}

func newClient(baseURL string, httpClient *http.Client, cfg ClientConfig) *Client {
	operationTimeout := cfg.OperationTimeout
	if operationTimeout <= 0 {
		operationTimeout = DefaultOperationTimeout
	}
	inspectTimeout := cfg.InspectTimeout
	if inspectTimeout <= 0 {
		inspectTimeout = DefaultInspectTimeout
	}
	return &Client{
		baseURL:          baseURL,
		httpClient:       httpClient,
		operationTimeout: operationTimeout,
		inspectTimeout:   inspectTimeout,
	}
}

// Start issues a container start request. It returns once the runtime
// acknowledges the request; whether the workload actually comes online is
// observed separately by polling.
func (c *Client) Start(ctx context.Context, workloadID string) error {
	return c.lifecycleOp(ctx, "start", workloadID)
}

// Stop issues a container stop request with the same acknowledgement
// semantics as Start.
func (c *Client) Stop(ctx context.Context, workloadID string) error {
	return c.lifecycleOp(ctx, "stop", workloadID)
}

func (c *Client) lifecycleOp(ctx context.Context, operation, workloadID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.operationTimeout)
	defer cancel()

	ctx, span := otelx.GetGlobalTracer().StartRuntimeSpan(ctx, operation, workloadID)
	defer span.End()

	path := fmt.Sprintf("/%s/containers/%s/%s", apiVersion, url.PathEscape(workloadID), operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return NewInternalError(operation, workloadID, 0, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		rtErr := classifyTransportError(operation, workloadID, err)
		otelx.RecordError(span, rtErr, kindLabel(rtErr.Kind), rtErr.Kind != ErrKindNotFound)
		return rtErr
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotModified:
		// Container already in the requested state; treat as acknowledged.
		return nil
	case http.StatusNotFound:
		rtErr := NewNotFoundError(operation, workloadID)
		otelx.RecordError(span, rtErr, kindLabel(rtErr.Kind), false)
		return rtErr
	default:
		body := readBody(resp.Body)
		rtErr := NewInternalError(operation, workloadID, resp.StatusCode, body)
		otelx.RecordError(span, rtErr, kindLabel(rtErr.Kind), true)
		return rtErr
	}
}

// containerInspect is the subset of the Engine inspect response we read.
type containerInspect struct {
	State struct {
		Status string `json:"Status"`
	} `json:"State"`
}

// Inspect queries the runtime for the container's current status and maps it
// to a workload RunState.
func (c *Client) Inspect(ctx context.Context, workloadID string) (lifecycle.RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.inspectTimeout)
	defer cancel()

	ctx, span := otelx.GetGlobalTracer().StartRuntimeSpan(ctx, "inspect", workloadID)
	defer span.End()

	path := fmt.Sprintf("/%s/containers/%s/json", apiVersion, url.PathEscape(workloadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", NewInternalError("inspect", workloadID, 0, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		rtErr := classifyTransportError("inspect", workloadID, err)
		otelx.RecordError(span, rtErr, kindLabel(rtErr.Kind), true)
		return "", rtErr
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		rtErr := NewNotFoundError("inspect", workloadID)
		otelx.RecordError(span, rtErr, kindLabel(rtErr.Kind), false)
		return "", rtErr
	default:
		body := readBody(resp.Body)
		return "", NewInternalError("inspect", workloadID, resp.StatusCode, body)
	}

	var parsed containerInspect
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(&parsed); err != nil {
		return "", NewInternalError("inspect", workloadID, resp.StatusCode, "malformed inspect response: "+err.Error())
	}

	return MapContainerStatus(parsed.State.Status), nil
}

// MapContainerStatus maps a raw Engine container status to a RunState.
// Unknown statuses map to offline; the poller logs them.
func MapContainerStatus(status string) lifecycle.RunState {
	switch status {
	case "running":
		return lifecycle.RunStateOnline
	case "restarting":
		return lifecycle.RunStateStarting
	case "removing":
		return lifecycle.RunStateStopping
	case "created", "exited", "paused", "dead":
		return lifecycle.RunStateOffline
	default:
		return lifecycle.RunStateOffline
	}
}

// classifyTransportError distinguishes deadline expiry from an unreachable
// runtime socket.
func classifyTransportError(operation, workloadID string, err error) *RuntimeError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(operation, workloadID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(operation, workloadID, err)
	}
	return NewUnavailableError(operation, workloadID, err)
}

func kindLabel(kind ErrorKind) string {
	switch kind {
	case ErrKindTimeout:
		return "timeout"
	case ErrKindUnavailable:
		return "unavailable"
	case ErrKindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func readBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBodyBytes))
	if err != nil {
		return ""
	}
	return string(body)
}
