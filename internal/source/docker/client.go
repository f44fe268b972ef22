package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
)

const (
	apiVersion = "v1.45"
	socketPath = "/var/run/docker.sock"
)

// Client is a minimal Docker Engine API client over the Unix socket.
type Client struct {
	http   *http.Client
	base   string
	logger *slog.Logger
}

// NewClient creates a Client that talks to the Docker daemon via the Unix socket.
func NewClient(logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		base:   "http://localhost/" + apiVersion,
		logger: logger,
	}
}

// newClientWithBase creates a Client with a custom base URL (for testing).
func newClientWithBase(base string, transport http.RoundTripper, logger *slog.Logger) *Client {
	return &Client{
		http:   &http.Client{Transport: transport},
		base:   base,
		logger: logger,
	}
}

// ListContainers returns all currently running containers.
func (c *Client) ListContainers(ctx context.Context) ([]container.Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/containers/json", nil)
	if err != nil {
		return nil, fmt.Errorf("building list containers request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list containers: unexpected status %d", resp.StatusCode)
	}

	var containers []container.Summary
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return nil, fmt.Errorf("decoding containers: %w", err)
	}
	return containers, nil
}

// StreamLogs opens a follow-mode log stream for the container with the given
// ID, starting at the current end of its log. The caller closes the returned
// body. The stream uses Docker's multiplexed frame format.
func (c *Client) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	params := url.Values{
		"follow": {"true"},
		"stdout": {"true"},
		"stderr": {"true"},
		"tail":   {"0"},
	}
	logsURL := fmt.Sprintf("%s/containers/%s/logs?%s", c.base, url.PathEscape(containerID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building stream logs request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream logs: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream logs: unexpected status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// WatchEvents subscribes to container start and die events. The returned
// channel is closed when ctx is cancelled or the stream ends.
func (c *Client) WatchEvents(ctx context.Context) (<-chan events.Message, error) {
	args := filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("event", string(events.ActionStart)),
		filters.Arg("event", string(events.ActionDie)),
	)
	encoded, err := filters.ToJSON(args)
	if err != nil {
		return nil, fmt.Errorf("encoding event filters: %w", err)
	}
	eventsURL := c.base + "/events?" + url.Values{"filters": {encoded}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eventsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building events request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("watch events: unexpected status %d", resp.StatusCode)
	}

	ch := make(chan events.Message)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var msg events.Message
			if err := dec.Decode(&msg); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					c.logger.Warn("events stream ended", "error", err)
				}
				return
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
