package docker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/troppes/strixlog/logstreamer/internal/source"
)

// SourcePrefix tags lines with their container, e.g. "docker:web".
const SourcePrefix = "docker:"

var _ source.LogSource = (*DockerSource)(nil)

// streamer holds the cancel func for one container's log stream goroutine.
// A pointer is stored in the streams map so goroutines can compare identity.
type streamer struct {
	cancel context.CancelFunc
}

// DockerSource follows the logs of every running container on the local
// daemon, attaching to containers as they start.
type DockerSource struct {
	client   *Client
	hostname string
	logger   *slog.Logger
	lines    chan source.Line

	mu       sync.Mutex
	streams  map[string]*streamer // containerID -> streamer
	cancelFn context.CancelFunc
	stopOnce sync.Once
}

// NewDockerSource creates a DockerSource using the default Docker socket.
func NewDockerSource(logger *slog.Logger) *DockerSource {
	return newDockerSource(NewClient(logger), os.Getenv("HOSTNAME"), logger)
}

func newDockerSource(client *Client, hostname string, logger *slog.Logger) *DockerSource {
	return &DockerSource{
		client:   client,
		hostname: hostname,
		logger:   logger,
		lines:    make(chan source.Line, 256),
		streams:  make(map[string]*streamer),
	}
}

// Start begins streaming logs from all running containers and watches for new ones.
// Start must not be called concurrently with Stop.
func (s *DockerSource) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()

	containers, err := s.client.ListContainers(ctx)
	if err != nil {
		cancel()
		return err
	}

	for _, c := range containers {
		if isSelf(c.ID, s.hostname) {
			continue
		}
		s.startStreamer(ctx, c.ID, containerName(c))
	}

	events, err := s.client.WatchEvents(ctx)
	if err != nil {
		cancel()
		return err
	}

	go s.handleEvents(ctx, events)
	return nil
}

// Stop cancels all active streams. Safe to call multiple times. Lines is
// never closed; consumers stop with their own context.
func (s *DockerSource) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		fn := s.cancelFn
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return nil
}

// Lines returns the channel on which container log lines are delivered.
func (s *DockerSource) Lines() <-chan source.Line {
	return s.lines
}

func (s *DockerSource) handleEvents(ctx context.Context, msgs <-chan events.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			switch msg.Action {
			case events.ActionStart:
				id := msg.Actor.ID
				if isSelf(id, s.hostname) {
					break
				}
				s.startStreamer(ctx, id, eventName(msg))
			case events.ActionDie:
				s.stopStreamer(msg.Actor.ID)
			}
		}
	}
}

func (s *DockerSource) startStreamer(ctx context.Context, id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.streams[id]; exists {
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sr := &streamer{cancel: cancel}
	s.streams[id] = sr

	go func() {
		defer func() {
			s.mu.Lock()
			// A container restart may have already registered a new streamer
			// for the same ID.
			if s.streams[id] == sr {
				delete(s.streams, id)
			}
			s.mu.Unlock()
		}()
		s.streamContainer(streamCtx, id, name)
	}()
}

func (s *DockerSource) stopStreamer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sr, exists := s.streams[id]; exists {
		sr.cancel()
		delete(s.streams, id)
	}
}

func (s *DockerSource) streamContainer(ctx context.Context, id, name string) {
	logger := s.logger.With("container", name)

	body, err := s.client.StreamLogs(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("stream logs failed", "error", err)
		}
		return
	}
	defer body.Close()

	logger.Debug("following container logs")

	tag := SourcePrefix + name
	stdout := newLineWriter(ctx, tag, s.lines)
	stderr := newLineWriter(ctx, tag, s.lines)

	_, err = stdcopy.StdCopy(stdout, stderr, body)
	if ctx.Err() != nil {
		return
	}
	if err != nil && !isClosedError(err) {
		logger.Warn("reading container logs", "error", err)
	}
	stdout.Flush() //nolint:errcheck
	stderr.Flush() //nolint:errcheck
}

// isClosedError detects errors that occur when a connection is closed,
// typically during context cancellation or container stop.
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF)
}
