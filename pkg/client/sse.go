package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/pkg/logger"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
	"github.com/mahmoud-eltahawy/webls/pkg/retry"
)

// EventStream follows the server's change events and reconnects with
// backoff when the connection drops.
type EventStream struct {
	baseURL    string
	httpClient *http.Client
	backoff    retry.Config
}

// NewEventStream creates an event stream for the given server.
func NewEventStream(baseURL string) *EventStream {
	return &EventStream{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // No timeout for SSE
		},
		backoff: retry.Config{
			InitialWait: time.Second,
			MaxWait:     30 * time.Second,
			Multiplier:  2,
		},
	}
}

// Events returns an event stream for the client's server.
func (c *Client) Events() *EventStream {
	return NewEventStream(c.baseURL)
}

// Subscribe connects to the events endpoint and returns a channel of
// change events. The channel is closed when ctx is done.
func (s *EventStream) Subscribe(ctx context.Context) <-chan protocol.ChangeEvent {
	out := make(chan protocol.ChangeEvent, 100)
	go s.subscribeLoop(ctx, out)
	return out
}

func (s *EventStream) subscribeLoop(ctx context.Context, out chan<- protocol.ChangeEvent) {
	defer close(out)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := s.connect(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		attempt++
		wait := s.backoff.Backoff(attempt)
		logger.Named("events").Warn("event stream disconnected",
			zap.Error(err),
			zap.Duration("reconnect_in", wait))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect reads one SSE connection until it ends. connected reports
// whether the server accepted the stream.
func (s *EventStream) connect(ctx context.Context, out chan<- protocol.ChangeEvent) (connected bool, err error) {
	url := s.baseURL + "/api/v1/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	logger.Named("events").Info("event stream connected", zap.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var eventType, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				var event protocol.ChangeEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					logger.Named("events").Debug("malformed event", zap.String("data", data), zap.Error(err))
				} else {
					if event.Type == "" {
						event.Type = eventType
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return true, nil
					default:
						logger.Named("events").Debug("event dropped (channel full)", zap.String("type", event.Type))
					}
				}
			}
			eventType, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("connection closed")
}
