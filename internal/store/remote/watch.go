package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventBufferSize = 100

// Watch opens the websocket change feed for ns. Watch returns once the
// server confirms its watch is registered. When the feed drops it is redialed
// with backoff, and a change with no keys is emitted after each reconnect
// because events may have been missed in between.
func (c *Client) Watch(ctx context.Context, ns string) (<-chan docstore.Change, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, ns)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "client closed")
		return nil, docstore.ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	out := make(chan docstore.Change, eventBufferSize)

	go func() {
		defer c.wg.Done()
		defer close(out)

		// Merge caller and client lifetimes into one context.
		feedCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		for attempt := 0; ; {
			c.pump(feedCtx, conn, ns, out)
			_ = conn.Close(websocket.StatusNormalClosure, "")
			if feedCtx.Err() != nil {
				return
			}

			for {
				attempt++
				if waitWithContext(feedCtx, c.retryDelay(attempt, "")) != nil {
					return
				}
				next, err := c.dial(feedCtx, ns)
				if err == nil {
					conn = next
					attempt = 0
					break
				}
			}

			select {
			case out <- docstore.Change{Namespace: ns, At: time.Now()}:
			default:
			}
		}
	}()

	return out, nil
}

func (c *Client) pump(ctx context.Context, conn *websocket.Conn, ns string, out chan<- docstore.Change) {
	for {
		var frame docstore.FeedFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if frame.Change == nil {
			continue
		}
		change := *frame.Change
		change.Namespace = ns
		select {
		case out <- change:
		default:
			// Channel full, drop event to prevent blocking
		}
	}
}

func (c *Client) dial(ctx context.Context, ns string) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	// The dial context bounds the handshake; the client timeout would
	// otherwise cut the long-lived feed.
	httpClient := *c.httpClient
	httpClient.Timeout = 0

	conn, resp, err := websocket.Dial(ctx, websocketURL(c.baseURL)+namespacePath(ns)+"/changes", &websocket.DialOptions{
		HTTPClient: &httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: watch %s", docstore.ErrAccessDenied, ns)
		}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	var hello docstore.FeedFrame
	if err := wsjson.Read(ctx, conn, &hello); err != nil || !hello.Ready {
		_ = conn.Close(websocket.StatusProtocolError, "expected ready frame")
		if err == nil {
			err = errors.New("missing ready frame")
		}
		return nil, fmt.Errorf("open change feed: %w", err)
	}
	return conn, nil
}

func websocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}

// IsHTTPStatus reports whether err is an HTTPError with the given status.
func IsHTTPStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}
