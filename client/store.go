package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"

	"github.com/totegamma/cozykost"
)

const snapshotCachePrefix = "snapshot:"

type snapshotEntry struct {
	etag     string
	snapshot cozykost.Snapshot
}

func collectionPath(path string) (cozykost.Path, error) {
	p, err := cozykost.ParsePath(path)
	if err != nil {
		return cozykost.Path{}, fmt.Errorf("%w: %v", cozykost.ErrRejected, err)
	}
	if p.IsProfile() || p.IsItem() {
		return cozykost.Path{}, fmt.Errorf("%w: %s is not a collection", cozykost.ErrRejected, path)
	}
	return p, nil
}

func itemPath(path string) (cozykost.Path, error) {
	p, err := cozykost.ParsePath(path)
	if err != nil {
		return cozykost.Path{}, fmt.Errorf("%w: %v", cozykost.ErrRejected, err)
	}
	if !p.IsItem() {
		return cozykost.Path{}, fmt.Errorf("%w: %s is not an item", cozykost.ErrRejected, path)
	}
	return p, nil
}

func apiPath(p cozykost.Path) string {
	segments := []string{"/api/v1/users", url.PathEscape(p.Owner), string(p.Collection)}
	if p.IsItem() {
		segments = append(segments, url.PathEscape(p.ItemID))
	}
	return strings.Join(segments, "/")
}

// Read fetches the collection at path. Unchanged collections are revalidated with the
// server's ETag and served from memory.
func (c *Client) Read(ctx context.Context, path string) (cozykost.Snapshot, error) {
	p, err := collectionPath(path)
	if err != nil {
		return cozykost.Snapshot{}, err
	}

	cacheKey := snapshotCachePrefix + p.String()
	header := http.Header{}
	var entry snapshotEntry
	x, hasCached := c.cache.Get(cacheKey)
	if hasCached {
		entry = x.(snapshotEntry)
		header.Set("If-None-Match", entry.etag)
	}

	resp, err := c.do(ctx, request{method: http.MethodGet, path: apiPath(p), header: header})
	if err != nil {
		return cozykost.Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasCached {
		return entry.snapshot, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return cozykost.Snapshot{}, statusError(resp)
	}

	var snapshot cozykost.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return cozykost.Snapshot{}, fmt.Errorf("%w: failed to decode snapshot: %v", cozykost.ErrUnavailable, err)
	}

	if tag := resp.Header.Get("ETag"); tag != "" {
		c.cache.Set(cacheKey, snapshotEntry{etag: tag, snapshot: snapshot}, cache.DefaultExpiration)
	}
	return snapshot, nil
}

// Write stores value at an item path and returns the collection as the server holds it afterwards.
func (c *Client) Write(ctx context.Context, path string, value any) (cozykost.Snapshot, error) {
	p, err := itemPath(path)
	if err != nil {
		return cozykost.Snapshot{}, err
	}
	return c.mutate(ctx, p, request{method: http.MethodPut, path: apiPath(p), body: value})
}

// Delete removes the item at path. Deleting an absent item succeeds.
func (c *Client) Delete(ctx context.Context, path string) (cozykost.Snapshot, error) {
	p, err := itemPath(path)
	if err != nil {
		return cozykost.Snapshot{}, err
	}
	return c.mutate(ctx, p, request{method: http.MethodDelete, path: apiPath(p)})
}

func (c *Client) mutate(ctx context.Context, p cozykost.Path, req request) (cozykost.Snapshot, error) {
	var snapshot cozykost.Snapshot
	if err := c.call(ctx, req, &snapshot); err != nil {
		return cozykost.Snapshot{}, err
	}
	c.cache.Delete(snapshotCachePrefix + cozykost.CollectionPath(p.Owner, p.Collection))
	return snapshot, nil
}

func (c *Client) dropSnapshots() {
	for k := range c.cache.Items() {
		if strings.HasPrefix(k, snapshotCachePrefix) {
			c.cache.Delete(k)
		}
	}
}

type socketRequest struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths,omitempty"`
}

func (c *Client) realtimeURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	return u.String(), nil
}

// Observe streams the collection at path over the realtime socket. The server sends the
// current snapshot on every (re)connect. A dropped connection is reported as an error
// event and retried with backoff until ctx ends; the channel is closed after that.
func (c *Client) Observe(ctx context.Context, path string) (<-chan cozykost.Event, error) {
	p, err := collectionPath(path)
	if err != nil {
		return nil, err
	}
	target, err := c.realtimeURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cozykost.ErrRejected, err)
	}

	events := make(chan cozykost.Event, 16)
	go c.observe(ctx, target, p.String(), events)
	return events, nil
}

func (c *Client) observe(ctx context.Context, target, path string, events chan<- cozykost.Event) {
	defer close(events)

	delay := c.reconnectDelay
	for {
		connected, err := c.stream(ctx, target, path, events)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = c.reconnectDelay
		}

		c.logger.DebugContext(ctx, "realtime connection lost",
			slog.String("path", path),
			slog.String("error", err.Error()),
			slog.Duration("retryIn", delay),
			slog.String("module", "client"),
		)

		if !emit(ctx, events, cozykost.Event{Type: cozykost.EventTypeError, Path: path, Error: err.Error()}) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func emit(ctx context.Context, events chan<- cozykost.Event, event cozykost.Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// stream runs one realtime connection. It reports whether the listen request was sent.
func (c *Client) stream(ctx context.Context, target, path string, events chan<- cozykost.Event) (bool, error) {
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	if token := c.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return false, fmt.Errorf("%w: realtime handshake rejected", cozykost.ErrUnauthorized)
			}
		}
		return false, fmt.Errorf("%w: %v", cozykost.ErrUnavailable, err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(socketRequest{Type: "listen", Paths: []string{path}}); err != nil {
		return false, fmt.Errorf("%w: %v", cozykost.ErrUnavailable, err)
	}

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteJSON(socketRequest{Type: "h"}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var event cozykost.Event
		if err := conn.ReadJSON(&event); err != nil {
			return true, fmt.Errorf("%w: %v", cozykost.ErrUnavailable, err)
		}

		switch {
		case event.Path == "" && event.Type == cozykost.EventTypeError:
			// the server is about to close the socket
			return true, fmt.Errorf("%w: %s", cozykost.ErrUnavailable, event.Error)
		case event.Path != "" && event.Path != path:
			continue
		}

		if !emit(ctx, events, event) {
			return true, ctx.Err()
		}
	}
}
