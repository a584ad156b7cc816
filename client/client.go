// Package client talks to a cozykost server. A Client is both the remote document store
// and the identity provider a collection.Collection is built on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"

	"github.com/totegamma/cozykost"
)

const (
	defaultTimeout        = 3 * time.Second
	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
	heartbeatInterval     = 10 * time.Second
	breakerThreshold      = 5
)

// Session is the authenticated state persisted between runs.
type Session struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type Client struct {
	client         *http.Client
	transport      http.RoundTripper
	cache          *cache.Cache
	breaker        *gobreaker.CircuitBreaker[any]
	logger         *slog.Logger
	userAgent      string
	baseURL        string
	reconnectDelay time.Duration

	mu           sync.Mutex
	session      Session
	listeners    map[int]func(userID string, ok bool)
	nextListener int
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithReconnectDelay sets the first delay before a dropped realtime connection is retried.
// Later attempts back off up to 30 seconds.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

func WithSession(session Session) Option {
	return func(c *Client) {
		c.session = session
	}
}

// New returns a client for the server at baseURL, e.g. https://kost.example.com.
func New(baseURL string, opts ...Option) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:         &httpClient,
		transport:      http.DefaultTransport,
		cache:          cache.New(10*time.Minute, 15*time.Minute),
		logger:         slog.Default(),
		userAgent:      "cozykost-client/1.0",
		baseURL:        strings.TrimRight(baseURL, "/"),
		reconnectDelay: defaultReconnectDelay,
		listeners:      make(map[int]func(string, bool)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "cozykost-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
				slog.String("module", "client"),
			)
		},
	})

	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return c.transport.RoundTrip(req)
}

// StatusError is a non-2xx answer from the server. It unwraps to one of the
// transport errors of package cozykost.
type StatusError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: status %d", e.kind, e.StatusCode)
	}
	return fmt.Sprintf("%v: status %d: %s", e.kind, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func statusError(resp *http.Response) *StatusError {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil {
		body.Error = strings.TrimSpace(string(raw))
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		kind = cozykost.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		kind = cozykost.ErrNotFound
	case resp.StatusCode >= 500:
		kind = cozykost.ErrUnavailable
	default:
		kind = cozykost.ErrRejected
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: body.Error, kind: kind}
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	header http.Header
}

// do performs req through the circuit breaker. Transport failures and 5xx answers count
// against the breaker; other statuses are returned to the caller unread.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode request: %v", cozykost.ErrRejected, err)
		}
		body = bytes.NewReader(b)
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", cozykost.ErrRejected, err)
	}
	for k, v := range req.header {
		httpReq.Header[k] = v
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return resp, nil
	})
	if err != nil {
		if _, ok := err.(*StatusError); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", cozykost.ErrUnavailable, req.method, req.path, err)
	}
	return result.(*http.Response), nil
}

// call performs req and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, req request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", cozykost.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) WellKnown(ctx context.Context) (cozykost.WellKnownCozykost, error) {
	cacheKey := "server:" + c.baseURL
	if x, found := c.cache.Get(cacheKey); found {
		return x.(cozykost.WellKnownCozykost), nil
	}

	var wkc cozykost.WellKnownCozykost
	if err := c.call(ctx, request{method: http.MethodGet, path: "/.well-known/cozykost"}, &wkc); err != nil {
		return cozykost.WellKnownCozykost{}, err
	}
	c.cache.Set(cacheKey, wkc, cache.DefaultExpiration)
	return wkc, nil
}

type KostQuery struct {
	Location string
	MaxPrice int64
	Limit    int
}

func (q KostQuery) values() url.Values {
	v := url.Values{}
	if q.Location != "" {
		v.Set("location", q.Location)
	}
	if q.MaxPrice > 0 {
		v.Set("maxPrice", strconv.FormatInt(q.MaxPrice, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Kosts lists catalog listings. Results are cached for ten minutes.
func (c *Client) Kosts(ctx context.Context, query KostQuery) ([]cozykost.Kost, error) {
	values := query.values()
	cacheKey := "kosts:" + values.Encode()
	if x, found := c.cache.Get(cacheKey); found {
		return x.([]cozykost.Kost), nil
	}

	var kosts []cozykost.Kost
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/kosts", query: values}, &kosts)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, kosts, cache.DefaultExpiration)
	for _, kost := range kosts {
		c.cache.Set("kost:"+kost.ID, kost, cache.DefaultExpiration)
	}
	return kosts, nil
}

func (c *Client) Kost(ctx context.Context, id string) (cozykost.Kost, error) {
	cacheKey := "kost:" + id
	if x, found := c.cache.Get(cacheKey); found {
		return x.(cozykost.Kost), nil
	}

	var kost cozykost.Kost
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/kosts/" + url.PathEscape(id)}, &kost)
	if err != nil {
		return cozykost.Kost{}, err
	}
	c.cache.Set(cacheKey, kost, cache.DefaultExpiration)
	return kost, nil
}

// MarkViewed records the listing in the signed in user's saved collection.
func (c *Client) MarkViewed(ctx context.Context, id string) (cozykost.Snapshot, error) {
	if _, ok := c.CurrentUserID(); !ok {
		return cozykost.Snapshot{}, cozykost.ErrUnauthorized
	}

	var snapshot cozykost.Snapshot
	err := c.call(ctx, request{method: http.MethodPost, path: "/api/v1/kosts/" + url.PathEscape(id) + "/view"}, &snapshot)
	if err != nil {
		return cozykost.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) Profile(ctx context.Context) (cozykost.Profile, error) {
	uid, ok := c.CurrentUserID()
	if !ok {
		return cozykost.Profile{}, cozykost.ErrUnauthorized
	}

	var profile cozykost.Profile
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/" + cozykost.ProfilePath(uid) + "/profile"}, &profile)
	return profile, err
}

func (c *Client) UpdateProfile(ctx context.Context, patch cozykost.ProfilePatch) (cozykost.Profile, error) {
	uid, ok := c.CurrentUserID()
	if !ok {
		return cozykost.Profile{}, cozykost.ErrUnauthorized
	}

	var profile cozykost.Profile
	err := c.call(ctx, request{method: http.MethodPatch, path: "/api/v1/" + cozykost.ProfilePath(uid) + "/profile", body: patch}, &profile)
	return profile, err
}
