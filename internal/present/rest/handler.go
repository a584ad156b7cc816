package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/zeebo/xxh3"

	"github.com/totegamma/cozykost"
	"github.com/totegamma/cozykost/internal/domain"
	"github.com/totegamma/cozykost/internal/present/rest/middleware"
	"github.com/totegamma/cozykost/internal/present/rest/presenter"
	"github.com/totegamma/cozykost/internal/service"
	"github.com/totegamma/cozykost/internal/usecase"
)

// Signal opens realtime event streams.
type Signal interface {
	Listen(ctx context.Context, paths []string) (service.EventStream, error)
}

type Handler struct {
	config   domain.Config
	document *usecase.DocumentUsecase
	auth     *usecase.AuthUsecase
	profile  *usecase.ProfileUsecase
	kost     *usecase.KostUsecase
	signal   Signal
}

func NewHandler(
	config domain.Config,
	document *usecase.DocumentUsecase,
	auth *usecase.AuthUsecase,
	profile *usecase.ProfileUsecase,
	kost *usecase.KostUsecase,
	signal Signal,
) *Handler {
	return &Handler{
		config:   config,
		document: document,
		auth:     auth,
		profile:  profile,
		kost:     kost,
		signal:   signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/cozykost", h.handleWellKnown)
	e.GET("/realtime", h.handleRealtime, middleware.RequireIdentity)

	api := e.Group("/api/v1")
	api.POST("/signup", h.handleSignup)
	api.POST("/login", h.handleLogin)
	api.GET("/kosts", h.handleKosts)
	api.GET("/kosts/:id", h.handleKost)
	api.POST("/kosts", h.handleUpsertKost, middleware.RequireIdentity)
	api.POST("/kosts/:id/view", h.handleMarkViewed, middleware.RequireIdentity)
	api.GET("/users/:owner/profile", h.handleGetProfile)
	api.PATCH("/users/:owner/profile", h.handleUpdateProfile)
	api.GET("/users/:owner/:collection", h.handleGetCollection)
	api.PUT("/users/:owner/:collection/:id", h.handlePutItem)
	api.DELETE("/users/:owner/:collection/:id", h.handleDeleteItem)
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := cozykost.WellKnownCozykost{
		Version:  "1.0",
		Domain:   h.config.FQDN,
		SignerID: h.config.SignerID,
		Endpoints: map[string]string{
			"cozykost.signup":     "/api/v1/signup",
			"cozykost.login":      "/api/v1/login",
			"cozykost.collection": "/api/v1/users/{owner}/{collection}",
			"cozykost.item":       "/api/v1/users/{owner}/{collection}/{id}",
			"cozykost.profile":    "/api/v1/users/{owner}/profile",
			"cozykost.kosts":      "/api/v1/kosts",
			"cozykost.kost":       "/api/v1/kosts/{id}",
			"cozykost.view":       "/api/v1/kosts/{id}/view",
			"cozykost.realtime":   "/realtime",
		},
	}
	return presenter.OK(c, wellknown)
}

func (h *Handler) handleSignup(c echo.Context) error {
	ctx := c.Request().Context()

	var req cozykost.SignupRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	profile, err := h.auth.Signup(ctx, req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, profile)
}

func (h *Handler) handleLogin(c echo.Context) error {
	ctx := c.Request().Context()

	var req cozykost.LoginRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	res, err := h.auth.Login(ctx, req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, res)
}

func collectionRef(c echo.Context) domain.CollectionRef {
	return domain.CollectionRef{
		Owner: c.Param("owner"),
		Name:  cozykost.CollectionName(c.Param("collection")),
	}
}

func etag(snapshot cozykost.Snapshot) string {
	return fmt.Sprintf(`"%d-%x"`, snapshot.Revision, xxh3.Hash(snapshot.Value))
}

func (h *Handler) handleGetCollection(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.document.Get(ctx, middleware.Requester(ctx), collectionRef(c))
	if err != nil {
		return presenter.Error(c, err)
	}

	tag := etag(snapshot)
	c.Response().Header().Set("ETag", tag)
	if c.Request().Header.Get("If-None-Match") == tag {
		return c.NoContent(http.StatusNotModified)
	}
	return presenter.OK(c, snapshot)
}

func (h *Handler) handlePutItem(c echo.Context) error {
	ctx := c.Request().Context()

	var item cozykost.Item
	if err := c.Bind(&item); err != nil {
		return presenter.BadRequest(c, err)
	}

	id := c.Param("id")
	if item.ID == "" {
		item.ID = id
	}
	if item.ID != id {
		return presenter.BadRequestMessage(c, "item id does not match path")
	}

	snapshot, err := h.document.Put(ctx, middleware.Requester(ctx), collectionRef(c), item)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snapshot)
}

func (h *Handler) handleDeleteItem(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.document.Delete(ctx, middleware.Requester(ctx), collectionRef(c), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snapshot)
}

func (h *Handler) handleGetProfile(c echo.Context) error {
	ctx := c.Request().Context()

	profile, err := h.profile.Get(ctx, middleware.Requester(ctx), c.Param("owner"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, profile)
}

func (h *Handler) handleUpdateProfile(c echo.Context) error {
	ctx := c.Request().Context()

	var patch cozykost.ProfilePatch
	if err := c.Bind(&patch); err != nil {
		return presenter.BadRequest(c, err)
	}

	profile, err := h.profile.Update(ctx, middleware.Requester(ctx), c.Param("owner"), patch)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, profile)
}

func (h *Handler) handleKosts(c echo.Context) error {
	ctx := c.Request().Context()

	query := domain.KostQuery{
		Location: c.QueryParam("location"),
	}

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		query.Limit = limit
	}

	if priceStr := c.QueryParam("maxPrice"); priceStr != "" {
		price, err := strconv.ParseInt(priceStr, 10, 64)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid maxPrice parameter")
		}
		query.MaxPrice = price
	}

	kosts, err := h.kost.List(ctx, query)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, kosts)
}

func (h *Handler) handleKost(c echo.Context) error {
	ctx := c.Request().Context()

	kost, err := h.kost.Get(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, kost)
}

func (h *Handler) handleUpsertKost(c echo.Context) error {
	ctx := c.Request().Context()

	var kost cozykost.Kost
	if err := c.Bind(&kost); err != nil {
		return presenter.BadRequest(c, err)
	}

	kost, err := h.kost.Upsert(ctx, middleware.Requester(ctx), kost)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, kost)
}

func (h *Handler) handleMarkViewed(c echo.Context) error {
	ctx := c.Request().Context()

	snapshot, err := h.kost.MarkViewed(ctx, middleware.Requester(ctx), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snapshot)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Request struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths"`
}

func errorEvent(path string, err error) cozykost.Event {
	return cozykost.Event{Type: cozykost.EventTypeError, Path: path, Error: err.Error()}
}

// listen replaces the socket's subscription with paths and returns the initial frames.
// Events published after the subscription becomes active reach the returned stream,
// so a change racing with the initial read is delivered again with its own revision.
func (h *Handler) listen(ctx context.Context, requester string, paths []string) (service.EventStream, []cozykost.Event) {
	var frames []cozykost.Event
	var refs []domain.CollectionRef

	for _, path := range paths {
		p, err := cozykost.ParsePath(path)
		if err != nil || p.IsProfile() || p.IsItem() {
			frames = append(frames, errorEvent(path, fmt.Errorf("unsupported path")))
			continue
		}
		if p.Owner != requester {
			frames = append(frames, errorEvent(path, domain.ErrForbidden))
			continue
		}
		refs = append(refs, domain.CollectionRef{Owner: p.Owner, Name: p.Collection})
	}

	if len(refs) == 0 {
		return nil, frames
	}

	channels := make([]string, 0, len(refs))
	for _, ref := range refs {
		channels = append(channels, ref.Path())
	}

	stream, err := h.signal.Listen(ctx, channels)
	if err != nil {
		for _, ref := range refs {
			frames = append(frames, errorEvent(ref.Path(), err))
		}
		return nil, frames
	}

	for _, ref := range refs {
		snapshot, err := h.document.Get(ctx, requester, ref)
		if err != nil {
			frames = append(frames, errorEvent(ref.Path(), err))
			continue
		}
		frames = append(frames, cozykost.Event{Type: cozykost.EventTypeSnapshot, Path: ref.Path(), Snapshot: &snapshot})
	}

	return stream, frames
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	requester := middleware.Requester(ctx)

	requests := make(chan []string)
	quit := make(chan struct{})

	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {

				var wsErr *websocket.CloseError
				if errors.As(err, &wsErr) {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.DebugContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}

			switch req.Type {
			case "listen":
				select {
				case requests <- req.Paths:
				case <-ctx.Done():
					return
				}
				slog.DebugContext(
					ctx, fmt.Sprintf("Socket subscribe: %s", req.Paths),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	var stream service.EventStream
	var events <-chan cozykost.Event
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()

	write := func(event cozykost.Event) bool {
		if err := ws.WriteJSON(event); err != nil {
			slog.ErrorContext(
				ctx, "Error writing message",
				slog.String("error", err.Error()),
				slog.String("module", "socket"),
			)
			return false
		}
		return true
	}

	for {
		select {
		case <-quit:
			return nil
		case paths := <-requests:
			if stream != nil {
				stream.Close()
				stream, events = nil, nil
			}
			var frames []cozykost.Event
			stream, frames = h.listen(ctx, requester, paths)
			if stream != nil {
				events = stream.Events()
			}
			for _, frame := range frames {
				if !write(frame) {
					return nil
				}
			}
		case event, ok := <-events:
			if !ok {
				// the signal backend went away; the client reconnects and resubscribes
				write(errorEvent("", fmt.Errorf("realtime stream lost")))
				return nil
			}
			if !write(event) {
				return nil
			}
		}
	}
}
