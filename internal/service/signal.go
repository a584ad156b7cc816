package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/cozykost"
)

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func (s *SignalService) Publish(ctx context.Context, channel string, event cozykost.Event) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return errors.Wrap(err, "failed to publish event")
	}

	return nil
}

// EventStream delivers realtime events until closed.
type EventStream interface {
	Events() <-chan cozykost.Event
	Close() error
}

// Listener streams the events published for a set of paths.
type Listener struct {
	pubsub *redis.PubSub
	events chan cozykost.Event
}

// Listen subscribes to paths and returns once the subscription is active, so every
// event published after Listen returns is delivered.
func (s *SignalService) Listen(ctx context.Context, paths []string) (EventStream, error) {
	channels := make([]string, 0, len(paths))
	for _, path := range paths {
		channels = append(channels, cozykost.SignalChannel(path))
	}

	pubsub := s.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "failed to subscribe")
	}

	l := &Listener{
		pubsub: pubsub,
		events: make(chan cozykost.Event, 16),
	}
	go l.run(ctx)
	return l, nil
}

// Events is closed when the listener is closed or the connection to redis is lost.
func (l *Listener) Events() <-chan cozykost.Event {
	return l.events
}

func (l *Listener) Close() error {
	return l.pubsub.Close()
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.events)

	for msg := range l.pubsub.Channel() {
		var event cozykost.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			slog.WarnContext(
				ctx, "dropping malformed event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
				slog.String("module", "signal"),
			)
			continue
		}

		select {
		case l.events <- event:
		case <-ctx.Done():
			return
		}
	}
}
