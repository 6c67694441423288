package notification

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Service fans job lifecycle events out to in-process subscribers (the
// websocket handler, tests) and to registered notifiers. Publish never
// blocks the caller: a subscriber that cannot keep up loses events rather
// than stalling the orchestrator.
type Service interface {
	Publish(ctx context.Context, evt Event)
	Subscribe(buffer int) (<-chan Event, func())
}

type service struct {
	logger    zerolog.Logger
	notifiers []Notifier

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewService(logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &service{
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
		subs:      make(map[chan Event]struct{}),
	}
}

func (s *service) Publish(ctx context.Context, evt Event) {
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.logger.Warn().Str("job_id", evt.JobID).Msg("dropping event for slow subscriber")
		}
	}
	s.mu.Unlock()

	for _, n := range s.notifiers {
		if err := n.Notify(ctx, evt); err != nil {
			s.logger.Warn().
				Err(err).
				Str("job_id", evt.JobID).
				Str("status", string(evt.Status)).
				Msg("failed to deliver notification")
		}
	}
}

// Subscribe registers a buffered event channel. The returned cancel func
// unregisters and closes it.
func (s *service) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
