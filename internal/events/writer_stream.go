package events

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// StreamWriter fans events out to in-process subscribers, backing the live
// event stream endpoint. A subscriber that cannot keep up has events dropped
// rather than blocking delivery to the others.
type StreamWriter struct {
	mu          sync.RWMutex
	subscribers map[string]chan cloudevents.Event
	closed      bool
}

func NewStreamWriter() *StreamWriter {
	return &StreamWriter{subscribers: make(map[string]chan cloudevents.Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away.
func (s *StreamWriter) Subscribe() (<-chan cloudevents.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan cloudevents.Event, subscriberBufferSize)
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *StreamWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			// slow subscriber, drop
		}
	}
	return nil
}

func (s *StreamWriter) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	return nil
}
