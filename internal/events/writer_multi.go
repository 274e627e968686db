package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"golang.org/x/sync/errgroup"
)

// MultiWriter delivers every event to each underlying writer.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range m.writers {
		w := w
		g.Go(func() error {
			return w.Write(ctx, topic, e)
		})
	}
	return g.Wait()
}

func (m *MultiWriter) Close(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range m.writers {
		w := w
		g.Go(func() error {
			return w.Close(ctx)
		})
	}
	return g.Wait()
}
