package events

import (
	"context"
	"encoding/json"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("emit", func() {
		It("delivers a job event to the writer", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			err := ep.EmitJob(context.TODO(), JobStartedKind, JobEvent{
				JobID:    "job-1",
				Name:     "report:build",
				TenantID: "t1",
				OrgID:    "o1",
				Status:   "active",
			})
			Expect(err).To(BeNil())

			Eventually(w.Len, "2s", "20ms").Should(Equal(1))

			e := w.Message(0)
			Expect(e.Type()).To(Equal(JobStartedKind))
			Expect(e.Source()).To(Equal(defaultSource))

			var event JobEvent
			Expect(json.Unmarshal(e.Data(), &event)).To(BeNil())
			Expect(event.JobID).To(Equal("job-1"))
			Expect(event.Name).To(Equal("report:build"))

			_ = ep.Close()
		})

		It("preserves delivery order", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			for _, kind := range []string{JobStartedKind, JobStatsUpdatedKind, JobCompletedKind} {
				err := ep.EmitJob(context.TODO(), kind, JobEvent{JobID: "job-1"})
				Expect(err).To(BeNil())
			}

			Eventually(w.Len, "2s", "20ms").Should(Equal(3))
			Expect(w.Message(0).Type()).To(Equal(JobStartedKind))
			Expect(w.Message(1).Type()).To(Equal(JobStatsUpdatedKind))
			Expect(w.Message(2).Type()).To(Equal(JobCompletedKind))

			_ = ep.Close()
		})

		It("honors a custom topic", func() {
			w := newTestWriter()
			ep := NewEventProducer(w, WithOutputTopic("jobfleet.test"))

			err := ep.EmitJob(context.TODO(), JobStartedKind, JobEvent{JobID: "job-1"})
			Expect(err).To(BeNil())

			Eventually(w.Len, "2s", "20ms").Should(Equal(1))
			Expect(w.Topic(0)).To(Equal("jobfleet.test"))

			_ = ep.Close()
		})

		It("rejects a write after close instead of blocking", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)
			Expect(ep.Close()).To(BeNil())

			done := make(chan error, 1)
			go func() {
				done <- ep.EmitJob(context.TODO(), JobStartedKind, JobEvent{JobID: "job-1"})
			}()

			Eventually(done, "2s").Should(Receive(MatchError(ErrProducerClosed)))
		})
	})
})

var _ = Describe("stream writer", Ordered, func() {
	It("fans an event out to every subscriber", func() {
		s := NewStreamWriter()

		ch1, cancel1 := s.Subscribe()
		ch2, cancel2 := s.Subscribe()
		defer cancel1()
		defer cancel2()

		e := cloudevents.NewEvent()
		e.SetID("1")
		e.SetSource(defaultSource)
		e.SetType(JobStartedKind)

		Expect(s.Write(context.TODO(), defaultTopic, e)).To(BeNil())

		Eventually(ch1, "1s").Should(Receive())
		Eventually(ch2, "1s").Should(Receive())
	})

	It("drops events for a full subscriber instead of blocking", func() {
		s := NewStreamWriter()

		ch, cancel := s.Subscribe()
		defer cancel()

		e := cloudevents.NewEvent()
		e.SetID("1")
		e.SetSource(defaultSource)
		e.SetType(JobStartedKind)

		for i := 0; i < subscriberBufferSize+10; i++ {
			Expect(s.Write(context.TODO(), defaultTopic, e)).To(BeNil())
		}
		Expect(len(ch)).To(Equal(subscriberBufferSize))
	})

	It("stops delivering after cancel", func() {
		s := NewStreamWriter()

		ch, cancel := s.Subscribe()
		cancel()

		e := cloudevents.NewEvent()
		e.SetID("1")
		e.SetSource(defaultSource)
		e.SetType(JobStartedKind)
		Expect(s.Write(context.TODO(), defaultTopic, e)).To(BeNil())

		// channel is closed and empty
		_, open := <-ch
		Expect(open).To(BeFalse())
	})
})

type testwriter struct {
	mu       sync.Mutex
	messages []cloudevents.Event
	topics   []string
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *testwriter) Message(i int) cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[i]
}

func (t *testwriter) Topic(i int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topics[i]
}
