package eventstream_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quillml/distill/pkg/eventstream"
	"github.com/quillml/distill/pkg/eventstream/nop"
)

type capturePublisher struct {
	events []*eventstream.ScalarsEvent
}

func (c *capturePublisher) PublishScalars(_ context.Context, event *eventstream.ScalarsEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

var _ = Describe("Sink", func() {
	It("wraps scalars into versioned run events", func() {
		pub := &capturePublisher{}
		sink := eventstream.Sink(pub, "run-1")

		Expect(sink.LogScalars(context.Background(), 7, map[string]float64{"loss": 0.5})).To(Succeed())

		Expect(pub.events).To(HaveLen(1))
		event := pub.events[0]
		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventType).To(Equal(eventstream.EventTypeScalarsLogged))
		Expect(event.EventID).NotTo(BeEmpty())
		Expect(event.RunID).To(Equal("run-1"))
		Expect(event.Step).To(Equal(7))
		Expect(event.Scalars).To(HaveKeyWithValue("loss", 0.5))
	})

	It("copies the scalar map so later mutation cannot race the publish", func() {
		pub := &capturePublisher{}
		sink := eventstream.Sink(pub, "run-1")

		scalars := map[string]float64{"loss": 1}
		Expect(sink.LogScalars(context.Background(), 1, scalars)).To(Succeed())
		scalars["loss"] = 2

		Expect(pub.events[0].Scalars["loss"]).To(Equal(1.0))
	})
})

var _ = Describe("Nop publisher", func() {
	It("accepts events and rejects nil", func() {
		pub := nop.NewPublisher()
		Expect(pub.PublishScalars(context.Background(), &eventstream.ScalarsEvent{})).To(Succeed())
		Expect(pub.PublishScalars(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
		Expect(pub.Close()).To(Succeed())
	})
})
