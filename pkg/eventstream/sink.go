package eventstream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quillml/distill/pkg/metric"
)

// Sink adapts a publisher into a metric scalar sink bound to one run.
func Sink(pub Publisher, runID string) metric.Sink {
	return publisherSink{pub: pub, runID: runID}
}

type publisherSink struct {
	pub   Publisher
	runID string
}

func (s publisherSink) LogScalars(ctx context.Context, step int, scalars map[string]float64) error {
	copied := make(map[string]float64, len(scalars))
	for k, v := range scalars {
		copied[k] = v
	}
	return s.pub.PublishScalars(ctx, &ScalarsEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeScalarsLogged,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		RunID:         s.runID,
		Step:          step,
		Scalars:       copied,
	})
}
