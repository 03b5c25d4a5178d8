package eventstream

import "context"

// Publisher publishes scalar events to an event stream backend.
type Publisher interface {
	PublishScalars(ctx context.Context, event *ScalarsEvent) error
	Close() error
}
