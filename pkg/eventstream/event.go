package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeScalarsLogged is emitted after a batch of metric scalars
	// is recorded for a run.
	EventTypeScalarsLogged = "distill.scalars.logged"
)

// ScalarsEvent is a transport-neutral payload for one batch of logged
// metric scalars.
type ScalarsEvent struct {
	SchemaVersion int                `json:"schema_version"`
	EventType     string             `json:"event_type"`
	EventID       string             `json:"event_id"`
	EmittedAt     time.Time          `json:"emitted_at"`
	RunID         string             `json:"run_id"`
	Step          int                `json:"step"`
	Scalars       map[string]float64 `json:"scalars"`
}
