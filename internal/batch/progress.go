package batch

// EventType enumerates the progress events the executor emits.
type EventType int

const (
	BatchStarted EventType = iota
	BatchProgress
	BatchCompleted
)

func (t EventType) String() string {
	switch t {
	case BatchStarted:
		return "batch_started"
	case BatchProgress:
		return "batch_progress"
	case BatchCompleted:
		return "batch_completed"
	default:
		return ""
	}
}

// Event is a structured progress notification. Events are advisory: dropping
// every one of them must never change an operation's outcome.
type Event struct {
	Type      EventType
	Batch     int // 1-based batch number
	Batches   int // total number of batches
	Completed int // items completed so far across all batches
	Total     int // total items
	Succeeded int
	Failed    int
	Message   string
}

// ProgressSink receives progress events. Implementations must be safe for
// concurrent use and must not block.
type ProgressSink interface {
	Publish(Event)
}

// NoopSink discards all events. The zero value is ready to use.
type NoopSink struct{}

func (NoopSink) Publish(Event) {}
