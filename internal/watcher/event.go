package watcher

// Kind classifies a change event
type Kind int

// Change event kinds.
const (
	Created Kind = iota
	Modified
	Removed
	// Rescan asks the consumer to reconcile the whole root. The watcher
	// emits it when it may have missed events.
	Rescan
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Rescan:
		return "rescan"
	default:
		return "unknown"
	}
}

// Event is a change to one tracked file. Path is canonical (relative to
// the watched root, slash separated) and empty for Rescan.
type Event struct {
	Kind Kind
	Path string
}

// Batch is a group of coalesced events handed to the consumer in order.
// The consumer must call Done once every event has been applied.
type Batch struct {
	Events []Event
	ack    chan struct{}
}

// Done acknowledges the batch. It is safe to call on any batch, once.
func (b Batch) Done() {
	if b.ack != nil {
		close(b.ack)
	}
}
