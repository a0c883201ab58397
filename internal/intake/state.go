package intake

// State is the position of one inbound message in the dispatch pipeline.
type State int

const (
	StateReceived State = iota
	StateAwaitingTaskSlot
	StateAwaitingClassification
	StateAwaitingEnhancementSlot
	StateStoring
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateAwaitingTaskSlot:
		return "awaiting_task_slot"
	case StateAwaitingClassification:
		return "awaiting_classification"
	case StateAwaitingEnhancementSlot:
		return "awaiting_enhancement_slot"
	case StateStoring:
		return "storing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
