package transaction

// ProjectState derives a transaction's state from its event sequence.
//
// The projection is pure: replaying the same ordered events always yields
// the same state, independent of the append path that produced them. The
// result is monotonic: once a terminal event lands, later events (a
// refunded or disputed annotation on a completed charge, or any custom
// event type) never move the state backwards.
//
// Mapping:
//
//	created            -> pending
//	captured           -> completed
//	failed             -> failed    (only while pending)
//	canceled           -> canceled  (only while pending)
//	authorized, refunded, disputed, custom -> no state change
func ProjectState(events []*Event) State {
	state := StatePending

	for _, e := range events {
		if state.Terminal() {
			break
		}
		switch e.Type {
		case EventCreated:
			state = StatePending
		case EventCaptured:
			state = StateCompleted
		case EventFailed:
			state = StateFailed
		case EventCanceled:
			state = StateCanceled
		}
	}

	return state
}

// Replayable reports whether appending next to a history currently in
// state is meaningful. It rejects settlement events after the transaction
// reached a terminal state, with one exception: refunded and disputed
// annotations are recorded on completed charges without reopening them.
func Replayable(state State, next EventType) bool {
	if !state.Terminal() {
		return true
	}
	if state == StateCompleted && (next == EventRefunded || next == EventDisputed) {
		return true
	}
	// Custom annotations are always recordable.
	return !next.Known()
}
