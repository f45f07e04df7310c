package state

// IsTransitionAllowed reports whether a conversation may move from one state to another.
// Every onboarding action is reachable from every known state, so only unknown targets are
// rejected. A corrupted source state may still fall back to StateAwaitingStart.
func IsTransitionAllowed(from, to State) bool {
	if to == StateAwaitingStart {
		return true
	}
	return from.Known() && to.Known()
}
