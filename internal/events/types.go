package events

// Event enumerates the gateway's pub/sub topics.
type Event string

const (
	EventOrderUpdate    Event = "order.update"
	EventPositionChange Event = "position.change"
	EventTerminalReady  Event = "terminal.ready"
)
