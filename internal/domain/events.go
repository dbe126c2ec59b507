package domain

// EventType names the engine events published on the bus.
type EventType string

const (
	EventOrderSubmitted       EventType = "order_submitted"
	EventOrderCancelled       EventType = "order_cancelled"
	EventOrderModified        EventType = "order_modified"
	EventOrderStatusUpdated   EventType = "order_status_updated"
	EventRiskAlert            EventType = "risk_alert"
	EventProtectiveAction     EventType = "protective_action"
	EventEmergencyTriggered   EventType = "emergency_shutdown_triggered"
	EventEmergencyDeactivated EventType = "emergency_shutdown_deactivated"
)

// Event is the envelope published to the EventBus.
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}
