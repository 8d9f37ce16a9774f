package schema

// Stream event types published to presentation shells.
const (
	EventMessage       = "message"
	EventActivity      = "activity"
	EventProcessing    = "processing"
	EventGraphChanged  = "graph_changed"
	EventDiagnostics   = "diagnostics"
	EventTurnStarted   = "turn_started"
	EventTurnCompleted = "turn_completed"
)

// StopReason explains why an agent turn ended.
type StopReason string

const (
	StopCompleted  StopReason = "completed"
	StopRoundLimit StopReason = "round_limit"
	StopModelError StopReason = "model_error"
)
