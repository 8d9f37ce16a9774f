package agent

import "time"

// MessageRole tags a transcript entry.
type MessageRole string

const (
	MessageUser      MessageRole = "user"
	MessageAssistant MessageRole = "assistant"
	MessageSystem    MessageRole = "system"
)

// PlanningLabel is how shells caption assistant text that came with capability calls.
const PlanningLabel = "Planning Workspace Update"

// Activity strings shown while a turn runs.
const (
	ActivityReasoning = "Reasoning..."
	activityDrawing   = "Drawing: %s..."
)

// Message is a Display Message: what the user sees, as opposed to the
// history exchanged with the model.
type Message struct {
	Role     MessageRole `json:"role"`
	Content  string      `json:"content"`
	Planning bool        `json:"planning,omitempty"`
	At       time.Time   `json:"at"`
}

// Observer receives presentation updates while a turn runs. Activity("")
// signals that the turn finished.
type Observer interface {
	Message(Message)
	Activity(string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnMessage  func(Message)
	OnActivity func(string)
}

func (o ObserverFuncs) Message(m Message) {
	if o.OnMessage != nil {
		o.OnMessage(m)
	}
}

func (o ObserverFuncs) Activity(a string) {
	if o.OnActivity != nil {
		o.OnActivity(a)
	}
}
