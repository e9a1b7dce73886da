package timer

import (
	"github.com/mcdev12/relay/go/internal/pubsub"
)

// Action is the verb carried by a control message.
type Action string

const (
	ActionRun    Action = "run"
	ActionReset  Action = "reset"
	ActionStop   Action = "stop"
	ActionResume Action = "resume"
)

// ControlMessageName is the event name used for every timer control message.
const ControlMessageName = "timer"

// ControlPayload is the data of a control message: {"action": "..."}.
type ControlPayload struct {
	Action Action `json:"action"`
}

// NewControlMessage builds the control message for action.
func NewControlMessage(action Action) pubsub.Message {
	msg, _ := pubsub.NewMessage(ControlMessageName, ControlPayload{Action: action})
	return msg
}

// ParseControl extracts a recognised action from msg. Messages that do not
// decode or carry an unknown action report ok=false and must be ignored.
func ParseControl(msg pubsub.Message) (Action, bool) {
	if len(msg.Data) == 0 {
		return "", false
	}
	var payload ControlPayload
	if err := msg.Decode(&payload); err != nil {
		return "", false
	}
	switch payload.Action {
	case ActionRun, ActionReset, ActionStop, ActionResume:
		return payload.Action, true
	default:
		return "", false
	}
}
