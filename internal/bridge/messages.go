package bridge

// SetMessage is the payload accepted on <bed>/<actuator>/set.
// Direction is one of "extend", "retract", "stop" or "reset".
// DurationMS of zero requests the actuator's maximum run time.
type SetMessage struct {
	Direction  string `json:"direction"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

// StateMessage is published retained on <bed>/<actuator>/state after
// every state transition. RemainingMS is the time left until auto-stop,
// zero when not moving. TS is unix milliseconds.
type StateMessage struct {
	Actuator    string `json:"actuator"`
	State       string `json:"state"`
	RemainingMS int64  `json:"remaining_ms"`
	TS          int64  `json:"ts"`
}

// EStopMessage is the payload accepted on <bed>/estop. Engage true
// stops everything and latches the halt; false clears the latch.
type EStopMessage struct {
	Engage bool `json:"engage"`
}

// HaltedMessage is published retained on <bed>/halted whenever the
// halt latch changes.
type HaltedMessage struct {
	Halted bool  `json:"halted"`
	TS     int64 `json:"ts"`
}

// ErrorMessage is published on <bed>/errors for dropped or malformed
// input. Purely diagnostic.
type ErrorMessage struct {
	Topic     string `json:"topic,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	Error     string `json:"error"`
	TS        int64  `json:"ts"`
}
