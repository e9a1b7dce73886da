package timer

import "fmt"

// Status is the lifecycle state of a timer.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText lets Status render as its name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Elapsed is a ripple-carry counter: Ms in [0,100), S and M in [0,60), H unbounded.
type Elapsed struct {
	Ms int `json:"ms"`
	S  int `json:"s"`
	M  int `json:"m"`
	H  int `json:"h"`
}

// Tick advances the counter by one quantum.
func (e Elapsed) Tick() Elapsed {
	e.Ms++
	if e.Ms == 100 {
		e.Ms = 0
		e.S++
	}
	if e.S == 60 {
		e.S = 0
		e.M++
	}
	if e.M == 60 {
		e.M = 0
		e.H++
	}
	return e
}

// Advance applies n ticks.
func (e Elapsed) Advance(n int) Elapsed {
	for i := 0; i < n; i++ {
		e = e.Tick()
	}
	return e
}

// IsZero reports whether no time has been counted.
func (e Elapsed) IsZero() bool {
	return e == Elapsed{}
}

// String renders the counter the way the timer display shows it: two-digit
// fields, with the hour field left out while it is zero.
func (e Elapsed) String() string {
	if e.H == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", e.M, e.S, e.Ms)
	}
	return fmt.Sprintf("%02d:%02d:%02d:%02d", e.H, e.M, e.S, e.Ms)
}

// State is a snapshot of a timer.
type State struct {
	Status  Status  `json:"status"`
	Elapsed Elapsed `json:"elapsed"`
}
