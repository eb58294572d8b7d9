package healer

import "fmt"

// Tier is a self-healing escalation level
type Tier int

const (
	Normal Tier = iota
	Tier1
	Tier2
	Tier3
	Exhausted
)

var tierNames = [...]string{"normal", "tier1", "tier2", "tier3", "exhausted"}

func (t Tier) String() string {
	if t < Normal || t > Exhausted {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText renders the tier by name
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name
func (t *Tier) UnmarshalText(b []byte) error {
	for i, name := range tierNames {
		if name == string(b) {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", string(b))
}

// Elevated reports whether the tier has an open escalation episode
func (t Tier) Elevated() bool {
	return t != Normal
}

// Action is the recovery step taken on entry to a tier
type Action string

const (
	ActionRestart        Action = "restart"
	ActionDeepRestart    Action = "deep_restart"
	ActionCascadeRestart Action = "cascade_restart"
	ActionEscalate       Action = "escalate"
	ActionNone           Action = "none"
)

type step struct {
	next   Tier
	action Action
}

// escalation is the failure side of the state machine. Every elevated tier
// returns to Normal once the success threshold is met; Exhausted has no
// failure transition.
var escalation = map[Tier]step{
	Normal: {Tier1, ActionRestart},
	Tier1:  {Tier2, ActionDeepRestart},
	Tier2:  {Tier3, ActionCascadeRestart},
	Tier3:  {Exhausted, ActionEscalate},
}

// Next returns the tier and action that follow t on sustained failure
func Next(t Tier) (Tier, Action, bool) {
	s, ok := escalation[t]
	return s.next, s.action, ok
}
