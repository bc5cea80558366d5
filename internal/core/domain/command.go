package domain

import "fmt"

// OverrideCommand is a manual override coming from a message transport.
type OverrideCommand interface {
	ActorRequest
	OverrideCommand() string
}

type OverrideCommandMixIn struct {
	ActorRequestMixIn
}

func (r OverrideCommandMixIn) OverrideCommand() string {
	return fmt.Sprintf("%T", r)
}

type SetOverrideCommand struct {
	OverrideCommandMixIn
	// Mode is a name or a numeric code 0-4
	Mode string
	// Duration is HH:MM; empty means the last duration set over the bus
	Duration             string
	GridChargePowerKW    float64
	GridChargePowerGiven bool
}

type SetOverrideDurationCommand struct {
	OverrideCommandMixIn
	Duration string
}

type SetOverridePowerCommand struct {
	OverrideCommandMixIn
	PowerW int
}

type ClearOverrideCommand struct {
	OverrideCommandMixIn
}

type OverrideCommandResponse struct {
	ActorResponseMixIn
	Override OverrideState
}

// ensure interface compliance
var _ OverrideCommand = (*SetOverrideCommand)(nil)
var _ OverrideCommand = (*SetOverrideDurationCommand)(nil)
var _ OverrideCommand = (*SetOverridePowerCommand)(nil)
var _ OverrideCommand = (*ClearOverrideCommand)(nil)
